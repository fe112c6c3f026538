package memory

import "context"

// Hit is one nearest-neighbor result from an Index.
type Hit struct {
	ID      string
	Score   float32
	Payload map[string]string
}

// Index is the vector-search backend behind the Store: a qdrant collection
// per namespace in production, an in-process cosine index for tests and
// offline runs. Implementations must never leak hits across namespaces.
type Index interface {
	// EnsureNamespace prepares storage for a namespace with the given
	// vector dimension. Idempotent.
	EnsureNamespace(ctx context.Context, namespace string, dimension int) error

	// Upsert stores one vector with its payload under a namespace.
	Upsert(ctx context.Context, namespace, id string, vector []float32, payload map[string]string) error

	// Search returns up to topK hits from the namespace, best first.
	// An unknown or empty namespace yields no hits and no error.
	Search(ctx context.Context, namespace string, vector []float32, topK int) ([]Hit, error)
}

package memory

import (
	"context"
	"math"
	"sort"
	"sync"
)

type point struct {
	id      string
	vector  []float32
	payload map[string]string
}

// InMemoryIndex is a process-local cosine-similarity Index. It backs tests
// and runs without a qdrant instance.
type InMemoryIndex struct {
	mu         sync.RWMutex
	namespaces map[string][]point
}

// NewInMemoryIndex returns an empty index.
func NewInMemoryIndex() *InMemoryIndex {
	return &InMemoryIndex{namespaces: make(map[string][]point)}
}

// EnsureNamespace creates the namespace bucket if missing.
func (ix *InMemoryIndex) EnsureNamespace(_ context.Context, namespace string, _ int) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.namespaces[namespace]; !ok {
		ix.namespaces[namespace] = nil
	}
	return nil
}

// Upsert appends the vector to its namespace bucket.
func (ix *InMemoryIndex) Upsert(_ context.Context, namespace, id string, vector []float32, payload map[string]string) error {
	cp := make([]float32, len(vector))
	copy(cp, vector)
	pl := make(map[string]string, len(payload))
	for k, v := range payload {
		pl[k] = v
	}
	ix.mu.Lock()
	ix.namespaces[namespace] = append(ix.namespaces[namespace], point{id: id, vector: cp, payload: pl})
	ix.mu.Unlock()
	return nil
}

// Search ranks the namespace's points by cosine similarity, best first.
func (ix *InMemoryIndex) Search(_ context.Context, namespace string, vector []float32, topK int) ([]Hit, error) {
	ix.mu.RLock()
	points := ix.namespaces[namespace]
	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, Hit{
			ID:      p.id,
			Score:   cosine(vector, p.vector),
			Payload: p.payload,
		})
	}
	ix.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

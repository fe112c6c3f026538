package vectorstore

import (
	"context"

	"github.com/nidhogg/aerosight/internal/memory"
)

// IndexAdapter bridges a qdrant Client to the memory.Index interface.
type IndexAdapter struct {
	client *Client
}

// NewIndexAdapter wraps a Client for use as the memory store's index.
func NewIndexAdapter(c *Client) *IndexAdapter {
	return &IndexAdapter{client: c}
}

func (a *IndexAdapter) EnsureNamespace(ctx context.Context, namespace string, dimension int) error {
	return a.client.EnsureCollection(ctx, namespace, uint64(dimension))
}

func (a *IndexAdapter) Upsert(ctx context.Context, namespace, id string, vector []float32, payload map[string]string) error {
	return a.client.Upsert(ctx, namespace, id, vector, payload)
}

func (a *IndexAdapter) Search(ctx context.Context, namespace string, vector []float32, topK int) ([]memory.Hit, error) {
	results, err := a.client.Search(ctx, namespace, vector, uint64(topK))
	if err != nil {
		return nil, err
	}
	hits := make([]memory.Hit, len(results))
	for i, r := range results {
		hits[i] = memory.Hit{ID: r.ID, Score: r.Score, Payload: r.Payload}
	}
	return hits, nil
}

package embedding

import (
	"context"
	"sync"
)

// APIProvider implements Provider against an OpenAI-compatible /embeddings
// endpoint. Texts are embedded in a single batched request.
type APIProvider struct {
	endpoint string
	model    string
	apiKey   string

	mu        sync.Mutex
	dimension int // configured default, replaced by the first observed result
}

// NewAPIProvider creates an APIProvider from cfg.
func NewAPIProvider(cfg Config) *APIProvider {
	return &APIProvider{
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		apiKey:    cfg.APIKey,
		dimension: cfg.Dimension,
	}
}

// Embed sends all texts in one request and returns their embeddings in order.
func (p *APIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	req := struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}{Model: p.model, Input: texts}

	if err := postJSON(ctx, p.endpoint+"/embeddings", headers, req, &result); err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(result.Data))
	for i, d := range result.Data {
		embeddings[i] = d.Embedding
	}
	if len(embeddings) > 0 && len(embeddings[0]) > 0 {
		p.mu.Lock()
		p.dimension = len(embeddings[0])
		p.mu.Unlock()
	}
	return embeddings, nil
}

// Dimension returns the vector dimension: the observed size once a request
// has succeeded, the configured default before that.
func (p *APIProvider) Dimension() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dimension
}

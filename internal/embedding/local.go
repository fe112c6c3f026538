package embedding

import (
	"context"
	"sync"
)

// LocalProvider implements Provider against an Ollama-compatible endpoint,
// which embeds one prompt per request.
type LocalProvider struct {
	endpoint string
	model    string

	mu        sync.Mutex
	dimension int
}

// NewLocalProvider creates a LocalProvider from cfg.
func NewLocalProvider(cfg Config) *LocalProvider {
	return &LocalProvider{
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}
}

// Embed embeds each text with a separate request, preserving order.
func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, 0, len(texts))
	for _, text := range texts {
		var result struct {
			Embedding []float32 `json:"embedding"`
		}
		req := struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}{Model: p.model, Prompt: text}

		if err := postJSON(ctx, p.endpoint+"/api/embeddings", nil, req, &result); err != nil {
			return nil, err
		}
		embeddings = append(embeddings, result.Embedding)
	}

	if len(embeddings[0]) > 0 {
		p.mu.Lock()
		p.dimension = len(embeddings[0])
		p.mu.Unlock()
	}
	return embeddings, nil
}

// Dimension returns the observed vector dimension, or the configured default
// before the first successful request.
func (p *LocalProvider) Dimension() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dimension
}

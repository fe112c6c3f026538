// Package memory is the retrieval-augmented long-term memory of a mission:
// textual observations embedded into vectors and recalled by semantic
// similarity. Records are grouped into scene namespaces; a query against one
// namespace never sees another's records, which is what lets scenes keep
// independent search histories.
package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/aerosight/internal/embedding"
	"go.uber.org/zap"
)

// ErrMemoryService marks embedding or index failures. Distinct from a
// genuine empty recall: callers report it, they do not treat it as
// "no memories".
var ErrMemoryService = errors.New("memory: service unavailable")

const payloadTextKey = "text"

// Record is one remembered observation. Records are immutable; superseding
// knowledge is ingested as a new record.
type Record struct {
	ID        string
	Namespace string
	Text      string
	Score     float32
	Metadata  map[string]string
}

// Store embeds text and delegates vector storage to an Index.
type Store struct {
	embedder embedding.Provider
	index    Index
	logger   *zap.Logger
}

// NewStore creates a Store over the given embedding provider and index.
func NewStore(embedder embedding.Provider, index Index, logger *zap.Logger) *Store {
	return &Store{embedder: embedder, index: index, logger: logger}
}

// Ingest embeds text and stores it under namespace. Duplicate ingests create
// distinct records; deduplication is the caller's concern. Returns the new
// record's id.
func (s *Store) Ingest(ctx context.Context, namespace, text string, metadata map[string]string) (string, error) {
	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return "", fmt.Errorf("%w: embed: %v", ErrMemoryService, err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return "", fmt.Errorf("%w: empty embedding result", ErrMemoryService)
	}
	vec := vectors[0]

	if err := s.index.EnsureNamespace(ctx, namespace, len(vec)); err != nil {
		return "", fmt.Errorf("%w: ensure namespace %s: %v", ErrMemoryService, namespace, err)
	}

	id := uuid.New().String()
	payload := make(map[string]string, len(metadata)+2)
	for k, v := range metadata {
		payload[k] = v
	}
	payload[payloadTextKey] = text
	payload["ingested_at"] = time.Now().UTC().Format(time.RFC3339)

	if err := s.index.Upsert(ctx, namespace, id, vec, payload); err != nil {
		return "", fmt.Errorf("%w: upsert: %v", ErrMemoryService, err)
	}
	s.logger.Debug("memory record ingested",
		zap.String("namespace", namespace),
		zap.String("id", id))
	return id, nil
}

// Query embeds the query text and returns up to topK records from the
// namespace, nearest first. An empty namespace yields an empty slice, not
// an error.
func (s *Store) Query(ctx context.Context, namespace, text string, topK int) ([]Record, error) {
	if topK <= 0 {
		topK = 3
	}
	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrMemoryService, err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: empty embedding result", ErrMemoryService)
	}

	hits, err := s.index.Search(ctx, namespace, vectors[0], topK)
	if err != nil {
		return nil, fmt.Errorf("%w: search %s: %v", ErrMemoryService, namespace, err)
	}

	records := make([]Record, 0, len(hits))
	for _, h := range hits {
		rec := Record{
			ID:        h.ID,
			Namespace: namespace,
			Text:      h.Payload[payloadTextKey],
			Score:     h.Score,
			Metadata:  make(map[string]string, len(h.Payload)),
		}
		for k, v := range h.Payload {
			if k == payloadTextKey {
				continue
			}
			rec.Metadata[k] = v
		}
		records = append(records, rec)
	}
	return records, nil
}

package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"
)

// stubEmbedder maps known texts to fixed vectors so similarity ranking is
// fully deterministic.
type stubEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := s.vectors[t]
		if !ok {
			return nil, fmt.Errorf("no stub vector for %q", t)
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) Dimension() int { return 3 }

func newTestStore(t *testing.T, emb *stubEmbedder) *Store {
	t.Helper()
	return NewStore(emb, NewInMemoryIndex(), zap.NewNop())
}

func TestIngestAndQueryNearestFirst(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{
		"red backpack at ridge": {1, 0, 0},
		"searched the east lot": {0, 1, 0},
		"blue tarp near creek":  {0.9, 0.1, 0},
		"anything red?":         {1, 0.05, 0},
	}}
	store := newTestStore(t, emb)
	ctx := context.Background()

	for _, text := range []string{"red backpack at ridge", "searched the east lot", "blue tarp near creek"} {
		if _, err := store.Ingest(ctx, "scene-a", text, map[string]string{"status": "clue"}); err != nil {
			t.Fatalf("Ingest(%q): %v", text, err)
		}
	}

	records, err := store.Query(ctx, "scene-a", "anything red?", 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Text != "red backpack at ridge" {
		t.Errorf("nearest record = %q, want the red backpack clue", records[0].Text)
	}
	if records[0].Score < records[1].Score {
		t.Errorf("results not nearest-first: %v then %v", records[0].Score, records[1].Score)
	}
	if records[0].Metadata["status"] != "clue" {
		t.Errorf("metadata lost: %v", records[0].Metadata)
	}
}

func TestNamespaceIsolation(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{
		"clue in scene A": {1, 0, 0},
		"clue in scene B": {1, 0, 0}, // identical vector: would rank first if leaked
		"any clues?":      {1, 0, 0},
	}}
	store := newTestStore(t, emb)
	ctx := context.Background()

	idA, err := store.Ingest(ctx, "scene-a", "clue in scene A", nil)
	if err != nil {
		t.Fatal(err)
	}
	idB, err := store.Ingest(ctx, "scene-b", "clue in scene B", nil)
	if err != nil {
		t.Fatal(err)
	}

	recordsA, err := store.Query(ctx, "scene-a", "any clues?", 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range recordsA {
		if r.ID == idB {
			t.Fatalf("scene-a query returned scene-b record %s", r.ID)
		}
	}
	if len(recordsA) != 1 || recordsA[0].ID != idA {
		t.Errorf("scene-a query = %+v, want exactly its own record", recordsA)
	}

	recordsB, err := store.Query(ctx, "scene-b", "any clues?", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recordsB) != 1 || recordsB[0].ID != idB {
		t.Errorf("scene-b query = %+v, want exactly its own record", recordsB)
	}
}

func TestQueryEmptyNamespace(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}
	store := newTestStore(t, emb)

	records, err := store.Query(context.Background(), "never-seen", "q", 5)
	if err != nil {
		t.Fatalf("empty namespace must not error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records from empty namespace, want 0", len(records))
	}
}

func TestDuplicateIngestsCreateDistinctRecords(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{"same clue": {0, 1, 0}}}
	store := newTestStore(t, emb)
	ctx := context.Background()

	id1, err := store.Ingest(ctx, "scene-a", "same clue", nil)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := store.Ingest(ctx, "scene-a", "same clue", nil)
	if err != nil {
		t.Fatal(err)
	}
	if id1 == id2 {
		t.Error("duplicate ingest reused a record id")
	}
	records, err := store.Query(ctx, "scene-a", "same clue", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Errorf("got %d records, want 2 distinct", len(records))
	}
}

func TestEmbedderFailureIsMemoryServiceError(t *testing.T) {
	emb := &stubEmbedder{err: errors.New("backend down")}
	store := newTestStore(t, emb)

	if _, err := store.Ingest(context.Background(), "scene-a", "x", nil); !errors.Is(err, ErrMemoryService) {
		t.Errorf("Ingest error = %v, want ErrMemoryService", err)
	}
	if _, err := store.Query(context.Background(), "scene-a", "x", 3); !errors.Is(err, ErrMemoryService) {
		t.Errorf("Query error = %v, want ErrMemoryService", err)
	}
}

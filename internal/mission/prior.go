package mission

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/nidhogg/aerosight/internal/memory"
	"go.uber.org/zap"
)

// PriorEntry is one line of the static prior-knowledge set: a labeled
// location known before launch. Loaded read-only at mission start.
type PriorEntry struct {
	Label          string  `json:"label"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AltitudeMeters float64 `json:"altitude_meters,omitempty"`
}

func (p PriorEntry) summary() string {
	return fmt.Sprintf("%s at %.6f, %.6f", p.Label, p.Latitude, p.Longitude)
}

// LoadPriorKnowledge parses a JSON-lines prior-knowledge file. Blank lines
// are skipped; a malformed line fails the load rather than silently
// dropping data.
func LoadPriorKnowledge(path string) ([]PriorEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open prior knowledge: %w", err)
	}
	defer f.Close()

	var entries []PriorEntry
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var e PriorEntry
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return nil, fmt.Errorf("prior knowledge line %d: %w", line, err)
		}
		if e.Label == "" {
			return nil, fmt.Errorf("prior knowledge line %d: missing label", line)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read prior knowledge: %w", err)
	}
	return entries, nil
}

// IngestPriors loads the prior entries into the scene's search map so the
// planner can recall them alongside its own observations. Returns the
// entry summaries for the system prompt.
func IngestPriors(ctx context.Context, store *memory.Store, scene string, entries []PriorEntry, logger *zap.Logger) ([]string, error) {
	summaries := make([]string, 0, len(entries))
	for _, e := range entries {
		metadata := map[string]string{
			"source":    "prior",
			"latitude":  fmt.Sprintf("%.6f", e.Latitude),
			"longitude": fmt.Sprintf("%.6f", e.Longitude),
		}
		if _, err := store.Ingest(ctx, scene, e.summary(), metadata); err != nil {
			return nil, fmt.Errorf("ingest prior %q: %w", e.Label, err)
		}
		summaries = append(summaries, e.summary())
	}
	logger.Info("prior knowledge loaded", zap.String("scene", scene), zap.Int("entries", len(entries)))
	return summaries, nil
}

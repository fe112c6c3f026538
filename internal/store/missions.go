package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nidhogg/aerosight/internal/mission"
)

// MissionRow is one persisted mission run.
type MissionRow struct {
	ID        string     `json:"id"`
	Scene     string     `json:"scene"`
	Goal      string     `json:"goal"`
	Outcome   string     `json:"outcome,omitempty"`
	Finding   string     `json:"finding,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// MissionStarted inserts the mission record at launch.
func (s *Store) MissionStarted(ctx context.Context, id, scene, goal string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO missions (id, scene, goal, started_at)
		VALUES ($1, $2, $3, now())`,
		id, scene, goal,
	)
	if err != nil {
		return fmt.Errorf("insert mission: %w", err)
	}
	return nil
}

// EntryAppended stores one transcript entry.
func (s *Store) EntryAppended(ctx context.Context, missionID string, e mission.Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal transcript entry: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO transcript_entries (id, mission_id, step, kind, entry, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)`,
		missionID, e.Step, string(e.Kind), payload, e.At,
	)
	if err != nil {
		return fmt.Errorf("append transcript entry: %w", err)
	}
	return nil
}

// MissionEnded seals the mission record with its outcome.
func (s *Store) MissionEnded(ctx context.Context, missionID string, outcome mission.Outcome, finding string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE missions
		SET outcome = $2, finding = $3, ended_at = now()
		WHERE id = $1`,
		missionID, string(outcome), finding,
	)
	if err != nil {
		return fmt.Errorf("seal mission: %w", err)
	}
	return nil
}

// GetMission retrieves one mission row.
func (s *Store) GetMission(ctx context.Context, id string) (*MissionRow, error) {
	var row MissionRow
	var outcome, finding *string
	err := s.db.QueryRow(ctx, `
		SELECT id, scene, goal, outcome, finding, started_at, ended_at
		FROM missions WHERE id = $1`, id,
	).Scan(&row.ID, &row.Scene, &row.Goal, &outcome, &finding, &row.StartedAt, &row.EndedAt)
	if err != nil {
		return nil, fmt.Errorf("get mission: %w", err)
	}
	if outcome != nil {
		row.Outcome = *outcome
	}
	if finding != nil {
		row.Finding = *finding
	}
	return &row, nil
}

// ListMissions returns recent missions, newest first.
func (s *Store) ListMissions(ctx context.Context, limit int) ([]MissionRow, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, scene, goal, outcome, finding, started_at, ended_at
		FROM missions
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	defer rows.Close()

	var out []MissionRow
	for rows.Next() {
		var row MissionRow
		var outcome, finding *string
		if err := rows.Scan(&row.ID, &row.Scene, &row.Goal, &outcome, &finding, &row.StartedAt, &row.EndedAt); err != nil {
			return nil, fmt.Errorf("scan mission: %w", err)
		}
		if outcome != nil {
			row.Outcome = *outcome
		}
		if finding != nil {
			row.Finding = *finding
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// GetTranscript retrieves a mission's transcript entries in event order.
func (s *Store) GetTranscript(ctx context.Context, missionID string) ([]mission.Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT entry
		FROM transcript_entries
		WHERE mission_id = $1
		ORDER BY created_at ASC, step ASC`, missionID)
	if err != nil {
		return nil, fmt.Errorf("get transcript: %w", err)
	}
	defer rows.Close()

	var entries []mission.Entry
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan transcript entry: %w", err)
		}
		var e mission.Entry
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("decode transcript entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

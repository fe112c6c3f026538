package mission

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nidhogg/aerosight/internal/geo"
	"github.com/nidhogg/aerosight/internal/reasoning"
)

// AgentState is the mutable flight-side state of one mission run. Only the
// orchestration loop and successful tool executions touch it; the loop's
// single-threaded drive serializes every write.
type AgentState struct {
	Pose    geo.Pose     `json:"pose"`
	GPS     geo.GeoPoint `json:"gps"`
	Home    geo.GeoPoint `json:"home"`
	Flying  bool         `json:"flying"`
	Steps   int          `json:"steps"`
	Done    bool         `json:"done"`
	Finding string       `json:"finding,omitempty"`
}

// AltitudeMeters returns height above the takeoff plane. Z grows downward,
// so altitude is its negation.
func (s *AgentState) AltitudeMeters() float64 { return -s.Pose.Position.Z }

// EntryKind distinguishes transcript entries.
type EntryKind string

const (
	EntryThought     EntryKind = "thought"
	EntryObservation EntryKind = "observation"
)

// Entry is one transcript line: either a planner thought with its requested
// calls, or the observation produced by one of those calls.
type Entry struct {
	Kind    EntryKind            `json:"kind"`
	Step    int                  `json:"step"`
	Thought string               `json:"thought,omitempty"`
	Calls   []reasoning.ToolCall `json:"calls,omitempty"`
	Call    *reasoning.ToolCall  `json:"call,omitempty"`
	Obs     *Observation         `json:"observation,omitempty"`
	At      time.Time            `json:"at"`
}

// Transcript is the ordered causal record of a run. Entries are appended in
// dispatch order and never rewritten.
type Transcript struct {
	entries []Entry
}

// AddThought records a planning step.
func (t *Transcript) AddThought(step int, thought string, calls []reasoning.ToolCall) {
	t.entries = append(t.entries, Entry{
		Kind:    EntryThought,
		Step:    step,
		Thought: thought,
		Calls:   calls,
		At:      time.Now(),
	})
}

// AddObservation records one tool result.
func (t *Transcript) AddObservation(step int, call reasoning.ToolCall, obs Observation) {
	c := call
	o := obs
	t.entries = append(t.entries, Entry{
		Kind: EntryObservation,
		Step: step,
		Call: &c,
		Obs:  &o,
		At:   time.Now(),
	})
}

// Entries returns a copy of the transcript so far.
func (t *Transcript) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of transcript entries.
func (t *Transcript) Len() int { return len(t.entries) }

// Messages rebuilds the planner conversation from the transcript: each
// thought becomes an assistant turn carrying its tool calls, each
// observation a tool turn addressed at its call ID.
func (t *Transcript) Messages() []reasoning.Message {
	msgs := make([]reasoning.Message, 0, len(t.entries))
	for _, e := range t.entries {
		switch e.Kind {
		case EntryThought:
			msgs = append(msgs, reasoning.Message{
				Role:      "assistant",
				Content:   e.Thought,
				ToolCalls: e.Calls,
			})
		case EntryObservation:
			msgs = append(msgs, reasoning.Message{
				Role:       "tool",
				Content:    renderObservation(e.Obs),
				ToolCallID: e.Call.ID,
			})
		}
	}
	return msgs
}

func renderObservation(obs *Observation) string {
	b, err := json.Marshal(obs)
	if err != nil {
		return fmt.Sprintf(`{"status":"failure","summary":"unrenderable observation: %v"}`, err)
	}
	return string(b)
}

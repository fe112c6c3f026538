package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Stub is a deterministic Service that replays a scripted sequence of
// Decisions. Used in tests and offline demo runs; once the script is
// exhausted it keeps returning empty no-op decisions.
type Stub struct {
	mu     sync.Mutex
	script []*Decision
	next   int
}

// NewStub creates a Stub replaying the given decisions in order.
func NewStub(script ...*Decision) *Stub {
	return &Stub{script: script}
}

func (s *Stub) ID() string   { return "stub" }
func (s *Stub) Name() string { return "scripted reasoner" }

// Decide returns the next scripted decision.
func (s *Stub) Decide(_ context.Context, _ *Request) (*Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.script) {
		return &Decision{Thought: "No further planned actions."}, nil
	}
	d := s.script[s.next]
	s.next++
	return d, nil
}

// ScriptedCall builds a ToolCall with JSON-encoded arguments, for
// assembling stub scripts.
func ScriptedCall(id, name string, args map[string]any) ToolCall {
	encoded := "{}"
	if len(args) > 0 {
		b, err := json.Marshal(args)
		if err != nil {
			panic(fmt.Sprintf("scripted call %s: %v", name, err))
		}
		encoded = string(b)
	}
	return ToolCall{
		ID:   id,
		Type: "function",
		Function: ToolCallFunction{
			Name:      name,
			Arguments: encoded,
		},
	}
}

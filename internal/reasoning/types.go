// Package reasoning produces planning Decisions for the orchestration loop.
// The loop depends only on the Service capability; concrete variants are an
// OpenAI-compatible remote, an Anthropic remote, and a deterministic Stub
// scripted for tests.
package reasoning

import (
	"context"
	"time"
)

// Service turns the mission transcript into the planner's next Decision.
type Service interface {
	ID() string
	Name() string
	Decide(ctx context.Context, req *Request) (*Decision, error)
}

// Request carries everything a reasoning backend needs for one decision.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Message is one turn of the planner conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Decision is the planner's structured output: a rationale plus zero or
// more ordered tool calls. Consumed once per loop iteration.
type Decision struct {
	Thought string     `json:"thought"`
	Calls   []ToolCall `json:"calls,omitempty"`
}

// Tool describes a callable tool to the reasoning backend.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the JSON-schema shaped function declaration.
type ToolFunction struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

// ToolCall is one requested tool invocation.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction holds the tool name and its JSON-encoded arguments.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ServiceConfig configures one reasoning backend instance.
type ServiceConfig struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"` // "openai" or "anthropic"
	Name     string        `json:"name"`
	Endpoint string        `json:"endpoint"`
	APIKey   string        `json:"api_key"`
	Model    string        `json:"model"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Remote implements Service against an OpenAI-compatible chat-completions
// API with function calling.
type Remote struct {
	config ServiceConfig
	client *http.Client
	logger *zap.Logger
}

// NewRemote creates an OpenAI-compatible reasoning backend.
func NewRemote(cfg ServiceConfig, logger *zap.Logger) *Remote {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1"
	}
	return &Remote{
		config: cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (r *Remote) ID() string   { return r.config.ID }
func (r *Remote) Name() string { return r.config.Name }

type remoteRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	ToolChoice  string    `json:"tool_choice,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type remoteResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

// Decide sends the planner conversation and parses the reply into a
// Decision: the assistant content is the Thought, tool_calls are the Calls.
func (r *Remote) Decide(ctx context.Context, req *Request) (*Decision, error) {
	model := req.Model
	if model == "" {
		model = r.config.Model
	}
	payload := remoteRequest{
		Model:       model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if len(req.Tools) > 0 {
		payload.Tools = req.Tools
		payload.ToolChoice = "auto"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.config.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+r.config.APIKey)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("empty response from reasoning service")
	}

	msg := parsed.Choices[0].Message
	return &Decision{
		Thought: msg.Content,
		Calls:   msg.ToolCalls,
	}, nil
}

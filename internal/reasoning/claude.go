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

// Claude implements Service against the Anthropic messages API.
type Claude struct {
	config ServiceConfig
	client *http.Client
	logger *zap.Logger
}

// NewClaude creates an Anthropic reasoning backend.
func NewClaude(cfg ServiceConfig, logger *zap.Logger) *Claude {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.anthropic.com/v1"
	}
	return &Claude{
		config: cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (c *Claude) ID() string   { return c.config.ID }
func (c *Claude) Name() string { return c.config.Name }

type claudeRequest struct {
	Model     string       `json:"model"`
	System    string       `json:"system,omitempty"`
	Messages  []claudeMsg  `json:"messages"`
	Tools     []claudeTool `json:"tools,omitempty"`
	MaxTokens int          `json:"max_tokens"`
}

type claudeMsg struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type claudeTool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"input_schema"`
}

type claudeResponse struct {
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// Decide converts the request to the messages-API shape, sends it, and maps
// text blocks to the Thought and tool_use blocks to Calls.
func (c *Claude) Decide(ctx context.Context, req *Request) (*Decision, error) {
	payload := c.convertRequest(req)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.Endpoint+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.config.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	decision := &Decision{}
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			if decision.Thought != "" {
				decision.Thought += "\n"
			}
			decision.Thought += block.Text
		case "tool_use":
			decision.Calls = append(decision.Calls, ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: ToolCallFunction{
					Name:      block.Name,
					Arguments: string(block.Input),
				},
			})
		}
	}
	return decision, nil
}

func (c *Claude) convertRequest(req *Request) *claudeRequest {
	model := req.Model
	if model == "" {
		model = c.config.Model
	}
	cr := &claudeRequest{
		Model:     model,
		MaxTokens: req.MaxTokens,
	}
	if cr.MaxTokens == 0 {
		cr.MaxTokens = 4096
	}
	for _, tool := range req.Tools {
		cr.Tools = append(cr.Tools, claudeTool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: tool.Function.Parameters,
		})
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			if cr.System != "" {
				cr.System += "\n"
			}
			cr.System += m.Content
		case "assistant":
			blocks := []map[string]any{}
			if m.Content != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := tc.Function.Arguments
				if input == "" {
					input = "{}"
				}
				blocks = append(blocks, map[string]any{
					"type":  "tool_use",
					"id":    tc.ID,
					"name":  tc.Function.Name,
					"input": json.RawMessage(input),
				})
			}
			cr.Messages = append(cr.Messages, claudeMsg{Role: "assistant", Content: blocks})
		case "tool":
			cr.Messages = append(cr.Messages, claudeMsg{Role: "user", Content: []map[string]any{
				{
					"type":        "tool_result",
					"tool_use_id": m.ToolCallID,
					"content":     m.Content,
				},
			}})
		default:
			cr.Messages = append(cr.Messages, claudeMsg{Role: "user", Content: m.Content})
		}
	}
	return cr
}

package mission

import "fmt"

// Status reports whether a tool execution succeeded.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// ErrorKind classifies a failed tool execution for the planner.
type ErrorKind string

const (
	// ErrorNone marks a successful observation.
	ErrorNone ErrorKind = ""
	// ErrorUnknownTool means the decision named a tool that is not registered.
	ErrorUnknownTool ErrorKind = "unknown_tool"
	// ErrorInvalidArguments means required arguments were missing or mistyped.
	ErrorInvalidArguments ErrorKind = "invalid_arguments"
	// ErrorToolExecution means the handler ran and reported a failure.
	ErrorToolExecution ErrorKind = "tool_execution"
)

// Observation is the structured result of executing one tool call. It is
// appended to the transcript and fed back to the planner verbatim.
type Observation struct {
	Tool    string         `json:"tool"`
	Status  Status         `json:"status"`
	Kind    ErrorKind      `json:"error_kind,omitempty"`
	Summary string         `json:"summary"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Success builds a successful observation.
func Success(tool, summary string, payload map[string]any) Observation {
	return Observation{Tool: tool, Status: StatusSuccess, Summary: summary, Payload: payload}
}

// Failure builds a failed observation of the given kind.
func Failure(tool string, kind ErrorKind, format string, args ...any) Observation {
	return Observation{
		Tool:    tool,
		Status:  StatusFailure,
		Kind:    kind,
		Summary: fmt.Sprintf(format, args...),
	}
}

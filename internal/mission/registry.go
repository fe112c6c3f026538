package mission

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/aerosight/internal/reasoning"
	"go.uber.org/zap"
)

// ToolHandler executes one validated tool call. Arguments arrive already
// decoded and validated against the ToolSpec's parameter list.
type ToolHandler func(ctx context.Context, args map[string]any) Observation

// Param describes one tool parameter.
type Param struct {
	Name        string
	Type        string // "string", "number", "integer", "boolean"
	Description string
	Required    bool
}

// ToolSpec declares a named action the planner may call. Immutable after
// registration.
type ToolSpec struct {
	Name        string
	Description string
	Params      []Param
	// Terminal marks tools that end the mission once dispatched (report
	// finding / end mission).
	Terminal bool
	// Delegating marks tools that hand control to the low-level
	// navigation executor while they run.
	Delegating bool
	Handler    ToolHandler
}

// Registry holds the tools available to one mission run. Constructed fresh
// per run; never shared process-wide.
type Registry struct {
	specs  map[string]ToolSpec
	order  []string
	logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		specs:  make(map[string]ToolSpec),
		logger: logger,
	}
}

// Register adds a tool. Re-registering a name replaces the earlier spec.
func (r *Registry) Register(spec ToolSpec) {
	if _, exists := r.specs[spec.Name]; !exists {
		r.order = append(r.order, spec.Name)
	}
	r.specs[spec.Name] = spec
}

// IsTerminal reports whether the named tool ends the mission.
func (r *Registry) IsTerminal(name string) bool {
	spec, ok := r.specs[name]
	return ok && spec.Terminal
}

// IsDelegating reports whether the named tool runs the navigation
// executor.
func (r *Registry) IsDelegating(name string) bool {
	spec, ok := r.specs[name]
	return ok && spec.Delegating
}

// Definitions returns the tool declarations in registration order, shaped
// for the reasoning request.
func (r *Registry) Definitions() []reasoning.Tool {
	defs := make([]reasoning.Tool, 0, len(r.order))
	for _, name := range r.order {
		spec := r.specs[name]
		properties := make(map[string]any, len(spec.Params))
		required := []string{}
		for _, p := range spec.Params {
			properties[p.Name] = map[string]any{
				"type":        p.Type,
				"description": p.Description,
			}
			if p.Required {
				required = append(required, p.Name)
			}
		}
		defs = append(defs, reasoning.Tool{
			Type: "function",
			Function: reasoning.ToolFunction{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters: map[string]any{
					"type":       "object",
					"properties": properties,
					"required":   required,
				},
			},
		})
	}
	return defs
}

// Dispatch validates and executes one tool call. Every failure mode comes
// back as a failure Observation; Dispatch itself never returns an error or
// lets a handler panic escape.
func (r *Registry) Dispatch(ctx context.Context, name, rawArgs string) (obs Observation) {
	spec, ok := r.specs[name]
	if !ok {
		r.logger.Warn("dispatch of unregistered tool", zap.String("tool", name))
		return Failure(name, ErrorUnknownTool, "no tool named %q is registered", name)
	}

	args, err := decodeArgs(rawArgs, spec.Params)
	if err != nil {
		return Failure(name, ErrorInvalidArguments, "%v", err)
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool handler panicked",
				zap.String("tool", name), zap.Any("panic", rec))
			obs = Failure(name, ErrorToolExecution, "internal handler fault: %v", rec)
		}
	}()
	return spec.Handler(ctx, args)
}

func decodeArgs(raw string, params []Param) (map[string]any, error) {
	args := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, fmt.Errorf("arguments are not a JSON object: %v", err)
		}
	}
	for _, p := range params {
		v, present := args[p.Name]
		if !present {
			if p.Required {
				return nil, fmt.Errorf("missing required argument %q", p.Name)
			}
			continue
		}
		if !typeMatches(p.Type, v) {
			return nil, fmt.Errorf("argument %q must be a %s", p.Name, p.Type)
		}
	}
	return args, nil
}

func typeMatches(want string, v any) bool {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := v.(float64)
		return ok
	case "integer":
		f, ok := v.(float64)
		return ok && f == float64(int64(f))
	case "boolean":
		_, ok := v.(bool)
		return ok
	default:
		return true
	}
}

// floatArg reads a numeric argument with a fallback default.
func floatArg(args map[string]any, name string, def float64) float64 {
	if v, ok := args[name].(float64); ok {
		return v
	}
	return def
}

// stringArg reads a string argument with a fallback default.
func stringArg(args map[string]any, name, def string) string {
	if v, ok := args[name].(string); ok && v != "" {
		return v
	}
	return def
}

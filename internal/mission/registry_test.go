package mission

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func testRegistry() *Registry {
	reg := NewRegistry(zap.NewNop())
	reg.Register(ToolSpec{
		Name:        "echo",
		Description: "Echo the message back.",
		Params: []Param{
			{Name: "message", Type: "string", Description: "Text to echo", Required: true},
			{Name: "count", Type: "integer", Description: "Repeat count"},
		},
		Handler: func(_ context.Context, args map[string]any) Observation {
			return Success("echo", args["message"].(string), nil)
		},
	})
	reg.Register(ToolSpec{
		Name:        "finish",
		Description: "End the run.",
		Terminal:    true,
		Handler: func(context.Context, map[string]any) Observation {
			return Success("finish", "done", nil)
		},
	})
	reg.Register(ToolSpec{
		Name:        "navigate",
		Description: "Hand off to the navigation executor.",
		Delegating:  true,
		Handler: func(context.Context, map[string]any) Observation {
			return Success("navigate", "moved", nil)
		},
	})
	reg.Register(ToolSpec{
		Name:        "explode",
		Description: "Always panics.",
		Handler: func(context.Context, map[string]any) Observation {
			panic("handler bug")
		},
	})
	return reg
}

func TestDispatchUnknownTool(t *testing.T) {
	reg := testRegistry()
	obs := reg.Dispatch(context.Background(), "teleport", `{}`)
	if obs.Status != StatusFailure || obs.Kind != ErrorUnknownTool {
		t.Fatalf("expected unknown-tool failure, got %+v", obs)
	}
	if obs.Tool != "teleport" {
		t.Errorf("observation should name the requested tool, got %q", obs.Tool)
	}
}

func TestDispatchArgumentValidation(t *testing.T) {
	reg := testRegistry()
	ctx := context.Background()

	cases := []struct {
		name string
		args string
	}{
		{"missing required", `{}`},
		{"wrong type", `{"message": 7}`},
		{"non-integer count", `{"message": "hi", "count": 1.5}`},
		{"not an object", `[1,2]`},
	}
	for _, tc := range cases {
		obs := reg.Dispatch(ctx, "echo", tc.args)
		if obs.Status != StatusFailure || obs.Kind != ErrorInvalidArguments {
			t.Errorf("%s: expected invalid-arguments failure, got %+v", tc.name, obs)
		}
	}

	obs := reg.Dispatch(ctx, "echo", `{"message": "hello", "count": 2}`)
	if obs.Status != StatusSuccess || obs.Summary != "hello" {
		t.Fatalf("valid call failed: %+v", obs)
	}
}

func TestDispatchEmptyArguments(t *testing.T) {
	reg := testRegistry()
	obs := reg.Dispatch(context.Background(), "finish", "")
	if obs.Status != StatusSuccess {
		t.Fatalf("tool without params should accept empty arguments, got %+v", obs)
	}
}

func TestDispatchRecoversFromPanic(t *testing.T) {
	reg := testRegistry()
	obs := reg.Dispatch(context.Background(), "explode", `{}`)
	if obs.Status != StatusFailure || obs.Kind != ErrorToolExecution {
		t.Fatalf("expected execution failure from panicking handler, got %+v", obs)
	}
}

func TestDefinitions(t *testing.T) {
	reg := testRegistry()
	defs := reg.Definitions()
	if len(defs) != 4 {
		t.Fatalf("expected 4 definitions, got %d", len(defs))
	}
	if defs[0].Function.Name != "echo" || defs[1].Function.Name != "finish" {
		t.Errorf("definitions not in registration order: %s, %s",
			defs[0].Function.Name, defs[1].Function.Name)
	}

	params, ok := defs[0].Function.Parameters.(map[string]any)
	if !ok {
		t.Fatalf("parameters not a schema object: %T", defs[0].Function.Parameters)
	}
	required, _ := params["required"].([]string)
	if len(required) != 1 || required[0] != "message" {
		t.Errorf("unexpected required list: %v", params["required"])
	}
}

func TestIsTerminal(t *testing.T) {
	reg := testRegistry()
	if !reg.IsTerminal("finish") {
		t.Error("finish should be terminal")
	}
	if reg.IsTerminal("echo") || reg.IsTerminal("missing") {
		t.Error("non-terminal and unknown tools must not be terminal")
	}
}

func TestIsDelegating(t *testing.T) {
	reg := testRegistry()
	if !reg.IsDelegating("navigate") {
		t.Error("navigate should be delegating")
	}
	if reg.IsDelegating("echo") || reg.IsDelegating("missing") {
		t.Error("non-delegating and unknown tools must not be delegating")
	}
}

package mission

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nidhogg/aerosight/internal/detect"
	"github.com/nidhogg/aerosight/internal/memory"
	"github.com/nidhogg/aerosight/internal/platform"
	"github.com/nidhogg/aerosight/internal/platform/simstub"
	"github.com/nidhogg/aerosight/internal/reasoning"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// httptest servers keep idle keep-alive conns briefly after Close.
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// hashEmbedder derives a stable vector from the text so similar calls are
// deterministic without a real embedding service.
type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		h := fnv.New64a()
		h.Write([]byte(t))
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], h.Sum64())
		vec := make([]float32, 4)
		for j := range vec {
			vec[j] = float32(buf[j*2])/255 + 0.01
		}
		out[i] = vec
	}
	return out, nil
}

func (hashEmbedder) Dimension() int { return 4 }

func testMemory() *memory.Store {
	return memory.NewStore(hashEmbedder{}, memory.NewInMemoryIndex(), zap.NewNop())
}

// quietDetector serves an empty detection list.
func quietDetector(t *testing.T) *detect.Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"detections": []}`))
	}))
	t.Cleanup(server.Close)
	return detect.NewClient(detect.Config{Endpoint: server.URL}, zap.NewNop())
}

func testConnector(t *testing.T, sim *simstub.Server) *platform.Connector {
	t.Helper()
	server := httptest.NewServer(sim)
	t.Cleanup(server.Close)
	return platform.NewConnector(platform.Config{
		Endpoints: []string{server.URL},
		Vehicle:   "Drone1",
	}, zap.NewNop())
}

func newTestMission(t *testing.T, cfg Config, sim *simstub.Server, reasoner reasoning.Service) *Mission {
	t.Helper()
	return New(cfg, testConnector(t, sim), reasoner, testMemory(), quietDetector(t), nil, zap.NewNop())
}

func countKind(entries []Entry, kind EntryKind) int {
	n := 0
	for _, e := range entries {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func TestMissionStepCeiling(t *testing.T) {
	// A reasoner that never calls a tool: every step is a no-op planning
	// step, so the run must end at exactly the configured ceiling.
	m := newTestMission(t, Config{
		Scene:     "ceiling",
		Goal:      "find the hiker",
		StepLimit: 4,
	}, simstub.New(), reasoning.NewStub())

	res, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Outcome != OutcomeStepLimit {
		t.Fatalf("expected step_limit outcome, got %q", res.Outcome)
	}
	if res.Steps != 4 {
		t.Errorf("expected 4 planning steps, got %d", res.Steps)
	}
	entries := m.Transcript()
	if got := countKind(entries, EntryThought); got != 4 {
		t.Errorf("expected 4 thought entries, got %d", got)
	}
	if got := countKind(entries, EntryObservation); got != 0 {
		t.Errorf("no-op steps must not produce observations, got %d", got)
	}
	if m.Phase() != PhaseTerminated {
		t.Errorf("expected terminated phase, got %q", m.Phase())
	}
}

func TestMissionTakeoffAndReport(t *testing.T) {
	sim := simstub.New()
	m := newTestMission(t, Config{
		Scene:     "takeoff",
		Goal:      "survey the ridge",
		StepLimit: 10,
	}, sim, reasoning.NewStub(
		&reasoning.Decision{
			Thought: "Take off to survey altitude.",
			Calls: []reasoning.ToolCall{
				reasoning.ScriptedCall("c1", "takeoff", map[string]any{"altitude_meters": 20}),
			},
		},
		&reasoning.Decision{
			Thought: "Target confirmed, reporting.",
			Calls: []reasoning.ToolCall{
				reasoning.ScriptedCall("c2", "report_finding", map[string]any{"description": "hiker at the ridge line"}),
			},
		},
	))

	res, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Outcome != OutcomeFound {
		t.Fatalf("expected found outcome, got %+v", res)
	}
	if res.Finding != "hiker at the ridge line" {
		t.Errorf("unexpected finding: %q", res.Finding)
	}
	if res.Steps != 2 {
		t.Errorf("expected 2 planning steps, got %d", res.Steps)
	}

	entries := m.Transcript()
	if len(entries) != 4 {
		t.Fatalf("expected thought+observation per step (4 entries), got %d", len(entries))
	}
	// The takeoff step appends exactly one thought then one observation.
	if entries[0].Kind != EntryThought || entries[1].Kind != EntryObservation {
		t.Fatalf("unexpected entry order: %q, %q", entries[0].Kind, entries[1].Kind)
	}
	obs := entries[1].Obs
	if obs.Status != StatusSuccess || obs.Tool != "takeoff" {
		t.Fatalf("unexpected takeoff observation: %+v", obs)
	}
	if alt, _ := obs.Payload["altitude_meters"].(float64); alt != 20 {
		t.Errorf("expected altitude 20 in payload, got %v", obs.Payload["altitude_meters"])
	}

	// The run lands the vehicle on termination.
	if sim.Flying() {
		t.Error("vehicle should be landed after mission end")
	}
}

func TestMissionUnknownToolContinues(t *testing.T) {
	m := newTestMission(t, Config{
		Scene:     "unknown",
		Goal:      "search the valley",
		StepLimit: 10,
	}, simstub.New(), reasoning.NewStub(
		&reasoning.Decision{
			Thought: "Trying an unsupported maneuver.",
			Calls: []reasoning.ToolCall{
				reasoning.ScriptedCall("c1", "teleport", map[string]any{"x": 1}),
			},
		},
		&reasoning.Decision{
			Thought: "Falling back to reporting.",
			Calls: []reasoning.ToolCall{
				reasoning.ScriptedCall("c2", "report_finding", map[string]any{"description": "nothing found"}),
			},
		},
	))

	res, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("unknown tool must not abort the run: %v", err)
	}
	if res.Outcome != OutcomeFound {
		t.Fatalf("expected the run to continue to the next step, got %+v", res)
	}

	entries := m.Transcript()
	if entries[1].Obs.Kind != ErrorUnknownTool {
		t.Errorf("expected unknown-tool observation, got %+v", entries[1].Obs)
	}
}

func TestMissionCallOrderPreserved(t *testing.T) {
	m := newTestMission(t, Config{
		Scene:     "order",
		Goal:      "sweep the field",
		StepLimit: 5,
	}, simstub.New(), reasoning.NewStub(
		&reasoning.Decision{
			Thought: "Take off, turn, then report.",
			Calls: []reasoning.ToolCall{
				reasoning.ScriptedCall("c1", "takeoff", map[string]any{"altitude_meters": 10}),
				reasoning.ScriptedCall("c2", "set_yaw", map[string]any{"yaw_degrees": 90}),
				reasoning.ScriptedCall("c3", "report_finding", map[string]any{"description": "sweep complete"}),
			},
		},
	))

	res, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Outcome != OutcomeFound {
		t.Fatalf("unexpected outcome: %+v", res)
	}

	entries := m.Transcript()
	wantTools := []string{"takeoff", "set_yaw", "report_finding"}
	var gotTools []string
	for _, e := range entries {
		if e.Kind == EntryObservation {
			gotTools = append(gotTools, e.Obs.Tool)
		}
	}
	if len(gotTools) != len(wantTools) {
		t.Fatalf("expected %d observations, got %d", len(wantTools), len(gotTools))
	}
	for i := range wantTools {
		if gotTools[i] != wantTools[i] {
			t.Errorf("observation %d: expected %s, got %s", i, wantTools[i], gotTools[i])
		}
	}
}

func TestMissionStopHonoredAtTransition(t *testing.T) {
	m := newTestMission(t, Config{
		Scene:     "stopped",
		Goal:      "circle the lake",
		StepLimit: 100,
	}, simstub.New(), reasoning.NewStub())
	m.Stop()

	res, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Outcome != OutcomeStopped {
		t.Fatalf("expected stopped outcome, got %+v", res)
	}
	if res.Steps != 0 {
		t.Errorf("stop before first transition should plan no steps, got %d", res.Steps)
	}
}

func TestMissionConnectionExhaustionFatal(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer dead.Close()

	conn := platform.NewConnector(platform.Config{
		Endpoints:       []string{dead.URL},
		Vehicle:         "Drone1",
		MaxAttempts:     2,
		InitialInterval: 1,
		MaxInterval:     1,
	}, zap.NewNop())
	m := New(Config{Scene: "fatal", Goal: "x", StepLimit: 3},
		conn, reasoning.NewStub(), testMemory(), quietDetector(t), nil, zap.NewNop())

	res, err := m.Run(context.Background())
	if err == nil {
		t.Fatal("expected fatal error when the platform is unreachable")
	}
	if res.Outcome != OutcomeFatal {
		t.Fatalf("expected fatal outcome, got %+v", res)
	}
	if got := countKind(m.Transcript(), EntryThought); got != 0 {
		t.Errorf("no planning should happen without a platform link, got %d thoughts", got)
	}
}

func TestExecutorPredicateAlreadyTrue(t *testing.T) {
	sim := simstub.New()
	conn := testConnector(t, sim)
	ctx := context.Background()
	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := conn.Arm(ctx); err != nil {
		t.Fatalf("arm: %v", err)
	}
	defer conn.Close(ctx)

	exec := NewExecutor(conn, NewDetectionSeekPolicy(), 10, zap.NewNop())
	result, err := exec.Run(ctx, "approach the clearing", func(context.Context, *platform.CameraFrame) (bool, string) {
		return true, "already on target"
	})
	if err != nil {
		t.Fatalf("executor failed: %v", err)
	}
	if !result.Completed || result.Steps != 1 {
		t.Fatalf("expected completion in one perception cycle, got %+v", result)
	}

	// Exactly one frame capture, no control actions.
	frames, moves := 0, 0
	for _, c := range sim.Calls() {
		switch c {
		case "sim.getImage":
			frames++
		case "sim.moveByVelocity":
			moves++
		}
	}
	if frames != 1 || moves != 0 {
		t.Errorf("expected 1 frame and 0 moves, got %d frames %d moves", frames, moves)
	}
}

func TestExecutorBudgetExhaustion(t *testing.T) {
	sim := simstub.New()
	conn := testConnector(t, sim)
	ctx := context.Background()
	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := conn.Arm(ctx); err != nil {
		t.Fatalf("arm: %v", err)
	}
	defer conn.Close(ctx)
	client, err := conn.Borrow()
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := client.Takeoff(ctx, conn.Vehicle(), 20); err != nil {
		t.Fatalf("takeoff: %v", err)
	}

	exec := NewExecutor(conn, &DetectionSeekPolicy{Speed: 1, StepTime: 1}, 3, zap.NewNop())
	result, err := exec.Run(ctx, "keep going", func(context.Context, *platform.CameraFrame) (bool, string) {
		return false, ""
	})
	if err != nil {
		t.Fatalf("budget exhaustion is not an error: %v", err)
	}
	if result.Completed || result.Steps != 3 {
		t.Fatalf("expected 3 incomplete steps, got %+v", result)
	}
}

func TestExecutorPredicateReceivesRunContext(t *testing.T) {
	sim := simstub.New()
	conn := testConnector(t, sim)
	type runKey struct{}
	ctx := context.WithValue(context.Background(), runKey{}, "bound")
	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := conn.Arm(ctx); err != nil {
		t.Fatalf("arm: %v", err)
	}
	defer conn.Close(ctx)

	exec := NewExecutor(conn, NewDetectionSeekPolicy(), 5, zap.NewNop())
	result, err := exec.Run(ctx, "approach", func(c context.Context, _ *platform.CameraFrame) (bool, string) {
		if c.Value(runKey{}) != "bound" {
			t.Error("predicate did not receive the executor's context")
		}
		return true, "ok"
	})
	if err != nil {
		t.Fatalf("executor failed: %v", err)
	}
	if !result.Completed {
		t.Fatalf("expected completion, got %+v", result)
	}
}

func TestCaptureAnalyzeReportsGroundingFailure(t *testing.T) {
	sim := simstub.New()
	conn := testConnector(t, sim)
	ctx := context.Background()
	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := conn.Arm(ctx); err != nil {
		t.Fatalf("arm: %v", err)
	}
	defer conn.Close(ctx)

	// A detection centered outside the frame has no depth reading, so it
	// cannot be grounded in world coordinates.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"detections": [{"label": "person", "confidence": 0.9,
			"box": {"x_min": 200, "y_min": 100, "x_max": 220, "y_max": 120}}]}`))
	}))
	t.Cleanup(server.Close)
	detector := detect.NewClient(detect.Config{Endpoint: server.URL}, zap.NewNop())

	var mu sync.RWMutex
	tk := NewToolkit(conn, testMemory(), detector, nil, &AgentState{}, &mu, "scene", zap.NewNop())

	obs := tk.captureAndAnalyze(ctx, map[string]any{"target": "person"})
	if obs.Status != StatusSuccess {
		t.Fatalf("detection without grounding is still an observation: %+v", obs)
	}
	results, ok := obs.Payload["results"].([]locatedDetection)
	if !ok || len(results) != 1 {
		t.Fatalf("expected 1 result, got %+v", obs.Payload["results"])
	}
	if results[0].Located {
		t.Error("an ungroundable detection must not claim world coordinates")
	}
	if results[0].Reason == "" {
		t.Error("grounding failure must carry its reason in the payload")
	}
}

func TestBuiltinDelegationFlag(t *testing.T) {
	m := newTestMission(t, Config{Goal: "find the hiker"}, simstub.New(), reasoning.NewStub())
	reg := m.buildRegistry()
	if !reg.IsDelegating("execute_vln_instruction") {
		t.Error("execute_vln_instruction must be registered as delegating")
	}
	if reg.IsDelegating("takeoff") || reg.IsDelegating("report_finding") {
		t.Error("flight tools must not be delegating")
	}
}

func TestTranscriptMessages(t *testing.T) {
	var tr Transcript
	call := reasoning.ScriptedCall("c9", "land", nil)
	tr.AddThought(1, "Landing now.", []reasoning.ToolCall{call})
	tr.AddObservation(1, call, Success("land", "landed", nil))

	msgs := tr.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "assistant" || len(msgs[0].ToolCalls) != 1 {
		t.Errorf("unexpected assistant message: %+v", msgs[0])
	}
	if msgs[1].Role != "tool" || msgs[1].ToolCallID != "c9" {
		t.Errorf("unexpected tool message: %+v", msgs[1])
	}
}

func TestLoadPriorKnowledge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "priors.jsonl")
	content := `{"label": "ranger station", "latitude": 47.1, "longitude": 8.2}

{"label": "trailhead", "latitude": 47.2, "longitude": 8.3, "altitude_meters": 400}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err := LoadPriorKnowledge(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Label != "ranger station" || entries[1].AltitudeMeters != 400 {
		t.Errorf("unexpected entries: %+v", entries)
	}

	store := testMemory()
	summaries, err := IngestPriors(context.Background(), store, "priors", entries, zap.NewNop())
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}

	records, err := store.Query(context.Background(), "priors", "ranger station", 2)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(records) == 0 {
		t.Fatal("expected ingested priors to be retrievable")
	}
}

func TestLoadPriorKnowledgeMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	if err := os.WriteFile(path, []byte(`{"label": "ok", "latitude": 1, "longitude": 2}
not json
`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPriorKnowledge(path); err == nil {
		t.Fatal("malformed line must fail the load")
	}
}

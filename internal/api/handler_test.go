package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nidhogg/aerosight/internal/detect"
	"github.com/nidhogg/aerosight/internal/memory"
	"github.com/nidhogg/aerosight/internal/mission"
	"github.com/nidhogg/aerosight/internal/platform"
	"github.com/nidhogg/aerosight/internal/platform/simstub"
	"github.com/nidhogg/aerosight/internal/reasoning"
	"go.uber.org/zap"
)

type flatEmbedder struct{}

func (flatEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (flatEmbedder) Dimension() int { return 3 }

// newTestServer wires a Manager against an in-process flight platform and a
// scripted reasoner.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()

	sim := httptest.NewServer(simstub.New())
	t.Cleanup(sim.Close)
	detector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"detections": []}`))
	}))
	t.Cleanup(detector.Close)

	router := reasoning.NewRouter(logger)
	router.Register(reasoning.NewStub(
		&reasoning.Decision{
			Thought: "Reporting immediately.",
			Calls: []reasoning.ToolCall{
				reasoning.ScriptedCall("c1", "report_finding", map[string]any{"description": "test finding"}),
			},
		},
	))

	mem := memory.NewStore(flatEmbedder{}, memory.NewInMemoryIndex(), logger)
	manager := mission.NewManager(
		platform.Config{Endpoints: []string{sim.URL}, Vehicle: "Drone1"},
		router,
		mem,
		detect.NewClient(detect.Config{Endpoint: detector.URL}, logger),
		nil,
		logger,
	)

	h := NewHandler(manager, logger)
	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)
	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("unexpected health body: %v", body)
	}
}

func TestCreateMissionValidation(t *testing.T) {
	ts := newTestServer(t)
	resp := postJSON(t, ts, "/api/missions", map[string]string{"scene": "no-goal"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing goal, got %d", resp.StatusCode)
	}
}

func TestMissionLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts, "/api/missions", map[string]any{
		"scene":      "api-test",
		"goal":       "find the test target",
		"step_limit": 5,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created struct {
		ID    string `json:"id"`
		Scene string `json:"scene"`
	}
	decodeJSON(t, resp, &created)
	if created.ID == "" || created.Scene != "api-test" {
		t.Fatalf("unexpected creation response: %+v", created)
	}

	// The scripted reasoner reports immediately; wait for termination.
	deadline := time.Now().Add(5 * time.Second)
	var view struct {
		Phase  string `json:"phase"`
		Result *struct {
			Outcome string `json:"outcome"`
			Finding string `json:"finding"`
		} `json:"result"`
	}
	for {
		resp = getJSON(t, ts, "/api/missions/"+created.ID)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		decodeJSON(t, resp, &view)
		if view.Phase == "terminated" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("mission did not terminate, phase %q", view.Phase)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if view.Result == nil || view.Result.Outcome != "found" {
		t.Fatalf("unexpected result: %+v", view.Result)
	}
	if view.Result.Finding != "test finding" {
		t.Errorf("unexpected finding: %q", view.Result.Finding)
	}

	resp = getJSON(t, ts, "/api/missions/"+created.ID+"/transcript")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for transcript, got %d", resp.StatusCode)
	}
	var entries []map[string]any
	decodeJSON(t, resp, &entries)
	if len(entries) != 2 {
		t.Errorf("expected thought + observation, got %d entries", len(entries))
	}

	resp = getJSON(t, ts, "/api/missions")
	var list []map[string]any
	decodeJSON(t, resp, &list)
	if len(list) != 1 {
		t.Errorf("expected 1 mission in list, got %d", len(list))
	}
}

func TestMissionNotFound(t *testing.T) {
	ts := newTestServer(t)

	resp := getJSON(t, ts, "/api/missions/no-such-id")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	resp = postJSON(t, ts, "/api/missions/no-such-id/stop", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for stop, got %d", resp.StatusCode)
	}
}

func TestStopMission(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts, "/api/missions", map[string]any{
		"scene":      "stop-test",
		"goal":       "loiter",
		"step_limit": 1000,
	})
	var created struct {
		ID string `json:"id"`
	}
	decodeJSON(t, resp, &created)

	resp = postJSON(t, ts, "/api/missions/"+created.ID+"/stop", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

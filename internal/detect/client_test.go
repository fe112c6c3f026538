package detect

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestDetect(t *testing.T) {
	var got detectRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(detectResponse{Detections: []Detection{
			{Label: "person", Confidence: 0.91, Box: Box{XMin: 10, YMin: 20, XMax: 30, YMax: 60}},
			{Label: "backpack", Confidence: 0.44, Box: Box{XMin: 40, YMin: 5, XMax: 50, YMax: 15}},
		}})
	}))
	defer server.Close()

	c := NewClient(Config{Endpoint: server.URL}, zap.NewNop())
	dets, err := c.Detect(context.Background(), []byte{1, 2, 3}, 640, 480, []string{"person"})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	decoded, err := base64.StdEncoding.DecodeString(got.Image)
	if err != nil || len(decoded) != 3 {
		t.Errorf("image not round-tripped through base64: %v", err)
	}
	if got.Width != 640 || got.Height != 480 {
		t.Errorf("frame dimensions not forwarded: %dx%d", got.Width, got.Height)
	}
	if len(dets) != 2 || dets[0].Label != "person" {
		t.Fatalf("unexpected detections: %+v", dets)
	}

	cx, cy := dets[0].Box.Center()
	if cx != 20 || cy != 40 {
		t.Errorf("unexpected box center: (%v, %v)", cx, cy)
	}
}

func TestDetectEmptyFrame(t *testing.T) {
	c := NewClient(Config{Endpoint: "http://unused"}, zap.NewNop())
	_, err := c.Detect(context.Background(), nil, 0, 0, nil)
	if !errors.Is(err, ErrDetectionService) {
		t.Fatalf("expected ErrDetectionService, got %v", err)
	}
}

func TestDetectServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewClient(Config{Endpoint: server.URL}, zap.NewNop())
	_, err := c.Detect(context.Background(), []byte{1}, 1, 1, nil)
	if !errors.Is(err, ErrDetectionService) {
		t.Fatalf("expected ErrDetectionService, got %v", err)
	}
}

func TestBest(t *testing.T) {
	dets := []Detection{
		{Label: "person", Confidence: 0.4},
		{Label: "person", Confidence: 0.8},
		{Label: "dog", Confidence: 0.6},
	}

	best, ok := Best(dets, 0.5)
	if !ok || best.Confidence != 0.8 {
		t.Fatalf("expected 0.8 detection, got %+v ok=%v", best, ok)
	}

	if _, ok := Best(dets, 0.9); ok {
		t.Error("expected no detection above 0.9")
	}
	if _, ok := Best(nil, 0.1); ok {
		t.Error("expected no detection from empty slice")
	}
}

// Package detect calls the external object-detection service that turns
// camera frames into labeled pixel-space detections.
package detect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrDetectionService wraps failures of the detection backend so callers
// can distinguish them from flight or reasoning failures.
var ErrDetectionService = errors.New("detection service error")

// Box is an axis-aligned pixel-space bounding box.
type Box struct {
	XMin float64 `json:"x_min"`
	YMin float64 `json:"y_min"`
	XMax float64 `json:"x_max"`
	YMax float64 `json:"y_max"`
}

// Center returns the box midpoint in pixel coordinates.
func (b Box) Center() (x, y float64) {
	return (b.XMin + b.XMax) / 2, (b.YMin + b.YMax) / 2
}

// Detection is one detected object in a frame.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// Config configures the detection client.
type Config struct {
	Endpoint string        `json:"endpoint"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// Client is an HTTP client for the detection service.
type Client struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

// NewClient creates a detection client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		config: cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type detectRequest struct {
	Image  string   `json:"image"` // base64-encoded RGB bytes
	Width  int      `json:"width"`
	Height int      `json:"height"`
	Labels []string `json:"labels,omitempty"`
}

type detectResponse struct {
	Detections []Detection `json:"detections"`
}

// Detect submits a frame and returns the detections, most confident first
// as ordered by the service. An empty result is not an error.
func (c *Client) Detect(ctx context.Context, image []byte, width, height int, labels []string) ([]Detection, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrDetectionService)
	}

	payload := detectRequest{
		Image:  base64.StdEncoding.EncodeToString(image),
		Width:  width,
		Height: height,
		Labels: labels,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrDetectionService, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrDetectionService, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: send request: %v", ErrDetectionService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrDetectionService, resp.StatusCode, string(respBody))
	}

	var parsed detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrDetectionService, err)
	}

	c.logger.Debug("frame analyzed",
		zap.Int("detections", len(parsed.Detections)),
		zap.Strings("labels", labels))
	return parsed.Detections, nil
}

// Best returns the highest-confidence detection at or above the threshold,
// or false when none qualifies.
func Best(dets []Detection, minConfidence float64) (Detection, bool) {
	var best Detection
	found := false
	for _, d := range dets {
		if d.Confidence < minConfidence {
			continue
		}
		if !found || d.Confidence > best.Confidence {
			best = d
			found = true
		}
	}
	return best, found
}

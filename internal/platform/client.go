// Package platform talks to the simulated flight platform over JSON-RPC and
// keeps the link usable across the simulator's flaky startup window.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/nidhogg/aerosight/internal/geo"
)

// Client is a JSON-RPC 2.0 client for one flight-platform endpoint. It is
// stateless apart from the request counter; connection lifecycle lives in
// the Connector, which is the only component allowed to hold one.
type Client struct {
	endpoint string
	http     *http.Client
	nextID   atomic.Int64
}

// NewClient creates a client for the given HTTP endpoint. timeout bounds
// every individual RPC call.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

// Endpoint returns the address this client talks to.
func (c *Client) Endpoint() string { return c.endpoint }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("platform rpc error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request %s: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s status %d: %s", method, resp.StatusCode, string(respBody))
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s: %w", method, err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("parse %s result: %w", method, err)
		}
	}
	return nil
}

// Ping is the connection handshake.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, "sim.ping", nil, nil)
}

// Reset returns the simulation to its initial state.
func (c *Client) Reset(ctx context.Context) error {
	return c.call(ctx, "sim.reset", nil, nil)
}

// EnableAPIControl requests programmatic control over the named vehicle.
func (c *Client) EnableAPIControl(ctx context.Context, vehicle string) error {
	return c.call(ctx, "sim.enableApiControl", map[string]any{"vehicle": vehicle}, nil)
}

// Arm unlocks the named vehicle for flight.
func (c *Client) Arm(ctx context.Context, vehicle string) error {
	return c.call(ctx, "sim.arm", map[string]any{"vehicle": vehicle}, nil)
}

// Disarm locks the vehicle after landing.
func (c *Client) Disarm(ctx context.Context, vehicle string) error {
	return c.call(ctx, "sim.disarm", map[string]any{"vehicle": vehicle}, nil)
}

// GetState returns the vehicle's current pose, GPS fix and landed flag.
func (c *Client) GetState(ctx context.Context, vehicle string) (*VehicleState, error) {
	var st VehicleState
	if err := c.call(ctx, "sim.getPose", map[string]any{"vehicle": vehicle}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// GetImage captures a synchronized RGB + planar depth frame from a camera.
func (c *Client) GetImage(ctx context.Context, vehicle, camera string) (*CameraFrame, error) {
	var frame CameraFrame
	params := map[string]any{"vehicle": vehicle, "camera": camera}
	if err := c.call(ctx, "sim.getImage", params, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

// Takeoff lifts the vehicle to the given altitude in meters.
func (c *Client) Takeoff(ctx context.Context, vehicle string, altitude float64) error {
	params := map[string]any{"vehicle": vehicle, "altitude": altitude}
	return c.call(ctx, "sim.takeoff", params, nil)
}

// Land brings the vehicle down at its current position.
func (c *Client) Land(ctx context.Context, vehicle string) error {
	return c.call(ctx, "sim.land", map[string]any{"vehicle": vehicle}, nil)
}

// MoveByVelocity flies at a body-frame velocity for a duration. This is the
// low-level control step used by the visual-navigation executor.
func (c *Client) MoveByVelocity(ctx context.Context, vehicle string, vx, vy, vz, yawRate float64, duration time.Duration) error {
	params := map[string]any{
		"vehicle":  vehicle,
		"vx":       vx,
		"vy":       vy,
		"vz":       vz,
		"yaw_rate": yawRate,
		"duration": duration.Seconds(),
	}
	return c.call(ctx, "sim.moveByVelocity", params, nil)
}

// MoveToGPS flies to a GPS coordinate at the given speed. Long-range macro
// move; blocks until the platform reports arrival.
func (c *Client) MoveToGPS(ctx context.Context, vehicle string, target geo.GeoPoint, speed float64) error {
	params := map[string]any{
		"vehicle":         vehicle,
		"latitude":        target.Latitude,
		"longitude":       target.Longitude,
		"altitude_meters": target.AltitudeMeters,
		"speed":           speed,
	}
	return c.call(ctx, "sim.moveToGPS", params, nil)
}

// RotateToYaw turns the vehicle to a world-frame yaw angle in degrees.
func (c *Client) RotateToYaw(ctx context.Context, vehicle string, yawDegrees float64) error {
	params := map[string]any{"vehicle": vehicle, "yaw_degrees": yawDegrees}
	return c.call(ctx, "sim.rotateToYaw", params, nil)
}

// Package simstub is an in-process flight platform speaking the same
// JSON-RPC surface as the real simulator bridge. It backs package tests and
// the offline demo mode with just enough kinematics to make macro moves and
// low-level velocity steps observable.
package simstub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/nidhogg/aerosight/internal/geo"
	"github.com/nidhogg/aerosight/internal/platform"
)

// Server simulates one vehicle. The zero value is not usable; call New.
type Server struct {
	mu sync.Mutex

	home    geo.GeoPoint
	pose    geo.Pose
	armed   bool
	flying  bool
	apiCtrl map[string]bool

	pings     int
	failPings int
	calls     []string

	frameWidth  int
	frameHeight int
	frameDepth  float32
	frameHook   func(pose geo.Pose) *platform.CameraFrame
}

// Option configures a Server.
type Option func(*Server)

// WithFailedPings makes the first n handshake attempts fail, modelling the
// simulator's slow startup.
func WithFailedPings(n int) Option {
	return func(s *Server) { s.failPings = n }
}

// WithHome sets the GPS home point reported for the NED origin.
func WithHome(home geo.GeoPoint) Option {
	return func(s *Server) { s.home = home }
}

// WithFrameDepth sets the constant planar depth of synthetic frames.
func WithFrameDepth(d float32) Option {
	return func(s *Server) { s.frameDepth = d }
}

// WithFrameHook replaces synthetic frame generation entirely.
func WithFrameHook(hook func(pose geo.Pose) *platform.CameraFrame) Option {
	return func(s *Server) { s.frameHook = hook }
}

// New creates a landed, disarmed vehicle at the NED origin.
func New(opts ...Option) *Server {
	s := &Server{
		home:        geo.GeoPoint{Latitude: 47.6418, Longitude: -122.14, AltitudeMeters: 120},
		pose:        geo.Pose{Orientation: geo.Identity()},
		apiCtrl:     make(map[string]bool),
		frameWidth:  64,
		frameHeight: 48,
		frameDepth:  10,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pings returns how many handshake attempts the server has seen.
func (s *Server) Pings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

// Calls returns the RPC method names received, in order.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// Pose returns the vehicle's current pose.
func (s *Server) Pose() geo.Pose {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pose
}

// Flying reports whether the vehicle is airborne.
func (s *Server) Flying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flying
}

// ServeHTTP implements the JSON-RPC endpoint.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     int64           `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, rpcErr := s.handle(req.Method, req.Params)

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if rpcErr != nil {
		resp["error"] = map[string]any{"code": -32000, "message": rpcErr.Error()}
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handle(method string, params json.RawMessage) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, method)

	switch method {
	case "sim.ping":
		s.pings++
		if s.pings <= s.failPings {
			return nil, fmt.Errorf("simulator not ready")
		}
		return "pong", nil

	case "sim.reset":
		s.pose = geo.Pose{Orientation: geo.Identity()}
		s.flying = false
		s.armed = false
		return nil, nil

	case "sim.enableApiControl":
		var p struct {
			Vehicle string `json:"vehicle"`
		}
		json.Unmarshal(params, &p)
		s.apiCtrl[p.Vehicle] = true
		return nil, nil

	case "sim.arm":
		var p struct {
			Vehicle string `json:"vehicle"`
		}
		json.Unmarshal(params, &p)
		if !s.apiCtrl[p.Vehicle] {
			return nil, fmt.Errorf("api control not enabled for %q", p.Vehicle)
		}
		s.armed = true
		return nil, nil

	case "sim.disarm":
		s.armed = false
		return nil, nil

	case "sim.getPose":
		return platform.VehicleState{
			Pose:   s.pose,
			GPS:    geo.GPSFromNED(s.home, s.pose.Position),
			Landed: !s.flying,
		}, nil

	case "sim.takeoff":
		var p struct {
			Altitude float64 `json:"altitude"`
		}
		json.Unmarshal(params, &p)
		if !s.armed {
			return nil, fmt.Errorf("vehicle not armed")
		}
		s.pose.Position.Z = -p.Altitude
		s.flying = true
		return nil, nil

	case "sim.land":
		s.pose.Position.Z = 0
		s.flying = false
		return nil, nil

	case "sim.moveByVelocity":
		var p struct {
			Vx       float64 `json:"vx"`
			Vy       float64 `json:"vy"`
			Vz       float64 `json:"vz"`
			Duration float64 `json:"duration"`
		}
		json.Unmarshal(params, &p)
		if !s.flying {
			return nil, fmt.Errorf("vehicle not flying")
		}
		s.pose.Position.X += p.Vx * p.Duration
		s.pose.Position.Y += p.Vy * p.Duration
		s.pose.Position.Z += p.Vz * p.Duration
		return nil, nil

	case "sim.moveToGPS":
		var p geo.GeoPoint
		json.Unmarshal(params, &p)
		if !s.flying {
			return nil, fmt.Errorf("vehicle not flying")
		}
		s.pose.Position = geo.NEDFromGPS(s.home, p)
		return nil, nil

	case "sim.rotateToYaw":
		var p struct {
			YawDegrees float64 `json:"yaw_degrees"`
		}
		json.Unmarshal(params, &p)
		s.pose.Orientation = geo.FromEuler(0, 0, p.YawDegrees*3.141592653589793/180)
		return nil, nil

	case "sim.getImage":
		if s.frameHook != nil {
			return s.frameHook(s.pose), nil
		}
		n := s.frameWidth * s.frameHeight
		depth := make([]float32, n)
		for i := range depth {
			depth[i] = s.frameDepth
		}
		return &platform.CameraFrame{
			RGB:    make([]byte, n*3),
			Depth:  depth,
			Width:  s.frameWidth,
			Height: s.frameHeight,
			Intrinsics: geo.Intrinsics{
				Fx: float64(s.frameWidth) / 2, Fy: float64(s.frameWidth) / 2,
				Cx: float64(s.frameWidth) / 2, Cy: float64(s.frameHeight) / 2,
				Width: s.frameWidth, Height: s.frameHeight,
			},
			Pose: s.pose,
		}, nil

	default:
		return nil, fmt.Errorf("unknown method %q", method)
	}
}

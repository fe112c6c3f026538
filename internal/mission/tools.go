package mission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nidhogg/aerosight/internal/detect"
	"github.com/nidhogg/aerosight/internal/geo"
	"github.com/nidhogg/aerosight/internal/memory"
	"github.com/nidhogg/aerosight/internal/platform"
	"go.uber.org/zap"
)

// Toolkit wires the builtin tool handlers to the mission's collaborators
// and its AgentState. State writes go through the mission's lock so API
// readers see consistent snapshots.
type Toolkit struct {
	conn     *platform.Connector
	memory   *memory.Store
	detector *detect.Client
	executor *Executor
	state    *AgentState
	mu       *sync.RWMutex
	scene    string
	logger   *zap.Logger
}

// NewToolkit creates the toolkit for one run.
func NewToolkit(conn *platform.Connector, mem *memory.Store, detector *detect.Client, executor *Executor, state *AgentState, mu *sync.RWMutex, scene string, logger *zap.Logger) *Toolkit {
	return &Toolkit{
		conn:     conn,
		memory:   mem,
		detector: detector,
		executor: executor,
		state:    state,
		mu:       mu,
		scene:    scene,
		logger:   logger,
	}
}

// RegisterBuiltinTools registers the full flight, perception, memory, and
// navigation tool set on the registry.
func RegisterBuiltinTools(reg *Registry, tk *Toolkit) {
	reg.Register(ToolSpec{
		Name:        "takeoff",
		Description: "Take off and climb to the given altitude in meters.",
		Params: []Param{
			{Name: "altitude_meters", Type: "number", Description: "Target altitude above the takeoff point", Required: true},
		},
		Handler: tk.takeoff,
	})
	reg.Register(ToolSpec{
		Name:        "land",
		Description: "Land at the current position.",
		Handler:     tk.land,
	})
	reg.Register(ToolSpec{
		Name:        "get_current_pose",
		Description: "Report the current position, orientation, GPS fix, and altitude.",
		Handler:     tk.getCurrentPose,
	})
	reg.Register(ToolSpec{
		Name:        "fly_to_gps",
		Description: "Fly to a GPS coordinate at the given altitude.",
		Params: []Param{
			{Name: "latitude", Type: "number", Description: "Target latitude in degrees", Required: true},
			{Name: "longitude", Type: "number", Description: "Target longitude in degrees", Required: true},
			{Name: "altitude_meters", Type: "number", Description: "Target altitude above the takeoff point", Required: true},
			{Name: "speed", Type: "number", Description: "Cruise speed in m/s (default 5)"},
		},
		Handler: tk.flyToGPS,
	})
	reg.Register(ToolSpec{
		Name:        "move_forward",
		Description: "Move straight ahead by the given distance.",
		Params: []Param{
			{Name: "distance_meters", Type: "number", Description: "Distance to cover", Required: true},
			{Name: "speed", Type: "number", Description: "Speed in m/s (default 3)"},
		},
		Handler: tk.moveForward,
	})
	reg.Register(ToolSpec{
		Name:        "set_yaw",
		Description: "Rotate in place to the given absolute heading in degrees.",
		Params: []Param{
			{Name: "yaw_degrees", Type: "number", Description: "Target heading, 0 = north", Required: true},
		},
		Handler: tk.setYaw,
	})
	reg.Register(ToolSpec{
		Name:        "capture_and_analyze_rgb",
		Description: "Capture a camera frame, run object detection, and locate detections in world and GPS coordinates.",
		Params: []Param{
			{Name: "target", Type: "string", Description: "Label to look for (default: person)"},
		},
		Handler: tk.captureAndAnalyze,
	})
	reg.Register(ToolSpec{
		Name:        "update_search_map",
		Description: "Record an observation about the scene into the persistent search map.",
		Params: []Param{
			{Name: "text", Type: "string", Description: "Observation to remember", Required: true},
			{Name: "latitude", Type: "number", Description: "Associated latitude, if known"},
			{Name: "longitude", Type: "number", Description: "Associated longitude, if known"},
		},
		Handler: tk.updateSearchMap,
	})
	reg.Register(ToolSpec{
		Name:        "retrieve_historical_clues",
		Description: "Recall previously recorded observations relevant to a query.",
		Params: []Param{
			{Name: "query", Type: "string", Description: "What to look up", Required: true},
			{Name: "top_k", Type: "integer", Description: "Maximum results (default 3)"},
		},
		Handler: tk.retrieveClues,
	})
	reg.Register(ToolSpec{
		Name:        "execute_vln_instruction",
		Description: "Delegate a short visual-navigation instruction to the low-level executor, e.g. 'move toward the clearing on the left'.",
		Params: []Param{
			{Name: "instruction", Type: "string", Description: "Navigation instruction", Required: true},
			{Name: "target", Type: "string", Description: "Label that completes the subgoal when seen (default: person)"},
		},
		Delegating: true,
		Handler:    tk.executeVLN,
	})
	reg.Register(ToolSpec{
		Name:        "report_finding",
		Description: "Report the mission finding and end the mission.",
		Params: []Param{
			{Name: "description", Type: "string", Description: "What was found and where", Required: true},
		},
		Terminal: true,
		Handler:  tk.reportFinding,
	})
}

// refreshState pulls the latest vehicle state into the AgentState after a
// successful flight action.
func (tk *Toolkit) refreshState(ctx context.Context, client *platform.Client) error {
	vs, err := client.GetState(ctx, tk.conn.Vehicle())
	if err != nil {
		return err
	}
	tk.mu.Lock()
	tk.state.Pose = vs.Pose
	tk.state.GPS = vs.GPS
	tk.state.Flying = !vs.Landed
	tk.mu.Unlock()
	return nil
}

// snapshot reads the agent state under the mission's lock.
func (tk *Toolkit) snapshot() AgentState {
	tk.mu.RLock()
	defer tk.mu.RUnlock()
	return *tk.state
}

func (tk *Toolkit) takeoff(ctx context.Context, args map[string]any) Observation {
	altitude := floatArg(args, "altitude_meters", 10)
	if altitude <= 0 {
		return Failure("takeoff", ErrorInvalidArguments, "altitude_meters must be positive, got %v", altitude)
	}

	client, err := tk.conn.Borrow()
	if err != nil {
		return Failure("takeoff", ErrorToolExecution, "%v", err)
	}
	if err := client.Takeoff(ctx, tk.conn.Vehicle(), altitude); err != nil {
		return Failure("takeoff", ErrorToolExecution, "takeoff failed: %v", err)
	}
	if err := tk.refreshState(ctx, client); err != nil {
		return Failure("takeoff", ErrorToolExecution, "state refresh after takeoff: %v", err)
	}

	st := tk.snapshot()
	return Success("takeoff",
		fmt.Sprintf("airborne at %.1f m", st.AltitudeMeters()),
		map[string]any{"altitude_meters": st.AltitudeMeters()})
}

func (tk *Toolkit) land(ctx context.Context, _ map[string]any) Observation {
	client, err := tk.conn.Borrow()
	if err != nil {
		return Failure("land", ErrorToolExecution, "%v", err)
	}
	if err := client.Land(ctx, tk.conn.Vehicle()); err != nil {
		return Failure("land", ErrorToolExecution, "landing failed: %v", err)
	}
	if err := tk.refreshState(ctx, client); err != nil {
		return Failure("land", ErrorToolExecution, "state refresh after landing: %v", err)
	}

	return Success("land", "landed", nil)
}

func (tk *Toolkit) getCurrentPose(ctx context.Context, _ map[string]any) Observation {
	client, err := tk.conn.Borrow()
	if err != nil {
		return Failure("get_current_pose", ErrorToolExecution, "%v", err)
	}
	if err := tk.refreshState(ctx, client); err != nil {
		return Failure("get_current_pose", ErrorToolExecution, "pose query failed: %v", err)
	}

	st := tk.snapshot()
	p := st.Pose.Position
	return Success("get_current_pose",
		fmt.Sprintf("at (%.1f, %.1f) altitude %.1f m, lat %.6f lon %.6f",
			p.X, p.Y, st.AltitudeMeters(), st.GPS.Latitude, st.GPS.Longitude),
		map[string]any{
			"x":               p.X,
			"y":               p.Y,
			"altitude_meters": st.AltitudeMeters(),
			"latitude":        st.GPS.Latitude,
			"longitude":       st.GPS.Longitude,
			"flying":          st.Flying,
		})
}

func (tk *Toolkit) flyToGPS(ctx context.Context, args map[string]any) Observation {
	target := geo.GeoPoint{
		Latitude:       floatArg(args, "latitude", 0),
		Longitude:      floatArg(args, "longitude", 0),
		AltitudeMeters: floatArg(args, "altitude_meters", 0),
	}
	speed := floatArg(args, "speed", 5)

	client, err := tk.conn.Borrow()
	if err != nil {
		return Failure("fly_to_gps", ErrorToolExecution, "%v", err)
	}
	if err := client.MoveToGPS(ctx, tk.conn.Vehicle(), target, speed); err != nil {
		return Failure("fly_to_gps", ErrorToolExecution, "flight to %.6f,%.6f failed: %v",
			target.Latitude, target.Longitude, err)
	}
	if err := tk.refreshState(ctx, client); err != nil {
		return Failure("fly_to_gps", ErrorToolExecution, "state refresh after flight: %v", err)
	}

	st := tk.snapshot()
	return Success("fly_to_gps",
		fmt.Sprintf("arrived near %.6f, %.6f at %.1f m", target.Latitude, target.Longitude, st.AltitudeMeters()),
		map[string]any{
			"latitude":        st.GPS.Latitude,
			"longitude":       st.GPS.Longitude,
			"altitude_meters": st.AltitudeMeters(),
		})
}

func (tk *Toolkit) moveForward(ctx context.Context, args map[string]any) Observation {
	distance := floatArg(args, "distance_meters", 0)
	if distance <= 0 {
		return Failure("move_forward", ErrorInvalidArguments, "distance_meters must be positive, got %v", distance)
	}
	speed := floatArg(args, "speed", 3)
	if speed <= 0 {
		speed = 3
	}

	client, err := tk.conn.Borrow()
	if err != nil {
		return Failure("move_forward", ErrorToolExecution, "%v", err)
	}
	duration := time.Duration(distance / speed * float64(time.Second))
	if err := client.MoveByVelocity(ctx, tk.conn.Vehicle(), speed, 0, 0, 0, duration); err != nil {
		return Failure("move_forward", ErrorToolExecution, "move failed: %v", err)
	}
	if err := tk.refreshState(ctx, client); err != nil {
		return Failure("move_forward", ErrorToolExecution, "state refresh after move: %v", err)
	}

	return Success("move_forward",
		fmt.Sprintf("moved %.1f m forward", distance),
		map[string]any{"distance_meters": distance})
}

func (tk *Toolkit) setYaw(ctx context.Context, args map[string]any) Observation {
	yaw := floatArg(args, "yaw_degrees", 0)

	client, err := tk.conn.Borrow()
	if err != nil {
		return Failure("set_yaw", ErrorToolExecution, "%v", err)
	}
	if err := client.RotateToYaw(ctx, tk.conn.Vehicle(), yaw); err != nil {
		return Failure("set_yaw", ErrorToolExecution, "rotation failed: %v", err)
	}
	if err := tk.refreshState(ctx, client); err != nil {
		return Failure("set_yaw", ErrorToolExecution, "state refresh after rotation: %v", err)
	}

	return Success("set_yaw",
		fmt.Sprintf("heading set to %.0f degrees", yaw),
		map[string]any{"yaw_degrees": yaw})
}

// locatedDetection is one detection with its world grounding, or the
// reason grounding failed.
type locatedDetection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Latitude   float64 `json:"latitude,omitempty"`
	Longitude  float64 `json:"longitude,omitempty"`
	Altitude   float64 `json:"altitude_meters,omitempty"`
	Located    bool    `json:"located"`
	Reason     string  `json:"reason,omitempty"`
}

func (tk *Toolkit) captureAndAnalyze(ctx context.Context, args map[string]any) Observation {
	target := stringArg(args, "target", "person")

	client, err := tk.conn.Borrow()
	if err != nil {
		return Failure("capture_and_analyze_rgb", ErrorToolExecution, "%v", err)
	}
	frame, err := client.GetImage(ctx, tk.conn.Vehicle(), "front_center")
	if err != nil {
		return Failure("capture_and_analyze_rgb", ErrorToolExecution, "frame capture failed: %v", err)
	}

	dets, err := tk.detector.Detect(ctx, frame.RGB, frame.Width, frame.Height, []string{target})
	if err != nil {
		return Failure("capture_and_analyze_rgb", ErrorToolExecution, "detection failed: %v", err)
	}
	if len(dets) == 0 {
		return Success("capture_and_analyze_rgb",
			fmt.Sprintf("no %s visible in the current frame", target),
			map[string]any{"detections": 0})
	}

	results := make([]locatedDetection, 0, len(dets))
	for _, d := range dets {
		item := locatedDetection{Label: d.Label, Confidence: d.Confidence}
		cx, cy := d.Box.Center()
		depth := frame.DepthAt(int(cx), int(cy))
		if depth <= 0 {
			item.Reason = fmt.Sprintf("no depth reading at detection center (%.0f, %.0f)", cx, cy)
			tk.logger.Warn("detection could not be grounded", zap.String("reason", item.Reason))
			results = append(results, item)
			continue
		}
		wp, terr := geo.PixelToWorld(cx, cy, depth, frame.Intrinsics, frame.Pose)
		if terr != nil {
			item.Reason = fmt.Sprintf("world transform failed: %v", terr)
			tk.logger.Warn("detection could not be grounded", zap.Error(terr))
			results = append(results, item)
			continue
		}
		gp := geo.GPSFromNED(tk.snapshot().Home, wp)
		item.Latitude = gp.Latitude
		item.Longitude = gp.Longitude
		item.Altitude = gp.AltitudeMeters
		item.Located = true
		results = append(results, item)
	}

	best, _ := detect.Best(dets, 0)
	return Success("capture_and_analyze_rgb",
		fmt.Sprintf("%d detection(s); best: %s at confidence %.2f", len(dets), best.Label, best.Confidence),
		map[string]any{"detections": len(dets), "results": results})
}

func (tk *Toolkit) updateSearchMap(ctx context.Context, args map[string]any) Observation {
	text, _ := args["text"].(string)
	if text == "" {
		return Failure("update_search_map", ErrorInvalidArguments, "text must be non-empty")
	}

	metadata := map[string]string{"source": "observation"}
	if lat, ok := args["latitude"].(float64); ok {
		metadata["latitude"] = fmt.Sprintf("%.6f", lat)
	}
	if lon, ok := args["longitude"].(float64); ok {
		metadata["longitude"] = fmt.Sprintf("%.6f", lon)
	}

	id, err := tk.memory.Ingest(ctx, tk.scene, text, metadata)
	if err != nil {
		return Failure("update_search_map", ErrorToolExecution, "search map update failed: %v", err)
	}

	return Success("update_search_map", "observation recorded", map[string]any{"record_id": id})
}

func (tk *Toolkit) retrieveClues(ctx context.Context, args map[string]any) Observation {
	query, _ := args["query"].(string)
	if query == "" {
		return Failure("retrieve_historical_clues", ErrorInvalidArguments, "query must be non-empty")
	}
	topK := int(floatArg(args, "top_k", 3))

	records, err := tk.memory.Query(ctx, tk.scene, query, topK)
	if err != nil {
		// A failing memory backend never sinks the run; the planner is
		// told retrieval was unavailable, which reads differently from
		// "nothing recorded yet".
		tk.logger.Warn("clue retrieval failed", zap.Error(err))
		return Failure("retrieve_historical_clues", ErrorToolExecution, "memory unavailable: %v", err)
	}
	if len(records) == 0 {
		return Success("retrieve_historical_clues", "no recorded clues match", map[string]any{"clues": 0})
	}

	type clue struct {
		Text     string            `json:"text"`
		Score    float32           `json:"score"`
		Metadata map[string]string `json:"metadata,omitempty"`
	}
	clues := make([]clue, 0, len(records))
	for _, r := range records {
		clues = append(clues, clue{Text: r.Text, Score: r.Score, Metadata: r.Metadata})
	}

	return Success("retrieve_historical_clues",
		fmt.Sprintf("%d clue(s) recalled", len(clues)),
		map[string]any{"clues": len(clues), "results": clues})
}

func (tk *Toolkit) executeVLN(ctx context.Context, args map[string]any) Observation {
	instruction, _ := args["instruction"].(string)
	if instruction == "" {
		return Failure("execute_vln_instruction", ErrorInvalidArguments, "instruction must be non-empty")
	}
	target := stringArg(args, "target", "person")

	result, err := tk.executor.Run(ctx, instruction, TargetVisiblePredicate(tk.detector, target, 0.5))
	if err != nil {
		return Failure("execute_vln_instruction", ErrorToolExecution, "navigation aborted: %v", err)
	}

	client, berr := tk.conn.Borrow()
	if berr == nil {
		if rerr := tk.refreshState(ctx, client); rerr != nil {
			tk.logger.Warn("state refresh after navigation failed", zap.Error(rerr))
		}
	}

	if !result.Completed {
		return Success("execute_vln_instruction",
			fmt.Sprintf("navigation ran %d step(s) without completing the subgoal", result.Steps),
			map[string]any{"completed": false, "steps": result.Steps})
	}
	return Success("execute_vln_instruction",
		fmt.Sprintf("subgoal reached in %d step(s): %s", result.Steps, result.Detail),
		map[string]any{"completed": true, "steps": result.Steps, "detail": result.Detail})
}

func (tk *Toolkit) reportFinding(_ context.Context, args map[string]any) Observation {
	description, _ := args["description"].(string)
	if description == "" {
		return Failure("report_finding", ErrorInvalidArguments, "description must be non-empty")
	}

	tk.mu.Lock()
	tk.state.Finding = description
	tk.state.Done = true
	tk.mu.Unlock()

	return Success("report_finding", "finding reported, mission complete",
		map[string]any{"description": description})
}

package mission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/aerosight/internal/detect"
	"github.com/nidhogg/aerosight/internal/platform"
	"go.uber.org/zap"
)

// Action is one low-level velocity command emitted by a navigation policy.
// Velocities follow the vehicle frame convention used by the flight
// platform (forward, right, down).
type Action struct {
	Vx       float64
	Vy       float64
	Vz       float64
	YawRate  float64
	Duration time.Duration
}

// Predicate decides whether the delegated subgoal is complete given the
// latest frame. Checked before each action so an already-satisfied subgoal
// costs exactly one perception cycle.
type Predicate func(ctx context.Context, frame *platform.CameraFrame) (done bool, detail string)

// Policy maps the latest frame and instruction to the next low-level
// action.
type Policy interface {
	Next(frame *platform.CameraFrame, instruction string) Action
}

// ExecutorResult is the aggregate outcome of one delegated navigation run.
type ExecutorResult struct {
	Completed bool
	Steps     int
	Detail    string
}

// Executor runs the fine-grained visual-navigation sub-loop: capture a
// frame, check the subgoal predicate, apply one policy action, repeat until
// the predicate holds or the budget runs out.
type Executor struct {
	conn    *platform.Connector
	policy  Policy
	maxStep int
	logger  *zap.Logger
}

// NewExecutor creates an executor with the given policy and step budget.
func NewExecutor(conn *platform.Connector, policy Policy, maxSteps int, logger *zap.Logger) *Executor {
	if maxSteps <= 0 {
		maxSteps = 30
	}
	return &Executor{conn: conn, policy: policy, maxStep: maxSteps, logger: logger}
}

// Run drives the inner loop. Platform faults abort the run and are
// reported in the returned error; budget exhaustion is a normal
// non-completed result, not an error.
func (e *Executor) Run(ctx context.Context, instruction string, done Predicate) (*ExecutorResult, error) {
	client, err := e.conn.Borrow()
	if err != nil {
		return nil, err
	}
	vehicle := e.conn.Vehicle()

	for step := 1; step <= e.maxStep; step++ {
		frame, err := client.GetImage(ctx, vehicle, "front_center")
		if err != nil {
			return nil, fmt.Errorf("capture frame: %w", err)
		}

		if ok, detail := done(ctx, frame); ok {
			e.logger.Info("subgoal complete",
				zap.String("instruction", instruction), zap.Int("steps", step))
			return &ExecutorResult{Completed: true, Steps: step, Detail: detail}, nil
		}

		act := e.policy.Next(frame, instruction)
		if err := client.MoveByVelocity(ctx, vehicle, act.Vx, act.Vy, act.Vz, act.YawRate, act.Duration); err != nil {
			return nil, fmt.Errorf("apply action at step %d: %w", step, err)
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	return &ExecutorResult{
		Completed: false,
		Steps:     e.maxStep,
		Detail:    "step budget exhausted before subgoal completion",
	}, nil
}

// DetectionSeekPolicy is a simple reactive policy: creep forward at a
// fixed speed, yawing toward whichever instruction side word ("left" or
// "right") appears, and descending slowly when asked to inspect.
type DetectionSeekPolicy struct {
	Speed    float64
	StepTime time.Duration
}

// NewDetectionSeekPolicy returns a policy with conservative defaults.
func NewDetectionSeekPolicy() *DetectionSeekPolicy {
	return &DetectionSeekPolicy{Speed: 2, StepTime: time.Second}
}

func (p *DetectionSeekPolicy) Next(_ *platform.CameraFrame, instruction string) Action {
	act := Action{Vx: p.Speed, Duration: p.StepTime}
	lower := strings.ToLower(instruction)
	switch {
	case strings.Contains(lower, "left"):
		act.YawRate = -15
	case strings.Contains(lower, "right"):
		act.YawRate = 15
	}
	if strings.Contains(lower, "descend") || strings.Contains(lower, "inspect") {
		act.Vz = 0.5
	}
	return act
}

// TargetVisiblePredicate builds a predicate that holds once the detector
// reports the target label at or above minConfidence in the frame.
func TargetVisiblePredicate(detector *detect.Client, target string, minConfidence float64) Predicate {
	return func(ctx context.Context, frame *platform.CameraFrame) (bool, string) {
		dets, err := detector.Detect(ctx, frame.RGB, frame.Width, frame.Height, []string{target})
		if err != nil {
			// Detector trouble never completes the subgoal; the budget
			// bounds how long a broken detector can stall the inner loop.
			return false, ""
		}
		if best, ok := detect.Best(dets, minConfidence); ok {
			return true, fmt.Sprintf("%s visible at confidence %.2f", best.Label, best.Confidence)
		}
		return false, ""
	}
}

package mission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/aerosight/internal/detect"
	"github.com/nidhogg/aerosight/internal/memory"
	"github.com/nidhogg/aerosight/internal/platform"
	"github.com/nidhogg/aerosight/internal/reasoning"
	"go.uber.org/zap"
)

// Phase is the orchestration loop's current state.
type Phase string

const (
	PhasePending        Phase = "pending"
	PhasePlanning       Phase = "planning"
	PhaseDispatching    Phase = "dispatching"
	PhaseExecutorActive Phase = "executor_active"
	PhaseTerminated     Phase = "terminated"
)

// Outcome is how a terminated mission ended.
type Outcome string

const (
	OutcomeFound     Outcome = "found"
	OutcomeStepLimit Outcome = "step_limit"
	OutcomeStopped   Outcome = "stopped"
	OutcomeFatal     Outcome = "fatal"
)

// Recorder persists mission lifecycle events. Implementations must tolerate
// being called sequentially from the mission's single driving goroutine.
type Recorder interface {
	MissionStarted(ctx context.Context, id, scene, goal string) error
	EntryAppended(ctx context.Context, missionID string, e Entry) error
	MissionEnded(ctx context.Context, missionID string, outcome Outcome, finding string) error
}

// Config is the operator-facing mission configuration.
type Config struct {
	ID                 string
	Scene              string
	Goal               string
	StepLimit          int
	Model              string
	PriorKnowledgePath string
	ExecutorSteps      int
	MaxTokens          int
}

// Result summarizes a finished run.
type Result struct {
	Outcome Outcome `json:"outcome"`
	Finding string  `json:"finding,omitempty"`
	Steps   int     `json:"steps"`
	Err     string  `json:"error,omitempty"`
}

// Mission drives one search run through the planning / dispatching /
// executor state machine. A Mission runs once; all state transitions
// happen on the goroutine that calls Run.
type Mission struct {
	cfg      Config
	conn     *platform.Connector
	reasoner reasoning.Service
	memory   *memory.Store
	detector *detect.Client
	recorder Recorder
	logger   *zap.Logger

	state      AgentState
	transcript Transcript

	mu     sync.RWMutex
	phase  Phase
	result *Result

	stopOnce sync.Once
	stop     chan struct{}

	started time.Time
}

// New creates a mission run. recorder may be nil.
func New(cfg Config, conn *platform.Connector, reasoner reasoning.Service, mem *memory.Store, detector *detect.Client, recorder Recorder, logger *zap.Logger) *Mission {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.StepLimit <= 0 {
		cfg.StepLimit = 25
	}
	if cfg.Scene == "" {
		cfg.Scene = "default"
	}
	return &Mission{
		cfg:      cfg,
		conn:     conn,
		reasoner: reasoner,
		memory:   mem,
		detector: detector,
		recorder: recorder,
		logger:   logger.With(zap.String("mission", cfg.ID)),
		phase:    PhasePending,
		stop:     make(chan struct{}),
	}
}

// ID returns the mission identifier.
func (m *Mission) ID() string { return m.cfg.ID }

// Scene returns the mission's memory namespace.
func (m *Mission) Scene() string { return m.cfg.Scene }

// Goal returns the mission's natural-language goal.
func (m *Mission) Goal() string { return m.cfg.Goal }

// Phase returns the loop's current state.
func (m *Mission) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// Result returns the run summary, or nil while the mission is active.
func (m *Mission) Result() *Result {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.result
}

// Transcript returns a copy of the transcript so far.
func (m *Mission) Transcript() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transcript.Entries()
}

// State returns a snapshot of the agent state.
func (m *Mission) State() AgentState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Stop requests termination. The request is honored at the next loop-state
// transition; an in-flight tool execution runs to completion first.
func (m *Mission) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Mission) stopped() bool {
	select {
	case <-m.stop:
		return true
	default:
		return false
	}
}

func (m *Mission) setPhase(p Phase) {
	m.mu.Lock()
	m.phase = p
	m.mu.Unlock()
}

// Run executes the mission to termination. The returned error is non-nil
// only for fatal conditions; step-limit exhaustion and operator stops are
// normal results.
func (m *Mission) Run(ctx context.Context) (*Result, error) {
	m.started = time.Now()
	m.logger.Info("mission starting",
		zap.String("scene", m.cfg.Scene),
		zap.String("goal", m.cfg.Goal),
		zap.Int("step_limit", m.cfg.StepLimit))

	if m.recorder != nil {
		if err := m.recorder.MissionStarted(ctx, m.cfg.ID, m.cfg.Scene, m.cfg.Goal); err != nil {
			m.logger.Warn("mission record failed", zap.Error(err))
		}
	}

	if err := m.acquirePlatform(ctx); err != nil {
		return m.finish(ctx, OutcomeFatal, err)
	}
	defer m.conn.Close(context.WithoutCancel(ctx))

	registry := m.buildRegistry()

	systemPrompt, err := m.buildPrompt(ctx)
	if err != nil {
		return m.finish(ctx, OutcomeFatal, err)
	}
	tools := registry.Definitions()

	for m.state.Steps < m.cfg.StepLimit {
		if m.stopped() || ctx.Err() != nil {
			return m.finish(ctx, OutcomeStopped, ctx.Err())
		}

		m.setPhase(PhasePlanning)
		m.mu.Lock()
		m.state.Steps++
		step := m.state.Steps
		m.mu.Unlock()

		decision, err := m.reasoner.Decide(ctx, &reasoning.Request{
			Model: m.cfg.Model,
			Messages: append([]reasoning.Message{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: "Begin. Report progress through tool calls."},
			}, m.transcript.Messages()...),
			Tools:     tools,
			MaxTokens: m.cfg.MaxTokens,
		})
		if err != nil {
			return m.finish(ctx, OutcomeFatal, fmt.Errorf("planning step %d: %w", step, err))
		}

		m.appendThought(ctx, step, decision)

		// A decision with no calls is a no-op planning step. It still
		// counts against the ceiling.
		if len(decision.Calls) == 0 {
			m.logger.Debug("no-op planning step", zap.Int("step", step))
			continue
		}

		if m.stopped() {
			return m.finish(ctx, OutcomeStopped, nil)
		}

		m.setPhase(PhaseDispatching)
		for _, call := range decision.Calls {
			if registry.IsDelegating(call.Function.Name) {
				m.setPhase(PhaseExecutorActive)
			}
			obs := registry.Dispatch(ctx, call.Function.Name, call.Function.Arguments)
			m.setPhase(PhaseDispatching)
			m.appendObservation(ctx, step, call, obs)

			m.logger.Info("tool dispatched",
				zap.Int("step", step),
				zap.String("tool", call.Function.Name),
				zap.String("status", string(obs.Status)),
				zap.String("summary", obs.Summary))
		}

		if m.State().Done {
			return m.finish(ctx, OutcomeFound, nil)
		}
	}

	return m.finish(ctx, OutcomeStepLimit, nil)
}

// acquirePlatform connects and arms the vehicle. Arming failure gets one
// full reconnect-and-rearm retry before the run aborts.
func (m *Mission) acquirePlatform(ctx context.Context) error {
	if err := m.conn.Connect(ctx); err != nil {
		return err
	}
	if err := m.conn.Arm(ctx); err != nil {
		if !errors.Is(err, platform.ErrArmFailure) {
			return err
		}
		m.logger.Warn("arming failed, reconnecting once", zap.Error(err))
		if cerr := m.conn.Connect(ctx); cerr != nil {
			return cerr
		}
		if aerr := m.conn.Arm(ctx); aerr != nil {
			return fmt.Errorf("arming failed after reconnect: %w", aerr)
		}
	}

	client, err := m.conn.Borrow()
	if err != nil {
		return err
	}
	vs, err := client.GetState(ctx, m.conn.Vehicle())
	if err != nil {
		return fmt.Errorf("initial state query: %w", err)
	}
	m.mu.Lock()
	m.state.Pose = vs.Pose
	m.state.GPS = vs.GPS
	m.state.Home = vs.GPS
	m.state.Flying = !vs.Landed
	m.mu.Unlock()
	return nil
}

func (m *Mission) buildRegistry() *Registry {
	policy := NewDetectionSeekPolicy()
	executor := NewExecutor(m.conn, policy, m.cfg.ExecutorSteps, m.logger)
	toolkit := NewToolkit(m.conn, m.memory, m.detector, executor, &m.state, &m.mu, m.cfg.Scene, m.logger)

	registry := NewRegistry(m.logger)
	RegisterBuiltinTools(registry, toolkit)
	return registry
}

func (m *Mission) buildPrompt(ctx context.Context) (string, error) {
	var priors []string
	if m.cfg.PriorKnowledgePath != "" {
		entries, err := LoadPriorKnowledge(m.cfg.PriorKnowledgePath)
		if err != nil {
			return "", err
		}
		priors, err = IngestPriors(ctx, m.memory, m.cfg.Scene, entries, m.logger)
		if err != nil {
			return "", err
		}
	}
	return SystemPrompt(m.cfg.Goal, priors), nil
}

func (m *Mission) appendThought(ctx context.Context, step int, d *reasoning.Decision) {
	m.mu.Lock()
	m.transcript.AddThought(step, d.Thought, d.Calls)
	entry := m.transcript.entries[len(m.transcript.entries)-1]
	m.mu.Unlock()
	m.record(ctx, entry)
}

func (m *Mission) appendObservation(ctx context.Context, step int, call reasoning.ToolCall, obs Observation) {
	m.mu.Lock()
	m.transcript.AddObservation(step, call, obs)
	entry := m.transcript.entries[len(m.transcript.entries)-1]
	m.mu.Unlock()
	m.record(ctx, entry)
}

func (m *Mission) record(ctx context.Context, e Entry) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.EntryAppended(ctx, m.cfg.ID, e); err != nil {
		m.logger.Warn("transcript record failed", zap.Error(err))
	}
}

// finish lands the vehicle if still airborne, seals the result, and
// persists the terminal record.
func (m *Mission) finish(ctx context.Context, outcome Outcome, cause error) (*Result, error) {
	m.landIfFlying(ctx)

	st := m.State()
	res := &Result{
		Outcome: outcome,
		Finding: st.Finding,
		Steps:   st.Steps,
	}
	if cause != nil {
		res.Err = cause.Error()
	}

	m.mu.Lock()
	m.phase = PhaseTerminated
	m.result = res
	m.mu.Unlock()

	if m.recorder != nil {
		if err := m.recorder.MissionEnded(context.WithoutCancel(ctx), m.cfg.ID, outcome, res.Finding); err != nil {
			m.logger.Warn("mission end record failed", zap.Error(err))
		}
	}

	m.logger.Info("mission terminated",
		zap.String("outcome", string(outcome)),
		zap.Int("steps", res.Steps),
		zap.Duration("elapsed", time.Since(m.started)),
		zap.Error(cause))

	if outcome == OutcomeFatal {
		return res, cause
	}
	return res, nil
}

func (m *Mission) landIfFlying(ctx context.Context) {
	if !m.State().Flying {
		return
	}
	client, err := m.conn.Borrow()
	if err != nil {
		return
	}
	landCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := client.Land(landCtx, m.conn.Vehicle()); err != nil {
		m.logger.Warn("final landing failed", zap.Error(err))
		return
	}
	m.mu.Lock()
	m.state.Flying = false
	m.mu.Unlock()
}

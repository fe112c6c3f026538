package mission

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/nidhogg/aerosight/internal/detect"
	"github.com/nidhogg/aerosight/internal/memory"
	"github.com/nidhogg/aerosight/internal/platform"
	"github.com/nidhogg/aerosight/internal/reasoning"
	"go.uber.org/zap"
)

// ErrMissionNotFound is returned for lookups of unknown mission IDs.
var ErrMissionNotFound = errors.New("mission not found")

// Manager launches and tracks mission runs. Each run gets its own platform
// connector, so concurrent missions never share a link.
type Manager struct {
	platformCfg platform.Config
	router      *reasoning.Router
	memory      *memory.Store
	detector    *detect.Client
	recorder    Recorder
	logger      *zap.Logger

	mu       sync.RWMutex
	defaults Config
	missions map[string]*Mission
	order    []string
}

// NewManager creates a mission manager. recorder may be nil.
func NewManager(platformCfg platform.Config, router *reasoning.Router, mem *memory.Store, detector *detect.Client, recorder Recorder, logger *zap.Logger) *Manager {
	return &Manager{
		platformCfg: platformCfg,
		router:      router,
		memory:      mem,
		detector:    detector,
		recorder:    recorder,
		logger:      logger,
		missions:    make(map[string]*Mission),
	}
}

// SetDefaults installs operator defaults applied to launch requests that
// leave the corresponding fields unset.
func (mgr *Manager) SetDefaults(d Config) {
	mgr.mu.Lock()
	mgr.defaults = d
	mgr.mu.Unlock()
}

func (mgr *Manager) applyDefaults(cfg Config) Config {
	mgr.mu.RLock()
	d := mgr.defaults
	mgr.mu.RUnlock()

	if cfg.StepLimit <= 0 {
		cfg.StepLimit = d.StepLimit
	}
	if cfg.ExecutorSteps <= 0 {
		cfg.ExecutorSteps = d.ExecutorSteps
	}
	if cfg.Model == "" {
		cfg.Model = d.Model
	}
	if cfg.PriorKnowledgePath == "" {
		cfg.PriorKnowledgePath = d.PriorKnowledgePath
	}
	return cfg
}

// Launch starts a mission run in the background and returns it immediately.
func (mgr *Manager) Launch(ctx context.Context, cfg Config) *Mission {
	cfg = mgr.applyDefaults(cfg)
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	conn := platform.NewConnector(mgr.platformCfg, mgr.logger)
	m := New(cfg, conn, mgr.router.ForMission(cfg.ID), mgr.memory, mgr.detector, mgr.recorder, mgr.logger)

	mgr.mu.Lock()
	mgr.missions[m.ID()] = m
	mgr.order = append(mgr.order, m.ID())
	mgr.mu.Unlock()

	go func() {
		if _, err := m.Run(context.WithoutCancel(ctx)); err != nil {
			mgr.logger.Error("mission run failed",
				zap.String("mission", m.ID()), zap.Error(err))
		}
	}()
	return m
}

// Get returns a mission by ID.
func (mgr *Manager) Get(id string) (*Mission, error) {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	m, ok := mgr.missions[id]
	if !ok {
		return nil, ErrMissionNotFound
	}
	return m, nil
}

// List returns all missions in launch order.
func (mgr *Manager) List() []*Mission {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	out := make([]*Mission, 0, len(mgr.order))
	for _, id := range mgr.order {
		out = append(out, mgr.missions[id])
	}
	return out
}

// Stop requests termination of a running mission.
func (mgr *Manager) Stop(id string) error {
	m, err := mgr.Get(id)
	if err != nil {
		return err
	}
	m.Stop()
	return nil
}

// StopAll requests termination of every active mission, newest first.
func (mgr *Manager) StopAll() {
	mgr.mu.RLock()
	ids := make([]string, len(mgr.order))
	copy(ids, mgr.order)
	mgr.mu.RUnlock()

	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	for _, id := range ids {
		if m, err := mgr.Get(id); err == nil {
			m.Stop()
		}
	}
}

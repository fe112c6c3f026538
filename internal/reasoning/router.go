package reasoning

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Router manages multiple reasoning services and routes requests.
type Router struct {
	services  map[string]Service
	bindings  map[string]string   // missionID -> serviceID
	fallbacks map[string][]string // missionID -> fallback service chain
	defaults  string              // default service ID
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a new reasoning router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		services:  make(map[string]Service),
		bindings:  make(map[string]string),
		fallbacks: make(map[string][]string),
		logger:    logger,
	}
}

// Register adds a service to the router.
func (r *Router) Register(s Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[s.ID()] = s
	if r.defaults == "" {
		r.defaults = s.ID()
	}
	r.logger.Info("registered reasoning service", zap.String("id", s.ID()), zap.String("name", s.Name()))
}

// SetDefault sets the default service.
func (r *Router) SetDefault(serviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = serviceID
}

// DefaultID returns the current default service ID.
func (r *Router) DefaultID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults
}

// Bind associates a mission with a specific service.
func (r *Router) Bind(missionID, serviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[missionID] = serviceID
}

// SetFallbacks configures fallback services for a mission.
func (r *Router) SetFallbacks(missionID string, serviceIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[missionID] = serviceIDs
}

// Route sends a planning request through the appropriate service.
func (r *Router) Route(ctx context.Context, missionID string, req *Request) (*Decision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	primary := r.getService(missionID)
	if primary == nil {
		return nil, fmt.Errorf("no reasoning service available for mission %s", missionID)
	}

	dec, err := primary.Decide(ctx, req)
	if err == nil {
		return dec, nil
	}
	r.logger.Warn("primary reasoning service failed, trying fallbacks",
		zap.String("mission", missionID), zap.Error(err))

	for _, fbID := range r.fallbacks[missionID] {
		fb, ok := r.services[fbID]
		if !ok {
			continue
		}
		dec, err = fb.Decide(ctx, req)
		if err == nil {
			return dec, nil
		}
		r.logger.Warn("fallback reasoning service failed", zap.String("service", fbID), zap.Error(err))
	}

	return nil, fmt.Errorf("all reasoning services failed for mission %s: %w", missionID, err)
}

func (r *Router) getService(missionID string) Service {
	if sid, ok := r.bindings[missionID]; ok {
		if s, ok := r.services[sid]; ok {
			return s
		}
	}
	if s, ok := r.services[r.defaults]; ok {
		return s
	}
	return nil
}

// GetService returns a service by ID.
func (r *Router) GetService(id string) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[id]
	return s, ok
}

// ListServices returns all registered services.
func (r *Router) ListServices() []Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Service, 0, len(r.services))
	for _, s := range r.services {
		result = append(result, s)
	}
	return result
}

// ForMission returns a Service view that routes every Decide call for
// the given mission through the router's binding and fallback chain.
func (r *Router) ForMission(missionID string) Service {
	return &routedService{router: r, missionID: missionID}
}

type routedService struct {
	router    *Router
	missionID string
}

func (s *routedService) ID() string   { return "router:" + s.missionID }
func (s *routedService) Name() string { return "routed reasoner" }

func (s *routedService) Decide(ctx context.Context, req *Request) (*Decision, error) {
	return s.router.Route(ctx, s.missionID, req)
}

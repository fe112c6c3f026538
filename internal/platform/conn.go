package platform

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

var (
	// ErrConnectionExhausted is returned when every connection attempt
	// has failed. Fatal to the mission run.
	ErrConnectionExhausted = errors.New("platform: connection attempts exhausted")

	// ErrArmFailure is returned when the vehicle could not be armed after
	// a successful connection. Reported upward; arming never re-enters
	// the connect loop.
	ErrArmFailure = errors.New("platform: arm failure")

	// ErrNotConnected is returned when a handler borrows the link before
	// Connect has succeeded or after teardown.
	ErrNotConnected = errors.New("platform: not connected")
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateArmed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateArmed:
		return "armed"
	default:
		return "disconnected"
	}
}

// Config holds connection settings for the flight platform.
type Config struct {
	// Endpoints lists addressable platform endpoints, tried in order:
	// attempt N uses Endpoints[N % len(Endpoints)].
	Endpoints []string `json:"endpoints"`

	// Vehicle is the preferred vehicle name. Arming also tries the
	// platform default ("") when the named vehicle rejects control.
	Vehicle string `json:"vehicle"`

	MaxAttempts     int           `json:"max_attempts"`
	InitialInterval time.Duration `json:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval"`
	RequestTimeout  time.Duration `json:"request_timeout"`
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxAttempts == 0 {
		out.MaxAttempts = 5
	}
	if out.InitialInterval == 0 {
		out.InitialInterval = time.Second
	}
	if out.MaxInterval == 0 {
		out.MaxInterval = 30 * time.Second
	}
	if out.RequestTimeout == 0 {
		out.RequestTimeout = 30 * time.Second
	}
	return out
}

// Connector owns the flight-platform link. Tool handlers borrow the client
// through Borrow for each call; nothing else stores it, so a reconnect can
// never leave a handler holding a stale link.
type Connector struct {
	cfg     Config
	vehicle string
	logger  *zap.Logger

	mu     sync.RWMutex
	state  State
	client *Client

	// Test seams: dial builds a client for an endpoint, sleep waits
	// between attempts.
	dial  func(endpoint string) *Client
	sleep func(ctx context.Context, d time.Duration) error
}

// NewConnector creates a Connector in the Disconnected state.
func NewConnector(cfg Config, logger *zap.Logger) *Connector {
	cfg = cfg.withDefaults()
	c := &Connector{
		cfg:     cfg,
		vehicle: cfg.Vehicle,
		logger:  logger,
		state:   StateDisconnected,
	}
	c.dial = func(endpoint string) *Client {
		return NewClient(endpoint, cfg.RequestTimeout)
	}
	c.sleep = func(ctx context.Context, d time.Duration) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
	return c
}

// State returns the current connection state.
func (c *Connector) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Vehicle returns the vehicle name that accepted control, or the configured
// preference before arming.
func (c *Connector) Vehicle() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vehicle
}

// Borrow hands out the live client. Callers must not retain it across calls.
func (c *Connector) Borrow() (*Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateConnected && c.state != StateArmed {
		return nil, ErrNotConnected
	}
	return c.client, nil
}

// Connect performs the RPC handshake with exponential backoff, cycling
// through the configured endpoints in order. It returns
// ErrConnectionExhausted once the attempt ceiling is reached.
func (c *Connector) Connect(ctx context.Context) error {
	if len(c.cfg.Endpoints) == 0 {
		return fmt.Errorf("%w: no endpoints configured", ErrConnectionExhausted)
	}

	c.setState(StateConnecting)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialInterval
	bo.MaxInterval = c.cfg.MaxInterval
	bo.MaxElapsedTime = 0
	bo.RandomizationFactor = 0 // keeps the delay sequence non-decreasing
	bo.Reset()

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, bo.NextBackOff()); err != nil {
				c.setState(StateDisconnected)
				return err
			}
		}

		endpoint := c.cfg.Endpoints[attempt%len(c.cfg.Endpoints)]
		client := c.dial(endpoint)

		handshake, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		err := client.Ping(handshake)
		cancel()
		if err == nil {
			c.mu.Lock()
			c.client = client
			c.state = StateConnected
			c.mu.Unlock()
			c.logger.Info("platform connected",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt+1))
			return nil
		}

		lastErr = err
		c.logger.Warn("platform connection attempt failed",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.cfg.MaxAttempts),
			zap.Error(err))
	}

	c.setState(StateDisconnected)
	return fmt.Errorf("%w after %d attempts: %v", ErrConnectionExhausted, c.cfg.MaxAttempts, lastErr)
}

// Arm resets the simulation and unlocks the vehicle. One attempt per
// candidate vehicle name; failure is reported upward as ErrArmFailure so the
// orchestration loop decides whether to retry the connection or abort.
func (c *Connector) Arm(ctx context.Context) error {
	client, err := c.Borrow()
	if err != nil {
		return err
	}

	if err := client.Reset(ctx); err != nil {
		return fmt.Errorf("%w: reset: %v", ErrArmFailure, err)
	}

	names := []string{c.cfg.Vehicle, ""}
	var lastErr error
	for _, name := range names {
		if err := client.EnableAPIControl(ctx, name); err != nil {
			lastErr = err
			continue
		}
		if err := client.Arm(ctx, name); err != nil {
			lastErr = err
			continue
		}
		c.mu.Lock()
		c.vehicle = name
		c.state = StateArmed
		c.mu.Unlock()
		c.logger.Info("vehicle armed", zap.String("vehicle", name))
		return nil
	}
	return fmt.Errorf("%w: %v", ErrArmFailure, lastErr)
}

// Close disarms best-effort and tears the link down.
func (c *Connector) Close(ctx context.Context) {
	c.mu.Lock()
	client, state, vehicle := c.client, c.state, c.vehicle
	c.client = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if client != nil && state == StateArmed {
		if err := client.Disarm(ctx, vehicle); err != nil {
			c.logger.Warn("disarm on teardown failed", zap.Error(err))
		}
	}
}

func (c *Connector) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Package driver runs a tick-driven runtime on a fixed interval and provides
// the exclusive section every other caller must enter to touch it.
package driver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/warpdl/warpstream/pkg/logger"
)

// Sentinel errors for the runner.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running runner.
	ErrAlreadyRunning = errors.New("runner is already running")

	// ErrNotRunning is returned when Shutdown() is called on a stopped runner.
	ErrNotRunning = errors.New("runner is not running")

	// ErrShutdownTimeout is returned when shutdown exceeds the configured timeout.
	ErrShutdownTimeout = errors.New("shutdown timed out")
)

// DefaultInterval is roughly one frame at 60 Hz.
const DefaultInterval = 16 * time.Millisecond

// Target is what the runner ticks.
type Target interface {
	Tick() error
}

// Config holds the configuration for the runner.
type Config struct {
	// Interval between ticks. Defaults to DefaultInterval.
	Interval time.Duration

	// StopOnError ends Start with the first tick error instead of logging it.
	StopOnError bool

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// A zero value means no timeout.
	ShutdownTimeout time.Duration
}

// Dependencies holds the external dependencies for the runner.
// This enables dependency injection for testing.
type Dependencies struct {
	// Clock drives the tick interval. If nil, the wall clock is used.
	Clock clock.Clock

	// Logger receives tick errors. If nil, errors are dropped.
	Logger logger.Logger

	// ShutdownFunc is called during shutdown, inside the exclusive section,
	// to release the target.
	ShutdownFunc func() error
}

// Runner ticks a target and serializes every access to it.
type Runner[T Target] struct {
	config *Config
	deps   *Dependencies
	target T

	// section guards the target.
	section sync.Mutex
	ticks   uint64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a runner for target.
// If config is nil, default values are used.
// If deps is nil, default dependencies are used.
func New[T Target](target T, config *Config, deps *Dependencies) *Runner[T] {
	return &Runner[T]{
		config: applyConfigDefaults(config),
		deps:   applyDependencyDefaults(deps),
		target: target,
	}
}

func applyConfigDefaults(config *Config) *Config {
	if config == nil {
		config = &Config{}
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	return config
}

func applyDependencyDefaults(deps *Dependencies) *Dependencies {
	if deps == nil {
		deps = &Dependencies{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	deps.Logger = logger.OrNop(deps.Logger)
	return deps
}

// Config returns the runner's configuration.
func (r *Runner[T]) Config() *Config {
	return r.config
}

// Start ticks the target until ctx is canceled or Shutdown is called.
// Returns ErrAlreadyRunning if the runner is already started.
func (r *Runner[T]) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	r.running = true
	done := r.done
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		close(done)
	}()

	ticker := r.deps.Clock.Ticker(r.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.TickOnce(); err != nil {
				if r.config.StopOnError {
					return err
				}
				r.deps.Logger.Error("driver: tick: %v", err)
			}
		}
	}
}

// TickOnce runs a single tick inside the exclusive section.
func (r *Runner[T]) TickOnce() error {
	r.section.Lock()
	defer r.section.Unlock()
	r.ticks++
	return r.target.Tick()
}

// Do runs fn with exclusive access to the target.
func (r *Runner[T]) Do(fn func(T) error) error {
	r.section.Lock()
	defer r.section.Unlock()
	return fn(r.target)
}

// Ticks returns the number of ticks run so far.
func (r *Runner[T]) Ticks() uint64 {
	r.section.Lock()
	defer r.section.Unlock()
	return r.ticks
}

// Shutdown stops the tick loop, waits for it to return and runs the
// shutdown function.
// Returns ErrNotRunning if the runner is not running.
// Returns ErrShutdownTimeout if stopping exceeds the configured timeout.
func (r *Runner[T]) Shutdown() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrNotRunning
	}
	r.cancel()
	done := r.done
	r.mu.Unlock()

	return r.executeWithTimeout(func() error {
		<-done
		if r.deps.ShutdownFunc == nil {
			return nil
		}
		r.section.Lock()
		defer r.section.Unlock()
		return r.deps.ShutdownFunc()
	})
}

// executeWithTimeout runs fn, giving up after the configured timeout.
func (r *Runner[T]) executeWithTimeout(fn func() error) error {
	if r.config.ShutdownTimeout <= 0 {
		return fn()
	}
	result := make(chan error, 1)
	go func() {
		result <- fn()
	}()
	select {
	case err := <-result:
		return err
	case <-time.After(r.config.ShutdownTimeout):
		return ErrShutdownTimeout
	}
}

// IsRunning returns true if the tick loop is active.
func (r *Runner[T]) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

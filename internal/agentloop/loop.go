// Package agentloop runs the autonomous background invocation of the agent.
// The loop never runs while a foreground task holds the session: a tick that
// finds the foreground busy is skipped, not deferred.
package agentloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AltairaLabs/assistant-server/internal/orchestrator"
	"github.com/AltairaLabs/assistant-server/internal/orchestrator/retry"
)

// State is the loop's scheduler state
type State string

const (
	StateStopped State = "stopped"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
)

// ParseState converts a client command into a State
func ParseState(s string) (State, error) {
	switch State(s) {
	case StateStopped, StatePlaying, StatePaused:
		return State(s), nil
	default:
		return "", fmt.Errorf("unknown loop state %q", s)
	}
}

// Invoker runs one background prompt against the current session
type Invoker interface {
	RunBackground(ctx context.Context, prompt string) (string, error)
}

// InvokerFunc adapts a function to Invoker
type InvokerFunc func(ctx context.Context, prompt string) (string, error)

// RunBackground calls f(ctx, prompt)
func (f InvokerFunc) RunBackground(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Config controls the loop schedule
type Config struct {
	Interval time.Duration
	Prompt   string
	// Retry bounds re-invocation after a failed run within one tick
	Retry retry.Policy
}

// Stats counts loop activity
type Stats struct {
	Runs    int64     `json:"runs"`
	Skipped int64     `json:"skipped"`
	Failed  int64     `json:"failed"`
	LastRun time.Time `json:"lastRun,omitempty"`
}

// Loop periodically invokes the agent while playing. It implements
// orchestrator.BusyListener.
type Loop struct {
	cfg     Config
	invoker Invoker
	logger  *slog.Logger

	busy atomic.Bool
	kick chan struct{}

	mu    sync.Mutex
	state State
	stats Stats
}

// New creates a stopped loop
func New(cfg Config, invoker Invoker, logger *slog.Logger) *Loop {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultPolicy().WithMaxAttempts(1)
	}
	return &Loop{
		cfg:     cfg,
		invoker: invoker,
		logger:  logger,
		kick:    make(chan struct{}, 1),
		state:   StateStopped,
	}
}

// SetForegroundBusy implements orchestrator.BusyListener
func (l *Loop) SetForegroundBusy(busy bool) {
	l.busy.Store(busy)
}

// Play starts or resumes the loop. Starting from stopped runs a tick
// immediately; resuming from paused waits for the next interval.
func (l *Loop) Play() {
	l.mu.Lock()
	prev := l.state
	l.state = StatePlaying
	l.mu.Unlock()

	if prev == StateStopped {
		select {
		case l.kick <- struct{}{}:
		default:
		}
	}
	l.logger.Info("Agent loop playing", "previous", prev)
}

// Pause suspends the loop; it has no effect unless playing
func (l *Loop) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StatePlaying {
		l.state = StatePaused
		l.logger.Info("Agent loop paused")
	}
}

// Stop stops the loop
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateStopped
	l.logger.Info("Agent loop stopped")
}

// Set moves the loop to state
func (l *Loop) Set(state State) {
	switch state {
	case StatePlaying:
		l.Play()
	case StatePaused:
		l.Pause()
	default:
		l.Stop()
	}
}

// State returns the scheduler state
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Config returns the effective configuration, defaults applied
func (l *Loop) Config() Config {
	return l.cfg
}

// Stats returns a copy of the loop counters
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Start runs the scheduler until ctx is cancelled
func (l *Loop) Start(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.logger.Info("Agent loop scheduler started", "interval", l.cfg.Interval)

	for {
		select {
		case <-ticker.C:
			l.tick(ctx)
		case <-l.kick:
			l.tick(ctx)
		case <-ctx.Done():
			l.logger.Info("Agent loop scheduler stopped")
			return
		}
	}
}

// tick runs one scheduled invocation unless the loop is not playing or the
// foreground is busy
func (l *Loop) tick(ctx context.Context) {
	for attempt := 1; ; attempt++ {
		if l.State() != StatePlaying {
			return
		}
		if l.busy.Load() {
			l.count(func(s *Stats) { s.Skipped++ })
			l.logger.Debug("Skipping background run, foreground busy")
			return
		}

		_, err := l.invoker.RunBackground(ctx, l.cfg.Prompt)
		switch {
		case err == nil:
			l.count(func(s *Stats) {
				s.Runs++
				s.LastRun = time.Now()
			})
			return
		case errors.Is(err, orchestrator.ErrBusy):
			l.count(func(s *Stats) { s.Skipped++ })
			return
		case ctx.Err() != nil:
			return
		case !l.cfg.Retry.Allows(attempt + 1):
			l.count(func(s *Stats) { s.Failed++ })
			l.logger.Error("Background run failed", "attempts", attempt, "error", err)
			return
		}

		delay := l.cfg.Retry.CalculateDelay(attempt)
		l.logger.Warn("Background run failed, retrying",
			"attempt", attempt,
			"retry_in", delay,
			"error", err,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func (l *Loop) count(fn func(*Stats)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(&l.stats)
}

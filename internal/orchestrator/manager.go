package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
)

// SessionFactory creates the session for a working directory
type SessionFactory func(workDir string) (*Session, error)

// Manager owns the current session and replaces it on workspace switch.
// Clients attach through the manager so they follow the switch.
type Manager struct {
	mu           sync.RWMutex
	current      atomic.Pointer[Session]
	factory      SessionFactory
	closeTimeout time.Duration
	hooks        []func() error
	logger       *slog.Logger

	// listeners only ever see the current session's busy state
	pubMu     sync.Mutex
	listeners []BusyListener
}

// NewManager creates the initial session for workDir. The listeners follow
// the foreground state of whichever session is current.
func NewManager(factory SessionFactory, workDir string, closeTimeout time.Duration, logger *slog.Logger, listeners ...BusyListener) (*Manager, error) {
	s, err := factory(workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", workDir, err)
	}
	logger.Info("Session created", "session_id", s.ID(), "workdir", workDir)
	m := &Manager{
		factory:      factory,
		closeTimeout: closeTimeout,
		logger:       logger,
		listeners:    listeners,
	}
	m.current.Store(s)
	m.follow(s)
	return m, nil
}

// follow relays s's busy transitions while s is current
func (m *Manager) follow(s *Session) {
	if len(m.listeners) == 0 {
		return
	}
	s.Busy().Subscribe(BusyListenerFunc(func(busy bool) {
		m.pubMu.Lock()
		defer m.pubMu.Unlock()
		if m.current.Load() != s {
			return
		}
		m.publish(busy)
	}))
}

// publish must be called with pubMu held
func (m *Manager) publish(busy bool) {
	for _, l := range m.listeners {
		l.SetForegroundBusy(busy)
	}
}

// Current returns the active session
func (m *Manager) Current() *Session {
	return m.current.Load()
}

// Attach registers a client with the current session
func (m *Manager) Attach(clientID string, snd Sender) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.current.Load().Attach(clientID, snd)
}

// Detach removes a client from the current session
func (m *Manager) Detach(clientID string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.current.Load().Detach(clientID)
}

// Switch tears down the current session, cancelling its in-flight work, and
// replaces it with a session for workDir. Attached clients move to the new
// session and are told about the change.
func (m *Manager) Switch(ctx context.Context, workDir string) (*Session, error) {
	next, err := m.factory(workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", workDir, err)
	}
	m.follow(next)

	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.current.Load()

	// close while clients are still attached so they see their task settle
	closeCtx, cancel := context.WithTimeout(ctx, m.closeTimeout)
	defer cancel()
	if err := prev.Close(closeCtx); err != nil {
		m.logger.Warn("Previous session did not settle before switch",
			"session_id", prev.ID(),
			"error", err,
		)
	}

	clients := prev.Fanout().DetachAll()

	// a late release from prev is dropped by the relay once next is current
	m.pubMu.Lock()
	m.current.Store(next)
	m.publish(next.Busy().Busy())
	m.pubMu.Unlock()

	for id, snd := range clients {
		next.Attach(id, snd)
	}
	next.broadcast(WorkspaceChangedEvent(workDir))

	m.logger.Info("Workspace switched",
		"from_session", prev.ID(),
		"to_session", next.ID(),
		"workdir", workDir,
		"clients", len(clients),
	)
	return next, nil
}

// OnShutdown registers fn to run after the current session closes
func (m *Manager) OnShutdown(fn func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// Shutdown closes the current session and runs the shutdown hooks. All
// failures are returned together.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	s := m.current.Load()
	hooks := append([]func() error(nil), m.hooks...)
	m.mu.RUnlock()

	var result *multierror.Error
	closeCtx, cancel := context.WithTimeout(ctx, m.closeTimeout)
	defer cancel()
	if err := s.Close(closeCtx); err != nil {
		result = multierror.Append(result, err)
	}
	s.Fanout().DetachAll()

	for _, fn := range hooks {
		if err := fn(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

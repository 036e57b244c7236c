package orchestrator

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Sender delivers events to one attached client. Implementations must not
// block for long; transports buffer and drop slow consumers themselves.
type Sender interface {
	Send(ev Event) error
}

// SenderFunc adapts a function to Sender
type SenderFunc func(ev Event) error

// Send calls f(ev)
func (f SenderFunc) Send(ev Event) error {
	return f(ev)
}

// Fanout tracks the clients attached to a session and delivers events to
// one of them or to all of them
type Fanout struct {
	clients map[string]Sender
	mu      sync.RWMutex
	logger  *slog.Logger
	metrics *Metrics
}

// NewFanout creates an empty fanout
func NewFanout(logger *slog.Logger, metrics *Metrics) *Fanout {
	return &Fanout{
		clients: make(map[string]Sender),
		logger:  logger,
		metrics: metrics,
	}
}

// Attach registers a client, replacing any previous sender with the same ID
func (f *Fanout) Attach(clientID string, s Sender) {
	f.mu.Lock()
	f.clients[clientID] = s
	n := len(f.clients)
	f.mu.Unlock()

	f.metrics.setClients(n)
	f.logger.Debug("Client attached", "client_id", clientID, "clients", n)
}

// Detach removes a client; unknown IDs are ignored
func (f *Fanout) Detach(clientID string) {
	f.mu.Lock()
	delete(f.clients, clientID)
	n := len(f.clients)
	f.mu.Unlock()

	f.metrics.setClients(n)
	f.logger.Debug("Client detached", "client_id", clientID, "clients", n)
}

// DetachAll removes every client and returns their senders
func (f *Fanout) DetachAll() map[string]Sender {
	f.mu.Lock()
	out := f.clients
	f.clients = make(map[string]Sender)
	f.mu.Unlock()

	f.metrics.setClients(0)
	return out
}

// Clients returns the attached client IDs in sorted order
func (f *Fanout) Clients() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ids := make([]string, 0, len(f.clients))
	for id := range f.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of attached clients
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// SendTo delivers ev to one client
func (f *Fanout) SendTo(clientID string, ev Event) error {
	f.mu.RLock()
	s, ok := f.clients[clientID]
	f.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%s: %w", clientID, ErrClientNotAttached)
	}
	if err := s.Send(ev); err != nil {
		f.logger.Warn("Failed to deliver event",
			"client_id", clientID,
			"event", ev.Type,
			"error", err,
		)
		return fmt.Errorf("client %s: %w", clientID, err)
	}
	return nil
}

// Broadcast delivers ev to every attached client. A failing client does not
// stop delivery to the others; all failures are aggregated.
func (f *Fanout) Broadcast(ev Event) error {
	f.mu.RLock()
	targets := make(map[string]Sender, len(f.clients))
	for id, s := range f.clients {
		targets[id] = s
	}
	f.mu.RUnlock()

	var result *multierror.Error
	for id, s := range targets {
		if err := s.Send(ev); err != nil {
			f.logger.Warn("Failed to broadcast event",
				"client_id", id,
				"event", ev.Type,
				"error", err,
			)
			result = multierror.Append(result, fmt.Errorf("client %s: %w", id, err))
		}
	}
	return result.ErrorOrNil()
}

// Deliver routes ev by scope. Origin-scoped events without an origin (the
// background loop, internal callers) are dropped.
func (f *Fanout) Deliver(scope Scope, origin string, ev Event) error {
	if scope == ScopeAll {
		return f.Broadcast(ev)
	}
	if origin == "" {
		return nil
	}
	return f.SendTo(origin, ev)
}

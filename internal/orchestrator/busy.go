package orchestrator

import (
	"sync"
	"sync/atomic"
)

// BusyListener is told when the foreground slot becomes occupied or free.
// Implementations are called while the guard holds its lock and must not
// block or call back into the session.
type BusyListener interface {
	SetForegroundBusy(busy bool)
}

// BusyListenerFunc adapts a function to BusyListener
type BusyListenerFunc func(busy bool)

// SetForegroundBusy calls f(busy)
func (f BusyListenerFunc) SetForegroundBusy(busy bool) {
	f(busy)
}

// BusySignal is the foreground-busy flag owned by a TaskGuard. It is advisory
// for the background loop: it tells it not to invoke the runtime, it does not
// stop it from doing so.
type BusySignal struct {
	mu        sync.Mutex
	busy      atomic.Bool
	listeners []BusyListener
}

// NewBusySignal creates a signal in the not-busy state
func NewBusySignal() *BusySignal {
	return &BusySignal{}
}

// Subscribe registers l and immediately tells it the current state
func (s *BusySignal) Subscribe(l BusyListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
	l.SetForegroundBusy(s.busy.Load())
}

// Busy reports the current state without waiting for listeners
func (s *BusySignal) Busy() bool {
	return s.busy.Load()
}

// set updates the flag and notifies listeners on transitions only
func (s *BusySignal) set(busy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy.Load() == busy {
		return
	}
	s.busy.Store(busy)
	for _, l := range s.listeners {
		l.SetForegroundBusy(busy)
	}
}

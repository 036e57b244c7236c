// Package cache provides a TTL keyed store for records that must not outlive
// the clients that reported them.
package cache

import (
	"errors"
	"sync"
	"time"
)

// ErrEmptyKey is returned when a key is empty
var ErrEmptyKey = errors.New("key cannot be empty")

// DefaultCleanupInterval is how often expired entries are swept
const DefaultCleanupInterval = time.Minute

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Store keeps values for a fixed TTL, refreshed on every write
type Store[V any] struct {
	entries map[string]*entry[V]
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	done    chan struct{} // Signal to stop cleanup goroutine
	once    sync.Once
}

// New creates a store with the given TTL and starts the background sweeper
func New[V any](ttl time.Duration) *Store[V] {
	return NewWithInterval[V](ttl, DefaultCleanupInterval)
}

// NewWithInterval creates a store that sweeps expired entries every interval
func NewWithInterval[V any](ttl, interval time.Duration) *Store[V] {
	s := &Store[V]{
		entries: make(map[string]*entry[V]),
		ttl:     ttl,
		now:     time.Now,
		done:    make(chan struct{}),
	}

	go s.cleanupLoop(interval)

	return s
}

// Get returns the value for key; expired entries are reported as missing
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var zero V
	e, ok := s.entries[key]
	if !ok || s.now().After(e.expiresAt) {
		return zero, false
	}
	return e.value, true
}

// Update applies fn to the current value (zero value and false when missing)
// and stores the result atomically
func (s *Store[V]) Update(key string, fn func(current V, found bool) V) (V, error) {
	var zero V
	if key == "" {
		return zero, ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	current, found := zero, false
	if e, ok := s.entries[key]; ok && !now.After(e.expiresAt) {
		current, found = e.value, true
	}

	next := fn(current, found)
	s.entries[key] = &entry[V]{
		value:     next,
		expiresAt: now.Add(s.ttl),
	}
	return next, nil
}

// Delete removes key; missing keys are ignored
func (s *Store[V]) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Len returns the number of stored entries, including not yet swept expired ones
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear removes all entries
func (s *Store[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry[V])
}

// Close stops the cleanup goroutine; safe to call more than once
func (s *Store[V]) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Store[V]) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.done:
			return
		}
	}
}

// cleanup removes expired entries
func (s *Store[V]) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, key)
		}
	}
}

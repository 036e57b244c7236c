package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AltairaLabs/assistant-server/internal/storage"
)

var (
	errRecordNil     = errors.New("record cannot be nil")
	errRecordIDEmpty = errors.New("record ID cannot be empty")
)

// AuditStore implements storage.AuditStore using in-memory maps
type AuditStore struct {
	mu    sync.RWMutex
	tasks map[string]*storage.TaskRecord
	fixes []*storage.FixRecord
}

// NewAuditStore creates a new in-memory audit store
func NewAuditStore() *AuditStore {
	return &AuditStore{
		tasks: make(map[string]*storage.TaskRecord),
	}
}

// RecordTaskStart stores a task in the running state
func (s *AuditStore) RecordTaskStart(_ context.Context, rec *storage.TaskRecord) error {
	if rec == nil {
		return errRecordNil
	}
	if rec.ID == "" {
		return errRecordIDEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[rec.ID]; exists {
		return fmt.Errorf("task with ID %s already exists", rec.ID)
	}

	// Store a copy to prevent external modifications
	recCopy := *rec
	recCopy.Outcome = storage.TaskOutcomeRunning
	recCopy.EndedAt = nil
	s.tasks[rec.ID] = &recCopy
	return nil
}

// RecordTaskEnd settles a running task
func (s *AuditStore) RecordTaskEnd(
	_ context.Context,
	taskID string,
	outcome storage.TaskOutcome,
	errMsg string,
	endedAt time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, storage.ErrNotFound)
	}
	rec.Outcome = outcome
	rec.Error = errMsg
	ended := endedAt
	rec.EndedAt = &ended
	return nil
}

// GetTask retrieves a task by ID
func (s *AuditStore) GetTask(_ context.Context, taskID string) (*storage.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, storage.ErrNotFound)
	}
	recCopy := *rec
	return &recCopy, nil
}

// ListTasks returns the most recent tasks of a session, newest first
func (s *AuditStore) ListTasks(_ context.Context, sessionID string, limit int) ([]*storage.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.TaskRecord, 0)
	for _, rec := range s.tasks {
		if rec.SessionID != sessionID {
			continue
		}
		recCopy := *rec
		out = append(out, &recCopy)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecordFixAttempt appends an auto-fix attempt
func (s *AuditStore) RecordFixAttempt(_ context.Context, rec *storage.FixRecord) error {
	if rec == nil {
		return errRecordNil
	}
	if rec.ID == "" {
		return errRecordIDEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recCopy := *rec
	s.fixes = append(s.fixes, &recCopy)
	return nil
}

// ListFixAttempts returns attempts for one component, oldest first
func (s *AuditStore) ListFixAttempts(_ context.Context, surfaceID, componentName string) ([]*storage.FixRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.FixRecord, 0)
	for _, rec := range s.fixes {
		if rec.SurfaceID == surfaceID && rec.ComponentName == componentName {
			recCopy := *rec
			out = append(out, &recCopy)
		}
	}
	return out, nil
}

// Close is a no-op for the in-memory store
func (s *AuditStore) Close() error {
	return nil
}

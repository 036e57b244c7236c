// Package storage defines the audit trail of foreground tasks and auto-fix
// attempts. Conversations themselves are not stored here.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// TaskOutcome is how a task left the guard
type TaskOutcome string

const (
	// TaskOutcomeRunning marks a task that has not settled yet
	TaskOutcomeRunning TaskOutcome = "running"
	// TaskOutcomeCompleted means the runtime returned a response
	TaskOutcomeCompleted TaskOutcome = "completed"
	// TaskOutcomeCancelled means the token was revoked
	TaskOutcomeCancelled TaskOutcome = "cancelled"
	// TaskOutcomeAuthFailed means the runtime reported an authentication failure
	TaskOutcomeAuthFailed TaskOutcome = "auth_failed"
	// TaskOutcomeFailed means any other runtime error
	TaskOutcomeFailed TaskOutcome = "failed"
)

// FixOutcome is the result of one auto-fix attempt
type FixOutcome string

const (
	FixOutcomeApplied   FixOutcome = "applied"
	FixOutcomeFailed    FixOutcome = "failed"
	FixOutcomeCancelled FixOutcome = "cancelled"
	FixOutcomeExhausted FixOutcome = "exhausted"
)

// TaskRecord is one runtime invocation held by the task guard
type TaskRecord struct {
	ID        string
	SessionID string
	Kind      string
	Input     string
	Model     string
	StartedAt time.Time
	EndedAt   *time.Time
	Outcome   TaskOutcome
	Error     string
}

// FixRecord is one auto-fix attempt for a surface component
type FixRecord struct {
	ID            string
	SessionID     string
	SurfaceID     string
	ComponentName string
	ErrorType     string
	Attempt       int
	Outcome       FixOutcome
	Error         string
	CreatedAt     time.Time
}

// AuditStore persists task and fix history
type AuditStore interface {
	// RecordTaskStart stores a task in the running state
	RecordTaskStart(ctx context.Context, rec *TaskRecord) error

	// RecordTaskEnd settles a running task
	// Returns ErrNotFound if the task was never started
	RecordTaskEnd(ctx context.Context, taskID string, outcome TaskOutcome, errMsg string, endedAt time.Time) error

	// GetTask retrieves a task by ID
	GetTask(ctx context.Context, taskID string) (*TaskRecord, error)

	// ListTasks returns the most recent tasks of a session, newest first
	// limit <= 0 means no limit
	ListTasks(ctx context.Context, sessionID string, limit int) ([]*TaskRecord, error)

	// RecordFixAttempt appends an auto-fix attempt
	RecordFixAttempt(ctx context.Context, rec *FixRecord) error

	// ListFixAttempts returns attempts for one component, oldest first
	ListFixAttempts(ctx context.Context, surfaceID, componentName string) ([]*FixRecord, error)

	// Close releases backend resources
	Close() error
}

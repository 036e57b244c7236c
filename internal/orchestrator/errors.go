package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AltairaLabs/assistant-server/internal/config"
)

// Sentinel errors returned by the orchestrator
var (
	// ErrBusy is returned by TaskGuard.Start when the slot is occupied
	ErrBusy = errors.New("a foreground task is already running")
	// ErrInterrupted is the cancellation cause of a user interrupt
	ErrInterrupted = errors.New("task interrupted")
	// ErrPreempted is the cancellation cause when a newer request replaces the task
	ErrPreempted = errors.New("task preempted by a newer request")
	// ErrSessionClosed is returned once a session has been torn down
	ErrSessionClosed = errors.New("session closed")
	// ErrQueueFull is reported when the chime-in queue is at capacity
	ErrQueueFull = errors.New("chime-in queue full")
	// ErrFixInFlight marks a duplicate auto-fix report for a key already being repaired
	ErrFixInFlight = errors.New("auto-fix already in flight")
	// ErrFixBudgetExhausted marks a report beyond the attempt budget
	ErrFixBudgetExhausted = errors.New("auto-fix attempt budget exhausted")
	// ErrClientNotAttached is returned when sending to an unknown client
	ErrClientNotAttached = errors.New("client not attached")
)

// BusyError reports the occupant that made TaskGuard.Start fail
type BusyError struct {
	Occupant ForegroundTask
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("%s: %s task %s", ErrBusy, e.Occupant.Kind, e.Occupant.ID)
}

// Is matches ErrBusy
func (e *BusyError) Is(target error) bool {
	return target == ErrBusy
}

// AuthError wraps a runtime failure caused by invalid or missing credentials
type AuthError struct {
	Cause error
}

func (e *AuthError) Error() string {
	if e.Cause == nil {
		return "authentication failed"
	}
	return "authentication failed: " + e.Cause.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Cause
}

// authPatterns are provider error texts that indicate a credential problem
var authPatterns = []string{
	"401",
	"invalid api key",
	"invalid x-api-key",
	"invalid_api_key",
	"authentication",
	"unauthorized",
	"api key not found",
}

// IsAuthError reports whether err is an *AuthError or carries a recognized
// provider authentication failure text
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range authPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsCancellation reports whether a runtime result should be treated as a
// cancellation: the task context was revoked or the runtime returned a
// context cancellation error
func IsCancellation(ctx context.Context, err error) bool {
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled)
}

// cancelMessage picks the user-visible notice for a revoked task
func cancelMessage(cause error) string {
	switch {
	case errors.Is(cause, ErrPreempted):
		return config.MsgTaskPreempted
	case errors.Is(cause, ErrSessionClosed):
		return config.MsgSessionClosed
	default:
		return config.MsgTaskCancelled
	}
}

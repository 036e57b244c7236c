package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AltairaLabs/assistant-server/internal/storage"
)

// AuditLogger records task and auto-fix history to the log and, when a store
// is configured, to persistent storage. Store failures are logged and never
// affect the task.
type AuditLogger struct {
	logger *slog.Logger
	store  storage.AuditStore
}

// NewAuditLogger creates an audit logger; store may be nil
func NewAuditLogger(logger *slog.Logger, store storage.AuditStore) *AuditLogger {
	return &AuditLogger{
		logger: logger,
		store:  store,
	}
}

// TaskStarted logs a task installed in the guard
func (al *AuditLogger) TaskStarted(ctx context.Context, sessionID string, task ForegroundTask) {
	al.logger.InfoContext(ctx, "task_start",
		"session_id", sessionID,
		"task_id", task.ID,
		"kind", task.Kind,
		"model", task.Model,
		"timestamp", task.StartedAt,
	)
	if al.store == nil {
		return
	}
	err := al.store.RecordTaskStart(context.WithoutCancel(ctx), &storage.TaskRecord{
		ID:        task.ID,
		SessionID: sessionID,
		Kind:      string(task.Kind),
		Input:     task.Input,
		Model:     task.Model,
		StartedAt: task.StartedAt,
	})
	if err != nil {
		al.logger.ErrorContext(ctx, "Failed to persist task start", "task_id", task.ID, "error", err)
	}
}

// TaskEnded logs a task leaving the guard
func (al *AuditLogger) TaskEnded(
	ctx context.Context,
	sessionID string,
	task ForegroundTask,
	outcome storage.TaskOutcome,
	taskErr error,
) {
	ended := time.Now()
	errMsg := ""
	if taskErr != nil {
		errMsg = taskErr.Error()
	}

	attrs := []any{
		"session_id", sessionID,
		"task_id", task.ID,
		"kind", task.Kind,
		"outcome", outcome,
		"duration_ms", ended.Sub(task.StartedAt).Milliseconds(),
	}
	if outcome == storage.TaskOutcomeFailed {
		al.logger.ErrorContext(ctx, "task_end", append(attrs, "error", errMsg)...)
	} else {
		al.logger.InfoContext(ctx, "task_end", attrs...)
	}

	if al.store == nil {
		return
	}
	if err := al.store.RecordTaskEnd(context.WithoutCancel(ctx), task.ID, outcome, errMsg, ended); err != nil {
		al.logger.ErrorContext(ctx, "Failed to persist task end", "task_id", task.ID, "error", err)
	}
}

// FixAttempted logs one auto-fix report and its outcome
func (al *AuditLogger) FixAttempted(
	ctx context.Context,
	sessionID string,
	rep SurfaceErrorReport,
	outcome FixOutcome,
	fixErr error,
) {
	errMsg := ""
	if fixErr != nil {
		errMsg = fixErr.Error()
	}
	al.logger.InfoContext(ctx, "fix_attempt",
		"session_id", sessionID,
		"surface_id", rep.SurfaceID,
		"component", rep.ComponentName,
		"error_type", rep.ErrorType,
		"attempt", rep.Attempt,
		"outcome", outcome,
		"error", errMsg,
	)

	stored, ok := outcome.storageOutcome()
	if al.store == nil || !ok {
		return
	}
	err := al.store.RecordFixAttempt(context.WithoutCancel(ctx), &storage.FixRecord{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		SurfaceID:     rep.SurfaceID,
		ComponentName: rep.ComponentName,
		ErrorType:     rep.ErrorType,
		Attempt:       rep.Attempt,
		Outcome:       stored,
		Error:         errMsg,
		CreatedAt:     time.Now(),
	})
	if err != nil {
		al.logger.ErrorContext(ctx, "Failed to persist fix attempt",
			"surface_id", rep.SurfaceID,
			"component", rep.ComponentName,
			"error", err,
		)
	}
}

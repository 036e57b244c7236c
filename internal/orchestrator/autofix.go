package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AltairaLabs/assistant-server/internal/config"
	"github.com/AltairaLabs/assistant-server/internal/orchestrator/cache"
	"github.com/AltairaLabs/assistant-server/internal/orchestrator/retry"
	"github.com/AltairaLabs/assistant-server/internal/storage"
)

// Surface error classifications
const (
	ErrorTypeCompile = "compile"
	ErrorTypeRuntime = "runtime"
)

// SurfaceErrorReport is a client report of a broken generated component
type SurfaceErrorReport struct {
	SurfaceID     string `json:"surfaceId"`
	ComponentName string `json:"componentName"`
	ErrorType     string `json:"errorType"`
	ErrorText     string `json:"errorText"`
	BrokenSource  string `json:"brokenSource"`
	// Attempt is 1-based; the client increments it on each re-report
	Attempt int `json:"attempt"`
}

// Key identifies the component across reports
func (r SurfaceErrorReport) Key() string {
	return r.SurfaceID + "/" + r.ComponentName
}

func (r *SurfaceErrorReport) normalize() error {
	if r.SurfaceID == "" || r.ComponentName == "" {
		return errors.New("surface error report requires surfaceId and componentName")
	}
	switch r.ErrorType {
	case ErrorTypeCompile, ErrorTypeRuntime:
	case "":
		r.ErrorType = ErrorTypeRuntime
	default:
		return fmt.Errorf("unknown surface error type %q", r.ErrorType)
	}
	if r.Attempt < 1 {
		r.Attempt = 1
	}
	return nil
}

// FixOutcome is the result of one AttemptFix call
type FixOutcome string

const (
	// FixApplied means the runtime completed the repair invocation
	FixApplied FixOutcome = "applied"
	// FixRetry means the repair failed and the client may report again
	FixRetry FixOutcome = "retry"
	// FixExhausted means the attempt budget is spent and fix-failed was sent
	FixExhausted FixOutcome = "exhausted"
	// FixDuplicate means an attempt for the same component is in flight
	FixDuplicate FixOutcome = "duplicate"
	// FixCancelled means the repair was interrupted or the session closed
	FixCancelled FixOutcome = "cancelled"
)

func (o FixOutcome) storageOutcome() (storage.FixOutcome, bool) {
	switch o {
	case FixApplied:
		return storage.FixOutcomeApplied, true
	case FixRetry:
		return storage.FixOutcomeFailed, true
	case FixExhausted:
		return storage.FixOutcomeExhausted, true
	case FixCancelled:
		return storage.FixOutcomeCancelled, true
	default:
		return "", false
	}
}

// ComponentFixAttempt is the repair state kept per component between reports
type ComponentFixAttempt struct {
	SurfaceID     string
	ComponentName string
	ErrorType     string
	Attempt       int
	LastError     string
	BrokenSource  string
	UpdatedAt     time.Time
}

// AutoFixOptions configures an AutoFixCoordinator
type AutoFixOptions struct {
	SessionID string
	Budget    retry.Policy
	// Guard, when set, serializes repairs with foreground tasks
	Guard     *TaskGuard
	RecordTTL time.Duration
	Audit     *AuditLogger
	Metrics   *Metrics
	Logger    *slog.Logger
}

// AutoFixCoordinator runs bounded, de-duplicated repair invocations for
// generated components
type AutoFixCoordinator struct {
	sessionID string
	runtime   Runtime
	fanout    *Fanout
	guard     *TaskGuard
	budget    retry.Policy
	records   *cache.Store[ComponentFixAttempt]
	audit     *AuditLogger
	metrics   *Metrics
	logger    *slog.Logger

	work *workGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewAutoFixCoordinator creates a coordinator invoking rt and reporting through fanout
func NewAutoFixCoordinator(rt Runtime, fanout *Fanout, opts AutoFixOptions) *AutoFixCoordinator {
	ttl := opts.RecordTTL
	if ttl <= 0 {
		ttl = config.DefaultFixRecordTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	audit := opts.Audit
	if audit == nil {
		audit = NewAuditLogger(logger, nil)
	}
	return &AutoFixCoordinator{
		sessionID: opts.SessionID,
		runtime:   rt,
		fanout:    fanout,
		guard:     opts.Guard,
		budget:    opts.Budget,
		records:   cache.New[ComponentFixAttempt](ttl),
		audit:     audit,
		metrics:   opts.Metrics,
		logger:    logger,
		work:      newWorkGroup(),
		inFlight:  make(map[string]struct{}),
	}
}

// AttemptFix handles one surface error report from origin. The repair is
// cancelled with ErrSessionClosed when the coordinator closes.
func (c *AutoFixCoordinator) AttemptFix(ctx context.Context, origin string, rep SurfaceErrorReport) (FixOutcome, error) {
	if err := rep.normalize(); err != nil {
		return "", err
	}
	key := rep.Key()

	ctx, done, err := c.work.enter(ctx)
	if err != nil {
		return FixCancelled, err
	}
	defer done()

	if !c.claim(key) {
		c.logger.Info("Dropping surface error report",
			"reason", ErrFixInFlight,
			"surface_id", rep.SurfaceID,
			"component", rep.ComponentName,
			"attempt", rep.Attempt,
		)
		c.metrics.fixAttempt(FixDuplicate)
		return FixDuplicate, nil
	}
	defer c.unclaim(key)

	if !c.budget.Allows(rep.Attempt) {
		c.giveUp(ctx, origin, rep, ErrFixBudgetExhausted)
		return FixExhausted, nil
	}

	if _, err := c.records.Update(key, func(cur ComponentFixAttempt, _ bool) ComponentFixAttempt {
		cur.SurfaceID = rep.SurfaceID
		cur.ComponentName = rep.ComponentName
		cur.ErrorType = rep.ErrorType
		cur.Attempt = rep.Attempt
		cur.LastError = rep.ErrorText
		cur.BrokenSource = rep.BrokenSource
		cur.UpdatedAt = time.Now()
		return cur
	}); err != nil {
		return "", err
	}

	prompt, err := buildRepairPrompt(rep, c.budget.MaxAttempts)
	if err != nil {
		return "", fmt.Errorf("failed to build repair prompt: %w", err)
	}

	runErr, cancelled, err := c.invoke(ctx, rep, prompt)
	if err != nil {
		return "", err
	}

	switch {
	case cancelled:
		c.settle(ctx, rep, FixCancelled, runErr)
		return FixCancelled, nil
	case runErr == nil:
		c.records.Delete(key)
		c.deliver(origin, FixAppliedEvent(rep.SurfaceID, rep.ComponentName, rep.Attempt))
		c.settle(ctx, rep, FixApplied, nil)
		return FixApplied, nil
	case c.budget.Exhausted(rep.Attempt):
		c.giveUp(ctx, origin, rep, runErr)
		return FixExhausted, nil
	default:
		if _, err := c.records.Update(key, func(cur ComponentFixAttempt, _ bool) ComponentFixAttempt {
			cur.LastError = runErr.Error()
			cur.UpdatedAt = time.Now()
			return cur
		}); err != nil {
			c.logger.Warn("Failed to update fix record", "key", key, "error", err)
		}
		c.logger.Info("Auto-fix attempt failed",
			"surface_id", rep.SurfaceID,
			"component", rep.ComponentName,
			"attempt", rep.Attempt,
			"remaining", c.budget.Remaining(rep.Attempt),
			"error", runErr,
		)
		c.settle(ctx, rep, FixRetry, runErr)
		return FixRetry, nil
	}
}

// invoke runs the repair prompt, through the guard when exclusive. A guard
// that cannot be acquired because the request or the session ended reports
// cancelled; err is set for any other acquire failure.
func (c *AutoFixCoordinator) invoke(
	ctx context.Context,
	rep SurfaceErrorReport,
	prompt string,
) (runErr error, cancelled bool, err error) {
	runCtx := ctx
	taskID := ""
	if c.guard != nil {
		h, err := c.guard.Acquire(ctx, StartOptions{Kind: KindAutoFix, Input: prompt})
		if err != nil {
			if errors.Is(err, ErrSessionClosed) || ctx.Err() != nil {
				return err, true, nil
			}
			return nil, false, fmt.Errorf("failed to acquire task guard: %w", err)
		}
		defer h.Release()
		task := h.Task()
		taskID = task.ID
		runCtx = h.Context()
		c.audit.TaskStarted(ctx, c.sessionID, task)
		c.metrics.taskStarted(KindAutoFix)
		defer func() {
			outcome := storage.TaskOutcomeCompleted
			switch {
			case cancelled:
				outcome = storage.TaskOutcomeCancelled
			case runErr != nil:
				outcome = storage.TaskOutcomeFailed
			}
			c.audit.TaskEnded(ctx, c.sessionID, task, outcome, runErr)
			c.metrics.taskSettled(KindAutoFix, string(outcome), time.Since(task.StartedAt))
		}()
	}

	c.logger.Info("Invoking runtime for auto-fix",
		"surface_id", rep.SurfaceID,
		"component", rep.ComponentName,
		"attempt", rep.Attempt,
		"exclusive", c.guard != nil,
	)
	_, runErr = c.runtime.Run(runCtx, prompt, RunOptions{TaskID: taskID})
	if runErr != nil && IsCancellation(runCtx, runErr) {
		return context.Cause(runCtx), true, nil
	}
	// a result arriving after cancellation is not applied
	if runErr == nil && runCtx.Err() != nil {
		return context.Cause(runCtx), true, nil
	}
	return runErr, false, nil
}

// giveUp reports fix-failed to origin and forgets the component
func (c *AutoFixCoordinator) giveUp(ctx context.Context, origin string, rep SurfaceErrorReport, cause error) {
	c.records.Delete(rep.Key())
	errText := fmt.Sprintf(config.MsgFixExhausted, rep.ComponentName, c.budget.MaxAttempts)
	if cause != nil && !errors.Is(cause, ErrFixBudgetExhausted) {
		errText = errText + ": " + cause.Error()
	}
	c.deliver(origin, FixFailedEvent(rep.SurfaceID, rep.ComponentName, rep.Attempt, errText))
	c.settle(ctx, rep, FixExhausted, cause)
}

func (c *AutoFixCoordinator) settle(ctx context.Context, rep SurfaceErrorReport, outcome FixOutcome, err error) {
	c.metrics.fixAttempt(outcome)
	c.audit.FixAttempted(ctx, c.sessionID, rep, outcome, err)
}

func (c *AutoFixCoordinator) deliver(origin string, ev Event) {
	if err := c.fanout.Deliver(ScopeOrigin, origin, ev); err != nil {
		c.logger.Warn("Failed to deliver auto-fix event", "client_id", origin, "event", ev.Type, "error", err)
	}
}

// Record returns the pending repair state of a component
func (c *AutoFixCoordinator) Record(surfaceID, componentName string) (ComponentFixAttempt, bool) {
	return c.records.Get(surfaceID + "/" + componentName)
}

// InFlight reports whether a repair for the component is running
func (c *AutoFixCoordinator) InFlight(surfaceID, componentName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inFlight[surfaceID+"/"+componentName]
	return ok
}

// Pending returns the number of components with an unsettled repair record
func (c *AutoFixCoordinator) Pending() int {
	return c.records.Len()
}

// Close refuses new reports, cancels running repairs with ErrSessionClosed
// and stops the record sweeper
func (c *AutoFixCoordinator) Close() {
	c.work.close(ErrSessionClosed)
	c.records.Close()
}

// Wait blocks until running repairs have settled, then drops pending records
func (c *AutoFixCoordinator) Wait(ctx context.Context) error {
	if err := c.work.wait(ctx); err != nil {
		return err
	}
	c.records.Clear()
	return nil
}

func (c *AutoFixCoordinator) claim(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[key]; busy {
		return false
	}
	c.inFlight[key] = struct{}{}
	return true
}

func (c *AutoFixCoordinator) unclaim(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, key)
}

package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/AltairaLabs/assistant-server/internal/config"
	"github.com/AltairaLabs/assistant-server/internal/orchestrator/retry"
)

// SessionOptions configures a Session
type SessionOptions struct {
	ID      string
	WorkDir string
	Policy  BusyPolicy

	MaxPendingChimeIns int

	FixBudget    retry.Policy
	FixExclusive bool
	FixRecordTTL time.Duration

	// Listeners are subscribed to the session's busy signal
	Listeners []BusyListener

	Audit   *AuditLogger
	Metrics *Metrics
	Logger  *slog.Logger
}

// SessionState is a point-in-time view of a session
type SessionState struct {
	ID              string          `json:"id"`
	WorkDir         string          `json:"workdir"`
	Policy          string          `json:"policy"`
	State           GuardState      `json:"state"`
	Busy            bool            `json:"busy"`
	Active          *ForegroundTask `json:"active,omitempty"`
	PendingChimeIns int             `json:"pendingChimeIns"`
	PendingFixes    int             `json:"pendingFixes"`
	Clients         int             `json:"clients"`
}

// Session is one working directory with its attached clients. It owns the
// task guard, chime-in queue, busy signal, fanout and auto-fix coordinator.
type Session struct {
	id         string
	workDir    string
	runtime    Runtime
	policy     BusyPolicy
	maxPending int

	busy   *BusySignal
	queue  *ChimeInQueue
	guard  *TaskGuard
	fanout *Fanout
	fixer  *AutoFixCoordinator
	// background tracks RunBackground invocations
	background *workGroup

	audit   *AuditLogger
	metrics *Metrics
	logger  *slog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewSession creates a session driving rt
func NewSession(rt Runtime, opts SessionOptions) *Session {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	policy := opts.Policy
	if policy == nil {
		policy = CooperativePolicy{}
	}
	maxPending := opts.MaxPendingChimeIns
	if maxPending <= 0 {
		maxPending = config.DefaultMaxPendingChimeIns
	}
	budget := opts.FixBudget
	if budget.MaxAttempts <= 0 {
		budget = retry.DefaultPolicy().WithMaxAttempts(config.DefaultFixMaxAttempts)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", id)
	audit := opts.Audit
	if audit == nil {
		audit = NewAuditLogger(logger, nil)
	}

	busy := NewBusySignal()
	for _, l := range opts.Listeners {
		busy.Subscribe(l)
	}
	queue := NewChimeInQueue(maxPending, logger)
	guard := NewTaskGuard(busy, queue)
	fanout := NewFanout(logger, opts.Metrics)

	var fixGuard *TaskGuard
	if opts.FixExclusive {
		fixGuard = guard
	}
	fixer := NewAutoFixCoordinator(rt, fanout, AutoFixOptions{
		SessionID: id,
		Budget:    budget,
		Guard:     fixGuard,
		RecordTTL: opts.FixRecordTTL,
		Audit:     audit,
		Metrics:   opts.Metrics,
		Logger:    logger,
	})

	return &Session{
		id:         id,
		workDir:    opts.WorkDir,
		runtime:    rt,
		policy:     policy,
		maxPending: maxPending,
		busy:       busy,
		queue:      queue,
		guard:      guard,
		fanout:     fanout,
		fixer:      fixer,
		background: newWorkGroup(),
		audit:      audit,
		metrics:    opts.Metrics,
		logger:     logger,
	}
}

// ID returns the session ID
func (s *Session) ID() string { return s.id }

// WorkDir returns the session's working directory
func (s *Session) WorkDir() string { return s.workDir }

// Guard returns the session's task guard
func (s *Session) Guard() *TaskGuard { return s.guard }

// Busy returns the session's foreground-busy signal
func (s *Session) Busy() *BusySignal { return s.busy }

// Fanout returns the session's client registry
func (s *Session) Fanout() *Fanout { return s.fanout }

// Queue returns the session's chime-in queue
func (s *Session) Queue() *ChimeInQueue { return s.queue }

// Fixer returns the session's auto-fix coordinator
func (s *Session) Fixer() *AutoFixCoordinator { return s.fixer }

// Snapshot returns the current session state
func (s *Session) Snapshot() SessionState {
	active := s.guard.Active()
	state := GuardIdle
	if active != nil {
		state = GuardWorking
	}
	return SessionState{
		ID:              s.id,
		WorkDir:         s.workDir,
		Policy:          s.policy.Name(),
		State:           state,
		Busy:            s.busy.Busy(),
		Active:          active,
		PendingChimeIns: s.queue.Len(),
		PendingFixes:    s.fixer.Pending(),
		Clients:         s.fanout.Len(),
	}
}

// Attach registers a client and sends it the current session state
func (s *Session) Attach(clientID string, snd Sender) {
	s.fanout.Attach(clientID, snd)
	s.deliver(clientID, SessionStateEvent(s.Snapshot()))
}

// Detach removes a client
func (s *Session) Detach(clientID string) {
	s.fanout.Detach(clientID)
}

// HandleInterrupt cancels whatever occupies the guard. When a task was
// running every client is told it was interrupted and the task reports its
// own cancellation as it settles; when idle the requester is resynced.
func (s *Session) HandleInterrupt(_ context.Context, origin string) bool {
	task, ok := s.guard.cancelActive(ErrInterrupted)
	if !ok {
		s.deliver(origin, StatusEvent(StatusIdle))
		return false
	}
	s.logger.Info("Task interrupted",
		"task_id", task.ID,
		"kind", task.Kind,
		"client_id", origin,
	)
	s.broadcast(InterruptedEvent(task.ID, config.MsgInterrupted))
	return true
}

// HandleSurfaceError forwards a broken component report to the auto-fix coordinator
func (s *Session) HandleSurfaceError(ctx context.Context, origin string, rep SurfaceErrorReport) (FixOutcome, error) {
	if s.closed.Load() {
		return FixCancelled, ErrSessionClosed
	}
	return s.fixer.AttemptFix(ctx, origin, rep)
}

// RunBackground is the background loop's invocation of the runtime. It is
// outside the task guard; callers must check the busy signal first. The
// response is broadcast to every client. Closing the session cancels it with
// ErrSessionClosed.
func (s *Session) RunBackground(ctx context.Context, prompt string) (string, error) {
	if s.closed.Load() {
		return "", ErrSessionClosed
	}
	if s.busy.Busy() {
		return "", ErrBusy
	}
	runCtx, done, err := s.background.enter(ctx)
	if err != nil {
		return "", err
	}
	defer done()

	resp, err := s.runtime.Run(runCtx, prompt, RunOptions{})
	if cause := context.Cause(runCtx); cause != nil {
		return "", fmt.Errorf("background invocation cancelled: %w", cause)
	}
	if err != nil {
		return "", fmt.Errorf("background invocation failed: %w", err)
	}
	s.broadcast(MessageEvent(RoleAssistant, resp))
	return resp, nil
}

// Close refuses new work, cancels the running task, ungated repairs and
// background invocations with ErrSessionClosed, and waits for all of them to
// return or for ctx to expire
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.guard.Close()
		s.fixer.Close()
		s.background.close(ErrSessionClosed)

		var result *multierror.Error
		if err := s.guard.WaitIdle(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("foreground task: %w", err))
		}
		if err := s.fixer.Wait(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("auto-fix: %w", err))
		}
		if err := s.background.wait(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("background invocation: %w", err))
		}
		if err := result.ErrorOrNil(); err != nil {
			s.closeErr = fmt.Errorf("session %s did not settle: %w", s.id, err)
		}
		s.logger.Info("Session closed", "workdir", s.workDir)
	})
	return s.closeErr
}

// Closed reports whether Close was called
func (s *Session) Closed() bool {
	return s.closed.Load()
}

func (s *Session) deliver(origin string, ev Event) {
	if err := s.fanout.Deliver(ScopeOrigin, origin, ev); err != nil {
		s.logger.Debug("Event not delivered", "client_id", origin, "event", ev.Type, "error", err)
	}
}

func (s *Session) broadcast(ev Event) {
	// per-client failures are already logged by the fanout
	_ = s.fanout.Broadcast(ev)
}

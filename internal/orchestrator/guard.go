package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskKind distinguishes what occupies the foreground slot
type TaskKind string

const (
	KindChat    TaskKind = "chat"
	KindAutoFix TaskKind = "autofix"
)

// GuardState is the externally observable state of a TaskGuard
type GuardState string

const (
	GuardIdle    GuardState = "idle"
	GuardWorking GuardState = "working"
)

// ForegroundTask describes the invocation holding the slot
type ForegroundTask struct {
	ID             string    `json:"id"`
	Kind           TaskKind  `json:"kind"`
	Input          string    `json:"input"`
	Model          string    `json:"model,omitempty"`
	SurfaceContext string    `json:"surfaceContext,omitempty"`
	StartedAt      time.Time `json:"startedAt"`
	// Settling is set once the runtime returned and the task is reporting its outcome
	Settling bool `json:"settling"`
}

// StartOptions describes the task to install
type StartOptions struct {
	Kind           TaskKind
	Input          string
	Model          string
	SurfaceContext string
	// Preempt cancels the current occupant with ErrPreempted and waits for it
	// to release instead of failing with ErrBusy
	Preempt bool
}

// TaskObserver is told about slot transitions while the guard lock is held.
// Implementations must not block or call back into the guard.
type TaskObserver interface {
	TaskStarted(task ForegroundTask)
	TaskSettling(task ForegroundTask)
}

type slot struct {
	task     ForegroundTask
	settling bool
	cancel   context.CancelCauseFunc
	done     chan struct{}
}

// TaskGuard holds at most one foreground task per session. It owns the task's
// cancellation and the session's BusySignal.
type TaskGuard struct {
	mu        sync.Mutex
	active    *slot
	closed    bool
	busy      *BusySignal
	observers []TaskObserver
	now       func() time.Time
}

// NewTaskGuard creates an idle guard driving busy
func NewTaskGuard(busy *BusySignal, observers ...TaskObserver) *TaskGuard {
	return &TaskGuard{
		busy:      busy,
		observers: observers,
		now:       time.Now,
	}
}

// Start installs a new task. It fails with a *BusyError (matching ErrBusy)
// when the slot is occupied, unless opts.Preempt is set.
func (g *TaskGuard) Start(ctx context.Context, opts StartOptions) (*TaskHandle, error) {
	return g.take(ctx, opts, false)
}

// Acquire installs a new task, waiting for the current occupant to release.
// It never cancels the occupant.
func (g *TaskGuard) Acquire(ctx context.Context, opts StartOptions) (*TaskHandle, error) {
	opts.Preempt = false
	return g.take(ctx, opts, true)
}

func (g *TaskGuard) take(ctx context.Context, opts StartOptions, wait bool) (*TaskHandle, error) {
	g.mu.Lock()
	for {
		if g.closed {
			g.mu.Unlock()
			return nil, ErrSessionClosed
		}
		if g.active == nil {
			h := g.install(ctx, opts)
			g.mu.Unlock()
			return h, nil
		}

		cur := g.active
		switch {
		case opts.Preempt:
			cur.cancel(ErrPreempted)
		case !wait:
			occupant := cur.snapshot()
			g.mu.Unlock()
			return nil, &BusyError{Occupant: occupant}
		}
		g.mu.Unlock()

		select {
		case <-cur.done:
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
		g.mu.Lock()
	}
}

// install must be called with g.mu held
func (g *TaskGuard) install(ctx context.Context, opts StartOptions) *TaskHandle {
	kind := opts.Kind
	if kind == "" {
		kind = KindChat
	}
	// the task outlives the request that started it; only the guard cancels it
	taskCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	s := &slot{
		task: ForegroundTask{
			ID:             uuid.NewString(),
			Kind:           kind,
			Input:          opts.Input,
			Model:          opts.Model,
			SurfaceContext: opts.SurfaceContext,
			StartedAt:      g.now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	g.active = s
	g.busy.set(true)
	for _, o := range g.observers {
		o.TaskStarted(s.task)
	}
	return &TaskHandle{guard: g, slot: s, ctx: taskCtx}
}

// Cancel revokes the active task's context with cause. It returns false when
// the guard is idle. The slot is freed only when the task releases.
func (g *TaskGuard) Cancel(cause error) bool {
	_, ok := g.cancelActive(cause)
	return ok
}

func (g *TaskGuard) cancelActive(cause error) (ForegroundTask, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil {
		return ForegroundTask{}, false
	}
	g.active.cancel(cause)
	return g.active.snapshot(), true
}

// Active returns a snapshot of the occupant, or nil when idle
func (g *TaskGuard) Active() *ForegroundTask {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil {
		return nil
	}
	t := g.active.snapshot()
	return &t
}

// State reports idle or working
func (g *TaskGuard) State() GuardState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil {
		return GuardIdle
	}
	return GuardWorking
}

// Close refuses new tasks and cancels the occupant with ErrSessionClosed
func (g *TaskGuard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	if g.active != nil {
		g.active.cancel(ErrSessionClosed)
	}
}

// WaitIdle blocks until the slot is free or ctx is done
func (g *TaskGuard) WaitIdle(ctx context.Context) error {
	for {
		g.mu.Lock()
		cur := g.active
		g.mu.Unlock()
		if cur == nil {
			return nil
		}
		select {
		case <-cur.done:
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}
}

func (s *slot) snapshot() ForegroundTask {
	t := s.task
	t.Settling = s.settling
	return t
}

// TaskHandle is the occupant's view of its slot
type TaskHandle struct {
	guard       *TaskGuard
	slot        *slot
	ctx         context.Context
	settleOnce  sync.Once
	releaseOnce sync.Once
}

// Task returns the task as installed
func (h *TaskHandle) Task() ForegroundTask {
	return h.slot.task
}

// Context is cancelled when the task is interrupted, preempted or the
// session closes; context.Cause reports which
func (h *TaskHandle) Context() context.Context {
	return h.ctx
}

// Settle marks the task as reporting its outcome. The slot stays occupied,
// but observers stop accepting input for it. Idempotent.
func (h *TaskHandle) Settle() {
	h.settleOnce.Do(func() {
		g := h.guard
		g.mu.Lock()
		defer g.mu.Unlock()
		h.slot.settling = true
		for _, o := range g.observers {
			o.TaskSettling(h.slot.task)
		}
	})
}

// Release frees the slot and clears the busy signal. It must run on every
// exit path of the task; calls after the first are no-ops.
func (h *TaskHandle) Release() {
	h.releaseOnce.Do(func() {
		h.Settle()
		g := h.guard
		g.mu.Lock()
		if g.active == h.slot {
			g.active = nil
			g.busy.set(false)
		}
		g.mu.Unlock()
		h.slot.cancel(nil)
		close(h.slot.done)
	})
}

package orchestrator

import (
	"context"
	"sync"
)

// workGroup tracks invocations that run outside the task guard so that a
// closing session can cancel them and wait for them to return
type workGroup struct {
	base   context.Context
	cancel context.CancelCauseFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func newWorkGroup() *workGroup {
	base, cancel := context.WithCancelCause(context.Background())
	return &workGroup{base: base, cancel: cancel}
}

// enter registers one invocation. The returned context is cancelled by ctx
// or by close, whichever comes first; done must be called when it returns.
func (g *workGroup) enter(ctx context.Context) (context.Context, func(), error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, nil, ErrSessionClosed
	}
	g.wg.Add(1)
	g.mu.Unlock()

	runCtx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(g.base, func() {
		cancel(context.Cause(g.base))
	})
	return runCtx, func() {
		stop()
		cancel(nil)
		g.wg.Done()
	}, nil
}

// close refuses new invocations and cancels running ones with cause
func (g *workGroup) close(cause error) {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.cancel(cause)
}

// wait blocks until every running invocation has returned or ctx expires
func (g *workGroup) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

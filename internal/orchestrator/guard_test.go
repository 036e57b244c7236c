package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu       sync.Mutex
	started  []string
	settling []string
}

func (o *recordingObserver) TaskStarted(task ForegroundTask) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, task.ID)
}

func (o *recordingObserver) TaskSettling(task ForegroundTask) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.settling = append(o.settling, task.ID)
}

func TestTaskGuard_StartAndRelease(t *testing.T) {
	busy := NewBusySignal()
	rec := &busyRecorder{}
	busy.Subscribe(rec)
	obs := &recordingObserver{}
	g := NewTaskGuard(busy, obs)

	assert.Equal(t, GuardIdle, g.State())
	assert.Nil(t, g.Active())

	h, err := g.Start(context.Background(), StartOptions{Input: "hello", Model: "fast"})
	require.NoError(t, err)

	assert.Equal(t, GuardWorking, g.State())
	assert.True(t, busy.Busy())
	active := g.Active()
	require.NotNil(t, active)
	assert.Equal(t, h.Task().ID, active.ID)
	assert.Equal(t, KindChat, active.Kind)
	assert.Equal(t, "fast", active.Model)
	assert.NotEmpty(t, active.ID)

	h.Release()
	h.Release()

	assert.Equal(t, GuardIdle, g.State())
	assert.False(t, busy.Busy())
	assert.Equal(t, []bool{false, true, false}, rec.transitions())
	assert.Equal(t, []string{h.Task().ID}, obs.started)
	assert.Equal(t, []string{h.Task().ID}, obs.settling)
	assert.ErrorIs(t, h.Context().Err(), context.Canceled)
}

func TestTaskGuard_StartWhileBusy(t *testing.T) {
	g := NewTaskGuard(NewBusySignal())
	first, err := g.Start(context.Background(), StartOptions{Input: "one"})
	require.NoError(t, err)
	defer first.Release()

	second, err := g.Start(context.Background(), StartOptions{Input: "two"})
	require.Nil(t, second)
	require.ErrorIs(t, err, ErrBusy)

	var busyErr *BusyError
	require.True(t, errors.As(err, &busyErr))
	assert.Equal(t, first.Task().ID, busyErr.Occupant.ID)
	assert.Equal(t, "one", g.Active().Input)
}

func TestTaskGuard_Cancel(t *testing.T) {
	g := NewTaskGuard(NewBusySignal())
	assert.False(t, g.Cancel(ErrInterrupted), "cancel on idle guard")

	h, err := g.Start(context.Background(), StartOptions{Input: "work"})
	require.NoError(t, err)

	assert.True(t, g.Cancel(ErrInterrupted))
	<-h.Context().Done()
	assert.ErrorIs(t, context.Cause(h.Context()), ErrInterrupted)

	// cancellation does not free the slot; only release does
	assert.Equal(t, GuardWorking, g.State())
	h.Release()
	assert.Equal(t, GuardIdle, g.State())
	assert.ErrorIs(t, context.Cause(h.Context()), ErrInterrupted, "first cause wins")
}

func TestTaskGuard_TaskOutlivesRequestContext(t *testing.T) {
	g := NewTaskGuard(NewBusySignal())
	reqCtx, cancel := context.WithCancel(context.Background())
	h, err := g.Start(reqCtx, StartOptions{Input: "work"})
	require.NoError(t, err)
	defer h.Release()

	cancel()
	assert.NoError(t, h.Context().Err())
}

func TestTaskGuard_Preempt(t *testing.T) {
	g := NewTaskGuard(NewBusySignal())
	first, err := g.Start(context.Background(), StartOptions{Input: "first"})
	require.NoError(t, err)

	var releasing atomic.Bool
	go func() {
		<-first.Context().Done()
		time.Sleep(10 * time.Millisecond)
		releasing.Store(true)
		first.Release()
	}()

	second, err := g.Start(context.Background(), StartOptions{Input: "second", Preempt: true})
	require.NoError(t, err)
	defer second.Release()

	assert.True(t, releasing.Load(), "second task installed before the first released")
	assert.ErrorIs(t, context.Cause(first.Context()), ErrPreempted)
	assert.Equal(t, "second", g.Active().Input)
}

func TestTaskGuard_AcquireWaits(t *testing.T) {
	g := NewTaskGuard(NewBusySignal())
	first, err := g.Start(context.Background(), StartOptions{Input: "first"})
	require.NoError(t, err)

	acquired := make(chan *TaskHandle)
	go func() {
		h, err := g.Acquire(context.Background(), StartOptions{Kind: KindAutoFix, Input: "fix"})
		if err == nil {
			acquired <- h
		}
	}()

	select {
	case <-acquired:
		t.Fatal("acquire returned while the slot was occupied")
	case <-time.After(30 * time.Millisecond):
	}
	assert.NoError(t, first.Context().Err(), "acquire must not cancel the occupant")

	first.Release()
	select {
	case h := <-acquired:
		assert.Equal(t, KindAutoFix, h.Task().Kind)
		h.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("acquire did not return after release")
	}
}

func TestTaskGuard_AcquireContextCancelled(t *testing.T) {
	g := NewTaskGuard(NewBusySignal())
	first, err := g.Start(context.Background(), StartOptions{Input: "first"})
	require.NoError(t, err)
	defer first.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	h, err := g.Acquire(ctx, StartOptions{Input: "second"})
	assert.Nil(t, h)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTaskGuard_Close(t *testing.T) {
	g := NewTaskGuard(NewBusySignal())
	h, err := g.Start(context.Background(), StartOptions{Input: "work"})
	require.NoError(t, err)

	g.Close()
	assert.ErrorIs(t, context.Cause(h.Context()), ErrSessionClosed)

	_, err = g.Start(context.Background(), StartOptions{Input: "late"})
	assert.ErrorIs(t, err, ErrSessionClosed)

	done := make(chan error)
	go func() { done <- g.WaitIdle(context.Background()) }()
	h.Release()
	require.NoError(t, <-done)
}

func TestTaskGuard_SettleVisibleInSnapshot(t *testing.T) {
	g := NewTaskGuard(NewBusySignal())
	h, err := g.Start(context.Background(), StartOptions{Input: "work"})
	require.NoError(t, err)
	defer h.Release()

	assert.False(t, g.Active().Settling)
	h.Settle()
	assert.True(t, g.Active().Settling)

	_, err = g.Start(context.Background(), StartOptions{Input: "next"})
	var busyErr *BusyError
	require.ErrorAs(t, err, &busyErr)
	assert.True(t, busyErr.Occupant.Settling)
}

func TestTaskGuard_SingleOccupant(t *testing.T) {
	g := NewTaskGuard(NewBusySignal())
	var (
		mu      sync.Mutex
		current int
		peak    int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := g.Acquire(context.Background(), StartOptions{Input: "x"})
			if err != nil {
				return
			}
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			current--
			mu.Unlock()
			h.Release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, peak)
	assert.Equal(t, GuardIdle, g.State())
}

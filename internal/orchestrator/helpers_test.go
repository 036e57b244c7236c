package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type runResult struct {
	out string
	err error
}

// fakeRuntime records invocations. With a gate it blocks each Run until a
// result is sent or the context is cancelled.
type fakeRuntime struct {
	mu        sync.Mutex
	calls     []string
	opts      []RunOptions
	active    int
	maxActive int

	busy    atomic.Bool
	started chan string
	gate    chan runResult
	fn      func(ctx context.Context, input string, opts RunOptions) (string, error)
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{started: make(chan string, 16)}
}

func newGatedRuntime() *fakeRuntime {
	r := newFakeRuntime()
	r.gate = make(chan runResult)
	return r
}

func (r *fakeRuntime) Run(ctx context.Context, input string, opts RunOptions) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, input)
	r.opts = append(r.opts, opts)
	r.active++
	if r.active > r.maxActive {
		r.maxActive = r.active
	}
	r.mu.Unlock()
	r.busy.Store(true)

	defer func() {
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
		r.busy.Store(false)
	}()

	r.started <- input

	if r.fn != nil {
		return r.fn(ctx, input, opts)
	}
	if r.gate != nil {
		select {
		case res := <-r.gate:
			return res.out, res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "echo: " + input, nil
}

func (r *fakeRuntime) IsBusy() bool {
	return r.busy.Load()
}

func (r *fakeRuntime) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *fakeRuntime) maxConcurrent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxActive
}

func (r *fakeRuntime) lastOptions() RunOptions {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opts[len(r.opts)-1]
}

func (r *fakeRuntime) waitStarted(t *testing.T) string {
	t.Helper()
	select {
	case in := <-r.started:
		return in
	case <-time.After(2 * time.Second):
		t.Fatal("runtime was not invoked")
		return ""
	}
}

// recordingSender collects delivered events
type recordingSender struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSender) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSender) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *recordingSender) types() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventType, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

func (s *recordingSender) ofType(t EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (s *recordingSender) statuses() []Status {
	var out []Status
	for _, ev := range s.ofType(EventStatus) {
		out = append(out, ev.Status)
	}
	return out
}

func (s *recordingSender) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

func waitForEvent(t *testing.T, s *recordingSender, typ EventType) Event {
	t.Helper()
	var found Event
	require.Eventually(t, func() bool {
		evs := s.ofType(typ)
		if len(evs) == 0 {
			return false
		}
		found = evs[len(evs)-1]
		return true
	}, 2*time.Second, 5*time.Millisecond, "no %s event delivered", typ)
	return found
}

// busyRecorder records busy transitions
type busyRecorder struct {
	mu     sync.Mutex
	values []bool
}

func (b *busyRecorder) SetForegroundBusy(busy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values = append(b.values, busy)
}

func (b *busyRecorder) transitions() []bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bool(nil), b.values...)
}

func newTestSession(t *testing.T, rt Runtime, mutate ...func(*SessionOptions)) *Session {
	t.Helper()
	opts := SessionOptions{
		ID:           "test-session",
		WorkDir:      t.TempDir(),
		FixExclusive: true,
		Logger:       testLogger(),
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	s := NewSession(rt, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

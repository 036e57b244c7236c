// Package echo provides an in-process agent runtime that repeats its input.
// It honours cancellation and absorbs chime-ins like a real runtime, which
// makes it useful for local runs and tests.
package echo

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/AltairaLabs/assistant-server/internal/orchestrator"
)

// Name is the session.runtime value selecting this runtime
const Name = "echo"

// ErrReentrant is returned when Run is called while another Run is active
var ErrReentrant = errors.New("echo runtime does not support concurrent invocations")

// Runtime echoes input after a fixed delay
type Runtime struct {
	delay   time.Duration
	running atomic.Bool
}

// New creates an echo runtime that takes delay to answer
func New(delay time.Duration) *Runtime {
	return &Runtime{delay: delay}
}

// Run echoes input along with any chime-ins absorbed before the delay elapses
func (r *Runtime) Run(ctx context.Context, input string, opts orchestrator.RunOptions) (string, error) {
	if !r.running.CompareAndSwap(false, true) {
		return "", ErrReentrant
	}
	defer r.running.Store(false)

	var absorbed []string
	absorb := func() {
		if opts.ChimeIns == nil {
			return
		}
		for _, e := range opts.ChimeIns.Drain() {
			absorbed = append(absorbed, e.Text)
		}
	}

	var notify <-chan struct{}
	if opts.ChimeIns != nil {
		notify = opts.ChimeIns.Notify()
	}

	timer := time.NewTimer(r.delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-notify:
			absorb()
		case <-timer.C:
			absorb()
			return format(input, opts.Model, absorbed), nil
		}
	}
}

// IsBusy reports whether an invocation is in progress
func (r *Runtime) IsBusy() bool {
	return r.running.Load()
}

func format(input, model string, absorbed []string) string {
	var b strings.Builder
	if model != "" {
		b.WriteString("[")
		b.WriteString(model)
		b.WriteString("] ")
	}
	b.WriteString("echo: ")
	b.WriteString(input)
	for _, a := range absorbed {
		b.WriteString("\n+ ")
		b.WriteString(a)
	}
	return b.String()
}

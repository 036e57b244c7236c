package orchestrator

import "context"

// Runtime is the stateful agent runtime shared by a session. It is not
// reentrant: the orchestrator guarantees at most one foreground invocation.
type Runtime interface {
	// Run invokes the agent and must return promptly once ctx is cancelled
	Run(ctx context.Context, input string, opts RunOptions) (string, error)
	// IsBusy reports whether an invocation is in progress and able to absorb
	// chime-ins
	IsBusy() bool
}

// RunOptions are per-invocation parameters
type RunOptions struct {
	TaskID         string
	Model          string
	SurfaceContext string
	// ChimeIns is nil for invocations that do not absorb input
	ChimeIns ChimeInSource
}

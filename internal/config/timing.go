package config

import "time"

// Default timing and sizing used throughout the server
const (
	// DefaultHTTPAddr is where the websocket gateway, MCP endpoint and /metrics listen
	DefaultHTTPAddr = ":8080"

	// DefaultGRPCAddr is where the gRPC health service listens
	DefaultGRPCAddr = ":50051"

	// DefaultMaxPendingChimeIns bounds the chime-in queue of one foreground task
	DefaultMaxPendingChimeIns = 16

	// DefaultFixMaxAttempts is the auto-fix attempt budget per component
	DefaultFixMaxAttempts = 3

	// DefaultFixRecordTTL is how long an unsettled fix record is kept without new reports
	DefaultFixRecordTTL = 30 * time.Minute

	// DefaultLoopInterval is the background agent loop tick
	DefaultLoopInterval = 5 * time.Minute

	// DefaultLoopMaxAttempts bounds runtime invocations within one loop tick
	DefaultLoopMaxAttempts = 3

	// DefaultLoopRetryInitialDelay and DefaultLoopRetryMaxDelay shape the backoff between them
	DefaultLoopRetryInitialDelay = time.Second
	DefaultLoopRetryMaxDelay     = 30 * time.Second

	// DefaultCloseTimeout bounds how long session teardown waits for in-flight work
	DefaultCloseTimeout = 10 * time.Second

	// DefaultWriteTimeout is the per-message websocket write deadline
	DefaultWriteTimeout = 10 * time.Second

	// DefaultClientSendBuffer is the per-client outbound event buffer
	DefaultClientSendBuffer = 256

	// DefaultShutdownTimeout bounds graceful HTTP and gRPC shutdown
	DefaultShutdownTimeout = 5 * time.Second
)

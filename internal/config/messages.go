package config

// User-visible texts emitted by the orchestrator
const (
	// MsgTaskCancelled is sent when a foreground task is interrupted
	MsgTaskCancelled = "Task cancelled."
	// MsgTaskPreempted is sent when a newer request replaced the running task
	MsgTaskPreempted = "Task cancelled: superseded by a newer request."
	// MsgSessionClosed is sent when the workspace closed underneath a running task
	MsgSessionClosed = "Task cancelled: the workspace was closed."
	// MsgChimeInQueued acknowledges a message absorbed into the running task
	MsgChimeInQueued = "Message queued; the agent will pick it up while it works."
	// MsgChimeInFull tells the requester the running task cannot take more input
	MsgChimeInFull = "The agent already has %d pending messages; wait for it to finish or interrupt."
	// MsgAgentBusy tells the requester the agent cannot take input right now
	MsgAgentBusy = "The agent is busy and cannot take new input right now. Try again or interrupt."
	// MsgAuthFailed is the all-clients authentication failure text
	MsgAuthFailed = "The agent could not authenticate with its model provider."
	// MsgAuthSuggestion points every client at credential configuration
	MsgAuthSuggestion = "Open Settings and configure a valid API key."
	// MsgAuthRemediation is the targeted message to the requester
	MsgAuthRemediation = "Authentication failed: %s. Configure a valid API key in Settings and retry."
	// MsgTaskFailed is the chat-visible text for an unclassified runtime error
	MsgTaskFailed = "The agent stopped with an error: %s"
	// MsgInterrupted is the log-level event text broadcast on interrupt
	MsgInterrupted = "Task interrupted by user"
	// MsgFixExhausted is the fix-failed text once the attempt budget is spent
	MsgFixExhausted = "Auto-fix gave up on %s after %d attempts"
)

package config

// MCP tool names exposed by the server
const (
	// ToolChatSend submits a chat message to the session
	ToolChatSend = "chat.send"
	// ToolChatInterrupt cancels the running foreground task
	ToolChatInterrupt = "chat.interrupt"
	// ToolSessionStatus reports guard state and queue depth
	ToolSessionStatus = "session.status"
	// ToolSurfaceReportError reports a broken surface component for auto-fix
	ToolSurfaceReportError = "surface.report_error"
	// ToolSessionSwitch replaces the session with one for another working directory
	ToolSessionSwitch = "session.switch_workspace"
)

// NotificationSessionEvent is the MCP notification method carrying session events
const NotificationSessionEvent = "notifications/session/event"

// AllTools returns a slice of all available tool names
func AllTools() []string {
	return []string{
		ToolChatSend,
		ToolChatInterrupt,
		ToolSessionStatus,
		ToolSurfaceReportError,
		ToolSessionSwitch,
	}
}

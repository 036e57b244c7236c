package orchestrator

import "time"

// EventType discriminates events delivered to clients
type EventType string

const (
	EventStatus           EventType = "status"
	EventMessage          EventType = "message"
	EventAuthError        EventType = "auth-error"
	EventInterrupted      EventType = "interrupted"
	EventFixFailed        EventType = "fix-failed"
	EventFixApplied       EventType = "fix-applied"
	EventChimeIn          EventType = "chime-in"
	EventSessionState     EventType = "session-state"
	EventWorkspaceChanged EventType = "workspace-changed"
)

// Status is the value of a status event
type Status string

const (
	StatusWorking Status = "working"
	StatusIdle    Status = "idle"
)

// Message roles
const (
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChimeInAck tells the requester what happened to input sent while busy
type ChimeInAck string

const (
	AckQueued ChimeInAck = "queued"
	AckFull   ChimeInAck = "full"
	AckBusy   ChimeInAck = "busy"
)

// Scope selects the recipients of an event
type Scope int

const (
	// ScopeOrigin delivers to the client that issued the request
	ScopeOrigin Scope = iota
	// ScopeAll delivers to every attached client of the session
	ScopeAll
)

// Event is one typed message pushed to clients. Only the fields relevant to
// Type are set.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Status Status `json:"status,omitempty"`

	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`

	Message    string `json:"message,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`

	SurfaceID     string `json:"surfaceId,omitempty"`
	ComponentName string `json:"componentName,omitempty"`
	Attempt       int    `json:"attempt,omitempty"`
	Error         string `json:"error,omitempty"`

	Ack ChimeInAck `json:"ack,omitempty"`

	TaskID  string        `json:"taskId,omitempty"`
	WorkDir string        `json:"workdir,omitempty"`
	State   *SessionState `json:"state,omitempty"`
}

// StatusEvent reports a guard transition
func StatusEvent(status Status) Event {
	return Event{Type: EventStatus, Timestamp: time.Now(), Status: status}
}

// MessageEvent is a chat-visible message
func MessageEvent(role, content string) Event {
	return Event{Type: EventMessage, Timestamp: time.Now(), Role: role, Content: content}
}

// AuthErrorEvent redirects every client to credential configuration
func AuthErrorEvent(message, suggestion string) Event {
	return Event{Type: EventAuthError, Timestamp: time.Now(), Message: message, Suggestion: suggestion}
}

// InterruptedEvent is the log-level notice broadcast on interrupt
func InterruptedEvent(taskID, message string) Event {
	return Event{Type: EventInterrupted, Timestamp: time.Now(), TaskID: taskID, Message: message}
}

// FixFailedEvent reports that a component will not be repaired automatically
func FixFailedEvent(surfaceID, componentName string, attempt int, errText string) Event {
	return Event{
		Type:          EventFixFailed,
		Timestamp:     time.Now(),
		SurfaceID:     surfaceID,
		ComponentName: componentName,
		Attempt:       attempt,
		Error:         errText,
	}
}

// FixAppliedEvent reports a successful repair invocation
func FixAppliedEvent(surfaceID, componentName string, attempt int) Event {
	return Event{
		Type:          EventFixApplied,
		Timestamp:     time.Now(),
		SurfaceID:     surfaceID,
		ComponentName: componentName,
		Attempt:       attempt,
	}
}

// ChimeInEvent acknowledges input received while a task was running
func ChimeInEvent(ack ChimeInAck, message string) Event {
	return Event{Type: EventChimeIn, Timestamp: time.Now(), Ack: ack, Message: message}
}

// SessionStateEvent carries a snapshot for a newly attached client
func SessionStateEvent(state SessionState) Event {
	return Event{Type: EventSessionState, Timestamp: time.Now(), State: &state}
}

// WorkspaceChangedEvent announces a workspace switch
func WorkspaceChangedEvent(workDir string) Event {
	return Event{Type: EventWorkspaceChanged, Timestamp: time.Now(), WorkDir: workDir}
}

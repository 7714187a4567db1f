package livechat

import "time"

// Event types pushed to visitor streams.
const (
	EventConnected      = "connected"
	EventHeartbeat      = "heartbeat"
	EventTimeout        = "timeout"
	EventAgentConnected = "agent_connected"
	EventAgentEnded     = "agent_ended"
	EventSessionClosed  = "session_closed"
	EventMessage        = "message"
)

// Event types pushed to the admin dashboard stream.
const (
	EventAdminConnected     = "admin_connected"
	EventInitialData        = "initial_data"
	EventNewSession         = "new_session"
	EventAssigned           = "assigned"
	EventSessionTimeout     = "session_timeout"
	EventSessionWarning     = "session_warning"
	EventSessionExpired     = "session_expired"
	EventSessionTransferred = "session_transferred"
	EventSessionEnded       = "session_ended"
)

// Event is one SSE frame payload. A single struct covers both streams;
// unused fields are omitted from the wire.
type Event struct {
	Type             string    `json:"type"`
	SessionID        string    `json:"sessionId,omitempty"`
	VisitorName      string    `json:"visitorName,omitempty"`
	VisitorEmail     string    `json:"visitorEmail,omitempty"`
	RequestedRole    string    `json:"requestedRole,omitempty"`
	AgentName        string    `json:"agentName,omitempty"`
	AgentRole        string    `json:"agentRole,omitempty"`
	From             string    `json:"from,omitempty"`
	Text             string    `json:"text,omitempty"`
	Name             string    `json:"name,omitempty"`
	Message          string    `json:"message,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	FromRole         string    `json:"fromRole,omitempty"`
	ToRole           string    `json:"toRole,omitempty"`
	TransferredBy    string    `json:"transferredBy,omitempty"`
	EndedBy          string    `json:"endedBy,omitempty"`
	Status           Status    `json:"status,omitempty"`
	TimeRemaining    int       `json:"timeRemaining,omitempty"`
	SecondsRemaining int       `json:"secondsRemaining,omitempty"`
	TimeoutIn        int       `json:"timeoutIn,omitempty"`
	Timestamp        time.Time `json:"timestamp,omitempty"`

	// Initial snapshot fields, admin stream only.
	WaitingSessions  int       `json:"waitingSessions,omitempty"`
	TimedOutSessions int       `json:"timedOutSessions,omitempty"`
	TotalSessions    int       `json:"totalSessions,omitempty"`
	Sessions         []Summary `json:"sessions,omitempty"`
}

// MessageEvent wraps a chat message as a stream frame.
func MessageEvent(sessionID string, msg Message) Event {
	return Event{
		Type:      EventMessage,
		SessionID: sessionID,
		From:      msg.From,
		Text:      msg.Text,
		Name:      msg.Name,
		Timestamp: msg.Timestamp,
	}
}

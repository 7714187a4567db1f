package livechat

import "time"

// Status tracks where a session sits in its claim lifecycle.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusClaimed  Status = "claimed"
	StatusTimedOut Status = "timed_out"
	StatusEnded    Status = "ended"
)

// Message is one chat turn, visible to both the visitor and the agent.
type Message struct {
	From      string    `json:"from"`
	Text      string    `json:"text"`
	Name      string    `json:"name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Session captures one visitor's live-agent engagement held in memory from
// request until close, end, or expiry. State is volatile; a restart loses it.
type Session struct {
	ID            string     `json:"id"`
	VisitorName   string     `json:"visitorName"`
	VisitorEmail  string     `json:"visitorEmail"`
	RequestedRole string     `json:"requestedRole"`
	AgentName     string     `json:"agentName,omitempty"`
	AssignedRole  string     `json:"assignedRole,omitempty"`
	Status        Status     `json:"status"`
	Messages      []Message  `json:"messages"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastActivity  time.Time  `json:"lastActivity"`
	ClaimedAt     *time.Time `json:"claimedAt,omitempty"`
	TimeoutAt     time.Time  `json:"timeoutAt"`
	WarningSent   bool       `json:"-"`
}

// Age reports how long the session has existed.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// TimeRemaining reports how long the session may still wait for a claim.
// Zero once the claim window has elapsed.
func (s *Session) TimeRemaining(now time.Time, claimTimeout time.Duration) time.Duration {
	remaining := claimTimeout - s.Age(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Summary is the dashboard-facing projection of a session.
type Summary struct {
	ID            string    `json:"id"`
	VisitorName   string    `json:"visitorName"`
	AgentName     string    `json:"agentName,omitempty"`
	RequestedRole string    `json:"requestedRole"`
	AssignedRole  string    `json:"assignedRole,omitempty"`
	MessageCount  int       `json:"messagesCount"`
	LastMessage   *Message  `json:"lastMessage"`
	CreatedAt     time.Time `json:"createdAt"`
	LastActivity  time.Time `json:"lastActivity"`
	Status        Status    `json:"status"`
	TimeRemaining int       `json:"timeRemaining"`
	IsUrgent      bool      `json:"isUrgent"`
	TimeoutAt     time.Time `json:"timeoutAt"`
}

// Summarize projects the session for dashboard listings. urgentWindow marks
// sessions whose remaining claim time has dropped inside the warning window.
func (s *Session) Summarize(now time.Time, claimTimeout, urgentWindow time.Duration) Summary {
	remaining := s.TimeRemaining(now, claimTimeout)

	var last *Message
	if n := len(s.Messages); n > 0 {
		msg := s.Messages[n-1]
		last = &msg
	}

	return Summary{
		ID:            s.ID,
		VisitorName:   s.VisitorName,
		AgentName:     s.AgentName,
		RequestedRole: s.RequestedRole,
		AssignedRole:  s.AssignedRole,
		MessageCount:  len(s.Messages),
		LastMessage:   last,
		CreatedAt:     s.CreatedAt,
		LastActivity:  s.LastActivity,
		Status:        s.Status,
		TimeRemaining: int(remaining.Round(time.Second) / time.Second),
		IsUrgent:      remaining > 0 && remaining <= urgentWindow,
		TimeoutAt:     s.TimeoutAt,
	}
}

package livechat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ihubtech/livechat-server/internal/config"
	"github.com/ihubtech/livechat-server/internal/model/livechat"
	"github.com/ihubtech/livechat-server/internal/notify"
	"github.com/ihubtech/livechat-server/internal/persistence"
)

// Broker orchestrates the session lifecycle: request, claim, relay,
// transfer, close. It mutates the registry under its lock, then fans events
// out and dispatches persistence and push side effects fire-and-forget so a
// slow collaborator can never stall a claim or a message.
type Broker struct {
	cfg      config.LiveChatConfig
	store    *SessionStore
	streams  *Broadcaster
	recorder persistence.Recorder
	notifier notify.Notifier
}

// NewBroker wires the broker to its registry, broadcaster, and collaborators.
func NewBroker(cfg config.LiveChatConfig, store *SessionStore, streams *Broadcaster, recorder persistence.Recorder, notifier notify.Notifier) *Broker {
	return &Broker{
		cfg:      cfg,
		store:    store,
		streams:  streams,
		recorder: recorder,
		notifier: notifier,
	}
}

// Config exposes the timer/role settings to handlers and the sweeper.
func (b *Broker) Config() config.LiveChatConfig { return b.cfg }

// Store exposes the registry for read-only handler paths.
func (b *Broker) Store() *SessionStore { return b.store }

// Streams exposes the broadcaster for stream handlers.
func (b *Broker) Streams() *Broadcaster { return b.streams }

// Recorder exposes the persistence collaborator for handler fallbacks.
func (b *Broker) Recorder() persistence.Recorder { return b.recorder }

// RequestSession creates a waiting session and returns its id together with
// the claim window in seconds. Persistence and push dispatch happen off the
// request path; only the in-memory insert and the admin broadcast are
// synchronous.
func (b *Broker) RequestSession(visitorName, visitorEmail, requestedRole string, initial []livechat.Message) (string, int) {
	name := strings.TrimSpace(visitorName)
	if name == "" || name == "null" {
		name = "Guest"
	}

	role := strings.ToLower(strings.TrimSpace(requestedRole))
	if role == "" {
		role = "support"
	}

	now := time.Now().UTC()
	session := &livechat.Session{
		ID:            uuid.NewString(),
		VisitorName:   name,
		VisitorEmail:  strings.TrimSpace(visitorEmail),
		RequestedRole: role,
		Status:        livechat.StatusWaiting,
		Messages:      append([]livechat.Message(nil), initial...),
		CreatedAt:     now,
		LastActivity:  now,
		TimeoutAt:     now.Add(b.cfg.ClaimTimeout),
	}
	b.store.Create(session)

	sessionID := session.ID
	b.sideEffect("create conversation", func(ctx context.Context) error {
		return b.recorder.CreateConversation(ctx, sessionID, name, session.VisitorEmail)
	})
	b.sideEffect("push notification", func(ctx context.Context) error {
		return b.notifier.NotifyIncoming(ctx, notify.Incoming{
			SessionID:     sessionID,
			VisitorName:   name,
			RequestedRole: role,
		})
	})

	b.streams.NotifyAdmins(livechat.Event{
		Type:          livechat.EventNewSession,
		SessionID:     sessionID,
		VisitorName:   name,
		VisitorEmail:  session.VisitorEmail,
		RequestedRole: role,
		TimeoutIn:     int(b.cfg.ClaimTimeout.Seconds()),
		Timestamp:     now,
	})

	return sessionID, int(b.cfg.ClaimTimeout.Seconds())
}

// ClaimSession assigns an agent to a waiting session. The claim is
// exactly-once: the compare-and-set on AgentName runs under the registry
// lock, so of two concurrent claims only the first wins.
func (b *Broker) ClaimSession(sessionID, agentName, agentRole string) error {
	if sessionID == "" || strings.TrimSpace(agentName) == "" {
		return fmt.Errorf("%w: sessionId and agentName are required", ErrInvalidInput)
	}

	role := strings.ToLower(strings.TrimSpace(agentRole))
	now := time.Now().UTC()
	welcome := livechat.Message{
		From:      "agent",
		Text:      fmt.Sprintf("Hello, I'm %s from the %s team. How can I help you today?", agentName, role),
		Name:      agentName,
		Timestamp: now,
	}

	var visitorName, requestedRole string
	err := b.store.Update(sessionID, func(s *livechat.Session) error {
		if s.Status == livechat.StatusTimedOut {
			return ErrAlreadyTimedOut
		}
		if s.AgentName != "" {
			return ErrAlreadyClaimed
		}

		s.AgentName = agentName
		s.AssignedRole = role
		s.Status = livechat.StatusClaimed
		s.LastActivity = now
		claimedAt := now
		s.ClaimedAt = &claimedAt
		s.Messages = append(s.Messages, welcome)

		visitorName = s.VisitorName
		requestedRole = s.RequestedRole
		return nil
	})
	if err != nil {
		return err
	}

	b.sideEffect("record claim", func(ctx context.Context) error {
		if err := b.recorder.RecordClaim(ctx, sessionID, agentName); err != nil {
			return err
		}
		return b.recorder.LogEvent(ctx, sessionID, "claim", fmt.Sprintf("Claimed by %s (%s)", agentName, role))
	})

	b.streams.NotifyAdmins(livechat.Event{
		Type:          livechat.EventAssigned,
		SessionID:     sessionID,
		AgentName:     agentName,
		AgentRole:     role,
		VisitorName:   visitorName,
		RequestedRole: requestedRole,
		Timestamp:     now,
	})
	b.streams.Push(sessionID, livechat.Event{
		Type:      livechat.EventAgentConnected,
		SessionID: sessionID,
		Message:   fmt.Sprintf("Connected to %s from %s team", agentName, role),
		AgentName: agentName,
		Timestamp: now,
	})
	b.streams.Push(sessionID, livechat.MessageEvent(sessionID, welcome))

	log.Printf("[broker] session %s claimed by %s (%s)", sessionID, agentName, role)
	return nil
}

// SendMessage appends a chat turn and routes delivery by direction:
// visitor-origin messages go to the admin dashboards, agent-origin messages
// to the session's visitor streams. The sender display name resolves to the
// stored agent/visitor name unless explicitly overridden.
func (b *Broker) SendMessage(sessionID, text, from, nameOverride string) error {
	if sessionID == "" || strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: sessionId and text are required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	var msg livechat.Message
	err := b.store.Update(sessionID, func(s *livechat.Session) error {
		name := strings.TrimSpace(nameOverride)
		if name == "" {
			if from == "agent" {
				name = s.AgentName
				if name == "" {
					name = "Agent"
				}
			} else {
				name = s.VisitorName
			}
		}

		msg = livechat.Message{From: from, Text: text, Name: name, Timestamp: now}
		s.Messages = append(s.Messages, msg)
		s.LastActivity = now
		return nil
	})
	if err != nil {
		return err
	}

	line := fmt.Sprintf("[%s - %s] %s\n", msg.Name, now.Format("2006-01-02 15:04:05"), text)
	b.sideEffect("append transcript", func(ctx context.Context) error {
		if err := b.recorder.AppendTranscript(ctx, sessionID, line); err != nil {
			return err
		}
		return b.recorder.LogEvent(ctx, sessionID, "message", fmt.Sprintf("%s: %s", msg.Name, text))
	})

	if from == "agent" {
		b.streams.Push(sessionID, livechat.MessageEvent(sessionID, msg))
	} else {
		event := livechat.MessageEvent(sessionID, msg)
		event.VisitorName = msg.Name
		b.streams.NotifyAdmins(event)
	}
	return nil
}

// TransferSession hands a session to another role queue. The agent binding
// is cleared and the session re-enters the waiting population; the original
// claim deadline keeps running.
func (b *Broker) TransferSession(sessionID, targetRole, transferredBy string) (string, error) {
	role := strings.ToLower(strings.TrimSpace(targetRole))
	if !b.cfg.ValidRole(role) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, targetRole)
	}

	now := time.Now().UTC()
	var oldRole, visitorName string
	err := b.store.Update(sessionID, func(s *livechat.Session) error {
		oldRole = s.RequestedRole
		visitorName = s.VisitorName

		s.RequestedRole = role
		s.AgentName = ""
		s.AssignedRole = ""
		s.ClaimedAt = nil
		s.LastActivity = now
		if s.Status == livechat.StatusClaimed {
			s.Status = livechat.StatusWaiting
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	b.sideEffect("log transfer", func(ctx context.Context) error {
		return b.recorder.LogEvent(ctx, sessionID, "transfer",
			fmt.Sprintf("Transferred from %s to %s by %s", oldRole, role, transferredBy))
	})

	b.streams.NotifyAdmins(livechat.Event{
		Type:          livechat.EventSessionTransferred,
		SessionID:     sessionID,
		VisitorName:   visitorName,
		FromRole:      oldRole,
		ToRole:        role,
		TransferredBy: transferredBy,
		Timestamp:     now,
	})

	return oldRole, nil
}

// CloseSession tears a session down on the visitor's behalf: terminal event
// to the visitor, end-of-session record, admin broadcast, then removal.
func (b *Broker) CloseSession(sessionID string) error {
	session, ok := b.store.Get(sessionID)
	if !ok {
		return ErrNotFound
	}

	now := time.Now().UTC()
	b.sideEffect("record close", func(ctx context.Context) error {
		if err := b.recorder.RecordEnd(ctx, sessionID); err != nil {
			return err
		}
		return b.recorder.LogEvent(ctx, sessionID, "close", "Session closed")
	})

	b.streams.Push(sessionID, livechat.Event{
		Type:      livechat.EventSessionClosed,
		SessionID: sessionID,
		Status:    livechat.StatusEnded,
		Timestamp: now,
	})
	b.streams.NotifyAdmins(livechat.Event{
		Type:        livechat.EventSessionEnded,
		SessionID:   sessionID,
		VisitorName: session.VisitorName,
		Reason:      "Session closed",
		Timestamp:   now,
	})

	b.store.Delete(sessionID)
	b.streams.DropSession(sessionID)
	return nil
}

// EndSession tears a session down on the agent's behalf, carrying a
// human-readable reason to the visitor.
func (b *Broker) EndSession(sessionID, agentName, agentRole, reason string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: sessionId is required", ErrInvalidInput)
	}

	session, ok := b.store.Get(sessionID)
	if !ok {
		return ErrNotFound
	}

	if agentName == "" {
		agentName = "Admin"
	}
	if agentRole == "" {
		agentRole = "support"
	}
	if reason == "" {
		reason = "Chat ended by agent"
	}

	now := time.Now().UTC()
	b.sideEffect("record end", func(ctx context.Context) error {
		if err := b.recorder.RecordEnd(ctx, sessionID); err != nil {
			return err
		}
		return b.recorder.LogEvent(ctx, sessionID, "end", fmt.Sprintf("Ended by %s: %s", agentName, reason))
	})

	b.streams.Push(sessionID, livechat.Event{
		Type:      livechat.EventAgentEnded,
		SessionID: sessionID,
		Message:   fmt.Sprintf("%s (%s) has ended the chat. Thank you for contacting us!", agentName, agentRole),
		Reason:    reason,
		Status:    livechat.StatusEnded,
		Timestamp: now,
	})
	b.streams.NotifyAdmins(livechat.Event{
		Type:        livechat.EventSessionEnded,
		SessionID:   sessionID,
		VisitorName: session.VisitorName,
		EndedBy:     agentName,
		Reason:      reason,
		Timestamp:   now,
	})

	b.store.Delete(sessionID)
	b.streams.DropSession(sessionID)

	log.Printf("[broker] session %s ended by %s", sessionID, agentName)
	return nil
}

// validRatings is the closed vocabulary the dashboard reports on.
var validRatings = map[string]bool{"Good": true, "Needs Improvement": true, "Not Rated": true}

// RateSession persists the visitor's verdict. Unrecognized values normalize
// to "Not Rated" instead of failing; the in-memory session is untouched.
func (b *Broker) RateSession(sessionID, rating, ratingType string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: sessionId is required", ErrInvalidInput)
	}

	if !validRatings[rating] {
		rating = "Not Rated"
	}
	if !validRatings[ratingType] {
		ratingType = "Not Rated"
	}

	b.sideEffect("record rating", func(ctx context.Context) error {
		if err := b.recorder.RecordRating(ctx, sessionID, rating, ratingType); err != nil {
			return err
		}
		return b.recorder.LogEvent(ctx, sessionID, "rating", rating)
	})
	return nil
}

// ListSessions snapshots the registry for the dashboard, optionally
// filtered by requested role, timed-out visibility, and waiting-only.
func (b *Broker) ListSessions(role string, includeTimedOut, waitingOnly bool) []livechat.Summary {
	role = strings.ToLower(strings.TrimSpace(role))
	now := time.Now().UTC()

	sessions := b.store.List()
	list := make([]livechat.Summary, 0, len(sessions))
	for _, s := range sessions {
		if role != "" && role != "all" && s.RequestedRole != role {
			continue
		}
		if !includeTimedOut && s.Status == livechat.StatusTimedOut {
			continue
		}
		if waitingOnly && s.AgentName != "" {
			continue
		}
		list = append(list, s.Summarize(now, b.cfg.ClaimTimeout, b.cfg.WarningThreshold))
	}
	return list
}

// Stats aggregates registry counters for monitoring.
type Stats struct {
	Total           int            `json:"total"`
	ByRole          map[string]int `json:"byRole"`
	ByStatus        map[string]int `json:"byStatus"`
	Waiting         int            `json:"waiting"`
	Active          int            `json:"active"`
	AdminStreams    int            `json:"adminConnections"`
	AverageWaitTime int            `json:"averageWaitTime"`
	Timestamp       time.Time      `json:"timestamp"`
}

// SessionStats computes the dashboard counters from a registry snapshot.
func (b *Broker) SessionStats() Stats {
	sessions := b.store.List()

	stats := Stats{
		Total:     len(sessions),
		ByRole:    make(map[string]int),
		ByStatus:  map[string]int{"waiting": 0, "claimed": 0, "timed_out": 0},
		Timestamp: time.Now().UTC(),
	}
	for _, role := range b.cfg.Roles {
		stats.ByRole[role] = 0
	}

	var claimed int
	var totalWait time.Duration
	for _, s := range sessions {
		stats.ByRole[s.RequestedRole]++
		switch {
		case s.Status == livechat.StatusTimedOut:
			stats.ByStatus["timed_out"]++
		case s.AgentName != "":
			stats.ByStatus["claimed"]++
			stats.Active++
		default:
			stats.ByStatus["waiting"]++
			stats.Waiting++
		}

		if s.AgentName != "" && s.ClaimedAt != nil {
			claimed++
			totalWait += s.ClaimedAt.Sub(s.CreatedAt)
		}
	}
	if claimed > 0 {
		stats.AverageWaitTime = int(totalWait.Seconds()) / claimed
	}

	stats.AdminStreams = b.streams.AdminCount()
	return stats
}

// sideEffect runs a collaborator call off the request path. Failures are
// logged and swallowed: in-memory state is authoritative and persistence is
// best effort.
func (b *Broker) sideEffect(op string, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := persistence.Background()
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Printf("[broker] %s failed: %v", op, err)
		}
	}()
}

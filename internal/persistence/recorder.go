package persistence

import (
	"context"
	"time"
)

// FAQ is one knowledge-base entry served to the AI fallback responder.
type FAQ struct {
	ID          int64
	Question    string
	Answer      string
	AnswerShort string
	Keywords    string
	Confidence  float64
	Priority    int
}

// Prompt is the stored system-prompt definition for an agent type.
type Prompt struct {
	Identity         string
	RoleDescription  string
	ContextKnowledge string
	Language         string
	Tone             string
	Version          string
}

// Recorder is the persistence collaborator of the session broker. Every
// call is best effort: the in-memory registry stays authoritative and the
// broker logs and swallows Recorder failures.
type Recorder interface {
	CreateConversation(ctx context.Context, sessionID, visitorName, visitorEmail string) error
	AppendTranscript(ctx context.Context, sessionID, line string) error
	LogEvent(ctx context.Context, sessionID, action, details string) error
	RecordClaim(ctx context.Context, sessionID, agentName string) error
	RecordEnd(ctx context.Context, sessionID string) error
	RecordRating(ctx context.Context, sessionID, rating, ratingType string) error

	RegisterPushToken(ctx context.Context, token string) error
	ListPushTokens(ctx context.Context) ([]string, error)

	SearchFAQ(ctx context.Context, agentType string, terms []string) ([]FAQ, error)
	ActivePrompt(ctx context.Context, agentType string) (*Prompt, error)

	AgentName(ctx context.Context, sessionID string) (string, error)
}

// sideEffectTimeout caps a single fire-and-forget persistence call so a
// slow database cannot pile up goroutines indefinitely.
const sideEffectTimeout = 10 * time.Second

// Noop satisfies Recorder without persisting anything. Used when no
// DATABASE_URL is configured.
type Noop struct{}

func (Noop) CreateConversation(context.Context, string, string, string) error { return nil }
func (Noop) AppendTranscript(context.Context, string, string) error           { return nil }
func (Noop) LogEvent(context.Context, string, string, string) error           { return nil }
func (Noop) RecordClaim(context.Context, string, string) error                { return nil }
func (Noop) RecordEnd(context.Context, string) error                          { return nil }
func (Noop) RecordRating(context.Context, string, string, string) error       { return nil }
func (Noop) RegisterPushToken(context.Context, string) error                  { return nil }
func (Noop) ListPushTokens(context.Context) ([]string, error)                 { return nil, nil }
func (Noop) SearchFAQ(context.Context, string, []string) ([]FAQ, error)       { return nil, nil }
func (Noop) ActivePrompt(context.Context, string) (*Prompt, error)            { return nil, nil }
func (Noop) AgentName(context.Context, string) (string, error)                { return "", nil }

// Background derives a detached, capped context for a side effect issued
// after the registry lock is released.
func Background() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), sideEffectTimeout)
}

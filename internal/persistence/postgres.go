package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Recorder on a pgx connection pool. Schema mirrors the
// CRM tables the dashboard reads: conversation records keyed by session id
// with an append-only transcript column, a structured session-event log,
// admin push tokens, and the FAQ/prompt catalog for the AI responder.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects a pool and verifies it with a ping.
func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) CreateConversation(ctx context.Context, sessionID, visitorName, visitorEmail string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO chatbot_conversations_liveagent
		   (session_id, client_name, client_email, conversation_text, created_at, status)
		 VALUES ($1, $2, $3, '', now(), 'active')`,
		sessionID, visitorName, visitorEmail)
	return err
}

func (p *Postgres) AppendTranscript(ctx context.Context, sessionID, line string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE chatbot_conversations_liveagent
		 SET conversation_text = coalesce(conversation_text, '') || $1
		 WHERE session_id = $2`,
		line, sessionID)
	return err
}

func (p *Postgres) LogEvent(ctx context.Context, sessionID, action, details string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO chatbot_session_logs (session_id, action, details, timestamp)
		 VALUES ($1, $2, $3, now())`,
		sessionID, action, details)
	return err
}

// RecordClaim writes the winning agent. The agent_name IS NULL guard keeps
// the row consistent with the in-memory exactly-once claim.
func (p *Postgres) RecordClaim(ctx context.Context, sessionID, agentName string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE chatbot_conversations_liveagent
		 SET agent_name = $1, status = 'claimed'
		 WHERE session_id = $2 AND agent_name IS NULL`,
		agentName, sessionID)
	return err
}

func (p *Postgres) RecordEnd(ctx context.Context, sessionID string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE chatbot_conversations_liveagent
		 SET ended_at = now(), status = 'ended'
		 WHERE session_id = $1`,
		sessionID)
	return err
}

func (p *Postgres) RecordRating(ctx context.Context, sessionID, rating, ratingType string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE chatbot_conversations_liveagent
		 SET rating = $1, rating_type = $2
		 WHERE session_id = $3`,
		rating, ratingType, sessionID)
	return err
}

func (p *Postgres) RegisterPushToken(ctx context.Context, token string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO admin_push_tokens (fcm_token) VALUES ($1)
		 ON CONFLICT (fcm_token) DO NOTHING`,
		token)
	return err
}

func (p *Postgres) ListPushTokens(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT fcm_token FROM admin_push_tokens`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

// SearchFAQ ranks active FAQ entries for the agent type by keyword overlap.
func (p *Postgres) SearchFAQ(ctx context.Context, agentType string, terms []string) ([]FAQ, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	rows, err := p.pool.Query(ctx,
		`SELECT f.id, f.question, f.answer, coalesce(f.answer_short, ''),
		        coalesce(f.keywords, ''), coalesce(f.confidence_score, 1.0),
		        coalesce(f.priority, 0)
		 FROM chatbot_faq f
		 JOIN chatbot_categories c ON c.id = f.category_id
		 WHERE f.status = 'active'
		   AND c.agent_type = $1
		   AND (f.question ILIKE ANY(string_to_array($2, '|'))
		        OR f.keywords ILIKE ANY(string_to_array($2, '|'))
		        OR f.answer ILIKE ANY(string_to_array($2, '|')))
		 ORDER BY f.priority DESC, f.confidence_score DESC, f.usage_count DESC
		 LIMIT 5`,
		agentType, likeList(terms))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var faqs []FAQ
	for rows.Next() {
		var f FAQ
		if err := rows.Scan(&f.ID, &f.Question, &f.Answer, &f.AnswerShort, &f.Keywords, &f.Confidence, &f.Priority); err != nil {
			return nil, err
		}
		faqs = append(faqs, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(faqs) > 0 {
		ids := make([]int64, len(faqs))
		for i, f := range faqs {
			ids[i] = f.ID
		}
		_, _ = p.pool.Exec(ctx,
			`UPDATE chatbot_faq
			 SET usage_count = usage_count + 1, last_used = now()
			 WHERE id = ANY($1)`, ids)
	}
	return faqs, nil
}

// ActivePrompt returns the newest active prompt for the agent type, or nil
// when the catalog has none.
func (p *Postgres) ActivePrompt(ctx context.Context, agentType string) (*Prompt, error) {
	var prompt Prompt
	err := p.pool.QueryRow(ctx,
		`SELECT identity, coalesce(role_description, ''), coalesce(context_knowledge, ''),
		        coalesce(language, 'australian_english'), coalesce(tone, 'professional'),
		        coalesce(version, 'v1.0')
		 FROM chatbot_prompts
		 WHERE agent_type = $1 AND is_active
		 ORDER BY CASE status WHEN 'active' THEN 1 WHEN 'testing' THEN 2 WHEN 'draft' THEN 3 ELSE 4 END,
		          version DESC
		 LIMIT 1`,
		agentType).Scan(&prompt.Identity, &prompt.RoleDescription, &prompt.ContextKnowledge,
		&prompt.Language, &prompt.Tone, &prompt.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &prompt, nil
}

// AgentName looks up the persisted agent for a session, for reconnecting
// clients whose in-memory session already expired.
func (p *Postgres) AgentName(ctx context.Context, sessionID string) (string, error) {
	var name *string
	err := p.pool.QueryRow(ctx,
		`SELECT agent_name FROM chatbot_conversations_liveagent WHERE session_id = $1`,
		sessionID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if name == nil {
		return "", nil
	}
	return *name, nil
}

func likeList(terms []string) string {
	patterns := make([]string, len(terms))
	for i, term := range terms {
		patterns[i] = "%" + term + "%"
	}
	return strings.Join(patterns, "|")
}

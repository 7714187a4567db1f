package assist

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/ihubtech/livechat-server/internal/config"
	"github.com/ihubtech/livechat-server/internal/persistence"
)

// Service is the AI-assisted FAQ responder visitors talk to before (or
// instead of) requesting a live agent. It matches FAQ entries, assembles a
// system prompt, and answers via the configured chat model, falling back to
// a canned reply when no model is available.
type Service struct {
	agentTypes []string
	recorder   persistence.Recorder
	chain      compose.Runnable[map[string]any, *schema.Message]
}

// Reply is the responder's answer plus its provenance.
type Reply struct {
	Reply      string    `json:"reply"`
	AgentType  string    `json:"agent_type"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"`
	FAQCount   int       `json:"faq_count"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewService builds the responder. A missing model configuration is not an
// error; the service degrades to FAQ-only replies.
func NewService(ctx context.Context, recorder persistence.Recorder, aiCfg config.AIConfig, agentTypes []string) (*Service, error) {
	svc := &Service{agentTypes: agentTypes, recorder: recorder}
	if !aiCfg.Enabled() {
		return svc, nil
	}

	chatModel, err := aiCfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile chat chain: %w", err)
	}

	svc.chain = runnable
	return svc, nil
}

// ModelEnabled reports whether a chat model backs the responder.
func (s *Service) ModelEnabled() bool { return s.chain != nil }

// NormalizeAgentType clamps an arbitrary agent type to the configured set,
// defaulting to general.
func (s *Service) NormalizeAgentType(agentType string) string {
	agentType = strings.ToLower(strings.TrimSpace(agentType))
	for _, t := range s.agentTypes {
		if t == agentType {
			return agentType
		}
	}
	return "general"
}

// defaultConfidence approximates answer quality per agent type when no FAQ
// entry matched.
var defaultConfidence = map[string]float64{
	"sales":      0.85,
	"support":    0.75,
	"automation": 0.80,
	"general":    0.65,
}

// Respond answers a visitor message. FAQ and prompt lookups are best
// effort; their failures degrade the answer instead of failing the call.
func (s *Service) Respond(ctx context.Context, agentType, message string) (Reply, error) {
	if strings.TrimSpace(message) == "" {
		return Reply{}, fmt.Errorf("message is required")
	}

	agentType = s.NormalizeAgentType(agentType)

	terms := ExtractSearchTerms(message)
	faqs, err := s.recorder.SearchFAQ(ctx, agentType, terms)
	if err != nil {
		log.Printf("[assist] faq search failed: %v", err)
		faqs = nil
	}

	confidence := defaultConfidence[agentType] * 0.8
	if len(faqs) > 0 {
		var total float64
		for _, faq := range faqs {
			total += faq.Confidence
		}
		confidence = total / float64(len(faqs)) * 0.9
		if confidence > 0.95 {
			confidence = 0.95
		}
	}

	stored, err := s.recorder.ActivePrompt(ctx, agentType)
	if err != nil {
		log.Printf("[assist] prompt lookup failed: %v", err)
	}
	promptDef := DefaultPrompt(agentType)
	if stored != nil {
		promptDef = *stored
	}

	reply := Reply{
		AgentType:  agentType,
		Confidence: confidence,
		FAQCount:   len(faqs),
		Timestamp:  time.Now().UTC(),
	}

	if s.chain == nil {
		reply.Reply = fallbackReply(agentType, faqs)
		reply.Source = "faq_fallback"
		return reply, nil
	}

	response, err := s.chain.Invoke(ctx, map[string]any{
		"system": BuildSystemPrompt(promptDef, agentType, faqs),
		"query":  message,
	})
	if err != nil {
		log.Printf("[assist] model invoke failed, using fallback: %v", err)
		reply.Reply = fallbackReply(agentType, faqs)
		reply.Source = "faq_fallback"
		return reply, nil
	}

	reply.Reply = response.Content
	reply.Source = "model"
	log.Printf("[assist] answered agent_type=%s faqs=%d length=%d", agentType, len(faqs), len(response.Content))
	return reply, nil
}

package assist

import (
	"fmt"
	"strings"

	"github.com/ihubtech/livechat-server/internal/persistence"
)

// stopWords are filtered out of FAQ search terms.
var stopWords = map[string]bool{
	"i": true, "me": true, "my": true, "we": true, "our": true, "you": true,
	"your": true, "he": true, "she": true, "it": true, "its": true,
	"they": true, "them": true, "their": true, "what": true, "which": true,
	"who": true, "this": true, "that": true, "these": true, "those": true,
	"am": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "a": true, "an": true,
	"the": true, "and": true, "but": true, "if": true, "or": true,
	"because": true, "as": true, "until": true, "while": true, "of": true,
	"at": true, "by": true, "for": true, "with": true, "about": true,
	"into": true, "through": true, "before": true, "after": true,
	"to": true, "from": true, "up": true, "down": true, "in": true,
	"out": true, "on": true, "off": true, "over": true, "under": true,
	"again": true, "then": true, "once": true, "here": true, "there": true,
	"when": true, "where": true, "why": true, "how": true, "all": true,
	"any": true, "both": true, "each": true, "few": true, "more": true,
	"most": true, "other": true, "some": true, "such": true, "no": true,
	"nor": true, "not": true, "only": true, "own": true, "same": true,
	"so": true, "than": true, "too": true, "very": true, "can": true,
	"will": true, "just": true, "should": true, "now": true,
	"please": true, "help": true,
}

// ExtractSearchTerms reduces a visitor message to at most five search
// keywords: lowercased, stop words removed, common suffixes stripped.
func ExtractSearchTerms(message string) []string {
	fields := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', ',', '.', '?', '!':
			return true
		}
		return false
	})

	terms := make([]string, 0, 5)
	for _, field := range fields {
		term := strings.TrimSpace(field)
		if len(term) <= 2 || stopWords[term] {
			continue
		}

		term = strings.TrimSuffix(term, "ed")
		term = strings.TrimSuffix(term, "ing")
		term = strings.TrimSuffix(term, "s")
		if len(term) <= 2 {
			continue
		}

		terms = append(terms, term)
		if len(terms) == 5 {
			break
		}
	}
	return terms
}

// DefaultPrompt is the hardcoded identity used when the prompt catalog has
// no entry for the agent type.
func DefaultPrompt(agentType string) persistence.Prompt {
	title := strings.ToUpper(agentType[:1]) + agentType[1:]
	return persistence.Prompt{
		Identity:         title + " Assistant",
		RoleDescription:  fmt.Sprintf("Assist with %s related inquiries.", agentType),
		ContextKnowledge: "General information about our products and services.",
		Language:         "australian_english",
		Tone:             "professional",
		Version:          "fallback",
	}
}

// BuildSystemPrompt assembles the single canonical system prompt from a
// stored (or default) prompt definition plus any matched FAQ context.
func BuildSystemPrompt(prompt persistence.Prompt, agentType string, faqs []persistence.FAQ) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, a %s assistant.\n", prompt.Identity, agentType)
	if prompt.RoleDescription != "" {
		fmt.Fprintf(&b, "Role: %s\n", prompt.RoleDescription)
	}
	if prompt.ContextKnowledge != "" {
		fmt.Fprintf(&b, "Knowledge: %s\n", prompt.ContextKnowledge)
	}
	fmt.Fprintf(&b, "Respond in %s with a %s tone.\n", prompt.Language, prompt.Tone)

	if len(faqs) > 0 {
		b.WriteString("\nRelevant FAQ entries:\n")
		for _, faq := range faqs {
			answer := faq.AnswerShort
			if answer == "" {
				answer = faq.Answer
			}
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", faq.Question, answer)
		}
		b.WriteString("\nPrefer the FAQ answers above when they cover the question.")
	}

	b.WriteString("\nIf you cannot answer, suggest connecting to a live agent.")
	return b.String()
}

// fallbackReply is the canned answer used when no chat model is configured.
func fallbackReply(agentType string, faqs []persistence.FAQ) string {
	if len(faqs) > 0 {
		answer := faqs[0].AnswerShort
		if answer == "" {
			answer = faqs[0].Answer
		}
		return answer
	}
	return fmt.Sprintf("Thanks for reaching out! I couldn't find an answer for that. Would you like to connect with our %s team?", agentType)
}

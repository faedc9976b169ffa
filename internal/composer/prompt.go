package composer

import (
	"fmt"
	"strings"

	"github.com/kalambet/reviewdesk/internal/feedback"
)

const defaultMaxTextTokens = 3000

const truncationMarker = "\n[...]"

// Composer builds reply prompts from feedback records.
type Composer struct {
	// MaxTextTokens bounds the review text copied into the prompt. Long mail
	// threads are cut at this budget; the header lines are never cut.
	MaxTextTokens int
}

// New creates a Composer. If maxTextTokens <= 0, the default (3000) is used.
func New(maxTextTokens int) *Composer {
	if maxTextTokens <= 0 {
		maxTextTokens = defaultMaxTextTokens
	}
	return &Composer{MaxTextTokens: maxTextTokens}
}

// Prompt renders rec as the reply service's input. The field order is fixed
// and the output depends only on rec.
func (c *Composer) Prompt(rec feedback.Record) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Author: %s\n", rec.Author)
	fmt.Fprintf(&sb, "Source URL: %s\n", rec.URL)
	fmt.Fprintf(&sb, "Review Date: %s\n", rec.Date)
	fmt.Fprintf(&sb, "Star Rating: %d\n", rec.Stars)
	fmt.Fprintf(&sb, "Review Text: %s", c.clip(rec.Text))
	return sb.String()
}

// clip cuts text to the token budget on a rune boundary.
func (c *Composer) clip(text string) string {
	budget := c.MaxTextTokens
	if budget <= 0 {
		budget = defaultMaxTextTokens
	}
	if EstimateTokens(text) <= budget {
		return text
	}
	limit := budget * 4
	cut := 0
	for i := range text {
		if i > limit {
			break
		}
		cut = i
	}
	return strings.TrimRight(text[:cut], " \n") + truncationMarker
}

// Tone groups star ratings into the reply styles the system prompt asks for.
type Tone string

const (
	TonePositive Tone = "positive"
	ToneNeutral  Tone = "neutral"
	ToneNegative Tone = "negative"
	ToneUnrated  Tone = "unrated"
)

// ToneFor maps a star rating to a reply tone. Zero means the source has no
// rating (mail, selections).
func ToneFor(stars int) Tone {
	switch {
	case stars <= 0:
		return ToneUnrated
	case stars >= 4:
		return TonePositive
	case stars == 3:
		return ToneNeutral
	default:
		return ToneNegative
	}
}

var systemPrompts = map[Tone]string{
	TonePositive: "You are a communication manager for a game studio. The customer left a positive review. Thank them sincerely and invite them to keep playing. Reply in the language of the review.",
	ToneNeutral:  "You are a communication manager for a game studio. The customer left a mixed review. Thank them, acknowledge the concerns they raise, and say what the team will look at. Reply in the language of the review.",
	ToneNegative: "You are a communication manager for a game studio. The customer is unhappy. Apologise without excuses, address each problem they describe, and offer a concrete next step. Reply in the language of the review.",
	ToneUnrated:  "You are a customer support agent for a game studio. Answer the customer's message politely and concretely. Reply in the language of the message.",
}

// SystemPrompt returns the instruction used by model-backed reply generators
// for a record with the given rating.
func SystemPrompt(stars int) string {
	return systemPrompts[ToneFor(stars)]
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

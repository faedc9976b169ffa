package reply

import (
	"context"
	"errors"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"

	"github.com/kalambet/reviewdesk/internal/composer"
)

const (
	defaultAnthropicMaxTokens   = 1024
	defaultAnthropicTemperature = 0.3
)

// Anthropic generates replies through the Anthropic Messages API.
type Anthropic struct {
	apiKey string
	call   func(systemPrompt, userPrompt string) (string, error)
}

func NewAnthropic(apiKey, model string) *Anthropic {
	settings := types.RequestSettings{
		Model:       model,
		MaxTokens:   defaultAnthropicMaxTokens,
		Temperature: defaultAnthropicTemperature,
	}
	return &Anthropic{
		apiKey: apiKey,
		call: func(systemPrompt, userPrompt string) (string, error) {
			resp, err := anthropic.PromptWithSettings(systemPrompt, userPrompt, "", apiKey, settings)
			if err != nil {
				return "", err
			}
			if len(resp.Content) == 0 {
				return "", ErrEmptyReply
			}
			return resp.Content[0].Text, nil
		},
	}
}

type anthropicResult struct {
	text string
	err  error
}

// Generate runs the blocking API call in its own goroutine so ctx can
// abandon it; an abandoned call still runs to completion in the background.
func (a *Anthropic) Generate(ctx context.Context, r Request) (string, error) {
	if a.apiKey == "" {
		return "", &ServiceError{Backend: "anthropic", Message: "API key is not configured"}
	}
	done := make(chan anthropicResult, 1)
	go func() {
		text, err := a.call(composer.SystemPrompt(r.Stars), r.Prompt)
		done <- anthropicResult{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-done:
		if errors.Is(res.err, ErrEmptyReply) {
			return "", res.err
		}
		if res.err != nil {
			return "", &ServiceError{Backend: "anthropic", Message: res.err.Error()}
		}
		return checkReply(res.text)
	}
}

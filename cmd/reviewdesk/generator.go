package main

import (
	"context"
	"fmt"
	"io"

	"github.com/kalambet/reviewdesk/internal/config"
	"github.com/kalambet/reviewdesk/internal/reply"
)

// newGenerator builds the reply backend selected by reply.backend.
func newGenerator(cfg config.Config) (reply.Generator, error) {
	switch cfg.Reply.Backend {
	case config.BackendHTTP:
		return reply.NewHTTPService(cfg.Reply.BaseURL, cfg.Reply.Timeout), nil
	case config.BackendOllama:
		return reply.NewOllama(cfg.Ollama.BaseURL, cfg.Ollama.Model), nil
	case config.BackendAnthropic:
		return reply.NewAnthropic(cfg.Anthropic.APIKey, cfg.Anthropic.Model), nil
	default:
		return nil, fmt.Errorf("unknown reply backend %q", cfg.Reply.Backend)
	}
}

// ensureGenerator checks the backend is reachable and, for Ollama, pulls a
// missing model with progress written to w.
func ensureGenerator(ctx context.Context, gen reply.Generator, w io.Writer) error {
	hc, ok := gen.(reply.HealthChecker)
	if !ok {
		return nil
	}
	err := hc.Healthy(ctx)
	if err == nil {
		return nil
	}
	if o, ok := gen.(*reply.Ollama); ok {
		printStep("Pulling reply model...")
		if pullErr := o.Pull(ctx, w); pullErr != nil {
			return fmt.Errorf("reply backend unhealthy (%v) and pull failed: %w", err, pullErr)
		}
		return o.Healthy(ctx)
	}
	return err
}

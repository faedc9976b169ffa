package main

import (
	"errors"
	"fmt"

	"github.com/kalambet/reviewdesk/internal/api"
	"github.com/kalambet/reviewdesk/internal/config"
)

func serverURL(cfg config.Config) string {
	return fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
}

// newRelayClient connects to the relay started by "reviewdesk serve".
var newRelayClient = func() (*api.Client, config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("loading config: %w", err)
	}

	token, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("getting API token: %w", err)
	}

	return api.NewClient(serverURL(cfg), token), cfg, nil
}

// relayErr adds a hint when the relay could not be reached at all.
func relayErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return fmt.Errorf("relay not reachable, is \"reviewdesk serve\" running? (%w)", err)
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
	// kPath is a filesystem path; relative values from the config file are
	// anchored at the file's directory.
	kPath
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "REVIEWDESK_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "log.level", typ: kString, env: "REVIEWDESK_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.data_dir", typ: kPath, env: "REVIEWDESK_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "scrape.timeout", typ: kDuration, env: "REVIEWDESK_SCRAPE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Scrape.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Scrape.Timeout },
	},
	{
		key: "scrape.mail_settle_delay", typ: kDuration, env: "REVIEWDESK_SCRAPE_MAIL_SETTLE_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Scrape.MailSettleDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Scrape.MailSettleDelay },
	},
	{
		key: "hosts.console", typ: kString, env: "REVIEWDESK_HOSTS_CONSOLE",
		apply:   func(cfg *Config, v any) { cfg.Hosts.Console = v.(string) },
		extract: func(cfg Config) any { return cfg.Hosts.Console },
	},
	{
		key: "hosts.store", typ: kString, env: "REVIEWDESK_HOSTS_STORE",
		apply:   func(cfg *Config, v any) { cfg.Hosts.Store = v.(string) },
		extract: func(cfg Config) any { return cfg.Hosts.Store },
	},
	{
		key: "hosts.mail", typ: kString, env: "REVIEWDESK_HOSTS_MAIL",
		apply:   func(cfg *Config, v any) { cfg.Hosts.Mail = v.(string) },
		extract: func(cfg Config) any { return cfg.Hosts.Mail },
	},
	{
		key: "selectors.path", typ: kPath, env: "REVIEWDESK_SELECTORS_PATH",
		apply:   func(cfg *Config, v any) { cfg.Selectors.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Selectors.Path },
	},
	{
		key: "browser.control_url", typ: kString, env: "REVIEWDESK_BROWSER_CONTROL_URL",
		apply:   func(cfg *Config, v any) { cfg.Browser.ControlURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Browser.ControlURL },
	},
	{
		key: "reply.backend", typ: kString, env: "REVIEWDESK_REPLY_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Reply.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Reply.Backend },
	},
	{
		key: "reply.base_url", typ: kString, env: "REVIEWDESK_REPLY_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Reply.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Reply.BaseURL },
	},
	{
		key: "reply.timeout", typ: kDuration, env: "REVIEWDESK_REPLY_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Reply.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Reply.Timeout },
	},
	{
		key: "ollama.base_url", typ: kString, env: "REVIEWDESK_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "REVIEWDESK_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "anthropic.model", typ: kString, env: "REVIEWDESK_ANTHROPIC_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Anthropic.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Anthropic.Model },
	},
	{
		key: "anthropic.api_key", typ: kString, env: "ANTHROPIC_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Anthropic.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Anthropic.APIKey },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parseValue converts raw text to the spec's type.
func (s keySpec) parseValue(raw, dir string) (any, error) {
	switch s.typ {
	case kInt:
		i, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid integer for %s=%q: %w", s.key, raw, err)
		}
		return i, nil
	case kDuration:
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid duration for %s=%q: %w", s.key, raw, err)
		}
		return d, nil
	case kPath:
		return resolvePath(strings.TrimSpace(raw), dir), nil
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok, err := b.Get(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := s.parseValue(raw, b.Dir())
		if err != nil {
			return err
		}
		s.apply(cfg, v)
	}
	return nil
}

// applyEnvOverrides lets environment variables win over the backend.
// Unparseable integers are ignored with a warning; unparseable durations are
// an error.
func applyEnvOverrides(cfg *Config) error {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parseValue(raw, "")
		if err != nil {
			if s.typ == kInt {
				fmt.Fprintf(os.Stderr, "[WARN] ignoring %s: %v\n", s.env, err)
				continue
			}
			return err
		}
		s.apply(cfg, v)
	}
	return nil
}

package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Storage   StorageConfig
	Scrape    ScrapeConfig
	Hosts     HostsConfig
	Selectors SelectorsConfig
	Browser   BrowserConfig
	Reply     ReplyConfig
	Ollama    OllamaConfig
	Anthropic AnthropicConfig
}

type ServerConfig struct {
	Port int
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	DataDir string
}

type ScrapeConfig struct {
	Timeout         time.Duration
	MailSettleDelay time.Duration
}

// HostsConfig holds the URL fragments that identify each supported site.
type HostsConfig struct {
	Console string
	Store   string
	Mail    string
}

// AllowedHosts returns the configured host fragments that are not empty.
func (h HostsConfig) AllowedHosts() []string {
	var out []string
	for _, v := range []string{h.Console, h.Store, h.Mail} {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

type SelectorsConfig struct {
	// Path of a YAML file overriding the embedded selector profiles.
	Path string
}

type BrowserConfig struct {
	// ControlURL is the DevTools websocket of a running browser. Empty
	// launches a local one.
	ControlURL string
}

type ReplyConfig struct {
	Backend string
	BaseURL string
	Timeout time.Duration
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type AnthropicConfig struct {
	Model  string
	APIKey string
}

const (
	BackendHTTP      = "http"
	BackendOllama    = "ollama"
	BackendAnthropic = "anthropic"
)

// Defaults returns the built-in configuration, before any backend or
// environment values are applied.
func Defaults() Config {
	return defaults()
}

func defaults() Config {
	return Config{
		Server: ServerConfig{Port: 4100},
		Log:    LogConfig{Level: "info"},
		Storage: StorageConfig{
			DataDir: dataHome(),
		},
		Scrape: ScrapeConfig{
			Timeout:         10 * time.Second,
			MailSettleDelay: 500 * time.Millisecond,
		},
		Hosts: HostsConfig{
			Console: "play.google.com/console",
			Store:   "apps.apple.com",
			Mail:    "mail.google.com",
		},
		Reply: ReplyConfig{
			Backend: BackendHTTP,
			BaseURL: "http://localhost:8000",
			Timeout: 60 * time.Second,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "mistral-nemo",
		},
		Anthropic: AnthropicConfig{
			Model: "claude-sonnet-4-20250514",
		},
	}
}

// Load reads configuration in layers: built-in defaults, then
// config.yaml in the user config directory, then REVIEWDESK_* environment
// variables. The Anthropic API key comes from ANTHROPIC_API_KEY or, failing
// that, the platform secret store.
func Load() (Config, error) {
	b, err := newFileBackend(configFilePath())
	if err != nil {
		return Config{}, err
	}
	return loadWith(b, NewKeychain())
}

// configFilePath is the config.yaml that Load and SetKey use.
func configFilePath() string {
	return filepath.Join(configDir(), "config.yaml")
}

func loadWith(b Backend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.Anthropic.APIKey == "" {
		if key, err := kc.Get(keychainService, anthropicAccount); err == nil && key != "" {
			cfg.Anthropic.APIKey = key
		}
	}

	cfg.Reply.Backend = strings.ToLower(strings.TrimSpace(cfg.Reply.Backend))
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Reply.Backend {
	case BackendHTTP, BackendOllama:
	case BackendAnthropic:
		if c.Anthropic.APIKey == "" {
			return fmt.Errorf("missing required config: Anthropic API key for reply.backend=anthropic. "+
				"Set it via environment variable ANTHROPIC_API_KEY%s", keychainHint())
		}
	default:
		return fmt.Errorf("invalid reply.backend %q: want one of %s, %s, %s",
			c.Reply.Backend, BackendHTTP, BackendOllama, BackendAnthropic)
	}
	if c.Scrape.Timeout <= 0 {
		return fmt.Errorf("scrape.timeout must be positive, got %s", c.Scrape.Timeout)
	}
	if c.Scrape.MailSettleDelay < 0 {
		return fmt.Errorf("scrape.mail_settle_delay must not be negative, got %s", c.Scrape.MailSettleDelay)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	return nil
}

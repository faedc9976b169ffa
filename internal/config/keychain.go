package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	keychainService  = "reviewdesk"
	anthropicAccount = "anthropic_api_key"
	apiTokenAccount  = "api_token"
	apiTokenEnv      = "REVIEWDESK_API_TOKEN"
)

// Keychain stores the API token and the Anthropic key outside config.yaml:
// the login keychain on macOS, a private secrets file elsewhere.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// fileKeychain is a 0600 YAML file of service -> account -> secret.
type fileKeychain struct {
	path string
}

func (k *fileKeychain) read() (map[string]map[string]string, error) {
	secrets := make(map[string]map[string]string)
	data, err := os.ReadFile(k.path)
	if errors.Is(err, fs.ErrNotExist) {
		return secrets, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file %s: %w", k.path, err)
	}
	if secrets == nil {
		secrets = make(map[string]map[string]string)
	}
	return secrets, nil
}

func (k *fileKeychain) Get(service, account string) (string, error) {
	secrets, err := k.read()
	if err != nil {
		return "", err
	}
	val, ok := secrets[service][account]
	if !ok {
		return "", fmt.Errorf("no secret for %s/%s in %s", service, account, k.path)
	}
	return strings.TrimSpace(val), nil
}

func (k *fileKeychain) Set(service, account, value string) error {
	secrets, err := k.read()
	if err != nil {
		return err
	}
	if secrets[service] == nil {
		secrets[service] = make(map[string]string)
	}
	secrets[service][account] = value

	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := yaml.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("encoding secrets: %w", err)
	}
	return os.WriteFile(k.path, out, 0o600)
}

// GetAPIToken returns the bearer token guarding the local HTTP API. The
// REVIEWDESK_API_TOKEN variable wins; otherwise the token is read from kc,
// and generated and stored there on first use.
func GetAPIToken(kc Keychain) (string, error) {
	if tok := strings.TrimSpace(os.Getenv(apiTokenEnv)); tok != "" {
		return tok, nil
	}
	if tok, err := kc.Get(keychainService, apiTokenAccount); err == nil && tok != "" {
		return tok, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := kc.Set(keychainService, apiTokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing api token: %w", err)
	}
	return tok, nil
}

//go:build !darwin

package config

import (
	"fmt"
	"path/filepath"
)

// NewKeychain returns the secrets file in the data directory.
func NewKeychain() Keychain {
	return &fileKeychain{path: secretsFilePath()}
}

func secretsFilePath() string {
	return filepath.Join(dataHome(), "secrets.yaml")
}

func keychainHint() string {
	return fmt.Sprintf(", or under %s: %s in %s", keychainService, anthropicAccount, secretsFilePath())
}

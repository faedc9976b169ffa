//go:build darwin

package config

import (
	"fmt"
	"os/exec"
	"strings"
)

// NewKeychain returns the macOS login keychain.
func NewKeychain() Keychain {
	return securityKeychain{}
}

// securityKeychain shells out to security(1) for generic password items.
type securityKeychain struct{}

func (securityKeychain) Get(service, account string) (string, error) {
	out, err := exec.Command("security", "find-generic-password", "-s", service, "-a", account, "-w").Output()
	if err != nil {
		return "", fmt.Errorf("keychain lookup %s/%s: %w", service, account, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Set adds the item or, with -U, updates it in place.
func (securityKeychain) Set(service, account, value string) error {
	out, err := exec.Command("security", "add-generic-password", "-U", "-s", service, "-a", account, "-w", value).CombinedOutput()
	if err != nil {
		return fmt.Errorf("keychain store %s/%s: %w: %s", service, account, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func keychainHint() string {
	return fmt.Sprintf(", or store it with: security add-generic-password -s %s -a %s -w <key>", keychainService, anthropicAccount)
}

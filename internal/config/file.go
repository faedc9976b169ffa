package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Backend is where persistent settings live. Keys are the dotted names of
// the spec table ("scrape.timeout"); values are kept as text and parsed by
// the loader.
type Backend interface {
	Get(key string) (val string, ok bool, err error)
	Set(key, val string) error
	// Dir is the directory relative paths in the backend are resolved
	// against. Empty means the working directory.
	Dir() string
}

// configDir is $XDG_CONFIG_HOME/reviewdesk on Linux and
// ~/Library/Application Support/reviewdesk on macOS.
func configDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "reviewdesk")
	}
	return "reviewdesk-config"
}

// dataHome holds the session database and, off macOS, the secrets file.
func dataHome() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "reviewdesk")
	}
	if runtime.GOOS == "darwin" {
		return configDir()
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "reviewdesk")
	}
	return "reviewdesk-data"
}

// fileBackend keeps settings in config.yaml, one mapping per section:
//
//	scrape:
//	  timeout: 15s
//	  mail_settle_delay: 1s
//	selectors:
//	  path: profiles.yaml
//
// A relative selectors.path or storage.data_dir is taken relative to the
// file, so a profile override can sit next to the config.
type fileBackend struct {
	path     string
	sections map[string]map[string]string
}

func newFileBackend(path string) (*fileBackend, error) {
	b := &fileBackend{path: path, sections: make(map[string]map[string]string)}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &b.sections); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if b.sections == nil {
		b.sections = make(map[string]map[string]string)
	}
	for _, key := range b.keys() {
		if s, ok := lookupSpec(key); !ok || s.secret {
			slog.Warn("ignoring unknown config key", "key", key, "file", path)
		}
	}
	return b, nil
}

func splitKey(key string) (section, name string, err error) {
	section, name, ok := strings.Cut(key, ".")
	if !ok || section == "" || name == "" {
		return "", "", fmt.Errorf("config key %q is not of the form section.name", key)
	}
	return section, name, nil
}

func (b *fileBackend) keys() []string {
	var keys []string
	for section, vals := range b.sections {
		for name := range vals {
			keys = append(keys, section+"."+name)
		}
	}
	sort.Strings(keys)
	return keys
}

func (b *fileBackend) Get(key string) (string, bool, error) {
	section, name, err := splitKey(key)
	if err != nil {
		return "", false, err
	}
	v, ok := b.sections[section][name]
	return v, ok, nil
}

func (b *fileBackend) Set(key, val string) error {
	section, name, err := splitKey(key)
	if err != nil {
		return err
	}
	if b.sections[section] == nil {
		b.sections[section] = make(map[string]string)
	}
	b.sections[section][name] = val
	return b.save()
}

func (b *fileBackend) Dir() string { return filepath.Dir(b.path) }

func (b *fileBackend) save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(b.sections)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(b.path, data, 0o600)
}

// resolvePath expands a leading ~ and anchors relative paths at dir.
func resolvePath(p, dir string) string {
	if p == "" {
		return p
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	if !filepath.IsAbs(p) && dir != "" {
		p = filepath.Join(dir, p)
	}
	return p
}

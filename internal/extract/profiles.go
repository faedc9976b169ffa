package extract

import (
	_ "embed"
	"fmt"
	"os"
	"reflect"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"
)

//go:embed profiles.yaml
var defaultProfiles []byte

type ConsoleSelectors struct {
	Review     string `yaml:"review"`
	Author     string `yaml:"author"`
	Date       string `yaml:"date"`
	Text       string `yaml:"text"`
	Rating     string `yaml:"rating"`
	RatingAttr string `yaml:"rating_attr"`
}

type StoreSelectors struct {
	Review     string `yaml:"review"`
	AuthorDate string `yaml:"author_date"`
	Rating     string `yaml:"rating"`
	Title      string `yaml:"title"`
	Body       string `yaml:"body"`
}

type MailSelectors struct {
	Subject string `yaml:"subject"`
	Sender  string `yaml:"sender"`
	Date    string `yaml:"date"`
	Body    string `yaml:"body"`
}

// Profiles holds the CSS selectors each adapter queries.
type Profiles struct {
	Console ConsoleSelectors `yaml:"console"`
	Store   StoreSelectors   `yaml:"store"`
	Mail    MailSelectors    `yaml:"mail"`
}

// DefaultProfiles returns the built-in selector set.
func DefaultProfiles() Profiles {
	var p Profiles
	if err := yaml.Unmarshal(defaultProfiles, &p); err != nil {
		panic(fmt.Sprintf("embedded profiles.yaml: %v", err))
	}
	return p
}

// LoadProfiles returns the built-in profiles with any selectors from the YAML
// file at path layered on top. An empty path yields the defaults.
func LoadProfiles(path string) (Profiles, error) {
	p := DefaultProfiles()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Profiles{}, fmt.Errorf("reading selector profiles: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profiles{}, fmt.Errorf("parsing selector profiles %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Profiles{}, fmt.Errorf("selector profiles %s: %w", path, err)
	}
	return p, nil
}

// Validate checks that every selector is present and compiles.
func (p Profiles) Validate() error {
	for _, section := range []struct {
		name string
		v    any
	}{{ConsoleAdapter, p.Console}, {StoreAdapter, p.Store}, {MailAdapter, p.Mail}} {
		rv := reflect.ValueOf(section.v)
		rt := rv.Type()
		for i := 0; i < rt.NumField(); i++ {
			key := rt.Field(i).Tag.Get("yaml")
			val := rv.Field(i).String()
			if val == "" {
				return fmt.Errorf("%s.%s is empty", section.name, key)
			}
			if key == "rating_attr" {
				continue
			}
			if _, err := cascadia.Compile(val); err != nil {
				return fmt.Errorf("%s.%s: %w", section.name, key, err)
			}
		}
	}
	return nil
}

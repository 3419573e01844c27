// Package extract classifies harvested messages: pulling the one-time code
// out of the raw text, naming the sending service, deriving the country from
// a range label, and fingerprinting a message for deduplication. The
// classification tables are data-driven and hot-reloadable.
package extract

import (
	"embed"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var defaultPatternsFS embed.FS

// ServicePattern names one sender classification rule. Rules are ordered,
// the first match wins.
type ServicePattern struct {
	Label   string `yaml:"label"`
	Pattern string `yaml:"pattern"`

	re *regexp.Regexp
}

// CountryPattern maps a keyword in a range label to a flag emoji.
type CountryPattern struct {
	Match string `yaml:"match"`
	Flag  string `yaml:"flag"`
}

// Patterns contains all classification tables.
type Patterns struct {
	Services  []ServicePattern `yaml:"services"`
	Countries []CountryPattern `yaml:"countries"`
}

var (
	instance *Patterns
	once     sync.Once
)

// Get returns the singleton Patterns instance loaded from the embedded
// patterns.yaml file.
func Get() *Patterns {
	once.Do(func() {
		p, err := load()
		if err != nil {
			log.Error().Err(err).Msg("Failed to load embedded patterns, classification degraded")
			p = &Patterns{}
		}
		instance = p
	})
	return instance
}

func load() (*Patterns, error) {
	data, err := defaultPatternsFS.ReadFile("patterns.yaml")
	if err != nil {
		return nil, err
	}
	p, err := parseAndValidate(data)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Int("service_patterns", len(p.Services)).
		Int("country_patterns", len(p.Countries)).
		Msg("Patterns loaded")
	return p, nil
}

// parseAndValidate parses YAML data, compiles the service regexps, and
// validates the tables.
func parseAndValidate(data []byte) (*Patterns, error) {
	var p Patterns
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if err := p.compile(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Patterns) compile() error {
	for i := range p.Services {
		re, err := regexp.Compile("(?i)" + p.Services[i].Pattern)
		if err != nil {
			return fmt.Errorf("service pattern %q: %w", p.Services[i].Label, err)
		}
		p.Services[i].re = re
	}
	return nil
}

// Validate checks that the Patterns carry at least the minimum tables.
func (p *Patterns) Validate() error {
	if len(p.Services) == 0 {
		return fmt.Errorf("patterns must define at least one service rule")
	}
	for _, s := range p.Services {
		if strings.TrimSpace(s.Label) == "" {
			return fmt.Errorf("service pattern with empty label")
		}
	}
	return nil
}

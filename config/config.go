// Package config loads the engine configuration from a YAML or JSON
// file with optional environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/foodbridge/relay/core/dispatch"
	"github.com/foodbridge/relay/core/escalation"
	"github.com/foodbridge/relay/core/metrics"
	"github.com/foodbridge/relay/core/scoring"
	"github.com/foodbridge/relay/infra/mqtt"
)

// City declares a service area. Matching never crosses city borders.
type City struct {
	Name            string  `json:"name"`
	DefaultRadiusKm float64 `json:"default_radius_km"`
	MaxRadiusKm     float64 `json:"max_radius_km"`
}

// MatchConfig tunes the receiver scoring weights. All-zero weights fall
// back to the scoring engine defaults.
type MatchConfig struct {
	ProximityWeight   float64 `json:"proximity_weight"`
	UrgencyWeight     float64 `json:"urgency_weight"`
	ReliabilityWeight float64 `json:"reliability_weight"`
	DietaryWeight     float64 `json:"dietary_weight"`
}

// Weights converts the section to scoring weights.
func (c MatchConfig) Weights() scoring.Weights {
	return scoring.Weights{
		Proximity:   c.ProximityWeight,
		Urgency:     c.UrgencyWeight,
		Reliability: c.ReliabilityWeight,
		Dietary:     c.DietaryWeight,
	}
}

// Validate rejects negative weights.
func (c MatchConfig) Validate() error {
	for _, w := range []float64{c.ProximityWeight, c.UrgencyWeight, c.ReliabilityWeight, c.DietaryWeight} {
		if w < 0 {
			return fmt.Errorf("match weights must be non-negative")
		}
	}
	return nil
}

// JournalConfig selects the event journal backend.
type JournalConfig struct {
	Backend string `json:"backend"` // "jsonl" or "nop"
	Path    string `json:"path"`
}

// SetDefaults applies sane defaults.
func (c *JournalConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "nop"
	}
	if c.Backend == "jsonl" && c.Path == "" {
		c.Path = "relay-journal.jsonl"
	}
}

// Validate checks the journal backend selection.
func (c JournalConfig) Validate() error {
	switch c.Backend {
	case "jsonl", "nop":
		return nil
	default:
		return fmt.Errorf("unsupported journal backend: %s", c.Backend)
	}
}

type Config struct {
	Cities     []City            `json:"cities"`
	Match      MatchConfig       `json:"match"`
	Dispatch   dispatch.Config   `json:"dispatch"`
	Escalation escalation.Config `json:"escalation"`
	Notifier   mqtt.Config       `json:"notifier"`
	Metrics    metrics.Config    `json:"metrics"`
	Journal    JournalConfig     `json:"journal"`
}

// CityByName returns the city declaration, if registered.
func (c Config) CityByName(name string) (City, bool) {
	for _, city := range c.Cities {
		if city.Name == name {
			return city, true
		}
	}
	return City{}, false
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.Dispatch.SetDefaults()
	c.Escalation.SetDefaults()
	c.Notifier.SetDefaults()
	c.Metrics.SetDefaults()
	c.Journal.SetDefaults()
	for i := range c.Cities {
		if c.Cities[i].DefaultRadiusKm <= 0 {
			c.Cities[i].DefaultRadiusKm = 5
		}
		if c.Cities[i].MaxRadiusKm <= 0 {
			c.Cities[i].MaxRadiusKm = c.Cities[i].DefaultRadiusKm * 3
		}
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	if len(c.Cities) == 0 {
		return fmt.Errorf("at least one city is required")
	}
	for _, city := range c.Cities {
		if city.Name == "" {
			return fmt.Errorf("city name is required")
		}
	}
	if err := c.Match.Validate(); err != nil {
		return err
	}
	if err := c.Notifier.Validate(); err != nil {
		return err
	}
	return c.Journal.Validate()
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("FR_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "fr_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Lifecycle actions.
const (
	ActionSave     = "save"
	ActionSubmit   = "submit"
	ActionWithdraw = "withdraw"
	ActionReopen   = "reopen"
	ActionBehandel = "behandel"
	ActionAfhandel = "afhandel"
)

// Config models atriumforms.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
		PrincipalCacheTTL      string `yaml:"principal_cache_ttl"`
	} `yaml:"auth"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Webhooks  []WebhookConfig `yaml:"webhooks"`
}

// LifecycleConfig selects a named action-table variant or supplies an explicit
// table mapping status -> permitted actions.
type LifecycleConfig struct {
	Variant string              `yaml:"variant"`
	Table   map[string][]string `yaml:"table"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

var knownStatuses = map[string]bool{
	"CONCEPT":        true,
	"INGEDIEND":      true,
	"IN_BEHANDELING": true,
	"AFGEHANDELD":    true,
	"INGETROKKEN":    true,
}

var knownActions = map[string]bool{
	ActionSave:     true,
	ActionSubmit:   true,
	ActionWithdraw: true,
	ActionReopen:   true,
	ActionBehandel: true,
	ActionAfhandel: true,
}

// StrictTable permits Submit from CONCEPT only and Reopen from INGETROKKEN only.
func StrictTable() map[string][]string {
	return map[string][]string{
		"CONCEPT":        {ActionSave, ActionSubmit, ActionWithdraw},
		"INGEDIEND":      {ActionWithdraw, ActionBehandel, ActionAfhandel},
		"IN_BEHANDELING": {ActionWithdraw, ActionAfhandel},
		"AFGEHANDELD":    {},
		"INGETROKKEN":    {ActionReopen},
	}
}

// LooseTable permits Submit from anywhere outside INGEDIEND/AFGEHANDELD and
// Reopen also from INGEDIEND.
func LooseTable() map[string][]string {
	return map[string][]string{
		"CONCEPT":        {ActionSave, ActionSubmit, ActionWithdraw},
		"INGEDIEND":      {ActionWithdraw, ActionReopen, ActionBehandel, ActionAfhandel},
		"IN_BEHANDELING": {ActionSubmit, ActionWithdraw, ActionAfhandel},
		"AFGEHANDELD":    {},
		"INGETROKKEN":    {ActionSubmit, ActionReopen},
	}
}

// ActionTable resolves the effective table: explicit table wins, then variant.
func (c *Config) ActionTable() map[string][]string {
	if len(c.Lifecycle.Table) > 0 {
		return c.Lifecycle.Table
	}
	if c.Lifecycle.Variant == "loose" {
		return LooseTable()
	}
	return StrictTable()
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Lifecycle.Variant {
	case "", "strict", "loose":
	default:
		return fmt.Errorf("config.lifecycle.variant must be strict or loose, got %q", c.Lifecycle.Variant)
	}
	for status, actions := range c.Lifecycle.Table {
		if !knownStatuses[status] {
			return fmt.Errorf("config.lifecycle.table references unknown status %q", status)
		}
		for _, a := range actions {
			if !knownActions[a] {
				return fmt.Errorf("config.lifecycle.table status %s references unknown action %q", status, a)
			}
		}
	}
	if len(c.Lifecycle.Table) > 0 {
		for status := range knownStatuses {
			if _, ok := c.Lifecycle.Table[status]; !ok {
				return fmt.Errorf("config.lifecycle.table missing status %s", status)
			}
		}
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "atriumforms.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: ":8480"
  base_path: /v1

auth:
  jwt_secret: ""
  allow_legacy_actor_header: true
  principal_cache_ttl: 5m

lifecycle:
  variant: strict
`

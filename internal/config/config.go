package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"todoline/internal/domain"
	"todoline/internal/filter"
)

// Config models todoline.yml.
type Config struct {
	Storage struct {
		Path     string `yaml:"path"`
		Disabled bool   `yaml:"disabled"`
	} `yaml:"storage"`
	Log struct {
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"log"`
	Filter struct {
		WeekStart   string `yaml:"week_start"`
		DefaultView string `yaml:"default_view"`
	} `yaml:"filter"`
	Tasks struct {
		DefaultPriority string `yaml:"default_priority"`
	} `yaml:"tasks"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return fmt.Errorf("config.log rotation limits must not be negative")
	}
	if _, err := filter.ParseWeekStart(c.Filter.WeekStart); err != nil {
		return fmt.Errorf("config.filter.week_start: %w", err)
	}
	if _, err := filter.ParseSelector(c.Filter.DefaultView, ""); err != nil {
		return fmt.Errorf("config.filter.default_view: %w", err)
	}
	if c.Tasks.DefaultPriority != "" {
		if _, err := domain.ParsePriority(c.Tasks.DefaultPriority); err != nil {
			return fmt.Errorf("config.tasks.default_priority: %w", err)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "todoline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the defaults if the config file does not exist.
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

// FromYAML parses and validates config from raw YAML bytes. Keys the file
// leaves out keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `storage:
  # sqlite file, relative to the workspace; empty means .todoline/todoline.db
  path: ""
  # keep everything in memory for the session
  disabled: false

log:
  # empty logs to stderr
  file: ""
  max_size_mb: 10
  max_backups: 3
  max_age_days: 28
  compress: false

filter:
  # sunday or monday
  week_start: sunday
  # all, completed, today, week or overdue
  default_view: all

tasks:
  default_priority: medium
`

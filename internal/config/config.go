// Package config loads DataHerd configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all DataHerd configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configures the rule-compilation service.
	LLM LLMConfig `yaml:"llm"`

	// Storage configures the SQLite database.
	Storage StorageConfig `yaml:"storage"`

	// Engine configures batch processing.
	Engine EngineConfig `yaml:"engine"`

	// Logging.
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the LLM-backed compile path. Failure of this service
// is never fatal: the compiler falls back to pattern matching.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai-compatible endpoint, or "disabled"
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
	// Retries bounds transient-failure retries before falling back.
	Retries int `yaml:"retries"`
}

// StorageConfig configures persistence.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// EngineConfig configures the batch processor.
type EngineConfig struct {
	// Workers parallelizes the preview loop; 1 means serial.
	Workers int `yaml:"workers"`
	// TieBreak orders rules targeting the same field: "priority" applies
	// ascending priority first, falling back to newest-created.
	TieBreak string `yaml:"tie_break"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`  // debug, info, warn, error
	Format  string `yaml:"format"` // json, text
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "DataHerd",
		Version: "1.0.0",

		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			BaseURL:  "https://api.openai.com/v1",
			Timeout:  "30s",
			Retries:  1,
		},

		Storage: StorageConfig{
			DatabasePath: "data/dataherd.db",
		},

		Engine: EngineConfig{
			Workers:  1,
			TieBreak: "priority",
		},

		Logging: LoggingConfig{
			Enabled: false,
			Level:   "info",
			Format:  "text",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
	}
	// DATAHERD_API_KEY takes precedence over the generic key.
	if key := os.Getenv("DATAHERD_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if base := os.Getenv("DATAHERD_API_BASE"); base != "" {
		c.LLM.BaseURL = base
	}
	if model := os.Getenv("DATAHERD_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if path := os.Getenv("DATAHERD_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
}

// LLMTimeout returns the LLM timeout as a duration.
func (c *Config) LLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// DataDir returns the directory holding the database and logs.
func (c *Config) DataDir() string {
	return filepath.Dir(c.Storage.DatabasePath)
}

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models spcline.yml.
type Config struct {
	Analysis struct {
		CpkCritical   float64 `yaml:"cpk_critical"`
		CpkWarning    float64 `yaml:"cpk_warning"`
		MinDataPoints int     `yaml:"min_data_points"`
	} `yaml:"analysis"`
	Providers struct {
		DefaultLimit int `yaml:"default_limit"`
		MaxLimit     int `yaml:"max_limit"`
	} `yaml:"providers"`
	Instructions struct {
		MaxPerRole int `yaml:"max_per_role"`
	} `yaml:"instructions"`
	Server struct {
		Addr      string `yaml:"addr"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	cfg.Analysis.CpkCritical = 0.8
	cfg.Analysis.CpkWarning = 1.33
	cfg.Analysis.MinDataPoints = 2
	cfg.Providers.DefaultLimit = 100
	cfg.Providers.MaxLimit = 200
	cfg.Instructions.MaxPerRole = 10
	cfg.Server.Addr = ":8000"
	return &cfg
}

// Validate ensures thresholds are coherent.
func (c *Config) Validate() error {
	if c.Analysis.CpkCritical <= 0 {
		return fmt.Errorf("config.analysis.cpk_critical must be positive")
	}
	if c.Analysis.CpkWarning <= c.Analysis.CpkCritical {
		return fmt.Errorf("config.analysis.cpk_warning must exceed cpk_critical")
	}
	if c.Analysis.MinDataPoints < 2 {
		return fmt.Errorf("config.analysis.min_data_points must be at least 2")
	}
	if c.Providers.DefaultLimit <= 0 || c.Providers.MaxLimit < c.Providers.DefaultLimit {
		return fmt.Errorf("config.providers limits invalid")
	}
	if c.Instructions.MaxPerRole <= 0 {
		return fmt.Errorf("config.instructions.max_per_role must be positive")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "spcline.yml")
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Omitted fields
// keep their defaults.
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

// GenerateDefault returns the default config rendered as YAML.
func GenerateDefault() string {
	out, _ := yaml.Marshal(Default())
	return string(out)
}

// Package config loads the stepguard configuration: a YAML file with
// sane defaults, overridden by STEPGUARD_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the conventional location of the config file,
// relative to the workspace root.
const DefaultConfigPath = ".stepguard/config.yaml"

// defaultStepTimeout bounds one tool invocation when nothing else is
// configured.
const defaultStepTimeout = 30 * time.Second

// Config holds all stepguard configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Workspace is the root directory tools operate in. The audit
	// databases live under <workspace>/.stepguard/.
	Workspace string `yaml:"workspace"`

	Execution ExecutionConfig `yaml:"execution"`
	Graph     GraphConfig     `yaml:"graph"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ExecutionConfig configures the executor and tool registry.
type ExecutionConfig struct {
	// AutoConfirm approves confirmation-gated steps without asking.
	AutoConfirm bool `yaml:"auto_confirm"`

	// StepTimeout bounds a single tool invocation.
	StepTimeout string `yaml:"step_timeout"`
}

// GraphConfig configures the optional code graph augmentation.
type GraphConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig configures category logging.
type LoggingConfig struct {
	DebugMode  bool     `yaml:"debug_mode"`
	Categories []string `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:      "stepguard",
		Version:   "0.3.0",
		Workspace: ".",
		Execution: ExecutionConfig{
			AutoConfirm: false,
			StepTimeout: "30s",
		},
		Graph: GraphConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			DebugMode: false,
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply either way.
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

// Save writes the configuration to a YAML file, creating parent
// directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
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

// StateDir returns the directory the audit databases live in.
func (c *Config) StateDir() string {
	return filepath.Join(c.Workspace, ".stepguard")
}

// StepTimeout parses the configured step timeout, falling back to the
// default on a malformed value.
func (c *Config) StepTimeout() time.Duration {
	d, err := time.ParseDuration(c.Execution.StepTimeout)
	if err != nil || d <= 0 {
		return defaultStepTimeout
	}
	return d
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if ws := os.Getenv("STEPGUARD_WORKSPACE"); ws != "" {
		c.Workspace = ws
	}
	if v := os.Getenv("STEPGUARD_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
	}
	if v := os.Getenv("STEPGUARD_AUTO_CONFIRM"); v == "1" || v == "true" {
		c.Execution.AutoConfirm = true
	}
	if v := os.Getenv("STEPGUARD_STEP_TIMEOUT"); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			c.Execution.StepTimeout = v
		}
	}
}

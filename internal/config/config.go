// Package config loads and validates the user configuration file that
// drives agent selection, iteration limits, and tool whitelists for a rally.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// AgentClaude selects the Claude CLI agent adapter.
	AgentClaude = "claude"
	// AgentCodex selects the Codex CLI agent adapter.
	AgentCodex = "codex"

	// DefaultMaxIterations bounds a rally when the config omits ai.max_iterations.
	DefaultMaxIterations = 10
	// DefaultTimeoutSecs bounds a single agent invocation when omitted.
	DefaultTimeoutSecs = 600

	configDirName  = "rally"
	configFileName = "config.yaml"
)

// ParseError indicates a configuration file exists but contains invalid content.
// Distinct from "file not found", which falls back to DefaultConfig.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string { return fmt.Sprintf("invalid config at %s: %v", e.Path, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// AIConfig is the "ai:" section of the configuration file.
type AIConfig struct {
	Reviewer                string   `yaml:"reviewer"`
	Reviewee                string   `yaml:"reviewee"`
	MaxIterations           int      `yaml:"max_iterations"`
	TimeoutSecs             int      `yaml:"timeout_secs"`
	PromptDir               string   `yaml:"prompt_dir"`
	ReviewerAdditionalTools []string `yaml:"reviewer_additional_tools,omitempty"`
	RevieweeAdditionalTools []string `yaml:"reviewee_additional_tools,omitempty"`
	AllowPush               bool     `yaml:"allow_push,omitempty"`

	// ReviewerAPIKey and RevieweeAPIKey are never populated from the file;
	// they are filled from the environment in Load. They exist on the
	// struct purely to carry the value between Load and its callers.
	ReviewerAPIKey string `yaml:"-"`
	RevieweeAPIKey string `yaml:"-"`
}

// Config is the full rally configuration.
type Config struct {
	AI AIConfig `yaml:"ai"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		AI: AIConfig{
			Reviewer:      AgentClaude,
			Reviewee:      AgentClaude,
			MaxIterations: DefaultMaxIterations,
			TimeoutSecs:   DefaultTimeoutSecs,
		},
	}
}

// Path returns the default config file path under the user's config directory.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(dir, configDirName, configFileName), nil
}

// Load reads and parses the config file at path. If the file does not exist,
// it returns DefaultConfig with no error. Environment variables
// RALLY_REVIEWER_API_KEY and RALLY_REVIEWEE_API_KEY, if set, override any
// key material implied by the file (the file never stores secrets).
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := DefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(content)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Parse parses config content already read from disk.
func Parse(content []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the ai: section for internal consistency, filling in
// defaults for fields the file omitted.
func (c *Config) Validate() error {
	switch c.AI.Reviewer {
	case AgentClaude, AgentCodex:
	case "":
		c.AI.Reviewer = AgentClaude
	default:
		return fmt.Errorf("ai.reviewer: invalid agent %q (must be %q or %q)", c.AI.Reviewer, AgentClaude, AgentCodex)
	}

	switch c.AI.Reviewee {
	case AgentClaude, AgentCodex:
	case "":
		c.AI.Reviewee = AgentClaude
	default:
		return fmt.Errorf("ai.reviewee: invalid agent %q (must be %q or %q)", c.AI.Reviewee, AgentClaude, AgentCodex)
	}

	if c.AI.MaxIterations == 0 {
		c.AI.MaxIterations = DefaultMaxIterations
	} else if c.AI.MaxIterations < 0 {
		return fmt.Errorf("ai.max_iterations: must be positive, got %d", c.AI.MaxIterations)
	}

	if c.AI.TimeoutSecs == 0 {
		c.AI.TimeoutSecs = DefaultTimeoutSecs
	} else if c.AI.TimeoutSecs < 0 {
		return fmt.Errorf("ai.timeout_secs: must be positive, got %d", c.AI.TimeoutSecs)
	}

	return nil
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("RALLY_REVIEWER_API_KEY"); v != "" {
		c.AI.ReviewerAPIKey = v
	}
	if v := os.Getenv("RALLY_REVIEWEE_API_KEY"); v != "" {
		c.AI.RevieweeAPIKey = v
	}
}

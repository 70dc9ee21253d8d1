package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"briefline/internal/domain"
	"briefline/internal/llm"
)

const (
	GateBlockRed = "block_red"
	GateFlagOnly = "flag_only"
)

// Config models briefline.yml.
type Config struct {
	Project struct {
		ID string `yaml:"id" json:"id"`
	} `yaml:"project" json:"project"`
	Model      ModelConfig      `yaml:"model" json:"model"`
	Generation GenerationConfig `yaml:"generation" json:"generation"`
	Quality    QualityConfig    `yaml:"quality" json:"quality"`
}

type ModelConfig struct {
	Provider       string  `yaml:"provider" json:"provider"`
	Model          string  `yaml:"model" json:"model"`
	Temperature    float64 `yaml:"temperature" json:"temperature"`
	MaxTokens      int     `yaml:"max_tokens" json:"max_tokens"`
	TimeoutSeconds int     `yaml:"timeout_seconds" json:"timeout_seconds"`
}

type GenerationConfig struct {
	MaxIterations int            `yaml:"max_iterations" json:"max_iterations"`
	MaxAttempts   int            `yaml:"max_attempts" json:"max_attempts"`
	BackoffMS     int            `yaml:"backoff_ms" json:"backoff_ms"`
	MinimumCounts map[string]int `yaml:"minimum_counts" json:"minimum_counts"`
}

type QualityConfig struct {
	GreenMin    int    `yaml:"green_min" json:"green_min"`
	AmberMin    int    `yaml:"amber_min" json:"amber_min"`
	Gate        string `yaml:"gate" json:"gate"`
	MaxParallel int    `yaml:"max_parallel" json:"max_parallel"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with bl config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	switch c.Model.Provider {
	case llm.ProviderGoogle, llm.ProviderOpenAI, llm.ProviderAnthropic:
	default:
		return fmt.Errorf("config.model.provider must be one of google, openai, anthropic")
	}
	if c.Model.Model == "" {
		return fmt.Errorf("config.model.model is required")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("config.model.temperature must be between 0 and 2")
	}
	if c.Model.MaxTokens <= 0 {
		return fmt.Errorf("config.model.max_tokens must be positive")
	}
	if c.Model.TimeoutSeconds < 0 {
		return fmt.Errorf("config.model.timeout_seconds must not be negative")
	}
	if c.Generation.MaxIterations <= 0 {
		return fmt.Errorf("config.generation.max_iterations must be positive")
	}
	if c.Generation.MaxAttempts <= 0 {
		return fmt.Errorf("config.generation.max_attempts must be positive")
	}
	if c.Generation.BackoffMS < 0 {
		return fmt.Errorf("config.generation.backoff_ms must not be negative")
	}
	for level, n := range c.Generation.MinimumCounts {
		l, err := domain.ParseLevel(level)
		if err != nil || l == domain.LevelBrief {
			return fmt.Errorf("config.generation.minimum_counts has unknown level %s", level)
		}
		if n <= 0 {
			return fmt.Errorf("minimum count for %s must be positive", level)
		}
	}
	if c.Quality.AmberMin < 0 || c.Quality.GreenMin > 10 || c.Quality.AmberMin >= c.Quality.GreenMin {
		return fmt.Errorf("config.quality thresholds must satisfy 0 <= amber_min < green_min <= 10")
	}
	switch c.Quality.Gate {
	case GateBlockRed, GateFlagOnly:
	default:
		return fmt.Errorf("config.quality.gate must be %s or %s", GateBlockRed, GateFlagOnly)
	}
	if c.Quality.MaxParallel < 0 {
		return fmt.Errorf("config.quality.max_parallel must not be negative")
	}
	return nil
}

// Settings builds model settings from the config. The key is supplied by
// the caller.
func (c *Config) Settings(apiKey string) llm.Settings {
	s := llm.NewSettings(c.Model.Provider, c.Model.Model, apiKey)
	s.Temperature = c.Model.Temperature
	s.MaxTokens = c.Model.MaxTokens
	if c.Model.TimeoutSeconds > 0 {
		s.Timeout = time.Duration(c.Model.TimeoutSeconds) * time.Second
	}
	return s
}

// MinimumCount returns the configured minimum for a target level, or 1.
func (c *Config) MinimumCount(level domain.Level) int {
	for name, n := range c.Generation.MinimumCounts {
		if l, err := domain.ParseLevel(name); err == nil && l == level && n > 0 {
			return n
		}
	}
	return 1
}

// Backoff returns the base retry delay.
func (c *Config) Backoff() time.Duration {
	return time.Duration(c.Generation.BackoffMS) * time.Millisecond
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "briefline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	cfg.Project.ID = projectID
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

// YAML renders the config.
func (c *Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

const defaultTemplate = `project:
  id: %s

model:
  provider: google
  model: gemini-2.5-pro
  temperature: 0.7
  max_tokens: 4000
  timeout_seconds: 120

generation:
  max_iterations: 3
  max_attempts: 3
  backoff_ms: 500
  minimum_counts:
    initiative: 3
    feature: 3
    epic: 3
    story: 4

quality:
  green_min: 8
  amber_min: 5
  gate: block_red
  max_parallel: 4
`

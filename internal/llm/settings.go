package llm

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	ProviderGoogle    = "google"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

const (
	DefaultProvider    = ProviderGoogle
	DefaultModel       = "gemini-2.5-pro"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 4000
	DefaultTimeout     = 120 * time.Second
)

// Settings selects a backend and shapes one completion.
type Settings struct {
	Provider    string        `json:"provider" yaml:"provider"`
	Model       string        `json:"model" yaml:"model"`
	APIKey      string        `json:"-" yaml:"-"`
	Temperature float64       `json:"temperature" yaml:"temperature"`
	MaxTokens   int           `json:"max_tokens" yaml:"max_tokens"`
	Timeout     time.Duration `json:"-" yaml:"-"`
}

// NewSettings returns settings with default sampling and budget.
func NewSettings(provider, model, apiKey string) Settings {
	return Settings{
		Provider:    provider,
		Model:       model,
		APIKey:      apiKey,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		Timeout:     DefaultTimeout,
	}
}

// ConfigError reports invalid model settings. It never carries the key.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid model settings: %s %s", e.Field, e.Reason)
}

// Validate fails fast before any network call is attempted.
func (s Settings) Validate() error {
	switch s.Provider {
	case ProviderGoogle, ProviderOpenAI, ProviderAnthropic:
	case "":
		return &ConfigError{Field: "provider", Reason: "is required"}
	default:
		return &ConfigError{Field: "provider", Reason: fmt.Sprintf("%q is not supported (google, openai, anthropic)", s.Provider)}
	}
	if strings.TrimSpace(s.Model) == "" {
		return &ConfigError{Field: "model", Reason: "is required"}
	}
	if strings.TrimSpace(s.APIKey) == "" {
		return &ConfigError{Field: "api_key", Reason: fmt.Sprintf("is required for provider %s", s.Provider)}
	}
	maxTemp := 2.0
	if s.Provider == ProviderAnthropic {
		maxTemp = 1.0
	}
	if s.Temperature < 0 || s.Temperature > maxTemp {
		return &ConfigError{Field: "temperature", Reason: fmt.Sprintf("must be between 0 and %.1f for %s", maxTemp, s.Provider)}
	}
	if s.MaxTokens <= 0 {
		return &ConfigError{Field: "max_tokens", Reason: "must be positive"}
	}
	if s.Timeout < 0 {
		return &ConfigError{Field: "timeout", Reason: "must not be negative"}
	}
	return nil
}

// Redacted is safe to log or echo back to a caller.
func (s Settings) Redacted() map[string]any {
	key := ""
	if s.APIKey != "" {
		key = "****"
		if len(s.APIKey) > 8 {
			key = "****" + s.APIKey[len(s.APIKey)-4:]
		}
	}
	return map[string]any{
		"provider":    s.Provider,
		"model":       s.Model,
		"api_key":     key,
		"temperature": s.Temperature,
		"max_tokens":  s.MaxTokens,
	}
}

var providerKeyEnv = map[string][]string{
	ProviderGoogle:    {"GOOGLE_API_KEY", "GEMINI_API_KEY"},
	ProviderOpenAI:    {"OPENAI_API_KEY"},
	ProviderAnthropic: {"ANTHROPIC_API_KEY"},
}

// ResolveAPIKey returns the first provider key found in the environment.
func ResolveAPIKey(provider string) string {
	for _, name := range providerKeyEnv[provider] {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

// Redact masks every occurrence of key in msg.
func Redact(msg, key string) string {
	return redact(msg, key)
}

func redact(msg, key string) string {
	if key == "" {
		return msg
	}
	return strings.ReplaceAll(msg, key, "****")
}

package app

import (
	"strings"

	"briefline/internal/config"
	"briefline/internal/llm"
)

// ModelOverride is a caller's per-request change to the configured model.
type ModelOverride struct {
	Provider    string   `json:"provider,omitempty" doc:"google, openai or anthropic"`
	Model       string   `json:"model,omitempty"`
	APIKey      string   `json:"api_key,omitempty" doc:"Falls back to the provider environment variable"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// KeyResolver finds an API key for a provider.
type KeyResolver func(provider string) string

// ResolveSettings layers o over the project config. An explicit key wins;
// otherwise resolve is asked for the provider's key.
func ResolveSettings(cfg *config.Config, o ModelOverride, resolve KeyResolver) llm.Settings {
	var s llm.Settings
	if cfg != nil {
		s = cfg.Settings("")
	} else {
		s = llm.NewSettings(llm.DefaultProvider, llm.DefaultModel, "")
	}
	if p := strings.TrimSpace(o.Provider); p != "" && p != s.Provider {
		s.Provider = p
		s.Model = ""
	}
	if m := strings.TrimSpace(o.Model); m != "" {
		s.Model = m
	}
	if o.Temperature != nil {
		s.Temperature = *o.Temperature
	}
	if o.MaxTokens != nil {
		s.MaxTokens = *o.MaxTokens
	}
	if k := strings.TrimSpace(o.APIKey); k != "" {
		s.APIKey = k
		return s
	}
	if resolve == nil {
		resolve = llm.ResolveAPIKey
	}
	s.APIKey = resolve(s.Provider)
	return s
}

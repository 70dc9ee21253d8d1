package app

import (
	"testing"

	"briefline/internal/config"
	"briefline/internal/llm"
)

func TestResolveSettingsLayersOverrides(t *testing.T) {
	cfg := config.Default("p")
	keys := func(provider string) string { return "env-" + provider }

	s := ResolveSettings(cfg, ModelOverride{}, keys)
	if s.Provider != llm.ProviderGoogle || s.Model != cfg.Model.Model || s.APIKey != "env-google" {
		t.Fatalf("defaults = %+v", s.Redacted())
	}

	temp := 0.2
	s = ResolveSettings(cfg, ModelOverride{Provider: "openai", Model: "gpt-4o", Temperature: &temp}, keys)
	if s.Provider != "openai" || s.Model != "gpt-4o" || s.Temperature != 0.2 || s.APIKey != "env-openai" {
		t.Fatalf("override = %+v", s.Redacted())
	}

	// Switching provider without a model leaves the model empty so validation
	// reports it instead of sending a gemini id to another backend.
	s = ResolveSettings(cfg, ModelOverride{Provider: "anthropic", APIKey: "explicit"}, keys)
	if s.Model != "" || s.APIKey != "explicit" {
		t.Fatalf("provider switch = %+v", s.Redacted())
	}
	if err := s.Validate(); err == nil {
		t.Fatalf("expected validation error for missing model")
	}
}

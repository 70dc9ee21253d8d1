package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"briefline/internal/domain"
	"briefline/internal/llm"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("acme")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default invalid: %v", err)
	}
	if cfg.Project.ID != "acme" {
		t.Fatalf("project id = %q", cfg.Project.ID)
	}
	if got := cfg.MinimumCount(domain.LevelStory); got != 4 {
		t.Fatalf("story minimum = %d", got)
	}
	if got := cfg.Backoff(); got != 500*time.Millisecond {
		t.Fatalf("backoff = %s", got)
	}
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := Default("acme")
	cfg.Model.Provider = llm.ProviderOpenAI
	cfg.Model.Model = "gpt-4o"
	cfg.Model.TimeoutSeconds = 30
	s := cfg.Settings("sk")
	if s.Provider != "openai" || s.Model != "gpt-4o" || s.APIKey != "sk" {
		t.Fatalf("unexpected settings %+v", s.Redacted())
	}
	if s.Timeout != 30*time.Second || s.MaxTokens != 4000 {
		t.Fatalf("unexpected budget %s %d", s.Timeout, s.MaxTokens)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"config.project.id":              func(c *Config) { c.Project.ID = "" },
		"config.model.provider":          func(c *Config) { c.Model.Provider = "acme" },
		"config.quality thresholds":      func(c *Config) { c.Quality.AmberMin = 9 },
		"config.quality.gate":            func(c *Config) { c.Quality.Gate = "strict" },
		"minimum_counts has unknown":     func(c *Config) { c.Generation.MinimumCounts["saga"] = 2 },
		"config.generation.max_attempts": func(c *Config) { c.Generation.MaxAttempts = 0 },
	}
	for want, mut := range cases {
		cfg := Default("p")
		mut(cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error containing %q, got %v", want, err)
		}
	}
}

func TestLoadOptionalAndRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("expected nil config, got %v %v", cfg, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "briefline.yml"), []byte(GenerateDefault("demo")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	out, err := cfg.YAML()
	if err != nil {
		t.Fatal(err)
	}
	again, err := FromYAML([]byte(out))
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if again.Quality.Gate != GateBlockRed || again.Project.ID != "demo" {
		t.Fatalf("round trip lost fields: %+v", again)
	}
}

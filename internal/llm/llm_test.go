package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsValidate(t *testing.T) {
	valid := NewSettings(ProviderOpenAI, "gpt-4o", "sk-test")
	require.NoError(t, valid.Validate())

	cases := []struct {
		name  string
		mut   func(*Settings)
		field string
	}{
		{"missing provider", func(s *Settings) { s.Provider = "" }, "provider"},
		{"unknown provider", func(s *Settings) { s.Provider = "acme" }, "provider"},
		{"missing model", func(s *Settings) { s.Model = " " }, "model"},
		{"missing key", func(s *Settings) { s.APIKey = "" }, "api_key"},
		{"temperature high", func(s *Settings) { s.Temperature = 2.5 }, "temperature"},
		{"temperature negative", func(s *Settings) { s.Temperature = -0.1 }, "temperature"},
		{"anthropic temperature", func(s *Settings) { s.Provider = ProviderAnthropic; s.Temperature = 1.5 }, "temperature"},
		{"max tokens", func(s *Settings) { s.MaxTokens = 0 }, "max_tokens"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := valid
			tc.mut(&s)
			err := s.Validate()
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tc.field, cfgErr.Field)
			assert.NotContains(t, err.Error(), "sk-test")
		})
	}
}

func TestRedactedHidesKey(t *testing.T) {
	s := NewSettings(ProviderGoogle, DefaultModel, "AIzaSyVerySecretKey1234")
	r := s.Redacted()
	assert.Equal(t, "****1234", r["api_key"])
	assert.Equal(t, 0.7, r["temperature"])
	assert.Equal(t, 4000, r["max_tokens"])
}

func TestClassify(t *testing.T) {
	assert.Equal(t, AuthError, Classify(401, nil))
	assert.Equal(t, AuthError, Classify(403, nil))
	assert.Equal(t, QuotaExceeded, Classify(429, nil))
	assert.Equal(t, ProviderUnavailable, Classify(503, nil))
	assert.Equal(t, InvalidRequest, Classify(404, nil))
	assert.Equal(t, ProviderUnavailable, Classify(0, context.DeadlineExceeded))
	assert.Equal(t, AuthError, Classify(0, errors.New("API key not valid")))
	assert.Equal(t, QuotaExceeded, Classify(0, errors.New("RESOURCE_EXHAUSTED: quota")))
	assert.Equal(t, ProviderUnavailable, Classify(0, errors.New("connection refused")))
}

func TestRouterRejectsInvalidSettingsBeforeNetwork(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits++ }))
	defer srv.Close()
	r := NewRouter(nil)
	r.OpenAIBaseURL = srv.URL
	_, err := r.Complete(context.Background(), "s", "u", NewSettings(ProviderOpenAI, "gpt-4o", ""))
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Zero(t, hits)
}

func TestRouterOpenAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req.Model)
		assert.Equal(t, 4000, req.MaxTokens)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" [] "}}],"usage":{"total_tokens":42}}`))
	}))
	defer srv.Close()

	r := NewRouter(nil)
	r.OpenAIBaseURL = srv.URL
	out, err := r.Complete(context.Background(), "sys", "user", NewSettings(ProviderOpenAI, "gpt-4o", "sk-test"))
	require.NoError(t, err)
	assert.Equal(t, "[]", out.Text)
	assert.Equal(t, 42, out.TokensUsed)
}

func TestRouterAnthropicErrorsAreClassifiedAndRedacted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid x-api-key sk-ant-secret"}}`))
	}))
	defer srv.Close()

	r := NewRouter(nil)
	r.AnthropicBaseURL = srv.URL
	s := NewSettings(ProviderAnthropic, "claude-sonnet-4-5", "sk-ant-secret")
	s.Temperature = 0.2
	_, err := r.Complete(context.Background(), "sys", "user", s)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, AuthError, pe.Kind)
	assert.Equal(t, http.StatusUnauthorized, pe.Status)
	assert.True(t, strings.HasPrefix(err.Error(), "ProviderError: anthropic AuthError"))
	assert.NotContains(t, err.Error(), "sk-ant-secret")
}

func TestRouterAnthropicSumsTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"[{\"title\":\"a\"}]"}],"usage":{"input_tokens":10,"output_tokens":5}}`))
	}))
	defer srv.Close()
	r := NewRouter(nil)
	r.AnthropicBaseURL = srv.URL
	s := NewSettings(ProviderAnthropic, "claude-sonnet-4-5", "k")
	s.Temperature = 0.5
	out, err := r.Complete(context.Background(), "", "user", s)
	require.NoError(t, err)
	assert.Equal(t, 15, out.TokensUsed)
	assert.Equal(t, `[{"title":"a"}]`, out.Text)
}

func TestRouterGemini(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "gemini-2.5-pro:generateContent")
		assert.Equal(t, "g-key", r.Header.Get("x-goog-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"[]"}]}}],"usageMetadata":{"totalTokenCount":7}}`))
	}))
	defer srv.Close()
	r := NewRouter(nil)
	r.GeminiBaseURL = srv.URL + "/"
	out, err := r.Complete(context.Background(), "sys", "user", NewSettings(ProviderGoogle, DefaultModel, "g-key"))
	require.NoError(t, err)
	assert.Equal(t, "[]", out.Text)
	assert.Equal(t, 7, out.TokensUsed)
}

func TestScriptedRepeatsLastStep(t *testing.T) {
	g := &Scripted{Steps: []Step{{Text: "one"}, {Err: &ProviderError{Provider: "google", Kind: QuotaExceeded}}}}
	s := NewSettings(ProviderGoogle, DefaultModel, "k")
	out, err := g.Complete(context.Background(), "s", "u1", s)
	require.NoError(t, err)
	assert.Equal(t, "one", out.Text)
	for i := 0; i < 2; i++ {
		_, err = g.Complete(context.Background(), "s", "u", s)
		var pe *ProviderError
		require.ErrorAs(t, err, &pe)
		assert.False(t, pe.Kind == AuthError)
	}
	assert.Len(t, g.Calls(), 3)
	assert.Equal(t, "u1", g.Calls()[0].User)
}

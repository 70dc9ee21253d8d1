// Package llm is the uniform "complete text" capability over model backends.
package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Completion is the text a backend produced and the tokens it consumed.
type Completion struct {
	Text       string `json:"text"`
	TokensUsed int    `json:"tokens_used"`
}

// Gateway completes a system/user prompt pair.
type Gateway interface {
	Complete(ctx context.Context, system, user string, s Settings) (Completion, error)
}

// Router dispatches on Settings.Provider.
type Router struct {
	OpenAIBaseURL    string
	AnthropicBaseURL string
	GeminiBaseURL    string
	HTTPClient       *http.Client
	Logger           *zap.Logger

	mu     sync.Mutex
	gemini map[string]*genai.Client
}

// NewRouter returns a router pointed at the public provider endpoints.
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		OpenAIBaseURL:    "https://api.openai.com/v1",
		AnthropicBaseURL: "https://api.anthropic.com/v1",
		HTTPClient:       &http.Client{},
		Logger:           logger,
	}
}

func (r *Router) Complete(ctx context.Context, system, user string, s Settings) (Completion, error) {
	if err := s.Validate(); err != nil {
		return Completion{}, err
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	start := time.Now()
	var (
		out Completion
		err error
	)
	switch s.Provider {
	case ProviderOpenAI:
		out, err = completeOpenAI(ctx, r.httpClient(), r.OpenAIBaseURL, system, user, s)
	case ProviderAnthropic:
		out, err = completeAnthropic(ctx, r.httpClient(), r.AnthropicBaseURL, system, user, s)
	case ProviderGoogle:
		var client *genai.Client
		client, err = r.geminiClient(ctx, s.APIKey)
		if err == nil {
			out, err = completeGemini(ctx, client, system, user, s)
		}
	}
	log := r.logger().With(zap.String("provider", s.Provider), zap.String("model", s.Model), zap.Duration("elapsed", time.Since(start)))
	if err != nil {
		log.Warn("completion failed", zap.Error(err))
		return Completion{}, err
	}
	log.Debug("completion done", zap.Int("tokens", out.TokensUsed), zap.Int("chars", len(out.Text)))
	return out, nil
}

func (r *Router) httpClient() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return http.DefaultClient
}

func (r *Router) logger() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop()
}

// geminiClient caches one SDK client per key hash.
func (r *Router) geminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	sum := sha256.Sum256([]byte(apiKey))
	id := hex.EncodeToString(sum[:8])
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.gemini[id]; ok {
		return c, nil
	}
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: r.httpClient(),
	}
	if r.GeminiBaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: r.GeminiBaseURL}
	}
	c, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, newProviderError(ProviderGoogle, 0, err, apiKey)
	}
	if r.gemini == nil {
		r.gemini = map[string]*genai.Client{}
	}
	r.gemini[id] = c
	return c, nil
}

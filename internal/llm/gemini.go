package llm

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"
)

func completeGemini(ctx context.Context, client *genai.Client, system, user string, s Settings) (Completion, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(s.Temperature)),
		MaxOutputTokens: int32(s.MaxTokens),
	}
	if strings.TrimSpace(system) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	contents := []*genai.Content{genai.NewContentFromText(user, genai.RoleUser)}
	resp, err := client.Models.GenerateContent(ctx, s.Model, contents, cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return Completion{}, newProviderError(ProviderGoogle, apiErr.Code, errors.New(apiErr.Message), s.APIKey)
		}
		return Completion{}, newProviderError(ProviderGoogle, 0, err, s.APIKey)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return Completion{}, &ProviderError{Provider: ProviderGoogle, Kind: ProviderUnavailable, Err: errors.New("empty response")}
	}
	out := Completion{Text: text}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	return out, nil
}

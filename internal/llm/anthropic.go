package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

const anthropicVersion = "2023-06-01"

type anthropicRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      string          `json:"system,omitempty"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func completeAnthropic(ctx context.Context, client *http.Client, baseURL, system, user string, s Settings) (Completion, error) {
	reqBody := anthropicRequest{
		Model:       s.Model,
		MaxTokens:   s.MaxTokens,
		System:      system,
		Messages:    []openAIMessage{{Role: "user", Content: user}},
		Temperature: s.Temperature,
	}
	headers := map[string]string{
		"x-api-key":         s.APIKey,
		"anthropic-version": anthropicVersion,
	}
	var resp anthropicResponse
	if err := postJSON(ctx, client, ProviderAnthropic, strings.TrimRight(baseURL, "/")+"/messages", headers, reqBody, &resp, s.APIKey); err != nil {
		return Completion{}, err
	}
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return Completion{}, &ProviderError{Provider: ProviderAnthropic, Kind: ProviderUnavailable, Err: errors.New("no text content returned")}
	}
	return Completion{Text: text, TokensUsed: resp.Usage.InputTokens + resp.Usage.OutputTokens}, nil
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func completeOpenAI(ctx context.Context, client *http.Client, baseURL, system, user string, s Settings) (Completion, error) {
	reqBody := openAIRequest{
		Model:       s.Model,
		MaxTokens:   s.MaxTokens,
		Temperature: s.Temperature,
	}
	if strings.TrimSpace(system) != "" {
		reqBody.Messages = append(reqBody.Messages, openAIMessage{Role: "system", Content: system})
	}
	reqBody.Messages = append(reqBody.Messages, openAIMessage{Role: "user", Content: user})
	headers := map[string]string{"Authorization": "Bearer " + s.APIKey}

	var resp openAIResponse
	if err := postJSON(ctx, client, ProviderOpenAI, strings.TrimRight(baseURL, "/")+"/chat/completions", headers, reqBody, &resp, s.APIKey); err != nil {
		return Completion{}, err
	}
	if resp.Error != nil {
		return Completion{}, newProviderError(ProviderOpenAI, 0, errors.New(resp.Error.Message), s.APIKey)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return Completion{}, &ProviderError{Provider: ProviderOpenAI, Kind: ProviderUnavailable, Err: errors.New("no completion returned")}
	}
	return Completion{
		Text:       strings.TrimSpace(resp.Choices[0].Message.Content),
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

// postJSON sends one request and decodes a 200 response into out. Non-2xx
// statuses and transport failures become a ProviderError.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body, out any, key string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", provider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build %s request: %w", provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		return newProviderError(provider, 0, err, key)
	}
	defer res.Body.Close()
	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return newProviderError(provider, 0, fmt.Errorf("read response: %w", err), key)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg := strings.TrimSpace(string(payload))
		if len(msg) > 500 {
			msg = msg[:500]
		}
		return newProviderError(provider, res.StatusCode, errors.New(msg), key)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return newProviderError(provider, res.StatusCode, fmt.Errorf("decode response: %w", err), key)
	}
	return nil
}

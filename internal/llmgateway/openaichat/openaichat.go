// Package openaichat implements llmgateway.Provider against an
// OpenAI-compatible /chat/completions endpoint. Grounded on
// original_source/services/rag_engine/pipelines/base.py's _call_llm
// openai branch (Bearer auth, single user-role message, temperature/
// max_tokens/top_p/stop fields, choices[0].message.content response
// extraction).
package openaichat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"aleutianrag/internal/llmgateway/genopts"
	"aleutianrag/internal/ragerr"
)

type Client struct {
	baseURL string
	model   string
	apiKey  string
	http    *http.Client
}

func New(baseURL, model, apiKey string, httpClient *http.Client) *Client {
	base := strings.TrimSuffix(baseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	return &Client{baseURL: base, model: model, apiKey: apiKey, http: httpClient}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	TopP        float64       `json:"top_p"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate implements llmgateway.Provider.
func (c *Client) Generate(ctx context.Context, prompt string, opts genopts.Options) (string, error) {
	if c.apiKey == "" {
		return "", ragerr.New(ragerr.Policy, fmt.Errorf("openai api key secret not configured"))
	}
	m := opts.Model
	if m == "" {
		m = c.model
	}
	var temp, topP float64
	if opts.Temperature != nil {
		temp = *opts.Temperature
	}
	if opts.TopP != nil {
		topP = *opts.TopP
	}
	body := chatRequest{
		Model:       m,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temp,
		MaxTokens:   opts.MaxTokens,
		TopP:        topP,
		Stop:        opts.Stop,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", ragerr.New(ragerr.Internal, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return "", ragerr.New(ragerr.Internal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", ragerr.New(ragerr.Transport, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", ragerr.Status(resp.StatusCode, string(raw))
	}
	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", ragerr.New(ragerr.UpstreamSchema, fmt.Errorf("decode openai response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return "", ragerr.New(ragerr.UpstreamSchema, fmt.Errorf("openai response had no choices"))
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// Package llamacpp implements llmgateway.Provider against a llama.cpp
// server's /completion endpoint. Grounded on
// original_source/services/rag_engine/pipelines/base.py's _call_llm
// "local" branch (n_predict/temperature/top_k/top_p/stop fields, plain
// "content" response field).
package llamacpp

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
	http    *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), http: httpClient}
}

type completionRequest struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict"`
	Temperature float64  `json:"temperature"`
	TopK        int      `json:"top_k"`
	TopP        float64  `json:"top_p"`
	Stop        []string `json:"stop,omitempty"`
}

type completionResponse struct {
	Content string `json:"content"`
}

// Generate implements llmgateway.Provider. llama.cpp's /completion has no
// model selection field; opts.Model is ignored.
func (c *Client) Generate(ctx context.Context, prompt string, opts genopts.Options) (string, error) {
	var temp, topP float64
	var topK int
	if opts.Temperature != nil {
		temp = *opts.Temperature
	}
	if opts.TopK != nil {
		topK = *opts.TopK
	}
	if opts.TopP != nil {
		topP = *opts.TopP
	}
	body := completionRequest{
		Prompt:      prompt,
		NPredict:    opts.MaxTokens,
		Temperature: temp,
		TopK:        topK,
		TopP:        topP,
		Stop:        opts.Stop,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", ragerr.New(ragerr.Internal, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/completion", bytes.NewReader(b))
	if err != nil {
		return "", ragerr.New(ragerr.Internal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", ragerr.New(ragerr.Transport, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", ragerr.Status(resp.StatusCode, string(raw))
	}
	var parsed completionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", ragerr.New(ragerr.UpstreamSchema, fmt.Errorf("decode llama.cpp response: %w", err))
	}
	return strings.TrimSpace(parsed.Content), nil
}

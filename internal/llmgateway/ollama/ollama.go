// Package ollama implements llmgateway.Provider against Ollama's
// /api/generate endpoint. Grounded on
// original_source/services/rag_engine/pipelines/base.py's _call_llm
// ollama branch (options block: temperature, num_predict, top_k, top_p,
// stop) and internal/embedding/client.go's HTTP-client idiom.
package ollama

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
	http    *http.Client
}

func New(baseURL, model string, httpClient *http.Client) *Client {
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), model: model, http: httpClient}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options generateOption `json:"options"`
}

type generateOption struct {
	Temperature float64  `json:"temperature"`
	NumPredict  int      `json:"num_predict"`
	TopK        int      `json:"top_k"`
	TopP        float64  `json:"top_p"`
	Stop        []string `json:"stop,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate implements llmgateway.Provider.
func (c *Client) Generate(ctx context.Context, prompt string, opts genopts.Options) (string, error) {
	m := opts.Model
	if m == "" {
		m = c.model
	}
	var temp float64
	if opts.Temperature != nil {
		temp = *opts.Temperature
	}
	var topK int
	if opts.TopK != nil {
		topK = *opts.TopK
	}
	var topP float64
	if opts.TopP != nil {
		topP = *opts.TopP
	}
	body := generateRequest{
		Model:  m,
		Prompt: prompt,
		Stream: false,
		Options: generateOption{
			Temperature: temp,
			NumPredict:  opts.MaxTokens,
			TopK:        topK,
			TopP:        topP,
			Stop:        opts.Stop,
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", ragerr.New(ragerr.Internal, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(b))
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
	var parsed generateResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", ragerr.New(ragerr.UpstreamSchema, fmt.Errorf("decode ollama response: %w", err))
	}
	return strings.TrimSpace(parsed.Response), nil
}

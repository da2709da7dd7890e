// Package googlegenai implements llmgateway.Provider against Gemini via
// google.golang.org/genai, an additive fifth provider beyond spec.md §3's
// closed four-provider set (ollama/openai/anthropic/llamacpp), wired in
// because internal/llm/google/client.go already depends on this SDK
// (genai.NewClient, client.Models.GenerateContent,
// genai.GenerateContentConfig{Temperature, TopP, TopK *float32}).
package googlegenai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	genai "google.golang.org/genai"

	"aleutianrag/internal/llmgateway/genopts"
	"aleutianrag/internal/ragerr"
)

type Client struct {
	client *genai.Client
	model  string
}

func New(model, apiKey string, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	c, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:     strings.TrimSpace(apiKey),
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("init google genai client: %w", err)
	}
	return &Client{client: c, model: model}, nil
}

func ptrFloat32(f float64) *float32 {
	v := float32(f)
	return &v
}

// Generate implements llmgateway.Provider.
func (c *Client) Generate(ctx context.Context, prompt string, opts genopts.Options) (string, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}
	cfg := &genai.GenerateContentConfig{}
	if opts.Temperature != nil {
		cfg.Temperature = ptrFloat32(*opts.Temperature)
	}
	if opts.TopP != nil {
		cfg.TopP = ptrFloat32(*opts.TopP)
	}
	if opts.TopK != nil {
		cfg.TopK = ptrFloat32(float64(*opts.TopK))
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if len(opts.Stop) > 0 {
		cfg.StopSequences = opts.Stop
	}
	contents := []*genai.Content{genai.NewContentFromParts([]*genai.Part{{Text: prompt}}, genai.RoleUser)}
	resp, err := c.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", ragerr.New(ragerr.Transport, err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ragerr.New(ragerr.UpstreamSchema, fmt.Errorf("google genai response had no candidates"))
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", ragerr.New(ragerr.UpstreamSchema, fmt.Errorf("google genai response contained no text"))
	}
	return strings.TrimSpace(sb.String()), nil
}

// Package anthropic implements llmgateway.Provider against Anthropic's
// Messages API, using the same modern (v1.x) SDK surface as
// internal/llm/anthropic/client.go: anthropic.NewClient with
// option.WithAPIKey/option.WithHTTPClient, anthropic.MessageNewParams,
// and anthropic.NewUserMessage/anthropic.NewTextBlock for message
// construction.
//
// Unlike that client, this one explicitly sets Temperature and TopP/TopK
// from the resolved GenerateOptions. internal/llm/anthropic/client.go
// never sets MessageNewParams.Temperature anywhere, silently falling
// back to the API's own default on every call; that omission is not
// carried over here, since spec.md §4.8 requires the resolved
// temperature to actually reach the provider. Anthropic's API rejects a
// request that sets both temperature and thinking, so temperature is
// omitted whenever extended thinking is enabled.
package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"aleutianrag/internal/llmgateway/genopts"
	"aleutianrag/internal/ragerr"
)

const defaultMaxTokens int64 = 1024

type Client struct {
	sdk   sdk.Client
	model string
	// ThinkingBudget > 0 enables extended thinking with this token budget;
	// when enabled, Temperature is omitted per the API's mutual-exclusion
	// rule and MaxTokens is raised above the budget if necessary.
	ThinkingBudget int64
}

func New(baseURL, model, apiKey string, httpClient *http.Client) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(baseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	return &Client{sdk: sdk.NewClient(opts...), model: model}
}

// Generate implements llmgateway.Provider.
func (c *Client) Generate(ctx context.Context, prompt string, opts genopts.Options) (string, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}
	maxTokens := defaultMaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = int64(opts.MaxTokens)
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: maxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
	}
	if c.ThinkingBudget > 0 {
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(c.ThinkingBudget)
		if params.MaxTokens <= c.ThinkingBudget {
			params.MaxTokens = c.ThinkingBudget + 1024
		}
	} else if opts.Temperature != nil {
		params.Temperature = sdk.Float(*opts.Temperature)
	}
	if opts.TopP != nil {
		params.TopP = sdk.Float(*opts.TopP)
	}
	if opts.TopK != nil {
		params.TopK = sdk.Int(int64(*opts.TopK))
	}
	if len(opts.Stop) > 0 {
		params.StopSequences = opts.Stop
	}

	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return "", ragerr.New(ragerr.Transport, err)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(sdk.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	if sb.Len() == 0 {
		return "", ragerr.New(ragerr.UpstreamSchema, fmt.Errorf("anthropic response contained no text block"))
	}
	return strings.TrimSpace(sb.String()), nil
}

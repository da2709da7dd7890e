package agentstep

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"aleutianrag/internal/ragtypes"
)

// OpenAIChatProvider satisfies Provider against an OpenAI-compatible chat
// completions endpoint, the one concrete backend spec.md §4.9's tool-calling
// agent step actually needs (distinct from llmgateway.Provider, which is
// deliberately generate-only — see llmgateway.go's doc comment). Grounded on
// internal/llm/openai/client.go's Chat method and schema.go's
// AdaptMessages/AdaptSchemas, adapted from manifold's internal/llm.Message/
// llm.ToolSchema wire types to this package's ragtypes.AgentMessage/ToolSchema.
type OpenAIChatProvider struct {
	sdk   sdk.Client
	model string
}

// NewOpenAIChatProvider builds a provider against baseURL (empty uses the
// default OpenAI endpoint) with apiKey for auth.
func NewOpenAIChatProvider(baseURL, apiKey string, httpClient *http.Client) *OpenAIChatProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 180 * time.Second}
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithHTTPClient(httpClient)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIChatProvider{sdk: sdk.NewClient(opts...)}
}

// Chat implements Provider.
func (p *OpenAIChatProvider) Chat(ctx context.Context, history []ragtypes.AgentMessage, tools []ToolSchema, model string) (RawMessage, error) {
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(model),
		Messages: adaptAgentMessages(history),
	}
	if len(tools) > 0 {
		params.Tools = adaptToolSchemas(tools)
	}

	comp, err := p.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return RawMessage{}, err
	}
	if len(comp.Choices) == 0 {
		return RawMessage{}, nil
	}
	choice := comp.Choices[0].Message

	out := RawMessage{Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		fn := tc.Function
		var args any = fn.Arguments
		out.ToolCalls = append(out.ToolCalls, RawToolCall{ID: tc.ID, Name: fn.Name, Args: args})
	}
	return out, nil
}

func adaptToolSchemas(schemas []ToolSchema) []sdk.ChatCompletionToolUnionParam {
	out := make([]sdk.ChatCompletionToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		def := sdk.FunctionDefinitionParam{
			Name:        s.Name,
			Description: sdk.String(s.Description),
			Parameters:  s.Parameters,
		}
		out = append(out, sdk.ChatCompletionFunctionTool(def))
	}
	return out
}

func adaptAgentMessages(history []ragtypes.AgentMessage) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case "user":
			out = append(out, sdk.UserMessage(m.Content))
		case "assistant":
			if len(m.ToolCalls) == 0 {
				out = append(out, sdk.AssistantMessage(m.Content))
				continue
			}
			var asst sdk.ChatCompletionAssistantMessageParam
			asst.Content.OfString = sdk.String(m.Content)
			for _, tc := range m.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Args)
				fn := sdk.ChatCompletionMessageFunctionToolCallParam{
					ID: tc.ID,
					Function: sdk.ChatCompletionMessageFunctionToolCallFunctionParam{
						Arguments: string(argsJSON),
						Name:      tc.Name,
					},
				}
				asst.ToolCalls = append(asst.ToolCalls, sdk.ChatCompletionMessageToolCallUnionParam{OfFunction: &fn})
			}
			out = append(out, sdk.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case "tool":
			out = append(out, sdk.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	return out
}

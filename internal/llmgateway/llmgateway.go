// Package llmgateway implements the ProviderGateway collaborator from
// spec.md §3/§6: a single generate(prompt, ...) contract fronting four
// interchangeable backends (ollama, openai, anthropic, llamacpp), plus an
// additive fifth (googlegenai) carried over from the rest of the example
// pack's dependency surface. Grounded on
// original_source/services/rag_engine/pipelines/base.py's _call_llm, which
// switches on a backend string and builds one of three wire payloads; the
// HTTP-client idiom (context timeout, header construction, status-to-error
// mapping) is grounded on internal/rag/embedder/embedder.go's clientEmbedder
// and internal/embedding/client.go.
package llmgateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"aleutianrag/internal/config"
	"aleutianrag/internal/llmgateway/anthropic"
	"aleutianrag/internal/llmgateway/genopts"
	"aleutianrag/internal/llmgateway/googlegenai"
	"aleutianrag/internal/llmgateway/llamacpp"
	"aleutianrag/internal/llmgateway/ollama"
	"aleutianrag/internal/llmgateway/openaichat"
)

// GenerateOptions is an alias for genopts.Options, the leaf type each
// backend subpackage implements Provider.Generate against directly.
type GenerateOptions = genopts.Options

// Provider is the ProviderGateway contract: a single non-streaming
// generate call. Each backend variant implements this directly; none of
// them expose the richer chat-history/tool-call surface internal/llm's
// Provider interface does, since spec.md §3 never asks for multi-turn
// history or tool calls at this layer (that is internal/agentstep's job).
type Provider interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// Defaults applied when neither the request nor config supplies a value.
// The precedence chain is request > config > built-in default. There is no
// environment tier: neither this package nor config.Load reads these
// options from environment variables.
const (
	DefaultTemperature = 0.6
	DefaultMaxTokens   = 1024
	DefaultTopK        = 40
	DefaultTopP        = 0.9
)

// ResolveOptions fills unset fields of req from cfg, then from the
// built-in defaults above, and clamps temperature to [0, 2] per spec.md
// §9's numeric boundary rule.
func ResolveOptions(req GenerateOptions, cfg config.ProviderConfig) GenerateOptions {
	out := req
	if out.Model == "" {
		out.Model = cfg.Model
	}
	if out.Temperature == nil {
		t := DefaultTemperature
		if cfg.Temperature != nil {
			t = *cfg.Temperature
		}
		out.Temperature = &t
	}
	if *out.Temperature < 0 {
		*out.Temperature = 0
	}
	if *out.Temperature > 2 {
		*out.Temperature = 2
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = DefaultMaxTokens
	}
	if out.TopK == nil {
		k := DefaultTopK
		out.TopK = &k
	}
	if out.TopP == nil {
		p := DefaultTopP
		out.TopP = &p
	}
	return out
}

// Build constructs the Provider named by cfg.Provider. httpClient may be
// nil, in which case Build creates one client with a 180s timeout and passes
// it to the backend.
func Build(cfg config.ProviderConfig, secretStore config.SecretStore, httpClient *http.Client) (Provider, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 180 * time.Second}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "ollama", "":
		return ollama.New(cfg.BaseURL, cfg.Model, httpClient), nil
	case "openai":
		key, err := secretStore.Read("openai_api_key")
		if err != nil {
			return nil, err
		}
		return openaichat.New(cfg.BaseURL, cfg.Model, key, httpClient), nil
	case "anthropic":
		key, err := secretStore.Read("anthropic_api_key")
		if err != nil {
			return nil, err
		}
		return anthropic.New(cfg.BaseURL, cfg.Model, key, httpClient), nil
	case "llamacpp", "local":
		return llamacpp.New(cfg.BaseURL, httpClient), nil
	case "google", "googlegenai":
		key, err := secretStore.Read("google_api_key")
		if err != nil {
			return nil, err
		}
		return googlegenai.New(cfg.Model, key, httpClient)
	default:
		return nil, fmt.Errorf("llmgateway: unsupported provider %q", cfg.Provider)
	}
}

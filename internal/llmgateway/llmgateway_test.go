package llmgateway

import (
	"testing"

	"aleutianrag/internal/config"
)

func TestResolveOptionsFillsFromConfigThenDefaults(t *testing.T) {
	configTemp := 0.3
	cfg := config.ProviderConfig{Model: "configured-model", Temperature: &configTemp}
	out := ResolveOptions(GenerateOptions{}, cfg)
	if out.Model != "configured-model" {
		t.Fatalf("expected model from config, got %q", out.Model)
	}
	if out.Temperature == nil || *out.Temperature != 0.3 {
		t.Fatalf("expected temperature from config, got %v", out.Temperature)
	}
	if out.MaxTokens != DefaultMaxTokens {
		t.Fatalf("expected built-in default max tokens, got %d", out.MaxTokens)
	}
	if out.TopK == nil || *out.TopK != DefaultTopK {
		t.Fatalf("expected built-in default top_k, got %v", out.TopK)
	}
}

func TestResolveOptionsRequestTakesPrecedence(t *testing.T) {
	configTemp := 0.3
	cfg := config.ProviderConfig{Model: "configured-model", Temperature: &configTemp}
	reqTemp := 1.1
	out := ResolveOptions(GenerateOptions{Model: "request-model", Temperature: &reqTemp}, cfg)
	if out.Model != "request-model" {
		t.Fatalf("expected request model to win, got %q", out.Model)
	}
	if *out.Temperature != 1.1 {
		t.Fatalf("expected request temperature to win, got %v", *out.Temperature)
	}
}

func TestResolveOptionsPreservesExplicitZeroConfigTemperature(t *testing.T) {
	configTemp := 0.0
	cfg := config.ProviderConfig{Model: "configured-model", Temperature: &configTemp}
	out := ResolveOptions(GenerateOptions{}, cfg)
	if out.Temperature == nil || *out.Temperature != 0 {
		t.Fatalf("expected explicit config temperature 0 to survive, got %v", out.Temperature)
	}
}

func TestResolveOptionsClampsTemperature(t *testing.T) {
	hot := 5.0
	out := ResolveOptions(GenerateOptions{Temperature: &hot}, config.ProviderConfig{})
	if *out.Temperature != 2 {
		t.Fatalf("expected temperature clamped to 2, got %v", *out.Temperature)
	}
	cold := -3.0
	out = ResolveOptions(GenerateOptions{Temperature: &cold}, config.ProviderConfig{})
	if *out.Temperature != 0 {
		t.Fatalf("expected temperature clamped to 0, got %v", *out.Temperature)
	}
}

func TestBuildUnsupportedProviderErrors(t *testing.T) {
	_, err := Build(config.ProviderConfig{Provider: "carrier-pigeon"}, config.SecretStore{}, nil)
	if err == nil {
		t.Fatalf("expected error for unsupported provider")
	}
}

func TestBuildOllamaDefaultsWhenProviderEmpty(t *testing.T) {
	p, err := Build(config.ProviderConfig{Model: "llama3"}, config.SecretStore{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatalf("expected a provider")
	}
}

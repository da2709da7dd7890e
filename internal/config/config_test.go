package config

import "testing"

func TestApplyDefaultsAndClamp(t *testing.T) {
	var c Config
	applyDefaults(&c)
	if c.Verification.MaxAttempts != 3 {
		t.Fatalf("expected default max attempts 3, got %d", c.Verification.MaxAttempts)
	}
	if c.Retrieval.RerankFinalK != 5 {
		t.Fatalf("expected default rerank final k 5, got %d", c.Retrieval.RerankFinalK)
	}
	if c.Verification.OptimistTemperature == nil || *c.Verification.OptimistTemperature != 0.6 {
		t.Fatalf("expected default optimist temperature 0.6, got %v", c.Verification.OptimistTemperature)
	}

	c.Verification.MaxAttempts = 99
	c.Verification.OptimistTemperature = floatPtr(9)
	c.Clamp()
	if c.Verification.MaxAttempts != 5 {
		t.Fatalf("expected clamp to hard cap 5, got %d", c.Verification.MaxAttempts)
	}
	if *c.Verification.OptimistTemperature != 2 {
		t.Fatalf("expected temperature clamped to 2, got %v", *c.Verification.OptimistTemperature)
	}
}

// TestApplyDefaultsPreservesExplicitZeroTemperature guards spec.md's
// request > config > environment > built-in default precedence: a
// configured 0 is a valid clamped-range value, not an "unset" sentinel,
// and must survive applyDefaults/Clamp unchanged.
func TestApplyDefaultsPreservesExplicitZeroTemperature(t *testing.T) {
	c := Config{Verification: VerificationConfig{OptimistTemperature: floatPtr(0)}}
	applyDefaults(&c)
	if c.Verification.OptimistTemperature == nil || *c.Verification.OptimistTemperature != 0 {
		t.Fatalf("expected explicit zero optimist temperature to survive defaulting, got %v", c.Verification.OptimistTemperature)
	}
	c.Clamp()
	if *c.Verification.OptimistTemperature != 0 {
		t.Fatalf("expected explicit zero optimist temperature to survive clamp, got %v", *c.Verification.OptimistTemperature)
	}
}

func TestSecretStoreMissingFileIsEmpty(t *testing.T) {
	s := SecretStore{Dir: t.TempDir()}
	v, err := s.Read("does-not-exist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "" {
		t.Fatalf("expected empty string for missing secret, got %q", v)
	}
}

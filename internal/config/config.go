// Package config resolves the core's configuration surface from a YAML
// file plus a mounted secrets directory. It mirrors the teacher's
// internal/config layout (struct-of-structs, yaml tags) rather than the
// legacy root config.go's yaml.v2/pterm combination.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ProviderConfig names a ProviderGateway base URL/model/provider string.
// Temperature is a pointer so an explicitly configured 0 (a valid,
// clamped-range value per spec.md's [0, 2] bound) survives defaulting
// instead of being indistinguishable from "unset".
type ProviderConfig struct {
	Provider    string   `yaml:"provider"` // "ollama", "openai", "anthropic", "llamacpp", "google"
	BaseURL     string   `yaml:"base_url"`
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
}

// VerificationConfig holds the VerifiedEngine's bounds and per-role
// temperatures (spec.md §6). The three temperatures are pointers for the
// same presence-vs-zero reason as ProviderConfig.Temperature.
type VerificationConfig struct {
	MaxAttempts         int      `yaml:"max_verification_attempts"`
	OptimistTemperature *float64 `yaml:"optimist_temperature"`
	SkepticTemperature  *float64 `yaml:"skeptic_temperature"`
	RefinerTemperature  *float64 `yaml:"refiner_temperature"`
	OptimistStrictness  string   `yaml:"optimist_strictness"` // "strict" | "balanced"
	SkepticExamplesPath string   `yaml:"skeptic_examples_path"`
	MaxEvidenceLength   int      `yaml:"max_evidence_length"`
}

// RetrievalConfig holds the Retriever/Reranker thresholds.
type RetrievalConfig struct {
	RerankInitialK         int     `yaml:"rerank_initial_k"`
	RerankFinalK           int     `yaml:"rerank_final_k"`
	RerankScoreThreshold   float64 `yaml:"rerank_score_threshold"`
	DistanceThreshold      float64 `yaml:"distance_threshold"`
	RelevanceGateThreshold float64 `yaml:"relevance_gate_threshold"`
	RelevanceGateEnabled   bool    `yaml:"relevance_gate_enabled"`
	HistoryAnswerMaxChars  int     `yaml:"history_answer_max_chars"`
}

// ObservabilityConfig controls OTel/logging (ambient).
type ObservabilityConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	LogLevel       string `yaml:"log_level"`
	LogPath        string `yaml:"log_path"`
}

// QdrantConfig configures the docstore.
type QdrantConfig struct {
	DSN                string `yaml:"dsn"`
	DocumentCollection string `yaml:"document_collection"`
	LogCollection      string `yaml:"log_collection"`
	Dimensions         int    `yaml:"dimensions"`
	Metric             string `yaml:"metric"`
}

// KafkaConfig configures the async debate-transcript publisher. Empty
// Brokers disables publication (obs.NewDebatePublisher runs as a no-op).
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"debate_log_topic"`
}

// Config is the resolved, top-level configuration surface (spec.md §6).
type Config struct {
	Host             string              `yaml:"host"`
	Port             int                 `yaml:"port"`
	SecretsPath      string              `yaml:"secrets_path"`
	Provider         ProviderConfig      `yaml:"provider"`
	SkepticProvider  *ProviderConfig     `yaml:"skeptic_provider,omitempty"`
	Embedding        ProviderConfig      `yaml:"embedding"`
	EmbedPrefix      string              `yaml:"embed_prefix"`
	SearchPrefix     string              `yaml:"search_prefix"`
	Reranker         ProviderConfig      `yaml:"reranker"`
	Verification     VerificationConfig  `yaml:"verification"`
	Retrieval        RetrievalConfig     `yaml:"retrieval"`
	Observability    ObservabilityConfig `yaml:"otel"`
	Qdrant           QdrantConfig        `yaml:"qdrant"`
	Kafka            KafkaConfig         `yaml:"kafka"`
	AgentProjectRoot string              `yaml:"agent_project_root"`
	AgentBackendURL  string              `yaml:"agent_backend_base_url"`
}

func floatPtr(f float64) *float64 { return &f }

func applyDefaults(c *Config) {
	if c.Verification.MaxAttempts <= 0 {
		c.Verification.MaxAttempts = 3
	}
	if c.Verification.MaxAttempts > 5 {
		c.Verification.MaxAttempts = 5
	}
	if c.Verification.OptimistTemperature == nil {
		c.Verification.OptimistTemperature = floatPtr(0.6)
	}
	if c.Verification.SkepticTemperature == nil {
		c.Verification.SkepticTemperature = floatPtr(0.6)
	}
	if c.Verification.RefinerTemperature == nil {
		c.Verification.RefinerTemperature = floatPtr(0.6)
	}
	if c.Verification.OptimistStrictness == "" {
		c.Verification.OptimistStrictness = "strict"
	}
	if c.Verification.MaxEvidenceLength <= 0 {
		c.Verification.MaxEvidenceLength = 2000
	}
	if c.Retrieval.RerankInitialK <= 0 {
		c.Retrieval.RerankInitialK = 20
	}
	if c.Retrieval.RerankFinalK <= 0 {
		c.Retrieval.RerankFinalK = 5
	}
	if c.Retrieval.RerankScoreThreshold == 0 {
		c.Retrieval.RerankScoreThreshold = 0.3
	}
	if c.Retrieval.DistanceThreshold == 0 {
		c.Retrieval.DistanceThreshold = 0.8
	}
	if c.Retrieval.RelevanceGateThreshold == 0 {
		c.Retrieval.RelevanceGateThreshold = 0.5
	}
	if c.Retrieval.HistoryAnswerMaxChars <= 0 {
		c.Retrieval.HistoryAnswerMaxChars = 300
	}
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = "aleutianrag"
	}
	if c.Qdrant.Metric == "" {
		c.Qdrant.Metric = "cosine"
	}
	if c.Qdrant.DocumentCollection == "" {
		c.Qdrant.DocumentCollection = "Document"
	}
	if c.Qdrant.LogCollection == "" {
		c.Qdrant.LogCollection = "VerificationLog"
	}
}

// Clamp enforces the numeric boundary clamps spec.md §9 calls for
// ("clamp numeric parameters at the boundary").
func (c *Config) Clamp() {
	clampTemp := func(t *float64) {
		if t == nil {
			return
		}
		if *t < 0 {
			*t = 0
		}
		if *t > 2 {
			*t = 2
		}
	}
	clampTemp(c.Verification.OptimistTemperature)
	clampTemp(c.Verification.SkepticTemperature)
	clampTemp(c.Verification.RefinerTemperature)
	if c.Verification.MaxAttempts < 1 {
		c.Verification.MaxAttempts = 1
	}
	if c.Verification.MaxAttempts > 5 {
		c.Verification.MaxAttempts = 5
	}
}

// Load reads filename (YAML), loads a .env file if present (local dev
// convenience, grounded on the teacher's godotenv.Load() call in
// initialize.go), applies defaults, and clamps boundary values.
func Load(filename string) (*Config, error) {
	_ = godotenv.Load() // best-effort; absence is normal in production

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", filename, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: unmarshal %q: %w", filename, err)
	}
	applyDefaults(&c)
	c.Clamp()
	return &c, nil
}

// SecretStore reads secrets from files under a mounted directory, never
// from the environment (spec.md §6), grounded on
// original_source/services/rag_engine/pipelines/base.py's _read_secret.
type SecretStore struct {
	Dir string
}

// Read returns the trimmed contents of Dir/name, or "" if the file is absent.
func (s SecretStore) Read(name string) (string, error) {
	if s.Dir == "" {
		return "", nil
	}
	b, err := os.ReadFile(s.Dir + "/" + name)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("config: read secret %q: %w", name, err)
	}
	return strings.TrimSpace(string(b)), nil
}

// Package ragengine implements the non-verified entry points spec.md §4.1
// names: SimpleEngine (distance-gated, initial_k=3) and RerankingEngine
// (cross-encoder-gated, initial_k=20/final_k=5). Both share one Retriever
// + PromptBuilder + ProviderGateway and differ only in the retrieve.Mode
// they pass through, following original_source/services/rag_engine/pipelines/standard.py
// and reranking.py's run() sequencing (embed -> search -> (rerank) ->
// build_prompt -> call_llm) and internal/rag/service/service.go's
// per-stage histogram timing / functional-options construction style.
package ragengine

import (
	"context"
	"fmt"
	"time"

	"aleutianrag/internal/config"
	"aleutianrag/internal/llmgateway"
	"aleutianrag/internal/promptbuilder"
	"aleutianrag/internal/ragtypes"
	"aleutianrag/internal/retrieve"
)

// Retriever is the subset of retrieve.Retriever this package depends on.
type Retriever interface {
	Run(ctx context.Context, req retrieve.Request) (retrieve.Result, error)
}

// Clock abstracts time.Now for deterministic stage-timing tests.
type Clock interface{ Now() time.Time }

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Logger is the minimal structured logger this package depends on.
type Logger interface {
	Info(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

type noopLogger struct{}

func (noopLogger) Info(string, map[string]any)  {}
func (noopLogger) Error(string, map[string]any) {}

// Metrics is the minimal metrics collector this package depends on.
type Metrics interface {
	ObserveHistogram(name string, value float64, tags map[string]string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveHistogram(string, float64, map[string]string) {}

// Engine runs one of the two non-verified pipelines. Mode selects which:
// retrieve.Simple for SimpleEngine semantics, retrieve.Reranking for
// RerankingEngine semantics.
type Engine struct {
	Retriever   Retriever
	Provider    llmgateway.Provider
	Prompts     *promptbuilder.Builder
	Mode        retrieve.Mode
	ProviderCfg config.ProviderConfig
	Strictness  promptbuilder.Strictness
	Temperature float64

	clock   Clock
	log     Logger
	metric  Metrics
}

// Option configures an Engine during construction.
type Option func(*Engine)

func WithClock(c Clock) Option     { return func(e *Engine) { e.clock = c } }
func WithLogger(l Logger) Option   { return func(e *Engine) { e.log = l } }
func WithMetrics(m Metrics) Option { return func(e *Engine) { e.metric = m } }

// New constructs an Engine for the given mode. Use NewSimple/NewReranking
// for the two named spec entry points; New is exported for callers that
// need to parameterize the mode dynamically (e.g. a shared HTTP handler).
func New(mode retrieve.Mode, retriever Retriever, provider llmgateway.Provider, prompts *promptbuilder.Builder, providerCfg config.ProviderConfig, opts ...Option) *Engine {
	e := &Engine{
		Retriever:   retriever,
		Provider:    provider,
		Prompts:     prompts,
		Mode:        mode,
		ProviderCfg: providerCfg,
		Strictness:  promptbuilder.Strict,
		Temperature: 0.2,
		clock:       SystemClock{},
		log:         noopLogger{},
		metric:      noopMetrics{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSimple constructs a SimpleEngine: initial_k=3 and, in strict mode,
// distance-threshold filtering. The retriever still runs the cross-encoder
// pass and the relevance gate in this mode; they are not skipped.
func NewSimple(retriever Retriever, provider llmgateway.Provider, prompts *promptbuilder.Builder, providerCfg config.ProviderConfig, opts ...Option) *Engine {
	return New(retrieve.Simple, retriever, provider, prompts, providerCfg, opts...)
}

// NewReranking constructs a RerankingEngine: initial_k=20, cross-encoder
// rerank to final_k=5, score-threshold gating.
func NewReranking(retriever Retriever, provider llmgateway.Provider, prompts *promptbuilder.Builder, providerCfg config.ProviderConfig, opts ...Option) *Engine {
	return New(retrieve.Reranking, retriever, provider, prompts, providerCfg, opts...)
}

// Request carries one non-verified pipeline call's inputs.
type Request struct {
	Query           string
	SessionID       string
	RelevantHistory []ragtypes.ConversationTurn
	StrictMode      bool

	// ExpandedQuery, when set, is used for the reranker pass only
	// (spec.md §6's external "expanded_query" field).
	ExpandedQuery string
	// Temperature overrides Engine.Temperature for this call only
	// (spec.md §6's "temperature_overrides").
	Temperature *float64
}

// Response carries the generated answer and the documents it drew from.
type Response struct {
	Answer  string
	Sources []ragtypes.Source
}

// Run executes embed -> search -> (rerank) -> build_prompt -> call_llm,
// per standard.py/reranking.py's run(), with per-stage histogram timing
// matching rag/service/service.go's "ingestion_stage_ms" idiom.
func (e *Engine) Run(ctx context.Context, req Request) (Response, error) {
	t0 := e.clock.Now()
	result, err := e.Retriever.Run(ctx, retrieve.Request{
		Query:           req.Query,
		SessionID:       req.SessionID,
		RelevantHistory: req.RelevantHistory,
		StrictMode:      req.StrictMode,
		Mode:            e.Mode,
		RerankQuery:     req.ExpandedQuery,
	})
	e.stage("retrieval", t0)
	if err != nil {
		return Response{}, fmt.Errorf("ragengine: retrieve: %w", err)
	}
	if result.GatedOut {
		return Response{Answer: result.Message}, nil
	}

	prompt := e.Prompts.Optimist(req.Query, result.EvidenceBlock, e.Strictness, req.RelevantHistory)

	temp := e.Temperature
	if req.Temperature != nil {
		temp = *req.Temperature
	}
	opts := llmgateway.ResolveOptions(llmgateway.GenerateOptions{Temperature: &temp}, e.ProviderCfg)

	t1 := e.clock.Now()
	answer, err := e.Provider.Generate(ctx, prompt, opts)
	e.stage("generate", t1)
	if err != nil {
		return Response{}, fmt.Errorf("ragengine: generate: %w", err)
	}
	if answer == "" {
		e.log.Error("ragengine: empty generation", map[string]any{"mode": e.Mode})
	}

	sources := make([]ragtypes.Source, 0, len(result.Documents))
	for _, d := range result.Documents {
		sources = append(sources, ragtypes.Source{
			Source:   d.Source,
			Distance: d.Metadata.Distance,
			Score:    d.Metadata.RerankScore,
		})
	}

	return Response{Answer: answer, Sources: sources}, nil
}

func (e *Engine) stage(name string, start time.Time) {
	ms := float64(e.clock.Now().Sub(start)) / float64(time.Millisecond)
	e.metric.ObserveHistogram("generation_stage_ms", ms, map[string]string{"stage": name})
}

// Package verify implements the VerifiedEngine state machine from
// SPEC_FULL.md §4.8: draft -> {skeptic audit -> refine}* until verified,
// max-attempts, or stall, emitting progress events along the way.
//
// Grounded on original_source/services/rag_engine/pipelines/verified.py's
// run() for the transition semantics (draft once, then audit/refine loop
// with a stall counter), but NOT on its control-flow shape: the original
// nests a while loop inside a while loop with duplicated audit/refine
// bodies on each branch. This package instead drives a flat loop over an
// explicit state value, dispatching to one handler function per state —
// a transition table, not nested iteration. The functional-options
// construction (Clock/Logger/Metrics seams) and per-stage histogram
// timing are grounded on internal/rag/service/service.go's Service/Option
// pattern and its ObserveHistogram("..._stage_ms", ...) calls.
package verify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"aleutianrag/internal/config"
	"aleutianrag/internal/jsonx"
	"aleutianrag/internal/llmgateway"
	"aleutianrag/internal/promptbuilder"
	"aleutianrag/internal/ragtypes"
	"aleutianrag/internal/retrieve"
)

// Retriever is the subset of retrieve.Retriever this package depends on.
type Retriever interface {
	Run(ctx context.Context, req retrieve.Request) (retrieve.Result, error)
}

// Embedder is the subset of embedclient.Client used to vectorize a debate
// log entry for storage. Optional: a nil Embedder disables log persistence.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DebateLogStore is the subset of docstore.Store this package depends on.
type DebateLogStore interface {
	InsertDebateLog(ctx context.Context, id string, vector []float32, rec ragtypes.DebateLogRecord) error
}

// DebatePublisher is the subset of obs.DebatePublisher this package depends
// on: an async side channel for debate transcripts, independent of the
// Qdrant-backed DebateLogStore above.
type DebatePublisher interface {
	Publish(rec ragtypes.DebateLogRecord)
}

// Clock abstracts time for testability, grounded on rag/service.Clock.
type Clock interface{ Now() time.Time }

// SystemClock implements Clock using time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Logger is a minimal structured logging seam, grounded on rag/service.Logger.
type Logger interface {
	Info(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
	Debug(msg string, fields map[string]any)
}

type noopLogger struct{}

func (noopLogger) Info(string, map[string]any)  {}
func (noopLogger) Error(string, map[string]any) {}
func (noopLogger) Debug(string, map[string]any) {}

// Metrics is a minimal counters/histograms seam, grounded on rag/service.Metrics.
type Metrics interface {
	IncCounter(name string, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
}

type noopMetrics struct{}

func (noopMetrics) IncCounter(string, map[string]string)               {}
func (noopMetrics) ObserveHistogram(string, float64, map[string]string) {}

const (
	minRefinedAnswerChars = 10
	stallPrefixRatio      = 0.95
	stallLengthTolerance  = 0.8
	incompleteSuffix      = "\n\n*(Warning: Verification incomplete)*"
	progressVerbosity     = 2 // detail payloads (retrieval/audit) always attached at this verbosity
)

// Engine owns one VerifiedEngine configuration. All fields shared across
// concurrent Run calls (Retriever, providers, store) must be safe for
// concurrent use per SPEC_FULL.md §5; the VerificationState itself is
// always local to a single Run.
type Engine struct {
	Retriever Retriever
	Optimist  llmgateway.Provider
	Skeptic   llmgateway.Provider // defaults to Optimist when nil
	Prompts   *promptbuilder.Builder

	Embedder  Embedder       // optional; nil disables debate-log persistence
	DebateLog DebateLogStore // optional; nil disables debate-log persistence

	DebatePublisher DebatePublisher // optional; nil disables async debate-transcript publication

	Cfg         config.VerificationConfig
	ProviderCfg config.ProviderConfig
	SkepticCfg  config.ProviderConfig // defaults to ProviderCfg when no skeptic provider is set
	Strictness  promptbuilder.Strictness

	clock  Clock
	log    Logger
	metric Metrics
	idGen  func() string
}

// Option configures an Engine during construction.
type Option func(*Engine)

func WithSkeptic(p llmgateway.Provider, cfg config.ProviderConfig) Option {
	return func(e *Engine) { e.Skeptic = p; e.SkepticCfg = cfg }
}
func WithEmbedder(em Embedder) Option             { return func(e *Engine) { e.Embedder = em } }
func WithDebateLog(s DebateLogStore) Option       { return func(e *Engine) { e.DebateLog = s } }
func WithDebatePublisher(p DebatePublisher) Option { return func(e *Engine) { e.DebatePublisher = p } }
func WithClock(c Clock) Option                     { return func(e *Engine) { e.clock = c } }
func WithLogger(l Logger) Option                   { return func(e *Engine) { e.log = l } }
func WithMetrics(m Metrics) Option                 { return func(e *Engine) { e.metric = m } }
func WithIDGenerator(f func() string) Option       { return func(e *Engine) { e.idGen = f } }
func WithStrictness(s promptbuilder.Strictness) Option {
	return func(e *Engine) { e.Strictness = s }
}

// New constructs an Engine. optimist is required; every other collaborator
// has a safe default or is optional.
func New(retriever Retriever, optimist llmgateway.Provider, prompts *promptbuilder.Builder, cfg config.VerificationConfig, providerCfg config.ProviderConfig, opts ...Option) *Engine {
	e := &Engine{
		Retriever:   retriever,
		Optimist:    optimist,
		Prompts:     prompts,
		Cfg:         cfg,
		ProviderCfg: providerCfg,
		Strictness:  strictnessFromConfig(cfg.OptimistStrictness),
		clock:       SystemClock{},
		log:         noopLogger{},
		metric:      noopMetrics{},
		idGen:       uuid.NewString,
	}
	for _, o := range opts {
		o(e)
	}
	if e.Skeptic == nil {
		e.Skeptic = e.Optimist
		e.SkepticCfg = e.ProviderCfg
	}
	return e
}

// Request carries one verified run's inputs.
type Request struct {
	Query           string
	SessionID       string
	RelevantHistory []ragtypes.ConversationTurn
	StrictMode      bool
	TraceID         string

	// ExpandedQuery, when set, is used in place of Query for the reranker
	// pass only (spec.md §6's external "expanded_query" field) — an
	// alternate phrasing from a query-expansion collaborator upstream.
	ExpandedQuery string
	// TemperatureOverrides lets a single call override Cfg's per-role
	// temperatures (spec.md §6's "temperature_overrides"), keyed by
	// "optimist", "skeptic", "refiner". Unset keys fall back to Cfg.
	TemperatureOverrides map[string]float64
}

func (req Request) temperatureFor(role string, fallback *float64) float64 {
	if t, ok := req.TemperatureOverrides[role]; ok {
		return t
	}
	if fallback != nil {
		return *fallback
	}
	return llmgateway.DefaultTemperature
}

// Response is the terminal outcome of a verified run.
type Response struct {
	Answer       string
	Sources      []ragtypes.Source
	State        string // "verified", "unverified", "gated"
	AttemptCount int
	IsVerified   bool
}

// ProgressFunc observes labeled VerifiedEngine transitions. Errors returned
// by the callback MUST NOT abort the run; Engine logs and swallows them.
type ProgressFunc func(ragtypes.ProgressEvent) error

// Run executes a verified query without a progress callback.
func (e *Engine) Run(ctx context.Context, req Request) (Response, error) {
	return e.run(ctx, req, nil)
}

// RunWithProgress is structurally identical to Run, additionally invoking
// progress at every labeled transition per SPEC_FULL.md §4.8.
func (e *Engine) RunWithProgress(ctx context.Context, req Request, progress ProgressFunc) (Response, error) {
	return e.run(ctx, req, progress)
}

// emit calls progress in isolation: a panic or returned error is logged,
// never propagated, per the "callback errors must not abort the run" rule.
func (e *Engine) emit(progress ProgressFunc, evt ragtypes.ProgressEvent) {
	if progress == nil {
		return
	}
	evt.Timestamp = e.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("verify: progress callback panicked", map[string]any{"recover": r})
		}
	}()
	if err := progress(evt); err != nil {
		e.log.Error("verify: progress callback error", map[string]any{"error": err.Error()})
	}
}

func (e *Engine) stage(name string, start time.Time) {
	e.metric.ObserveHistogram("verification_stage_ms", float64(e.clock.Now().Sub(start).Milliseconds()), map[string]string{"stage": name})
}

// runCtx carries the mutable working state threaded through the
// transition handlers, so each handler stays a small, focused function
// instead of a branch inside one giant loop body.
type runCtx struct {
	req          Request
	documents    []ragtypes.Document
	evidence     string
	state        ragtypes.VerificationState
	stalls       int
	progress     ProgressFunc
	initialDraft string
}

type smState string

const (
	stDrafting smState = "drafting"
	stAuditing smState = "auditing"
	stRefining smState = "refining"
	stVerified smState = "verified"
	stExhausted smState = "exhausted"
	stStalled  smState = "stalled"
)

func (e *Engine) run(ctx context.Context, req Request, progress ProgressFunc) (Response, error) {
	e.emit(progress, ragtypes.ProgressEvent{EventType: ragtypes.EventRetrievalStart, Message: "retrieving evidence", TraceID: req.TraceID})

	retStart := e.clock.Now()
	result, err := e.Retriever.Run(ctx, retrieve.Request{
		Query:           req.Query,
		SessionID:       req.SessionID,
		RelevantHistory: req.RelevantHistory,
		StrictMode:      req.StrictMode,
		Mode:            retrieve.Reranking,
		RerankQuery:     req.ExpandedQuery,
	})
	e.stage("retrieval", retStart)
	if err != nil {
		e.emit(progress, ragtypes.ProgressEvent{EventType: ragtypes.EventError, ErrorMessage: err.Error(), TraceID: req.TraceID})
		return Response{}, fmt.Errorf("verify: retrieval: %w", err)
	}

	e.emit(progress, ragtypes.ProgressEvent{
		EventType: ragtypes.EventRetrievalComplete,
		Message:   "retrieval complete",
		TraceID:   req.TraceID,
		RetrievalDetails: &ragtypes.RetrievalDetails{
			DocumentCount:   len(result.Documents),
			Sources:         sourceNames(result.Documents),
			HasRelevantDocs: result.HasRelevantDocs,
		},
	})

	if result.GatedOut {
		return Response{Answer: result.Message, State: "gated"}, nil
	}

	rc := &runCtx{req: req, documents: result.Documents, evidence: result.EvidenceBlock, progress: progress}

	maxAttempts := e.Cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if maxAttempts > 5 {
		maxAttempts = 5
	}

	state := stDrafting
	for {
		var next smState
		switch state {
		case stDrafting:
			next, err = e.handleDrafting(ctx, rc)
		case stAuditing:
			next, err = e.handleAuditing(ctx, rc, maxAttempts)
		case stRefining:
			next, err = e.handleRefining(ctx, rc)
		default:
			next = state // unreachable: loop exits before reaching a terminal state here
		}
		if err != nil {
			e.emit(progress, ragtypes.ProgressEvent{EventType: ragtypes.EventError, ErrorMessage: err.Error(), Attempt: rc.state.AttemptCount, TraceID: req.TraceID})
			return Response{}, err
		}
		state = next
		if state == stVerified || state == stExhausted || state == stStalled {
			break
		}
	}

	return e.finish(ctx, rc, state), nil
}

func (e *Engine) handleDrafting(ctx context.Context, rc *runCtx) (smState, error) {
	e.emit(rc.progress, ragtypes.ProgressEvent{EventType: ragtypes.EventDraftStart, Message: "generating draft", Attempt: 1, TraceID: rc.req.TraceID})
	start := e.clock.Now()

	prompt := e.Prompts.Optimist(rc.req.Query, rc.evidence, e.Strictness, rc.req.RelevantHistory)
	temp := rc.req.temperatureFor("optimist", e.Cfg.OptimistTemperature)
	opts := llmgateway.ResolveOptions(llmgateway.GenerateOptions{Temperature: floatPtr(temp)}, e.ProviderCfg)
	draft, err := e.Optimist.Generate(ctx, prompt, opts)
	e.stage("draft", start)
	if err != nil {
		return "", fmt.Errorf("draft generation: %w", err)
	}
	if draft == "" {
		e.log.Error("verify: empty draft from provider", nil)
	}
	rc.state.CurrentAnswer = draft
	rc.initialDraft = draft

	e.emit(rc.progress, ragtypes.ProgressEvent{EventType: ragtypes.EventDraftComplete, Message: "draft complete", Attempt: 1, TraceID: rc.req.TraceID})
	return stAuditing, nil
}

func (e *Engine) handleAuditing(ctx context.Context, rc *runCtx, maxAttempts int) (smState, error) {
	attempt := rc.state.AttemptCount + 1
	e.emit(rc.progress, ragtypes.ProgressEvent{EventType: ragtypes.EventSkepticAuditStart, Message: "auditing answer", Attempt: attempt, TraceID: rc.req.TraceID})
	start := e.clock.Now()

	prompt := e.Prompts.Skeptic(rc.req.Query, rc.state.CurrentAnswer, rc.evidence)
	temp := rc.req.temperatureFor("skeptic", e.Cfg.SkepticTemperature)
	opts := llmgateway.ResolveOptions(llmgateway.GenerateOptions{Temperature: floatPtr(temp)}, e.SkepticCfg)
	raw, err := e.Skeptic.Generate(ctx, prompt, opts)
	e.stage("skeptic_audit", start)
	if err != nil {
		return "", fmt.Errorf("skeptic audit: %w", err)
	}

	audit := parseAudit(raw)
	rc.state.AddAudit(audit)

	e.emit(rc.progress, ragtypes.ProgressEvent{
		EventType: ragtypes.EventSkepticAuditComplete,
		Message:   "audit complete",
		Attempt:   attempt,
		TraceID:   rc.req.TraceID,
		AuditDetails: &ragtypes.AuditDetails{
			SkepticAudit: audit,
			SourcesCited: citedSources(rc.state.CurrentAnswer),
		},
	})

	if audit.IsVerified {
		rc.state.MarkVerified()
		return stVerified, nil
	}
	if rc.state.AttemptCount < maxAttempts {
		return stRefining, nil
	}
	return stExhausted, nil
}

func (e *Engine) handleRefining(ctx context.Context, rc *runCtx) (smState, error) {
	attempt := rc.state.AttemptCount
	e.emit(rc.progress, ragtypes.ProgressEvent{EventType: ragtypes.EventRefinementStart, Message: "refining answer", Attempt: attempt, TraceID: rc.req.TraceID})
	start := e.clock.Now()

	hallucinations := rc.state.History[len(rc.state.History)-1].Hallucinations
	prompt := e.Prompts.Refiner(rc.req.Query, rc.state.CurrentAnswer, rc.evidence, hallucinations)
	temp := rc.req.temperatureFor("refiner", e.Cfg.RefinerTemperature)
	opts := llmgateway.ResolveOptions(llmgateway.GenerateOptions{Temperature: floatPtr(temp)}, e.ProviderCfg)
	refined, err := e.Optimist.Generate(ctx, prompt, opts)
	e.stage("refine", start)
	if err != nil {
		return "", fmt.Errorf("refinement: %w", err)
	}

	e.emit(rc.progress, ragtypes.ProgressEvent{EventType: ragtypes.EventRefinementComplete, Message: "refinement complete", Attempt: attempt, TraceID: rc.req.TraceID})

	if refined == "" {
		e.log.Info("verify: empty refinement, keeping previous answer", map[string]any{"attempt": attempt})
		return stAuditing, nil
	}
	if len(refined) < minRefinedAnswerChars {
		e.log.Info("verify: refinement below minimum length, keeping previous answer", map[string]any{"attempt": attempt})
		return stAuditing, nil
	}

	if isStalled(rc.state.CurrentAnswer, refined) {
		rc.stalls++
		if rc.stalls >= 2 {
			return stStalled, nil
		}
		e.log.Info("verify: refinement stalled", map[string]any{"attempt": attempt, "consecutive_stalls": rc.stalls})
		return stAuditing, nil
	}

	rc.stalls = 0
	rc.state.CurrentAnswer = refined
	return stAuditing, nil
}

// isStalled implements SPEC_FULL.md §4.8's structural similarity check:
// exact equality, or a prefix-match ratio >= 0.95 when the two lengths are
// within 80% of each other.
func isStalled(prev, next string) bool {
	if prev == next {
		return true
	}
	lp, ln := len(prev), len(next)
	if lp == 0 || ln == 0 {
		return false
	}
	shorter, longer := lp, ln
	if shorter > longer {
		shorter, longer = longer, shorter
	}
	if float64(shorter)/float64(longer) < stallLengthTolerance {
		return false
	}
	common := commonPrefixLen(prev, next)
	shortest := lp
	if ln < shortest {
		shortest = ln
	}
	return float64(common)/float64(shortest) >= stallPrefixRatio
}

func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// parseAudit runs the JSON extractor and coerces any failure or empty
// response to the safe-negative audit SPEC_FULL.md §4.8 requires, so a
// malformed skeptic response fails the verification closed rather than open.
func parseAudit(raw string) ragtypes.SkepticAudit {
	if strings.TrimSpace(raw) == "" {
		return parseErrorAudit()
	}
	res, ok := jsonx.Extract(raw)
	if !ok {
		return parseErrorAudit()
	}
	verified, _ := res.Value["is_verified"].(bool)
	reasoning, _ := res.Value["reasoning"].(string)
	return ragtypes.SkepticAudit{
		IsVerified:      verified,
		Reasoning:       reasoning,
		Hallucinations:  stringSlice(res.Value["hallucinations"]),
		MissingEvidence: stringSlice(res.Value["missing_evidence"]),
	}
}

func parseErrorAudit() ragtypes.SkepticAudit {
	return ragtypes.SkepticAudit{
		IsVerified:      false,
		Reasoning:       "parse error",
		Hallucinations:  []string{"unverifiable"},
		MissingEvidence: []string{"rerun"},
	}
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, x := range raw {
		if s, ok := x.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// citedSources finds "[Source N]" markers in the answer text, for
// AuditDetails.SourcesCited.
func citedSources(answer string) []int {
	var out []int
	for {
		i := strings.Index(answer, "[Source ")
		if i < 0 {
			break
		}
		answer = answer[i+len("[Source "):]
		j := strings.IndexByte(answer, ']')
		if j < 0 {
			break
		}
		var n int
		if _, err := fmt.Sscanf(answer[:j], "%d", &n); err == nil {
			out = append(out, n)
		}
		answer = answer[j+1:]
	}
	return out
}

func sourceNames(docs []ragtypes.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Source
	}
	return out
}

func floatPtr(f float64) *float64 { return &f }

func strictnessFromConfig(s string) promptbuilder.Strictness {
	if strings.EqualFold(s, "balanced") {
		return promptbuilder.Balanced
	}
	return promptbuilder.Strict
}

func (e *Engine) finish(ctx context.Context, rc *runCtx, state smState) Response {
	final := rc.state.CurrentAnswer
	var status string
	switch state {
	case stVerified:
		status = "verified"
	case stExhausted, stStalled:
		final += incompleteSuffix
		status = "unverified"
	}

	sources := make([]ragtypes.Source, len(rc.documents))
	for i, d := range rc.documents {
		sources[i] = ragtypes.Source{Source: d.Source, Distance: d.Metadata.Distance, Score: d.Metadata.RerankScore}
	}

	e.emit(rc.progress, ragtypes.ProgressEvent{
		EventType: ragtypes.EventVerificationComplete,
		Message:   "verification complete: " + status,
		Attempt:   rc.state.AttemptCount,
		TraceID:   rc.req.TraceID,
	})

	e.persistDebateLog(ctx, rc, state)

	return Response{
		Answer:       final,
		Sources:      sources,
		State:        status,
		AttemptCount: rc.state.AttemptCount,
		IsVerified:   rc.state.IsFinalVerified,
	}
}

// persistDebateLog writes a DebateLogRecord to the Qdrant-backed DebateLog
// store when a session and both a store and Embedder are configured, and
// independently publishes the same record to DebatePublisher (if
// configured) for async evaluation-pipeline consumption. Failures are
// logged and swallowed per SPEC_FULL.md §7: "debate log persistence
// failures are logged and swallowed."
func (e *Engine) persistDebateLog(ctx context.Context, rc *runCtx, state smState) {
	if rc.req.SessionID == "" {
		return
	}
	var lastReasoning string
	var hallucinations []string
	if len(rc.state.History) > 0 {
		lastReasoning = rc.state.History[len(rc.state.History)-1].Reasoning
		hallucinations = rc.state.History[len(rc.state.History)-1].Hallucinations
	}
	rec := ragtypes.DebateLogRecord{
		Query:               rc.req.Query,
		DraftAnswer:         rc.initialDraft,
		SkepticCritique:     lastReasoning,
		HallucinationsFound: hallucinations,
		FinalAnswer:         rc.state.CurrentAnswer,
		WasRefined:          rc.state.AttemptCount > 1,
		IsVerified:          rc.state.IsFinalVerified,
		AttemptCount:        rc.state.AttemptCount,
		SessionID:           rc.req.SessionID,
		Timestamp:           e.clock.Now(),
		TraceID:             rc.req.TraceID,
	}

	if e.DebatePublisher != nil {
		e.DebatePublisher.Publish(rec)
	}

	if e.DebateLog == nil || e.Embedder == nil {
		return
	}
	vector, err := e.Embedder.Embed(ctx, rc.req.Query)
	if err != nil {
		e.log.Error("verify: debate log embed failed", map[string]any{"error": err.Error()})
		return
	}
	if err := e.DebateLog.InsertDebateLog(ctx, e.idGen(), vector, rec); err != nil {
		e.log.Error("verify: debate log insert failed", map[string]any{"error": err.Error()})
	}
}

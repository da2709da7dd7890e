package verify

import (
	"context"
	"errors"
	"testing"

	"aleutianrag/internal/config"
	"aleutianrag/internal/llmgateway"
	"aleutianrag/internal/promptbuilder"
	"aleutianrag/internal/ragtypes"
	"aleutianrag/internal/retrieve"
)

type fakeRetriever struct {
	result retrieve.Result
	err    error
}

func (f fakeRetriever) Run(_ context.Context, _ retrieve.Request) (retrieve.Result, error) {
	return f.result, f.err
}

func okRetrieval() retrieve.Result {
	return retrieve.Result{
		Documents:       []ragtypes.Document{{Content: "alpha", Source: "doc-a"}},
		EvidenceBlock:   "[Source 1] (doc-a):\nalpha",
		HasRelevantDocs: true,
	}
}

// fakeProvider returns queued responses in order, one per call.
type fakeProvider struct {
	responses []string
	calls     int
	err       error
}

func (f *fakeProvider) Generate(_ context.Context, _ string, _ llmgateway.GenerateOptions) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.calls >= len(f.responses) {
		return f.responses[len(f.responses)-1], nil
	}
	r := f.responses[f.calls]
	f.calls++
	return r, nil
}

func baseEngine(retr Retriever, optimist llmgateway.Provider, skeptic llmgateway.Provider) *Engine {
	return New(retr, optimist, &promptbuilder.Builder{}, config.VerificationConfig{MaxAttempts: 3}, config.ProviderConfig{}, WithSkeptic(skeptic, config.ProviderConfig{}))
}

func TestRunVerifiedOnFirstAttempt(t *testing.T) {
	optimist := &fakeProvider{responses: []string{"The answer is X [Source 1]."}}
	skeptic := &fakeProvider{responses: []string{`{"is_verified": true, "reasoning": "matches", "hallucinations": [], "missing_evidence": []}`}}
	e := baseEngine(fakeRetriever{result: okRetrieval()}, optimist, skeptic)

	resp, err := e.Run(context.Background(), Request{Query: "what is X?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.State != "verified" || !resp.IsVerified {
		t.Fatalf("expected verified response, got %+v", resp)
	}
	if resp.AttemptCount != 1 {
		t.Fatalf("expected attempt_count=1, got %d", resp.AttemptCount)
	}
	if resp.Answer != "The answer is X [Source 1]." {
		t.Fatalf("expected final answer to equal initial draft, got %q", resp.Answer)
	}
	if optimist.calls != 1 {
		t.Fatalf("expected zero refiner calls (one optimist call total), got %d optimist calls", optimist.calls)
	}
}

func TestRunRefinesOnceThenVerifies(t *testing.T) {
	optimist := &fakeProvider{responses: []string{"draft one", "refined answer that is long enough"}}
	skeptic := &fakeProvider{responses: []string{
		`{"is_verified": false, "reasoning": "bad", "hallucinations": ["x"], "missing_evidence": ["y"]}`,
		`{"is_verified": true, "reasoning": "good", "hallucinations": [], "missing_evidence": []}`,
	}}
	e := baseEngine(fakeRetriever{result: okRetrieval()}, optimist, skeptic)

	resp, err := e.Run(context.Background(), Request{Query: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.State != "verified" {
		t.Fatalf("expected verified, got %+v", resp)
	}
	if resp.AttemptCount != 2 {
		t.Fatalf("expected attempt_count=2, got %d", resp.AttemptCount)
	}
	if resp.Answer != "refined answer that is long enough" {
		t.Fatalf("expected refined answer, got %q", resp.Answer)
	}
	if optimist.calls != 2 {
		t.Fatalf("expected one draft call and one refine call, got %d", optimist.calls)
	}
}

func TestRunExhaustsAtMaxAttempts(t *testing.T) {
	optimist := &fakeProvider{responses: []string{"draft", "refine one", "refine two"}}
	skeptic := &fakeProvider{responses: []string{
		`{"is_verified": false, "reasoning": "bad", "hallucinations": ["a"], "missing_evidence": []}`,
	}}
	e := baseEngine(fakeRetriever{result: okRetrieval()}, optimist, skeptic)
	e.Cfg.MaxAttempts = 2

	resp, err := e.Run(context.Background(), Request{Query: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.State != "unverified" {
		t.Fatalf("expected unverified (exhausted), got %+v", resp)
	}
	if resp.AttemptCount != 2 {
		t.Fatalf("expected attempt_count=2, got %d", resp.AttemptCount)
	}
	if !containsSuffix(resp.Answer) {
		t.Fatalf("expected incomplete-verification suffix, got %q", resp.Answer)
	}
}

func TestRunMaxAttemptsOneNeverCallsRefiner(t *testing.T) {
	optimist := &fakeProvider{responses: []string{"draft"}}
	skeptic := &fakeProvider{responses: []string{
		`{"is_verified": false, "reasoning": "bad", "hallucinations": ["a"], "missing_evidence": []}`,
	}}
	e := baseEngine(fakeRetriever{result: okRetrieval()}, optimist, skeptic)
	e.Cfg.MaxAttempts = 1

	resp, err := e.Run(context.Background(), Request{Query: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.AttemptCount != 1 {
		t.Fatalf("expected attempt_count=1, got %d", resp.AttemptCount)
	}
	if optimist.calls != 1 {
		t.Fatalf("expected refiner never called (only the initial draft), got %d optimist calls", optimist.calls)
	}
	if skeptic.calls != 1 {
		t.Fatalf("expected skeptic called exactly once, got %d", skeptic.calls)
	}
}

func TestRunStallsWhenRefinementRepeats(t *testing.T) {
	optimist := &fakeProvider{responses: []string{
		"this is the original draft answer text",
		"this is the original draft answer tex!", // near-identical: triggers stall #1
		"this is the original draft answer tex?", // near-identical again: triggers stall #2 -> Stalled
	}}
	skeptic := &fakeProvider{responses: []string{
		`{"is_verified": false, "reasoning": "bad", "hallucinations": ["a"], "missing_evidence": []}`,
	}}
	e := baseEngine(fakeRetriever{result: okRetrieval()}, optimist, skeptic)
	e.Cfg.MaxAttempts = 5

	resp, err := e.Run(context.Background(), Request{Query: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.State != "unverified" {
		t.Fatalf("expected unverified (stalled), got %+v", resp)
	}
	if !containsSuffix(resp.Answer) {
		t.Fatalf("expected incomplete-verification suffix, got %q", resp.Answer)
	}
}

func TestRunGatedOutReturnsGateMessage(t *testing.T) {
	e := baseEngine(fakeRetriever{result: retrieve.Result{GatedOut: true, Message: "I don't have enough relevant information to answer that question."}}, &fakeProvider{}, &fakeProvider{})

	resp, err := e.Run(context.Background(), Request{Query: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.State != "gated" {
		t.Fatalf("expected gated state, got %+v", resp)
	}
	if resp.Answer == "" {
		t.Fatalf("expected gate message, got empty answer")
	}
}

func TestRunSkepticParseErrorCoercesToSafeNegativeAudit(t *testing.T) {
	optimist := &fakeProvider{responses: []string{"draft", "refined answer long enough to pass length check"}}
	skeptic := &fakeProvider{responses: []string{"not json at all", `{"is_verified": true, "reasoning": "ok", "hallucinations": [], "missing_evidence": []}`}}
	e := baseEngine(fakeRetriever{result: okRetrieval()}, optimist, skeptic)

	resp, err := e.Run(context.Background(), Request{Query: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.AttemptCount != 2 {
		t.Fatalf("expected parse failure to still count as an attempt, got %d", resp.AttemptCount)
	}
}

type fakeDebatePublisher struct {
	records []ragtypes.DebateLogRecord
}

func (f *fakeDebatePublisher) Publish(rec ragtypes.DebateLogRecord) {
	f.records = append(f.records, rec)
}

// TestRunPublishesDebateLogIndependentOfQdrantPath guards the debate
// publisher's async side channel: it must receive a record whenever a
// session ID is present, even when no DebateLog store or Embedder is
// configured (the Qdrant-backed persistence path is absent here).
func TestRunPublishesDebateLogIndependentOfQdrantPath(t *testing.T) {
	optimist := &fakeProvider{responses: []string{"The answer is X [Source 1]."}}
	skeptic := &fakeProvider{responses: []string{`{"is_verified": true, "reasoning": "matches", "hallucinations": [], "missing_evidence": []}`}}
	pub := &fakeDebatePublisher{}
	e := New(fakeRetriever{result: okRetrieval()}, optimist, &promptbuilder.Builder{}, config.VerificationConfig{MaxAttempts: 3}, config.ProviderConfig{}, WithSkeptic(skeptic, config.ProviderConfig{}), WithDebatePublisher(pub))

	_, err := e.Run(context.Background(), Request{Query: "what is X?", SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pub.records) != 1 {
		t.Fatalf("expected exactly one published debate record, got %d", len(pub.records))
	}
	if pub.records[0].Query != "what is X?" {
		t.Fatalf("expected published record to carry the query, got %+v", pub.records[0])
	}
}

// TestRunSkipsDebatePublishWithoutSessionID mirrors the existing
// DebateLog-persistence scoping: no session ID means no debate record at all.
func TestRunSkipsDebatePublishWithoutSessionID(t *testing.T) {
	optimist := &fakeProvider{responses: []string{"The answer is X [Source 1]."}}
	skeptic := &fakeProvider{responses: []string{`{"is_verified": true, "reasoning": "matches", "hallucinations": [], "missing_evidence": []}`}}
	pub := &fakeDebatePublisher{}
	e := New(fakeRetriever{result: okRetrieval()}, optimist, &promptbuilder.Builder{}, config.VerificationConfig{MaxAttempts: 3}, config.ProviderConfig{}, WithSkeptic(skeptic, config.ProviderConfig{}), WithDebatePublisher(pub))

	_, err := e.Run(context.Background(), Request{Query: "what is X?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pub.records) != 0 {
		t.Fatalf("expected no published debate record without a session id, got %d", len(pub.records))
	}
}

func TestRunRetrievalErrorPropagates(t *testing.T) {
	e := baseEngine(fakeRetriever{err: errors.New("boom")}, &fakeProvider{}, &fakeProvider{})
	_, err := e.Run(context.Background(), Request{Query: "q"})
	if err == nil {
		t.Fatalf("expected retrieval error to propagate")
	}
}

func TestProgressCallbackErrorsDoNotAbortRun(t *testing.T) {
	optimist := &fakeProvider{responses: []string{"the answer"}}
	skeptic := &fakeProvider{responses: []string{`{"is_verified": true, "reasoning": "ok", "hallucinations": [], "missing_evidence": []}`}}
	e := baseEngine(fakeRetriever{result: okRetrieval()}, optimist, skeptic)

	var events int
	resp, err := e.RunWithProgress(context.Background(), Request{Query: "q"}, func(ragtypes.ProgressEvent) error {
		events++
		return errors.New("callback is broken")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.State != "verified" {
		t.Fatalf("expected the run to complete despite callback errors, got %+v", resp)
	}
	if events == 0 {
		t.Fatalf("expected progress events to be emitted")
	}
}

func TestIsStalledExactEquality(t *testing.T) {
	if !isStalled("same text", "same text") {
		t.Fatalf("expected exact equality to be stalled")
	}
}

func TestIsStalledPrefixRatio(t *testing.T) {
	if !isStalled("the quick brown fox jumps", "the quick brown fox jump.") {
		t.Fatalf("expected near-identical strings within length tolerance to be stalled")
	}
	if isStalled("short", "a completely different and much longer answer entirely") {
		t.Fatalf("expected very different lengths to not be flagged as stalled")
	}
}

func containsSuffix(answer string) bool {
	return len(answer) >= len(incompleteSuffix) && answer[len(answer)-len(incompleteSuffix):] == incompleteSuffix
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"aleutianrag/internal/ragengine"
	"aleutianrag/internal/ragtypes"
	"aleutianrag/internal/retrieve"
	"aleutianrag/internal/verify"
)

type fakeNonVerified struct {
	resp    ragengine.Response
	err     error
	lastReq ragengine.Request
}

func (f *fakeNonVerified) Run(ctx context.Context, req ragengine.Request) (ragengine.Response, error) {
	f.lastReq = req
	if f.err != nil {
		return ragengine.Response{}, f.err
	}
	return f.resp, nil
}

type fakeVerified struct {
	resp    verify.Response
	err     error
	lastReq verify.Request
}

func (f *fakeVerified) Run(ctx context.Context, req verify.Request) (verify.Response, error) {
	f.lastReq = req
	if f.err != nil {
		return verify.Response{}, f.err
	}
	return f.resp, nil
}

type fakeRetriever struct {
	result  retrieve.Result
	err     error
	lastReq retrieve.Request
}

func (f *fakeRetriever) Run(ctx context.Context, req retrieve.Request) (retrieve.Result, error) {
	f.lastReq = req
	if f.err != nil {
		return retrieve.Result{}, f.err
	}
	return f.result, nil
}

type fakeAgent struct {
	resp ragtypes.AgentStepResponse
	err  error
}

func (f *fakeAgent) Run(ctx context.Context, req ragtypes.AgentStepRequest) (ragtypes.AgentStepResponse, error) {
	if f.err != nil {
		return ragtypes.AgentStepResponse{}, f.err
	}
	return f.resp, nil
}

func TestHandleRAGStandardDispatchesToStandardEngine(t *testing.T) {
	standard := &fakeNonVerified{resp: ragengine.Response{Answer: "the answer", Sources: []ragtypes.Source{{Source: "doc1"}}}}
	srv := NewServer(standard, nil, nil, nil, nil)

	body, err := json.Marshal(map[string]any{"query": "what is it"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/rag/standard", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "the answer", out["answer"])
	require.Equal(t, "what is it", standard.lastReq.Query)
}

func TestHandleRAGRerankingDispatchesToRerankingEngine(t *testing.T) {
	reranking := &fakeNonVerified{resp: ragengine.Response{Answer: "reranked answer"}}
	srv := NewServer(nil, reranking, nil, nil, nil)

	body, _ := json.Marshal(map[string]any{"query": "q", "expanded_query": "expanded q"})
	req := httptest.NewRequest(http.MethodPost, "/rag/reranking", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "expanded q", reranking.lastReq.ExpandedQuery)
}

func TestHandleRAGVerifiedDispatchesToVerifiedEngine(t *testing.T) {
	verified := &fakeVerified{resp: verify.Response{Answer: "verified answer", State: "verified", AttemptCount: 2, IsVerified: true}}
	srv := NewServer(nil, nil, verified, nil, nil)

	body, _ := json.Marshal(map[string]any{
		"query":                 "q",
		"temperature_overrides": map[string]float64{"optimist": 0.1},
	})
	req := httptest.NewRequest(http.MethodPost, "/rag/verified", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "verified answer", out["answer"])
	require.Equal(t, "verified", out["state"])
	require.Equal(t, float64(2), out["attempt_count"])
	require.Equal(t, true, out["is_verified"])
	require.InDelta(t, 0.1, verified.lastReq.TemperatureOverrides["optimist"], 0.0001)
}

func TestHandleRAGUnknownPipelineReturns404(t *testing.T) {
	srv := NewServer(&fakeNonVerified{}, &fakeNonVerified{}, &fakeVerified{}, nil, nil)

	body, _ := json.Marshal(map[string]any{"query": "q"})
	req := httptest.NewRequest(http.MethodPost, "/rag/bogus", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleRAGUnconfiguredEngineReturns501(t *testing.T) {
	srv := NewServer(nil, nil, nil, nil, nil)

	body, _ := json.Marshal(map[string]any{"query": "q"})
	req := httptest.NewRequest(http.MethodPost, "/rag/standard", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestHandleRAGEngineErrorReturns502(t *testing.T) {
	standard := &fakeNonVerified{err: errors.New("boom")}
	srv := NewServer(standard, nil, nil, nil, nil)

	body, _ := json.Marshal(map[string]any{"query": "q"})
	req := httptest.NewRequest(http.MethodPost, "/rag/standard", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleRetrieveReturnsChunksWithoutGeneration(t *testing.T) {
	score := 0.92
	retriever := &fakeRetriever{result: retrieve.Result{
		Documents: []ragtypes.Document{
			{Content: "chunk body", Source: "doc1", Metadata: ragtypes.DocumentMetadata{RerankScore: &score}},
		},
		EvidenceBlock:   "[Source 1] (doc1):\nchunk body",
		HasRelevantDocs: true,
	}}
	srv := NewServer(nil, nil, nil, retriever, nil)

	body, _ := json.Marshal(map[string]any{"query": "q"})
	req := httptest.NewRequest(http.MethodPost, "/rag/retrieve/reranking", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, retrieve.Reranking, retriever.lastReq.Mode)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, true, out["has_relevant_docs"])
	require.Contains(t, out["context_text"], "chunk body")
}

func TestHandleRetrieveStandardPipelineUsesSimpleMode(t *testing.T) {
	retriever := &fakeRetriever{result: retrieve.Result{HasRelevantDocs: false}}
	srv := NewServer(nil, nil, nil, retriever, nil)

	body, _ := json.Marshal(map[string]any{"query": "q"})
	req := httptest.NewRequest(http.MethodPost, "/rag/retrieve/standard", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, retrieve.Simple, retriever.lastReq.Mode)
}

func TestHandleAgentStepDelegatesToStep(t *testing.T) {
	agent := &fakeAgent{resp: ragtypes.AgentStepResponse{Type: "answer", Content: "done"}}
	srv := NewServer(nil, nil, nil, nil, agent)

	body, _ := json.Marshal(ragtypes.AgentStepRequest{Query: "trace this"})
	req := httptest.NewRequest(http.MethodPost, "/agent/step", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out ragtypes.AgentStepResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "answer", out.Type)
	require.Equal(t, "done", out.Content)
}

func TestHandleHealthReturnsOK(t *testing.T) {
	srv := NewServer(nil, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

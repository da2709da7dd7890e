package httpapi

import (
	"encoding/json"
	"net/http"

	"aleutianrag/internal/ragengine"
	"aleutianrag/internal/ragtypes"
	"aleutianrag/internal/retrieve"
	"aleutianrag/internal/verify"
)

// ragRequest is the wire shape spec.md §6 names for POST /rag/{pipeline}
// and POST /rag/retrieve/{pipeline}.
type ragRequest struct {
	Query                string                      `json:"query"`
	SessionID            string                      `json:"session_id,omitempty"`
	StrictMode           *bool                       `json:"strict_mode,omitempty"`
	TemperatureOverrides map[string]float64          `json:"temperature_overrides,omitempty"`
	RelevantHistory      []ragtypes.ConversationTurn `json:"relevant_history,omitempty"`
	ExpandedQuery        string                      `json:"expanded_query,omitempty"`
}

func (r ragRequest) strictMode() bool {
	if r.StrictMode == nil {
		return true
	}
	return *r.StrictMode
}

type sourceDTO struct {
	Source   string   `json:"source"`
	Distance *float64 `json:"distance,omitempty"`
	Score    *float64 `json:"score,omitempty"`
}

func sourceDTOs(sources []ragtypes.Source) []sourceDTO {
	out := make([]sourceDTO, len(sources))
	for i, s := range sources {
		out[i] = sourceDTO{Source: s.Source, Distance: s.Distance, Score: s.Score}
	}
	return out
}

// handleRAG serves POST /rag/{pipeline} for pipeline in {standard,
// reranking, verified}, per spec.md §6.
func (s *Server) handleRAG(w http.ResponseWriter, r *http.Request) {
	pipeline := r.PathValue("pipeline")
	var req ragRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	switch pipeline {
	case "standard":
		s.runNonVerified(w, r, s.Standard, req)
	case "reranking":
		s.runNonVerified(w, r, s.Reranking, req)
	case "verified":
		s.runVerified(w, r, req)
	default:
		respondError(w, http.StatusNotFound, errUnknownPipeline(pipeline))
	}
}

func (s *Server) runNonVerified(w http.ResponseWriter, r *http.Request, engine NonVerifiedEngine, req ragRequest) {
	if engine == nil {
		respondError(w, http.StatusNotImplemented, errUnconfiguredEngine)
		return
	}
	var temp *float64
	if t, ok := req.TemperatureOverrides["default"]; ok {
		temp = &t
	}
	resp, err := engine.Run(r.Context(), ragengine.Request{
		Query:           req.Query,
		SessionID:       req.SessionID,
		RelevantHistory: req.RelevantHistory,
		StrictMode:      req.strictMode(),
		ExpandedQuery:   req.ExpandedQuery,
		Temperature:     temp,
	})
	if err != nil {
		respondError(w, http.StatusBadGateway, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"answer":  resp.Answer,
		"sources": sourceDTOs(resp.Sources),
	})
}

func (s *Server) runVerified(w http.ResponseWriter, r *http.Request, req ragRequest) {
	if s.Verified == nil {
		respondError(w, http.StatusNotImplemented, errUnconfiguredEngine)
		return
	}
	resp, err := s.Verified.Run(r.Context(), verify.Request{
		Query:                req.Query,
		SessionID:            req.SessionID,
		RelevantHistory:      req.RelevantHistory,
		StrictMode:           req.strictMode(),
		ExpandedQuery:        req.ExpandedQuery,
		TemperatureOverrides: req.TemperatureOverrides,
	})
	if err != nil {
		respondError(w, http.StatusBadGateway, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"answer":        resp.Answer,
		"sources":       sourceDTOs(resp.Sources),
		"state":         resp.State,
		"attempt_count": resp.AttemptCount,
		"is_verified":   resp.IsVerified,
	})
}

// handleRetrieve serves POST /rag/retrieve/{pipeline}: retrieval only, no
// generation, per spec.md §6.
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	pipeline := r.PathValue("pipeline")
	var req ragRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if s.Retriever == nil {
		respondError(w, http.StatusNotImplemented, errUnconfiguredEngine)
		return
	}

	mode := retrieve.Reranking
	switch pipeline {
	case "standard":
		mode = retrieve.Simple
	case "reranking", "verified":
		mode = retrieve.Reranking
	default:
		respondError(w, http.StatusNotFound, errUnknownPipeline(pipeline))
		return
	}

	result, err := s.Retriever.Run(r.Context(), retrieve.Request{
		Query:           req.Query,
		SessionID:       req.SessionID,
		RelevantHistory: req.RelevantHistory,
		StrictMode:      req.strictMode(),
		Mode:            mode,
		RerankQuery:     req.ExpandedQuery,
	})
	if err != nil {
		respondError(w, http.StatusBadGateway, err)
		return
	}

	chunks := make([]map[string]any, len(result.Documents))
	for i, d := range result.Documents {
		chunk := map[string]any{"content": d.Content, "source": d.Source}
		if d.Metadata.RerankScore != nil {
			chunk["rerank_score"] = *d.Metadata.RerankScore
		}
		chunks[i] = chunk
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"chunks":            chunks,
		"context_text":      result.EvidenceBlock,
		"has_relevant_docs": result.HasRelevantDocs,
	})
}

// handleAgentStep serves POST /agent/step.
func (s *Server) handleAgentStep(w http.ResponseWriter, r *http.Request) {
	if s.Agent == nil {
		respondError(w, http.StatusNotImplemented, errUnconfiguredEngine)
		return
	}
	var req ragtypes.AgentStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.Agent.Run(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusBadGateway, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleHealth serves GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

var errUnconfiguredEngine = agentstepUnconfiguredErr{}

type agentstepUnconfiguredErr struct{}

func (agentstepUnconfiguredErr) Error() string { return "pipeline not configured on this server" }

func errUnknownPipeline(name string) error { return unknownPipelineErr(name) }

type unknownPipelineErr string

func (e unknownPipelineErr) Error() string { return "unknown pipeline: " + string(e) }

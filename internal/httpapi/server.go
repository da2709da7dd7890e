// Package httpapi exposes the thin external HTTP surface spec.md §6
// names: POST /rag/{pipeline}, POST /rag/retrieve/{pipeline}, POST
// /agent/step, GET /health. Deliberately minimal per spec.md's framing of
// the outer HTTP surface as out of scope for the core engines themselves —
// this package only marshals requests into the engine/retriever/agentstep
// calls and marshals their responses back, using the stdlib
// net/http.ServeMux pattern-routing the teacher's own httpapi package
// already uses (method+path patterns registered directly on the mux, no
// router library).
package httpapi

import (
	"context"
	"net/http"

	"aleutianrag/internal/ragengine"
	"aleutianrag/internal/ragtypes"
	"aleutianrag/internal/retrieve"
	"aleutianrag/internal/verify"
)

// VerifiedEngine is the subset of verify.Engine this package depends on.
type VerifiedEngine interface {
	Run(ctx context.Context, req verify.Request) (verify.Response, error)
}

// NonVerifiedEngine is the subset of ragengine.Engine this package
// depends on, satisfied by both the standard and reranking engines.
type NonVerifiedEngine interface {
	Run(ctx context.Context, req ragengine.Request) (ragengine.Response, error)
}

// Retriever is the subset of retrieve.Retriever the retrieve-only
// endpoint depends on.
type Retriever interface {
	Run(ctx context.Context, req retrieve.Request) (retrieve.Result, error)
}

// AgentStep is the subset of agentstep.Step this package depends on.
type AgentStep interface {
	Run(ctx context.Context, req ragtypes.AgentStepRequest) (ragtypes.AgentStepResponse, error)
}

// Server exposes the RAG core's HTTP surface.
type Server struct {
	Standard  NonVerifiedEngine
	Reranking NonVerifiedEngine
	Verified  VerifiedEngine
	Retriever Retriever
	Agent     AgentStep

	mux *http.ServeMux
}

// NewServer wires the core engines to their routes.
func NewServer(standard, reranking NonVerifiedEngine, verified VerifiedEngine, retriever Retriever, agent AgentStep) *Server {
	s := &Server{
		Standard:  standard,
		Reranking: reranking,
		Verified:  verified,
		Retriever: retriever,
		Agent:     agent,
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /rag/{pipeline}", s.handleRAG)
	s.mux.HandleFunc("POST /rag/retrieve/{pipeline}", s.handleRetrieve)
	s.mux.HandleFunc("POST /agent/step", s.handleAgentStep)
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// Package retrieve implements the Retriever from spec.md §4.4: it
// orchestrates EmbeddingClient -> DocumentStore -> history injection ->
// Reranker -> relevance gate into a single ranked, annotated document set
// plus a formatted evidence block. Grounded on internal/rag/service's
// functional-seam construction style (struct of collaborator interfaces)
// and on internal/agent/warpp.go's errgroup offload pattern, used here to
// run the (potentially CPU-bound) rerank call on its own goroutine so it
// never blocks the cooperative scheduling the package's caller runs under.
package retrieve

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"aleutianrag/internal/config"
	"aleutianrag/internal/ragtypes"
)

// Mode selects the initial_k default per spec.md §4.4 step 2.
type Mode int

const (
	Simple Mode = iota
	Reranking
)

// Embedder is the subset of embedclient.Client this package depends on.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DocumentStore is the subset of docstore.Store this package depends on.
type DocumentStore interface {
	SearchNearVector(ctx context.Context, vector []float32, k int, sessionID string) ([]ragtypes.Document, error)
	FetchByParentSources(ctx context.Context, parentSources []string, limit int) ([]ragtypes.Document, error)
}

// Reranker is the subset of rerank.Client/rerank.Noop this package depends on.
type Reranker interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// Retriever wires the collaborators together. All fields must be safe for
// concurrent use across overlapping calls to Run, per spec.md §5.
type Retriever struct {
	Embedder          Embedder
	Store             DocumentStore
	Reranker          Reranker
	Cfg               config.RetrievalConfig
	MaxEvidenceLength int
}

// Request carries one retrieval call's inputs, per spec.md §4.4.
type Request struct {
	Query           string
	SessionID       string
	RelevantHistory []ragtypes.ConversationTurn
	StrictMode      bool
	Mode            Mode
	RerankQuery     string // alternate rerank query from an expansion collaborator; empty uses Query
}

// Result carries the ranked documents, the formatted evidence block, and
// the gate/strict-mode disposition.
type Result struct {
	Documents       []ragtypes.Document
	EvidenceBlock   string
	HasRelevantDocs bool
	GatedOut        bool
	Message         string // set when GatedOut, or when strict-mode filtering empties the set
}

const noRelevantDocsMessage = "I don't have enough relevant information to answer that question."
const lowRelevanceMessage = "I don't have enough relevant information in the retrieved documents to answer that confidently."

// Run executes the full spec.md §4.4 algorithm.
func (r *Retriever) Run(ctx context.Context, req Request) (Result, error) {
	vector, err := r.Embedder.Embed(ctx, req.Query)
	if err != nil {
		return Result{}, fmt.Errorf("embed query: %w", err)
	}

	initialK := r.Cfg.RerankInitialK
	if req.Mode == Simple {
		initialK = 3
	}
	if initialK <= 0 {
		initialK = 20
	}

	candidates, err := r.Store.SearchNearVector(ctx, vector, initialK, req.SessionID)
	if err != nil {
		return Result{}, fmt.Errorf("search near vector: %w", err)
	}

	expanded := candidates
	if parentSources := distinctParentSources(candidates); len(parentSources) > 0 {
		fetched, err := r.Store.FetchByParentSources(ctx, parentSources, 100)
		if err != nil {
			return Result{}, fmt.Errorf("fetch by parent sources: %w", err)
		}
		expanded = fetched
	}

	historyPresent := len(req.RelevantHistory) > 0
	if historyPresent {
		maxChars := r.Cfg.HistoryAnswerMaxChars
		if maxChars <= 0 {
			maxChars = 300
		}
		for _, turn := range req.RelevantHistory {
			expanded = append(expanded, turn.ToDocument(maxChars))
		}
	}

	if len(expanded) == 0 {
		if historyPresent {
			return Result{Documents: nil, HasRelevantDocs: false}, nil
		}
		if req.StrictMode {
			return Result{GatedOut: true, Message: noRelevantDocsMessage}, nil
		}
		// Non-strict mode proceeds to generation with zero context
		// documents, per standard.py's run(): the strict-mode filter is
		// the only thing allowed to short-circuit before the LLM call.
		return Result{Documents: nil, HasRelevantDocs: false}, nil
	}

	rerankQuery := req.RerankQuery
	if rerankQuery == "" {
		rerankQuery = req.Query
	}

	finalK := r.Cfg.RerankFinalK
	if finalK <= 0 {
		finalK = 5
	}

	ranked, err := r.rerank(ctx, rerankQuery, expanded, finalK)
	if err != nil {
		return Result{}, fmt.Errorf("rerank: %w", err)
	}

	if gated, result := r.applyRelevanceGate(ranked, historyPresent); gated {
		return result, nil
	}

	filtered := r.applyStrictModeFilter(ranked, req)
	if req.StrictMode && len(filtered) == 0 {
		return Result{GatedOut: true, Message: noRelevantDocsMessage}, nil
	}

	maxEvidence := r.MaxEvidenceLength
	if maxEvidence <= 0 {
		maxEvidence = 2000
	}
	return Result{
		Documents:       filtered,
		EvidenceBlock:   buildEvidenceBlock(filtered, maxEvidence),
		HasRelevantDocs: len(filtered) > 0,
	}, nil
}

// rerank scores and sorts candidates on a dedicated goroutine via errgroup,
// so a slow cross-encoder call never blocks the caller's cooperative
// scheduling loop (spec.md §5). On scoring failure, or when scores.Score
// returns an arity mismatch, degrade to the first finalK in input order.
func (r *Retriever) rerank(ctx context.Context, query string, docs []ragtypes.Document, finalK int) ([]ragtypes.Document, error) {
	passages := make([]string, len(docs))
	for i, d := range docs {
		passages[i] = d.Content
	}

	var scores []float64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := r.Reranker.Score(gctx, query, passages)
		if err != nil {
			return err
		}
		if len(s) != len(docs) {
			return fmt.Errorf("rerank score arity mismatch: got %d, want %d", len(s), len(docs))
		}
		scores = s
		return nil
	})
	if err := g.Wait(); err != nil {
		return firstN(docs, finalK), nil
	}

	ranked := make([]ragtypes.Document, len(docs))
	copy(ranked, docs)
	for i := range ranked {
		score := scores[i]
		ranked[i].Metadata.RerankScore = &score
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return *ranked[i].Metadata.RerankScore > *ranked[j].Metadata.RerankScore
	})
	return firstN(ranked, finalK), nil
}

func firstN(docs []ragtypes.Document, n int) []ragtypes.Document {
	if n <= 0 || n >= len(docs) {
		return docs
	}
	return docs[:n]
}

// applyRelevanceGate implements spec.md §4.4 step 6. It does not gate when no
// document carries a rerank score (rerank degraded to input order).
func (r *Retriever) applyRelevanceGate(ranked []ragtypes.Document, historyPresent bool) (bool, Result) {
	if !r.Cfg.RelevanceGateEnabled {
		return false, Result{}
	}
	threshold := r.Cfg.RelevanceGateThreshold
	if threshold <= 0 {
		threshold = 0.5
	}
	best := 0.0
	scored := false
	for _, d := range ranked {
		if d.Metadata.RerankScore != nil {
			scored = true
			if *d.Metadata.RerankScore > best {
				best = *d.Metadata.RerankScore
			}
		}
	}
	if !scored || best >= threshold {
		return false, Result{}
	}
	if historyPresent {
		historyOnly := historyDocsOnly(ranked)
		if len(historyOnly) > 0 {
			return true, Result{Documents: historyOnly, HasRelevantDocs: true}
		}
	}
	return true, Result{GatedOut: true, Message: lowRelevanceMessage}
}

func historyDocsOnly(docs []ragtypes.Document) []ragtypes.Document {
	out := make([]ragtypes.Document, 0, len(docs))
	for _, d := range docs {
		if d.Metadata.IsHistory {
			out = append(out, d)
		}
	}
	return out
}

// applyStrictModeFilter implements spec.md §4.4 step 7.
func (r *Retriever) applyStrictModeFilter(ranked []ragtypes.Document, req Request) []ragtypes.Document {
	if !req.StrictMode {
		return ranked
	}
	scoreThreshold := r.Cfg.RerankScoreThreshold
	if scoreThreshold <= 0 {
		scoreThreshold = 0.3
	}
	distanceThreshold := r.Cfg.DistanceThreshold
	if distanceThreshold <= 0 {
		distanceThreshold = 0.8
	}
	out := make([]ragtypes.Document, 0, len(ranked))
	for _, d := range ranked {
		if req.Mode == Simple {
			if d.Metadata.Distance != nil && *d.Metadata.Distance < distanceThreshold {
				out = append(out, d)
			}
			continue
		}
		if d.Metadata.RerankScore != nil && *d.Metadata.RerankScore >= scoreThreshold {
			out = append(out, d)
		}
	}
	return out
}

func distinctParentSources(docs []ragtypes.Document) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, d := range docs {
		if d.ParentSource == "" {
			continue
		}
		if _, ok := seen[d.ParentSource]; ok {
			continue
		}
		seen[d.ParentSource] = struct{}{}
		out = append(out, d.ParentSource)
	}
	return out
}

// buildEvidenceBlock formats "[Source i] ({source}):\n{content}" entries,
// each content truncated at maxChars with an explicit "… [truncated]"
// marker, per spec.md §4.4.
func buildEvidenceBlock(docs []ragtypes.Document, maxChars int) string {
	var b strings.Builder
	for i, d := range docs {
		content := d.Content
		if len(content) > maxChars {
			content = content[:maxChars] + "… [truncated]"
		}
		fmt.Fprintf(&b, "[Source %d] (%s):\n%s", i+1, d.Source, content)
		if i != len(docs)-1 {
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

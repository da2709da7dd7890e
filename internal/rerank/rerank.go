// Package rerank implements the Reranker external collaborator from
// spec.md §6: a cross-encoder scoring call over (query, passage) pairs,
// normalized to [0,1] and order-preserving. Grounded on rerank.go's
// llama.cpp reranker wire shape ({model,query,top_n,documents} ->
// {results:[{index,relevance_score}]}), generalized to return raw scores
// rather than reordering chunks itself (ordering and thresholding belong to
// internal/retrieve per spec.md §4.4).
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"

	"aleutianrag/internal/ragerr"
)

// Reranker scores passages against a query. Scores are in [0,1]; higher is
// more relevant. len(scores) == len(passages) is guaranteed on success.
type Reranker interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// Client calls an HTTP cross-encoder reranker endpoint.
type Client struct {
	BaseURL string
	Model   string
	HTTP    *http.Client
}

func New(baseURL, model string) *Client {
	return &Client{BaseURL: baseURL, Model: model, HTTP: http.DefaultClient}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	TopN      int      `json:"top_n"`
	Documents []string `json:"documents"`
}

type rerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type rerankResponse struct {
	Results []rerankResult `json:"results"`
}

// Score returns one score per passage, in the input order (not sorted — the
// caller owns ordering). Raw relevance_score values are mapped through a
// numerically-clamped sigmoid so that models which already return [0,1]
// scores and models that return unbounded logits both land in [0,1] without
// the ordering between passages changing, per spec.md §4.6.
func (c *Client) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(rerankRequest{
		Model:     c.Model,
		Query:     query,
		TopN:      len(passages),
		Documents: passages,
	})
	if err != nil {
		return nil, ragerr.New(ragerr.Internal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, ragerr.New(ragerr.Internal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, ragerr.New(ragerr.Transport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ragerr.New(ragerr.Transport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ragerr.Status(resp.StatusCode, string(respBody))
	}

	var rr rerankResponse
	if err := json.Unmarshal(respBody, &rr); err != nil {
		return nil, ragerr.New(ragerr.UpstreamSchema, fmt.Errorf("parse rerank response: %w", err))
	}
	if len(rr.Results) != len(passages) {
		return nil, ragerr.New(ragerr.UpstreamSchema, fmt.Errorf("unexpected result count: got %d, want %d", len(rr.Results), len(passages)))
	}

	scores := make([]float64, len(passages))
	for _, r := range rr.Results {
		if r.Index < 0 || r.Index >= len(scores) {
			return nil, ragerr.New(ragerr.UpstreamSchema, fmt.Errorf("result index %d out of range [0,%d)", r.Index, len(scores)))
		}
		scores[r.Index] = sigmoid(r.RelevanceScore)
	}
	return scores, nil
}

// sigmoid clamps its input to ±20 before exponentiating, per spec.md §4.6,
// so a logit-scale score never overflows/underflows float64 math.
func sigmoid(x float64) float64 {
	if x > 20 {
		x = 20
	} else if x < -20 {
		x = -20
	}
	return 1.0 / (1.0 + math.Exp(-x))
}

// Noop is a reranker that returns a uniform mid-point score for every
// passage, used when no reranker model is configured. Arity always matches,
// so callers can treat it identically to Client in the absence/presence
// branches of internal/retrieve.
type Noop struct{}

func (Noop) Score(_ context.Context, _ string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}
	scores := make([]float64, len(passages))
	for i := range scores {
		scores[i] = 0.5
	}
	return scores, nil
}

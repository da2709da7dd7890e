// Package embedclient implements the EmbeddingClient external interface
// from spec.md §6: a single-text embedding call over the wire contract
// {model, input:[text]} -> {embeddings:[[float]]}. Grounded on
// internal/embedding/client.go's HTTP-client shape (auth header handling,
// context timeout, body-then-parse error reporting), adapted to the
// spec's "embeddings" response field instead of the teacher's
// OpenAI-style "data[].embedding" field.
package embedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"aleutianrag/internal/ragerr"
)

// Client embeds text against a configured HTTP endpoint. The query/document
// prefix asymmetry required by spec.md §4.3 is the caller's responsibility:
// Embed sends exactly what it is given.
type Client struct {
	BaseURL   string
	Path      string
	Model     string
	APIHeader string
	APIKey    string
	Timeout   time.Duration
	HTTP      *http.Client
}

// New constructs a Client with the teacher's default 30s timeout when none
// is supplied.
func New(baseURL, path, model string) *Client {
	return &Client{
		BaseURL: baseURL,
		Path:    path,
		Model:   model,
		Timeout: 30 * time.Second,
		HTTP:    http.DefaultClient,
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the embedding vector for a single text. An empty input
// yields an empty vector without a round trip, per spec.md §4.3's boundary
// behavior.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return []float32{}, nil
	}
	vectors, err := c.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, ragerr.New(ragerr.UpstreamSchema, fmt.Errorf("expected 1 embedding, got %d", len(vectors)))
	}
	return vectors[0], nil
}

func (c *Client) embedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.Model, Input: inputs})
	if err != nil {
		return nil, ragerr.New(ragerr.Internal, err)
	}

	timeout := c.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, c.BaseURL+c.Path, bytes.NewReader(body))
	if err != nil {
		return nil, ragerr.New(ragerr.Internal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		if c.APIHeader == "" || c.APIHeader == "Authorization" {
			req.Header.Set("Authorization", "Bearer "+c.APIKey)
		} else {
			req.Header.Set(c.APIHeader, c.APIKey)
		}
	}

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
	if resp.StatusCode/100 != 2 {
		return nil, ragerr.Status(resp.StatusCode, string(respBody))
	}

	var er embedResponse
	if err := json.Unmarshal(respBody, &er); err != nil {
		return nil, ragerr.New(ragerr.UpstreamSchema, fmt.Errorf("parse embeddings response: %w", err))
	}
	if len(er.Embeddings) != len(inputs) {
		return nil, ragerr.New(ragerr.UpstreamSchema, fmt.Errorf("unexpected embedding count: got %d, want %d", len(er.Embeddings), len(inputs)))
	}
	return er.Embeddings, nil
}

package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"aleutianrag/internal/llmgateway/genopts"
	"aleutianrag/internal/ragerr"
)

func TestGenerateRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "llama3" || req.Stream {
			t.Fatalf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(generateResponse{Response: " hello "})
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3", srv.Client())
	out, err := c.Generate(context.Background(), "hi", genopts.Options{MaxTokens: 64})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hello" {
		t.Fatalf("expected trimmed response, got %q", out)
	}
}

func TestGenerateUpstreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3", srv.Client())
	_, err := c.Generate(context.Background(), "hi", genopts.Options{})
	if !ragerr.Is(err, ragerr.UpstreamStatus) {
		t.Fatalf("expected UpstreamStatus, got %v", err)
	}
}

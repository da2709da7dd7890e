package openaichat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"aleutianrag/internal/llmgateway/genopts"
	"aleutianrag/internal/ragerr"
)

func TestGenerateMissingAPIKeyIsPolicyError(t *testing.T) {
	c := New("http://unused", "gpt-4o-mini", "", http.DefaultClient)
	_, err := c.Generate(context.Background(), "hi", genopts.Options{})
	if !ragerr.Is(err, ragerr.Policy) {
		t.Fatalf("expected Policy error, got %v", err)
	}
}

func TestGenerateRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("expected bearer auth, got %q", got)
		}
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Fatalf("expected single user message, got %+v", req.Messages)
		}
		_ = json.NewEncoder(w).Encode(chatResponse{Choices: []struct {
			Message chatMessage `json:"message"`
		}{{Message: chatMessage{Content: "hi there"}}}})
	}))
	defer srv.Close()

	c := New(srv.URL, "gpt-4o-mini", "secret", srv.Client())
	out, err := c.Generate(context.Background(), "hi", genopts.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hi there" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestGenerateEmptyChoicesIsSchemaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse{})
	}))
	defer srv.Close()

	c := New(srv.URL, "gpt-4o-mini", "secret", srv.Client())
	_, err := c.Generate(context.Background(), "hi", genopts.Options{})
	if !ragerr.Is(err, ragerr.UpstreamSchema) {
		t.Fatalf("expected UpstreamSchema, got %v", err)
	}
}

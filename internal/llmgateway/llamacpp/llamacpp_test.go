package llamacpp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"aleutianrag/internal/llmgateway/genopts"
)

func TestGenerateRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Prompt != "hi" {
			t.Fatalf("unexpected prompt: %q", req.Prompt)
		}
		_ = json.NewEncoder(w).Encode(completionResponse{Content: "hello"})
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	out, err := c.Generate(context.Background(), "hi", genopts.Options{MaxTokens: 128})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hello" {
		t.Fatalf("unexpected output: %q", out)
	}
}

package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"aleutianrag/internal/llmgateway/genopts"
)

func TestGenerateSetsTemperatureWhenThinkingDisabled(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "msg_1",
			"type":    "message",
			"role":    "assistant",
			"model":   "claude-3-7-sonnet-latest",
			"content": []map[string]any{{"type": "text", "text": "hello"}},
			"usage":   map[string]any{"input_tokens": 1, "output_tokens": 1},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "claude-3-7-sonnet-latest", "test-key", srv.Client())
	temp := 0.42
	out, err := c.Generate(context.Background(), "hi", genopts.Options{Temperature: &temp, MaxTokens: 256})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hello" {
		t.Fatalf("unexpected output: %q", out)
	}
	if gotBody["temperature"] != 0.42 {
		t.Fatalf("expected temperature to be sent on the wire, got %v", gotBody["temperature"])
	}
}

func TestGenerateOmitsTemperatureWhenThinkingEnabled(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "msg_1", "type": "message", "role": "assistant",
			"model":   "claude-3-7-sonnet-latest",
			"content": []map[string]any{{"type": "text", "text": "hello"}},
			"usage":   map[string]any{"input_tokens": 1, "output_tokens": 1},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "claude-3-7-sonnet-latest", "test-key", srv.Client())
	c.ThinkingBudget = 2048
	temp := 0.9
	_, err := c.Generate(context.Background(), "hi", genopts.Options{Temperature: &temp})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, present := gotBody["temperature"]; present {
		t.Fatalf("expected temperature omitted when thinking is enabled, got %v", gotBody["temperature"])
	}
	if _, present := gotBody["thinking"]; !present {
		t.Fatalf("expected thinking block to be sent")
	}
}

// Package agentstep implements AgentStep from SPEC_FULL.md §4.9: a
// stateless turn of a tool-calling loop, plus the tool execution machinery
// (argument validation, filesystem path confinement, and a circuit-broken
// HTTP client for code-navigation/memory backends) that sits behind it.
//
// The stateless decision half (seed-message prepending, tool-schema-backed
// provider call, response normalization into answer-or-tool-call) is
// grounded on original_source/services/rag_engine/pipelines/agent.py's
// AgentPipeline.run_step/_call_model_agnostic: messages are converted from
// the generic history, a seed user message is appended when history is
// empty ("Trace the codebase to answer: {query}"), the backend response is
// normalized to {content, tool_calls:[{id,name,args}]}, and a tool call's
// string-encoded arguments are parsed best-effort. The filesystem tool
// execution (list_files/read_file, path confinement under a project root)
// is grounded on the same file's _execute_tool, reimplemented against
// internal/sandbox/pathpolicy.go's SanitizeArg/os.OpenRoot idiom instead of
// a bare os.path.normpath prefix check. The circuit breaker has no direct
// source analog (the original has no backend HTTP client at all in the
// retrieved copy) and is built fresh, grounded on internal/llm/observability.go's
// mutex-guarded package-global counters.
package agentstep

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"aleutianrag/internal/ragtypes"
	"aleutianrag/internal/sandbox"
)

// ToolSchema mirrors internal/llm.ToolSchema, generalized off the llm
// package's provider-facing shape so this package never has to import the
// teacher's chat-oriented Provider.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// RawToolCall is a provider's normalized tool call before argument
// coercion: Args may arrive as a map (already-structured) or a
// JSON-encoded string (some backends only emit strings), per
// SPEC_FULL.md §4.9's "parsed best-effort" rule.
type RawToolCall struct {
	ID   string
	Name string
	Args any
}

// RawMessage is a provider's normalized chat response.
type RawMessage struct {
	Content   string
	ToolCalls []RawToolCall
}

// Provider is the tool-calling contract AgentStep drives: the richer
// chat/tool-schema surface internal/llm.Provider exposes, generalized to
// this package's own RawMessage/ToolSchema types so any backend adapter
// (ollama/anthropic/openai/google) can implement it without this package
// importing internal/llm directly.
type Provider interface {
	Chat(ctx context.Context, history []ragtypes.AgentMessage, tools []ToolSchema, model string) (RawMessage, error)
}

const seedMessageTemplate = "Trace the codebase to answer: %s"

// Tools is the fixed schema covering every tool name SPEC_FULL.md §4.9
// enumerates: filesystem (list_files, read_file), code navigation, and
// memory.
var Tools = []ToolSchema{
	{Name: "list_files", Description: "List files in a directory.", Parameters: pathParam("Path relative to project root (default: .)")},
	{Name: "read_file", Description: "Read contents of a file.", Parameters: pathParam("Path to the file")},
	{Name: "get_context", Description: "Retrieve surrounding code context for a query.", Parameters: queryParam("Natural-language description of the context needed")},
	{Name: "find_symbol", Description: "Locate a symbol's definition.", Parameters: symbolParam("Symbol name to locate")},
	{Name: "find_callers", Description: "List callers of a symbol.", Parameters: symbolParam("Symbol name whose callers are requested")},
	{Name: "find_callees", Description: "List symbols called by a symbol.", Parameters: symbolParam("Symbol name whose callees are requested")},
	{Name: "find_implementations", Description: "List implementations of an interface or abstract symbol.", Parameters: symbolParam("Symbol name to find implementations of")},
	{Name: "find_references", Description: "List references to a symbol.", Parameters: symbolParam("Symbol name to find references to")},
	{Name: "get_type_info", Description: "Describe a symbol's type.", Parameters: symbolParam("Symbol name to describe")},
	{Name: "get_imports", Description: "List imports of a file.", Parameters: pathParam("File path to inspect")},
	{Name: "get_dependency_tree", Description: "Show the dependency tree rooted at a path.", Parameters: pathParam("Root path for the dependency tree")},
	{Name: "search_library_docs", Description: "Search third-party library documentation.", Parameters: queryParam("Documentation search query")},
	{Name: "retrieve_memory", Description: "Retrieve a stored memory relevant to a query.", Parameters: queryParam("Memory search query")},
	{Name: "store_memory", Description: "Store a new memory.", Parameters: map[string]any{"type": "object", "properties": map[string]any{"content": map[string]any{"type": "string", "description": "Memory content to store"}}, "required": []string{"content"}}},
	{Name: "validate_memory", Description: "Mark a stored memory as validated.", Parameters: idParam("Memory id to validate")},
	{Name: "contradict_memory", Description: "Flag a stored memory as contradicted.", Parameters: idParam("Memory id being contradicted")},
}

func pathParam(desc string) map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{"path": map[string]any{"type": "string", "description": desc}}, "required": []string{"path"}}
}
func queryParam(desc string) map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{"query": map[string]any{"type": "string", "description": desc}}, "required": []string{"query"}}
}
func symbolParam(desc string) map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{"symbol": map[string]any{"type": "string", "description": desc}}, "required": []string{"symbol"}}
}
func idParam(desc string) map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{"id": map[string]any{"type": "string", "description": desc}}, "required": []string{"id"}}
}

// Step owns one AgentStep configuration. It is stateless across calls:
// every Run receives the full history and returns a single decision.
type Step struct {
	Provider    Provider
	Model       string
	ProjectRoot string
	Backend     *BackendClient // optional; nil disables code-nav/memory tool execution
}

// Run executes one stateless turn per SPEC_FULL.md §4.9.
func (s *Step) Run(ctx context.Context, req ragtypes.AgentStepRequest) (ragtypes.AgentStepResponse, error) {
	history := req.History
	if len(history) == 0 {
		history = append(history, ragtypes.AgentMessage{Role: "user", Content: fmt.Sprintf(seedMessageTemplate, req.Query)})
	}

	raw, err := s.Provider.Chat(ctx, history, Tools, s.Model)
	if err != nil {
		return ragtypes.AgentStepResponse{}, fmt.Errorf("agentstep: provider chat: %w", err)
	}

	if len(raw.ToolCalls) > 0 {
		tc := raw.ToolCalls[0]
		return ragtypes.AgentStepResponse{
			Type:   "tool_call",
			Tool:   tc.Name,
			Args:   normalizeArgs(tc.Args),
			ToolID: tc.ID,
		}, nil
	}
	return ragtypes.AgentStepResponse{Type: "answer", Content: raw.Content}, nil
}

// normalizeArgs accepts either an already-structured map or a
// JSON-encoded string and best-effort parses the latter; an unparseable
// string is dropped rather than propagated as an error, since a malformed
// tool call is the caller's problem to surface, not this layer's to fail on.
func normalizeArgs(args any) map[string]any {
	switch v := args.(type) {
	case map[string]any:
		return v
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(v), &m); err == nil {
			return m
		}
		return nil
	default:
		return nil
	}
}

// --- Argument validation -----------------------------------------------

var symbolNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_./]*$`)

const (
	maxSymbolNameChars = 200
	maxFilePathChars   = 500
)

// ValidateSymbolName enforces SPEC_FULL.md §4.9's symbol-name contract.
func ValidateSymbolName(name string) error {
	if name == "" || len(name) > maxSymbolNameChars {
		return fmt.Errorf("agentstep: symbol name must be 1-%d characters", maxSymbolNameChars)
	}
	if !symbolNamePattern.MatchString(name) {
		return fmt.Errorf("agentstep: invalid symbol name format: %q", name)
	}
	return nil
}

// ValidateFilePath enforces SPEC_FULL.md §4.9's path-argument contract
// (length bound and traversal rejection), independent of confinement
// under a project root (see ResolvePath for that).
func ValidateFilePath(p string) error {
	if p == "" || len(p) > maxFilePathChars {
		return fmt.Errorf("agentstep: path must be 1-%d characters", maxFilePathChars)
	}
	if strings.Contains(p, "..") {
		return fmt.Errorf("agentstep: path traversal not allowed: %q", p)
	}
	return nil
}

// ResolvePath validates p and confines it under root, returning the
// absolute filesystem path. Grounded on internal/sandbox/pathpolicy.go's
// SanitizeArg, reused directly rather than reimplemented.
func ResolvePath(root, p string) (string, error) {
	if err := ValidateFilePath(p); err != nil {
		return "", err
	}
	clean, err := sandbox.SanitizeArg(root, p)
	if err != nil {
		return "", fmt.Errorf("agentstep: %w", err)
	}
	return filepath.Join(root, clean), nil
}

// --- Tool execution ------------------------------------------------------

// ExecuteTool runs one named tool call to completion: filesystem tools
// (list_files, read_file) execute locally against ProjectRoot; every other
// tool is dispatched to Backend over HTTP. Returns a result value (success
// payload, or a structured {error, suggestion} fallback) rather than an
// error, so a failed tool call can be fed back into the next turn's
// history as a tool message, per the original's "System Error: {e}"
// same-shape-on-failure convention.
func (s *Step) ExecuteTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	switch name {
	case "list_files":
		return s.listFiles(args)
	case "read_file":
		return s.readFile(args)
	default:
		if s.Backend == nil {
			return map[string]any{"error": "backend unavailable", "suggestion": "no code-navigation/memory backend is configured"}, nil
		}
		return s.Backend.Call(ctx, name, args)
	}
}

func (s *Step) listFiles(args map[string]any) (map[string]any, error) {
	rel, _ := args["path"].(string)
	if rel == "" {
		rel = "."
	}
	abs, err := ResolvePath(s.ProjectRoot, rel)
	if err != nil {
		return map[string]any{"error": err.Error()}, nil
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return map[string]any{"error": fmt.Sprintf("not a directory or unreadable: %v", err)}, nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return map[string]any{"files": names}, nil
}

func (s *Step) readFile(args map[string]any) (map[string]any, error) {
	rel, _ := args["path"].(string)
	abs, err := ResolvePath(s.ProjectRoot, rel)
	if err != nil {
		return map[string]any{"error": err.Error()}, nil
	}
	b, err := os.ReadFile(abs)
	if err != nil {
		return map[string]any{"error": fmt.Sprintf("file not found: %v", err)}, nil
	}
	return map[string]any{"content": string(b)}, nil
}

// --- Circuit-broken backend client --------------------------------------

const (
	maxAttempts          = 3
	breakerFailThreshold = 5
	breakerRecovery      = 60 * time.Second
)

var backoffSchedule = [...]time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// breakerState is process-global per SPEC_FULL.md §5: "the circuit
// breaker counters in AgentStep are process-global; all mutations take a
// single lock held only for the counter update." Grounded on
// internal/llm/observability.go's mu sync.RWMutex-guarded globals.
var (
	breakerMu          sync.Mutex
	consecutiveFailures int
	openUntil           time.Time
	breakerClock        = time.Now
)

func isCircuitOpen() bool {
	breakerMu.Lock()
	defer breakerMu.Unlock()
	return breakerClock().Before(openUntil)
}

func recordFailure() {
	breakerMu.Lock()
	defer breakerMu.Unlock()
	consecutiveFailures++
	if consecutiveFailures >= breakerFailThreshold {
		openUntil = breakerClock().Add(breakerRecovery)
	}
}

func recordSuccess() {
	breakerMu.Lock()
	defer breakerMu.Unlock()
	consecutiveFailures = 0
	openUntil = time.Time{}
}

// BackendClient calls the code-navigation/memory backend named in
// SPEC_FULL.md §6: endpoints context, symbol/{name}, callers,
// implementations, memories (+/{id}/validate, /{id}/contradict), retrieve.
// Tool names not named an endpoint there (find_callees, find_references,
// get_type_info, get_imports, get_dependency_tree, search_library_docs)
// are routed to an analogous path under the same base URL.
type BackendClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewBackendClient constructs a client with the teacher's 30s-per-attempt
// default (SPEC_FULL.md §5: "agent backend tool call 30 s per attempt").
func NewBackendClient(baseURL string, httpClient *http.Client) *BackendClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &BackendClient{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: httpClient}
}

// Call dispatches name with args, validating symbol/path arguments first,
// then issuing up to maxAttempts HTTP requests with exponential backoff,
// short-circuiting immediately if the breaker is open.
func (b *BackendClient) Call(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	if err := validateToolArgs(name, args); err != nil {
		return map[string]any{"error": err.Error(), "suggestion": "check parameters"}, nil
	}

	if isCircuitOpen() {
		return map[string]any{"error": "circuit open", "suggestion": "temporarily unavailable, use read_file as fallback"}, nil
	}

	method, path := toolEndpoint(name, args)

	var lastResult map[string]any
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoffSchedule[attempt-1]):
			}
		}
		lastResult, lastErr = b.doRequest(ctx, method, path, args)
		if lastErr == nil {
			recordSuccess()
			return lastResult, nil
		}
	}
	recordFailure()
	return lastResult, nil
}

func (b *BackendClient) doRequest(ctx context.Context, method, path string, args map[string]any) (map[string]any, error) {
	url := b.BaseURL + path
	var body io.Reader
	if method == http.MethodPost {
		encoded, err := json.Marshal(args)
		if err != nil {
			return map[string]any{"error": err.Error()}, err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return map[string]any{"error": err.Error()}, err
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := b.HTTP.Do(req)
	if err != nil {
		return map[string]any{"error": err.Error()}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusFallback(resp.StatusCode), fmt.Errorf("backend status %d", resp.StatusCode)
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return map[string]any{"error": err.Error()}, err
	}
	return out, nil
}

// statusFallback maps a non-200 status to the structured {error,
// suggestion} payload SPEC_FULL.md §4.9 names for 404/400/503.
func statusFallback(code int) map[string]any {
	switch code {
	case http.StatusNotFound:
		return map[string]any{"error": "not found", "suggestion": "not found, try find_symbol"}
	case http.StatusBadRequest:
		return map[string]any{"error": "bad request", "suggestion": "check parameters"}
	case http.StatusServiceUnavailable:
		return map[string]any{"error": "service unavailable", "suggestion": "temporarily unavailable, use read_file as fallback"}
	default:
		return map[string]any{"error": fmt.Sprintf("unexpected status %d", code), "suggestion": "retry later"}
	}
}

func validateToolArgs(name string, args map[string]any) error {
	if symbol, ok := args["symbol"].(string); ok {
		if err := ValidateSymbolName(symbol); err != nil {
			return err
		}
	}
	if path, ok := args["path"].(string); ok {
		if err := ValidateFilePath(path); err != nil {
			return err
		}
	}
	return nil
}

func toolEndpoint(name string, args map[string]any) (method, path string) {
	switch name {
	case "get_context":
		return http.MethodPost, "/context"
	case "find_symbol":
		return http.MethodGet, "/symbol/" + stringArg(args, "symbol")
	case "find_callers":
		return http.MethodGet, "/callers?symbol=" + stringArg(args, "symbol")
	case "find_callees":
		return http.MethodGet, "/callees?symbol=" + stringArg(args, "symbol")
	case "find_implementations":
		return http.MethodGet, "/implementations?symbol=" + stringArg(args, "symbol")
	case "find_references":
		return http.MethodGet, "/references?symbol=" + stringArg(args, "symbol")
	case "get_type_info":
		return http.MethodGet, "/type_info?symbol=" + stringArg(args, "symbol")
	case "get_imports":
		return http.MethodGet, "/imports?path=" + stringArg(args, "path")
	case "get_dependency_tree":
		return http.MethodGet, "/dependency_tree?path=" + stringArg(args, "path")
	case "search_library_docs":
		return http.MethodGet, "/library_docs?query=" + stringArg(args, "query")
	case "retrieve_memory":
		return http.MethodPost, "/memories/retrieve"
	case "store_memory":
		return http.MethodPost, "/memories"
	case "validate_memory":
		return http.MethodPost, "/memories/" + stringArg(args, "id") + "/validate"
	case "contradict_memory":
		return http.MethodPost, "/memories/" + stringArg(args, "id") + "/contradict"
	default:
		return http.MethodPost, "/" + name
	}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

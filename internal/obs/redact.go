package obs

import "strings"

var sensitiveKeys = map[string]struct{}{
	"api_key":       {},
	"apikey":        {},
	"authorization": {},
	"token":         {},
	"password":      {},
	"secret":        {},
}

// RedactJSON walks a decoded JSON value (map[string]any / []any / scalars,
// as produced by encoding/json.Unmarshal into `any`) and replaces values
// under known-sensitive keys with "[REDACTED]". Reimplemented (not copied)
// from the call-site contract of internal/llm/observability.go's
// LogRedactedPrompt/LogRedactedResponse, since the teacher's own
// observability.RedactJSON source file was not present in the retrieval
// pack. See DESIGN.md.
func RedactJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if _, sensitive := sensitiveKeys[strings.ToLower(k)]; sensitive {
				out[k] = "[REDACTED]"
				continue
			}
			out[k] = RedactJSON(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = RedactJSON(val)
		}
		return out
	default:
		return v
	}
}

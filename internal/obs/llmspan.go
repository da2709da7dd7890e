package obs

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StartLLMSpan starts a span carrying the attributes spec.md §9 requires on
// every LLM call: llm.system, llm.provider, llm.model, llm.temperature,
// llm.prompt.preview, llm.completion.preview (the last is set by
// RecordCompletion once the call returns). Grounded on
// internal/llm/observability.go's StartRequestSpan, extended with the
// temperature/preview attributes the teacher's version omitted.
func StartLLMSpan(ctx context.Context, system, provider, model string, temperature float64, promptPreview string) (context.Context, trace.Span) {
	tracer := otel.Tracer("aleutianrag/llm")
	ctx, span := tracer.Start(ctx, "llm.generate")
	span.SetAttributes(
		attribute.String("llm.system", system),
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
		attribute.Float64("llm.temperature", temperature),
		attribute.String("llm.prompt.preview", preview(promptPreview, 200)),
	)
	return ctx, span
}

// RecordCompletion attaches the completion preview once a call returns.
func RecordCompletion(span trace.Span, completion string) {
	span.SetAttributes(attribute.String("llm.completion.preview", preview(completion, 200)))
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "… [truncated]"
}

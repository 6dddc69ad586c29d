package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that discards all metrics.
// Used when metrics are disabled or initialization fails.
type NoopMetrics struct{}

// RecordNodeExecution discards the metric.
func (NoopMetrics) RecordNodeExecution(context.Context, string, time.Duration, error) {}

// RecordRun discards the metric.
func (NoopMetrics) RecordRun(context.Context, bool, time.Duration) {}

// RecordSuspension discards the metric.
func (NoopMetrics) RecordSuspension(context.Context, string, string) {}

// RecordCheckpoint discards the metric.
func (NoopMetrics) RecordCheckpoint(context.Context, string, int64) {}

// NoopSpanManager is a SpanManager that creates no-op spans.
// Used when tracing is disabled.
type NoopSpanManager struct{}

var noopTracer = noop.NewTracerProvider().Tracer("convoflow")

// StartRunSpan returns a no-op span.
func (NoopSpanManager) StartRunSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return noopTracer.Start(ctx, "noop")
}

// StartNodeSpan returns a no-op span.
func (NoopSpanManager) StartNodeSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return noopTracer.Start(ctx, "noop")
}

// EndSpanWithError ends the no-op span.
func (NoopSpanManager) EndSpanWithError(span trace.Span, _ error) {
	if span != nil {
		span.End()
	}
}

// AddSpanEvent is a no-op.
func (NoopSpanManager) AddSpanEvent(context.Context, string, ...attribute.KeyValue) {}

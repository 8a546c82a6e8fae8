// Package tracingtest captures spans emitted through the global tracer provider.
package tracingtest

import (
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// Record installs a recording tracer provider for the rest of the test.
// Tests using it must not run in parallel.
func Record(t testing.TB) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	return recorder
}

// Names lists the names of ended spans in end order.
func Names(recorder *tracetest.SpanRecorder) []string {
	spans := recorder.Ended()
	names := make([]string, len(spans))
	for i, s := range spans {
		names[i] = s.Name()
	}
	return names
}

// Package tracing wires OpenTelemetry and records LLM observations as spans.
package tracing

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/spigell/career-sync/internal/utils"
)

const instrumentationName = "github.com/spigell/career-sync"

// maxAttributeLength bounds prompt and response attributes.
const maxAttributeLength = 4096

type Config struct {
	// Endpoint is an OTLP/HTTP URL such as http://localhost:4318. Empty disables export.
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service-name"`
	SampleRatio float64 `mapstructure:"sample-ratio"`
}

// Setup installs the global tracer provider. The returned function flushes
// and stops the exporter.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	if err != nil {
		return nil, err
	}

	name := cfg.ServiceName
	if name == "" {
		name = "career-sync"
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 {
		ratio = 1
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", name))),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Start opens a span named name.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// Observation is the payload of one LLM or embedding call.
type Observation struct {
	Input            string
	Output           string
	Tags             []string
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Err              error
}

// Finish records obs on span and ends it.
func Finish(span trace.Span, obs Observation) {
	attrs := []attribute.KeyValue{
		attribute.String("llm.input", utils.TruncateForLog(obs.Input, maxAttributeLength)),
		attribute.String("llm.output", utils.TruncateForLog(obs.Output, maxAttributeLength)),
		attribute.StringSlice("llm.tags", obs.Tags),
	}
	if obs.Provider != "" {
		attrs = append(attrs, attribute.String("llm.provider", obs.Provider))
	}
	if obs.Model != "" {
		attrs = append(attrs, attribute.String("llm.model", obs.Model))
	}
	if obs.PromptTokens > 0 || obs.CompletionTokens > 0 {
		attrs = append(attrs,
			attribute.Int("llm.prompt_tokens", obs.PromptTokens),
			attribute.Int("llm.completion_tokens", obs.CompletionTokens),
		)
	}
	span.SetAttributes(attrs...)
	End(span, obs.Err)
}

// End marks span failed when err is set and ends it.
func End(span trace.Span, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

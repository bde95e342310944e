package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// InitTracerProvider installs a process-global SDK TracerProvider,
// replacing any provider installed before. When sampleAll is false, a
// parent-based sampler keeps 10% of new traces; when true, every span is
// sampled. No exporter is attached in either case, so spans are not
// exported anywhere.
func InitTracerProvider(serviceName string, sampleAll bool) *sdktrace.TracerProvider {
	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.1))
	if sampleAll {
		sampler = sdktrace.AlwaysSample()
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sampler))
	otel.SetTracerProvider(tp)
	return tp
}

// Tracer wraps an OTel tracer for the Root Loop and sub-call dispatcher,
// grounded on the teacher's internal/agent/otel.go OTELTracer, generalized
// from agent spans to RLM root-step/sub-call spans.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer returns a Tracer reading from the current global
// TracerProvider under the given instrumentation name (e.g. "rlm.rootloop").
func NewTracer(name string) *Tracer {
	return &Tracer{tracer: otel.Tracer(name)}
}

// Start begins a span named name with attrs, auto-attaching promptID and
// depth as first-class span attributes (every RLM span belongs to one
// environment at one recursion depth, so these are never optional the way
// the rest of attrs is). It returns the enriched context and an end func
// that records err (if any) before closing the span.
func (t *Tracer) Start(ctx context.Context, name, promptID string, depth int, attrs map[string]any) (context.Context, func(err error)) {
	kvs := make([]attribute.KeyValue, 0, len(attrs)+2)
	kvs = append(kvs, attribute.String("rlm.prompt_id", promptID), attribute.Int("rlm.depth", depth))
	for k, v := range attrs {
		kvs = append(kvs, attribute.String(k, fmt.Sprint(v)))
	}
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(kvs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}

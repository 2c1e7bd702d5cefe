// Package telemetry wraps OpenTelemetry tracing and metrics around the
// ordering/assemble/solve stages of a Flat Background build, in the shape
// terragrunt's telemetry package wraps its own Trace helper around command
// execution: a single function that starts a span, runs a closure, and
// records the error on the span before returning it.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/antelope-go/tarjanbg"

// Telemeter carries the tracer and the handful of counters/histograms the
// background engine records. A nil *Telemeter is valid and every method on
// it is a no-op, so callers that don't want telemetry can simply pass nil.
type Telemeter struct {
	tracer             trace.Tracer
	ambiguousCount     metric.Int64Counter
	nonConvergentCount metric.Int64Counter
	buildDuration      metric.Float64Histogram
}

// New constructs a Telemeter from the global OpenTelemetry providers. It is
// safe to call even when no SDK has been configured: the global providers
// fall back to no-op implementations.
func New() *Telemeter {
	tracer := otel.Tracer(instrumentationName)
	meter := otel.Meter(instrumentationName)

	ambiguous, _ := meter.Int64Counter(
		"tarjanbg.ambiguous_terminations",
		metric.WithDescription("terminations resolved by preferred-provider tie-break or left ambiguous"),
	)
	nonConvergent, _ := meter.Int64Counter(
		"tarjanbg.iterative_non_convergence",
		metric.WithDescription("iterative power-series solves that hit max_iter before threshold"),
	)
	buildDuration, _ := meter.Float64Histogram(
		"tarjanbg.build_duration_seconds",
		metric.WithDescription("wall time spent building a Flat Background"),
	)

	return &Telemeter{
		tracer:             tracer,
		ambiguousCount:     ambiguous,
		nonConvergentCount: nonConvergent,
		buildDuration:      buildDuration,
	}
}

// Span runs fn inside a new span named name, recording any returned error as
// the span's status before ending it. Mirrors terragrunt's telemetry.Trace.
func (t *Telemeter) Span(ctx context.Context, name string, attrs map[string]any, fn func(ctx context.Context) error) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	kv := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kv = append(kv, attributeFor(k, v))
	}

	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(kv...))
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// RecordAmbiguous increments the ambiguous-termination counter.
func (t *Telemeter) RecordAmbiguous(ctx context.Context, flowRef string) {
	if t == nil || t.ambiguousCount == nil {
		return
	}
	t.ambiguousCount.Add(ctx, 1, metric.WithAttributes(attribute.String("flow_ref", flowRef)))
}

// RecordNonConvergence increments the iterative-non-convergence counter.
func (t *Telemeter) RecordNonConvergence(ctx context.Context, nodeRef string, iterations int) {
	if t == nil || t.nonConvergentCount == nil {
		return
	}
	t.nonConvergentCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("node_ref", nodeRef),
			attribute.Int("iterations", iterations),
		),
	)
}

// RecordBuildDuration records the number of seconds a build took.
func (t *Telemeter) RecordBuildDuration(ctx context.Context, seconds float64) {
	if t == nil || t.buildDuration == nil {
		return
	}
	t.buildDuration.Record(ctx, seconds)
}

func attributeFor(k string, v any) attribute.KeyValue {
	switch val := v.(type) {
	case string:
		return attribute.String(k, val)
	case int:
		return attribute.Int(k, val)
	case int64:
		return attribute.Int64(k, val)
	case float64:
		return attribute.Float64(k, val)
	case bool:
		return attribute.Bool(k, val)
	default:
		return attribute.String(k, "")
	}
}

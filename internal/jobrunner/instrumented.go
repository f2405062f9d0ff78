package jobrunner

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/mbhatt1/hive-sub000/internal/jobrunner"

// Metric names
const (
	MetricJobsRunning = "hive.tool.jobs.running"
	MetricJobsTotal   = "hive.jobs.total"
	MetricJobDuration = "hive.job.duration"
)

// KindLabel is the job label used to group metrics, e.g. "agent" or "tool".
const KindLabel = "hive.kind"

// InstrumentedRunner records a span and metrics for every job.
type InstrumentedRunner struct {
	next     Runner
	tracer   trace.Tracer
	running  metric.Int64UpDownCounter
	total    metric.Int64Counter
	duration metric.Float64Histogram
}

// NewInstrumentedRunner wraps next. Nil tracer or meter fall back to the
// global providers.
func NewInstrumentedRunner(next Runner, tracer trace.Tracer, meter metric.Meter) *InstrumentedRunner {
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	r := &InstrumentedRunner{next: next, tracer: tracer}
	r.running, _ = meter.Int64UpDownCounter(MetricJobsRunning,
		metric.WithDescription("Jobs currently running"),
	)
	r.total, _ = meter.Int64Counter(MetricJobsTotal,
		metric.WithDescription("Jobs completed by outcome"),
	)
	r.duration, _ = meter.Float64Histogram(MetricJobDuration,
		metric.WithDescription("Job wall-clock duration"),
		metric.WithUnit("s"),
	)
	return r
}

// Run delegates to the wrapped runner.
func (r *InstrumentedRunner) Run(ctx context.Context, spec JobSpec) (*JobResult, error) {
	kind := spec.Labels[KindLabel]
	if kind == "" {
		kind = "unknown"
	}

	ctx, span := r.tracer.Start(ctx, "hive.job.run",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("job.name", spec.Name),
			attribute.String("job.image", spec.Image),
			attribute.String("job.kind", kind),
		),
	)
	defer span.End()

	kindAttr := attribute.String("kind", kind)
	r.running.Add(ctx, 1, metric.WithAttributes(kindAttr))
	defer r.running.Add(ctx, -1, metric.WithAttributes(kindAttr))

	start := time.Now()
	result, err := r.next.Run(ctx, spec)
	elapsed := time.Since(start).Seconds()

	outcome := "succeeded"
	class := ""
	if err != nil {
		outcome = "failed"
		var jerr *Error
		if errors.As(err, &jerr) {
			class = jerr.Class
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	if result != nil {
		span.SetAttributes(attribute.Int("job.exit_code", result.ExitCode))
	}

	attrs := metric.WithAttributes(kindAttr, attribute.String("outcome", outcome), attribute.String("error_class", class))
	r.total.Add(ctx, 1, attrs)
	r.duration.Record(ctx, elapsed, attrs)

	return result, err
}

package jobrunner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInstrumentedRunner(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	next := RunnerFunc(func(ctx context.Context, spec JobSpec) (*JobResult, error) {
		if spec.Name == "bad" {
			result := &JobResult{ExitCode: 1}
			return result, exitError(spec, result)
		}
		return &JobResult{}, nil
	})
	runner := NewInstrumentedRunner(next, tp.Tracer("test"), mp.Meter("test"))

	_, err := runner.Run(context.Background(), JobSpec{Name: "good", Image: "img", Labels: map[string]string{KindLabel: "tool"}})
	require.NoError(t, err)
	_, err = runner.Run(context.Background(), JobSpec{Name: "bad", Image: "img", Labels: map[string]string{KindLabel: "tool"}})
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	totals := map[string]int64{}
	var running int64 = -1
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case MetricJobsTotal:
				for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
					outcome, _ := dp.Attributes.Value("outcome")
					totals[outcome.AsString()] += dp.Value
				}
			case MetricJobsRunning:
				running = 0
				for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
					running += dp.Value
				}
			}
		}
	}

	assert.Equal(t, map[string]int64{"succeeded": 1, "failed": 1}, totals)
	assert.Equal(t, int64(0), running)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "hive.job.run", spans[0].Name())
}

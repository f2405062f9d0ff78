package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracing_Disabled(t *testing.T) {
	tp, err := InitTracing(context.Background(), TracingConfig{})
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.IsRecording())
	span.End()
	assert.NoError(t, ShutdownTracing(context.Background(), tp))
}

func TestInitTracing_InvalidConfig(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, SampleRate: 1})
	assert.ErrorContains(t, err, "invalid tracing configuration")
}

func TestInitTracing_WithExporter(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp, err := InitTracing(context.Background(),
		TracingConfig{Enabled: true, ServiceName: "hive-test", SampleRate: 1},
		WithExporter(exporter),
		WithSampler(sdktrace.AlwaysSample()),
	)
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "mission")
	span.End()
	require.NoError(t, tp.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "mission", spans[0].Name)

	var service string
	for _, attr := range spans[0].Resource.Attributes() {
		if attr.Key == "service.name" {
			service = attr.Value.AsString()
		}
	}
	assert.Equal(t, "hive-test", service)
	assert.NoError(t, ShutdownTracing(context.Background(), tp))
}

func TestShutdownTracing_Nil(t *testing.T) {
	assert.NoError(t, ShutdownTracing(context.Background(), nil))
}

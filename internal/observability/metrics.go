package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metric names recorded outside the workflow and job runner packages.
const (
	MetricMissionsTotal   = "hive.missions.total"
	MetricMissionDuration = "hive.mission.duration"
	MetricEventsPublished = "hive.events.published"
	MetricEventsDropped   = "hive.events.dropped"
)

// Metrics bundles a meter provider with its shutdown hook and, for the
// prometheus provider, the scrape handler.
type Metrics struct {
	Provider metric.MeterProvider
	// Handler serves the Prometheus exposition format. It is nil for other
	// providers.
	Handler  http.Handler
	shutdown func(context.Context) error
}

// Meter returns a named meter from the provider.
func (m *Metrics) Meter(name string) metric.Meter {
	return m.Provider.Meter(name)
}

// Shutdown flushes and stops the provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.shutdown == nil {
		return nil
	}
	return m.shutdown(ctx)
}

// InitMetrics creates the meter provider described by cfg and installs it
// globally. When metrics are disabled a no-op provider is returned.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{Provider: noop.NewMeterProvider()}, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid metrics config: %w", err)
	}

	var (
		m   *Metrics
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case "prometheus":
		m, err = initPrometheusProvider()
	case "otlp":
		m, err = initOTLPProvider(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported metrics provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(m.Provider)
	return m, nil
}

func initPrometheusProvider() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	return &Metrics{
		Provider: provider,
		Handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		shutdown: provider.Shutdown,
	}, nil
}

func initOTLPProvider(ctx context.Context, cfg MetricsConfig) (*Metrics, error) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	return &Metrics{Provider: provider, shutdown: provider.Shutdown}, nil
}

// MissionRecorder records mission outcomes.
type MissionRecorder struct {
	total    metric.Int64Counter
	duration metric.Float64Histogram
}

// NewMissionRecorder creates the mission instruments on meter.
func NewMissionRecorder(meter metric.Meter) *MissionRecorder {
	total, _ := meter.Int64Counter(MetricMissionsTotal,
		metric.WithDescription("Missions finished, by final status"))
	duration, _ := meter.Float64Histogram(MetricMissionDuration,
		metric.WithDescription("Mission wall-clock duration"),
		metric.WithUnit("s"))
	return &MissionRecorder{total: total, duration: duration}
}

// RecordMission records one finished mission.
func (r *MissionRecorder) RecordMission(ctx context.Context, status, scanType string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("scan_type", scanType),
	)
	if r.total != nil {
		r.total.Add(ctx, 1, attrs)
	}
	if r.duration != nil {
		r.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
}

// EventBusMetrics implements events.MetricsRecorder with OpenTelemetry
// counters.
type EventBusMetrics struct {
	published metric.Int64Counter
	dropped   metric.Int64Counter
}

// NewEventBusMetrics creates the event bus instruments on meter.
func NewEventBusMetrics(meter metric.Meter) *EventBusMetrics {
	published, _ := meter.Int64Counter(MetricEventsPublished,
		metric.WithDescription("Event deliveries to subscribers"))
	dropped, _ := meter.Int64Counter(MetricEventsDropped,
		metric.WithDescription("Events dropped for slow subscribers"))
	return &EventBusMetrics{published: published, dropped: dropped}
}

// RecordEventPublished counts deliveries of one event.
func (m *EventBusMetrics) RecordEventPublished(eventType string, subscriberCount int) {
	if m.published != nil && subscriberCount > 0 {
		m.published.Add(context.Background(), int64(subscriberCount),
			metric.WithAttributes(attribute.String("event_type", eventType)))
	}
}

// RecordEventDropped counts one dropped delivery.
func (m *EventBusMetrics) RecordEventDropped(eventType string, _ string) {
	if m.dropped != nil {
		m.dropped.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("event_type", eventType)))
	}
}

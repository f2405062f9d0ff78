package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/mbhatt1/hive-sub000/internal/agent"
	"github.com/mbhatt1/hive-sub000/internal/config"
	"github.com/mbhatt1/hive-sub000/internal/events"
	"github.com/mbhatt1/hive-sub000/internal/jobrunner"
	"github.com/mbhatt1/hive-sub000/internal/mission"
	"github.com/mbhatt1/hive-sub000/internal/notify"
	"github.com/mbhatt1/hive-sub000/internal/observability"
	"github.com/mbhatt1/hive-sub000/internal/orchestrator"
	"github.com/mbhatt1/hive-sub000/internal/workflow"
)

const instrumentationName = "github.com/mbhatt1/hive-sub000/cmd/hive"

// app holds the process-wide collaborators built from the configuration.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   mission.Store
	bus     *events.DefaultEventBus
	metrics *observability.Metrics
	tracing *sdktrace.TracerProvider
	service *orchestrator.Service

	logCloser io.Closer
}

// newApp wires the orchestrator service from cfg. Close must be called to
// flush telemetry and release the store.
func newApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.logger, a.logCloser, err = observability.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(a.logger)

	a.tracing, err = observability.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		return nil, err
	}
	a.metrics, err = observability.InitMetrics(ctx, cfg.Metrics)
	if err != nil {
		return nil, err
	}
	meter := a.metrics.Meter(instrumentationName)
	tracer := otel.Tracer(instrumentationName)

	a.store, err = openStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	registry, err := newRegistry(cfg)
	if err != nil {
		return nil, err
	}

	runner, err := newRunner(cfg.Runner, a.logger)
	if err != nil {
		return nil, err
	}
	if cfg.Runner.LaunchRate > 0 {
		runner = jobrunner.NewRateLimitedRunner(runner, cfg.Runner.LaunchRate, cfg.Runner.LaunchBurst)
	}
	runner = jobrunner.NewInstrumentedRunner(runner, tracer, meter)

	a.bus = events.NewEventBus(
		events.WithMetrics(observability.NewEventBusMetrics(meter)),
		events.WithLogger(a.logger),
	)

	channels := notify.MultiChannel{notify.NewBusChannel(a.bus)}
	if cfg.Notifications.LogChannel {
		channels = append(channels, notify.NewLogChannel(a.logger))
	}

	var definition *workflow.Workflow
	if path := cfg.Orchestrator.DefinitionPath; path != "" {
		definition, err = workflow.ParseWorkflowFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow definition %s: %w", path, err)
		}
	}

	a.service, err = orchestrator.New(orchestrator.ConfigFrom(cfg), orchestrator.Deps{
		Store:      a.store,
		Runner:     runner,
		Registry:   registry,
		Notifier:   channels,
		Bus:        a.bus,
		Definition: definition,
	},
		orchestrator.WithLogger(a.logger),
		orchestrator.WithTracer(tracer),
		orchestrator.WithMeter(meter),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases everything newApp acquired, in reverse order.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.bus != nil {
		errs = append(errs, a.bus.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.metrics != nil {
		errs = append(errs, a.metrics.Shutdown(ctx))
	}
	errs = append(errs, observability.ShutdownTracing(ctx, a.tracing))
	if a.logCloser != nil {
		errs = append(errs, a.logCloser.Close())
	}
	return errors.Join(errs...)
}

// openStore opens the configured mission store backend.
func openStore(cfg config.StoreConfig) (mission.Store, error) {
	switch cfg.Backend {
	case "memory":
		return mission.NewMemoryStore(), nil
	case "badger":
		return mission.OpenBadgerStore(cfg.Path)
	case "sqlite", "":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		return mission.OpenSQLiteStore(cfg.Path, cfg.BusyTimeout)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// newRunner builds the configured job runner backend.
func newRunner(cfg config.RunnerConfig, logger *slog.Logger) (jobrunner.Runner, error) {
	switch cfg.Backend {
	case "container", "":
		return jobrunner.NewContainerRunner(
			jobrunner.WithContainerLogger(logger),
			jobrunner.WithDefaultTimeout(cfg.DefaultTimeout),
			jobrunner.WithKeepContainers(cfg.KeepContainers),
		), nil
	case "process":
		return jobrunner.NewProcessRunner(cfg.Commands, cfg.WorkDir, logger), nil
	default:
		return nil, fmt.Errorf("unknown runner backend %q", cfg.Backend)
	}
}

// newRegistry registers the configured agents and tools.
func newRegistry(cfg *config.Config) (*agent.Registry, error) {
	registry := agent.NewRegistry()
	var errs []error
	for name, def := range cfg.Agents {
		errs = append(errs, registry.RegisterAgent(name, def))
	}
	for kind, def := range cfg.Tools {
		errs = append(errs, registry.RegisterTool(kind, def))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid agent registry: %w", err)
	}
	return registry, nil
}

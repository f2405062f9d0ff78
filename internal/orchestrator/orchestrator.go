package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/mbhatt1/hive-sub000/internal/agent"
	"github.com/mbhatt1/hive-sub000/internal/config"
	"github.com/mbhatt1/hive-sub000/internal/events"
	"github.com/mbhatt1/hive-sub000/internal/jobrunner"
	"github.com/mbhatt1/hive-sub000/internal/mission"
	"github.com/mbhatt1/hive-sub000/internal/notify"
	"github.com/mbhatt1/hive-sub000/internal/observability"
	"github.com/mbhatt1/hive-sub000/internal/workflow"
)

const instrumentationName = "github.com/mbhatt1/hive-sub000/internal/orchestrator"

// ErrMissionInProgress is returned by Run when an intake event is re-delivered
// for a mission that is still running.
var ErrMissionInProgress = errors.New("mission already in progress")

// Deps are the collaborators of a Service.
type Deps struct {
	Store    mission.Store
	Runner   jobrunner.Runner
	Registry *agent.Registry

	// Notifier defaults to notify.Discard.
	Notifier notify.Channel
	// Bus is optional.
	Bus events.EventBus

	// Definition replaces the built-in pipeline.
	Definition *workflow.Workflow
	// Invoker replaces the stage invoker built from Runner and Registry.
	Invoker workflow.Invoker
}

// Config tunes a Service.
type Config struct {
	Definition      DefinitionConfig
	StrictScanType  bool
	PublishFailures bool
	FailureGrace    time.Duration
	Network         jobrunner.Network
	DefaultLimits   jobrunner.Limits
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{Definition: DefaultDefinitionConfig()}
}

// ConfigFrom derives the orchestrator settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	o := cfg.Orchestrator
	return Config{
		Definition: DefinitionConfig{
			MissionTimeout:        o.MissionTimeout,
			ToolConcurrency:       o.ToolConcurrency,
			ToleratedToolFailures: o.ToleratedToolFailures,
			ConsensusWait:         o.ConsensusWait,
			ConsensusPolling:      o.ConsensusPolling,
			ConsensusPollInterval: o.ConsensusPollInterval,
			ConsensusTimeout:      o.ConsensusTimeout,
			IntakeMaxAttempts:     cfg.Intake.MaxAttempts,
			IntakeBackoff:         cfg.Intake.Backoff,
		},
		StrictScanType:  cfg.Intake.StrictScanType,
		PublishFailures: cfg.Notifications.PublishFailures,
		FailureGrace:    o.FailureGrace,
		Network:         cfg.Runner.Network,
		DefaultLimits:   cfg.Runner.Limits,
	}
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracer sets the tracer used for mission spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithMeter sets the meter used for mission metrics.
func WithMeter(meter metric.Meter) Option {
	return func(s *Service) {
		if meter != nil {
			s.meter = meter
		}
	}
}

// Service runs missions through the workflow engine.
type Service struct {
	cfg        Config
	store      mission.Store
	registry   *agent.Registry
	stages     workflow.Invoker
	notifier   notify.Channel
	bus        events.EventBus
	definition *workflow.Workflow
	builtin    map[string]handlerFunc

	engine   *workflow.Engine
	observer *StatusObserver
	recorder *observability.MissionRecorder

	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter
}

// New wires a Service. A custom Definition is validated up front.
func New(cfg Config, deps Deps, opts ...Option) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("orchestrator: mission store is required")
	}
	if deps.Registry == nil {
		deps.Registry = agent.NewRegistry()
	}
	if deps.Invoker == nil && deps.Runner == nil {
		return nil, errors.New("orchestrator: job runner is required")
	}

	s := &Service{
		cfg:      cfg,
		store:    deps.Store,
		registry: deps.Registry,
		notifier: deps.Notifier,
		bus:      deps.Bus,
		logger:   slog.Default(),
		tracer:   otel.Tracer(instrumentationName),
		meter:    noop.NewMeterProvider().Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = notify.Discard
	}

	s.stages = deps.Invoker
	if s.stages == nil {
		s.stages = agent.NewStageInvoker(deps.Registry, deps.Runner,
			agent.WithNetwork(cfg.Network),
			agent.WithDefaultLimits(cfg.DefaultLimits),
			agent.WithLogger(s.logger),
		)
	}

	s.definition = deps.Definition
	if s.definition == nil {
		def, err := DefaultDefinition(cfg.Definition)
		if err != nil {
			return nil, fmt.Errorf("failed to build mission definition: %w", err)
		}
		s.definition = def
	} else if err := workflow.Validate(s.definition); err != nil {
		return nil, fmt.Errorf("invalid mission definition: %w", err)
	}

	s.builtin = s.handlers()
	s.recorder = observability.NewMissionRecorder(s.meter)
	s.observer = NewStatusObserver(s.store, s.bus, s.logger)
	s.engine = workflow.NewEngine(
		workflow.WithInvoker(workflow.InvokerFunc(s.invoke)),
		workflow.WithObserver(s.observer),
		workflow.WithPoller(ConsensusPollerName, NewConsensusPoller(s.store)),
		workflow.WithTimeoutGrace(cfg.FailureGrace),
		workflow.WithLogger(s.logger),
		workflow.WithTracer(s.tracer),
		workflow.WithMeter(s.meter),
	)
	return s, nil
}

// Definition returns the workflow the Service executes.
func (s *Service) Definition() *workflow.Workflow {
	return s.definition
}

// Run executes one mission to a terminal status and returns the final record.
// Mission-level failures are reported through the record, not the error. A
// re-delivered intake for a finished mission returns the stored record
// without running the pipeline again.
func (s *Service) Run(ctx context.Context, in mission.Input) (*mission.Mission, error) {
	if err := in.Validate(s.cfg.StrictScanType); err != nil {
		return nil, &workflow.Error{Class: workflow.ErrorIntakeValidationFailure, Message: "mission input rejected", Cause: err}
	}

	m := mission.New(in)
	if err := s.store.Create(ctx, m); err != nil {
		if !errors.Is(err, mission.ErrMissionExists) {
			return nil, fmt.Errorf("failed to create mission: %w", err)
		}
		existing, gerr := s.store.Get(ctx, in.MissionID)
		if gerr != nil {
			return nil, fmt.Errorf("failed to load mission: %w", gerr)
		}
		if existing.Status.IsTerminal() {
			s.logger.InfoContext(ctx, "ignoring re-delivered intake for finished mission",
				"mission_id", existing.ID,
				"status", existing.Status,
			)
			return existing, nil
		}
		return existing, fmt.Errorf("%w: %s is %s", ErrMissionInProgress, existing.ID, existing.Status)
	}
	defer s.observer.Forget(m.ID)

	ctx, span := s.tracer.Start(ctx, "hive.mission.run",
		trace.WithAttributes(
			attribute.String("mission.id", m.ID.String()),
			attribute.String("mission.scan_type", m.ScanType),
		),
	)
	defer span.End()

	logger := observability.MissionLogger(ctx, s.logger, m.ID.String())
	logger.InfoContext(ctx, "mission started", "scan_type", m.ScanType)
	publish(ctx, s.bus, logger, events.Event{Type: events.EventMissionStarted, MissionID: m.ID})

	exec, execErr := s.engine.Execute(ctx, s.definition, m.Context)

	final, err := s.settle(ctx, m, exec, execErr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("mission.status", final.Status.String()))
	if final.Status == mission.StatusFailed {
		span.SetStatus(codes.Error, final.Error)
	} else {
		span.SetStatus(codes.Ok, "mission completed")
	}
	s.recorder.RecordMission(ctx, final.Status.String(), final.ScanType, final.Duration())
	logger.InfoContext(ctx, "mission finished",
		"status", final.Status,
		"findings_count", final.FindingsCount,
		"duration", final.Duration(),
	)
	return final, nil
}

// settle makes sure the mission is terminal once the execution ended. The
// failure path normally records FAILED itself; timeouts, cancellations and
// failures of the failure path are recorded here.
func (s *Service) settle(ctx context.Context, m *mission.Mission, exec *workflow.Execution, execErr error) (*mission.Mission, error) {
	ctx = context.WithoutCancel(ctx)

	current, err := s.store.Get(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load mission: %w", err)
	}
	if current.Status.IsTerminal() {
		return current, nil
	}

	var (
		status = mission.StatusCompleted
		delta  mission.Delta
	)
	if exec != nil {
		delta.Context = exec.Document
	}
	if execErr != nil {
		werr := workflow.AsError(execErr, "")
		status = mission.StatusFailed
		delta.Error = werr.Class + ": " + werr.CauseText()
		delta.Context = workflow.Document{KeyError: werr.Info()}
	}

	if err := s.store.Put(ctx, m.ID, status, delta); err != nil {
		return nil, fmt.Errorf("failed to record final status %s: %w", status, err)
	}
	final, err := s.store.Get(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load mission: %w", err)
	}
	s.finished(ctx, final)
	if final.Status == mission.StatusFailed && s.cfg.PublishFailures {
		if err := s.notifier.Publish(ctx, notificationFor(final)); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish failure notification", "mission_id", final.ID, "error", err)
		}
	}
	return final, nil
}

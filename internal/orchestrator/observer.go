package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/mbhatt1/hive-sub000/internal/events"
	"github.com/mbhatt1/hive-sub000/internal/mission"
	"github.com/mbhatt1/hive-sub000/internal/types"
	"github.com/mbhatt1/hive-sub000/internal/workflow"
)

// StatusObserver drives mission status from workflow state transitions. It
// persists the status entered with each top-level state, saves the merged
// context when such a state completes and publishes stage events. One
// observer serves all missions of a Service.
type StatusObserver struct {
	store  mission.Store
	bus    events.EventBus
	logger *slog.Logger

	mu      sync.Mutex
	current map[string]mission.Status
}

// NewStatusObserver creates an observer writing to store. bus may be nil.
func NewStatusObserver(store mission.Store, bus events.EventBus, logger *slog.Logger) *StatusObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusObserver{
		store:   store,
		bus:     bus,
		logger:  logger,
		current: make(map[string]mission.Status),
	}
}

// OnStateEnter implements workflow.Observer.
func (o *StatusObserver) OnStateEnter(ctx context.Context, ev workflow.StateEvent) error {
	publish(ctx, o.bus, o.logger, events.Event{
		Type:      events.EventStageStarted,
		MissionID: types.ID(ev.MissionID),
		Stage:     ev.Path,
		Payload: events.StagePayload{
			Kind:    string(ev.Kind),
			Depth:   ev.Depth,
			Attempt: ev.Attempt,
		},
	})

	if ev.Depth != 0 {
		return nil
	}
	status, ok := StageStatus(ev.State)
	if !ok {
		return nil
	}

	o.mu.Lock()
	from := o.current[ev.MissionID]
	o.mu.Unlock()
	if from == status {
		return nil
	}

	if err := o.store.Put(ctx, types.ID(ev.MissionID), status, mission.Delta{}); err != nil {
		return fmt.Errorf("failed to record status %s: %w", status, err)
	}

	o.mu.Lock()
	o.current[ev.MissionID] = status
	o.mu.Unlock()

	o.logger.InfoContext(ctx, "mission status changed",
		"mission_id", ev.MissionID,
		"from", from,
		"to", status,
		"state", ev.State,
	)
	publish(ctx, o.bus, o.logger, events.Event{
		Type:      events.EventMissionStatus,
		MissionID: types.ID(ev.MissionID),
		Stage:     ev.Path,
		Payload:   events.MissionStatusPayload{From: from.String(), To: status.String()},
	})
	return nil
}

// OnStateExit implements workflow.Observer.
func (o *StatusObserver) OnStateExit(ctx context.Context, ev workflow.StateEvent) error {
	payload := events.StagePayload{
		Kind:     string(ev.Kind),
		Depth:    ev.Depth,
		Attempt:  ev.Attempt,
		Duration: ev.Duration,
	}
	eventType := events.EventStageCompleted
	if ev.Err != nil {
		eventType = events.EventStageFailed
		payload.Error = ev.Err.Error()
	}
	publish(ctx, o.bus, o.logger, events.Event{
		Type:      eventType,
		MissionID: types.ID(ev.MissionID),
		Stage:     ev.Path,
		Payload:   payload,
	})

	if ev.Depth != 0 || ev.Err != nil {
		return nil
	}
	status, ok := StageStatus(ev.State)
	if !ok {
		return nil
	}
	if err := o.store.Put(ctx, types.ID(ev.MissionID), status, mission.Delta{Context: ev.Document}); err != nil {
		return fmt.Errorf("failed to save context after %s: %w", ev.State, err)
	}
	return nil
}

// Forget drops the bookkeeping of a finished mission.
func (o *StatusObserver) Forget(missionID types.ID) {
	o.mu.Lock()
	delete(o.current, missionID.String())
	o.mu.Unlock()
}

// publish sends an event stamped with the active span, logging rather than
// failing when the bus rejects it.
func publish(ctx context.Context, bus events.EventBus, logger *slog.Logger, evt events.Event) {
	if bus == nil {
		return
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		evt.TraceID = sc.TraceID().String()
		evt.SpanID = sc.SpanID().String()
	}
	if err := bus.Publish(ctx, evt); err != nil {
		logger.DebugContext(ctx, "event not published", "type", evt.Type, "error", err)
	}
}

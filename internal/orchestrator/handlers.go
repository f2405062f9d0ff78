package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbhatt1/hive-sub000/internal/agent"
	"github.com/mbhatt1/hive-sub000/internal/events"
	"github.com/mbhatt1/hive-sub000/internal/jobrunner"
	"github.com/mbhatt1/hive-sub000/internal/mission"
	"github.com/mbhatt1/hive-sub000/internal/notify"
	"github.com/mbhatt1/hive-sub000/internal/plan"
	"github.com/mbhatt1/hive-sub000/internal/types"
	"github.com/mbhatt1/hive-sub000/internal/workflow"
)

// Optional agents. When registered, the intake agent validates and enriches
// the intake payload and the failure handler is told about failed missions.
const (
	IntakeAgent         = "intake"
	FailureHandlerAgent = "failure_handler"
)

// EnvMissionError carries the error text to the failure handler job.
const EnvMissionError = "MISSION_ERROR"

type handlerFunc func(ctx context.Context, req workflow.TaskRequest) (any, error)

func (s *Service) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		ResourceIntake:        s.intake,
		ResourceValidatePlan:  s.validatePlan,
		ResourceRecordFailure: s.recordFailure,
		ResourceNotify:        s.notify,
	}
}

// invoke dispatches built-in resources to their handler and everything else to
// the stage invoker.
func (s *Service) invoke(ctx context.Context, req workflow.TaskRequest) (any, error) {
	if h, ok := s.builtin[req.Resource]; ok {
		return h(ctx, req)
	}
	return s.stages.Invoke(ctx, req)
}

// intake confirms the mission record exists and runs the optional intake
// agent. Store faults and launch faults are service exceptions and retried;
// a rejected payload is a validation failure.
func (s *Service) intake(ctx context.Context, req workflow.TaskRequest) (any, error) {
	id := types.ID(req.MissionID)
	if _, err := s.store.Get(ctx, id); err != nil {
		if errors.Is(err, mission.ErrNotFound) {
			return nil, &workflow.Error{Class: workflow.ErrorIntakeValidationFailure, Message: "mission record missing", Cause: err}
		}
		return nil, &workflow.Error{Class: workflow.ErrorIntakeServiceException, Message: "mission store unavailable", Cause: err}
	}

	if !s.registry.HasAgent(IntakeAgent) {
		return map[string]any{"accepted_at": time.Now().UTC().Format(time.RFC3339)}, nil
	}

	agentReq := req
	agentReq.Resource = agent.AgentPrefix + IntakeAgent
	out, err := s.stages.Invoke(ctx, agentReq)
	if err != nil {
		if jobrunner.IsClass(err, jobrunner.ClassNonZeroExit) || jobrunner.IsClass(err, jobrunner.ClassInvalidPayload) {
			return nil, &workflow.Error{Class: workflow.ErrorIntakeValidationFailure, Message: "intake rejected the mission", Cause: err}
		}
		return nil, &workflow.Error{Class: workflow.ErrorIntakeServiceException, Message: "intake agent unavailable", Cause: err}
	}
	return out, nil
}

// validatePlan rejects empty plans and plans naming unregistered tools before
// any tool job is launched.
func (s *Service) validatePlan(_ context.Context, req workflow.TaskRequest) (any, error) {
	p, err := plan.FromDocument(req.Input)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(s.registry.HasTool); err != nil {
		return nil, err
	}
	return nil, nil
}

// recordFailure is the failure path: it informs the optional failure handler,
// marks the mission FAILED and, when enabled, publishes a failure notification.
// A failing failure handler is logged and does not stop the record.
func (s *Service) recordFailure(ctx context.Context, req workflow.TaskRequest) (any, error) {
	info, _ := req.Input.Get(jsonPath(KeyError))
	text := errorText(info)
	id := types.ID(req.MissionID)
	logger := s.logger.With("mission_id", req.MissionID)

	if s.registry.HasAgent(FailureHandlerAgent) {
		handlerReq := req
		handlerReq.State = "FailureHandler"
		handlerReq.Resource = agent.AgentPrefix + FailureHandlerAgent
		handlerReq.Parameters = map[string]any{
			agent.ParamEnv: map[string]any{EnvMissionError: text},
		}
		if _, err := s.stages.Invoke(ctx, handlerReq); err != nil {
			logger.ErrorContext(ctx, "failure handler failed", "error", err)
		}
	}

	// the record must land even when the mission context is cancelled
	storeCtx := context.WithoutCancel(ctx)
	delta := mission.Delta{Error: text, Context: workflow.Document{KeyError: info}}
	if err := s.store.Put(storeCtx, id, mission.StatusFailed, delta); err != nil {
		return nil, fmt.Errorf("failed to record mission failure: %w", err)
	}
	logger.WarnContext(ctx, "mission failed", "error", text)

	m, err := s.store.Get(storeCtx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to reload mission: %w", err)
	}
	s.finished(storeCtx, m)

	if s.cfg.PublishFailures {
		if err := s.notifier.Publish(storeCtx, notificationFor(m)); err != nil {
			logger.ErrorContext(ctx, "failed to publish failure notification", "error", err)
		}
	}

	return map[string]any{"recorded": true, "error": text}, nil
}

// notify completes the mission and then publishes the success notification.
// The findings count comes from the Archivist, falling back to the Synthesizer.
// Once COMPLETED is recorded the mission is terminal, so a failed publish is
// only logged.
func (s *Service) notify(ctx context.Context, req workflow.TaskRequest) (any, error) {
	count := findingsCount(req.Input)
	id := types.ID(req.MissionID)

	if err := s.store.Put(ctx, id, mission.StatusCompleted, mission.Delta{Context: req.Input, FindingsCount: &count}); err != nil {
		return nil, fmt.Errorf("failed to complete mission: %w", err)
	}

	// the mission is terminal from here on
	ctx = context.WithoutCancel(ctx)
	m, err := s.store.Get(ctx, id)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to reload completed mission", "mission_id", id, "error", err)
		return completion(count), nil
	}
	s.finished(ctx, m)

	if err := s.notifier.Publish(ctx, notificationFor(m)); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish mission notification", "mission_id", id, "error", err)
	}
	return completion(count), nil
}

func completion(count int) map[string]any {
	return map[string]any{
		"status":         mission.StatusCompleted.String(),
		"findings_count": count,
	}
}

// finished emits the terminal mission event.
func (s *Service) finished(ctx context.Context, m *mission.Mission) {
	eventType := events.EventMissionCompleted
	if m.Status == mission.StatusFailed {
		eventType = events.EventMissionFailed
	}
	publish(ctx, s.bus, s.logger, events.Event{
		Type:      eventType,
		MissionID: m.ID,
		Payload: events.MissionFinishedPayload{
			Status:        m.Status.String(),
			FindingsCount: m.FindingsCount,
			Error:         m.Error,
			Duration:      m.Duration(),
		},
	})
}

func notificationFor(m *mission.Mission) notify.Notification {
	return notify.Notification{
		MissionID:     m.ID,
		ScanType:      m.ScanType,
		Status:        m.Status,
		FindingsCount: m.FindingsCount,
		Error:         m.Error,
		Timestamp:     time.Now().UTC(),
	}
}

// errorText renders a caught error document as "<class>: <cause>".
func errorText(info any) string {
	m, ok := info.(map[string]any)
	if !ok {
		if info == nil {
			return workflow.ErrorTaskFailed
		}
		return fmt.Sprint(info)
	}
	class, _ := m["Error"].(string)
	cause, _ := m["Cause"].(string)
	switch {
	case class != "" && cause != "":
		return class + ": " + cause
	case class != "":
		return class
	case cause != "":
		return cause
	default:
		return workflow.ErrorTaskFailed
	}
}

func findingsCount(doc workflow.Document) int {
	if v, ok := doc.Get(jsonPath(agent.ResultKey(StateArchivist) + ".findings_count")); ok {
		if n, ok := toInt(v); ok {
			return n
		}
	}
	if v, ok := doc.Get(jsonPath(KeySynthesisResults + "[0].findings")); ok {
		if list, ok := v.([]any); ok {
			return len(list)
		}
	}
	return 0
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

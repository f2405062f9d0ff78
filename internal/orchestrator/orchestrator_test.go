package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbhatt1/hive-sub000/internal/agent"
	"github.com/mbhatt1/hive-sub000/internal/config"
	"github.com/mbhatt1/hive-sub000/internal/events"
	"github.com/mbhatt1/hive-sub000/internal/jobrunner"
	"github.com/mbhatt1/hive-sub000/internal/mission"
	"github.com/mbhatt1/hive-sub000/internal/notify"
	"github.com/mbhatt1/hive-sub000/internal/types"
	"github.com/mbhatt1/hive-sub000/internal/workflow"
)

// fakeJobs answers stage jobs by STAGE_NAME.
type fakeJobs struct {
	mu       sync.Mutex
	calls    []string
	fail     map[string]bool
	payloads map[string]any
	delays   map[string]time.Duration

	toolDelay  time.Duration
	running    atomic.Int32
	maxRunning atomic.Int32
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{
		fail:   make(map[string]bool),
		delays: make(map[string]time.Duration),
		payloads: map[string]any{
			StateStrategist:  map[string]any{"focus": "iam"},
			StateCoordinator: planOf("semgrep", "gitleaks"),
			StateSynthesizer: map[string]any{"findings": []any{"f1", "f2"}},
			StateCritic:      map[string]any{"verdict": "accept"},
			StateArchivist:   map[string]any{"findings_count": 2},
		},
	}
}

func planOf(tools ...string) map[string]any {
	list := make([]any, 0, len(tools))
	for _, t := range tools {
		list = append(list, map[string]any{"tool": t})
	}
	return map[string]any{"tools": list}
}

func (f *fakeJobs) Run(ctx context.Context, spec jobrunner.JobSpec) (*jobrunner.JobResult, error) {
	stage := spec.Env[agent.EnvStageName]

	f.mu.Lock()
	f.calls = append(f.calls, stage)
	fail := f.fail[stage]
	payload, ok := f.payloads[stage]
	delay := f.delays[stage]
	f.mu.Unlock()

	if strings.HasPrefix(stage, "tool-") {
		n := f.running.Add(1)
		defer f.running.Add(-1)
		for {
			m := f.maxRunning.Load()
			if n <= m || f.maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		delay = f.toolDelay
		payload, ok = map[string]any{"job": spec.Name, "tool": spec.Env[agent.EnvToolName]}, true
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, &jobrunner.Error{Class: jobrunner.ClassNonZeroExit, Job: spec.Name, ExitCode: 1, Message: "exited with code 1"}
	}
	if !ok {
		payload = map[string]any{"stage": stage}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &jobrunner.JobResult{Payload: data, StartedAt: now, FinishedAt: now}, nil
}

func (f *fakeJobs) called(stage string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == stage {
			n++
		}
	}
	return n
}

// recordingStore records the sequence of distinct statuses written and can
// fail a number of reads or every write of one status.
type recordingStore struct {
	*mission.MemoryStore

	mu         sync.Mutex
	statuses   []mission.Status
	failGets   atomic.Int32
	failStatus mission.Status
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: mission.NewMemoryStore()}
}

func (s *recordingStore) Get(ctx context.Context, id types.ID) (*mission.Mission, error) {
	if s.failGets.Load() > 0 {
		s.failGets.Add(-1)
		return nil, errors.New("store unavailable")
	}
	return s.MemoryStore.Get(ctx, id)
}

func (s *recordingStore) Put(ctx context.Context, id types.ID, status mission.Status, delta mission.Delta) error {
	s.mu.Lock()
	if status == s.failStatus {
		s.mu.Unlock()
		return fmt.Errorf("store unavailable: cannot write %s", status)
	}
	if n := len(s.statuses); n == 0 || s.statuses[n-1] != status {
		s.statuses = append(s.statuses, status)
	}
	s.mu.Unlock()
	return s.MemoryStore.Put(ctx, id, status, delta)
}

func (s *recordingStore) history() []mission.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mission.Status(nil), s.statuses...)
}

type notifications struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (n *notifications) Publish(_ context.Context, msg notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *notifications) all() []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Notification(nil), n.sent...)
}

func testRegistry(t *testing.T, tools ...string) *agent.Registry {
	t.Helper()
	r := agent.NewRegistry()
	for _, name := range []string{"archaeologist", "strategist", "coordinator", "synthesizer", "critic", "archivist"} {
		require.NoError(t, r.RegisterAgent(name, agent.Definition{Image: "hive/" + name}))
	}
	for _, kind := range tools {
		require.NoError(t, r.RegisterTool(kind, agent.Definition{Image: "hive/tool-" + kind}))
	}
	return r
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Definition.ConsensusPolling = false
	cfg.Definition.ConsensusWait = 0
	cfg.Definition.IntakeBackoff = time.Millisecond
	return cfg
}

type harness struct {
	svc      *Service
	jobs     *fakeJobs
	store    *recordingStore
	notified *notifications
	registry *agent.Registry
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		jobs:     newFakeJobs(),
		store:    newRecordingStore(),
		notified: &notifications{},
		registry: testRegistry(t, "semgrep", "gitleaks", "trivy"),
	}
	svc, err := New(cfg, Deps{
		Store:    h.store,
		Runner:   h.jobs,
		Registry: h.registry,
		Notifier: h.notified,
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func TestRun_ScenarioA_AWS(t *testing.T) {
	h := newHarness(t, testConfig())

	m, err := h.svc.Run(context.Background(), mission.Input{MissionID: "m1", ScanType: mission.ScanTypeAWS})
	require.NoError(t, err)

	assert.Equal(t, mission.StatusCompleted, m.Status)
	assert.Equal(t, 2, m.FindingsCount)
	assert.Empty(t, m.Error)
	assert.NotNil(t, m.CompletedAt)

	assert.Zero(t, h.jobs.called(StateArchaeologist))
	assert.Equal(t, 1, h.jobs.called(StateStrategist))
	assert.Equal(t, 1, h.jobs.called("tool-semgrep"))
	assert.Equal(t, 1, h.jobs.called("tool-gitleaks"))
	assert.Equal(t, 1, h.jobs.called(StateArchivist))

	sent := h.notified.all()
	require.Len(t, sent, 1)
	assert.Equal(t, types.ID("m1"), sent[0].MissionID)
	assert.Equal(t, mission.StatusCompleted, sent[0].Status)
	assert.Equal(t, 2, sent[0].FindingsCount)

	assert.Equal(t, []mission.Status{
		mission.StatusRouting,
		mission.StatusContextGathering,
		mission.StatusPlanning,
		mission.StatusToolExecution,
		mission.StatusSynthesis,
		mission.StatusConsensusWait,
		mission.StatusArchiving,
		mission.StatusCompleted,
	}, h.store.history())

	results, ok := m.Context[KeyToolResults].([]any)
	require.True(t, ok)
	assert.Len(t, results, 2)
}

func TestRun_CodePathContextOrder(t *testing.T) {
	h := newHarness(t, testConfig())
	// the Archaeologist finishes last but stays at index 0
	h.jobs.delays[StateArchaeologist] = 50 * time.Millisecond
	h.jobs.payloads[StateArchaeologist] = map[string]any{"history": "deep"}

	m, err := h.svc.Run(context.Background(), mission.Input{MissionID: "code-1", ScanType: mission.ScanTypeCode})
	require.NoError(t, err)
	require.Equal(t, mission.StatusCompleted, m.Status)

	results, ok := m.Context[KeyContextResults].([]any)
	require.True(t, ok)
	require.Len(t, results, 2)
	assert.Equal(t, map[string]any{"history": "deep"}, results[0])
	assert.Equal(t, map[string]any{"focus": "iam"}, results[1])
}

func TestRun_UnknownScanTypeTakesCodePath(t *testing.T) {
	h := newHarness(t, testConfig())

	m, err := h.svc.Run(context.Background(), mission.Input{MissionID: "gcp-1", ScanType: "gcp"})
	require.NoError(t, err)
	assert.Equal(t, mission.StatusCompleted, m.Status)
	assert.Equal(t, 1, h.jobs.called(StateArchaeologist))
}

func TestRun_StrictScanType(t *testing.T) {
	cfg := testConfig()
	cfg.StrictScanType = true
	h := newHarness(t, cfg)

	_, err := h.svc.Run(context.Background(), mission.Input{MissionID: "gcp-1", ScanType: "gcp"})
	require.Error(t, err)
	assert.Equal(t, workflow.ErrorIntakeValidationFailure, workflow.ClassOf(err))

	_, err = h.store.MemoryStore.Get(context.Background(), "gcp-1")
	assert.ErrorIs(t, err, mission.ErrNotFound)
}

func TestRun_ScenarioB_CriticFails(t *testing.T) {
	h := newHarness(t, testConfig())
	h.jobs.fail[StateCritic] = true

	m, err := h.svc.Run(context.Background(), mission.Input{MissionID: "m2", ScanType: mission.ScanTypeCode})
	require.NoError(t, err)

	assert.Equal(t, mission.StatusFailed, m.Status)
	assert.NotEmpty(t, m.Error)
	assert.Contains(t, m.Error, workflow.ErrorJobNonZeroExit)

	info, ok := m.Context[KeyError].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, workflow.ErrorJobNonZeroExit, info["Error"])
	assert.Equal(t, StateCritic, info["State"])

	assert.Zero(t, h.jobs.called(StateArchivist))
	assert.Empty(t, h.notified.all())
	assert.Equal(t, mission.StatusFailed, h.store.history()[len(h.store.history())-1])
}

func TestRun_FailureNotificationWhenEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.PublishFailures = true
	h := newHarness(t, cfg)
	h.jobs.fail[StateCoordinator] = true

	m, err := h.svc.Run(context.Background(), mission.Input{MissionID: "m2b", ScanType: mission.ScanTypeAWS})
	require.NoError(t, err)
	require.Equal(t, mission.StatusFailed, m.Status)

	sent := h.notified.all()
	require.Len(t, sent, 1)
	assert.Equal(t, mission.StatusFailed, sent[0].Status)
	assert.NotEmpty(t, sent[0].Error)
}

func TestRun_FailureHandlerAgent(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.registry.RegisterAgent(FailureHandlerAgent, agent.Definition{Image: "hive/failure-handler"}))
	h.jobs.fail[StateSynthesizer] = true

	var gotErr atomic.Value
	svc, err := New(testConfig(), Deps{
		Store:    h.store,
		Registry: h.registry,
		Runner: jobrunner.RunnerFunc(func(ctx context.Context, spec jobrunner.JobSpec) (*jobrunner.JobResult, error) {
			if spec.Env[agent.EnvStageName] == "FailureHandler" {
				gotErr.Store(spec.Env[EnvMissionError])
				// a broken failure handler must not stop the record
				return nil, &jobrunner.Error{Class: jobrunner.ClassNonZeroExit, Job: spec.Name, ExitCode: 2}
			}
			return h.jobs.Run(ctx, spec)
		}),
	})
	require.NoError(t, err)

	m, err := svc.Run(context.Background(), mission.Input{MissionID: "m2c", ScanType: mission.ScanTypeAWS})
	require.NoError(t, err)
	assert.Equal(t, mission.StatusFailed, m.Status)
	assert.Contains(t, gotErr.Load(), workflow.ErrorJobNonZeroExit)
}

func TestRun_ScenarioC_TwelveTools(t *testing.T) {
	h := newHarness(t, testConfig())
	tools := []string{"semgrep", "gitleaks", "trivy"}
	var plan []string
	for i := 0; i < 12; i++ {
		plan = append(plan, tools[i%len(tools)])
	}
	h.jobs.payloads[StateCoordinator] = planOf(plan...)
	h.jobs.toolDelay = 20 * time.Millisecond

	m, err := h.svc.Run(context.Background(), mission.Input{MissionID: "m3", ScanType: mission.ScanTypeAWS})
	require.NoError(t, err)
	require.Equal(t, mission.StatusCompleted, m.Status)

	assert.LessOrEqual(t, h.jobs.maxRunning.Load(), int32(5))
	assert.Greater(t, h.jobs.maxRunning.Load(), int32(1))

	results, ok := m.Context[KeyToolResults].([]any)
	require.True(t, ok)
	require.Len(t, results, 12)
	for i, r := range results {
		entry := r.(map[string]any)
		assert.Equal(t, fmt.Sprintf("m3-tool-%d-%s", i, plan[i]), entry["job"])
		assert.Equal(t, plan[i], entry["tool"])
	}
}

func TestRun_ToolFailureIsFailFast(t *testing.T) {
	h := newHarness(t, testConfig())
	h.jobs.fail["tool-gitleaks"] = true

	m, err := h.svc.Run(context.Background(), mission.Input{MissionID: "m4", ScanType: mission.ScanTypeAWS})
	require.NoError(t, err)
	assert.Equal(t, mission.StatusFailed, m.Status)
	assert.Zero(t, h.jobs.called(StateSynthesizer))
}

func TestRun_ToleratedToolFailures(t *testing.T) {
	cfg := testConfig()
	cfg.Definition.ToleratedToolFailures = 1
	h := newHarness(t, cfg)
	h.jobs.fail["tool-gitleaks"] = true

	m, err := h.svc.Run(context.Background(), mission.Input{MissionID: "m5", ScanType: mission.ScanTypeAWS})
	require.NoError(t, err)
	require.Equal(t, mission.StatusCompleted, m.Status)

	results := m.Context[KeyToolResults].([]any)
	require.Len(t, results, 2)
	failed := results[1].(map[string]any)
	assert.Equal(t, workflow.ErrorJobNonZeroExit, failed["Error"])
}

func TestRun_PlanInvalid(t *testing.T) {
	tests := []struct {
		name string
		plan any
	}{
		{name: "empty plan", plan: planOf()},
		{name: "unknown tool", plan: planOf("semgrep", "nmap")},
		{name: "malformed", plan: map[string]any{"tools": "semgrep"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig())
			h.jobs.payloads[StateCoordinator] = tt.plan

			m, err := h.svc.Run(context.Background(), mission.Input{MissionID: "plan", ScanType: mission.ScanTypeAWS})
			require.NoError(t, err)
			assert.Equal(t, mission.StatusFailed, m.Status)
			assert.Contains(t, m.Error, workflow.ErrorPlanInvalid)
			assert.Zero(t, h.jobs.called("tool-semgrep"))
		})
	}
}

func TestRun_IdempotentRedelivery(t *testing.T) {
	tests := []struct {
		name       string
		failCritic bool
		want       mission.Status
	}{
		{name: "completed", want: mission.StatusCompleted},
		{name: "failed", failCritic: true, want: mission.StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig())
			h.jobs.fail[StateCritic] = tt.failCritic
			in := mission.Input{MissionID: "dup", ScanType: mission.ScanTypeAWS}

			first, err := h.svc.Run(context.Background(), in)
			require.NoError(t, err)
			require.Equal(t, tt.want, first.Status)
			calls := h.jobs.called(StateStrategist)

			second, err := h.svc.Run(context.Background(), in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, second.Status)
			assert.Equal(t, calls, h.jobs.called(StateStrategist))
			assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
		})
	}
}

func TestRun_InProgressRedelivery(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	require.NoError(t, h.store.Create(ctx, mission.New(mission.Input{MissionID: "busy", ScanType: mission.ScanTypeAWS})))

	_, err := h.svc.Run(ctx, mission.Input{MissionID: "busy", ScanType: mission.ScanTypeAWS})
	assert.ErrorIs(t, err, ErrMissionInProgress)
	assert.Zero(t, h.jobs.called(StateStrategist))
}

func TestRun_IntakeRetriesServiceExceptions(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()
	ch, cancel := bus.Subscribe(context.Background(), events.Filter{Types: []events.EventType{events.EventStageCompleted}}, 128)
	defer cancel()

	h := newHarness(t, testConfig())
	h.store.failGets.Store(2)
	svc, err := New(testConfig(), Deps{Store: h.store, Runner: h.jobs, Registry: h.registry, Bus: bus})
	require.NoError(t, err)

	m, err := svc.Run(context.Background(), mission.Input{MissionID: "retry", ScanType: mission.ScanTypeAWS})
	require.NoError(t, err)
	assert.Equal(t, mission.StatusCompleted, m.Status)

	select {
	case evt := <-ch:
		assert.Equal(t, StateIntake, evt.Stage)
		payload, ok := evt.Payload.(events.StagePayload)
		require.True(t, ok)
		assert.Equal(t, 2, payload.Attempt)
	case <-time.After(time.Second):
		t.Fatal("missing intake completion event")
	}
}

func TestRun_IntakeGivesUp(t *testing.T) {
	cfg := testConfig()
	cfg.Definition.IntakeMaxAttempts = 2
	h := newHarness(t, cfg)
	// both intake attempts hit the outage
	h.store.failGets.Store(2)

	m, err := h.svc.Run(context.Background(), mission.Input{MissionID: "down", ScanType: mission.ScanTypeAWS})
	require.NoError(t, err)
	assert.Equal(t, mission.StatusFailed, m.Status)
	assert.Contains(t, m.Error, workflow.ErrorIntakeServiceException)
	assert.Zero(t, h.jobs.called(StateStrategist))
}

func TestRun_IntakeAgentRejects(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.registry.RegisterAgent(IntakeAgent, agent.Definition{Image: "hive/intake"}))
	h.jobs.fail[StateIntake] = true

	m, err := h.svc.Run(context.Background(), mission.Input{MissionID: "rejected", ScanType: mission.ScanTypeAWS})
	require.NoError(t, err)
	assert.Equal(t, mission.StatusFailed, m.Status)
	assert.Contains(t, m.Error, workflow.ErrorIntakeValidationFailure)
	// validation failures are not retried
	assert.Equal(t, 1, h.jobs.called(StateIntake))
}

func TestRun_MissionTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Definition.MissionTimeout = time.Second
	cfg.PublishFailures = true
	h := newHarness(t, cfg)
	require.NoError(t, h.registry.RegisterAgent(FailureHandlerAgent, agent.Definition{Image: "hive/failure-handler"}))
	h.jobs.delays[StateCoordinator] = 10 * time.Second

	start := time.Now()
	m, err := h.svc.Run(context.Background(), mission.Input{MissionID: "slow", ScanType: mission.ScanTypeAWS})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, mission.StatusFailed, m.Status)
	assert.True(t, strings.HasPrefix(m.Error, workflow.ErrorTimeout+": execution exceeded timeout of 1s"), m.Error)
	assert.NotContains(t, m.Error, StateRecordFailure)
	assert.Zero(t, h.jobs.called(StateSynthesizer))

	// the timeout goes down the failure path like any other error
	assert.Equal(t, 1, h.jobs.called("FailureHandler"))
	info, ok := m.Context[KeyError].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, workflow.ErrorTimeout, info["Error"])
	assert.Equal(t, StateCoordinator, info["State"])

	sent := h.notified.all()
	require.Len(t, sent, 1)
	assert.Equal(t, mission.StatusFailed, sent[0].Status)
}

func TestRun_CompletionWriteFails(t *testing.T) {
	h := newHarness(t, testConfig())
	h.store.failStatus = mission.StatusCompleted

	m, err := h.svc.Run(context.Background(), mission.Input{MissionID: "nb", ScanType: mission.ScanTypeCode})
	require.NoError(t, err)

	assert.Equal(t, mission.StatusFailed, m.Status)
	assert.Contains(t, m.Error, "failed to complete mission")
	assert.Empty(t, h.notified.all())
}

type failingChannel struct {
	calls atomic.Int32
}

func (c *failingChannel) Publish(context.Context, notify.Notification) error {
	c.calls.Add(1)
	return errors.New("topic unavailable")
}

func TestRun_PublishFailureKeepsCompletion(t *testing.T) {
	h := newHarness(t, testConfig())
	channel := &failingChannel{}
	svc, err := New(testConfig(), Deps{Store: h.store, Runner: h.jobs, Registry: h.registry, Notifier: channel})
	require.NoError(t, err)

	m, err := svc.Run(context.Background(), mission.Input{MissionID: "pub", ScanType: mission.ScanTypeCode})
	require.NoError(t, err)

	assert.Equal(t, mission.StatusCompleted, m.Status)
	assert.Empty(t, m.Error)
	assert.Equal(t, 2, m.FindingsCount)
	assert.Equal(t, int32(1), channel.calls.Load())
}

func TestRun_ConsensusTieBreak(t *testing.T) {
	cfg := testConfig()
	cfg.Definition.ConsensusPolling = true
	cfg.Definition.ConsensusPollInterval = 5 * time.Millisecond
	cfg.Definition.ConsensusTimeout = 30 * time.Millisecond
	h := newHarness(t, cfg)

	m, err := h.svc.Run(context.Background(), mission.Input{MissionID: "tie", ScanType: mission.ScanTypeAWS})
	require.NoError(t, err)
	require.Equal(t, mission.StatusCompleted, m.Status)

	consensus, ok := m.Context[KeyConsensus].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, consensus["agreed"])
	assert.Equal(t, "critic", consensus["resolution"])
	assert.Equal(t, map[string]any{"verdict": "accept"}, consensus["verdict"])
}

func TestConsensusPoller(t *testing.T) {
	ctx := context.Background()
	store := mission.NewMemoryStore()
	m := mission.New(mission.Input{MissionID: "agree", ScanType: mission.ScanTypeCode})
	require.NoError(t, store.Create(ctx, m))

	p := NewConsensusPoller(store)
	doc := m.Context.Clone()

	_, ready, err := p.Poll(ctx, doc)
	require.NoError(t, err)
	assert.False(t, ready)

	require.NoError(t, store.Put(ctx, m.ID, mission.StatusIntaken, mission.Delta{
		Context: workflow.Document{KeyAgreement: map[string]any{"agreed": false}},
	}))
	_, ready, err = p.Poll(ctx, doc)
	require.NoError(t, err)
	assert.False(t, ready)

	require.NoError(t, store.Put(ctx, m.ID, mission.StatusIntaken, mission.Delta{
		Context: workflow.Document{KeyAgreement: map[string]any{"agreed": true, "findings": []any{"f1"}}},
	}))
	result, ready, err := p.Poll(ctx, doc)
	require.NoError(t, err)
	require.True(t, ready)
	assert.Equal(t, map[string]any{"agreed": true, "findings": []any{"f1"}, "resolution": "agreement"}, result)

	_, _, err = p.Poll(ctx, workflow.Document{workflow.MissionIDKey: "missing"})
	assert.ErrorIs(t, err, mission.ErrNotFound)
}

func TestConsensusPoller_OnPollTimeout(t *testing.T) {
	p := NewConsensusPoller(mission.NewMemoryStore())
	doc := workflow.Document{
		KeySynthesisResults: []any{map[string]any{"findings": []any{}}, map[string]any{"verdict": "reject"}},
	}

	got, err := p.OnPollTimeout(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"agreed":     false,
		"resolution": "critic",
		"verdict":    map[string]any{"verdict": "reject"},
	}, got)
}

func TestRun_PublishesEvents(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()
	ctx := context.Background()
	ch, cancel := bus.Subscribe(ctx, events.Filter{
		Types: []events.EventType{events.EventMissionStarted, events.EventMissionStatus, events.EventMissionCompleted},
	}, 128)
	defer cancel()

	h := newHarness(t, testConfig())
	svc, err := New(testConfig(), Deps{Store: h.store, Runner: h.jobs, Registry: h.registry, Bus: bus})
	require.NoError(t, err)

	_, err = svc.Run(ctx, mission.Input{MissionID: "evt", ScanType: mission.ScanTypeAWS})
	require.NoError(t, err)

	var got []events.EventType
	timeout := time.After(time.Second)
	for len(got) == 0 || got[len(got)-1] != events.EventMissionCompleted {
		select {
		case evt := <-ch:
			assert.Equal(t, types.ID("evt"), evt.MissionID)
			got = append(got, evt.Type)
		case <-timeout:
			t.Fatalf("missing completion event, got %v", got)
		}
	}
	assert.Equal(t, events.EventMissionStarted, got[0])
	assert.Contains(t, got, events.EventMissionStatus)
}

func TestNew_CustomDefinition(t *testing.T) {
	h := newHarness(t, testConfig())

	_, err := New(testConfig(), Deps{
		Store:      h.store,
		Runner:     h.jobs,
		Definition: &workflow.Workflow{Name: "broken", StartAt: "Missing"},
	})
	require.Error(t, err)

	wf := workflow.NewBuilder("minimal").
		StartAt("Intake").
		Task("Intake", ResourceIntake, jsonPath(KeyIntake), "Done").
		Succeed("Done").
		MustBuild()
	svc, err := New(testConfig(), Deps{Store: h.store, Runner: h.jobs, Definition: wf})
	require.NoError(t, err)
	assert.Same(t, wf, svc.Definition())

	// the execution ends without a notify stage; the mission still completes
	m, err := svc.Run(context.Background(), mission.Input{MissionID: "mini", ScanType: mission.ScanTypeCode})
	require.NoError(t, err)
	assert.Equal(t, mission.StatusCompleted, m.Status)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(testConfig(), Deps{Runner: newFakeJobs()})
	assert.Error(t, err)

	_, err = New(testConfig(), Deps{Store: mission.NewMemoryStore()})
	assert.Error(t, err)
}

func TestConfigFrom(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Orchestrator.ToolConcurrency = 7
	cfg.Intake.MaxAttempts = 4
	cfg.Intake.StrictScanType = true
	cfg.Notifications.PublishFailures = true

	got := ConfigFrom(cfg)
	assert.Equal(t, 7, got.Definition.ToolConcurrency)
	assert.Equal(t, 4, got.Definition.IntakeMaxAttempts)
	assert.True(t, got.Definition.ConsensusPolling)
	assert.True(t, got.StrictScanType)
	assert.True(t, got.PublishFailures)
	assert.Equal(t, cfg.Runner.Limits, got.DefaultLimits)
}

func TestErrorText(t *testing.T) {
	tests := []struct {
		name string
		info any
		want string
	}{
		{name: "class and cause", info: map[string]any{"Error": "Job.NonZeroExit", "Cause": "exited with code 1"}, want: "Job.NonZeroExit: exited with code 1"},
		{name: "class only", info: map[string]any{"Error": "States.Timeout"}, want: "States.Timeout"},
		{name: "nil", info: nil, want: workflow.ErrorTaskFailed},
		{name: "string", info: "boom", want: "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorText(tt.info))
		})
	}
}

func TestFindingsCount(t *testing.T) {
	tests := []struct {
		name string
		doc  workflow.Document
		want int
	}{
		{name: "archivist count", doc: workflow.Document{"archivist_result": map[string]any{"findings_count": float64(4)}}, want: 4},
		{name: "synthesizer findings", doc: workflow.Document{KeySynthesisResults: []any{map[string]any{"findings": []any{"a", "b", "c"}}}}, want: 3},
		{name: "nothing", doc: workflow.Document{}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, findingsCount(tt.doc))
		})
	}
}

package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbhatt1/hive-sub000/internal/mission"
	"github.com/mbhatt1/hive-sub000/internal/workflow"
)

func TestDefaultDefinition(t *testing.T) {
	wf, err := DefaultDefinition(DefaultDefinitionConfig())
	require.NoError(t, err)
	require.NoError(t, workflow.Validate(wf))

	assert.Equal(t, DefinitionName, wf.Name)
	assert.Equal(t, StateIntake, wf.StartAt)
	assert.Equal(t, time.Hour, wf.Timeout())

	intake := wf.States[StateIntake].(*workflow.TaskNode)
	require.Len(t, intake.Retry, 1)
	assert.Equal(t, []string{workflow.ErrorIntakeServiceException}, intake.Retry[0].ErrorEquals)
	assert.Equal(t, 2, intake.Retry[0].MaxRetries)

	route := wf.States[StateRoute].(*workflow.ChoiceNode)
	require.Len(t, route.Rules, 1)
	assert.Equal(t, StateStrategist, route.Rules[0].Next)
	assert.Equal(t, StateContextDiscovery, route.Default)

	discovery := wf.States[StateContextDiscovery].(*workflow.ParallelNode)
	require.Len(t, discovery.Branches, 2)
	assert.Equal(t, StateArchaeologist, discovery.Branches[0].StartAt)
	assert.Equal(t, StateStrategist, discovery.Branches[1].StartAt)

	tools := wf.States[StateToolExecution].(*workflow.MapNode)
	assert.Equal(t, 5, tools.MaxConcurrency)
	assert.Equal(t, "$.execution_plan.tools", tools.ItemsPath)
	assert.Equal(t, "$.mcp_results", tools.ResultPath)

	consensus := wf.States[StateConsensusWait].(*workflow.WaitNode)
	assert.Equal(t, ConsensusPollerName, consensus.Poller)
	assert.Equal(t, 5*time.Minute, consensus.PollTimeout)
}

func TestDefaultDefinition_CatchAll(t *testing.T) {
	wf, err := DefaultDefinition(DefaultDefinitionConfig())
	require.NoError(t, err)

	for _, name := range []string{StateIntake, StateStrategist, StateCoordinator, StateValidatePlan, StateToolExecution, StateSynthesisCrucible, StateArchivist, StateNotify} {
		t.Run(name, func(t *testing.T) {
			var catch []workflow.Catcher
			switch n := wf.States[name].(type) {
			case *workflow.TaskNode:
				catch = n.Catch
			case *workflow.ParallelNode:
				catch = n.Catch
			case *workflow.MapNode:
				catch = n.Catch
			}
			require.Len(t, catch, 1)
			assert.Equal(t, StateRecordFailure, catch[0].Next)
			assert.Equal(t, "$.error", catch[0].ResultPath)
		})
	}

	assert.Empty(t, wf.States[StateRecordFailure].(*workflow.TaskNode).Catch)
}

func TestDefaultDefinition_FixedConsensusWait(t *testing.T) {
	cfg := DefaultDefinitionConfig()
	cfg.ConsensusPolling = false
	cfg.ConsensusWait = 45 * time.Second

	wf, err := DefaultDefinition(cfg)
	require.NoError(t, err)

	consensus := wf.States[StateConsensusWait].(*workflow.WaitNode)
	assert.Equal(t, 45, consensus.Seconds)
	assert.Empty(t, consensus.Poller)
}

func TestDefaultDefinition_RoundTripsThroughYAML(t *testing.T) {
	wf, err := DefaultDefinition(DefaultDefinitionConfig())
	require.NoError(t, err)

	data, err := workflow.MarshalWorkflow(wf)
	require.NoError(t, err)

	parsed, err := workflow.ParseWorkflow(data)
	require.NoError(t, err)

	again, err := workflow.MarshalWorkflow(parsed)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func TestStageStatus(t *testing.T) {
	tests := []struct {
		state  string
		want   mission.Status
		mapped bool
	}{
		{state: StateRoute, want: mission.StatusRouting, mapped: true},
		{state: StateStrategist, want: mission.StatusContextGathering, mapped: true},
		{state: StateContextDiscovery, want: mission.StatusContextGathering, mapped: true},
		{state: StateValidatePlan, want: mission.StatusPlanning, mapped: true},
		{state: StateToolExecution, want: mission.StatusToolExecution, mapped: true},
		{state: StateConsensusWait, want: mission.StatusConsensusWait, mapped: true},
		{state: StateArchivist, want: mission.StatusArchiving, mapped: true},
		{state: StateIntake},
		{state: StateNotify},
		{state: StateRecordFailure},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			got, ok := StageStatus(tt.state)
			assert.Equal(t, tt.mapped, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

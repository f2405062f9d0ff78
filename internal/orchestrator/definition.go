package orchestrator

import (
	"strings"
	"time"

	"github.com/mbhatt1/hive-sub000/internal/agent"
	"github.com/mbhatt1/hive-sub000/internal/mission"
	"github.com/mbhatt1/hive-sub000/internal/plan"
	"github.com/mbhatt1/hive-sub000/internal/workflow"
)

// DefinitionName names the built-in pipeline.
const DefinitionName = "hive-mission"

// Top-level state names of the built-in pipeline.
const (
	StateIntake            = "Intake"
	StateRoute             = "Route"
	StateStrategist        = "Strategist"
	StateContextDiscovery  = "ContextDiscovery"
	StateArchaeologist     = "Archaeologist"
	StateCoordinator       = "Coordinator"
	StateValidatePlan      = "ValidatePlan"
	StateToolExecution     = "ToolExecution"
	StateRunTool           = "RunTool"
	StateSynthesisCrucible = "SynthesisCrucible"
	StateSynthesizer       = "Synthesizer"
	StateCritic            = "Critic"
	StateConsensusWait     = "ConsensusWait"
	StateArchivist         = "Archivist"
	StateNotify            = "Notify"
	StateMissionSucceeded  = "MissionSucceeded"
	StateRecordFailure     = "RecordFailure"
	StateFailureRecorded   = "FailureRecorded"
)

// Resources handled inside the orchestrator rather than by a job.
const (
	ResourceIntake        = "hive:intake"
	ResourceValidatePlan  = "hive:validate_plan"
	ResourceRecordFailure = "hive:record_failure"
	ResourceNotify        = "hive:notify"
)

// Document keys written by the pipeline.
const (
	KeyIntake           = "intake"
	KeyContextResults   = "context_results"
	KeyToolResults      = "mcp_results"
	KeySynthesisResults = "synthesis_results"
	KeyConsensus        = "consensus"
	KeyError            = "error"
	KeyFailure          = "failure"
	KeyNotification     = "notification"
)

// ConsensusPollerName is the poller registered for the consensus wait.
const ConsensusPollerName = "consensus"

// DefinitionConfig tunes the built-in pipeline.
type DefinitionConfig struct {
	MissionTimeout        time.Duration
	ToolConcurrency       int
	ToleratedToolFailures int

	// ConsensusWait is the fixed delay used when ConsensusPolling is off.
	ConsensusWait         time.Duration
	ConsensusPolling      bool
	ConsensusPollInterval time.Duration
	ConsensusTimeout      time.Duration

	IntakeMaxAttempts int
	IntakeBackoff     time.Duration
}

// DefaultDefinitionConfig returns the production defaults.
func DefaultDefinitionConfig() DefinitionConfig {
	return DefinitionConfig{
		MissionTimeout:        time.Hour,
		ToolConcurrency:       5,
		ConsensusWait:         30 * time.Second,
		ConsensusPolling:      true,
		ConsensusPollInterval: 10 * time.Second,
		ConsensusTimeout:      5 * time.Minute,
		IntakeMaxAttempts:     3,
		IntakeBackoff:         time.Second,
	}
}

func jsonPath(key string) string {
	return "$." + key
}

func agentTask(state, resultPath string) *workflow.TaskNode {
	return &workflow.TaskNode{
		StateName:  state,
		Resource:   agent.AgentPrefix + strings.ToLower(state),
		ResultPath: resultPath,
		Transition: workflow.Transition{End: true},
	}
}

// branch wraps a single agent stage as a parallel branch. The branch output is
// the stage result.
func branch(state string) *workflow.Workflow {
	return &workflow.Workflow{
		Name:    state,
		StartAt: state,
		States:  map[string]workflow.Node{state: agentTask(state, "")},
	}
}

// DefaultDefinition builds the mission pipeline.
func DefaultDefinition(cfg DefinitionConfig) (*workflow.Workflow, error) {
	intakeRetries := cfg.IntakeMaxAttempts - 1
	if intakeRetries < 0 {
		intakeRetries = 0
	}

	consensus := &workflow.WaitNode{
		StateName:  StateConsensusWait,
		Seconds:    int(cfg.ConsensusWait / time.Second),
		Transition: workflow.Transition{Next: StateArchivist},
	}
	if cfg.ConsensusPolling {
		consensus.Seconds = 0
		consensus.Poller = ConsensusPollerName
		consensus.PollInterval = cfg.ConsensusPollInterval
		consensus.PollTimeout = cfg.ConsensusTimeout
		consensus.ResultPath = jsonPath(KeyConsensus)
	}

	tools := &workflow.Workflow{
		Name:    StateRunTool,
		StartAt: StateRunTool,
		States: map[string]workflow.Node{
			StateRunTool: &workflow.TaskNode{
				StateName:    StateRunTool,
				Resource:     agent.ToolPrefix,
				ResourcePath: "$.item.tool",
				Transition:   workflow.Transition{End: true},
			},
		},
	}

	strategist := agentTask(StateStrategist, jsonPath(agent.ResultKey(StateStrategist)))
	strategist.Transition = workflow.Transition{Next: StateCoordinator}
	coordinator := agentTask(StateCoordinator, jsonPath(plan.ContextKey))
	coordinator.Transition = workflow.Transition{Next: StateValidatePlan}
	archivist := agentTask(StateArchivist, jsonPath(agent.ResultKey(StateArchivist)))
	archivist.Transition = workflow.Transition{Next: StateNotify}

	return workflow.NewBuilder(DefinitionName).
		Comment("Hive mission pipeline").
		StartAt(StateIntake).
		TimeoutSeconds(int(cfg.MissionTimeout/time.Second)).
		DefaultCatch(StateRecordFailure, jsonPath(KeyError)).
		Add(&workflow.TaskNode{
			StateName:  StateIntake,
			Resource:   ResourceIntake,
			ResultPath: jsonPath(KeyIntake),
			Retry: []workflow.RetryPolicy{{
				ErrorEquals:     []string{workflow.ErrorIntakeServiceException},
				MaxRetries:      intakeRetries,
				BackoffStrategy: workflow.BackoffExponential,
				InitialDelay:    cfg.IntakeBackoff,
				Multiplier:      2,
			}},
			Transition: workflow.Transition{Next: StateRoute},
		}).
		Choice(StateRoute, StateContextDiscovery,
			workflow.StringEquals(jsonPath(mission.ContextKeyScanType), mission.ScanTypeAWS, StateStrategist),
		).
		Add(strategist).
		Parallel(StateContextDiscovery, jsonPath(KeyContextResults), StateCoordinator,
			branch(StateArchaeologist),
			branch(StateStrategist),
		).
		Add(coordinator).
		Task(StateValidatePlan, ResourceValidatePlan, "", StateToolExecution).
		Add(&workflow.MapNode{
			StateName:             StateToolExecution,
			ItemsPath:             jsonPath(plan.ContextKey + ".tools"),
			Iterator:              tools,
			MaxConcurrency:        cfg.ToolConcurrency,
			ToleratedFailureCount: cfg.ToleratedToolFailures,
			ResultPath:            jsonPath(KeyToolResults),
			Transition:            workflow.Transition{Next: StateSynthesisCrucible},
		}).
		Parallel(StateSynthesisCrucible, jsonPath(KeySynthesisResults), StateConsensusWait,
			branch(StateSynthesizer),
			branch(StateCritic),
		).
		Add(consensus).
		Add(archivist).
		Task(StateNotify, ResourceNotify, jsonPath(KeyNotification), StateMissionSucceeded).
		Succeed(StateMissionSucceeded).
		Task(StateRecordFailure, ResourceRecordFailure, jsonPath(KeyFailure), StateFailureRecorded).
		Succeed(StateFailureRecorded).
		Build()
}

// stageStatuses maps top-level states to the mission status entered with
// them. States not listed leave the status unchanged.
var stageStatuses = map[string]mission.Status{
	StateRoute:             mission.StatusRouting,
	StateStrategist:        mission.StatusContextGathering,
	StateContextDiscovery:  mission.StatusContextGathering,
	StateCoordinator:       mission.StatusPlanning,
	StateValidatePlan:      mission.StatusPlanning,
	StateToolExecution:     mission.StatusToolExecution,
	StateSynthesisCrucible: mission.StatusSynthesis,
	StateConsensusWait:     mission.StatusConsensusWait,
	StateArchivist:         mission.StatusArchiving,
}

// StageStatus returns the mission status for a top-level state.
func StageStatus(state string) (mission.Status, bool) {
	s, ok := stageStatuses[state]
	return s, ok
}

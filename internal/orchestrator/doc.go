// Package orchestrator runs missions through the Hive pipeline.
//
// The pipeline is a workflow.Workflow interpreted by workflow.Engine:
//
//	Intake -> Route -> {Strategist | ContextDiscovery(Archaeologist, Strategist)}
//	       -> Coordinator -> ValidatePlan -> ToolExecution(map)
//	       -> SynthesisCrucible(Synthesizer, Critic) -> ConsensusWait
//	       -> Archivist -> Notify -> MissionSucceeded
//
// Every state after intake catches all errors into RecordFailure, which
// records the mission as FAILED and ends in FailureRecorded.
//
// A Service owns the engine and the collaborators it needs: the mission
// store, the job runner (through an agent.StageInvoker), the notification
// channel and the event bus. Mission status follows the top-level state being
// executed and is persisted on every transition by StatusObserver.
package orchestrator

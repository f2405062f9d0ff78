// Package workflow provides the state-machine engine that drives Hive missions.
//
// A Workflow is pure data: a named set of states, a StartAt state and an optional
// timeout. Each state is one of a small set of tagged variants interpreted by a
// single Engine:
//
//   - TaskNode: invokes an external resource through an Invoker and merges the
//     result into the mission document under its ResultPath
//   - ChoiceNode: ordered rules over document values, first match wins
//   - ParallelNode: runs nested branch workflows concurrently on identical
//     snapshots and merges their outputs in declaration order
//   - MapNode: runs an iterator workflow once per item of a list with bounded
//     concurrency and merges outputs in input order
//   - WaitNode: fixed delay, absolute timestamp or poll-until-ready
//   - SucceedNode and FailNode: terminal states
//
// # Documents
//
// Every execution carries a Document, a JSON-like map keyed by strings. Paths
// such as "$.execution_plan.tools" address values inside it using JSONPath.
// Stages only ever see deep-copied snapshots of the document, so a stage cannot
// mutate state it does not own. The "mission_id" key is immutable; the engine
// re-checks it after every merge.
//
// # Errors
//
// Failures are reported as *Error values carrying an error class such as
// "States.Timeout" or "Job.NonZeroExit". Task, Parallel, Map and Wait states
// can declare Retry policies and Catch handlers keyed by class. "States.ALL"
// matches any class.
//
// # Definitions
//
// Workflows can be assembled in Go with the Builder or loaded from YAML:
//
//	name: example
//	start_at: Hello
//	states:
//	  Hello:
//	    type: task
//	    resource: agent:hello
//	    result_path: $.hello_result
//	    end: true
package workflow

package workflow

import (
	"sort"
	"time"
)

// Workflow is a state graph. Branches of a ParallelNode and the iterator of a
// MapNode are Workflows themselves.
type Workflow struct {
	Name    string
	Comment string
	StartAt string
	States  map[string]Node
	// TimeoutSeconds bounds the whole execution. Only honoured on the
	// top-level workflow.
	TimeoutSeconds int
	// OutputPath selects the branch output reported to a parent Parallel or
	// Map state. When empty the last task result is used.
	OutputPath string
}

// Timeout returns the configured execution timeout, zero if unbounded.
func (w *Workflow) Timeout() time.Duration {
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// State returns the named state.
func (w *Workflow) State(name string) (Node, bool) {
	node, ok := w.States[name]
	return node, ok
}

// StateNames returns all state names in lexical order.
func (w *Workflow) StateNames() []string {
	names := make([]string, 0, len(w.States))
	for name := range w.States {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExecutionStatus represents the outcome of an execution.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionTimedOut  ExecutionStatus = "timed_out"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// IsTerminal returns true if the status represents a final state
func (s ExecutionStatus) IsTerminal() bool {
	return s != ExecutionRunning
}

// Execution records the outcome of one Engine.Execute call.
type Execution struct {
	ID          string
	Workflow    string
	Status      ExecutionStatus
	Document    Document
	Error       *Error
	Visited     []string
	StartedAt   time.Time
	CompletedAt time.Time
}

// Duration returns the wall-clock duration of the execution.
func (e *Execution) Duration() time.Duration {
	if e.CompletedAt.IsZero() {
		return time.Since(e.StartedAt)
	}
	return e.CompletedAt.Sub(e.StartedAt)
}

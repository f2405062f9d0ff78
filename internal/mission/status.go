package mission

// Status is the progress of a mission through the pipeline.
type Status string

const (
	StatusIntaken          Status = "INTAKEN"
	StatusRouting          Status = "ROUTING"
	StatusContextGathering Status = "CONTEXT_GATHERING"
	StatusPlanning         Status = "PLANNING"
	StatusToolExecution    Status = "TOOL_EXECUTION"
	StatusSynthesis        Status = "SYNTHESIS"
	StatusConsensusWait    Status = "CONSENSUS_WAIT"
	StatusArchiving        Status = "ARCHIVING"
	StatusCompleted        Status = "COMPLETED"
	StatusFailed           Status = "FAILED"
)

// pipeline lists the non-failure statuses in order.
var pipeline = []Status{
	StatusIntaken,
	StatusRouting,
	StatusContextGathering,
	StatusPlanning,
	StatusToolExecution,
	StatusSynthesis,
	StatusConsensusWait,
	StatusArchiving,
	StatusCompleted,
}

// Statuses returns every status in pipeline order, FAILED last.
func Statuses() []Status {
	out := make([]Status, 0, len(pipeline)+1)
	out = append(out, pipeline...)
	return append(out, StatusFailed)
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	return s == StatusFailed || s.rank() >= 0
}

// IsTerminal reports whether s is COMPLETED or FAILED.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) rank() int {
	for i, p := range pipeline {
		if p == s {
			return i
		}
	}
	return -1
}

// CanTransitionTo reports whether a mission in status s may move to target.
// Progress only moves forward; stages may be skipped (the aws path never
// gathers context). FAILED is reachable from any non-terminal status.
// Terminal statuses never change.
func (s Status) CanTransitionTo(target Status) bool {
	if s.IsTerminal() || !target.IsValid() {
		return false
	}
	if target == StatusFailed {
		return true
	}
	return target.rank() > s.rank()
}

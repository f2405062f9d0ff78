package workflow

import (
	"math"
	"time"
)

// BackoffStrategy defines the strategy for calculating retry delays
type BackoffStrategy string

const (
	// BackoffConstant returns a constant delay for all retry attempts
	BackoffConstant BackoffStrategy = "constant"
	// BackoffLinear increases the delay linearly with each retry attempt
	BackoffLinear BackoffStrategy = "linear"
	// BackoffExponential increases the delay exponentially with each retry attempt
	BackoffExponential BackoffStrategy = "exponential"
)

// NodeKind identifies the variant of a workflow state.
type NodeKind string

const (
	KindTask     NodeKind = "task"
	KindChoice   NodeKind = "choice"
	KindParallel NodeKind = "parallel"
	KindMap      NodeKind = "map"
	KindWait     NodeKind = "wait"
	KindSucceed  NodeKind = "succeed"
	KindFail     NodeKind = "fail"
)

// Node is a single state of a workflow graph. The concrete types in this file
// are the only implementations; the Engine switches on them.
type Node interface {
	// Name returns the state name, unique within its workflow.
	Name() string
	// Kind returns the variant tag.
	Kind() NodeKind
	// NextState returns the successor on success, empty for terminal states.
	NextState() string
}

// Transition holds the common successor fields of non-terminal states.
type Transition struct {
	Next string
	End  bool
}

// NextState returns the successor state name.
func (t Transition) NextState() string {
	return t.Next
}

// RetryPolicy defines the retry behavior for errors matching ErrorEquals
type RetryPolicy struct {
	// ErrorEquals lists the error classes this policy applies to
	ErrorEquals []string
	// MaxRetries is the maximum number of retry attempts
	MaxRetries int
	// BackoffStrategy determines how delays are calculated between retries
	BackoffStrategy BackoffStrategy
	// InitialDelay is the delay before the first retry attempt
	InitialDelay time.Duration
	// MaxDelay is the maximum delay between retry attempts (used for exponential backoff)
	MaxDelay time.Duration
	// Multiplier is the factor by which the delay increases (used for exponential backoff)
	Multiplier float64
}

// CalculateDelay calculates the delay duration for a given retry attempt
// based on the configured backoff strategy
func (rp *RetryPolicy) CalculateDelay(attempt int) time.Duration {
	switch rp.BackoffStrategy {
	case BackoffConstant:
		return rp.InitialDelay
	case BackoffLinear:
		return rp.InitialDelay + (rp.InitialDelay * time.Duration(attempt))
	case BackoffExponential:
		multiplier := rp.Multiplier
		if multiplier <= 0 {
			multiplier = 2
		}
		delay := time.Duration(float64(rp.InitialDelay) * math.Pow(multiplier, float64(attempt)))
		if rp.MaxDelay > 0 && delay > rp.MaxDelay {
			return rp.MaxDelay
		}
		return delay
	default:
		return rp.InitialDelay
	}
}

// Catcher routes a matching error to another state. When ResultPath is set the
// error info ({Error, Cause, State}) is merged there first.
type Catcher struct {
	ErrorEquals []string
	Next        string
	ResultPath  string
}

// TaskNode invokes a resource and merges its result under ResultPath.
type TaskNode struct {
	StateName string
	// Resource names the invoked target, e.g. "agent:coordinator". When
	// ResourcePath is set, the string found there is appended to Resource.
	Resource     string
	ResourcePath string
	// Parameters are passed to the invoker. String values starting with "$."
	// are resolved against the document snapshot.
	Parameters     map[string]any
	ResultPath     string
	TimeoutSeconds int
	Retry          []RetryPolicy
	Catch          []Catcher
	Transition
}

func (n *TaskNode) Name() string   { return n.StateName }
func (n *TaskNode) Kind() NodeKind { return KindTask }

// ChoiceNode selects the successor from ordered rules.
type ChoiceNode struct {
	StateName string
	Rules     []ChoiceRule
	Default   string
}

func (n *ChoiceNode) Name() string      { return n.StateName }
func (n *ChoiceNode) Kind() NodeKind    { return KindChoice }
func (n *ChoiceNode) NextState() string { return n.Default }

// ParallelNode runs each branch on its own snapshot and merges the branch
// outputs as an array in declaration order.
type ParallelNode struct {
	StateName  string
	Branches   []*Workflow
	ResultPath string
	Retry      []RetryPolicy
	Catch      []Catcher
	Transition
}

func (n *ParallelNode) Name() string   { return n.StateName }
func (n *ParallelNode) Kind() NodeKind { return KindParallel }

// MapNode runs Iterator once per element of the list at ItemsPath. Each
// iteration sees a document of the form {mission_id, index, item} plus the
// resolved Parameters.
type MapNode struct {
	StateName      string
	ItemsPath      string
	Iterator       *Workflow
	MaxConcurrency int
	// ToleratedFailureCount is the number of failed items accepted before the
	// map fails. Zero means fail-fast.
	ToleratedFailureCount int
	Parameters            map[string]any
	ResultPath            string
	Retry                 []RetryPolicy
	Catch                 []Catcher
	Transition
}

func (n *MapNode) Name() string   { return n.StateName }
func (n *MapNode) Kind() NodeKind { return KindMap }

// WaitNode pauses the branch. Exactly one of Seconds, TimestampPath or Poller
// is used, in that order of precedence. A poller result is merged under
// ResultPath.
type WaitNode struct {
	StateName     string
	Seconds       int
	TimestampPath string
	Poller        string
	PollInterval  time.Duration
	PollTimeout   time.Duration
	ResultPath    string
	Catch         []Catcher
	Transition
}

func (n *WaitNode) Name() string   { return n.StateName }
func (n *WaitNode) Kind() NodeKind { return KindWait }

// SucceedNode ends the branch successfully.
type SucceedNode struct {
	StateName string
}

func (n *SucceedNode) Name() string      { return n.StateName }
func (n *SucceedNode) Kind() NodeKind    { return KindSucceed }
func (n *SucceedNode) NextState() string { return "" }

// FailNode ends the branch with an error of class Error.
type FailNode struct {
	StateName string
	Error     string
	Cause     string
}

func (n *FailNode) Name() string      { return n.StateName }
func (n *FailNode) Kind() NodeKind    { return KindFail }
func (n *FailNode) NextState() string { return "" }

// catchersOf returns the catch handlers declared by a node.
func catchersOf(node Node) []Catcher {
	switch n := node.(type) {
	case *TaskNode:
		return n.Catch
	case *ParallelNode:
		return n.Catch
	case *MapNode:
		return n.Catch
	case *WaitNode:
		return n.Catch
	default:
		return nil
	}
}

// retriersOf returns the retry policies declared by a node.
func retriersOf(node Node) []RetryPolicy {
	switch n := node.(type) {
	case *TaskNode:
		return n.Retry
	case *ParallelNode:
		return n.Retry
	case *MapNode:
		return n.Retry
	default:
		return nil
	}
}

// isEnd reports whether a node terminates its branch on success.
func isEnd(node Node) bool {
	switch n := node.(type) {
	case *TaskNode:
		return n.End
	case *ParallelNode:
		return n.End
	case *MapNode:
		return n.End
	case *WaitNode:
		return n.End
	case *SucceedNode, *FailNode:
		return true
	default:
		return false
	}
}

package workflow

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLWorkflow represents the top-level structure of a workflow YAML file.
type YAMLWorkflow struct {
	Name           string               `yaml:"name"`
	Comment        string               `yaml:"comment,omitempty"`
	StartAt        string               `yaml:"start_at"`
	TimeoutSeconds int                  `yaml:"timeout_seconds,omitempty"`
	OutputPath     string               `yaml:"output_path,omitempty"`
	States         map[string]YAMLState `yaml:"states"`
}

// YAMLState represents a state definition of any kind in YAML format.
type YAMLState struct {
	Type    string `yaml:"type"`
	Comment string `yaml:"comment,omitempty"`
	Next    string `yaml:"next,omitempty"`
	End     bool   `yaml:"end,omitempty"`

	// Task fields
	Resource       string         `yaml:"resource,omitempty"`
	ResourcePath   string         `yaml:"resource_path,omitempty"`
	Parameters     map[string]any `yaml:"parameters,omitempty"`
	ResultPath     string         `yaml:"result_path,omitempty"`
	TimeoutSeconds int            `yaml:"timeout_seconds,omitempty"`
	Retry          []YAMLRetry    `yaml:"retry,omitempty"`
	Catch          []YAMLCatch    `yaml:"catch,omitempty"`

	// Choice fields
	Choices []YAMLChoice `yaml:"choices,omitempty"`
	Default string       `yaml:"default,omitempty"`

	// Parallel fields
	Branches []YAMLWorkflow `yaml:"branches,omitempty"`

	// Map fields
	ItemsPath             string        `yaml:"items_path,omitempty"`
	Iterator              *YAMLWorkflow `yaml:"iterator,omitempty"`
	MaxConcurrency        int           `yaml:"max_concurrency,omitempty"`
	ToleratedFailureCount int           `yaml:"tolerated_failure_count,omitempty"`

	// Wait fields
	Seconds       int    `yaml:"seconds,omitempty"`
	TimestampPath string `yaml:"timestamp_path,omitempty"`
	Poller        string `yaml:"poller,omitempty"`
	PollInterval  string `yaml:"poll_interval,omitempty"`
	PollTimeout   string `yaml:"poll_timeout,omitempty"`

	// Fail fields
	Error string `yaml:"error,omitempty"`
	Cause string `yaml:"cause,omitempty"`
}

// YAMLRetry represents retry policy configuration in YAML format.
type YAMLRetry struct {
	ErrorEquals  []string `yaml:"error_equals"`
	MaxRetries   int      `yaml:"max_retries"`
	Backoff      string   `yaml:"backoff,omitempty"`
	InitialDelay string   `yaml:"initial_delay,omitempty"`
	MaxDelay     string   `yaml:"max_delay,omitempty"`
	Multiplier   float64  `yaml:"multiplier,omitempty"`
}

// YAMLCatch represents a catch handler in YAML format.
type YAMLCatch struct {
	ErrorEquals []string `yaml:"error_equals"`
	Next        string   `yaml:"next"`
	ResultPath  string   `yaml:"result_path,omitempty"`
}

// YAMLChoice represents a choice rule in YAML format.
type YAMLChoice struct {
	Variable      string   `yaml:"variable"`
	StringEquals  *string  `yaml:"string_equals,omitempty"`
	BooleanEquals *bool    `yaml:"boolean_equals,omitempty"`
	NumericEquals *float64 `yaml:"numeric_equals,omitempty"`
	IsPresent     *bool    `yaml:"is_present,omitempty"`
	Next          string   `yaml:"next"`
}

// ParseWorkflow parses a YAML workflow definition and validates it.
func ParseWorkflow(data []byte) (*Workflow, error) {
	var yw YAMLWorkflow
	if err := yaml.Unmarshal(data, &yw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if yw.Name == "" {
		return nil, fmt.Errorf("workflow name is required")
	}

	wf, err := convertYAMLWorkflow(&yw)
	if err != nil {
		return nil, err
	}
	if err := Validate(wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// ParseWorkflowFile reads and parses a YAML workflow definition from disk.
func ParseWorkflowFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	return ParseWorkflow(data)
}

// MarshalWorkflow renders a workflow as YAML.
func MarshalWorkflow(wf *Workflow) ([]byte, error) {
	return yaml.Marshal(toYAMLWorkflow(wf))
}

func convertYAMLWorkflow(yw *YAMLWorkflow) (*Workflow, error) {
	wf := &Workflow{
		Name:           yw.Name,
		Comment:        yw.Comment,
		StartAt:        yw.StartAt,
		TimeoutSeconds: yw.TimeoutSeconds,
		OutputPath:     yw.OutputPath,
		States:         make(map[string]Node, len(yw.States)),
	}
	for name, ys := range yw.States {
		node, err := convertYAMLState(name, &ys)
		if err != nil {
			return nil, fmt.Errorf("state %q: %w", name, err)
		}
		wf.States[name] = node
	}
	return wf, nil
}

func convertYAMLState(name string, ys *YAMLState) (Node, error) {
	transition := Transition{Next: ys.Next, End: ys.End}

	retry, err := convertYAMLRetry(ys.Retry)
	if err != nil {
		return nil, err
	}
	catch := make([]Catcher, 0, len(ys.Catch))
	for _, c := range ys.Catch {
		catch = append(catch, Catcher{ErrorEquals: c.ErrorEquals, Next: c.Next, ResultPath: c.ResultPath})
	}
	if len(catch) == 0 {
		catch = nil
	}

	switch NodeKind(strings.ToLower(ys.Type)) {
	case KindTask:
		return &TaskNode{
			StateName:      name,
			Resource:       ys.Resource,
			ResourcePath:   ys.ResourcePath,
			Parameters:     ys.Parameters,
			ResultPath:     ys.ResultPath,
			TimeoutSeconds: ys.TimeoutSeconds,
			Retry:          retry,
			Catch:          catch,
			Transition:     transition,
		}, nil
	case KindChoice:
		rules := make([]ChoiceRule, 0, len(ys.Choices))
		for _, c := range ys.Choices {
			rules = append(rules, ChoiceRule{
				Variable:      c.Variable,
				StringEquals:  c.StringEquals,
				BooleanEquals: c.BooleanEquals,
				NumericEquals: c.NumericEquals,
				IsPresent:     c.IsPresent,
				Next:          c.Next,
			})
		}
		return &ChoiceNode{StateName: name, Rules: rules, Default: ys.Default}, nil
	case KindParallel:
		branches := make([]*Workflow, 0, len(ys.Branches))
		for i := range ys.Branches {
			branch, err := convertYAMLWorkflow(&ys.Branches[i])
			if err != nil {
				return nil, fmt.Errorf("branch %d: %w", i, err)
			}
			branches = append(branches, branch)
		}
		return &ParallelNode{
			StateName:  name,
			Branches:   branches,
			ResultPath: ys.ResultPath,
			Retry:      retry,
			Catch:      catch,
			Transition: transition,
		}, nil
	case KindMap:
		var iterator *Workflow
		if ys.Iterator != nil {
			iterator, err = convertYAMLWorkflow(ys.Iterator)
			if err != nil {
				return nil, fmt.Errorf("iterator: %w", err)
			}
		}
		return &MapNode{
			StateName:             name,
			ItemsPath:             ys.ItemsPath,
			Iterator:              iterator,
			MaxConcurrency:        ys.MaxConcurrency,
			ToleratedFailureCount: ys.ToleratedFailureCount,
			Parameters:            ys.Parameters,
			ResultPath:            ys.ResultPath,
			Retry:                 retry,
			Catch:                 catch,
			Transition:            transition,
		}, nil
	case KindWait:
		interval, err := parseOptionalDuration(ys.PollInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid poll_interval: %w", err)
		}
		timeout, err := parseOptionalDuration(ys.PollTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid poll_timeout: %w", err)
		}
		return &WaitNode{
			StateName:     name,
			Seconds:       ys.Seconds,
			TimestampPath: ys.TimestampPath,
			Poller:        ys.Poller,
			PollInterval:  interval,
			PollTimeout:   timeout,
			ResultPath:    ys.ResultPath,
			Catch:         catch,
			Transition:    transition,
		}, nil
	case KindSucceed:
		return &SucceedNode{StateName: name}, nil
	case KindFail:
		return &FailNode{StateName: name, Error: ys.Error, Cause: ys.Cause}, nil
	default:
		return nil, fmt.Errorf("unknown state type %q", ys.Type)
	}
}

func convertYAMLRetry(in []YAMLRetry) ([]RetryPolicy, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]RetryPolicy, 0, len(in))
	for _, yr := range in {
		initial, err := parseOptionalDuration(yr.InitialDelay)
		if err != nil {
			return nil, fmt.Errorf("invalid initial_delay: %w", err)
		}
		maxDelay, err := parseOptionalDuration(yr.MaxDelay)
		if err != nil {
			return nil, fmt.Errorf("invalid max_delay: %w", err)
		}

		backoff := BackoffStrategy(strings.ToLower(yr.Backoff))
		switch backoff {
		case "":
			backoff = BackoffConstant
		case BackoffConstant, BackoffLinear, BackoffExponential:
		default:
			return nil, fmt.Errorf("invalid backoff strategy %q (must be constant, linear, or exponential)", yr.Backoff)
		}

		out = append(out, RetryPolicy{
			ErrorEquals:     yr.ErrorEquals,
			MaxRetries:      yr.MaxRetries,
			BackoffStrategy: backoff,
			InitialDelay:    initial,
			MaxDelay:        maxDelay,
			Multiplier:      yr.Multiplier,
		})
	}
	return out, nil
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func formatOptionalDuration(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}

func toYAMLWorkflow(wf *Workflow) YAMLWorkflow {
	yw := YAMLWorkflow{
		Name:           wf.Name,
		Comment:        wf.Comment,
		StartAt:        wf.StartAt,
		TimeoutSeconds: wf.TimeoutSeconds,
		OutputPath:     wf.OutputPath,
		States:         make(map[string]YAMLState, len(wf.States)),
	}
	for name, node := range wf.States {
		yw.States[name] = toYAMLState(node)
	}
	return yw
}

func toYAMLState(node Node) YAMLState {
	ys := YAMLState{Type: string(node.Kind())}

	for _, c := range catchersOf(node) {
		ys.Catch = append(ys.Catch, YAMLCatch{ErrorEquals: c.ErrorEquals, Next: c.Next, ResultPath: c.ResultPath})
	}
	for _, r := range retriersOf(node) {
		ys.Retry = append(ys.Retry, YAMLRetry{
			ErrorEquals:  r.ErrorEquals,
			MaxRetries:   r.MaxRetries,
			Backoff:      string(r.BackoffStrategy),
			InitialDelay: formatOptionalDuration(r.InitialDelay),
			MaxDelay:     formatOptionalDuration(r.MaxDelay),
			Multiplier:   r.Multiplier,
		})
	}

	switch n := node.(type) {
	case *TaskNode:
		ys.Next, ys.End = n.Next, n.End
		ys.Resource = n.Resource
		ys.ResourcePath = n.ResourcePath
		ys.Parameters = n.Parameters
		ys.ResultPath = n.ResultPath
		ys.TimeoutSeconds = n.TimeoutSeconds
	case *ChoiceNode:
		ys.Default = n.Default
		for _, r := range n.Rules {
			ys.Choices = append(ys.Choices, YAMLChoice{
				Variable:      r.Variable,
				StringEquals:  r.StringEquals,
				BooleanEquals: r.BooleanEquals,
				NumericEquals: r.NumericEquals,
				IsPresent:     r.IsPresent,
				Next:          r.Next,
			})
		}
	case *ParallelNode:
		ys.Next, ys.End = n.Next, n.End
		ys.ResultPath = n.ResultPath
		for _, b := range n.Branches {
			ys.Branches = append(ys.Branches, toYAMLWorkflow(b))
		}
	case *MapNode:
		ys.Next, ys.End = n.Next, n.End
		ys.ItemsPath = n.ItemsPath
		ys.MaxConcurrency = n.MaxConcurrency
		ys.ToleratedFailureCount = n.ToleratedFailureCount
		ys.Parameters = n.Parameters
		ys.ResultPath = n.ResultPath
		if n.Iterator != nil {
			it := toYAMLWorkflow(n.Iterator)
			ys.Iterator = &it
		}
	case *WaitNode:
		ys.Next, ys.End = n.Next, n.End
		ys.Seconds = n.Seconds
		ys.TimestampPath = n.TimestampPath
		ys.Poller = n.Poller
		ys.PollInterval = formatOptionalDuration(n.PollInterval)
		ys.PollTimeout = formatOptionalDuration(n.PollTimeout)
		ys.ResultPath = n.ResultPath
	case *FailNode:
		ys.Error = n.Error
		ys.Cause = n.Cause
	}
	return ys
}

package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ohler55/ojg/jp"
)

// ValidationError collects every problem found in a workflow definition.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid workflow: %s", strings.Join(e.Problems, "; "))
}

// ErrorClass implements ErrorClasser.
func (e *ValidationError) ErrorClass() string {
	return ErrorRuntime
}

// Validate checks a workflow and all nested branches for structural errors:
// missing or unknown targets, Choice states without a Default, under-sized
// Parallel states, Map states without an iterator, states that cannot be
// reached from StartAt and non-terminal states without a successor.
func Validate(w *Workflow) error {
	v := &validator{}
	v.workflow(w, "")
	if len(v.problems) > 0 {
		return &ValidationError{Problems: v.problems}
	}
	return nil
}

type validator struct {
	problems []string
}

func (v *validator) addf(prefix, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if prefix != "" {
		msg = prefix + ": " + msg
	}
	v.problems = append(v.problems, msg)
}

func (v *validator) workflow(w *Workflow, prefix string) {
	if w == nil {
		v.addf(prefix, "workflow cannot be nil")
		return
	}
	if len(w.States) == 0 {
		v.addf(prefix, "workflow must contain at least one state")
		return
	}
	if w.StartAt == "" {
		v.addf(prefix, "start_at is required")
	} else if _, ok := w.States[w.StartAt]; !ok {
		v.addf(prefix, "start_at references unknown state %q", w.StartAt)
	}
	if w.OutputPath != "" {
		if _, err := jp.ParseString(w.OutputPath); err != nil {
			v.addf(prefix, "invalid output_path %q: %v", w.OutputPath, err)
		}
	}

	for _, name := range w.StateNames() {
		node := w.States[name]
		if node == nil {
			v.addf(prefix, "state %q is nil", name)
			continue
		}
		if node.Name() != name {
			v.addf(prefix, "state %q is registered under name %q", node.Name(), name)
		}
		v.node(w, node, join(prefix, name))
	}

	if w.StartAt != "" {
		reachable := reachableStates(w)
		for _, name := range w.StateNames() {
			if !reachable[name] {
				v.addf(prefix, "state %q is unreachable from %q", name, w.StartAt)
			}
		}
	}
}

func (v *validator) node(w *Workflow, node Node, prefix string) {
	v.transition(w, node, prefix)

	for _, c := range catchersOf(node) {
		if len(c.ErrorEquals) == 0 {
			v.addf(prefix, "catch requires error_equals")
		}
		v.target(w, prefix, "catch next", c.Next)
		if c.ResultPath != "" {
			if err := validateResultPath(c.ResultPath); err != nil {
				v.addf(prefix, "catch %v", err)
			}
		}
	}
	for _, r := range retriersOf(node) {
		if len(r.ErrorEquals) == 0 {
			v.addf(prefix, "retry requires error_equals")
		}
		if r.MaxRetries < 0 {
			v.addf(prefix, "retry max_retries cannot be negative")
		}
	}

	switch n := node.(type) {
	case *TaskNode:
		if n.Resource == "" && n.ResourcePath == "" {
			v.addf(prefix, "task requires a resource")
		}
		if n.ResourcePath != "" {
			if _, err := jp.ParseString(n.ResourcePath); err != nil {
				v.addf(prefix, "invalid resource_path %q: %v", n.ResourcePath, err)
			}
		}
		v.resultPath(prefix, n.ResultPath)
		if n.TimeoutSeconds < 0 {
			v.addf(prefix, "timeout_seconds cannot be negative")
		}
	case *ChoiceNode:
		if len(n.Rules) == 0 {
			v.addf(prefix, "choice requires at least one rule")
		}
		for i, rule := range n.Rules {
			if rule.operator() == "" {
				v.addf(prefix, "rule %d has no operator", i)
			}
			if _, err := jp.ParseString(rule.Variable); err != nil || rule.Variable == "" {
				v.addf(prefix, "rule %d has invalid variable %q", i, rule.Variable)
			}
			v.target(w, prefix, fmt.Sprintf("rule %d next", i), rule.Next)
		}
		if n.Default == "" {
			v.addf(prefix, "choice requires a default")
		} else {
			v.target(w, prefix, "default", n.Default)
		}
	case *ParallelNode:
		if len(n.Branches) < 2 {
			v.addf(prefix, "parallel requires at least 2 branches, got %d", len(n.Branches))
		}
		v.resultPath(prefix, n.ResultPath)
		for i, branch := range n.Branches {
			v.workflow(branch, fmt.Sprintf("%s/branch[%d]", prefix, i))
		}
	case *MapNode:
		if n.ItemsPath == "" {
			v.addf(prefix, "map requires items_path")
		} else if _, err := jp.ParseString(n.ItemsPath); err != nil {
			v.addf(prefix, "invalid items_path %q: %v", n.ItemsPath, err)
		}
		if n.MaxConcurrency < 1 {
			v.addf(prefix, "map max_concurrency must be at least 1")
		}
		if n.ToleratedFailureCount < 0 {
			v.addf(prefix, "tolerated_failure_count cannot be negative")
		}
		v.resultPath(prefix, n.ResultPath)
		if n.Iterator == nil {
			v.addf(prefix, "map requires an iterator")
		} else {
			v.workflow(n.Iterator, prefix+"/iterator")
		}
	case *WaitNode:
		if n.Seconds < 0 {
			v.addf(prefix, "wait seconds cannot be negative")
		}
		if n.Poller != "" && n.PollInterval <= 0 {
			v.addf(prefix, "wait with poller requires a positive poll_interval")
		}
		v.resultPath(prefix, n.ResultPath)
	case *FailNode:
		if n.Error == "" {
			v.addf(prefix, "fail requires an error class")
		}
	case *SucceedNode:
	default:
		v.addf(prefix, "unsupported state type %T", node)
	}
}

func (v *validator) transition(w *Workflow, node Node, prefix string) {
	var t Transition
	switch n := node.(type) {
	case *TaskNode:
		t = n.Transition
	case *ParallelNode:
		t = n.Transition
	case *MapNode:
		t = n.Transition
	case *WaitNode:
		t = n.Transition
	default:
		return
	}

	switch {
	case t.End && t.Next != "":
		v.addf(prefix, "state cannot declare both next and end")
	case !t.End && t.Next == "":
		v.addf(prefix, "non-terminal state requires next or end")
	case t.Next != "":
		v.target(w, prefix, "next", t.Next)
	}
}

func (v *validator) target(w *Workflow, prefix, field, name string) {
	if name == "" {
		v.addf(prefix, "%s is required", field)
		return
	}
	if _, ok := w.States[name]; !ok {
		v.addf(prefix, "%s references unknown state %q", field, name)
	}
}

func (v *validator) resultPath(prefix, path string) {
	if path == "" {
		return
	}
	if err := validateResultPath(path); err != nil {
		v.addf(prefix, "result_path: %v", err)
	}
}

// reachableStates walks the graph depth-first from StartAt following every
// successor, rule target and catch target.
func reachableStates(w *Workflow) map[string]bool {
	seen := make(map[string]bool, len(w.States))
	var visit func(name string)
	visit = func(name string) {
		if name == "" || seen[name] {
			return
		}
		node, ok := w.States[name]
		if !ok || node == nil {
			return
		}
		seen[name] = true
		for _, next := range successors(node) {
			visit(next)
		}
	}
	visit(w.StartAt)
	return seen
}

// successors returns every state a node can transition to.
func successors(node Node) []string {
	var out []string
	if next := node.NextState(); next != "" {
		out = append(out, next)
	}
	if choice, ok := node.(*ChoiceNode); ok {
		for _, rule := range choice.Rules {
			out = append(out, rule.Next)
		}
	}
	for _, c := range catchersOf(node) {
		out = append(out, c.Next)
	}
	return out
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// IsValidationError reports whether err came from Validate.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

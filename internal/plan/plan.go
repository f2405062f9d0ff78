// Package plan models the execution plan produced by the Coordinator stage.
//
// A plan is an ordered list of tool specifications. It is read-only once
// produced: consumers decode their own copy from the mission context and never
// write it back.
package plan

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/mbhatt1/hive-sub000/internal/workflow"
)

// ContextKey is the mission context key the Coordinator writes the plan to.
const ContextKey = "execution_plan"

// ToolSpec names one tool invocation and its tool-specific parameters.
type ToolSpec struct {
	Tool   string         `mapstructure:"tool" json:"tool"`
	Params map[string]any `mapstructure:"params" json:"params,omitempty"`
}

// ExecutionPlan is the ordered list of tools chosen for a mission.
type ExecutionPlan struct {
	Tools     []ToolSpec `mapstructure:"tools" json:"tools"`
	Rationale string     `mapstructure:"rationale" json:"rationale,omitempty"`
}

// Decode converts the generic document value stored under ContextKey into an
// ExecutionPlan.
func Decode(raw any) (*ExecutionPlan, error) {
	if raw == nil {
		return nil, invalid("no execution plan was produced")
	}

	var p ExecutionPlan
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		ErrorUnused:      false,
		WeaklyTypedInput: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create plan decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, &workflow.Error{Class: workflow.ErrorPlanInvalid, Message: "malformed execution plan", Cause: err}
	}
	return &p, nil
}

// FromDocument decodes the plan held by a mission context.
func FromDocument(doc workflow.Document) (*ExecutionPlan, error) {
	raw, _ := doc.Get("$." + ContextKey)
	return Decode(raw)
}

// Validate checks that the plan is non-empty and that every tool is known.
// known may be nil to skip the registry check.
func (p *ExecutionPlan) Validate(known func(tool string) bool) error {
	if p == nil || len(p.Tools) == 0 {
		return invalid("execution plan has no tools")
	}

	var problems []string
	for i, t := range p.Tools {
		switch {
		case strings.TrimSpace(t.Tool) == "":
			problems = append(problems, fmt.Sprintf("tools[%d]: tool name is required", i))
		case known != nil && !known(t.Tool):
			problems = append(problems, fmt.Sprintf("tools[%d]: unknown tool %q", i, t.Tool))
		}
	}
	if len(problems) > 0 {
		return invalid(strings.Join(problems, "; "))
	}
	return nil
}

// Kinds returns the distinct tool kinds in first-seen order.
func (p *ExecutionPlan) Kinds() []string {
	seen := make(map[string]bool, len(p.Tools))
	var kinds []string
	for _, t := range p.Tools {
		if !seen[t.Tool] {
			seen[t.Tool] = true
			kinds = append(kinds, t.Tool)
		}
	}
	return kinds
}

func invalid(msg string) error {
	return &workflow.Error{Class: workflow.ErrorPlanInvalid, Message: msg}
}

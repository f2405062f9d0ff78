package workflow

import (
	"errors"
	"fmt"
)

// Builder provides a fluent API for constructing workflows.
// It accumulates errors during building and reports them all at Build() time.
type Builder struct {
	workflow     *Workflow
	defaultCatch *Catcher
	errors       []error
}

// NewBuilder creates a new Builder for a workflow with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{
		workflow: &Workflow{
			Name:   name,
			States: make(map[string]Node),
		},
	}
}

// StartAt sets the initial state.
func (b *Builder) StartAt(name string) *Builder {
	b.workflow.StartAt = name
	return b
}

// Comment sets a free-form description.
func (b *Builder) Comment(comment string) *Builder {
	b.workflow.Comment = comment
	return b
}

// TimeoutSeconds bounds the whole execution.
func (b *Builder) TimeoutSeconds(seconds int) *Builder {
	b.workflow.TimeoutSeconds = seconds
	return b
}

// OutputPath selects the branch output reported to a parent state.
func (b *Builder) OutputPath(path string) *Builder {
	b.workflow.OutputPath = path
	return b
}

// DefaultCatch appends a catch-all handler routing to next to every Task,
// Parallel, Map and Wait state added afterwards that does not already catch
// States.ALL.
func (b *Builder) DefaultCatch(next, resultPath string) *Builder {
	b.defaultCatch = &Catcher{ErrorEquals: []string{ErrorAll}, Next: next, ResultPath: resultPath}
	return b
}

// Add registers a state. Duplicate names are reported at Build time.
func (b *Builder) Add(node Node) *Builder {
	if node == nil {
		b.errors = append(b.errors, fmt.Errorf("cannot add nil state"))
		return b
	}
	if node.Name() == "" {
		b.errors = append(b.errors, fmt.Errorf("state must have a name"))
		return b
	}
	if _, exists := b.workflow.States[node.Name()]; exists {
		b.errors = append(b.errors, fmt.Errorf("state %q already exists", node.Name()))
		return b
	}
	b.applyDefaultCatch(node)
	b.workflow.States[node.Name()] = node
	return b
}

// Task adds a Task state invoking resource.
func (b *Builder) Task(name, resource, resultPath, next string) *Builder {
	if resource == "" {
		b.errors = append(b.errors, fmt.Errorf("task %q must have a resource", name))
		return b
	}
	return b.Add(&TaskNode{
		StateName:  name,
		Resource:   resource,
		ResultPath: resultPath,
		Transition: transitionTo(next),
	})
}

// Choice adds a Choice state.
func (b *Builder) Choice(name, defaultNext string, rules ...ChoiceRule) *Builder {
	return b.Add(&ChoiceNode{StateName: name, Rules: rules, Default: defaultNext})
}

// Parallel adds a Parallel state running the given branches.
func (b *Builder) Parallel(name, resultPath, next string, branches ...*Workflow) *Builder {
	return b.Add(&ParallelNode{
		StateName:  name,
		Branches:   branches,
		ResultPath: resultPath,
		Transition: transitionTo(next),
	})
}

// Map adds a Map state running iterator for each item at itemsPath.
func (b *Builder) Map(name, itemsPath string, iterator *Workflow, maxConcurrency int, resultPath, next string) *Builder {
	if maxConcurrency < 1 {
		b.errors = append(b.errors, fmt.Errorf("map %q must have max concurrency >= 1", name))
		return b
	}
	return b.Add(&MapNode{
		StateName:      name,
		ItemsPath:      itemsPath,
		Iterator:       iterator,
		MaxConcurrency: maxConcurrency,
		ResultPath:     resultPath,
		Transition:     transitionTo(next),
	})
}

// Wait adds a fixed-delay Wait state.
func (b *Builder) Wait(name string, seconds int, next string) *Builder {
	return b.Add(&WaitNode{StateName: name, Seconds: seconds, Transition: transitionTo(next)})
}

// Succeed adds a Succeed state.
func (b *Builder) Succeed(name string) *Builder {
	return b.Add(&SucceedNode{StateName: name})
}

// Fail adds a Fail state.
func (b *Builder) Fail(name, class, cause string) *Builder {
	return b.Add(&FailNode{StateName: name, Error: class, Cause: cause})
}

// Build validates and returns the workflow. All accumulated errors are joined
// with validation problems.
func (b *Builder) Build() (*Workflow, error) {
	errs := append([]error(nil), b.errors...)
	if err := Validate(b.workflow); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return b.workflow, nil
}

// MustBuild is like Build but panics on error. Intended for static definitions.
func (b *Builder) MustBuild() *Workflow {
	wf, err := b.Build()
	if err != nil {
		panic(err)
	}
	return wf
}

func (b *Builder) applyDefaultCatch(node Node) {
	if b.defaultCatch == nil || node.Name() == b.defaultCatch.Next {
		return
	}
	c := *b.defaultCatch
	c.ErrorEquals = append([]string(nil), c.ErrorEquals...)

	catches := func(existing []Catcher) []Catcher {
		for _, e := range existing {
			for _, class := range e.ErrorEquals {
				if class == ErrorAll {
					return existing
				}
			}
		}
		return append(existing, c)
	}

	switch n := node.(type) {
	case *TaskNode:
		n.Catch = catches(n.Catch)
	case *ParallelNode:
		n.Catch = catches(n.Catch)
	case *MapNode:
		n.Catch = catches(n.Catch)
	case *WaitNode:
		n.Catch = catches(n.Catch)
	}
}

func transitionTo(next string) Transition {
	if next == "" {
		return Transition{End: true}
	}
	return Transition{Next: next}
}

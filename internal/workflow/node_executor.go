package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// executeNode routes a state to its variant handler.
func (e *Engine) executeNode(ctx context.Context, r *run, node Node, state *branchState, path string, depth, attempt int) (string, error) {
	switch n := node.(type) {
	case *TaskNode:
		return e.executeTask(ctx, r, n, state, path, attempt)
	case *ChoiceNode:
		return e.executeChoice(n, state)
	case *ParallelNode:
		return e.executeParallel(ctx, r, n, state, path, depth)
	case *MapNode:
		return e.executeMap(ctx, r, n, state, path, depth)
	case *WaitNode:
		return e.executeWait(ctx, n, state)
	case *SucceedNode:
		return "", nil
	case *FailNode:
		return "", &Error{Class: n.Error, State: n.StateName, Message: n.Cause}
	default:
		return "", NewError(ErrorRuntime, "unsupported state type %T", node)
	}
}

func successor(t Transition) string {
	if t.End {
		return ""
	}
	return t.Next
}

func (e *Engine) executeTask(ctx context.Context, r *run, n *TaskNode, state *branchState, path string, attempt int) (string, error) {
	if e.invoker == nil {
		return "", &Error{Class: ErrorRuntime, State: n.StateName, Message: "no invoker configured"}
	}

	snapshot := state.snapshot()

	resource := n.Resource
	if n.ResourcePath != "" {
		v, ok := snapshot.Get(n.ResourcePath)
		s, isString := v.(string)
		if !ok || !isString || s == "" {
			return "", &Error{
				Class:   ErrorRuntime,
				State:   n.StateName,
				Message: fmt.Sprintf("resource_path %q did not resolve to a non-empty string", n.ResourcePath),
			}
		}
		resource += s
	}

	params, err := resolveParameters(n.Parameters, snapshot)
	if err != nil {
		return "", &Error{Class: ErrorRuntime, State: n.StateName, Message: "failed to resolve parameters", Cause: err}
	}

	execCtx := ctx
	if n.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, time.Duration(n.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	result, err := e.invoker.Invoke(execCtx, TaskRequest{
		ExecutionID: r.executionID,
		MissionID:   snapshot.MissionID(),
		State:       n.StateName,
		Path:        path,
		Resource:    resource,
		Parameters:  params,
		Input:       snapshot,
		Attempt:     attempt,
	})
	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", &Error{
				Class:   ErrorTimeout,
				State:   n.StateName,
				Message: fmt.Sprintf("task timed out after %ds", n.TimeoutSeconds),
				Cause:   err,
			}
		}
		return "", AsError(err, n.StateName)
	}

	if err := state.merge(n.StateName, n.ResultPath, result); err != nil {
		return "", err
	}
	return successor(n.Transition), nil
}

func (e *Engine) executeChoice(n *ChoiceNode, state *branchState) (string, error) {
	snapshot := state.snapshot()
	for _, rule := range n.Rules {
		if rule.Evaluate(snapshot) {
			e.logger.Debug("choice rule matched", "state", n.StateName, "rule", rule.String(), "next", rule.Next)
			return rule.Next, nil
		}
	}
	if n.Default != "" {
		return n.Default, nil
	}
	return "", &Error{Class: ErrorNoChoiceMatched, State: n.StateName, Message: "no rule matched and no default is set"}
}

// executeParallel runs every branch on an identical snapshot. The first branch
// failure cancels its siblings and fails the state; on success the outputs are
// merged in declaration order regardless of completion order.
func (e *Engine) executeParallel(ctx context.Context, r *run, n *ParallelNode, state *branchState, path string, depth int) (string, error) {
	snapshot := state.snapshot()
	results := make([]any, len(n.Branches))

	g, gctx := errgroup.WithContext(ctx)
	for i, branch := range n.Branches {
		g.Go(func() error {
			out, err := e.runWorkflow(gctx, r, branch, newBranchState(snapshot.Clone()), fmt.Sprintf("%s[%d]", path, i), depth+1)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	if err := state.merge(n.StateName, n.ResultPath, results); err != nil {
		return "", err
	}
	return successor(n.Transition), nil
}

// executeMap runs the iterator once per item with at most MaxConcurrency
// iterations in flight. Outputs are merged in input order.
func (e *Engine) executeMap(ctx context.Context, r *run, n *MapNode, state *branchState, path string, depth int) (string, error) {
	snapshot := state.snapshot()

	raw, ok := snapshot.Get(n.ItemsPath)
	items, isList := raw.([]any)
	if !ok || !isList {
		return "", &Error{
			Class:   ErrorRuntime,
			State:   n.StateName,
			Message: fmt.Sprintf("items_path %q did not resolve to a list", n.ItemsPath),
		}
	}

	params, err := resolveParameters(n.Parameters, snapshot)
	if err != nil {
		return "", &Error{Class: ErrorRuntime, State: n.StateName, Message: "failed to resolve parameters", Cause: err}
	}

	results := make([]any, len(items))
	var failures atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.MaxConcurrency)
	for i, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			doc := Document{"index": i, "item": cloneValue(item)}
			if id, has := snapshot[MissionIDKey]; has {
				doc[MissionIDKey] = id
			}
			for k, v := range params {
				if _, reserved := doc[k]; !reserved {
					doc[k] = cloneValue(v)
				}
			}

			out, err := e.runWorkflow(gctx, r, n.Iterator, newBranchState(doc), fmt.Sprintf("%s[%d]", path, i), depth+1)
			if err == nil {
				results[i] = out
				return nil
			}

			failed := failures.Add(1)
			if failed > int64(n.ToleratedFailureCount) {
				if n.ToleratedFailureCount == 0 {
					return err
				}
				return &Error{
					Class:   ErrorBranchFailed,
					State:   n.StateName,
					Message: fmt.Sprintf("%d items failed, %d tolerated", failed, n.ToleratedFailureCount),
					Cause:   err,
				}
			}
			results[i] = AsError(err, "").Info()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	if err := state.merge(n.StateName, n.ResultPath, results); err != nil {
		return "", err
	}
	return successor(n.Transition), nil
}

func (e *Engine) executeWait(ctx context.Context, n *WaitNode, state *branchState) (string, error) {
	switch {
	case n.Seconds > 0:
		if err := sleep(ctx, time.Duration(n.Seconds)*time.Second); err != nil {
			return "", AsError(err, n.StateName)
		}
	case n.TimestampPath != "":
		snapshot := state.snapshot()
		v, _ := snapshot.Get(n.TimestampPath)
		s, _ := v.(string)
		until, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return "", &Error{
				Class:   ErrorRuntime,
				State:   n.StateName,
				Message: fmt.Sprintf("timestamp_path %q did not resolve to an RFC3339 timestamp", n.TimestampPath),
				Cause:   err,
			}
		}
		if err := sleep(ctx, time.Until(until)); err != nil {
			return "", AsError(err, n.StateName)
		}
	case n.Poller != "":
		result, err := e.poll(ctx, n, state)
		if err != nil {
			return "", err
		}
		if err := state.merge(n.StateName, n.ResultPath, result); err != nil {
			return "", err
		}
	}
	return successor(n.Transition), nil
}

// poll calls the named poller every PollInterval until it is ready. When the
// PollTimeout elapses a TimeoutResolver may supply the result; otherwise the
// state fails with States.Timeout.
func (e *Engine) poll(ctx context.Context, n *WaitNode, state *branchState) (any, error) {
	p, ok := e.pollers[n.Poller]
	if !ok {
		return nil, &Error{Class: ErrorRuntime, State: n.StateName, Message: fmt.Sprintf("unknown poller %q", n.Poller)}
	}

	var deadline <-chan time.Time
	if n.PollTimeout > 0 {
		timer := time.NewTimer(n.PollTimeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(n.PollInterval)
	defer ticker.Stop()

	for {
		result, ready, err := p.Poll(ctx, state.snapshot())
		if err != nil {
			return nil, AsError(err, n.StateName)
		}
		if ready {
			return result, nil
		}

		select {
		case <-ctx.Done():
			return nil, AsError(ctx.Err(), n.StateName)
		case <-deadline:
			if resolver, ok := p.(TimeoutResolver); ok {
				e.logger.WarnContext(ctx, "poller timed out, resolving",
					"state", n.StateName,
					"poller", n.Poller,
					"timeout", n.PollTimeout,
				)
				result, err := resolver.OnPollTimeout(ctx, state.snapshot())
				if err != nil {
					return nil, AsError(err, n.StateName)
				}
				return result, nil
			}
			return nil, &Error{
				Class:   ErrorTimeout,
				State:   n.StateName,
				Message: fmt.Sprintf("poller %q not ready after %s", n.Poller, n.PollTimeout),
			}
		case <-ticker.C:
		}
	}
}

// resolveParameters copies params, replacing string values that start with
// "$" by the value found at that path in doc.
func resolveParameters(params map[string]any, doc Document) (map[string]any, error) {
	if params == nil {
		return nil, nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		resolved, err := resolveValue(v, doc)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

func resolveValue(v any, doc Document) (any, error) {
	switch tv := v.(type) {
	case string:
		if !strings.HasPrefix(tv, "$") {
			return tv, nil
		}
		found, ok := doc.Get(tv)
		if !ok {
			return nil, fmt.Errorf("path %q not found", tv)
		}
		return cloneValue(found), nil
	case map[string]any:
		return resolveParameters(tv, doc)
	default:
		return cloneValue(v), nil
	}
}

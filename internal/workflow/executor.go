package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbhatt1/hive-sub000/internal/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/mbhatt1/hive-sub000/internal/workflow"

// DefaultTimeoutGrace bounds the catch target run after a workflow timeout.
const DefaultTimeoutGrace = time.Minute

// TaskRequest is handed to an Invoker for every Task state execution.
type TaskRequest struct {
	ExecutionID string
	MissionID   string
	State       string
	Path        string
	Resource    string
	Parameters  map[string]any
	// Input is a deep copy of the document; mutating it has no effect.
	Input   Document
	Attempt int
}

// Invoker executes Task states.
type Invoker interface {
	Invoke(ctx context.Context, req TaskRequest) (any, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, req TaskRequest) (any, error)

// Invoke calls f(ctx, req).
func (f InvokerFunc) Invoke(ctx context.Context, req TaskRequest) (any, error) {
	return f(ctx, req)
}

// Poller reports whether a Wait state may proceed. The result of a ready poll
// is merged under the Wait state's ResultPath.
type Poller interface {
	Poll(ctx context.Context, doc Document) (result any, ready bool, err error)
}

// TimeoutResolver is optionally implemented by a Poller to supply a result when
// the poll timeout elapses instead of failing the state.
type TimeoutResolver interface {
	OnPollTimeout(ctx context.Context, doc Document) (any, error)
}

// StateEvent describes a state transition reported to observers.
type StateEvent struct {
	ExecutionID string
	MissionID   string
	Workflow    string
	State       string
	Path        string
	Kind        NodeKind
	// Depth is zero for states of the top-level workflow.
	Depth int
	// Attempt is the zero-based attempt that ended the state. It is always
	// zero on entry.
	Attempt  int
	Document Document
	Err      *Error
	Duration time.Duration
}

// Observer receives state transitions. An observer error fails the execution.
type Observer interface {
	OnStateEnter(ctx context.Context, ev StateEvent) error
	OnStateExit(ctx context.Context, ev StateEvent) error
}

// Engine interprets workflow graphs.
type Engine struct {
	invoker   Invoker
	pollers   map[string]Poller
	observers []Observer
	logger    *slog.Logger
	tracer    trace.Tracer
	meter     metric.Meter

	timeoutGrace time.Duration

	stageDuration metric.Float64Histogram
	stageFailures metric.Int64Counter
}

// EngineOption is a functional option for configuring Engine
type EngineOption func(*Engine)

// WithInvoker configures the invoker used for Task states.
func WithInvoker(invoker Invoker) EngineOption {
	return func(e *Engine) {
		e.invoker = invoker
	}
}

// WithPoller registers a named poller for Wait states.
func WithPoller(name string, p Poller) EngineOption {
	return func(e *Engine) {
		e.pollers[name] = p
	}
}

// WithTimeoutGrace bounds the catch target that runs after the workflow-level
// timeout has elapsed.
func WithTimeoutGrace(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.timeoutGrace = d
		}
	}
}

// WithObserver adds an observer notified of every state transition.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// WithLogger configures the engine to use the specified structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer configures the OpenTelemetry tracer used for execution spans.
func WithTracer(tracer trace.Tracer) EngineOption {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithMeter configures the OpenTelemetry meter used for state metrics.
func WithMeter(meter metric.Meter) EngineOption {
	return func(e *Engine) {
		if meter != nil {
			e.meter = meter
		}
	}
}

// NewEngine creates a new Engine with the specified options.
// Default configuration:
//   - Default logger (slog.Default())
//   - Global tracer and meter providers
//   - No invoker; Task states fail with States.Runtime until one is set
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		pollers:      make(map[string]Poller),
		logger:       slog.Default(),
		tracer:       otel.Tracer(instrumentationName),
		meter:        otel.Meter(instrumentationName),
		timeoutGrace: DefaultTimeoutGrace,
	}

	for _, opt := range opts {
		opt(e)
	}

	// Instrument creation only fails on invalid names.
	e.stageDuration, _ = e.meter.Float64Histogram("hive.stage.duration",
		metric.WithDescription("Duration of workflow state executions"),
		metric.WithUnit("s"),
	)
	e.stageFailures, _ = e.meter.Int64Counter("hive.stage.failures",
		metric.WithDescription("Workflow states that ended in an error"),
	)

	return e
}

// run carries per-execution bookkeeping shared by all branches.
type run struct {
	executionID string
	missionID   string
	workflow    string

	// parent is the caller's context, timeout the workflow-level limit
	// applied on top of it.
	parent  context.Context
	timeout time.Duration
	// expired is set once, by the top level, when the workflow timeout ends a
	// state.
	expired *Error

	mu      sync.Mutex
	visited []string
}

// deadlineHit reports whether ctx ended because the workflow timeout elapsed
// rather than because the caller gave up.
func (r *run) deadlineHit(ctx context.Context) bool {
	return r.timeout > 0 &&
		r.expired == nil &&
		errors.Is(ctx.Err(), context.DeadlineExceeded) &&
		r.parent.Err() == nil
}

// expire records the workflow timeout against state.
func (r *run) expire(state string, cause error) *Error {
	r.expired = &Error{
		Class:   ErrorTimeout,
		State:   state,
		Message: fmt.Sprintf("execution exceeded timeout of %s", r.timeout),
		Cause:   cause,
	}
	return r.expired
}

func (r *run) visit(path string) {
	r.mu.Lock()
	r.visited = append(r.visited, path)
	r.mu.Unlock()
}

// branchState holds the document of one branch. Merges are serialized so that
// fan-in writes and observer snapshots never interleave.
type branchState struct {
	mu        sync.RWMutex
	doc       Document
	missionID any
	hasID     bool
	last      any
}

func newBranchState(doc Document) *branchState {
	if doc == nil {
		doc = Document{}
	}
	id, has := doc[MissionIDKey]
	return &branchState{doc: doc, missionID: id, hasID: has}
}

func (s *branchState) snapshot() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Clone()
}

func (s *branchState) lastResult() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneValue(s.last)
}

// merge stores value under path and re-asserts the mission id invariant.
// An empty path records the value as the branch's last result only.
func (s *branchState) merge(state, path string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := normalize(value)
	s.last = v
	if path == "" {
		return nil
	}
	if err := s.doc.Set(path, cloneValue(v)); err != nil {
		return &Error{Class: ErrorRuntime, State: state, Message: "failed to merge result", Cause: err}
	}
	if s.hasID {
		if current, ok := s.doc[MissionIDKey]; !ok || current != s.missionID {
			return &Error{Class: ErrorRuntime, State: state, Cause: ErrContextInvariant}
		}
	}
	return nil
}

// Execute runs wf against a copy of input until a terminal state is reached.
// The returned Execution is non-nil whenever the workflow passed validation; the
// error is non-nil when the execution did not succeed.
func (e *Engine) Execute(ctx context.Context, wf *Workflow, input Document) (*Execution, error) {
	if err := Validate(wf); err != nil {
		return nil, err
	}

	exec := &Execution{
		ID:        types.NewID().String(),
		Workflow:  wf.Name,
		Status:    ExecutionRunning,
		StartedAt: time.Now(),
	}

	r := &run{executionID: exec.ID, missionID: input.MissionID(), workflow: wf.Name, timeout: wf.Timeout()}

	ctx, span := e.tracer.Start(ctx, "hive.workflow.execute",
		trace.WithAttributes(
			attribute.String("workflow.name", wf.Name),
			attribute.String("execution.id", exec.ID),
			attribute.String("mission.id", r.missionID),
			attribute.Int("workflow.state_count", len(wf.States)),
		),
	)
	defer span.End()

	r.parent = ctx
	runCtx := ctx
	if timeout := wf.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	e.logger.InfoContext(ctx, "starting workflow execution",
		"workflow", wf.Name,
		"execution_id", exec.ID,
		"mission_id", r.missionID,
	)

	state := newBranchState(NewDocument(input))
	_, err := e.runWorkflow(runCtx, r, wf, state, "", 0)

	exec.Document = state.snapshot()
	exec.Visited = r.visited
	exec.CompletedAt = time.Now()

	if r.expired != nil && err != nil && AsError(err, "") != r.expired {
		e.logger.ErrorContext(ctx, "workflow failed after timeout",
			"workflow", wf.Name,
			"execution_id", exec.ID,
			"mission_id", r.missionID,
			"error", err,
		)
	}
	if r.expired != nil {
		err = r.expired
	}

	if err == nil {
		exec.Status = ExecutionSucceeded
		span.SetStatus(codes.Ok, "workflow succeeded")
		e.logger.InfoContext(ctx, "workflow execution completed",
			"workflow", wf.Name,
			"execution_id", exec.ID,
			"mission_id", r.missionID,
			"duration", exec.Duration(),
		)
		return exec, nil
	}

	werr := AsError(err, "")
	switch {
	case werr == r.expired:
		exec.Status = ExecutionTimedOut
	case runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
		werr = &Error{
			Class:   ErrorTimeout,
			State:   werr.State,
			Message: fmt.Sprintf("execution exceeded timeout of %s", wf.Timeout()),
			Cause:   werr,
		}
		exec.Status = ExecutionTimedOut
	case werr.Class == ErrorTimeout:
		exec.Status = ExecutionTimedOut
	case werr.Class == ErrorCancelled:
		exec.Status = ExecutionCancelled
	default:
		exec.Status = ExecutionFailed
	}
	exec.Error = werr

	span.RecordError(werr)
	span.SetStatus(codes.Error, werr.Error())
	e.logger.ErrorContext(ctx, "workflow execution failed",
		"workflow", wf.Name,
		"execution_id", exec.ID,
		"mission_id", r.missionID,
		"error_class", werr.Class,
		"state", werr.State,
		"error", werr.CauseText(),
	)
	return exec, werr
}

// runWorkflow interprets one (sub-)workflow until a terminal state and returns
// the branch output.
func (e *Engine) runWorkflow(ctx context.Context, r *run, wf *Workflow, state *branchState, prefix string, depth int) (any, error) {
	name := wf.StartAt
	caught, graced := false, false
	for {
		if err := ctx.Err(); err != nil {
			resume, ok := e.recoverTimeout(ctx, r, wf, state, name, depth, caught, graced)
			if !ok {
				return nil, AsError(err, name)
			}
			e.logger.WarnContext(r.parent, "workflow timed out, running catch handler",
				"state", resume,
				"grace", e.timeoutGrace,
				"mission_id", r.missionID,
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(r.parent, e.timeoutGrace)
			defer cancel()
			name, graced = resume, true
		}

		node := wf.States[name]
		path := join(prefix, name)
		r.visit(path)

		next, wasCaught, err := e.step(ctx, r, wf, node, state, path, depth)
		if err != nil {
			return nil, err
		}
		if next == "" {
			break
		}
		name, caught = next, wasCaught
	}

	if wf.OutputPath != "" {
		snapshot := state.snapshot()
		out, _ := snapshot.Get(wf.OutputPath)
		return out, nil
	}
	return state.lastResult(), nil
}

// recoverTimeout decides whether a top-level execution cut short by the
// workflow timeout continues on a catch target, and returns the state to resume
// at. The catch target runs once, under a fresh grace deadline.
func (e *Engine) recoverTimeout(ctx context.Context, r *run, wf *Workflow, state *branchState, name string, depth int, caught, graced bool) (string, bool) {
	if depth != 0 || graced {
		return "", false
	}
	if caught && r.expired != nil {
		return name, true
	}
	if !r.deadlineHit(ctx) {
		return "", false
	}

	// the deadline passed between two states
	werr := r.expire(name, ctx.Err())
	c, ok := findCatcher(wf.States[name], werr.Class)
	if !ok {
		return "", false
	}
	if err := state.merge(name, c.ResultPath, werr.Info()); err != nil {
		return "", false
	}
	return c.Next, true
}

// step executes a single state including retries, catch handling, tracing and
// observer notification. It returns the next state name, empty when the branch
// has finished, and whether that state is a catch target.
func (e *Engine) step(ctx context.Context, r *run, wf *Workflow, node Node, state *branchState, path string, depth int) (string, bool, error) {
	ctx, span := e.tracer.Start(ctx, "hive.workflow.execute_node",
		trace.WithAttributes(
			attribute.String("state.name", node.Name()),
			attribute.String("state.kind", string(node.Kind())),
			attribute.String("state.path", path),
			attribute.Int("state.depth", depth),
		),
	)
	defer span.End()

	ev := StateEvent{
		ExecutionID: r.executionID,
		MissionID:   r.missionID,
		Workflow:    wf.Name,
		State:       node.Name(),
		Path:        path,
		Kind:        node.Kind(),
		Depth:       depth,
	}

	for _, o := range e.observers {
		if err := o.OnStateEnter(ctx, ev); err != nil {
			werr := &Error{Class: ErrorRuntime, State: node.Name(), Message: "observer rejected state entry", Cause: err}
			span.SetStatus(codes.Error, werr.Error())
			return "", false, werr
		}
	}

	e.logger.DebugContext(ctx, "executing workflow state",
		"state", node.Name(),
		"kind", node.Kind(),
		"path", path,
		"mission_id", r.missionID,
	)

	start := time.Now()
	next, attempt, err := e.executeWithRetry(ctx, r, node, state, path, depth)

	var werr *Error
	if err != nil {
		werr = AsError(err, node.Name())
		if depth == 0 && r.deadlineHit(ctx) {
			cause := werr.Cause
			if cause == nil {
				cause = werr
			}
			werr = r.expire(node.Name(), cause)
		}
		next = ""
		if _, terminal := node.(*FailNode); !terminal {
			if c, ok := findCatcher(node, werr.Class); ok {
				e.logger.WarnContext(ctx, "workflow state error caught",
					"state", node.Name(),
					"error_class", werr.Class,
					"error", werr.CauseText(),
					"next", c.Next,
					"mission_id", r.missionID,
				)
				if mergeErr := state.merge(node.Name(), c.ResultPath, werr.Info()); mergeErr != nil {
					werr = AsError(mergeErr, node.Name())
				} else {
					next = c.Next
					err = nil
				}
			}
		}
	}

	duration := time.Since(start)
	outcome := "succeeded"
	if werr != nil {
		outcome = "failed"
		if err == nil {
			outcome = "caught"
		}
	}
	attrs := metric.WithAttributes(
		attribute.String("state", node.Name()),
		attribute.String("kind", string(node.Kind())),
		attribute.String("outcome", outcome),
	)
	e.stageDuration.Record(ctx, duration.Seconds(), attrs)
	if werr != nil {
		e.stageFailures.Add(ctx, 1, attrs)
		span.RecordError(werr)
		span.SetAttributes(attribute.String("error.class", werr.Class))
	}
	if err != nil {
		span.SetStatus(codes.Error, werr.Error())
	} else {
		span.SetStatus(codes.Ok, outcome)
	}

	ev.Err = werr
	ev.Attempt = attempt
	ev.Duration = duration
	if len(e.observers) > 0 {
		ev.Document = state.snapshot()
	}
	for _, o := range e.observers {
		if obsErr := o.OnStateExit(ctx, ev); obsErr != nil && err == nil {
			return "", false, &Error{Class: ErrorRuntime, State: node.Name(), Message: "observer rejected state exit", Cause: obsErr}
		}
	}

	if err != nil {
		return "", false, werr
	}
	return next, werr != nil, nil
}

// executeWithRetry implements retry logic using the first retry policy whose
// ErrorEquals matches the error class. Each policy keeps its own attempt count.
// It also returns the zero-based number of the last attempt.
func (e *Engine) executeWithRetry(ctx context.Context, r *run, node Node, state *branchState, path string, depth int) (string, int, error) {
	policies := retriersOf(node)
	retries := make([]int, len(policies))

	for attempt := 0; ; attempt++ {
		next, err := e.executeNode(ctx, r, node, state, path, depth, attempt)
		if err == nil {
			return next, attempt, nil
		}

		werr := AsError(err, node.Name())
		idx := -1
		for i := range policies {
			if matchesClass(policies[i].ErrorEquals, werr.Class) {
				idx = i
				break
			}
		}
		if idx < 0 || retries[idx] >= policies[idx].MaxRetries || ctx.Err() != nil {
			return "", attempt, werr
		}

		delay := policies[idx].CalculateDelay(retries[idx])
		retries[idx]++

		e.logger.InfoContext(ctx, "retrying workflow state",
			"state", node.Name(),
			"attempt", attempt+1,
			"max_retries", policies[idx].MaxRetries,
			"delay", delay,
			"error_class", werr.Class,
			"error", werr.CauseText(),
		)

		if err := sleep(ctx, delay); err != nil {
			return "", attempt, AsError(err, node.Name())
		}
	}
}

func findCatcher(node Node, class string) (Catcher, bool) {
	for _, c := range catchersOf(node) {
		if matchesClass(c.ErrorEquals, class) {
			return c, true
		}
	}
	return Catcher{}, false
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mbhatt1/hive-sub000/internal/jobrunner"
	"github.com/mbhatt1/hive-sub000/internal/workflow"
)

// Environment variables handed to every stage job.
const (
	EnvMissionID    = "MISSION_ID"
	EnvStageName    = "STAGE_NAME"
	EnvResultKey    = "RESULT_KEY"
	EnvOutputPrefix = "OUTPUT_PREFIX"
	EnvToolName     = "TOOL_NAME"
	EnvToolParams   = "TOOL_PARAMS"
)

// ParamEnv is the task parameter whose string map is merged into the job
// environment.
const ParamEnv = "env"

// ResultKey returns the document key a stage's result is stored under, e.g.
// "Archaeologist" -> "archaeologist_result".
func ResultKey(stage string) string {
	return strings.ToLower(stage) + "_result"
}

// StageInvoker runs agent stages and tools as jobs. It implements
// workflow.Invoker for "agent:" and "tool:" resources. It does not retry;
// retries are a workflow concern.
type StageInvoker struct {
	registry *Registry
	runner   jobrunner.Runner
	network  jobrunner.Network
	limits   jobrunner.Limits
	logger   *slog.Logger
}

// InvokerOption configures a StageInvoker.
type InvokerOption func(*StageInvoker)

// WithNetwork places every job on the given network.
func WithNetwork(n jobrunner.Network) InvokerOption {
	return func(s *StageInvoker) {
		s.network = n
	}
}

// WithDefaultLimits applies limits to definitions that do not set their own.
func WithDefaultLimits(l jobrunner.Limits) InvokerOption {
	return func(s *StageInvoker) {
		s.limits = l
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) InvokerOption {
	return func(s *StageInvoker) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStageInvoker creates an invoker resolving resources through registry and
// submitting jobs to runner.
func NewStageInvoker(registry *Registry, runner jobrunner.Runner, opts ...InvokerOption) *StageInvoker {
	s := &StageInvoker{
		registry: registry,
		runner:   runner,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Invoke builds the job for req, blocks until it completes and returns the
// decoded JSON payload.
func (s *StageInvoker) Invoke(ctx context.Context, req workflow.TaskRequest) (any, error) {
	desc, err := s.registry.Resolve(req.Resource)
	if err != nil {
		return nil, &jobrunner.Error{Class: jobrunner.ClassLaunchFailed, Job: req.State, Message: "cannot resolve resource", Cause: err}
	}

	spec, err := s.jobSpec(desc, req)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With("mission_id", req.MissionID, "stage", req.State, "job", spec.Name)
	logger.InfoContext(ctx, "submitting stage job", "image", spec.Image, "kind", desc.Kind)

	result, err := s.runner.Run(ctx, spec)
	if err != nil {
		logger.WarnContext(ctx, "stage job failed", "error", err)
		return nil, err
	}

	payload, err := result.Decode()
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "stage job completed", "duration", result.Duration())
	return payload, nil
}

// jobSpec assembles the job for a resolved descriptor. Stage outputs live under
// a prefix unique to the mission and stage so concurrent jobs never share keys.
func (s *StageInvoker) jobSpec(desc Descriptor, req workflow.TaskRequest) (jobrunner.JobSpec, error) {
	stage := req.State
	jobName := fmt.Sprintf("%s-%s", req.MissionID, strings.ToLower(stage))
	prefix := fmt.Sprintf("%s/%s/", req.MissionID, strings.ToLower(stage))

	if desc.Kind == KindTool {
		stage = "tool-" + desc.Name
		suffix := desc.Name
		if idx, ok := req.Input["index"]; ok {
			suffix = fmt.Sprintf("%v-%s", idx, desc.Name)
		}
		jobName = fmt.Sprintf("%s-tool-%s", req.MissionID, suffix)
		prefix = fmt.Sprintf("%s/tools/%s/", req.MissionID, suffix)
	}

	input, err := json.Marshal(req.Input)
	if err != nil {
		return jobrunner.JobSpec{}, &jobrunner.Error{Class: jobrunner.ClassLaunchFailed, Job: jobName, Message: "failed to encode stage input", Cause: err}
	}

	env := map[string]string{
		EnvMissionID:    req.MissionID,
		EnvStageName:    stage,
		EnvResultKey:    ResultKey(stage),
		EnvOutputPrefix: prefix,
	}
	if desc.Kind == KindTool {
		env[EnvToolName] = desc.Name
		if params, ok := req.Input.Get("$.item.params"); ok {
			data, err := json.Marshal(params)
			if err != nil {
				return jobrunner.JobSpec{}, &jobrunner.Error{Class: jobrunner.ClassLaunchFailed, Job: jobName, Message: "failed to encode tool params", Cause: err}
			}
			env[EnvToolParams] = string(data)
		}
	}
	if extra, ok := req.Parameters[ParamEnv].(map[string]any); ok {
		for k, v := range extra {
			env[k] = fmt.Sprint(v)
		}
	}

	limits := desc.Definition.Limits
	if limits.CPU == 0 {
		limits.CPU = s.limits.CPU
	}
	if limits.MemoryMB == 0 {
		limits.MemoryMB = s.limits.MemoryMB
	}

	return jobrunner.JobSpec{
		Name:    jobName,
		Image:   desc.Definition.Image,
		Command: desc.Definition.Command,
		Env:     env,
		Input:   input,
		Limits:  limits,
		Network: s.network,
		Labels: map[string]string{
			jobrunner.KindLabel: string(desc.Kind),
			"hive.mission":      req.MissionID,
			"hive.stage":        stage,
		},
		Timeout: desc.Definition.Timeout,
	}, nil
}

// Package jobrunner launches isolated, short-lived jobs (one container or
// process per agent stage or tool invocation) and reports their exit code and
// JSON result payload.
package jobrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Error classes reported by runners. They match the workflow engine's classes
// so Retry and Catch handlers can select on them.
const (
	ClassLaunchFailed   = "Job.LaunchFailed"
	ClassNonZeroExit    = "Job.NonZeroExit"
	ClassInvalidPayload = "Job.InvalidPayload"
)

// ResultPathEnv names the environment variable telling a job where to write its
// JSON result. Jobs that ignore it may print the result as the last JSON line
// of their output instead.
const ResultPathEnv = "HIVE_RESULT_PATH"

// InputPathEnv names the environment variable holding the path of the job's
// JSON input file. It is only set for jobs with an Input; a single environment
// string is capped by the kernel, so inputs never travel in the environment.
const InputPathEnv = "STAGE_INPUT_PATH"

// Runner submits a job and blocks until it completes.
type Runner interface {
	Run(ctx context.Context, spec JobSpec) (*JobResult, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, spec JobSpec) (*JobResult, error)

// Run calls f(ctx, spec).
func (f RunnerFunc) Run(ctx context.Context, spec JobSpec) (*JobResult, error) {
	return f(ctx, spec)
}

// Limits caps the resources available to a job.
type Limits struct {
	// CPU is the number of virtual CPUs, fractions allowed.
	CPU float64 `mapstructure:"cpu" yaml:"cpu" json:"cpu"`
	// MemoryMB is the memory limit in MiB.
	MemoryMB int64 `mapstructure:"memory_mb" yaml:"memory_mb" json:"memory_mb"`
}

// Network describes where a job is placed. Subnets and SecurityGroups are
// opaque identifiers passed through to the execution backend.
type Network struct {
	Mode           string   `mapstructure:"mode" yaml:"mode" json:"mode,omitempty"`
	Subnets        []string `mapstructure:"subnets" yaml:"subnets" json:"subnets,omitempty"`
	SecurityGroups []string `mapstructure:"security_groups" yaml:"security_groups" json:"security_groups,omitempty"`
	AssignPublicIP bool     `mapstructure:"assign_public_ip" yaml:"assign_public_ip" json:"assign_public_ip"`
}

// JobSpec describes a single job.
type JobSpec struct {
	Name    string
	Image   string
	Command []string
	Env     map[string]string
	Limits  Limits
	Network Network
	Labels  map[string]string
	// Input is written to a file inside the job before it starts.
	Input []byte
	// Timeout bounds the job; zero means the caller's context is the only bound.
	Timeout time.Duration
}

// Validate checks the fields every runner requires.
func (s JobSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if s.Image == "" {
		return fmt.Errorf("job %s: image is required", s.Name)
	}
	if s.Limits.CPU < 0 || s.Limits.MemoryMB < 0 {
		return fmt.Errorf("job %s: limits cannot be negative", s.Name)
	}
	return nil
}

// JobResult is the outcome of a completed job.
type JobResult struct {
	ExitCode   int
	Payload    []byte
	Logs       string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the job ran.
func (r *JobResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Decode parses the JSON payload. An empty payload decodes to nil.
func (r *JobResult) Decode() (any, error) {
	payload := bytes.TrimSpace(r.Payload)
	if len(payload) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &Error{Class: ClassInvalidPayload, ExitCode: r.ExitCode, Message: "job result is not valid JSON", Cause: err}
	}
	return out, nil
}

// Error describes a job failure.
type Error struct {
	Class    string
	Job      string
	Image    string
	ExitCode int
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Job != "" {
		return fmt.Sprintf("job %s: %s", e.Job, msg)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorClass reports the error class used for retry and catch matching.
func (e *Error) ErrorClass() string {
	return e.Class
}

// launchError classifies a failure to start or supervise a job. Context errors
// are returned unclassified so callers can tell timeouts from launch problems.
func launchError(ctx context.Context, spec JobSpec, msg string, cause error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("job %s: %s: %w", spec.Name, msg, ctxErr)
	}
	return &Error{Class: ClassLaunchFailed, Job: spec.Name, Image: spec.Image, Message: msg, Cause: cause}
}

// exitError returns a NonZeroExit error for failed jobs, nil otherwise.
func exitError(spec JobSpec, result *JobResult) error {
	if result.ExitCode == 0 {
		return nil
	}
	return &Error{
		Class:    ClassNonZeroExit,
		Job:      spec.Name,
		Image:    spec.Image,
		ExitCode: result.ExitCode,
		Message:  fmt.Sprintf("exited with code %d", result.ExitCode),
	}
}

// IsClass reports whether err is a job error of the given class.
func IsClass(err error, class string) bool {
	var jerr *Error
	return errors.As(err, &jerr) && jerr.Class == class
}

// lastJSONLine returns the last line of output that parses as a JSON object
// or array.
func lastJSONLine(output []byte) []byte {
	lines := bytes.Split(output, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 || (line[0] != '{' && line[0] != '[') {
			continue
		}
		if json.Valid(line) {
			return line
		}
	}
	return nil
}

// envList renders an env map as KEY=VALUE pairs.
func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

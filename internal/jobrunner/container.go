package jobrunner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	containerResultPath   = "/tmp/hive/result.json"
	containerInputPath    = "/tmp/hive/input.json"
	defaultContainerLimit = time.Hour
	terminateTimeout      = 30 * time.Second
	maxLogBytes           = 1 << 20
)

// ContainerRunner runs each job as a Docker container and waits for it to exit.
type ContainerRunner struct {
	logger       *slog.Logger
	defaultLimit time.Duration
	keepOnExit   bool
}

// ContainerOption configures a ContainerRunner.
type ContainerOption func(*ContainerRunner)

// WithContainerLogger sets the logger.
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(r *ContainerRunner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithDefaultTimeout bounds jobs that do not set their own timeout.
func WithDefaultTimeout(d time.Duration) ContainerOption {
	return func(r *ContainerRunner) {
		if d > 0 {
			r.defaultLimit = d
		}
	}
}

// WithKeepContainers leaves exited containers in place for debugging.
func WithKeepContainers(keep bool) ContainerOption {
	return func(r *ContainerRunner) {
		r.keepOnExit = keep
	}
}

// NewContainerRunner creates a runner backed by the local Docker daemon.
func NewContainerRunner(opts ...ContainerOption) *ContainerRunner {
	r := &ContainerRunner{
		logger:       slog.Default(),
		defaultLimit: defaultContainerLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts the container, waits for it to exit and collects its exit code
// and result payload. The container is removed afterwards even when ctx has
// been cancelled.
func (r *ContainerRunner) Run(ctx context.Context, spec JobSpec) (*JobResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, &Error{Class: ClassLaunchFailed, Job: spec.Name, Image: spec.Image, Message: "invalid job spec", Cause: err}
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = r.defaultLimit
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := r.containerRequest(spec, timeout)

	r.logger.InfoContext(ctx, "starting job container",
		"job", spec.Name,
		"image", spec.Image,
		"cpu", spec.Limits.CPU,
		"memory_mb", spec.Limits.MemoryMB,
	)

	started := time.Now()
	c, err := testcontainers.GenericContainer(runCtx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if c != nil && !r.keepOnExit {
		defer r.terminate(ctx, spec, c)
	}
	if err != nil {
		return nil, launchError(runCtx, spec, "failed to run container", err)
	}

	state, err := c.State(runCtx)
	if err != nil {
		return nil, launchError(runCtx, spec, "failed to inspect container", err)
	}

	result := &JobResult{
		ExitCode:   state.ExitCode,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	result.Logs = r.readLogs(runCtx, c)
	result.Payload = r.readPayload(runCtx, c, result.Logs)

	r.logger.InfoContext(ctx, "job container exited",
		"job", spec.Name,
		"exit_code", result.ExitCode,
		"duration", result.Duration(),
	)

	return result, exitError(spec, result)
}

// containerRequest translates a JobSpec into a container request.
func (r *ContainerRunner) containerRequest(spec JobSpec, timeout time.Duration) testcontainers.ContainerRequest {
	env := make(map[string]string, len(spec.Env)+1)
	for k, v := range spec.Env {
		env[k] = v
	}
	env[ResultPathEnv] = containerResultPath

	var files []testcontainers.ContainerFile
	if len(spec.Input) > 0 {
		env[InputPathEnv] = containerInputPath
		files = append(files, testcontainers.ContainerFile{
			Reader:            bytes.NewReader(spec.Input),
			ContainerFilePath: containerInputPath,
			FileMode:          0o644,
		})
	}

	labels := make(map[string]string, len(spec.Labels)+3)
	for k, v := range spec.Labels {
		labels[k] = v
	}
	labels["hive.job"] = spec.Name
	if len(spec.Network.Subnets) > 0 {
		labels["hive.network.subnets"] = strings.Join(spec.Network.Subnets, ",")
	}
	if len(spec.Network.SecurityGroups) > 0 {
		labels["hive.network.security_groups"] = strings.Join(spec.Network.SecurityGroups, ",")
	}

	limits := spec.Limits
	mode := spec.Network.Mode
	return testcontainers.ContainerRequest{
		Name:       containerName(spec.Name),
		Image:      spec.Image,
		Cmd:        spec.Command,
		Env:        env,
		Files:      files,
		Labels:     labels,
		WaitingFor: wait.ForExit().WithExitTimeout(timeout),
		HostConfigModifier: func(hc *container.HostConfig) {
			if limits.CPU > 0 {
				hc.Resources.NanoCPUs = int64(limits.CPU * 1e9)
			}
			if limits.MemoryMB > 0 {
				hc.Resources.Memory = limits.MemoryMB * 1024 * 1024
			}
			if mode != "" {
				hc.NetworkMode = container.NetworkMode(mode)
			}
		},
	}
}

func (r *ContainerRunner) readLogs(ctx context.Context, c testcontainers.Container) string {
	rc, err := c.Logs(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to read job logs", "error", err)
		return ""
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxLogBytes))
	if err != nil {
		r.logger.WarnContext(ctx, "failed to read job logs", "error", err)
	}
	return string(data)
}

// readPayload prefers the result file and falls back to the last JSON line of
// the container output.
func (r *ContainerRunner) readPayload(ctx context.Context, c testcontainers.Container, logs string) []byte {
	rc, err := c.CopyFileFromContainer(ctx, containerResultPath)
	if err == nil {
		defer rc.Close()
		data, readErr := io.ReadAll(rc)
		if readErr == nil && len(data) > 0 {
			return data
		}
	}
	return lastJSONLine([]byte(logs))
}

func (r *ContainerRunner) terminate(ctx context.Context, spec JobSpec, c testcontainers.Container) {
	termCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminateTimeout)
	defer cancel()
	if err := c.Terminate(termCtx); err != nil {
		r.logger.WarnContext(ctx, "failed to remove job container", "job", spec.Name, "error", err)
	}
}

// containerName derives a Docker-safe, unique container name from a job name.
func containerName(job string) string {
	var b strings.Builder
	for _, ch := range strings.ToLower(job) {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9', ch == '-', ch == '_', ch == '.':
			b.WriteRune(ch)
		default:
			b.WriteRune('-')
		}
	}
	name := strings.Trim(b.String(), "-.")
	if len(name) > 48 {
		name = name[:48]
	}
	return fmt.Sprintf("hive-%s-%d", name, time.Now().UnixNano())
}

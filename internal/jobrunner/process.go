package jobrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// ProcessRunner executes jobs as local subprocesses. Images are mapped to
// command lines; a JobSpec with an explicit Command runs that command
// directly. It is intended for development and tests where no container
// runtime is available.
type ProcessRunner struct {
	commands map[string][]string
	workDir  string
	logger   *slog.Logger
}

// NewProcessRunner creates a runner that resolves images through commands.
// Jobs run in per-job temporary directories below workDir (os.TempDir when
// empty).
func NewProcessRunner(commands map[string][]string, workDir string, logger *slog.Logger) *ProcessRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessRunner{commands: commands, workDir: workDir, logger: logger}
}

// Run starts the process, waits for it and collects its exit code and result.
// The process is killed when ctx is done.
func (r *ProcessRunner) Run(ctx context.Context, spec JobSpec) (*JobResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, &Error{Class: ClassLaunchFailed, Job: spec.Name, Image: spec.Image, Message: "invalid job spec", Cause: err}
	}

	argv := spec.Command
	if len(argv) == 0 {
		argv = r.commands[spec.Image]
	}
	if len(argv) == 0 {
		return nil, &Error{Class: ClassLaunchFailed, Job: spec.Name, Image: spec.Image, Message: fmt.Sprintf("no command configured for image %q", spec.Image)}
	}

	execCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	dir, err := os.MkdirTemp(r.workDir, "hive-job-")
	if err != nil {
		return nil, launchError(execCtx, spec, "failed to create job directory", err)
	}
	defer os.RemoveAll(dir)
	resultPath := filepath.Join(dir, "result.json")

	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + dir,
		ResultPathEnv + "=" + resultPath,
	}
	if len(spec.Input) > 0 {
		inputPath := filepath.Join(dir, "input.json")
		if err := os.WriteFile(inputPath, spec.Input, 0o600); err != nil {
			return nil, launchError(execCtx, spec, "failed to write job input", err)
		}
		env = append(env, InputPathEnv+"="+inputPath)
	}

	cmd := exec.CommandContext(execCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(env, envList(spec.Env)...)
	cmd.WaitDelay = 5 * time.Second

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	r.logger.DebugContext(ctx, "starting job process", "job", spec.Name, "image", spec.Image, "command", argv[0])

	result := &JobResult{StartedAt: time.Now()}
	runErr := cmd.Run()
	result.FinishedAt = time.Now()
	result.Logs = output.String()

	if execCtx.Err() != nil {
		result.ExitCode = -1
		return result, fmt.Errorf("job %s: %w", spec.Name, execCtx.Err())
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, launchError(execCtx, spec, "failed to start process", runErr)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	if data, err := os.ReadFile(resultPath); err == nil && len(bytes.TrimSpace(data)) > 0 {
		result.Payload = data
	} else {
		result.Payload = lastJSONLine(output.Bytes())
	}

	r.logger.DebugContext(ctx, "job process exited",
		"job", spec.Name,
		"exit_code", result.ExitCode,
		"duration", result.Duration(),
	)

	return result, exitError(spec, result)
}

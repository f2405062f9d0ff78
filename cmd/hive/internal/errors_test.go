package internal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"

	"github.com/mbhatt1/hive-sub000/internal/mission"
	"github.com/mbhatt1/hive-sub000/internal/types"
	"github.com/mbhatt1/hive-sub000/internal/workflow"
)

func TestCLIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *CLIError
		expected string
	}{
		{
			name:     "error without cause",
			err:      NewCLIError(ExitError, "something went wrong"),
			expected: "something went wrong",
		},
		{
			name:     "error with cause",
			err:      WrapError(ExitError, "operation failed", errors.New("underlying error")),
			expected: "operation failed: underlying error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestCLIError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	assert.Same(t, cause, WrapError(ExitError, "wrapper", cause).Unwrap())
	assert.Nil(t, NewCLIError(ExitError, "no cause").Unwrap())
}

func TestHandleError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantOut  string
	}{
		{name: "nil", err: nil, wantCode: ExitSuccess},
		{name: "cancelled", err: fmt.Errorf("run: %w", context.Canceled), wantCode: ExitCancelled, wantOut: "Operation cancelled"},
		{name: "deadline", err: context.DeadlineExceeded, wantCode: ExitTimeout, wantOut: "Operation timed out"},
		{name: "cli error", err: NewCLIError(ExitMissionFailed, "mission failed"), wantCode: ExitMissionFailed, wantOut: "Error: mission failed"},
		{
			name:     "config error",
			err:      types.WrapError(types.CONFIG_VALIDATION_FAILED, "configuration validation failed", errors.New("bad")),
			wantCode: ExitConfigError,
			wantOut:  "configuration validation failed",
		},
		{
			name:     "workflow error",
			err:      &workflow.ValidationError{Problems: []string{"StartAt is required"}},
			wantCode: ExitWorkflowError,
			wantOut:  "StartAt is required",
		},
		{name: "missing mission", err: fmt.Errorf("failed to load mission m1: %w", mission.ErrNotFound), wantCode: ExitStoreError, wantOut: "mission not found"},
		{name: "generic", err: errors.New("boom"), wantCode: ExitError, wantOut: "Error: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{Use: "test"}
			var out bytes.Buffer
			cmd.SetErr(&out)

			assert.Equal(t, tt.wantCode, HandleError(cmd, tt.err))
			assert.Contains(t, out.String(), tt.wantOut)
		})
	}
}

func TestHandleError_VerboseCause(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().BoolP("verbose", "v", false, "")
	var out bytes.Buffer
	cmd.SetErr(&out)

	err := WrapError(ExitError, "failed to open store", errors.New("disk full"))
	HandleError(cmd, err)
	assert.NotContains(t, out.String(), "disk full")

	out.Reset()
	_ = cmd.Flags().Set("verbose", "true")
	HandleError(cmd, err)
	assert.Contains(t, out.String(), "Cause: disk full")
}

func TestIsVerbose_Env(t *testing.T) {
	t.Setenv("HIVE_VERBOSE", "1")
	assert.True(t, IsVerbose())
}

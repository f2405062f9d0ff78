package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbhatt1/hive-sub000/cmd/hive/internal"
	"github.com/mbhatt1/hive-sub000/internal/orchestrator"
	"github.com/mbhatt1/hive-sub000/internal/workflow"
)

const scanWorkflow = `
name: quick-scan
start_at: Scan
states:
  Scan:
    type: task
    resource: agent:archaeologist
    next: Done
  Done:
    type: succeed
`

func writeWorkflow(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestWorkflowValidate(t *testing.T) {
	home, cfg := testHome(t, "")

	tests := []struct {
		name      string
		content   string
		wantError string
		wantOut   []string
	}{
		{
			name:    "valid",
			content: scanWorkflow,
			wantOut: []string{"Workflow validation successful", "quick-scan", "States:   2", "succeed"},
		},
		{
			name: "dangling next",
			content: `
name: broken
start_at: Scan
states:
  Scan:
    type: task
    resource: agent:archaeologist
    next: Nowhere
`,
			wantError: "Nowhere",
		},
		{name: "not yaml", content: "name: [", wantError: "failed to parse YAML"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeWorkflow(t, tt.content)
			out, err := executeCommand(t, "", "workflow", "validate", path, "--home", home, "--config", cfg)

			if tt.wantError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantError)
				var cliErr *internal.CLIError
				require.True(t, errors.As(err, &cliErr))
				assert.Equal(t, internal.ExitWorkflowError, cliErr.Code)
				return
			}
			require.NoError(t, err, out)
			for _, want := range tt.wantOut {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestWorkflowValidate_JSON(t *testing.T) {
	home, cfg := testHome(t, "")
	path := writeWorkflow(t, scanWorkflow)

	out, err := executeCommand(t, "", "workflow", "validate", path, "--home", home, "--config", cfg, "-o", "json")
	require.NoError(t, err, out)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "quick-scan", result["name"])
	assert.Equal(t, []any{"Done", "Scan"}, result["states"])
	assert.Equal(t, true, result["valid"])
}

func TestWorkflowShow_DefaultDefinition(t *testing.T) {
	home, cfg := testHome(t, "orchestrator:\n  tool_concurrency: 3\n")

	out, err := executeCommand(t, "", "workflow", "show", "--home", home, "--config", cfg)
	require.NoError(t, err, out)

	wf, err := workflow.ParseWorkflow([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, orchestrator.DefinitionName, wf.Name)
	assert.Equal(t, orchestrator.StateIntake, wf.StartAt)

	node, ok := wf.State(orchestrator.StateToolExecution)
	require.True(t, ok)
	mapNode, ok := node.(*workflow.MapNode)
	require.True(t, ok)
	assert.Equal(t, 3, mapNode.MaxConcurrency)
}

func TestWorkflowShow_File(t *testing.T) {
	home, cfg := testHome(t, "")
	path := writeWorkflow(t, scanWorkflow)

	out, err := executeCommand(t, "", "workflow", "show", path, "--home", home, "--config", cfg)
	require.NoError(t, err, out)

	wf, err := workflow.ParseWorkflow([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, "quick-scan", wf.Name)
	assert.Len(t, wf.States, 2)
}

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// executeCommand runs the root command with args and returns everything
// written to its output. Package-level flag state is reset first.
func executeCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	*globalFlags = GlobalFlags{OutputFormat: "text"}
	missionEventFile = ""
	missionStatus = ""
	missionLimit = 100
	appConfig = nil

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// testHome creates a home directory holding config and returns the home
// and config paths. HIVE_HOME is restored when the test ends.
func testHome(t *testing.T, config string) (string, string) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HIVE_HOME", home)
	if config == "" {
		config = "logging:\n  level: error\n"
	}
	config = strings.ReplaceAll(config, "{{home}}", home)
	path := filepath.Join(home, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(config), 0o600))
	return home, path
}

// pipelineConfig runs every stage as a local echo of a canned result.
const pipelineConfig = `
logging:
  level: error
  output: {{home}}/hive.log
store:
  backend: sqlite
  path: {{home}}/missions.db
runner:
  backend: process
  launch_rate: 0
orchestrator:
  consensus_polling: false
  consensus_wait: 0s
intake:
  backoff: 1ms
agents:
  archaeologist:
    command: ["echo", "{\"languages\":[\"go\"]}"]
  strategist:
    command: ["echo", "{\"focus\":\"secrets\"}"]
  coordinator:
    command: ["echo", "{\"tools\":[{\"tool\":\"semgrep\"},{\"tool\":\"{{tool}}\"}]}"]
  synthesizer:
    command: ["echo", "{\"findings\":[{\"id\":\"f1\"}]}"]
  critic:
    command: ["echo", "{\"verdict\":\"approve\"}"]
  archivist:
    command: ["echo", "{\"findings_count\":3}"]
tools:
  semgrep:
    command: ["echo", "{\"matches\":1}"]
  gitleaks:
    command: ["echo", "{\"leaks\":0}"]
`

func pipelineWithTool(tool string) string {
	return strings.ReplaceAll(pipelineConfig, "{{tool}}", tool)
}

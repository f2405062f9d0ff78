package config

import (
	"path/filepath"
	"time"

	"github.com/mbhatt1/hive-sub000/internal/agent"
	"github.com/mbhatt1/hive-sub000/internal/jobrunner"
	"github.com/mbhatt1/hive-sub000/internal/observability"
)

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	homeDir := DefaultHomeDir()

	return &Config{
		Core: CoreConfig{
			HomeDir:       homeDir,
			ParallelLimit: 10,
		},
		Logging: observability.LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: observability.TracingConfig{
			SampleRate: 1.0,
		},
		Metrics: observability.MetricsConfig{
			Provider: "prometheus",
			Port:     9090,
		},
		Store: StoreConfig{
			Backend:     "sqlite",
			Path:        filepath.Join(homeDir, "hive.db"),
			BusyTimeout: 5 * time.Second,
		},
		Runner: RunnerConfig{
			Backend:        "container",
			LaunchRate:     2,
			LaunchBurst:    5,
			DefaultTimeout: 30 * time.Minute,
			Network:        jobrunner.Network{Mode: "bridge"},
			Limits:         jobrunner.Limits{CPU: 1, MemoryMB: 2048},
		},
		Agents: defaultAgents(),
		Tools:  defaultTools(),
		Orchestrator: OrchestratorConfig{
			MissionTimeout:        time.Hour,
			ToolConcurrency:       5,
			FailureGrace:          time.Minute,
			ConsensusWait:         30 * time.Second,
			ConsensusPolling:      true,
			ConsensusTimeout:      5 * time.Minute,
			ConsensusPollInterval: 10 * time.Second,
		},
		Intake: IntakeConfig{
			MaxAttempts: 3,
			Backoff:     time.Second,
		},
	}
}

func defaultAgents() map[string]agent.Definition {
	agents := make(map[string]agent.Definition)
	for _, name := range []string{"archaeologist", "strategist", "coordinator", "synthesizer", "critic", "archivist"} {
		agents[name] = agent.Definition{Image: "hive/" + name + ":latest"}
	}
	return agents
}

func defaultTools() map[string]agent.Definition {
	tools := make(map[string]agent.Definition)
	for _, name := range []string{"semgrep", "gitleaks", "trivy", "prowler", "scoutsuite"} {
		tools[name] = agent.Definition{Image: "hive/tool-" + name + ":latest"}
	}
	return tools
}

package config

import (
	"time"

	"github.com/mbhatt1/hive-sub000/internal/agent"
	"github.com/mbhatt1/hive-sub000/internal/jobrunner"
	"github.com/mbhatt1/hive-sub000/internal/observability"
)

// Config is the root configuration for Hive.
type Config struct {
	Core          CoreConfig                  `mapstructure:"core" yaml:"core" validate:"required"`
	Logging       observability.LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Tracing       observability.TracingConfig `mapstructure:"tracing" yaml:"tracing"`
	Metrics       observability.MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Store         StoreConfig                 `mapstructure:"store" yaml:"store"`
	Runner        RunnerConfig                `mapstructure:"runner" yaml:"runner"`
	Agents        map[string]agent.Definition `mapstructure:"agents" yaml:"agents"`
	Tools         map[string]agent.Definition `mapstructure:"tools" yaml:"tools"`
	Orchestrator  OrchestratorConfig          `mapstructure:"orchestrator" yaml:"orchestrator"`
	Intake        IntakeConfig                `mapstructure:"intake" yaml:"intake"`
	Notifications NotificationsConfig         `mapstructure:"notifications" yaml:"notifications"`
	Schedules     []ScheduleConfig            `mapstructure:"schedules" yaml:"schedules,omitempty" validate:"dive"`
}

// CoreConfig contains core application settings.
type CoreConfig struct {
	HomeDir string `mapstructure:"home_dir" yaml:"home_dir"`

	// ParallelLimit caps how many missions `hive serve` runs at once.
	ParallelLimit int `mapstructure:"parallel_limit" yaml:"parallel_limit" validate:"min=1,max=100"`
}

// StoreConfig selects the mission store backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend" validate:"oneof=memory sqlite badger"`

	// Path is the sqlite database file or the badger directory.
	Path        string        `mapstructure:"path" yaml:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout" yaml:"busy_timeout"`
}

// RunnerConfig selects and tunes the job runner.
type RunnerConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend" validate:"oneof=container process"`

	// LaunchRate limits job launches per second. Zero disables the limit.
	LaunchRate  float64 `mapstructure:"launch_rate" yaml:"launch_rate" validate:"min=0"`
	LaunchBurst int     `mapstructure:"launch_burst" yaml:"launch_burst" validate:"min=0"`

	WorkDir        string            `mapstructure:"work_dir" yaml:"work_dir,omitempty"`
	KeepContainers bool              `mapstructure:"keep_containers" yaml:"keep_containers"`
	DefaultTimeout time.Duration     `mapstructure:"default_timeout" yaml:"default_timeout"`
	Network        jobrunner.Network `mapstructure:"network" yaml:"network"`
	Limits         jobrunner.Limits  `mapstructure:"limits" yaml:"limits"`

	// Commands maps an image to the local command the process backend runs
	// in its place.
	Commands map[string][]string `mapstructure:"commands" yaml:"commands,omitempty"`
}

// OrchestratorConfig tunes the mission workflow.
type OrchestratorConfig struct {
	MissionTimeout  time.Duration `mapstructure:"mission_timeout" yaml:"mission_timeout" validate:"min=1s"`
	ToolConcurrency int           `mapstructure:"tool_concurrency" yaml:"tool_concurrency" validate:"min=1,max=100"`

	// FailureGrace bounds the failure path when it runs after mission_timeout
	// has expired.
	FailureGrace time.Duration `mapstructure:"failure_grace" yaml:"failure_grace" validate:"min=0"`

	// ToleratedToolFailures is the number of tool jobs allowed to fail before
	// the fan-out fails.
	ToleratedToolFailures int `mapstructure:"tolerated_tool_failures" yaml:"tolerated_tool_failures" validate:"min=0"`

	ConsensusWait         time.Duration `mapstructure:"consensus_wait" yaml:"consensus_wait" validate:"min=0"`
	ConsensusPolling      bool          `mapstructure:"consensus_polling" yaml:"consensus_polling"`
	ConsensusTimeout      time.Duration `mapstructure:"consensus_timeout" yaml:"consensus_timeout"`
	ConsensusPollInterval time.Duration `mapstructure:"consensus_poll_interval" yaml:"consensus_poll_interval"`

	// DefinitionPath loads the workflow from YAML instead of the built-in
	// definition.
	DefinitionPath string `mapstructure:"definition_path" yaml:"definition_path,omitempty"`
}

// IntakeConfig tunes mission intake.
type IntakeConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts" validate:"min=1,max=10"`
	Backoff        time.Duration `mapstructure:"backoff" yaml:"backoff"`
	StrictScanType bool          `mapstructure:"strict_scan_type" yaml:"strict_scan_type"`
}

// NotificationsConfig controls mission notifications.
type NotificationsConfig struct {
	PublishFailures bool `mapstructure:"publish_failures" yaml:"publish_failures"`

	// LogChannel also writes every notification to the process log.
	LogChannel bool `mapstructure:"log_channel" yaml:"log_channel"`
}

// ScheduleConfig is one periodic AWS audit.
type ScheduleConfig struct {
	Cron    string         `mapstructure:"cron" yaml:"cron" validate:"required"`
	Account string         `mapstructure:"account" yaml:"account" validate:"required"`
	Params  map[string]any `mapstructure:"params" yaml:"params,omitempty"`
}

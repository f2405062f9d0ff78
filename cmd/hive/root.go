package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mbhatt1/hive-sub000/cmd/hive/internal"
	"github.com/mbhatt1/hive-sub000/internal/config"
	"github.com/mbhatt1/hive-sub000/pkg/version"
)

// appConfig is loaded by loadConfig before any command that needs it runs.
var appConfig *config.Config

var rootCmd = &cobra.Command{
	Use:   "hive",
	Short: "Hive - multi-agent security scanning orchestrator",
	Long: `Hive runs security scanning missions through a fixed pipeline of
containerised agents: intake, context discovery, planning, tool fan-out,
synthesis, consensus and archiving.

Missions are started from an intake document or an upload notification
with 'hive mission run', or on a schedule with 'hive serve'.`,
	PersistentPreRunE: loadConfig,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the root command with signal handling
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

// loadConfig resolves the home directory and config file, then loads the
// configuration over the defaults. A missing config file is not an error.
func loadConfig(cmd *cobra.Command, args []string) error {
	if err := globalFlags.Validate(); err != nil {
		return err
	}

	switch cmd.Name() {
	case "version", "help", "completion":
		return nil
	}

	homeDir := globalFlags.HomeDir
	if homeDir != "" {
		if err := os.Setenv("HIVE_HOME", homeDir); err != nil {
			return internal.WrapError(internal.ExitConfigError, "failed to set home directory", err)
		}
	} else {
		homeDir = config.DefaultHomeDir()
	}

	configFile := globalFlags.ConfigFile
	if configFile == "" {
		configFile = config.DefaultConfigPath(homeDir)
	}

	loader := config.NewConfigLoader(config.NewValidator())
	cfg, err := loader.LoadWithDefaults(configFile)
	if err != nil {
		return internal.WrapError(internal.ExitConfigError, "failed to load configuration", err)
	}
	if globalFlags.IsVerbose() {
		if _, statErr := os.Stat(configFile); os.IsNotExist(statErr) {
			cmd.PrintErrf("Config file not found at %s, using defaults\n", configFile)
		}
	}
	appConfig = cfg
	return nil
}

func init() {
	RegisterGlobalFlags(rootCmd)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(missionCmd)
	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(completionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if p := printerFor(cmd); p.JSON() {
			return p.PrintJSON(version.Info())
		}
		cmd.Println(version.String())
		return nil
	},
}

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for Hive.

To load completions:

Bash:

  $ source <(hive completion bash)

Zsh:

  $ hive completion zsh > "${fpath[1]}/_hive"

Fish:

  $ hive completion fish | source

PowerShell:

  PS> hive completion powershell | Out-String | Invoke-Expression
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(out)
		case "zsh":
			return cmd.Root().GenZshCompletion(out)
		case "fish":
			return cmd.Root().GenFishCompletion(out, true)
		default:
			return cmd.Root().GenPowerShellCompletionWithDesc(out)
		}
	},
}

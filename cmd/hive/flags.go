package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mbhatt1/hive-sub000/cmd/hive/internal"
)

// GlobalFlags holds global flags available to all commands
type GlobalFlags struct {
	Verbose      bool
	Quiet        bool
	OutputFormat string
	ConfigFile   string
	HomeDir      string
}

var globalFlags = &GlobalFlags{}

// RegisterGlobalFlags registers persistent flags on the root command
func RegisterGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "Suppress non-essential output")
	cmd.PersistentFlags().StringVarP(&globalFlags.OutputFormat, "output", "o", "text", "Output format (text|json)")
	cmd.PersistentFlags().StringVar(&globalFlags.ConfigFile, "config", "", "Path to config file (default: $HIVE_HOME/config.yaml)")
	cmd.PersistentFlags().StringVar(&globalFlags.HomeDir, "home", "", "Hive home directory (default: ~/.hive)")
}

// Validate checks the flag combination.
func (f *GlobalFlags) Validate() error {
	if f.OutputFormat != string(internal.FormatText) && f.OutputFormat != string(internal.FormatJSON) {
		return internal.NewCLIError(internal.ExitError, fmt.Sprintf("invalid output format %q (must be text or json)", f.OutputFormat))
	}
	if f.Verbose && f.Quiet {
		return internal.NewCLIError(internal.ExitError, "--verbose and --quiet cannot be used together")
	}
	return nil
}

// GetOutputFormat returns the parsed OutputFormat enum
func (f *GlobalFlags) GetOutputFormat() internal.OutputFormat {
	if f.OutputFormat == string(internal.FormatJSON) {
		return internal.FormatJSON
	}
	return internal.FormatText
}

// IsVerbose returns true if verbose mode is enabled
func (f *GlobalFlags) IsVerbose() bool {
	return f.Verbose && !f.Quiet
}

// IsQuiet returns true if quiet mode is enabled
func (f *GlobalFlags) IsQuiet() bool {
	return f.Quiet
}

func printerFor(cmd *cobra.Command) *internal.Printer {
	return internal.NewPrinter(globalFlags.GetOutputFormat(), cmd.OutOrStdout())
}

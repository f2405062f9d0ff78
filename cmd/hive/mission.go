package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbhatt1/hive-sub000/cmd/hive/internal"
	"github.com/mbhatt1/hive-sub000/internal/mission"
	"github.com/mbhatt1/hive-sub000/internal/orchestrator"
	"github.com/mbhatt1/hive-sub000/internal/trigger"
	"github.com/mbhatt1/hive-sub000/internal/types"
)

var missionCmd = &cobra.Command{
	Use:   "mission",
	Short: "Run and inspect missions",
	Long: `Run security scanning missions and inspect their recorded status.

A mission is one execution of the pipeline for one intake event. Its status,
context and findings count are kept in the mission store configured under
'store' in the config file.`,
}

var missionRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a mission from an intake event",
	Long: `Run a mission to completion from an intake event read from --file or stdin.

The event may be an intake document carrying mission_id and scan_type, an S3
event notification or an EventBridge "Object Created" event. Re-delivering an
event for a finished mission reports the recorded outcome without running it
again.`,
	Example: `  # Run a code scan from an intake document
  echo '{"mission_id":"m-42","scan_type":"code","repo":"acme/api"}' | hive mission run

  # Run from an upload notification with live progress
  hive mission run --file s3-event.json --verbose`,
	Args: cobra.NoArgs,
	RunE: runMissionRun,
}

var missionStatusCmd = &cobra.Command{
	Use:   "status <mission-id>",
	Short: "Show a mission's recorded status",
	Args:  cobra.ExactArgs(1),
	RunE:  runMissionStatus,
}

var missionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded missions",
	Example: `  # List failed missions as JSON
  hive mission list --status FAILED -o json`,
	Args: cobra.NoArgs,
	RunE: runMissionList,
}

var (
	missionEventFile string
	missionStatus    string
	missionLimit     int
)

func init() {
	missionRunCmd.Flags().StringVarP(&missionEventFile, "file", "f", "", "Intake event file (default: stdin)")
	missionListCmd.Flags().StringVar(&missionStatus, "status", "", "Only list missions with this status")
	missionListCmd.Flags().IntVar(&missionLimit, "limit", 100, "Maximum number of missions to list")

	missionCmd.AddCommand(missionRunCmd)
	missionCmd.AddCommand(missionStatusCmd)
	missionCmd.AddCommand(missionListCmd)
}

func runMissionRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	data, err := readEvent(cmd, missionEventFile)
	if err != nil {
		return internal.WrapError(internal.ExitError, "failed to read intake event", err)
	}
	in, err := trigger.ParseUploadEvent(data)
	if err != nil {
		return internal.WrapError(internal.ExitError, "invalid intake event", err)
	}

	a, err := newApp(ctx, appConfig)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	progress := NewProgressReporter(globalFlags.IsVerbose(), globalFlags.IsQuiet(), cmd.ErrOrStderr())
	stop := progress.Subscribe(ctx, a.bus, in.MissionID)
	m, err := a.service.Run(ctx, in)
	stop()
	if err != nil {
		if errors.Is(err, orchestrator.ErrMissionInProgress) {
			return internal.WrapError(internal.ExitError, fmt.Sprintf("mission %s is already running", in.MissionID), err)
		}
		return err
	}

	if err := printMission(cmd, m); err != nil {
		return err
	}
	if m.Status == mission.StatusFailed {
		return internal.NewCLIError(internal.ExitMissionFailed, fmt.Sprintf("mission %s failed: %s", m.ID, m.Error))
	}
	return nil
}

func runMissionStatus(cmd *cobra.Command, args []string) error {
	id := types.ID(args[0])
	if err := id.Validate(); err != nil {
		return internal.WrapError(internal.ExitError, "invalid mission id", err)
	}

	store, err := openStore(appConfig.Store)
	if err != nil {
		return internal.WrapError(internal.ExitStoreError, "failed to open mission store", err)
	}
	defer store.Close()

	m, err := store.Get(cmd.Context(), id)
	if err != nil {
		return internal.WrapError(internal.ExitStoreError, fmt.Sprintf("failed to load mission %s", id), err)
	}
	return printMission(cmd, m)
}

func runMissionList(cmd *cobra.Command, args []string) error {
	filter := mission.NewFilter()
	if missionStatus != "" {
		status := mission.Status(missionStatus)
		if !status.IsValid() {
			return internal.NewCLIError(internal.ExitError, fmt.Sprintf("unknown mission status %q", missionStatus))
		}
		filter = filter.WithStatus(status)
	}
	if missionLimit > 0 {
		filter.Limit = missionLimit
	}

	store, err := openStore(appConfig.Store)
	if err != nil {
		return internal.WrapError(internal.ExitStoreError, "failed to open mission store", err)
	}
	defer store.Close()

	missions, err := store.List(cmd.Context(), filter)
	if err != nil {
		return internal.WrapError(internal.ExitStoreError, "failed to list missions", err)
	}

	rows := make([][]string, 0, len(missions))
	for _, m := range missions {
		rows = append(rows, []string{
			m.ID.String(),
			m.ScanType,
			string(m.Status),
			strconv.Itoa(m.FindingsCount),
			m.UpdatedAt.Format(time.RFC3339),
		})
	}
	return printerFor(cmd).PrintTable([]string{"id", "scan_type", "status", "findings", "updated"}, rows)
}

func printMission(cmd *cobra.Command, m *mission.Mission) error {
	p := printerFor(cmd)
	if p.JSON() {
		return p.PrintJSON(m)
	}

	report := p.PrintSuccess
	if m.Status == mission.StatusFailed {
		report = p.PrintError
	}
	if err := report(fmt.Sprintf("Mission %s %s", m.ID, m.Status)); err != nil {
		return err
	}

	cmd.Printf("  Scan type: %s\n", m.ScanType)
	cmd.Printf("  Findings:  %d\n", m.FindingsCount)
	if m.Status.IsTerminal() {
		cmd.Printf("  Duration:  %s\n", m.Duration().Round(time.Millisecond))
	}
	if m.Error != "" {
		cmd.Printf("  Error:     %s\n", m.Error)
	}
	return nil
}

func readEvent(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

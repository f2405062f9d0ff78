package main

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/mbhatt1/hive-sub000/cmd/hive/internal"
	"github.com/mbhatt1/hive-sub000/internal/orchestrator"
	"github.com/mbhatt1/hive-sub000/internal/workflow"
)

// workflowCmd is the root command for workflow definition operations
var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Inspect and validate mission workflow definitions",
	Long: `Inspect the built-in mission pipeline and validate custom workflow
definitions before pointing orchestrator.definition_path at them.`,
}

var workflowValidateCmd = &cobra.Command{
	Use:   "validate <file.yaml>",
	Short: "Validate a workflow definition",
	Long: `Parse a workflow YAML file and check its structure:
  - StartAt names an existing state
  - every Next, Default, Choice and Catch target exists
  - every non-terminal state has a successor
  - Parallel branches and Map iterators are valid workflows themselves`,
	Example: `  hive workflow validate pipeline.yaml`,
	Args:    cobra.ExactArgs(1),
	RunE:    runWorkflowValidate,
}

var workflowShowCmd = &cobra.Command{
	Use:   "show [file.yaml]",
	Short: "Print a workflow definition as YAML",
	Long: `Print the built-in mission pipeline, tuned by the loaded configuration,
or the definition in the given file, as YAML.`,
	Example: `  # Export the built-in pipeline as a starting point for customisation
  hive workflow show > pipeline.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWorkflowShow,
}

func init() {
	workflowCmd.AddCommand(workflowValidateCmd)
	workflowCmd.AddCommand(workflowShowCmd)
}

func runWorkflowValidate(cmd *cobra.Command, args []string) error {
	wf, err := workflow.ParseWorkflowFile(args[0])
	if err != nil {
		return internal.WrapError(internal.ExitWorkflowError, "workflow validation failed", err)
	}

	p := printerFor(cmd)
	if p.JSON() {
		return p.PrintJSON(map[string]any{
			"name":     wf.Name,
			"start_at": wf.StartAt,
			"states":   wf.StateNames(),
			"valid":    true,
		})
	}

	if err := p.PrintSuccess("Workflow validation successful"); err != nil {
		return err
	}
	cmd.Printf("  Name:     %s\n", wf.Name)
	cmd.Printf("  StartAt:  %s\n", wf.StartAt)
	cmd.Printf("  States:   %d\n", len(wf.States))

	kinds := make(map[string]int)
	for _, node := range wf.States {
		kinds[string(node.Kind())]++
	}
	names := make([]string, 0, len(kinds))
	for kind := range kinds {
		names = append(names, kind)
	}
	sort.Strings(names)
	for _, kind := range names {
		cmd.Printf("    %-10s %d\n", kind, kinds[kind])
	}
	return nil
}

func runWorkflowShow(cmd *cobra.Command, args []string) error {
	var (
		wf  *workflow.Workflow
		err error
	)
	switch {
	case len(args) == 1:
		wf, err = workflow.ParseWorkflowFile(args[0])
	case appConfig != nil && appConfig.Orchestrator.DefinitionPath != "":
		wf, err = workflow.ParseWorkflowFile(appConfig.Orchestrator.DefinitionPath)
	default:
		cfg := orchestrator.DefaultConfig()
		if appConfig != nil {
			cfg = orchestrator.ConfigFrom(appConfig)
		}
		wf, err = orchestrator.DefaultDefinition(cfg.Definition)
	}
	if err != nil {
		return internal.WrapError(internal.ExitWorkflowError, "failed to load workflow", err)
	}

	data, err := workflow.MarshalWorkflow(wf)
	if err != nil {
		return internal.WrapError(internal.ExitError, "failed to render workflow", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

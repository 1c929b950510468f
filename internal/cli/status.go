package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"dockrun/internal/doctor"
)

func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the environment and report progress without docking anything",
		Long: `Check the tool, receptor, input and output directories and the run lock,
then count ligands, results and pending work from the results directory.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, rootOpts)
		},
	}
}

func runStatus(cmd *cobra.Command, opts *RootOptions) error {
	out := cmd.OutOrStdout()
	cfg, cfgPath, err := loadConfig(cmd.Context(), opts)
	if err != nil {
		return err
	}
	report, err := doctor.Status(cmd.Context(), cfg)
	if err != nil {
		return WrapExitError(ExitFailure, "status", err)
	}
	if opts.JSON {
		if err := printJSON(out, report); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, titleStyle.Render("checks"))
		renderChecks(out, report.Checks)
		fmt.Fprintln(out, titleStyle.Render("progress"))
		kv(out, "config", orDash(cfgPath))
		kv(out, "items", formatCount(report.Items))
		kv(out, "completed", formatCount(report.Completed))
		kv(out, "pending", formatCount(report.Pending))
		kv(out, "chunks_needed", fmt.Sprintf("%d (chunk size %d)", report.ChunksNeeded, report.ChunkSize))
		if n := len(report.LeftoverIndexes); n > 0 {
			kv(out, "failed_attempts", fmt.Sprintf("%d index artifacts kept in %s", n, filepath.Dir(report.LeftoverIndexes[0])))
		}
		if last := report.LastRun; last != nil {
			state := "finished"
			switch {
			case last.FinishedAt == "":
				state = "running or crashed"
			case last.Interrupted:
				state = "interrupted"
			}
			kv(out, "last_run", fmt.Sprintf("%s %s (%s), %d remaining", last.ID, last.StartedAt, state, last.ItemsRemaining))
		}
	}
	if !report.OK {
		return NewExitError(ExitCommandError, "status checks failed")
	}
	return nil
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dockrun/internal/completion"
	"dockrun/internal/runstore"
)

type ResetOptions struct {
	*RootOptions
	Yes bool
}

func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the results directory so the next run starts from scratch",
		Long: `Delete the entire results directory. Completion is derived from that
directory alone, so the next run docks every ligand again.

The failure log, attempt logs and the journal are left in place.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(cmd, opts)
		},
	}
	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

type resetResult struct {
	ResultsDir string `json:"results_dir"`
	Results    int    `json:"results"`
	Removed    bool   `json:"removed"`
}

func runReset(cmd *cobra.Command, opts *ResetOptions) error {
	out := cmd.OutOrStdout()
	cfg, _, err := loadConfig(cmd.Context(), opts.RootOptions)
	if err != nil {
		return err
	}
	res := resetResult{ResultsDir: cfg.ResultsDir()}
	done, err := completion.New(res.ResultsDir, cfg.ResultExtension).Completed()
	if err != nil {
		return WrapExitError(ExitFailure, "read results directory", err)
	}
	res.Results = done.Len()

	if !opts.Yes {
		if !stdinIsTTY() {
			return NewExitError(ExitCommandError, "confirmation required (rerun with --yes in non-interactive mode)")
		}
		ok, err := promptConfirm(cmd.InOrStdin(), out, fmt.Sprintf("Delete %s with %s results? [y/N] ", res.ResultsDir, formatCount(res.Results)))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "reset cancelled")
			return nil
		}
	}

	lock, err := runstore.AcquireRunLock(cfg.OutputDir, "reset")
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot reset", err)
	}
	defer func() {
		_ = lock.Release()
	}()

	res.Removed, err = runstore.RemoveResults(res.ResultsDir)
	if err != nil {
		return WrapExitError(ExitFailure, "reset", err)
	}
	if opts.JSON {
		return printJSON(out, res)
	}
	if !res.Removed {
		fmt.Fprintf(out, "nothing to reset: %s does not exist\n", res.ResultsDir)
		return nil
	}
	fmt.Fprintf(out, "removed %s (%s results)\n", res.ResultsDir, formatCount(res.Results))
	return nil
}

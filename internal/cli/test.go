package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dockrun/internal/doctor"
)

type SelfTestOptions struct {
	*RootOptions
	Sample     int
	SkipInvoke bool
}

func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SelfTestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run diagnostics: file access, index creation and a single-ligand dock",
		Long: `Check that the first ligands are readable, that an index artifact can be
written, and that the tool docks one ligand end to end into a scratch
directory under the output root. The real results directory is not touched.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelfTest(cmd, opts)
		},
	}
	cmd.Flags().IntVar(&opts.Sample, "sample", doctor.DefaultSample, "number of ligands to check")
	cmd.Flags().BoolVar(&opts.SkipInvoke, "skip-invoke", false, "skip the single-ligand docking test")
	return cmd
}

func runSelfTest(cmd *cobra.Command, opts *SelfTestOptions) error {
	out := cmd.OutOrStdout()
	cfg, _, err := loadConfig(cmd.Context(), opts.RootOptions)
	if err != nil {
		return err
	}
	report, err := doctor.SelfTest(cmd.Context(), doctor.TestOptions{
		Config:     cfg,
		Client:     newClient(cfg),
		Sample:     opts.Sample,
		SkipInvoke: opts.SkipInvoke,
	})
	if err != nil {
		return classifyRunError(err)
	}
	if opts.JSON {
		if err := printJSON(out, report); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, titleStyle.Render("files"))
		for _, f := range report.Files {
			fmt.Fprintf(out, "  %-28s %s %s\n", f.Name, statusWord(f.OK), mutedStyle.Render("("+f.Message+")"))
		}
		fmt.Fprintln(out, titleStyle.Render("checks"))
		renderChecks(out, report.Checks)
		if report.ScratchDir != "" {
			fmt.Fprintf(out, "scratch output kept for inspection: %s\n", report.ScratchDir)
		}
	}
	if !report.OK {
		return NewExitError(ExitFailure, "self-test failed")
	}
	if !opts.JSON {
		fmt.Fprintln(out, okStyle.Render("all tests passed"))
	}
	return nil
}

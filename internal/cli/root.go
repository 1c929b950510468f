package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"dockrun/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	LogFormat  string
	JSON       bool
}

var validLogFormats = []string{logging.FormatConsole, logging.FormatJSON}

// NewRootCommand builds the dockrun command tree. With no subcommand it runs.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	runOpts := &RunOptions{RootOptions: opts}

	cmd := &cobra.Command{
		Use:   "dockrun",
		Short: "Chunked, resumable batch docking with unidocktools mcdock",
		Long: `dockrun docks every ligand file under an input directory with the
external unidocktools mcdock tool, a chunk at a time.

The results directory is the only record of progress: rerunning dockrun after
a crash or interruption submits exactly the ligands that have no result yet.

Quick start:
  dockrun init
  dockrun test
  dockrun run`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.LogFormat != "" && !isValidLogFormat(opts.LogFormat) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid --log-format %q: must be one of %v", opts.LogFormat, validLogFormats))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDocking(cmd, runOpts)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (.toml or .yaml; default ./"+defaultConfigHint+" when present)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (console|json)")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "print machine-readable JSON output")
	bindRunFlags(cmd, runOpts)

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewResetCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	cmd := NewRootCommand()
	err := cmd.ExecuteContext(context.Background())
	if err == nil {
		return ExitSuccess
	}
	code := GetExitCode(err)
	prefix := "error: "
	if code == ExitIncomplete || code == ExitInterrupted {
		prefix = ""
	}
	fmt.Fprintln(os.Stderr, prefix+err.Error())
	return code
}

func isValidLogFormat(format string) bool {
	for _, f := range validLogFormats {
		if strings.EqualFold(f, format) {
			return true
		}
	}
	return false
}

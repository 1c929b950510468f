package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"dockrun/internal/config"
)

type InitOptions struct {
	*RootOptions
	Path        string
	Force       bool
	Interactive bool
}

func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented config file with the default docking settings",
		Long: `Write a dockrun config file. Defaults reproduce the standard mcdock setup:
vina scoring, rigid docking then local refinement, chunks of 500 ligands and a
10 hour timeout per chunk. Use --interactive to fill in paths and the box.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Path, "path", config.DefaultFileName, "where to write the config")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite an existing file")
	cmd.Flags().BoolVarP(&opts.Interactive, "interactive", "i", false, "fill in the main settings with a terminal form")
	return cmd
}

func runInit(cmd *cobra.Command, opts *InitOptions) error {
	out := cmd.OutOrStdout()
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = config.DefaultFileName
	}
	cfg := config.Default()

	if opts.Interactive {
		if !stdinIsTTY() {
			return NewExitError(ExitCommandError, "--interactive requires a terminal (TTY)")
		}
		edited, ok, err := runInitWizard(cfg)
		if err != nil {
			return WrapExitError(ExitFailure, "init wizard", err)
		}
		if !ok {
			fmt.Fprintln(out, "init cancelled")
			return nil
		}
		cfg = edited
	}

	if err := config.Write(path, cfg, opts.Force); err != nil {
		return WrapExitError(ExitCommandError, "init", err)
	}
	if opts.JSON {
		return printJSON(out, map[string]string{"path": path})
	}
	abs, _ := filepath.Abs(path)
	fmt.Fprintf(out, "wrote %s\n", abs)
	fmt.Fprintln(out, "next:")
	fmt.Fprintln(out, "  edit input_dir, output_dir and docking.receptor if needed")
	fmt.Fprintln(out, "  dockrun test")
	fmt.Fprintln(out, "  dockrun run")
	return nil
}

func runInitWizard(cfg config.Config) (config.Config, bool, error) {
	m := newInitModel(cfg, 100)
	final, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "tty") {
			return cfg, false, errors.New("init wizard requires an interactive terminal (TTY)")
		}
		return cfg, false, err
	}
	fm, ok := final.(initModel)
	if !ok || !fm.saved {
		return cfg, false, nil
	}
	return fm.cfg, true, nil
}

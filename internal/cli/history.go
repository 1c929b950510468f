package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"dockrun/internal/journal"
)

type HistoryOptions struct {
	*RootOptions
	Limit int
}

func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "history",
		Short:         "List recent runs from the journal",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 10, "number of runs to show")
	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions) error {
	out := cmd.OutOrStdout()
	cfg, _, err := loadConfig(cmd.Context(), opts.RootOptions)
	if err != nil {
		return err
	}
	path := cfg.JournalPath()
	if path == "" {
		return NewExitError(ExitCommandError, "the journal is disabled in the configuration")
	}
	if _, err := os.Stat(path); err != nil {
		if opts.JSON {
			return printJSON(out, []journal.RunRow{})
		}
		fmt.Fprintf(out, "no runs recorded yet (%s)\n", path)
		return nil
	}

	store, err := journal.Open(path)
	if err != nil {
		return WrapExitError(ExitFailure, "open journal", err)
	}
	defer store.Close()
	runs, err := store.RecentRuns(cmd.Context(), opts.Limit)
	if err != nil {
		return WrapExitError(ExitFailure, "read journal", err)
	}
	if opts.JSON {
		if runs == nil {
			runs = []journal.RunRow{}
		}
		return printJSON(out, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintf(out, "no runs recorded yet (%s)\n", path)
		return nil
	}
	fmt.Fprintln(out, historyTable(runs))
	return nil
}

func historyTable(runs []journal.RunRow) string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID,
			r.StartedAt,
			orDash(r.FinishedAt),
			formatCount(r.ItemsTotal),
			formatCount(r.ItemsCompleted),
			formatCount(r.ItemsFailed),
			formatCount(r.ItemsRemaining),
			strconv.Itoa(r.Attempts),
			runState(r),
		})
	}
	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("RUN", "STARTED", "FINISHED", "ITEMS", "DOCKED", "FAILED", "LEFT", "ATTEMPTS", "STATE").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		}).
		String()
}

func runState(r journal.RunRow) string {
	switch {
	case r.FinishedAt == "":
		return "unfinished"
	case r.Interrupted:
		return "interrupted"
	case r.ItemsRemaining == 0:
		return "complete"
	default:
		return "incomplete"
	}
}

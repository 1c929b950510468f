package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"dockrun/internal/config"
	"dockrun/internal/doctor"
	"dockrun/internal/model"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
)

func kv(w io.Writer, k, v string) {
	fmt.Fprintf(w, "  %-20s %s\n", k+":", v)
}

func statusWord(ok bool) string {
	if ok {
		return okStyle.Render("ok")
	}
	return errorStyle.Render("fail")
}

func renderChecks(w io.Writer, checks []doctor.Check) {
	for _, c := range checks {
		fmt.Fprintf(w, "  %-28s %s %s\n", c.Name, statusWord(c.OK), mutedStyle.Render("("+c.Message+")"))
	}
}

func renderSummary(w io.Writer, s model.RunSummary, cfg config.Config) {
	fmt.Fprintln(w, titleStyle.Render("run summary"))
	kv(w, "run_id", s.RunID)
	kv(w, "items", formatCount(s.ItemsTotal))
	kv(w, "already_done", formatCount(s.ItemsAlreadyDone))
	kv(w, "completed_now", formatCount(s.ItemsCompleted))
	kv(w, "failed", fmt.Sprintf("%s (quarantined %s)", formatCount(s.ItemsFailed), formatCount(s.ItemsQuarantined)))
	kv(w, "remaining", formatCount(s.ItemsRemaining))
	kv(w, "chunks", fmt.Sprintf("%d planned, %d attempted, %d ok, %d partial, %d failed, %d skipped",
		s.ChunksPlanned, s.ChunksAttempted, s.ChunksSucceeded, s.ChunksPartial, s.ChunksFailed, s.ChunksSkipped))
	kv(w, "attempts", formatCount(s.Attempts))
	kv(w, "results", cfg.ResultsDir())
	if s.ItemsFailed > 0 {
		kv(w, "failure_log", cfg.FailureLogPath())
	}

	done := s.ItemsTotal - s.ItemsRemaining
	progress := fmt.Sprintf("%s/%s", formatCount(done), formatCount(s.ItemsTotal))
	switch {
	case s.Complete():
		fmt.Fprintln(w, okStyle.Render("all items docked ")+mutedStyle.Render(progress))
	case s.Interrupted:
		fmt.Fprintln(w, warnStyle.Render("interrupted ")+mutedStyle.Render(progress))
		fmt.Fprintln(w, "next: rerun `dockrun run` to continue where this run stopped")
	default:
		fmt.Fprintln(w, warnStyle.Render("incomplete ")+mutedStyle.Render(progress))
		fmt.Fprintln(w, "next: inspect the failure log, then rerun `dockrun run` to retry the remaining items")
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

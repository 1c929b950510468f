package runner

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"dockrun/internal/model"
)

const maxDashboardEvents = 8

var (
	dashTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dashMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dashWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dashErrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	dashOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

// Dashboard renders controller events as a live terminal view.
type Dashboard struct {
	program *tea.Program
	done    chan struct{}
}

// StartDashboard runs the view until Stop. onInterrupt is called on ctrl+c,
// which the terminal delivers as a key press while the view owns it.
func StartDashboard(in io.Reader, out io.Writer, onInterrupt func()) *Dashboard {
	m := newDashboardModel(onInterrupt, time.Now)
	p := tea.NewProgram(m, tea.WithInput(in), tea.WithOutput(out), tea.WithoutSignalHandler())
	d := &Dashboard{program: p, done: make(chan struct{})}
	go func() {
		defer close(d.done)
		_, _ = p.Run()
	}()
	return d
}

func (d *Dashboard) Observe(e model.Event) {
	d.program.Send(eventMsg(e))
}

func (d *Dashboard) Stop() {
	d.program.Quit()
	<-d.done
}

type eventMsg model.Event

type dashboardModel struct {
	runID       string
	total       int
	done        int
	doneAtStart int
	chunk       int
	totalChunks int
	attempt     int
	chunkItems  int
	failed      int
	quarantined int
	outcomes    map[string]int
	lastLine    string
	pct         string
	events      []string
	stopping    bool
	finished    bool
	started     time.Time
	width       int

	spin        spinner.Model
	bar         progress.Model
	onInterrupt func()
	now         func() time.Time
}

func newDashboardModel(onInterrupt func(), now func() time.Time) dashboardModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 50
	return dashboardModel{
		outcomes:    make(map[string]int),
		events:      make([]string, 0, maxDashboardEvents),
		started:     now(),
		width:       100,
		spin:        s,
		bar:         bar,
		onInterrupt: onInterrupt,
		now:         now,
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return m.spin.Tick
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC && !m.stopping {
			m.stopping = true
			m.pushEvent(dashWarnStyle.Render("stop requested: finishing the current chunk"))
			if m.onInterrupt != nil {
				m.onInterrupt()
			}
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(10, min(60, msg.Width-30))
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	case eventMsg:
		m.apply(model.Event(msg))
		return m, nil
	}
	return m, nil
}

func (m *dashboardModel) apply(e model.Event) {
	switch e.Kind {
	case model.EventRunStarted:
		m.runID = e.RunID
		m.total = e.Total
		m.done = e.Completed
		m.doneAtStart = e.Completed
		m.totalChunks = e.TotalChunks
		m.started = m.now()
		m.pushEvent(fmt.Sprintf("run %s: %d items, %d done, %d chunks planned", shortID(e.RunID), e.Total, e.Completed, e.TotalChunks))
	case model.EventChunkStarted:
		m.chunk = e.Chunk
		m.totalChunks = e.TotalChunks
		m.chunkItems = e.Items
		m.attempt = 0
		m.lastLine = ""
		m.pct = ""
	case model.EventChunkSkipped:
		m.outcomes[model.OutcomeSkipped]++
		m.pushEvent(dashMutedStyle.Render(fmt.Sprintf("chunk %d already complete", e.Chunk)))
	case model.EventAttemptStarted:
		m.attempt = e.Attempt
		m.chunkItems = e.Items
	case model.EventAttemptFinished:
		if e.Err != "" {
			m.pushEvent(dashErrStyle.Render(fmt.Sprintf("chunk %d attempt %d failed: %s", e.Chunk, e.Attempt, truncateRunes(e.Err, 80))))
		}
	case model.EventItemsFailed:
		m.failed += len(e.Failures)
		for _, f := range e.Failures {
			if f.Reason == model.ReasonQuarantined {
				m.quarantined++
			}
		}
		m.pushEvent(dashWarnStyle.Render(fmt.Sprintf("chunk %d: %d item(s) %s", e.Chunk, len(e.Failures), failureReasons(e.Failures))))
	case model.EventToolOutput:
		m.lastLine = e.Line
		if pct, ok := toolPercent(e.Line); ok {
			m.pct = pct
		}
	case model.EventProgress:
		m.done = e.Completed
		m.total = e.Total
	case model.EventChunkFinished:
		m.outcomes[e.Outcome]++
		style := dashOKStyle
		if e.Outcome != model.OutcomeSucceeded {
			style = dashWarnStyle
		}
		m.pushEvent(style.Render(fmt.Sprintf("chunk %d/%d %s", e.Chunk, e.TotalChunks, e.Outcome)))
	case model.EventRunFinished:
		m.finished = true
		if e.Summary != nil {
			m.done = e.Completed
			m.total = e.Total
		}
		m.pushEvent(dashTitleStyle.Render("run finished"))
	}
}

func (m *dashboardModel) pushEvent(line string) {
	m.events = append([]string{line}, m.events...)
	if len(m.events) > maxDashboardEvents {
		m.events = m.events[:maxDashboardEvents]
	}
}

func (m dashboardModel) View() string {
	var b strings.Builder
	head := m.spin.View()
	if m.finished {
		head = dashOKStyle.Render("✓")
	}
	b.WriteString(fmt.Sprintf("%s %s | run %s | chunk %d/%d | attempt %d | items in flight %d\n",
		head, dashTitleStyle.Render("dockrun live"), shortID(m.runID), m.chunk, m.totalChunks, m.attempt, m.chunkItems))

	ratio := 0.0
	if m.total > 0 {
		ratio = float64(m.done) / float64(m.total)
	}
	eta := estimateETA(m.done-m.doneAtStart, m.total-m.done, m.now().Sub(m.started))
	if eta == "" {
		eta = "calculating"
	}
	b.WriteString(fmt.Sprintf("%s %d/%d done | failed %d (quarantined %d) | eta ~ %s\n",
		m.bar.ViewAs(ratio), m.done, m.total, m.failed, m.quarantined, eta))
	b.WriteString(dashMutedStyle.Render(fmt.Sprintf("chunks ok:%d partial:%d failed:%d skipped:%d",
		m.outcomes[model.OutcomeSucceeded], m.outcomes[model.OutcomePartial], m.outcomes[model.OutcomeFailed], m.outcomes[model.OutcomeSkipped])))
	b.WriteString("\n")

	tool := "(waiting for tool output)"
	if m.lastLine != "" {
		tool = m.lastLine
	}
	if m.pct != "" {
		tool = m.pct + " " + tool
	}
	b.WriteString("tool: " + truncateRunes(tool, max(20, m.width-8)) + "\n")

	if m.stopping && !m.finished {
		b.WriteString(dashWarnStyle.Render("stopping after the current chunk; the tool keeps running until it exits") + "\n")
	}
	if len(m.events) > 0 {
		b.WriteString(strings.Repeat("-", max(20, min(m.width, 120))) + "\n")
		for _, e := range m.events {
			b.WriteString(e + "\n")
		}
	}
	return b.String()
}

func failureReasons(records []model.FailureRecord) string {
	seen := make(map[string]bool)
	var reasons []string
	for _, r := range records {
		if !seen[r.Reason] {
			seen[r.Reason] = true
			reasons = append(reasons, r.Reason)
		}
	}
	return strings.Join(reasons, ", ")
}

func shortID(id string) string {
	if len(id) <= 13 {
		return id
	}
	return id[:13]
}

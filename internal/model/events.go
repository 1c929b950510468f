package model

import "time"

type EventKind string

const (
	EventRunStarted      EventKind = "run_started"
	EventChunkStarted    EventKind = "chunk_started"
	EventChunkSkipped    EventKind = "chunk_skipped"
	EventAttemptStarted  EventKind = "attempt_started"
	EventAttemptFinished EventKind = "attempt_finished"
	EventItemsFailed     EventKind = "items_failed"
	EventChunkFinished   EventKind = "chunk_finished"
	EventToolOutput      EventKind = "tool_output"
	EventProgress        EventKind = "progress"
	EventRunFinished     EventKind = "run_finished"
)

// Event is emitted by the run controller. Observers must not feed back into control flow.
type Event struct {
	Kind        EventKind
	At          time.Time
	RunID       string
	Chunk       int
	TotalChunks int
	Attempt     int
	Items       int

	// attempt_finished
	ExitCode int
	TimedOut bool
	Duration time.Duration
	Err      string

	// chunk_finished
	Outcome string

	// items_failed
	Failures []FailureRecord

	// tool_output
	Stream string
	Line   string

	// progress
	Completed int
	Total     int

	// run_started / run_finished
	Summary *RunSummary
}

type Observer interface {
	Observe(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// MultiObserver fans an event out to every non-nil observer in order.
type MultiObserver []Observer

func (m MultiObserver) Observe(e Event) {
	for _, o := range m {
		if o != nil {
			o.Observe(e)
		}
	}
}

type nopObserver struct{}

func (nopObserver) Observe(Event) {}

var NopObserver Observer = nopObserver{}

package journal

import (
	"context"

	"github.com/rs/zerolog"

	"dockrun/internal/model"
)

// Recorder mirrors controller events into the journal. Write failures are
// logged and dropped so the audit trail can never fail a run.
type Recorder struct {
	store  *Store
	logger zerolog.Logger
}

func NewRecorder(store *Store, logger zerolog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger.With().Str("component", "journal").Logger()}
}

func (r *Recorder) Observe(e model.Event) {
	if r == nil || r.store == nil {
		return
	}
	ctx := context.Background()
	var err error
	switch e.Kind {
	case model.EventRunStarted:
		if e.Summary != nil {
			err = r.store.BeginRun(ctx, *e.Summary)
		}
	case model.EventAttemptFinished:
		err = r.store.RecordAttempt(ctx, AttemptRecord{
			RunID:      e.RunID,
			Chunk:      e.Chunk,
			Attempt:    e.Attempt,
			Items:      e.Items,
			ExitCode:   e.ExitCode,
			TimedOut:   e.TimedOut,
			Duration:   e.Duration,
			Error:      e.Err,
			FinishedAt: e.At,
		})
	case model.EventItemsFailed:
		err = r.store.RecordFailures(ctx, e.Failures)
	case model.EventRunFinished:
		if e.Summary != nil {
			err = r.store.FinishRun(ctx, *e.Summary)
		}
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("event", string(e.Kind)).Msg("journal write failed")
	}
}

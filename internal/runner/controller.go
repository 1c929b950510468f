// Package runner drives a docking run: discover work, plan chunks, invoke the
// tool per chunk with retry and quarantine, summarize.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dockrun/internal/catalog"
	"dockrun/internal/chunker"
	"dockrun/internal/completion"
	"dockrun/internal/diagnose"
	"dockrun/internal/model"
	"dockrun/internal/retry"
	"dockrun/internal/runstore"
	"dockrun/internal/sysmem"
	"dockrun/internal/unidock"
)

const DefaultMaxAttempts = 3

// Invoker runs the external tool once for one chunk attempt.
type Invoker interface {
	Invoke(ctx context.Context, req unidock.Request) (unidock.Result, error)
}

type Options struct {
	RunID      string
	InputDir   string
	Extensions []string
	Oracle     completion.Oracle

	ChunkSize   int
	MaxAttempts int
	// MaxChunks limits how many chunks are processed in this invocation (0 = all).
	MaxChunks int
	Backoff   retry.Policy

	Invoker    Invoker
	Diagnoser  diagnose.Diagnoser
	FailureLog *runstore.FailureLog
	Observer   model.Observer
	Logger     zerolog.Logger

	// Stop is closed to request a graceful stop. It is honored at chunk
	// boundaries and between attempts; a running tool is never killed by it.
	Stop <-chan struct{}

	Sleep  func(time.Duration, <-chan struct{}) bool
	Memory func() (sysmem.Info, bool)
	Now    func() time.Time
}

type controller struct {
	opts    Options
	log     zerolog.Logger
	phase   model.Phase
	items   []model.WorkItem
	summary model.RunSummary
	failed  map[string]bool
}

// Run executes one discover/plan/process/summarize cycle. Errors returned are
// fatal configuration or environment problems; per-chunk failures are reported
// in the summary and the failure log instead.
func Run(ctx context.Context, opts Options) (model.RunSummary, error) {
	if opts.Invoker == nil {
		return model.RunSummary{}, errors.New("runner: invoker is required")
	}
	if opts.Diagnoser == nil {
		return model.RunSummary{}, errors.New("runner: diagnoser is required")
	}
	if strings.TrimSpace(opts.RunID) == "" {
		opts.RunID = NewRunID()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff == nil {
		opts.Backoff = retry.NewExponential(retry.DefaultConfig(), nil)
	}
	if opts.Observer == nil {
		opts.Observer = model.NopObserver
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}
	if opts.Memory == nil {
		opts.Memory = sysmem.Current
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &controller{
		opts:   opts,
		log:    opts.Logger.With().Str("run", opts.RunID).Logger(),
		failed: make(map[string]bool),
	}
	c.summary.RunID = opts.RunID
	c.summary.ChunkSize = opts.ChunkSize
	c.summary.StartedAt = c.timestamp()
	return c.run(ctx)
}

func NewRunID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func (c *controller) run(ctx context.Context) (model.RunSummary, error) {
	if err := c.transition(model.PhaseDiscover); err != nil {
		return c.summary, err
	}
	items, err := catalog.Discover(c.opts.InputDir, c.opts.Extensions)
	if err != nil {
		return c.summary, err
	}
	c.items = items
	done, err := c.opts.Oracle.Completed()
	if err != nil {
		return c.summary, fmt.Errorf("read results directory: %w", err)
	}
	pending := completion.Pending(items, done)
	c.summary.ItemsTotal = len(items)
	c.summary.ItemsPending = len(pending)
	c.summary.ItemsAlreadyDone = len(items) - len(pending)
	c.log.Info().
		Int("items", len(items)).
		Int("already_done", c.summary.ItemsAlreadyDone).
		Int("pending", len(pending)).
		Msg("work discovered")

	var chunks []model.Chunk
	if len(pending) > 0 {
		if err := c.transition(model.PhasePlan); err != nil {
			return c.summary, err
		}
		chunks, err = chunker.Plan(pending, c.opts.ChunkSize)
		if err != nil {
			return c.summary, err
		}
		c.summary.ChunksPlanned = len(chunks)
		c.log.Info().
			Int("pending", len(pending)).
			Int("chunk_size", c.opts.ChunkSize).
			Int("chunks", len(chunks)).
			Int("max_chunks", c.opts.MaxChunks).
			Msg("plan ready")
	}
	started := c.summary
	c.emit(model.Event{Kind: model.EventRunStarted, TotalChunks: len(chunks), Total: len(items), Completed: started.ItemsAlreadyDone, Summary: &started})

	processed := 0
	for _, chunk := range chunks {
		if c.stopRequested() {
			c.summary.Interrupted = true
			c.log.Warn().Int("next_chunk", chunk.Number).Msg("stop requested; not starting further chunks")
			break
		}
		if c.opts.MaxChunks > 0 && processed >= c.opts.MaxChunks {
			c.log.Info().Int("max_chunks", c.opts.MaxChunks).Msg("chunk limit reached for this invocation")
			break
		}
		if err := c.transition(model.PhaseProcess); err != nil {
			return c.summary, err
		}
		attempted, stopped, err := c.processChunk(ctx, chunk, len(chunks))
		if err != nil {
			return c.summary, err
		}
		if attempted {
			processed++
		}
		if stopped {
			c.summary.Interrupted = true
			break
		}
	}

	return c.finish()
}

func (c *controller) finish() (model.RunSummary, error) {
	if err := c.transition(model.PhaseSummarize); err != nil {
		return c.summary, err
	}
	done, err := c.opts.Oracle.Completed()
	if err != nil {
		return c.summary, fmt.Errorf("read results directory: %w", err)
	}
	remaining := len(completion.Pending(c.items, done))
	c.summary.ItemsRemaining = remaining
	c.summary.ItemsCompleted = max(0, len(c.items)-remaining-c.summary.ItemsAlreadyDone)
	c.summary.ItemsFailed = len(c.failed)
	c.summary.FinishedAt = c.timestamp()

	final := c.summary
	c.emit(model.Event{Kind: model.EventRunFinished, Summary: &final, Completed: len(c.items) - remaining, Total: len(c.items)})
	if err := c.transition(model.PhaseDone); err != nil {
		return c.summary, err
	}

	c.log.Info().
		Int("completed", c.summary.ItemsCompleted).
		Int("failed", c.summary.ItemsFailed).
		Int("remaining", remaining).
		Int("chunks_attempted", c.summary.ChunksAttempted).
		Int("attempts", c.summary.Attempts).
		Bool("interrupted", c.summary.Interrupted).
		Msg("run finished")
	return c.summary, nil
}

// processChunk reports whether the tool was invoked and whether a stop request ended it early.
func (c *controller) processChunk(ctx context.Context, chunk model.Chunk, totalChunks int) (bool, bool, error) {
	done, err := c.opts.Oracle.Completed()
	if err != nil {
		return false, false, fmt.Errorf("read results directory: %w", err)
	}
	inflight := completion.Pending(chunk.Items, done)
	clog := c.log.With().Int("chunk", chunk.Number).Int("chunks", totalChunks).Logger()
	if len(inflight) == 0 {
		c.summary.ChunksSkipped++
		clog.Info().Msg("chunk already complete; skipping")
		c.emit(model.Event{Kind: model.EventChunkSkipped, Chunk: chunk.Number, TotalChunks: totalChunks, Outcome: model.OutcomeSkipped})
		return false, false, nil
	}

	c.summary.ChunksAttempted++
	clog.Info().Int("items", len(inflight)).Int("already_done", len(chunk.Items)-len(inflight)).Msg("chunk started")
	c.emit(model.Event{Kind: model.EventChunkStarted, Chunk: chunk.Number, TotalChunks: totalChunks, Items: len(inflight)})
	c.logMemory(clog, "before chunk")

	outcome, stopped, err := c.attemptLoop(ctx, clog, chunk.Number, totalChunks, inflight)
	if err != nil {
		return true, stopped, err
	}
	c.logMemory(clog, "after chunk")

	switch outcome {
	case model.OutcomeSucceeded:
		c.summary.ChunksSucceeded++
	case model.OutcomePartial:
		c.summary.ChunksPartial++
	case model.OutcomeFailed:
		c.summary.ChunksFailed++
	}
	c.emit(model.Event{Kind: model.EventChunkFinished, Chunk: chunk.Number, TotalChunks: totalChunks, Outcome: outcome})

	if done, err := c.opts.Oracle.Completed(); err == nil {
		completed := len(c.items) - len(completion.Pending(c.items, done))
		clog.Info().
			Str("outcome", outcome).
			Str("progress", fmt.Sprintf("%d/%d", completed, len(c.items))).
			Msg("chunk finished")
		c.emit(model.Event{Kind: model.EventProgress, Chunk: chunk.Number, Completed: completed, Total: len(c.items)})
	}
	return true, stopped, nil
}

// attemptLoop invokes the tool until the in-flight set is done, exhausted or
// interrupted. An attempt that quarantines at least one item is productive and
// does not consume the retry budget; the set strictly shrinks, so a chunk with
// K identifiable bad items converges within K+1 attempts.
func (c *controller) attemptLoop(ctx context.Context, clog zerolog.Logger, number, totalChunks int, inflight []model.WorkItem) (string, bool, error) {
	quarantined := 0
	completedEarly := 0
	unproductive := 0

	for attempt := 1; ; attempt++ {
		c.summary.Attempts++
		c.emit(model.Event{Kind: model.EventAttemptStarted, Chunk: number, TotalChunks: totalChunks, Attempt: attempt, Items: len(inflight)})
		clog.Info().Int("attempt", attempt).Int("items", len(inflight)).Msg("invoking tool")

		res, invokeErr := c.opts.Invoker.Invoke(ctx, unidock.Request{
			Chunk:   number,
			Attempt: attempt,
			Paths:   model.ItemPaths(inflight),
		})
		finished := model.Event{
			Kind:     model.EventAttemptFinished,
			Chunk:    number,
			Attempt:  attempt,
			Items:    len(inflight),
			ExitCode: res.ExitCode,
			TimedOut: res.TimedOut,
			Duration: res.Duration,
		}
		if invokeErr != nil {
			finished.Err = invokeErr.Error()
		}
		c.emit(finished)

		done, err := c.opts.Oracle.Completed()
		if err != nil {
			return model.OutcomeFailed, false, fmt.Errorf("read results directory: %w", err)
		}

		if invokeErr == nil {
			_, missing := completion.Split(inflight, done)
			if len(missing) > 0 {
				clog.Warn().Int("items", len(missing)).Msg("tool exited cleanly but some items have no output")
				c.recordFailures(number, missing, model.ReasonMissingOutput, "tool exited 0 without writing an output artifact")
			}
			clog.Info().Int("attempt", attempt).Dur("duration", res.Duration).Msg("tool succeeded")
			if quarantined > 0 || len(missing) > 0 {
				return model.OutcomePartial, false, nil
			}
			return model.OutcomeSucceeded, false, nil
		}

		clog.Warn().
			Err(invokeErr).
			Int("attempt", attempt).
			Int("exit_code", res.ExitCode).
			Bool("timed_out", res.TimedOut).
			Str("attempt_log", res.LogPath).
			Str("index", res.IndexPath).
			Msg("tool failed")

		var findings []diagnose.Finding
		if !errors.Is(invokeErr, unidock.ErrToolNotFound) {
			findings = c.opts.Diagnoser.Diagnose(diagnosticText(clog, res), model.ItemNames(inflight))
		}
		if len(findings) > 0 {
			bad := make(map[string]diagnose.Finding, len(findings))
			for _, f := range findings {
				bad[f.Name] = f
			}
			var keep []model.WorkItem
			var records []model.FailureRecord
			var names []string
			for _, item := range inflight {
				f, ok := bad[item.Name]
				if !ok {
					keep = append(keep, item)
					continue
				}
				names = append(names, item.Name)
				records = append(records, c.failureRecord(number, item.Name, model.ReasonQuarantined, f.Line))
			}
			inflight = keep
			quarantined += len(records)
			c.summary.ItemsQuarantined += len(records)
			c.writeFailures(records)
			clog.Warn().Strs("items", names).Int("remaining", len(inflight)).Msg("quarantined items named in tool diagnostics")
		}

		// items may have finished before the tool failed
		finishedItems, rest := completion.Split(inflight, done)
		completedEarly += len(finishedItems)
		inflight = rest
		if len(inflight) == 0 {
			if quarantined > 0 {
				return model.OutcomePartial, false, nil
			}
			return model.OutcomeSucceeded, false, nil
		}

		if len(findings) == 0 {
			unproductive++
			if unproductive >= c.opts.MaxAttempts {
				clog.Error().Int("attempts", attempt).Int("items", len(inflight)).Msg("retries exhausted; marking remaining items failed")
				c.recordFailures(number, inflight, model.ReasonRetriesExhausted, failureExcerpt(invokeErr, res.Stderr))
				if quarantined > 0 || completedEarly > 0 {
					return model.OutcomePartial, false, nil
				}
				return model.OutcomeFailed, false, nil
			}
		}

		if c.stopRequested() {
			clog.Warn().Int("items", len(inflight)).Msg("stop requested; leaving chunk items pending")
			return model.OutcomeInterrupted, true, nil
		}
		if len(findings) == 0 {
			delay := c.opts.Backoff.NextDelay(unproductive)
			clog.Info().Dur("delay", delay).Int("next_attempt", attempt+1).Msg("retrying after backoff")
			if !c.opts.Sleep(delay, c.opts.Stop) {
				clog.Warn().Int("items", len(inflight)).Msg("stop requested during backoff; leaving chunk items pending")
				return model.OutcomeInterrupted, true, nil
			}
		}
	}
}

func (c *controller) recordFailures(chunk int, items []model.WorkItem, reason, excerpt string) {
	records := make([]model.FailureRecord, 0, len(items))
	for _, item := range items {
		records = append(records, c.failureRecord(chunk, item.Name, reason, excerpt))
	}
	c.writeFailures(records)
}

func (c *controller) failureRecord(chunk int, name, reason, excerpt string) model.FailureRecord {
	return model.FailureRecord{
		At:      c.timestamp(),
		RunID:   c.opts.RunID,
		Chunk:   chunk,
		Name:    name,
		Reason:  reason,
		Excerpt: excerpt,
	}
}

func (c *controller) writeFailures(records []model.FailureRecord) {
	if len(records) == 0 {
		return
	}
	for _, rec := range records {
		c.failed[rec.Name] = true
	}
	if err := c.opts.FailureLog.Append(records...); err != nil {
		c.log.Error().Err(err).Str("path", c.opts.FailureLog.Path()).Msg("append failure log")
	}
	c.emit(model.Event{Kind: model.EventItemsFailed, Chunk: records[0].Chunk, Items: len(records), Failures: records})
}

func (c *controller) transition(next model.Phase) error {
	from := c.phase
	if err := model.TransitionPhase(&c.phase, next); err != nil {
		return err
	}
	if from != next {
		c.log.Debug().Str("from", string(from)).Str("to", string(next)).Msg("phase")
	}
	return nil
}

func (c *controller) stopRequested() bool {
	if c.opts.Stop == nil {
		return false
	}
	select {
	case <-c.opts.Stop:
		return true
	default:
		return false
	}
}

func (c *controller) emit(e model.Event) {
	e.RunID = c.opts.RunID
	if e.At.IsZero() {
		e.At = c.opts.Now()
	}
	c.opts.Observer.Observe(e)
}

func (c *controller) timestamp() string {
	return c.opts.Now().UTC().Format(time.RFC3339)
}

func (c *controller) logMemory(l zerolog.Logger, when string) {
	info, ok := c.opts.Memory()
	if !ok {
		return
	}
	l.Info().
		Str("when", when).
		Str("used", formatBytesIEC(int64(info.UsedBytes()))).
		Str("total", formatBytesIEC(int64(info.TotalBytes))).
		Str("used_pct", fmt.Sprintf("%.1f", info.UsedPercent())).
		Msg("memory")
}

// diagnosticText is the stderr to diagnose: the full attempt stderr log when
// the in-memory tail dropped lines, the tail otherwise.
func diagnosticText(l zerolog.Logger, res unidock.Result) string {
	if !res.StderrTruncated || res.StderrLogPath == "" {
		return res.Stderr
	}
	data, err := os.ReadFile(res.StderrLogPath)
	if err != nil {
		l.Warn().Err(err).Str("path", res.StderrLogPath).Msg("full stderr unavailable; diagnosing the captured tail")
		return res.Stderr
	}
	return string(data)
}

func failureExcerpt(err error, stderr string) string {
	parts := []string{err.Error()}
	if tail := lastLines(stderr, 5); tail != "" {
		parts = append(parts, tail)
	}
	return strings.Join(parts, " | ")
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	var kept []string
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			kept = append([]string{strings.TrimSpace(lines[i])}, kept...)
		}
	}
	return strings.Join(kept, " | ")
}

func formatBytesIEC(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	units := []string{"KiB", "MiB", "GiB", "TiB"}
	v := float64(n)
	unit := ""
	for _, u := range units {
		v /= 1024
		unit = u
		if v < 1024 {
			break
		}
	}
	return fmt.Sprintf("%.1f %s", v, unit)
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"dockrun/internal/catalog"
	"dockrun/internal/chunker"
	"dockrun/internal/completion"
	"dockrun/internal/config"
	"dockrun/internal/journal"
	"dockrun/internal/logging"
	"dockrun/internal/metrics"
	"dockrun/internal/model"
	"dockrun/internal/runner"
	"dockrun/internal/runstore"
	"dockrun/internal/unidock"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	InputDir    string
	OutputDir   string
	ChunkSize   int
	MaxAttempts int
	MaxChunks   int
	Timeout     time.Duration
	Dashboard   bool
	MetricsFile string
	NoJournal   bool

	// Stop replaces OS signal delivery when set (tests).
	Stop <-chan struct{}
}

func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Dock every ligand that has no result yet",
		Long: `Discover ligands, skip those with a result in the results directory, and
submit the rest to the docking tool in chunks.

A failed chunk is retried with backoff. Ligands the tool names as bad input are
quarantined and the rest of the chunk is retried at once. Every quarantined or
exhausted ligand is appended to the failure log and stays pending, so the next
run offers it again.

Ctrl-C stops after the current chunk; the tool itself is never killed by it.

Example:
  dockrun run --input-dir ./ligands --output-dir ./output --chunk-size 500
  dockrun run --max-chunks 1 --dashboard`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDocking(cmd, opts)
		},
	}
	bindRunFlags(cmd, opts)
	return cmd
}

func bindRunFlags(cmd *cobra.Command, opts *RunOptions) {
	f := cmd.Flags()
	f.StringVar(&opts.InputDir, "input-dir", "", "directory searched recursively for ligand files")
	f.StringVar(&opts.OutputDir, "output-dir", "", "root for results, logs, index artifacts and the failure log")
	f.IntVar(&opts.ChunkSize, "chunk-size", 0, "ligands per tool invocation")
	f.IntVar(&opts.MaxAttempts, "max-attempts", 0, "unproductive attempts per chunk before its ligands are marked failed")
	f.IntVar(&opts.MaxChunks, "max-chunks", 0, "max chunks to process this invocation (0 = all)")
	f.DurationVar(&opts.Timeout, "timeout", 0, "hard timeout per tool invocation, e.g. 10h")
	f.BoolVar(&opts.Dashboard, "dashboard", false, "live terminal dashboard; logs go to <output-dir>/logs/dockrun.log")
	f.StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus textfile metrics to this path")
	f.BoolVar(&opts.NoJournal, "no-journal", false, "do not record this run in the SQLite journal")
}

// apply overlays flags the user set explicitly onto cfg.
func (o *RunOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("input-dir") {
		cfg.InputDir = o.InputDir
	}
	if f.Changed("output-dir") {
		cfg.OutputDir = o.OutputDir
	}
	if f.Changed("chunk-size") {
		cfg.Run.ChunkSize = o.ChunkSize
	}
	if f.Changed("max-attempts") {
		cfg.Run.MaxAttempts = o.MaxAttempts
	}
	if f.Changed("max-chunks") {
		cfg.Run.MaxChunks = o.MaxChunks
	}
	if f.Changed("timeout") {
		cfg.Run.Timeout = config.Duration(o.Timeout)
	}
	if f.Changed("metrics-file") {
		cfg.MetricsFile = o.MetricsFile
	}
	if o.NoJournal {
		cfg.Journal = config.JournalOff
	}
}

func runDocking(cmd *cobra.Command, opts *RunOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	cfg, cfgPath, err := loadConfig(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	opts.apply(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "cannot start run", err)
	}
	if err := unidock.CheckDependencies(cfg.Tool.Executable); err != nil {
		return WrapExitError(ExitCommandError, "cannot start run", err)
	}
	diagnoser, err := newDiagnoser(cfg)
	if err != nil {
		return err
	}

	runID := runner.NewRunID()
	lock, err := runstore.AcquireRunLock(cfg.OutputDir, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot start run", err)
	}
	defer func() {
		_ = lock.Release()
	}()

	useDashboard := opts.Dashboard && stdinIsTTY() && stdoutIsTTY()
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	if useDashboard {
		if err := runstore.Mkdir(cfg.LogDir()); err != nil {
			return WrapExitError(ExitFailure, "create log directory", err)
		}
		level := ""
		if opts.Verbose {
			level = "debug"
		}
		fileLogger, closer, err := logging.OpenFile(filepath.Join(cfg.LogDir(), "dockrun.log"), level)
		if err != nil {
			return WrapExitError(ExitFailure, "open log file", err)
		}
		defer closer.Close()
		logger = fileLogger
	} else if opts.Dashboard {
		logger.Warn().Msg("--dashboard needs an interactive terminal; using plain logs")
	}

	stop, requestStop, releaseSignals := stopSignals(logger, opts.Stop)
	defer releaseSignals()

	observers := model.MultiObserver{}
	if path := cfg.JournalPath(); path != "" {
		store, err := journal.Open(path)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("journal unavailable; continuing without it")
		} else {
			defer store.Close()
			observers = append(observers, journal.NewRecorder(store, logger))
		}
	}
	if path := strings.TrimSpace(cfg.MetricsFile); path != "" {
		observers = append(observers, metrics.NewExporter(path, logger))
	}

	client := newClient(cfg)
	var dash *runner.Dashboard
	if useDashboard {
		dash = runner.StartDashboard(os.Stdin, out, requestStop)
		observers = append(observers, dash)
		client.OnLine = func(req unidock.Request, stream unidock.OutputStream, line string) {
			dash.Observe(model.Event{
				Kind:    model.EventToolOutput,
				At:      time.Now(),
				RunID:   runID,
				Chunk:   req.Chunk,
				Attempt: req.Attempt,
				Stream:  string(stream),
				Line:    line,
			})
		}
	} else {
		toolLog := logger.With().Str("component", "tool").Logger()
		client.OnLine = func(req unidock.Request, stream unidock.OutputStream, line string) {
			toolLog.Debug().Int("chunk", req.Chunk).Int("attempt", req.Attempt).Str("stream", string(stream)).Msg(line)
		}
	}

	logger.Info().
		Str("run", runID).
		Str("config", cfgPath).
		Str("input", cfg.InputDir).
		Str("results", cfg.ResultsDir()).
		Str("receptor", cfg.Docking.Receptor).
		Dur("timeout", cfg.Run.Timeout.Std()).
		Strs("command", client.Command(filepath.Join(cfg.IndexDir(), "<index>"))).
		Msg("starting run")

	summary, runErr := runner.Run(ctx, runner.Options{
		RunID:       runID,
		InputDir:    cfg.InputDir,
		Extensions:  cfg.InputExtensions,
		Oracle:      completion.New(cfg.ResultsDir(), cfg.ResultExtension),
		ChunkSize:   cfg.Run.ChunkSize,
		MaxAttempts: cfg.Run.MaxAttempts,
		MaxChunks:   cfg.Run.MaxChunks,
		Backoff:     newBackoff(cfg),
		Invoker:     client,
		Diagnoser:   diagnoser,
		FailureLog:  runstore.NewFailureLog(cfg.FailureLogPath()),
		Observer:    observers,
		Logger:      logger,
		Stop:        stop,
	})
	if dash != nil {
		dash.Stop()
	}
	if runErr != nil {
		return classifyRunError(runErr)
	}

	if opts.JSON {
		if err := printJSON(out, summary); err != nil {
			return err
		}
	} else {
		renderSummary(out, summary, cfg)
	}
	return summaryExit(summary)
}

// stopSignals returns a channel closed by the first SIGINT/SIGTERM, by a value
// on external, or by calling the returned request func. Later requests only log.
func stopSignals(logger zerolog.Logger, external <-chan struct{}) (<-chan struct{}, func(), func()) {
	stop := make(chan struct{})
	var once sync.Once
	request := func(source string) {
		first := false
		once.Do(func() {
			first = true
			close(stop)
		})
		if first {
			logger.Warn().Str("source", source).Msg("stop requested; finishing the current chunk (the tool is not interrupted)")
			return
		}
		logger.Warn().Str("source", source).Msg("stop already requested; waiting for the current chunk")
	}

	select {
	case <-external:
		request("external")
		external = nil
	default:
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigCh:
				request(sig.String())
			case <-external:
				request("external")
				external = nil
			case <-done:
				return
			}
		}
	}()

	var releaseOnce sync.Once
	release := func() {
		releaseOnce.Do(func() {
			signal.Stop(sigCh)
			close(done)
		})
	}
	return stop, func() { request("dashboard") }, release
}

func classifyRunError(err error) error {
	var dup *catalog.DuplicateNameError
	switch {
	case errors.Is(err, catalog.ErrInputRootMissing),
		errors.Is(err, catalog.ErrEmptyCatalog),
		errors.Is(err, chunker.ErrInvalidConfiguration),
		errors.As(err, &dup),
		isConfigError(err):
		return WrapExitError(ExitCommandError, "cannot start run", err)
	}
	return WrapExitError(ExitFailure, "run failed", err)
}

func summaryExit(s model.RunSummary) error {
	switch {
	case s.Complete():
		return nil
	case s.Interrupted:
		return NewExitError(ExitInterrupted, fmt.Sprintf("interrupted with %s items remaining; rerun to continue", formatCount(s.ItemsRemaining)))
	default:
		return NewExitError(ExitIncomplete, fmt.Sprintf("finished with %s items remaining (%s failed this run)", formatCount(s.ItemsRemaining), formatCount(s.ItemsFailed)))
	}
}

package cli

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dockrun/internal/config"
	"dockrun/internal/diagnose"
	"dockrun/internal/logging"
	"dockrun/internal/retry"
	"dockrun/internal/unidock"
)

const defaultConfigHint = config.DefaultFileName

// loadConfig layers defaults, the config file, and DOCKRUN_* variables.
// Command flags are applied by the caller.
func loadConfig(ctx context.Context, opts *RootOptions) (config.Config, string, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		if _, err := os.Stat(config.DefaultFileName); err == nil {
			path = config.DefaultFileName
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, path, WrapExitError(ExitCommandError, "load config", err)
	}
	if err := config.ApplyEnv(ctx, &cfg); err != nil {
		return cfg, path, WrapExitError(ExitCommandError, "apply environment", err)
	}
	return cfg, path, nil
}

func newLogger(opts *RootOptions, w io.Writer) zerolog.Logger {
	level := ""
	if opts.Verbose {
		level = "debug"
	}
	return logging.New(logging.Options{Level: level, Format: opts.LogFormat, Out: w})
}

func newClient(cfg config.Config) *unidock.Client {
	return &unidock.Client{
		Executable:   cfg.Tool.Executable,
		Subcommand:   cfg.Tool.Subcommand,
		IndexFlag:    cfg.Tool.IndexFlag,
		Params:       dockingParams(cfg.Docking),
		ResultsDir:   cfg.ResultsDir(),
		IndexDir:     cfg.IndexDir(),
		LogDir:       cfg.LogDir(),
		WorkDir:      cfg.Tool.WorkDir,
		Timeout:      cfg.Run.Timeout.Std(),
		KillGrace:    cfg.Tool.KillGrace.Std(),
		CaptureLimit: cfg.Tool.CaptureLimit,
	}
}

func dockingParams(d config.DockingConfig) unidock.Params {
	p := unidock.Params{
		Receptor:          d.Receptor,
		BatchSize:         d.BatchSize,
		Rigid:             stage(d.Rigid),
		Refine:            stage(d.Refine),
		MinRMSD:           d.MinRMSD,
		MaxConfsPerLigand: d.MaxConfsPerLigand,
		GenConf:           d.GenConf,
		Extra:             d.ExtraFlags,
	}
	copy(p.Center[:], d.Center)
	copy(p.Size[:], d.Size)
	return p
}

func stage(s config.StageConfig) unidock.Stage {
	return unidock.Stage{
		ScoringFunction: s.ScoringFunction,
		Exhaustiveness:  s.Exhaustiveness,
		NumModes:        s.NumModes,
		TopN:            s.TopN,
	}
}

func newDiagnoser(cfg config.Config) (diagnose.Diagnoser, error) {
	d, err := diagnose.NewMarkerDiagnoser(diagnose.Rules{
		Markers:         cfg.Diagnose.Markers,
		Patterns:        cfg.Diagnose.Patterns,
		StripPrefixes:   cfg.Diagnose.StripPrefixes,
		StripExtensions: cfg.Diagnose.StripExtensions,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "diagnose rules", err)
	}
	return d, nil
}

func newBackoff(cfg config.Config) retry.Policy {
	return retry.NewExponential(retry.Config{
		InitialDelay: cfg.Run.Backoff.Initial.Std(),
		Multiplier:   cfg.Run.Backoff.Multiplier,
		MaxDelay:     cfg.Run.Backoff.Max.Std(),
		Jitter:       cfg.Run.Backoff.Jitter,
	}, rand.New(rand.NewSource(time.Now().UnixNano())))
}

func isConfigError(err error) bool {
	return errors.Is(err, config.ErrInvalid)
}

package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

const EnvPrefix = "DOCKRUN_"

// envOverrides are read with the DOCKRUN_ prefix. Zero values mean "not set".
type envOverrides struct {
	InputDir    string        `env:"INPUT_DIR"`
	OutputDir   string        `env:"OUTPUT_DIR"`
	Receptor    string        `env:"RECEPTOR"`
	Tool        string        `env:"TOOL"`
	ChunkSize   int           `env:"CHUNK_SIZE"`
	MaxAttempts int           `env:"MAX_ATTEMPTS"`
	MaxChunks   int           `env:"MAX_CHUNKS"`
	Timeout     time.Duration `env:"TIMEOUT"`
	MetricsFile string        `env:"METRICS_FILE"`
	Journal     string        `env:"JOURNAL"`
}

// ApplyEnv overlays DOCKRUN_* variables from the process environment.
func ApplyEnv(ctx context.Context, cfg *Config) error {
	return ApplyEnvFrom(ctx, cfg, envconfig.OsLookuper())
}

func ApplyEnvFrom(ctx context.Context, cfg *Config, lookuper envconfig.Lookuper) error {
	var in envOverrides
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &in,
		Lookuper: envconfig.PrefixLookuper(EnvPrefix, lookuper),
	})
	if err != nil {
		return fmt.Errorf("%w: environment: %v", ErrInvalid, err)
	}

	setString(&cfg.InputDir, in.InputDir)
	setString(&cfg.OutputDir, in.OutputDir)
	setString(&cfg.Docking.Receptor, in.Receptor)
	setString(&cfg.Tool.Executable, in.Tool)
	setString(&cfg.MetricsFile, in.MetricsFile)
	setString(&cfg.Journal, in.Journal)
	setInt(&cfg.Run.ChunkSize, in.ChunkSize)
	setInt(&cfg.Run.MaxAttempts, in.MaxAttempts)
	setInt(&cfg.Run.MaxChunks, in.MaxChunks)
	if in.Timeout > 0 {
		cfg.Run.Timeout = Duration(in.Timeout)
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// Package config loads dockrun settings: defaults, then a TOML or YAML file,
// then DOCKRUN_* environment variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const DefaultFileName = "dockrun.toml"

var ErrInvalid = errors.New("invalid configuration")

// Duration accepts "90s", "10h" style strings in every config format.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	InputDir        string   `toml:"input_dir" yaml:"input_dir"`
	InputExtensions []string `toml:"input_extensions" yaml:"input_extensions"`
	OutputDir       string   `toml:"output_dir" yaml:"output_dir"`
	ResultsSubdir   string   `toml:"results_subdir" yaml:"results_subdir"`
	ResultExtension string   `toml:"result_extension" yaml:"result_extension"`
	// FailureLog, Journal and MetricsFile default to files under OutputDir.
	// Journal "off" disables the audit journal.
	FailureLog  string `toml:"failure_log" yaml:"failure_log"`
	Journal     string `toml:"journal" yaml:"journal"`
	MetricsFile string `toml:"metrics_file" yaml:"metrics_file"`

	Run      RunConfig      `toml:"run" yaml:"run"`
	Tool     ToolConfig     `toml:"tool" yaml:"tool"`
	Docking  DockingConfig  `toml:"docking" yaml:"docking"`
	Diagnose DiagnoseConfig `toml:"diagnose" yaml:"diagnose"`
}

type RunConfig struct {
	ChunkSize   int           `toml:"chunk_size" yaml:"chunk_size"`
	MaxAttempts int           `toml:"max_attempts" yaml:"max_attempts"`
	MaxChunks   int           `toml:"max_chunks" yaml:"max_chunks"`
	Timeout     Duration      `toml:"timeout" yaml:"timeout"`
	Backoff     BackoffConfig `toml:"backoff" yaml:"backoff"`
}

type BackoffConfig struct {
	Initial    Duration `toml:"initial" yaml:"initial"`
	Multiplier float64  `toml:"multiplier" yaml:"multiplier"`
	Max        Duration `toml:"max" yaml:"max"`
	Jitter     bool     `toml:"jitter" yaml:"jitter"`
}

type ToolConfig struct {
	Executable   string   `toml:"executable" yaml:"executable"`
	Subcommand   []string `toml:"subcommand" yaml:"subcommand"`
	IndexFlag    string   `toml:"index_flag" yaml:"index_flag"`
	WorkDir      string   `toml:"work_dir" yaml:"work_dir"`
	KillGrace    Duration `toml:"kill_grace" yaml:"kill_grace"`
	CaptureLimit int      `toml:"capture_limit" yaml:"capture_limit"`
}

type StageConfig struct {
	ScoringFunction string `toml:"scoring_function" yaml:"scoring_function"`
	Exhaustiveness  int    `toml:"exhaustiveness" yaml:"exhaustiveness"`
	NumModes        int    `toml:"num_modes" yaml:"num_modes"`
	TopN            int    `toml:"topn" yaml:"topn"`
}

type DockingConfig struct {
	Receptor          string            `toml:"receptor" yaml:"receptor"`
	Center            []float64         `toml:"center" yaml:"center"`
	Size              []float64         `toml:"size" yaml:"size"`
	BatchSize         int               `toml:"batch_size" yaml:"batch_size"`
	Rigid             StageConfig       `toml:"rigid" yaml:"rigid"`
	Refine            StageConfig       `toml:"refine" yaml:"refine"`
	MinRMSD           float64           `toml:"min_rmsd" yaml:"min_rmsd"`
	MaxConfsPerLigand int               `toml:"max_confs_per_ligand" yaml:"max_confs_per_ligand"`
	GenConf           bool              `toml:"gen_conf" yaml:"gen_conf"`
	ExtraFlags        map[string]string `toml:"extra_flags" yaml:"extra_flags,omitempty"`
}

type DiagnoseConfig struct {
	Markers         []string `toml:"markers" yaml:"markers"`
	Patterns        []string `toml:"patterns" yaml:"patterns"`
	StripPrefixes   []string `toml:"strip_prefixes" yaml:"strip_prefixes"`
	StripExtensions []string `toml:"strip_extensions" yaml:"strip_extensions"`
}

func Default() Config {
	return Config{
		InputDir:        "ligands",
		InputExtensions: []string{".sdf", ".pdbqt"},
		OutputDir:       "output",
		ResultsSubdir:   "mcresult",
		ResultExtension: ".sdf",
		Run: RunConfig{
			ChunkSize:   500,
			MaxAttempts: 3,
			Timeout:     Duration(10 * time.Hour),
			Backoff: BackoffConfig{
				Initial:    Duration(time.Minute),
				Multiplier: 2,
				Max:        Duration(time.Hour),
				Jitter:     true,
			},
		},
		Tool: ToolConfig{
			Executable:   "unidocktools",
			Subcommand:   []string{"mcdock"},
			IndexFlag:    "--ligand_index",
			KillGrace:    Duration(30 * time.Second),
			CaptureLimit: 1 << 20,
		},
		Docking: DockingConfig{
			Receptor:          "receptor.pdbqt",
			Center:            []float64{42.328, 28.604, 21.648},
			Size:              []float64{22.5, 22.5, 22.5},
			BatchSize:         100,
			Rigid:             StageConfig{ScoringFunction: "vina", Exhaustiveness: 8, NumModes: 3, TopN: 50},
			Refine:            StageConfig{ScoringFunction: "vina", Exhaustiveness: 16, NumModes: 1, TopN: 1},
			MinRMSD:           0.3,
			MaxConfsPerLigand: 10,
			GenConf:           true,
		},
		Diagnose: DiagnoseConfig{
			Markers:         []string{"Bad input file"},
			StripPrefixes:   []string{"obabel_"},
			StripExtensions: []string{".sdf", ".pdbqt", ".mol2", ".mol", ".pdb", ".smi"},
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// Relative paths inside the file resolve against the file's directory.
func Load(path string) (Config, error) {
	cfg := Default()
	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, nil
	}
	// list-valued keys present in the file replace the defaults instead of merging
	cfg.InputExtensions = nil
	cfg.Tool.Subcommand = nil
	cfg.Docking.Center = nil
	cfg.Docking.Size = nil
	cfg.Diagnose = DiagnoseConfig{}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := decodeYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	default:
		if err := decodeTOML(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	fillUnsetLists(&cfg)
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

func decodeTOML(path string, cfg *Config) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalid, path, strings.Join(keys, ", "))
	}
	return nil
}

func decodeYAML(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func fillUnsetLists(cfg *Config) {
	def := Default()
	if cfg.InputExtensions == nil {
		cfg.InputExtensions = def.InputExtensions
	}
	if cfg.Tool.Subcommand == nil {
		cfg.Tool.Subcommand = def.Tool.Subcommand
	}
	if cfg.Docking.Center == nil {
		cfg.Docking.Center = def.Docking.Center
	}
	if cfg.Docking.Size == nil {
		cfg.Docking.Size = def.Docking.Size
	}
	if cfg.Diagnose.Markers == nil && cfg.Diagnose.Patterns == nil {
		cfg.Diagnose.Markers = def.Diagnose.Markers
	}
	if cfg.Diagnose.StripPrefixes == nil {
		cfg.Diagnose.StripPrefixes = def.Diagnose.StripPrefixes
	}
	if cfg.Diagnose.StripExtensions == nil {
		cfg.Diagnose.StripExtensions = def.Diagnose.StripExtensions
	}
}

func (c *Config) resolvePaths(base string) {
	resolve := func(p *string) {
		v := strings.TrimSpace(*p)
		if v == "" || v == JournalOff || filepath.IsAbs(v) {
			return
		}
		*p = filepath.Join(base, v)
	}
	resolve(&c.InputDir)
	resolve(&c.OutputDir)
	resolve(&c.FailureLog)
	resolve(&c.Journal)
	resolve(&c.MetricsFile)
	resolve(&c.Docking.Receptor)
	resolve(&c.Tool.WorkDir)
}

const JournalOff = "off"

func (c Config) ResultsDir() string {
	sub := strings.TrimSpace(c.ResultsSubdir)
	if sub == "" {
		sub = "mcresult"
	}
	if filepath.IsAbs(sub) {
		return sub
	}
	return filepath.Join(c.OutputDir, sub)
}

func (c Config) IndexDir() string { return filepath.Join(c.OutputDir, "index") }

func (c Config) LogDir() string { return filepath.Join(c.OutputDir, "logs") }

func (c Config) FailureLogPath() string {
	if v := strings.TrimSpace(c.FailureLog); v != "" {
		return v
	}
	return filepath.Join(c.OutputDir, "failed_items.log")
}

// JournalPath is empty when the journal is disabled.
func (c Config) JournalPath() string {
	v := strings.TrimSpace(c.Journal)
	switch v {
	case JournalOff:
		return ""
	case "":
		return filepath.Join(c.OutputDir, "journal.db")
	}
	return v
}

// Validate enforces the settings without which no chunk may be processed.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.InputDir) == "" {
		problems = append(problems, "input_dir is required")
	} else if info, err := os.Stat(c.InputDir); err != nil || !info.IsDir() {
		problems = append(problems, fmt.Sprintf("input_dir %s is not a readable directory", c.InputDir))
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		problems = append(problems, "output_dir is required")
	}
	if len(c.InputExtensions) == 0 {
		problems = append(problems, "input_extensions must not be empty")
	}
	if strings.TrimSpace(c.Docking.Receptor) == "" {
		problems = append(problems, "docking.receptor is required")
	} else if info, err := os.Stat(c.Docking.Receptor); err != nil || info.IsDir() {
		problems = append(problems, fmt.Sprintf("docking.receptor %s is not a readable file", c.Docking.Receptor))
	}
	if len(c.Docking.Center) != 3 {
		problems = append(problems, fmt.Sprintf("docking.center needs 3 values, got %d", len(c.Docking.Center)))
	}
	if len(c.Docking.Size) != 3 {
		problems = append(problems, fmt.Sprintf("docking.size needs 3 values, got %d", len(c.Docking.Size)))
	}
	if c.Run.ChunkSize <= 0 {
		problems = append(problems, fmt.Sprintf("run.chunk_size must be positive, got %d", c.Run.ChunkSize))
	}
	if c.Run.MaxAttempts <= 0 {
		problems = append(problems, fmt.Sprintf("run.max_attempts must be positive, got %d", c.Run.MaxAttempts))
	}
	if c.Run.MaxChunks < 0 {
		problems = append(problems, "run.max_chunks must not be negative")
	}
	if c.Run.Timeout <= 0 {
		problems = append(problems, "run.timeout must be positive")
	}
	problems = append(problems, c.Docking.validate()...)
	if strings.TrimSpace(c.Tool.Executable) == "" {
		problems = append(problems, "tool.executable is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// validate rejects docking settings that would silently drop their flag: the
// argv builder omits zero values, so only positive numbers reach the tool.
func (d DockingConfig) validate() []string {
	var problems []string
	positive := func(key string, v int) {
		if v <= 0 {
			problems = append(problems, fmt.Sprintf("docking.%s must be positive, got %d", key, v))
		}
	}
	positive("batch_size", d.BatchSize)
	positive("max_confs_per_ligand", d.MaxConfsPerLigand)
	for _, st := range []struct {
		name  string
		stage StageConfig
	}{{"rigid", d.Rigid}, {"refine", d.Refine}} {
		if strings.TrimSpace(st.stage.ScoringFunction) == "" {
			problems = append(problems, fmt.Sprintf("docking.%s.scoring_function is required", st.name))
		}
		positive(st.name+".exhaustiveness", st.stage.Exhaustiveness)
		positive(st.name+".num_modes", st.stage.NumModes)
		positive(st.name+".topn", st.stage.TopN)
	}
	if d.MinRMSD <= 0 {
		problems = append(problems, fmt.Sprintf("docking.min_rmsd must be positive, got %g", d.MinRMSD))
	}
	return problems
}

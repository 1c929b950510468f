package unidock

import (
	"sort"
	"strconv"
	"strings"
)

const (
	DefaultExecutable = "unidocktools"
	DefaultIndexFlag  = "--ligand_index"
	savedirFlag       = "--savedir"
)

var DefaultSubcommand = []string{"mcdock"}

// Stage holds the per-stage search settings (rigid docking, local refinement).
type Stage struct {
	ScoringFunction string
	Exhaustiveness  int
	NumModes        int
	TopN            int
}

// Params are passed to the tool verbatim; this package does not interpret them.
// A zero numeric setting or empty scoring function omits its flag.
type Params struct {
	Receptor          string
	Center            [3]float64
	Size              [3]float64
	BatchSize         int
	Rigid             Stage
	Refine            Stage
	MinRMSD           float64
	MaxConfsPerLigand int
	GenConf           bool
	// Extra flags, emitted sorted by name. An empty value emits the bare flag.
	Extra map[string]string
}

// BuildArgs returns the tool arguments (without executable or subcommand) for one invocation.
func BuildArgs(p Params, savedir, indexFlag, indexPath string) []string {
	args := []string{"--receptor", p.Receptor}
	for i, axis := range []string{"x", "y", "z"} {
		args = append(args, "--center_"+axis, formatFloat(p.Center[i]))
	}
	for i, axis := range []string{"x", "y", "z"} {
		args = append(args, "--size_"+axis, formatFloat(p.Size[i]))
	}
	args = append(args, savedirFlag, savedir)
	args = appendInt(args, "--batch_size", p.BatchSize)
	args = appendStage(args, "rigid_docking", p.Rigid)
	args = appendStage(args, "local_refine", p.Refine)
	if p.MinRMSD > 0 {
		args = append(args, "--min_rmsd", formatFloat(p.MinRMSD))
	}
	args = appendInt(args, "--max_num_confs_per_ligand", p.MaxConfsPerLigand)
	if p.GenConf {
		args = append(args, "--gen_conf")
	}
	args = appendExtra(args, p.Extra)

	if strings.TrimSpace(indexFlag) == "" {
		indexFlag = DefaultIndexFlag
	}
	return append(args, indexFlag, indexPath)
}

func appendStage(args []string, suffix string, s Stage) []string {
	if v := strings.TrimSpace(s.ScoringFunction); v != "" {
		args = append(args, "--scoring_function_"+suffix, v)
	}
	args = appendInt(args, "--exhaustiveness_"+suffix, s.Exhaustiveness)
	args = appendInt(args, "--num_modes_"+suffix, s.NumModes)
	return appendInt(args, "--topn_"+suffix, s.TopN)
}

func appendInt(args []string, flag string, v int) []string {
	if v <= 0 {
		return args
	}
	return append(args, flag, strconv.Itoa(v))
}

func appendExtra(args []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return args
	}
	flags := make(map[string]string, len(extra))
	names := make([]string, 0, len(extra))
	for k, v := range extra {
		name := strings.TrimLeft(strings.TrimSpace(k), "-")
		if name == "" {
			continue
		}
		if _, dup := flags[name]; !dup {
			names = append(names, name)
		}
		flags[name] = v
	}
	sort.Strings(names)
	for _, name := range names {
		args = append(args, "--"+name)
		if v := flags[name]; v != "" {
			args = append(args, v)
		}
	}
	return args
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

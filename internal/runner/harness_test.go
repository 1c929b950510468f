package runner

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dockrun/internal/unidock"
)

// poisonTool docks every ligand unless one is named poison*, in which case it
// reports that file the way the real tool does and exits 1.
const poisonTool = `#!/usr/bin/env bash
set -euo pipefail
savedir=""
index=""
while [ $# -gt 0 ]; do
  case "$1" in
    --savedir) savedir="$2"; shift 2 ;;
    --ligand_index) index="$2"; shift 2 ;;
    *) shift ;;
  esac
done
mkdir -p "$savedir"
while IFS= read -r path; do
  name="$(basename "$path")"
  name="${name%.*}"
  case "$name" in
    poison*)
      echo "ERROR: Bad input file /tmp/work/obabel_${name}.sdf" >&2
      exit 1
      ;;
  esac
done < "$index"
while IFS= read -r path; do
  name="$(basename "$path")"
  name="${name%.*}"
  echo "pose" > "$savedir/$name.sdf"
  echo "docked $name"
done < "$index"
`

func TestRun_WithExternalTool(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake tool is a bash script")
	}
	f := newFixture(t, append(numberedNames("lig", 7), "poison_a", "poison_b")...)
	out := filepath.Dir(f.resultsDir)
	exe := filepath.Join(t.TempDir(), "unidocktools")
	require.NoError(t, os.WriteFile(exe, []byte(poisonTool), 0o755))

	client := &unidock.Client{
		Executable: exe,
		Subcommand: unidock.DefaultSubcommand,
		IndexFlag:  unidock.DefaultIndexFlag,
		Params:     unidock.Params{Receptor: "/data/receptor.pdbqt"},
		ResultsDir: f.resultsDir,
		IndexDir:   filepath.Join(out, "index"),
		LogDir:     filepath.Join(out, "logs"),
		Timeout:    time.Minute,
	}
	opts := f.options(t, 4)
	opts.Invoker = client

	summary, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, 7, summary.ItemsCompleted)
	assert.Equal(t, 2, summary.ItemsQuarantined)
	assert.Equal(t, 2, summary.ItemsRemaining)
	assert.Empty(t, f.sleeps)

	lines := f.failureLines(t)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "item=poison_a")
	assert.Contains(t, lines[1], "item=poison_b")

	// failed attempts keep their index for post-mortem
	kept, err := filepath.Glob(filepath.Join(out, "index", "*_index.txt"))
	require.NoError(t, err)
	assert.Len(t, kept, 2)

	// a second run offers only the quarantined items again
	f.sleeps = nil
	again, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 2, again.ItemsPending)
	assert.Equal(t, 2, again.ItemsQuarantined)
	assert.Equal(t, 0, again.ItemsCompleted)
}

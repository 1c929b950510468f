package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"dockrun/internal/config"
)

// fakeTool docks every ligand it is given unless one is named poison*, which
// it reports the way the real tool does before exiting 1.
const fakeTool = `#!/usr/bin/env bash
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
  echo "pose" > "$savedir/${name%.*}.sdf"
done < "$index"
`

type project struct {
	root       string
	configPath string
	cfg        config.Config
}

func newProject(t *testing.T, ligands ...string) project {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tool is a bash script")
	}
	root := t.TempDir()
	cfg := config.Default()
	cfg.InputDir = filepath.Join(root, "ligands")
	cfg.OutputDir = filepath.Join(root, "output")
	cfg.Docking.Receptor = filepath.Join(root, "receptor.pdbqt")
	cfg.Tool.Executable = filepath.Join(root, "bin", "unidocktools")
	cfg.Run.ChunkSize = 2

	require.NoError(t, os.MkdirAll(cfg.InputDir, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.Tool.Executable), 0o755))
	require.NoError(t, os.WriteFile(cfg.Tool.Executable, []byte(fakeTool), 0o755))
	require.NoError(t, os.WriteFile(cfg.Docking.Receptor, []byte("ATOM\n"), 0o644))
	for _, name := range ligands {
		require.NoError(t, os.WriteFile(filepath.Join(cfg.InputDir, name+".sdf"), []byte("mol\n"), 0o644))
	}

	path := filepath.Join(root, config.DefaultFileName)
	require.NoError(t, config.Write(path, cfg, false))
	return project{root: root, configPath: path, cfg: cfg}
}

func ligandNames(prefix string, n int) []string {
	names := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		names = append(names, fmt.Sprintf("%s_%03d", prefix, i))
	}
	return names
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(bytes.NewReader(nil))
	if args == nil {
		// cobra falls back to os.Args for nil
		args = []string{}
	}
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func (p project) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return execute(t, NewRootCommand(), append([]string{"--config", p.configPath}, args...)...)
}

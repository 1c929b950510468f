package doctor

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dockrun/internal/config"
	"dockrun/internal/journal"
	"dockrun/internal/model"
	"dockrun/internal/runstore"
	"dockrun/internal/unidock"
)

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
  echo "pose" > "$savedir/${name%.*}.sdf"
done < "$index"
`

func workspace(t *testing.T, ligands map[string]string) config.Config {
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
	for name, content := range ligands {
		require.NoError(t, os.WriteFile(filepath.Join(cfg.InputDir, name), []byte(content), 0o644))
	}
	return cfg
}

func checkByName(t *testing.T, checks []Check, name string) Check {
	t.Helper()
	for _, c := range checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q not found in %+v", name, checks)
	return Check{}
}

func TestStatus_CountsAndChecks(t *testing.T) {
	cfg := workspace(t, map[string]string{"a.sdf": "m\n", "b.sdf": "m\n", "c.pdbqt": "m\n"})
	require.NoError(t, os.MkdirAll(cfg.ResultsDir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.ResultsDir(), "a.sdf"), []byte("pose\n"), 0o644))
	require.NoError(t, runstore.WriteLines(filepath.Join(cfg.IndexDir(), unidock.IndexFileName(2, 1)), []string{"/x/b.sdf"}))

	report, err := Status(context.Background(), cfg)
	require.NoError(t, err)

	assert.True(t, report.OK, "%+v", report.Checks)
	assert.Equal(t, 3, report.Items)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, 2, report.Pending)
	assert.Equal(t, 1, report.ChunksNeeded)
	require.Len(t, report.LeftoverIndexes, 1)
	assert.Equal(t, "chunk_0002_attempt_1_index.txt", filepath.Base(report.LeftoverIndexes[0]))
	assert.Nil(t, report.Lock)
	assert.Nil(t, report.LastRun)
	assert.True(t, checkByName(t, report.Checks, "dependency:unidocktools").OK)
}

func TestStatus_ReportsProblems(t *testing.T) {
	cfg := workspace(t, map[string]string{"a.sdf": "m\n"})
	cfg.Docking.Receptor = filepath.Join(t.TempDir(), "missing.pdbqt")
	cfg.Tool.Executable = "dockrun-no-such-tool"

	lock, err := runstore.AcquireRunLock(cfg.OutputDir, "run-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = lock.Release() })

	report, err := Status(context.Background(), cfg)
	require.NoError(t, err)

	assert.False(t, report.OK)
	assert.False(t, checkByName(t, report.Checks, "dependency:dockrun-no-such-tool").OK)
	assert.False(t, checkByName(t, report.Checks, "file:receptor").OK)
	lockCheck := checkByName(t, report.Checks, "lock")
	assert.False(t, lockCheck.OK)
	assert.Contains(t, lockCheck.Message, "run-1")
	require.NotNil(t, report.Lock)
	assert.Equal(t, os.Getpid(), report.Lock.PID)
}

func TestStatus_ReadsLastJournalRun(t *testing.T) {
	cfg := workspace(t, map[string]string{"a.sdf": "m\n"})
	store, err := journal.Open(cfg.JournalPath())
	require.NoError(t, err)
	require.NoError(t, store.BeginRun(context.Background(), model.RunSummary{RunID: "run-7", StartedAt: "2026-03-01T12:00:00Z", ItemsTotal: 1}))
	require.NoError(t, store.Close())

	report, err := Status(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, report.LastRun)
	assert.Equal(t, "run-7", report.LastRun.ID)
}

func TestStatus_MissingInputIsACheckFailure(t *testing.T) {
	cfg := workspace(t, nil)
	require.NoError(t, os.RemoveAll(cfg.InputDir))

	report, err := Status(context.Background(), cfg)
	require.NoError(t, err)
	assert.False(t, checkByName(t, report.Checks, "directory:input").OK)
	assert.False(t, checkByName(t, report.Checks, "catalog").OK)
}

func newTestClient(cfg config.Config) *unidock.Client {
	return &unidock.Client{
		Executable: cfg.Tool.Executable,
		Subcommand: cfg.Tool.Subcommand,
		IndexFlag:  cfg.Tool.IndexFlag,
		Params:     unidock.Params{Receptor: cfg.Docking.Receptor},
		ResultsDir: cfg.ResultsDir(),
		IndexDir:   cfg.IndexDir(),
		LogDir:     cfg.LogDir(),
	}
}

func TestSelfTest_Passes(t *testing.T) {
	cfg := workspace(t, map[string]string{"a.sdf": "\n\nmol\n", "b.sdf": "mol\n", "c.sdf": "mol\n"})

	report, err := SelfTest(context.Background(), TestOptions{Config: cfg, Client: newTestClient(cfg), Sample: 2})
	require.NoError(t, err)

	assert.True(t, report.OK, "%+v", report.Checks)
	assert.Len(t, report.Files, 2)
	assert.Equal(t, "a", report.Files[0].Name)
	assert.True(t, checkByName(t, report.Checks, "single_item_invocation").OK)
	assert.NoDirExists(t, filepath.Join(cfg.OutputDir, SelfTestDirName))
	assert.NoDirExists(t, cfg.ResultsDir(), "the self-test never writes into the real results directory")
}

func TestSelfTest_FlagsBlankFiles(t *testing.T) {
	cfg := workspace(t, map[string]string{"a.sdf": "mol\n", "b.sdf": "\n\n  \n\n\n\nmol\n"})

	report, err := SelfTest(context.Background(), TestOptions{Config: cfg, SkipInvoke: true})
	require.NoError(t, err)

	assert.False(t, report.OK)
	assert.False(t, checkByName(t, report.Checks, "file_access").OK)
	assert.True(t, checkByName(t, report.Checks, "index_artifact").OK)
	assert.False(t, report.Files[1].OK)
	assert.Contains(t, report.Files[1].Message, "blank")
}

func TestSelfTest_KeepsScratchOnToolFailure(t *testing.T) {
	cfg := workspace(t, map[string]string{"a.sdf": "mol\n"})
	require.NoError(t, os.WriteFile(cfg.Tool.Executable, []byte("#!/usr/bin/env bash\necho boom >&2\nexit 3\n"), 0o755))

	report, err := SelfTest(context.Background(), TestOptions{Config: cfg, Client: newTestClient(cfg)})
	require.NoError(t, err)

	check := checkByName(t, report.Checks, "single_item_invocation")
	assert.False(t, check.OK)
	assert.Contains(t, check.Message, "code 3")
	assert.DirExists(t, report.ScratchDir)
}

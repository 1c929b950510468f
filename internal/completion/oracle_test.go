package completion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dockrun/internal/model"
)

func TestCompleted_MissingDirIsEmpty(t *testing.T) {
	oracle := New(filepath.Join(t.TempDir(), "mcresult"), ".sdf")
	done, err := oracle.Completed()
	require.NoError(t, err)
	assert.Equal(t, 0, done.Len())
}

func TestCompleted_IgnoresEmptyAndForeignFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.sdf"), []byte("pose"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "UPPER.SDF"), []byte("pose"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.sdf"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "log.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.sdf"), 0o755))

	done, err := New(dir, ".sdf").Completed()
	require.NoError(t, err)
	assert.Equal(t, []string{"UPPER", "good"}, done.Names())
}

func TestCompleted_ReflectsChangesOnEachCall(t *testing.T) {
	dir := t.TempDir()
	oracle := New(dir, "sdf")

	first, err := oracle.Completed()
	require.NoError(t, err)
	assert.Equal(t, 0, first.Len())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.sdf"), []byte("pose"), 0o644))
	second, err := oracle.Completed()
	require.NoError(t, err)
	assert.True(t, second.Has("a"))
}

func TestPendingAndSplit(t *testing.T) {
	items := []model.WorkItem{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}}
	done := model.NewCompletionSet("b", "d", "zz")

	pending := Pending(items, done)
	assert.Equal(t, []string{"a", "c"}, model.ItemNames(pending))

	completed, rest := Split(items, done)
	assert.Equal(t, []string{"b", "d"}, model.ItemNames(completed))
	assert.Equal(t, pending, rest)
}

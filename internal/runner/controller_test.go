package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dockrun/internal/catalog"
	"dockrun/internal/completion"
	"dockrun/internal/diagnose"
	"dockrun/internal/model"
	"dockrun/internal/retry"
	"dockrun/internal/runstore"
	"dockrun/internal/sysmem"
	"dockrun/internal/unidock"
)

// fakeInvoker writes one result per submitted path unless told otherwise.
type fakeInvoker struct {
	resultsDir string

	mu    sync.Mutex
	calls []unidock.Request
	// script decides the fate of each call; nil means success for everything.
	script func(call int, req unidock.Request) fakeOutcome
}

type fakeOutcome struct {
	write  func(name string) bool
	stderr string
	// fullStderr, when set, is written to a stderr log and stderr is
	// reported as a truncated tail of it.
	fullStderr string
	err        error
}

func (f *fakeInvoker) Invoke(_ context.Context, req unidock.Request) (unidock.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	call := len(f.calls)
	f.mu.Unlock()

	out := fakeOutcome{}
	if f.script != nil {
		out = f.script(call, req)
	}
	for _, path := range req.Paths {
		name := model.CanonicalName(path)
		if out.write != nil && !out.write(name) {
			continue
		}
		if err := os.MkdirAll(f.resultsDir, 0o755); err != nil {
			return unidock.Result{}, err
		}
		if err := os.WriteFile(filepath.Join(f.resultsDir, name+".sdf"), []byte("pose\n"), 0o644); err != nil {
			return unidock.Result{}, err
		}
	}
	res := unidock.Result{Stderr: out.stderr, Duration: time.Millisecond}
	if out.fullStderr != "" {
		res.StderrTruncated = true
		res.StderrLogPath = filepath.Join(filepath.Dir(f.resultsDir), unidock.StderrLogFileName(req.Chunk, req.Attempt))
		if err := os.MkdirAll(filepath.Dir(res.StderrLogPath), 0o755); err != nil {
			return unidock.Result{}, err
		}
		if err := os.WriteFile(res.StderrLogPath, []byte(out.fullStderr), 0o644); err != nil {
			return unidock.Result{}, err
		}
	}
	if out.err != nil {
		res.ExitCode = 1
	}
	return res, out.err
}

func (f *fakeInvoker) sizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, len(c.Paths))
	}
	return out
}

func writeNothing(string) bool { return false }

type fixture struct {
	inputDir   string
	resultsDir string
	failureLog string
	invoker    *fakeInvoker
	sleeps     []time.Duration
	events     []model.Event
}

func newFixture(t *testing.T, names ...string) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		inputDir:   filepath.Join(root, "input"),
		resultsDir: filepath.Join(root, "output", "results"),
		failureLog: filepath.Join(root, "output", "failed_ligands.log"),
	}
	require.NoError(t, os.MkdirAll(f.inputDir, 0o755))
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(f.inputDir, name+".sdf"), []byte("mol\n"), 0o644))
	}
	f.invoker = &fakeInvoker{resultsDir: f.resultsDir}
	return f
}

func numberedNames(prefix string, n int) []string {
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, fmt.Sprintf("%s%04d", prefix, i))
	}
	return out
}

func (f *fixture) markDone(t *testing.T, names ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(f.resultsDir, 0o755))
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(f.resultsDir, name+".sdf"), []byte("pose\n"), 0o644))
	}
}

func (f *fixture) options(t *testing.T, chunkSize int) Options {
	t.Helper()
	d, err := diagnose.NewMarkerDiagnoser(diagnose.DefaultRules())
	require.NoError(t, err)
	return Options{
		RunID:       "run-test",
		InputDir:    f.inputDir,
		Extensions:  catalog.DefaultExtensions,
		Oracle:      completion.New(f.resultsDir, ".sdf"),
		ChunkSize:   chunkSize,
		MaxAttempts: 3,
		Backoff:     retry.Fixed(time.Minute),
		Invoker:     f.invoker,
		Diagnoser:   d,
		FailureLog:  runstore.NewFailureLog(f.failureLog),
		Observer:    model.ObserverFunc(func(e model.Event) { f.events = append(f.events, e) }),
		Logger:      zerolog.Nop(),
		Sleep: func(d time.Duration, _ <-chan struct{}) bool {
			f.sleeps = append(f.sleeps, d)
			return true
		},
		Memory: func() (sysmem.Info, bool) { return sysmem.Info{}, false },
		Now:    func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func (f *fixture) failureLines(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(f.failureLog)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func (f *fixture) eventKinds(kind model.EventKind) []model.Event {
	var out []model.Event
	for _, e := range f.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func TestRun_FreshRunProcessesEveryChunk(t *testing.T) {
	f := newFixture(t, numberedNames("lig", 12)...)

	summary, err := Run(context.Background(), f.options(t, 5))
	require.NoError(t, err)

	assert.Equal(t, []int{5, 5, 2}, f.invoker.sizes())
	assert.Equal(t, 12, summary.ItemsTotal)
	assert.Equal(t, 0, summary.ItemsAlreadyDone)
	assert.Equal(t, 12, summary.ItemsCompleted)
	assert.Equal(t, 0, summary.ItemsRemaining)
	assert.Equal(t, 3, summary.ChunksPlanned)
	assert.Equal(t, 3, summary.ChunksSucceeded)
	assert.Equal(t, 3, summary.Attempts)
	assert.True(t, summary.Complete())
	assert.False(t, summary.Interrupted)
	assert.Empty(t, f.failureLines(t))
	assert.Empty(t, f.sleeps)

	finished := f.eventKinds(model.EventRunFinished)
	require.Len(t, finished, 1)
	require.NotNil(t, finished[0].Summary)
	assert.Equal(t, "run-test", finished[0].RunID)
}

func TestRun_ResumeSubmitsOnlyPendingItems(t *testing.T) {
	names := numberedNames("lig", 12)
	f := newFixture(t, names...)
	f.markDone(t, names[:7]...)

	summary, err := Run(context.Background(), f.options(t, 5))
	require.NoError(t, err)

	require.Len(t, f.invoker.calls, 1)
	submitted := make([]string, 0, 5)
	for _, p := range f.invoker.calls[0].Paths {
		submitted = append(submitted, model.CanonicalName(p))
	}
	assert.Equal(t, names[7:], submitted)
	assert.Equal(t, 7, summary.ItemsAlreadyDone)
	assert.Equal(t, 5, summary.ItemsPending)
	assert.Equal(t, 5, summary.ItemsCompleted)
	assert.True(t, summary.Complete())
}

func TestRun_NothingPendingInvokesNothing(t *testing.T) {
	names := numberedNames("lig", 4)
	f := newFixture(t, names...)
	f.markDone(t, names...)

	summary, err := Run(context.Background(), f.options(t, 2))
	require.NoError(t, err)

	assert.Empty(t, f.invoker.calls)
	assert.Equal(t, 0, summary.ChunksPlanned)
	assert.True(t, summary.Complete())
}

func TestRun_EmptyInputIsAnError(t *testing.T) {
	f := newFixture(t)

	_, err := Run(context.Background(), f.options(t, 5))
	require.ErrorIs(t, err, catalog.ErrEmptyCatalog)
	assert.Empty(t, f.invoker.calls)
}

func TestRun_QuarantinesPoisonedItemsWithinKPlusOneAttempts(t *testing.T) {
	f := newFixture(t, "a", "b", "poison1", "c", "poison2")
	// the tool aborts on the first bad file it meets and names only that one
	f.invoker.script = func(_ int, req unidock.Request) fakeOutcome {
		for _, p := range req.Paths {
			name := model.CanonicalName(p)
			if strings.HasPrefix(name, "poison") {
				return fakeOutcome{
					write:  writeNothing,
					stderr: "loading ligands\nERROR: Bad input file /tmp/work/obabel_" + name + ".sdf\n",
					err:    &unidock.ExitError{Executable: "unidocktools", Code: 1},
				}
			}
		}
		return fakeOutcome{}
	}

	summary, err := Run(context.Background(), f.options(t, 10))
	require.NoError(t, err)

	assert.Equal(t, []int{5, 4, 3}, f.invoker.sizes())
	assert.Equal(t, 1, summary.ChunksPartial)
	assert.Equal(t, 2, summary.ItemsQuarantined)
	assert.Equal(t, 2, summary.ItemsFailed)
	assert.Equal(t, 2, summary.ItemsRemaining)
	assert.Equal(t, 3, summary.ItemsCompleted)
	assert.Empty(t, f.sleeps, "quarantine rounds retry immediately")

	lines := f.failureLines(t)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "item=poison1")
	assert.Contains(t, lines[0], "reason=quarantined")
	assert.Contains(t, lines[1], "item=poison2")
	assert.Contains(t, lines[1], "Bad input file")
}

func TestRun_DiagnosesFullStderrWhenTailWasTruncated(t *testing.T) {
	f := newFixture(t, "a", "b", "poison1")
	noise := strings.Repeat("warning: conformer clash\n", 20)
	f.invoker.script = func(_ int, req unidock.Request) fakeOutcome {
		for _, p := range req.Paths {
			if model.CanonicalName(p) == "poison1" {
				return fakeOutcome{
					write:      writeNothing,
					stderr:     noise,
					fullStderr: "ERROR: Bad input file /tmp/work/obabel_poison1.sdf\n" + noise,
					err:        &unidock.ExitError{Executable: "unidocktools", Code: 1},
				}
			}
		}
		return fakeOutcome{}
	}

	summary, err := Run(context.Background(), f.options(t, 10))
	require.NoError(t, err)

	assert.Equal(t, []int{3, 2}, f.invoker.sizes())
	assert.Equal(t, 1, summary.ItemsQuarantined)
	assert.Equal(t, 2, summary.ItemsCompleted)
	assert.Empty(t, f.sleeps)
}

func TestRun_TransientFailureExhaustsRetries(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	f.invoker.script = func(int, unidock.Request) fakeOutcome {
		return fakeOutcome{write: writeNothing, stderr: "CUDA error: out of memory\n", err: &unidock.ExitError{Executable: "unidocktools", Code: 134}}
	}

	summary, err := Run(context.Background(), f.options(t, 5))
	require.NoError(t, err)

	assert.Len(t, f.invoker.calls, 3)
	assert.Equal(t, []time.Duration{time.Minute, time.Minute}, f.sleeps)
	assert.Equal(t, 1, summary.ChunksFailed)
	assert.Equal(t, 3, summary.ItemsFailed)
	assert.Equal(t, 3, summary.ItemsRemaining)
	assert.False(t, summary.Complete())

	lines := f.failureLines(t)
	require.Len(t, lines, 3)
	for _, line := range lines {
		assert.Contains(t, line, "reason=retries_exhausted")
		assert.Contains(t, line, "out of memory")
	}
}

func TestRun_TransientFailureRecovers(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	f.invoker.script = func(call int, _ unidock.Request) fakeOutcome {
		if call == 1 {
			return fakeOutcome{write: writeNothing, err: unidock.ErrTimeout}
		}
		return fakeOutcome{}
	}

	summary, err := Run(context.Background(), f.options(t, 5))
	require.NoError(t, err)

	assert.Len(t, f.invoker.calls, 2)
	assert.Len(t, f.sleeps, 1)
	assert.Equal(t, 1, summary.ChunksSucceeded)
	assert.True(t, summary.Complete())
	assert.Empty(t, f.failureLines(t))
}

func TestRun_FailedAttemptKeepsItemsThatFinished(t *testing.T) {
	f := newFixture(t, "a", "b", "c", "d")
	f.invoker.script = func(call int, _ unidock.Request) fakeOutcome {
		if call == 1 {
			return fakeOutcome{
				write: func(name string) bool { return name == "a" || name == "b" },
				err:   &unidock.ExitError{Executable: "unidocktools", Code: 1},
			}
		}
		return fakeOutcome{}
	}

	summary, err := Run(context.Background(), f.options(t, 10))
	require.NoError(t, err)

	assert.Equal(t, []int{4, 2}, f.invoker.sizes())
	assert.True(t, summary.Complete())
}

func TestRun_MissingOutputMakesChunkPartial(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	f.invoker.script = func(int, unidock.Request) fakeOutcome {
		return fakeOutcome{write: func(name string) bool { return name != "b" }}
	}

	summary, err := Run(context.Background(), f.options(t, 5))
	require.NoError(t, err)

	assert.Len(t, f.invoker.calls, 1)
	assert.Equal(t, 1, summary.ChunksPartial)
	assert.Equal(t, 1, summary.ItemsRemaining)
	lines := f.failureLines(t)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "item=b")
	assert.Contains(t, lines[0], "reason=missing_output")
}

func TestRun_StopBeforeFirstChunk(t *testing.T) {
	f := newFixture(t, "a", "b")
	stop := make(chan struct{})
	close(stop)
	opts := f.options(t, 1)
	opts.Stop = stop

	summary, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Empty(t, f.invoker.calls)
	assert.True(t, summary.Interrupted)
	assert.Equal(t, 2, summary.ItemsRemaining)
}

func TestRun_StopBetweenChunks(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	stop := make(chan struct{})
	f.invoker.script = func(call int, _ unidock.Request) fakeOutcome {
		if call == 1 {
			close(stop)
		}
		return fakeOutcome{}
	}
	opts := f.options(t, 1)
	opts.Stop = stop

	summary, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Len(t, f.invoker.calls, 1, "the running chunk completes, no new chunk starts")
	assert.True(t, summary.Interrupted)
	assert.Equal(t, 1, summary.ChunksSucceeded)
	assert.Equal(t, 2, summary.ItemsRemaining)
}

func TestRun_StopDuringBackoffLeavesItemsPending(t *testing.T) {
	f := newFixture(t, "a", "b")
	f.invoker.script = func(int, unidock.Request) fakeOutcome {
		return fakeOutcome{write: writeNothing, err: &unidock.ExitError{Executable: "unidocktools", Code: 1}}
	}
	opts := f.options(t, 5)
	opts.Sleep = func(time.Duration, <-chan struct{}) bool { return false }

	summary, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Len(t, f.invoker.calls, 1)
	assert.True(t, summary.Interrupted)
	assert.Equal(t, 0, summary.ItemsFailed)
	assert.Empty(t, f.failureLines(t))
	assert.Equal(t, 2, summary.ItemsRemaining)
}

func TestRun_MaxChunksCountsOnlyAttemptedChunks(t *testing.T) {
	f := newFixture(t, numberedNames("lig", 6)...)
	// the first chunk also finishes every item of the second one
	f.invoker.script = func(call int, _ unidock.Request) fakeOutcome {
		if call == 1 {
			f.markDone(t, "lig0003", "lig0004")
		}
		return fakeOutcome{}
	}
	opts := f.options(t, 2)
	opts.MaxChunks = 2

	summary, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2}, f.invoker.sizes())
	assert.Equal(t, 1, summary.ChunksSkipped)
	assert.Equal(t, 2, summary.ChunksAttempted)
	assert.True(t, summary.Complete())
	assert.Len(t, f.eventKinds(model.EventChunkSkipped), 1)
}

func TestRun_MaxChunksLeavesRemainder(t *testing.T) {
	f := newFixture(t, numberedNames("lig", 12)...)
	opts := f.options(t, 5)
	opts.MaxChunks = 1

	summary, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, []int{5}, f.invoker.sizes())
	assert.Equal(t, 7, summary.ItemsRemaining)
	assert.False(t, summary.Interrupted)
	assert.False(t, summary.Complete())
}

func TestRun_SecondRunConvergesAfterQuarantine(t *testing.T) {
	f := newFixture(t, "a", "poison", "b")
	f.invoker.script = func(_ int, req unidock.Request) fakeOutcome {
		for _, p := range req.Paths {
			if model.CanonicalName(p) == "poison" {
				return fakeOutcome{write: writeNothing, stderr: "Bad input file poison.sdf", err: &unidock.ExitError{Executable: "unidocktools", Code: 1}}
			}
		}
		return fakeOutcome{}
	}

	_, err := Run(context.Background(), f.options(t, 5))
	require.NoError(t, err)
	first := len(f.invoker.calls)

	// quarantined items stay pending and are offered again on the next run
	summary, err := Run(context.Background(), f.options(t, 5))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ItemsPending)
	assert.Equal(t, 1, summary.ItemsQuarantined)
	assert.Len(t, f.invoker.calls, first+1)
}

func TestRun_RequiresInvokerAndDiagnoser(t *testing.T) {
	_, err := Run(context.Background(), Options{})
	require.Error(t, err)
	_, err = Run(context.Background(), Options{Invoker: &fakeInvoker{}})
	require.Error(t, err)
}

func TestNewRunID_IsUnique(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}

func TestLastLines(t *testing.T) {
	assert.Equal(t, "c | d", lastLines("a\nb\n\nc\nd\n\n", 2))
	assert.Equal(t, "", lastLines("", 3))
}

func TestFormatBytesIEC(t *testing.T) {
	assert.Equal(t, "512 B", formatBytesIEC(512))
	assert.Equal(t, "1.5 KiB", formatBytesIEC(1536))
	assert.Equal(t, "2.0 GiB", formatBytesIEC(2<<30))
}

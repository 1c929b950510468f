package doctor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"dockrun/internal/catalog"
	"dockrun/internal/completion"
	"dockrun/internal/config"
	"dockrun/internal/model"
	"dockrun/internal/runstore"
	"dockrun/internal/unidock"
)

const (
	DefaultSample      = 5
	SelfTestDirName    = ".selftest"
	selfTestTimeout    = time.Hour
	fileCheckParallel  = 8
	fileCheckHeadLines = 5
)

var errNoItems = errors.New("no input items to test")

type TestOptions struct {
	Config config.Config
	// Client is copied and redirected into the scratch directory before use.
	Client     *unidock.Client
	Sample     int
	SkipInvoke bool
}

type FileResult struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type TestReport struct {
	OK     bool         `json:"ok"`
	Checks []Check      `json:"checks"`
	Files  []FileResult `json:"files"`
	// ScratchDir holds the artifacts of a failed self-test invocation.
	ScratchDir string `json:"scratch_dir,omitempty"`
}

// SelfTest checks that the first few items are readable, that an index artifact
// can be written, and that the tool docks a single item end to end.
func SelfTest(ctx context.Context, opts TestOptions) (TestReport, error) {
	var report TestReport
	cfg := opts.Config
	sample := opts.Sample
	if sample <= 0 {
		sample = DefaultSample
	}

	items, err := catalog.Discover(cfg.InputDir, cfg.InputExtensions)
	if err != nil {
		return report, err
	}
	if len(items) > sample {
		items = items[:sample]
	}

	files, err := checkFiles(ctx, items)
	if err != nil {
		return report, err
	}
	report.Files = files
	readable := 0
	for _, f := range files {
		if f.OK {
			readable++
		}
	}
	report.Checks = append(report.Checks, Check{
		Name:    "file_access",
		OK:      readable == len(files),
		Message: fmt.Sprintf("%d/%d files readable", readable, len(files)),
	})

	scratch := filepath.Join(cfg.OutputDir, SelfTestDirName)
	report.Checks = append(report.Checks, indexCheck(filepath.Join(scratch, "index"), items))

	if !opts.SkipInvoke {
		check := invokeCheck(ctx, opts.Client, scratch, cfg.ResultExtension, items)
		report.Checks = append(report.Checks, check)
		if check.OK {
			_ = os.RemoveAll(scratch)
		} else {
			report.ScratchDir = scratch
		}
	} else {
		_ = os.RemoveAll(scratch)
	}

	report.OK = allOK(report.Checks)
	return report, nil
}

func checkFiles(ctx context.Context, items []model.WorkItem) ([]FileResult, error) {
	results := make([]FileResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fileCheckParallel)
	for i, item := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ok, msg := checkFile(item.Path)
			results[i] = FileResult{Name: item.Name, Path: item.Path, OK: ok, Message: msg}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// checkFile reports whether path exists, is readable, is non-empty, and has
// content in its first few lines.
func checkFile(path string) (bool, string) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err.Error()
	}
	if info.Size() == 0 {
		return false, "empty file"
	}
	f, err := os.Open(path)
	if err != nil {
		return false, err.Error()
	}
	defer f.Close()

	scanner := bufio.NewScanner(io.LimitReader(f, 1<<20))
	for n := 0; n < fileCheckHeadLines && scanner.Scan(); n++ {
		if strings.TrimSpace(scanner.Text()) != "" {
			return true, fmt.Sprintf("%d bytes", info.Size())
		}
	}
	if err := scanner.Err(); err != nil {
		return false, err.Error()
	}
	return false, fmt.Sprintf("first %d lines are blank", fileCheckHeadLines)
}

func indexCheck(dir string, items []model.WorkItem) Check {
	name := "index_artifact"
	if len(items) == 0 {
		return Check{Name: name, OK: false, Message: errNoItems.Error()}
	}
	path := filepath.Join(dir, "selftest_index.txt")
	if err := runstore.WriteLines(path, model.ItemPaths(items)); err != nil {
		return Check{Name: name, OK: false, Message: err.Error()}
	}
	defer os.Remove(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return Check{Name: name, OK: false, Message: err.Error()}
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != len(items) {
		return Check{Name: name, OK: false, Message: fmt.Sprintf("wrote %d paths, read back %d", len(items), len(lines))}
	}
	return Check{Name: name, OK: true, Message: fmt.Sprintf("%d paths written and read back", len(lines))}
}

func invokeCheck(ctx context.Context, tmpl *unidock.Client, scratch, resultExt string, items []model.WorkItem) Check {
	name := "single_item_invocation"
	if tmpl == nil {
		return Check{Name: name, OK: false, Message: "no tool client configured"}
	}
	if len(items) == 0 {
		return Check{Name: name, OK: false, Message: errNoItems.Error()}
	}
	client := *tmpl
	client.ResultsDir = filepath.Join(scratch, "results")
	client.IndexDir = filepath.Join(scratch, "index")
	client.LogDir = filepath.Join(scratch, "logs")
	client.Timeout = selfTestTimeout
	client.OnLine = nil

	item := items[0]
	res, err := client.Invoke(ctx, unidock.Request{Chunk: 0, Attempt: 1, Paths: []string{item.Path}})
	if err != nil {
		msg := err.Error()
		if res.LogPath != "" {
			msg += " (log: " + res.LogPath + ")"
		}
		return Check{Name: name, OK: false, Message: msg}
	}
	done, err := completion.New(client.ResultsDir, resultExt).Completed()
	if err != nil {
		return Check{Name: name, OK: false, Message: err.Error()}
	}
	if !done.Has(item.Name) {
		return Check{Name: name, OK: false, Message: fmt.Sprintf("%s exited 0 but wrote no output for %s", client.Executable, item.Name)}
	}
	return Check{Name: name, OK: true, Message: fmt.Sprintf("%s docked in %s", item.Name, res.Duration.Round(time.Millisecond))}
}

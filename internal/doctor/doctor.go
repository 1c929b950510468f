// Package doctor runs the dry checks behind the status and test commands.
package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dockrun/internal/catalog"
	"dockrun/internal/chunker"
	"dockrun/internal/completion"
	"dockrun/internal/config"
	"dockrun/internal/journal"
	"dockrun/internal/runstore"
	"dockrun/internal/unidock"
)

type Check struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type StatusReport struct {
	OK     bool    `json:"ok"`
	Checks []Check `json:"checks"`

	Items        int `json:"items"`
	Completed    int `json:"completed"`
	Pending      int `json:"pending"`
	ChunkSize    int `json:"chunk_size"`
	ChunksNeeded int `json:"chunks_needed"`

	LeftoverIndexes []string            `json:"leftover_indexes,omitempty"`
	Lock            *runstore.LockOwner `json:"lock,omitempty"`
	LastRun         *journal.RunRow     `json:"last_run,omitempty"`
}

// Status inspects the configured workspace without creating or changing anything
// except a probe file in the output directory.
func Status(ctx context.Context, cfg config.Config) (StatusReport, error) {
	report := StatusReport{ChunkSize: cfg.Run.ChunkSize}

	dep := unidock.DependencyStatus(cfg.Tool.Executable)
	report.Checks = append(report.Checks, Check{
		Name:    "dependency:" + filepath.Base(dep.Executable),
		OK:      dep.Found,
		Message: dependencyMessage(dep),
	})
	report.Checks = append(report.Checks, fileCheck("file:receptor", cfg.Docking.Receptor))
	report.Checks = append(report.Checks, dirCheck("directory:input", cfg.InputDir))

	outOK, outMsg := ensureWritableDir(cfg.OutputDir)
	report.Checks = append(report.Checks, Check{Name: "directory:output", OK: outOK, Message: outMsg})

	lockCheck := Check{Name: "lock", OK: true, Message: "unlocked"}
	if owner, err := runstore.ReadLockOwner(cfg.OutputDir); err == nil {
		report.Lock = &owner
		lockCheck.OK = false
		lockCheck.Message = fmt.Sprintf("held by pid %d on %s since %s (run %s)", owner.PID, owner.Hostname, owner.CreatedAt, owner.RunID)
	}
	report.Checks = append(report.Checks, lockCheck)

	items, err := catalog.Discover(cfg.InputDir, cfg.InputExtensions)
	if err != nil {
		report.Checks = append(report.Checks, Check{Name: "catalog", OK: false, Message: err.Error()})
	} else {
		report.Checks = append(report.Checks, Check{Name: "catalog", OK: true, Message: fmt.Sprintf("%d items", len(items))})
		done, err := completion.New(cfg.ResultsDir(), cfg.ResultExtension).Completed()
		if err != nil {
			return report, fmt.Errorf("read results directory: %w", err)
		}
		pending := completion.Pending(items, done)
		report.Items = len(items)
		report.Pending = len(pending)
		report.Completed = len(items) - len(pending)
		if cfg.Run.ChunkSize > 0 {
			report.ChunksNeeded = chunker.Count(len(pending), cfg.Run.ChunkSize)
		}
	}

	leftovers, err := filepath.Glob(filepath.Join(cfg.IndexDir(), "*_index.txt"))
	if err != nil {
		return report, err
	}
	sort.Strings(leftovers)
	report.LeftoverIndexes = leftovers

	if path := cfg.JournalPath(); path != "" {
		if _, err := os.Stat(path); err == nil {
			last, err := lastRun(ctx, path)
			if err != nil {
				report.Checks = append(report.Checks, Check{Name: "journal", OK: false, Message: err.Error()})
			} else {
				report.LastRun = last
				report.Checks = append(report.Checks, Check{Name: "journal", OK: true, Message: path})
			}
		}
	}

	report.OK = allOK(report.Checks)
	return report, nil
}

func lastRun(ctx context.Context, path string) (*journal.RunRow, error) {
	store, err := journal.Open(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	row, ok, err := store.LastRun(ctx)
	if err != nil || !ok {
		return nil, err
	}
	return &row, nil
}

func allOK(checks []Check) bool {
	for _, c := range checks {
		if !c.OK {
			return false
		}
	}
	return true
}

func dependencyMessage(dep unidock.DependencyReport) string {
	if dep.Found {
		return dep.Executable + " found at " + dep.Path
	}
	return dep.Executable + " not found on PATH"
}

func fileCheck(name, path string) Check {
	if strings.TrimSpace(path) == "" {
		return Check{Name: name, OK: false, Message: "not configured"}
	}
	info, err := os.Stat(path)
	switch {
	case err != nil:
		return Check{Name: name, OK: false, Message: err.Error()}
	case info.IsDir():
		return Check{Name: name, OK: false, Message: path + " is a directory"}
	case info.Size() == 0:
		return Check{Name: name, OK: false, Message: path + " is empty"}
	}
	return Check{Name: name, OK: true, Message: path}
}

func dirCheck(name, path string) Check {
	if strings.TrimSpace(path) == "" {
		return Check{Name: name, OK: false, Message: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		return Check{Name: name, OK: false, Message: err.Error()}
	}
	if !info.IsDir() {
		return Check{Name: name, OK: false, Message: path + " is not a directory"}
	}
	return Check{Name: name, OK: true, Message: path}
}

func ensureWritableDir(path string) (bool, string) {
	if strings.TrimSpace(path) == "" {
		return false, "empty path"
	}
	if err := runstore.Mkdir(path); err != nil {
		return false, err.Error()
	}
	f, err := os.CreateTemp(path, "dockrun-check-*.tmp")
	if err != nil {
		return false, err.Error()
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true, "writable"
}

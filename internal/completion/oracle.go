// Package completion derives which work items are done from the results directory.
// The directory listing is the only source of truth for completion.
package completion

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"dockrun/internal/model"
)

const DefaultExtension = ".sdf"

type Oracle struct {
	ResultsDir string
	Extension  string
}

func New(resultsDir, extension string) Oracle {
	return Oracle{ResultsDir: resultsDir, Extension: extension}
}

// Completed returns the canonical names of every non-empty output artifact.
// A missing results directory yields an empty set.
func (o Oracle) Completed() (model.CompletionSet, error) {
	done := model.NewCompletionSet()
	if strings.TrimSpace(o.ResultsDir) == "" {
		return done, nil
	}
	entries, err := os.ReadDir(o.ResultsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return done, nil
		}
		return nil, err
	}
	ext := strings.ToLower(strings.TrimSpace(o.Extension))
	if ext == "" {
		ext = DefaultExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.ToLower(filepath.Ext(name)) != ext {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// concurrent removal between listing and stat
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		if !info.Mode().IsRegular() || info.Size() == 0 {
			continue
		}
		done[model.CanonicalName(name)] = struct{}{}
	}
	return done, nil
}

// Pending keeps catalog order and drops every item present in done.
func Pending(items []model.WorkItem, done model.CompletionSet) []model.WorkItem {
	out := make([]model.WorkItem, 0, len(items))
	for _, item := range items {
		if done.Has(item.Name) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// Split partitions items into those done and those still pending.
func Split(items []model.WorkItem, done model.CompletionSet) (completed, pending []model.WorkItem) {
	for _, item := range items {
		if done.Has(item.Name) {
			completed = append(completed, item)
		} else {
			pending = append(pending, item)
		}
	}
	return completed, pending
}

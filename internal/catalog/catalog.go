// Package catalog discovers the work set: every input file under a root directory.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dockrun/internal/model"
)

var (
	ErrInputRootMissing = errors.New("input directory does not exist")
	ErrEmptyCatalog     = errors.New("no input files found")
)

var DefaultExtensions = []string{".sdf", ".pdbqt"}

// DuplicateNameError is returned when two input files share a canonical name.
// Completion is keyed by name, so such a catalog cannot be resumed safely.
type DuplicateNameError struct {
	Name  string
	First string
	Other string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate item name %q: %s and %s", e.Name, e.First, e.Other)
}

// Discover walks root recursively and returns every file whose extension matches
// one of extensions (case-insensitive), sorted by absolute path.
func Discover(root string, extensions []string) ([]model.WorkItem, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, ErrInputRootMissing
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrInputRootMissing, abs)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInputRootMissing, abs)
	}

	wanted := normalizeExtensions(extensions)
	if len(wanted) == 0 {
		wanted = normalizeExtensions(DefaultExtensions)
	}

	var paths []string
	err = filepath.WalkDir(abs, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if _, ok := wanted[ext]; !ok {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", abs, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w under %s (extensions %s)", ErrEmptyCatalog, abs, strings.Join(sortedKeys(wanted), ", "))
	}
	sort.Strings(paths)

	items := make([]model.WorkItem, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, path := range paths {
		name := model.CanonicalName(path)
		if first, ok := seen[name]; ok {
			return nil, &DuplicateNameError{Name: name, First: first, Other: path}
		}
		seen[name] = path
		items = append(items, model.WorkItem{Path: path, Name: name})
	}
	return items, nil
}

func normalizeExtensions(exts []string) map[string]struct{} {
	out := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = struct{}{}
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

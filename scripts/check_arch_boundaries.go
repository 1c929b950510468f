// Command check_arch_boundaries fails when an internal package imports a
// sibling it is not allowed to depend on.
package main

import (
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const modulePrefix = "dockrun/internal/"

// Leaf packages (model, config, diagnose, retry, sysmem, logging) import no
// siblings. The runner never sees config; cli translates it into options.
var allowed = map[string][]string{
	"cli": {
		"catalog", "chunker", "completion", "config", "diagnose", "doctor",
		"journal", "logging", "metrics", "model", "retry", "runner", "runstore", "unidock",
	},
	"doctor":     {"catalog", "chunker", "completion", "config", "journal", "model", "runstore", "unidock"},
	"runner":     {"catalog", "chunker", "completion", "diagnose", "model", "retry", "runstore", "sysmem", "unidock"},
	"unidock":    {"runstore"},
	"catalog":    {"model"},
	"chunker":    {"model"},
	"completion": {"model"},
	"journal":    {"model"},
	"metrics":    {"model"},
	"runstore":   {"model"},
	"config":     {},
	"diagnose":   {},
	"logging":    {},
	"model":      {},
	"retry":      {},
	"sysmem":     {},
}

func main() {
	violations := []string{}

	err := filepath.WalkDir("internal", func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		srcPkg := sourcePackage(path)
		if srcPkg == "" {
			return nil
		}
		deps, ok := allowed[srcPkg]
		if !ok {
			violations = append(violations, fmt.Sprintf("%s: unknown source package %q", path, srcPkg))
			return nil
		}

		fset := token.NewFileSet()
		file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		for _, imp := range file.Imports {
			tgtPkg, ok := targetPackage(strings.Trim(imp.Path.Value, "\""))
			if !ok || tgtPkg == srcPkg {
				continue
			}
			if !contains(deps, tgtPkg) {
				violations = append(violations, fmt.Sprintf("%s: %s -> %s is forbidden", path, srcPkg, tgtPkg))
			}
		}
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "boundary walk failed: %v\n", err)
		os.Exit(1)
	}

	if len(violations) > 0 {
		sort.Strings(violations)
		fmt.Fprintln(os.Stderr, "architecture boundary violations detected:")
		for _, v := range violations {
			fmt.Fprintf(os.Stderr, "- %s\n", v)
		}
		os.Exit(1)
	}
	fmt.Printf("architecture boundary check: OK (%d packages)\n", len(allowed))
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func sourcePackage(path string) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) < 2 || parts[0] != "internal" {
		return ""
	}
	return parts[1]
}

func targetPackage(importPath string) (string, bool) {
	rest, ok := strings.CutPrefix(importPath, modulePrefix)
	if !ok || rest == "" {
		return "", false
	}
	return strings.Split(rest, "/")[0], true
}

// Package diagnose attributes a failed tool invocation to specific submitted items
// by scanning its free-text diagnostic output.
package diagnose

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Finding is one submitted item positively identified as the cause of a failure.
type Finding struct {
	Name string
	Line string
}

// Diagnoser never reports a name outside submitted. An empty result means
// nothing could be identified, not that the input was clean.
type Diagnoser interface {
	Diagnose(diagnostic string, submitted []string) []Finding
}

type Rules struct {
	// Markers select lines worth tokenizing (case-insensitive substring match).
	Markers []string
	// Patterns are regular expressions with a named group "name".
	Patterns []string
	// StripPrefixes are removed from candidate tokens, e.g. converter temp-file prefixes.
	StripPrefixes []string
	// StripExtensions are removed from candidate tokens before matching.
	StripExtensions []string
}

var (
	DefaultMarkers         = []string{"Bad input file"}
	DefaultStripPrefixes   = []string{"obabel_"}
	DefaultStripExtensions = []string{".sdf", ".pdbqt", ".mol2", ".mol", ".pdb", ".smi"}
)

func DefaultRules() Rules {
	return Rules{
		Markers:         append([]string(nil), DefaultMarkers...),
		StripPrefixes:   append([]string(nil), DefaultStripPrefixes...),
		StripExtensions: append([]string(nil), DefaultStripExtensions...),
	}
}

type MarkerDiagnoser struct {
	markers    []string
	patterns   []*regexp.Regexp
	prefixes   []string
	extensions []string
}

func NewMarkerDiagnoser(rules Rules) (*MarkerDiagnoser, error) {
	d := &MarkerDiagnoser{}
	for _, m := range rules.Markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			d.markers = append(d.markers, m)
		}
	}
	for _, raw := range rules.Patterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("diagnose pattern %q: %w", raw, err)
		}
		if re.SubexpIndex("name") < 0 {
			return nil, fmt.Errorf("diagnose pattern %q: missing (?P<name>...) group", raw)
		}
		d.patterns = append(d.patterns, re)
	}
	for _, p := range rules.StripPrefixes {
		if p = strings.TrimSpace(p); p != "" {
			d.prefixes = append(d.prefixes, p)
		}
	}
	for _, ext := range rules.StripExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		d.extensions = append(d.extensions, ext)
	}
	return d, nil
}

func (d *MarkerDiagnoser) Diagnose(diagnostic string, submitted []string) []Finding {
	if len(submitted) == 0 || strings.TrimSpace(diagnostic) == "" {
		return nil
	}
	want := make(map[string]struct{}, len(submitted))
	for _, name := range submitted {
		want[name] = struct{}{}
	}

	var findings []Finding
	seen := make(map[string]bool)
	add := func(name, line string) {
		if seen[name] {
			return
		}
		if _, ok := want[name]; !ok {
			return
		}
		seen[name] = true
		findings = append(findings, Finding{Name: name, Line: line})
	}

	for _, line := range splitLines(diagnostic) {
		matched := false
		for _, re := range d.patterns {
			for _, m := range re.FindAllStringSubmatch(line, -1) {
				matched = true
				token := m[re.SubexpIndex("name")]
				for _, candidate := range d.candidates(lastPathElem(token)) {
					add(candidate, line)
				}
			}
		}
		if matched || !d.hasMarker(line) {
			continue
		}
		for _, token := range tokenize(line) {
			for _, candidate := range d.fileCandidates(token) {
				add(candidate, line)
			}
		}
	}
	return findings
}

func (d *MarkerDiagnoser) hasMarker(line string) bool {
	lower := strings.ToLower(line)
	for _, m := range d.markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// candidates lists the spellings of token that could equal a canonical name:
// as-is, without extension, and without each configured prefix.
func (d *MarkerDiagnoser) candidates(token string) []string {
	token = norm.NFC.String(strings.Trim(token, ".'\"`"))
	if token == "" {
		return nil
	}
	out := []string{token}
	stem := token
	lower := strings.ToLower(token)
	for _, ext := range d.extensions {
		if strings.HasSuffix(lower, ext) && len(token) > len(ext) {
			stem = token[:len(token)-len(ext)]
			out = append(out, stem)
			break
		}
	}
	for _, p := range d.prefixes {
		for _, form := range []string{token, stem} {
			if strings.HasPrefix(form, p) && len(form) > len(p) {
				out = append(out, form[len(p):])
			}
		}
	}
	return out
}

// fileCandidates is candidates restricted to tokens that look like an input
// file: they carry a known extension or a configured prefix. Plain words,
// numbers and directory names on a marker line never match.
func (d *MarkerDiagnoser) fileCandidates(token string) []string {
	token = norm.NFC.String(strings.Trim(token, ".'\"`"))
	lower := strings.ToLower(token)
	for _, ext := range d.extensions {
		if strings.HasSuffix(lower, ext) && len(token) > len(ext) {
			return d.candidates(token)[1:]
		}
	}
	for _, p := range d.prefixes {
		if strings.HasPrefix(token, p) && len(token) > len(p) {
			return d.candidates(token)
		}
	}
	return nil
}

func splitLines(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' })
}

func tokenize(line string) []string {
	return strings.FieldsFunc(line, isSeparator)
}

func isSeparator(r rune) bool {
	switch r {
	case ' ', '\t', '/', '\\', ':', ',', ';', '(', ')', '[', ']', '{', '}', '<', '>', '=', '|':
		return true
	}
	return false
}

func lastPathElem(token string) string {
	token = strings.TrimSpace(token)
	if i := strings.LastIndexAny(token, `/\`); i >= 0 {
		return token[i+1:]
	}
	return token
}

package model

import (
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// WorkItem is one input file to be docked.
type WorkItem struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// Chunk is a contiguous slice of pending work items submitted as one tool invocation.
type Chunk struct {
	Number int        `json:"number"`
	Items  []WorkItem `json:"items"`
}

// CanonicalName is the stem of path with its final extension removed, NFC-normalized.
// Input and output files of the same item map to the same canonical name.
func CanonicalName(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return norm.NFC.String(stem)
}

func ItemNames(items []WorkItem) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Name)
	}
	return out
}

func ItemPaths(items []WorkItem) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Path)
	}
	return out
}

// CompletionSet holds canonical names that have a valid output artifact.
type CompletionSet map[string]struct{}

func NewCompletionSet(names ...string) CompletionSet {
	set := make(CompletionSet, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

func (s CompletionSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

func (s CompletionSet) Len() int {
	return len(s)
}

func (s CompletionSet) Names() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// FailureRecord is one line of the append-only failure log.
type FailureRecord struct {
	At      string `json:"at"`
	RunID   string `json:"run_id"`
	Chunk   int    `json:"chunk"`
	Name    string `json:"name"`
	Reason  string `json:"reason"`
	Excerpt string `json:"excerpt,omitempty"`
}

// RunSummary reports one execution of the controller.
type RunSummary struct {
	RunID      string `json:"run_id"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`

	ItemsTotal       int `json:"items_total"`
	ItemsAlreadyDone int `json:"items_already_done"`
	ItemsPending     int `json:"items_pending"`
	ItemsCompleted   int `json:"items_completed"`
	ItemsFailed      int `json:"items_failed"`
	ItemsQuarantined int `json:"items_quarantined"`
	ItemsRemaining   int `json:"items_remaining"`

	ChunkSize       int `json:"chunk_size"`
	ChunksPlanned   int `json:"chunks_planned"`
	ChunksAttempted int `json:"chunks_attempted"`
	ChunksSucceeded int `json:"chunks_succeeded"`
	ChunksPartial   int `json:"chunks_partial"`
	ChunksFailed    int `json:"chunks_failed"`
	ChunksSkipped   int `json:"chunks_skipped"`
	Attempts        int `json:"attempts"`

	Interrupted bool `json:"interrupted"`
}

// Complete reports whether every discovered item has an output artifact.
func (s RunSummary) Complete() bool {
	return s.ItemsRemaining == 0
}

package runstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"dockrun/internal/model"
)

const maxExcerptBytes = 1200

// FailureLog appends one line per failure record. It is written for operators
// and never read back by the orchestrator.
type FailureLog struct {
	path string
	mu   sync.Mutex
}

func NewFailureLog(path string) *FailureLog {
	return &FailureLog{path: path}
}

func (l *FailureLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

func (l *FailureLog) Append(records ...model.FailureRecord) error {
	if l == nil || len(records) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create parent for %s: %w", l.path, err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open failure log %s: %w", l.path, err)
	}
	var b strings.Builder
	for _, rec := range records {
		b.WriteString(FormatFailureRecord(rec))
		b.WriteByte('\n')
	}
	if _, err := f.WriteString(b.String()); err != nil {
		_ = f.Close()
		return fmt.Errorf("append failure log %s: %w", l.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close failure log %s: %w", l.path, err)
	}
	return nil
}

// FormatFailureRecord renders rec as a single tab-separated line.
func FormatFailureRecord(rec model.FailureRecord) string {
	fields := []string{
		rec.At,
		"run=" + rec.RunID,
		"chunk=" + strconv.Itoa(rec.Chunk),
		"item=" + singleLine(rec.Name),
		"reason=" + rec.Reason,
		"excerpt=" + truncate(singleLine(rec.Excerpt), maxExcerptBytes),
	}
	return strings.Join(fields, "\t")
}

func singleLine(s string) string {
	s = strings.NewReplacer("\r\n", " | ", "\n", " | ", "\r", " | ", "\t", " ").Replace(s)
	return strings.TrimSpace(s)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	// keep the cut on a UTF-8 boundary
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + "..."
}

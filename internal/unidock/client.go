// Package unidock drives the external docking tool for one chunk at a time.
package unidock

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"dockrun/internal/runstore"
)

type OutputStream string

const (
	StreamStdout OutputStream = "stdout"
	StreamStderr OutputStream = "stderr"
)

const (
	DefaultTimeout      = 10 * time.Hour
	DefaultKillGrace    = 30 * time.Second
	DefaultCaptureLimit = 1 << 20
)

var (
	ErrTimeout      = errors.New("tool invocation timed out")
	ErrToolNotFound = errors.New("tool executable not found")
)

// ExitError reports a non-zero exit of the tool.
type ExitError struct {
	Executable string
	Code       int
	LastLine   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Executable, e.Code)
	if e.LastLine != "" {
		msg += ": " + e.LastLine
	}
	return msg
}

type Client struct {
	Executable string
	Subcommand []string
	IndexFlag  string
	Params     Params

	// ResultsDir is passed as --savedir.
	ResultsDir string
	// IndexDir receives the per-attempt index artifacts.
	IndexDir string
	// LogDir receives one log file per attempt. Empty disables attempt logs.
	LogDir string
	// WorkDir is the subprocess working directory; empty inherits ours.
	WorkDir string

	Timeout      time.Duration
	KillGrace    time.Duration
	CaptureLimit int

	// OnLine is called for every output line; it must not block.
	OnLine func(req Request, stream OutputStream, line string)
}

type Request struct {
	Chunk   int
	Attempt int
	Paths   []string
}

type Result struct {
	Command   []string
	IndexPath string
	LogPath   string
	ExitCode  int
	TimedOut  bool
	Stdout    string
	Stderr    string
	Duration  time.Duration

	// StderrTruncated is set when Stderr holds only the tail of the stream.
	// StderrLogPath then has all of it, if attempt logs are enabled.
	StderrTruncated bool
	StderrLogPath   string
}

func IndexFileName(chunk, attempt int) string {
	return fmt.Sprintf("chunk_%04d_attempt_%d_index.txt", chunk, attempt)
}

func LogFileName(chunk, attempt int) string {
	return fmt.Sprintf("chunk_%04d_attempt_%d.log", chunk, attempt)
}

func StderrLogFileName(chunk, attempt int) string {
	return fmt.Sprintf("chunk_%04d_attempt_%d.stderr.log", chunk, attempt)
}

// Command returns the full argv for an invocation reading indexPath.
func (c *Client) Command(indexPath string) []string {
	exe := c.Executable
	if strings.TrimSpace(exe) == "" {
		exe = DefaultExecutable
	}
	cmd := append([]string{exe}, c.Subcommand...)
	return append(cmd, BuildArgs(c.Params, c.ResultsDir, c.IndexFlag, indexPath)...)
}

// Invoke runs the tool once for req. The index artifact is removed on success and
// kept for post-mortem on any failure. A timeout kills the whole process group
// and returns ErrTimeout; a non-zero exit returns *ExitError.
func (c *Client) Invoke(ctx context.Context, req Request) (Result, error) {
	if len(req.Paths) == 0 {
		return Result{}, fmt.Errorf("chunk %d: no items to submit", req.Chunk)
	}
	if strings.TrimSpace(c.IndexDir) == "" {
		return Result{}, fmt.Errorf("index directory is required")
	}

	lines := make([]string, 0, len(req.Paths))
	for _, p := range req.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return Result{}, fmt.Errorf("resolve %s: %w", p, err)
		}
		lines = append(lines, abs)
	}
	res := Result{IndexPath: filepath.Join(c.IndexDir, IndexFileName(req.Chunk, req.Attempt))}
	if err := runstore.WriteLines(res.IndexPath, lines); err != nil {
		return res, fmt.Errorf("write index artifact: %w", err)
	}
	if strings.TrimSpace(c.ResultsDir) != "" {
		if err := runstore.Mkdir(c.ResultsDir); err != nil {
			return res, err
		}
	}
	res.Command = c.Command(res.IndexPath)

	var logW, errLogW io.Writer
	if strings.TrimSpace(c.LogDir) != "" {
		if err := runstore.Mkdir(c.LogDir); err != nil {
			return res, err
		}
		res.LogPath = filepath.Join(c.LogDir, LogFileName(req.Chunk, req.Attempt))
		f, err := os.OpenFile(res.LogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return res, fmt.Errorf("open attempt log %s: %w", res.LogPath, err)
		}
		defer func() {
			_ = f.Close()
		}()
		_, _ = fmt.Fprintf(f, "# started_at: %s\n# command: %s\n", time.Now().UTC().Format(time.RFC3339), strings.Join(res.Command, " "))
		logW = f

		res.StderrLogPath = filepath.Join(c.LogDir, StderrLogFileName(req.Chunk, req.Attempt))
		ef, err := os.OpenFile(res.StderrLogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return res, fmt.Errorf("open attempt stderr log %s: %w", res.StderrLogPath, err)
		}
		defer func() {
			_ = ef.Close()
		}()
		errLogW = ef
	}

	runCtx := ctx
	cancel := func() {}
	if c.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, res.Command[0], res.Command[1:]...)
	cmd.Dir = c.WorkDir
	configureProcess(cmd)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return res, fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return res, fmt.Errorf("setup stderr pipe: %w", err)
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		res.ExitCode = 127
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return res, fmt.Errorf("%w: %s: %v", ErrToolNotFound, res.Command[0], err)
		}
		return res, fmt.Errorf("start %s: %w", res.Command[0], err)
	}

	limit := c.CaptureLimit
	if limit <= 0 {
		limit = DefaultCaptureLimit
	}
	outTail := newTailBuffer(limit)
	errTail := newTailBuffer(limit)
	var mu sync.Mutex

	read := func(stream OutputStream, r io.Reader, tail *tailBuffer, full io.Writer) error {
		scanner := bufio.NewScanner(r)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			tail.add(line)
			if logW != nil {
				_, _ = io.WriteString(logW, line+"\n")
			}
			mu.Unlock()
			if full != nil {
				_, _ = io.WriteString(full, line+"\n")
			}
			if c.OnLine != nil {
				c.OnLine(req, stream, line)
			}
		}
		err := scanner.Err()
		// keep the pipe drained so the tool never blocks on a full buffer
		_, _ = io.Copy(io.Discard, r)
		return err
	}

	var g errgroup.Group
	g.Go(func() error { return read(StreamStdout, stdoutPipe, outTail, nil) })
	g.Go(func() error { return read(StreamStderr, stderrPipe, errTail, errLogW) })

	readersDone := make(chan struct{})
	go func() {
		select {
		case <-readersDone:
			return
		case <-runCtx.Done():
		}
		// a descendant outside the process group may still hold the pipes open
		select {
		case <-readersDone:
		case <-time.After(c.killGrace()):
			_ = stdoutPipe.Close()
			_ = stderrPipe.Close()
		}
	}()
	_ = g.Wait()
	close(readersDone)
	waitErr := cmd.Wait()

	res.Duration = time.Since(started)
	res.Stdout = outTail.String()
	res.Stderr = errTail.String()
	res.StderrTruncated = errTail.truncated
	if logW != nil {
		_, _ = fmt.Fprintf(logW, "# finished_at: %s\n# duration: %s\n", time.Now().UTC().Format(time.RFC3339), res.Duration.Round(time.Millisecond))
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		res.TimedOut = true
		res.ExitCode = -1
		return res, fmt.Errorf("%w after %s", ErrTimeout, c.Timeout)
	}
	if ctx.Err() != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("invocation canceled: %w", ctx.Err())
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, &ExitError{Executable: res.Command[0], Code: res.ExitCode, LastLine: errTail.lastNonBlank()}
		}
		res.ExitCode = -1
		return res, fmt.Errorf("wait for %s: %w", res.Command[0], waitErr)
	}

	if err := os.Remove(res.IndexPath); err != nil && !os.IsNotExist(err) {
		return res, fmt.Errorf("remove index artifact: %w", err)
	}
	return res, nil
}

func (c *Client) killGrace() time.Duration {
	if c.KillGrace > 0 {
		return c.KillGrace
	}
	return DefaultKillGrace
}

type DependencyReport struct {
	Executable string `json:"executable"`
	Found      bool   `json:"found"`
	Path       string `json:"path,omitempty"`
}

func DependencyStatus(executable string) DependencyReport {
	if strings.TrimSpace(executable) == "" {
		executable = DefaultExecutable
	}
	report := DependencyReport{Executable: executable}
	if path, err := exec.LookPath(executable); err == nil {
		report.Found = true
		report.Path = path
	}
	return report
}

func CheckDependencies(executable string) error {
	report := DependencyStatus(executable)
	if !report.Found {
		return fmt.Errorf("%w: %s is not installed or not on PATH", ErrToolNotFound, report.Executable)
	}
	return nil
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// tailBuffer keeps the most recent lines within a byte budget.
type tailBuffer struct {
	limit     int
	lines     []string
	size      int
	truncated bool
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) add(line string) {
	if len(line) > b.limit {
		line = line[len(line)-b.limit:]
		b.truncated = true
	}
	b.lines = append(b.lines, line)
	b.size += len(line) + 1
	drop := 0
	for b.size > b.limit && drop < len(b.lines)-1 {
		b.size -= len(b.lines[drop]) + 1
		drop++
	}
	if drop > 0 {
		b.lines = append([]string(nil), b.lines[drop:]...)
		b.truncated = true
	}
}

func (b *tailBuffer) String() string {
	if len(b.lines) == 0 {
		return ""
	}
	return strings.Join(b.lines, "\n") + "\n"
}

func (b *tailBuffer) lastNonBlank() string {
	for i := len(b.lines) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(b.lines[i]); s != "" {
			return s
		}
	}
	return ""
}

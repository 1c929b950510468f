package runstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	LockDirName   = ".dockrun.lock"
	lockOwnerFile = "owner.json"
)

var ErrLocked = errors.New("output directory is locked by another dockrun process")

type RunLock struct {
	lockDir string
}

type LockOwner struct {
	PID       int    `json:"pid"`
	RunID     string `json:"run_id,omitempty"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

// AcquireRunLock takes an exclusive lock on outputDir. A lock left behind by a
// dead process on this host is reclaimed.
func AcquireRunLock(outputDir, runID string) (RunLock, error) {
	target := strings.TrimSpace(outputDir)
	if target == "" {
		return RunLock{}, fmt.Errorf("output directory is required")
	}
	if err := Mkdir(target); err != nil {
		return RunLock{}, err
	}

	lockDir := filepath.Join(target, LockDirName)
	if err := os.Mkdir(lockDir, 0o755); err != nil {
		if !os.IsExist(err) {
			return RunLock{}, fmt.Errorf("acquire run lock for %s: %w", target, err)
		}
		owner, readErr := ReadLockOwner(target)
		if readErr == nil && isStale(owner) {
			if rmErr := os.RemoveAll(lockDir); rmErr != nil {
				return RunLock{}, fmt.Errorf("reclaim stale lock %s: %w", lockDir, rmErr)
			}
			return AcquireRunLock(outputDir, runID)
		}
		if readErr == nil && owner.PID > 0 {
			return RunLock{}, fmt.Errorf(
				"%w: %s (pid=%d run=%s created_at=%s host=%s)",
				ErrLocked, target, owner.PID, owner.RunID, owner.CreatedAt, owner.Hostname,
			)
		}
		return RunLock{}, fmt.Errorf("%w: %s", ErrLocked, target)
	}

	owner := LockOwner{
		PID:       os.Getpid(),
		RunID:     runID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	if err := WriteJSON(filepath.Join(lockDir, lockOwnerFile), owner); err != nil {
		_ = os.RemoveAll(lockDir)
		return RunLock{}, fmt.Errorf("write run lock owner for %s: %w", target, err)
	}

	return RunLock{lockDir: lockDir}, nil
}

// ReadLockOwner returns the owner of the lock on outputDir, if any.
func ReadLockOwner(outputDir string) (LockOwner, error) {
	var owner LockOwner
	err := ReadJSON(filepath.Join(outputDir, LockDirName, lockOwnerFile), &owner)
	return owner, err
}

func (l RunLock) Release() error {
	if strings.TrimSpace(l.lockDir) == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.lockDir, lockOwnerFile))
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release run lock %s: %w", l.lockDir, err)
	}
	return nil
}

func isStale(owner LockOwner) bool {
	if owner.PID <= 0 || owner.Hostname != hostnameOrUnknown() {
		return false
	}
	return !processAlive(owner.PID)
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}

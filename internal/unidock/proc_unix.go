//go:build unix

package unidock

import (
	"os/exec"
	"syscall"
)

// configureProcess starts the tool in its own process group so a terminal
// interrupt does not reach it, and so a timeout kills every descendant.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}

//go:build !unix

package unidock

import "os/exec"

func configureProcess(*exec.Cmd) {}

//go:build !windows

package main

import (
	"os/exec"
	"syscall"
)

// detach runs the server in its own process group, away from the CLI terminal
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

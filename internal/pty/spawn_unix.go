//go:build !windows

package pty

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr makes the child a session leader with the slave
// (its stdin) as controlling terminal, so closing the master hangs it up.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
	}
}

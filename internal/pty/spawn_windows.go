//go:build windows

package pty

import "os/exec"

// creack/pty has no Windows backend; New fails before Spawn is reachable.
func configureSysProcAttr(cmd *exec.Cmd) {}

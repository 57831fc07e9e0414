//go:build !windows

package pty

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// pollable returns a master backed by the runtime poller. creack/pty reaches
// the master through Fd(), which leaves it in blocking mode; a blocking read
// pins the descriptor so Close could not release it while the child is idle.
// The original file is closed.
func pollable(master *os.File) (*os.File, error) {
	fd, err := syscall.Dup(int(master.Fd()))
	if err != nil {
		return nil, fmt.Errorf("dup master: %w", err)
	}
	if err := syscall.SetNonblock(fd, true); err != nil {
		_ = syscall.Close(fd)
		return nil, fmt.Errorf("set master nonblocking: %w", err)
	}
	name := master.Name()
	_ = master.Close()
	return os.NewFile(uintptr(fd), name), nil
}

// setWinsize applies a window size without touching Fd().
func setWinsize(f *os.File, cols, rows uint16) error {
	return control(f, func(fd int) error {
		return unix.IoctlSetWinsize(fd, unix.TIOCSWINSZ, &unix.Winsize{Col: cols, Row: rows})
	})
}

func getWinsize(f *os.File) (cols, rows uint16, err error) {
	err = control(f, func(fd int) error {
		ws, err := unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ)
		if err != nil {
			return err
		}
		cols, rows = ws.Col, ws.Row
		return nil
	})
	return cols, rows, err
}

func control(f *os.File, fn func(fd int) error) error {
	rc, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var opErr error
	if err := rc.Control(func(fd uintptr) { opErr = fn(int(fd)) }); err != nil {
		return err
	}
	return opErr
}

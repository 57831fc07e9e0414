package pty

import "errors"

// Sentinel errors for PTY operations. Operation errors wrap one of these
// together with the underlying cause, so callers test with errors.Is.
var (
	// ErrPtyOpenFailed indicates the OS could not allocate a PTY pair.
	ErrPtyOpenFailed = errors.New("pty open failed")

	// ErrSpawnFailed indicates the child process could not be started.
	ErrSpawnFailed = errors.New("pty spawn failed")

	// ErrReaderSetupFailed indicates the read loop could not be started.
	ErrReaderSetupFailed = errors.New("pty reader setup failed")

	// ErrWriteFailed indicates input could not be written to the PTY.
	ErrWriteFailed = errors.New("pty write failed")

	// ErrResizeFailed indicates the window size could not be applied.
	ErrResizeFailed = errors.New("pty resize failed")

	// ErrInvalidSize indicates a zero column or row count.
	ErrInvalidSize = errors.New("cols and rows must be greater than zero")

	// ErrClosed indicates the engine has already been closed.
	ErrClosed = errors.New("pty engine closed")
)

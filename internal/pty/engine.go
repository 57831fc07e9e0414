package pty

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"

	"github.com/asheshgoplani/clutch/internal/logging"
)

var ptyLog = logging.ForComponent(logging.CompPTY)

// ReadChunkSize is the size of each read from the PTY master.
const ReadChunkSize = 8 * 1024

// Engine owns one PTY pair and at most one child process attached to it.
//
// Closing the engine closes both ends of the PTY. The kernel then hangs up the
// child's controlling terminal, which ends the child and unblocks the read loop.
// No signal is sent explicitly.
type Engine struct {
	label string

	mu            sync.Mutex
	master        *os.File
	slave         *os.File // held until Spawn hands it to the child
	cmd           *exec.Cmd
	readerStarted bool
	closed        bool

	writeMu sync.Mutex

	done chan struct{} // closed when the child has been reaped
}

// Option configures an Engine.
type Option func(*Engine)

// WithLabel tags the engine's log records (normally the session id).
func WithLabel(label string) Option {
	return func(e *Engine) { e.label = label }
}

// New allocates a PTY pair sized cols x rows.
func New(cols, rows uint16, opts ...Option) (*Engine, error) {
	if cols == 0 || rows == 0 {
		return nil, fmt.Errorf("%w: %w (cols=%d rows=%d)", ErrPtyOpenFailed, ErrInvalidSize, cols, rows)
	}

	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPtyOpenFailed, err)
	}
	master, err = pollable(master)
	if err != nil {
		_ = slave.Close()
		return nil, fmt.Errorf("%w: %w", ErrPtyOpenFailed, err)
	}
	if err := setWinsize(master, cols, rows); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, fmt.Errorf("%w: set initial size: %w", ErrPtyOpenFailed, err)
	}

	e := &Engine{
		master: master,
		slave:  slave,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Spawn starts the child process on the slave side.
func (e *Engine) Spawn(opts SpawnOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return fmt.Errorf("%w: %w", ErrSpawnFailed, ErrClosed)
	}
	if e.cmd != nil {
		return fmt.Errorf("%w: child already attached (pid %d)", ErrSpawnFailed, e.cmd.Process.Pid)
	}

	shell := ResolveShell(opts.FallbackShell)
	args, dir := shellArgs(opts)

	cmd := exec.Command(shell, args...)
	cmd.Dir = dir
	cmd.Env = buildEnv(os.Environ(), shell, opts.Env)
	cmd.Stdin = e.slave
	cmd.Stdout = e.slave
	cmd.Stderr = e.slave
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSpawnFailed, shell, err)
	}

	// The child holds its own copy of the slave. Dropping ours lets the master
	// see EOF/EIO once the child (and anything it forked) is gone.
	_ = e.slave.Close()
	e.slave = nil
	e.cmd = cmd

	go func() {
		err := cmd.Wait()
		ptyLog.Debug("child_reaped",
			slog.String("session_id", e.label),
			slog.Int("pid", cmd.Process.Pid),
			slog.Any("wait", err))
		close(e.done)
	}()

	ptyLog.Info("child_spawned",
		slog.String("session_id", e.label),
		slog.String("shell", shell),
		slog.Int("pid", cmd.Process.Pid),
		slog.Bool("with_command", opts.Command != ""))
	return nil
}

// StartReader launches the read loop. onData receives framed UTF-8 text in
// the order the child produced it. onExit is called exactly once when the
// loop ends, after which onData is never called again.
func (e *Engine) StartReader(onData func(string), onExit func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return fmt.Errorf("%w: %w", ErrReaderSetupFailed, ErrClosed)
	}
	if e.readerStarted {
		return fmt.Errorf("%w: reader already running", ErrReaderSetupFailed)
	}
	if onData == nil || onExit == nil {
		return fmt.Errorf("%w: callbacks are required", ErrReaderSetupFailed)
	}
	e.readerStarted = true

	go e.readLoop(e.master, onData, onExit)
	return nil
}

func (e *Engine) readLoop(r io.Reader, onData func(string), onExit func()) {
	defer onExit()

	var carry Utf8Carry
	buf := make([]byte, ReadChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if text := carry.Feed(buf[:n]); text != "" {
				logging.Aggregate(logging.CompPTY, "pty_chunk", slog.String("session_id", e.label))
				onData(text)
			}
		}
		if err == nil {
			if n == 0 {
				ptyLog.Debug("pty_eof", slog.String("session_id", e.label))
				return
			}
			continue
		}
		if isHangup(err) {
			ptyLog.Debug("pty_hangup", slog.String("session_id", e.label), slog.String("reason", err.Error()))
			return
		}
		ptyLog.Warn("pty_read_failed", slog.String("session_id", e.label), slog.String("error", err.Error()))
		return
	}
}

// isHangup reports read errors that mean the other side of the PTY is gone:
// EOF (macOS), EIO (Linux once every slave fd is closed), or our own Close.
func isHangup(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.EIO) ||
		errors.Is(err, os.ErrClosed)
}

// Write writes data in full. Concurrent calls are serialized; one call's
// bytes are never interleaved with another's.
func (e *Engine) Write(data string) error {
	master, err := e.liveMaster()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	// *os.File.Write loops until all bytes are written or an error occurs,
	// and a PTY master has no user-space buffer to flush.
	if _, err := master.Write([]byte(data)); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// Resize applies a new window size. Zero dimensions are rejected without
// touching the PTY. Safe before Spawn and after the child exited.
func (e *Engine) Resize(cols, rows uint16) error {
	if cols == 0 || rows == 0 {
		return fmt.Errorf("%w: %w (cols=%d rows=%d)", ErrResizeFailed, ErrInvalidSize, cols, rows)
	}
	master, err := e.liveMaster()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrResizeFailed, err)
	}
	if err := setWinsize(master, cols, rows); err != nil {
		return fmt.Errorf("%w: %w", ErrResizeFailed, err)
	}
	return nil
}

// Size returns the current window size as seen by the PTY.
func (e *Engine) Size() (cols, rows uint16, err error) {
	master, err := e.liveMaster()
	if err != nil {
		return 0, 0, err
	}
	return getWinsize(master)
}

// Pid returns the child's process id, or 0 before Spawn.
func (e *Engine) Pid() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd == nil || e.cmd.Process == nil {
		return 0
	}
	return e.cmd.Process.Pid
}

// Done is closed once the spawned child has exited and been reaped.
// It never closes if Spawn was not called.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Close releases both PTY ends. It is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	var firstErr error
	if e.slave != nil {
		if err := e.slave.Close(); err != nil {
			firstErr = err
		}
		e.slave = nil
	}
	if err := e.master.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	ptyLog.Debug("pty_closed", slog.String("session_id", e.label))
	return firstErr
}

func (e *Engine) liveMaster() (*os.File, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	return e.master, nil
}

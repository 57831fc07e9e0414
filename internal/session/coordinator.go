package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/asheshgoplani/clutch/internal/activity"
	"github.com/asheshgoplani/clutch/internal/logging"
	"github.com/asheshgoplani/clutch/internal/pty"
)

var sessLog = logging.ForComponent(logging.CompSession)

// Environment variables handed to every child so its hook integration can
// find the session's status file.
const (
	EnvSessionID  = "CLUTCH_SESSION_ID"
	EnvStatusFile = "CLUTCH_STATUS_FILE"
)

// WorkdirResolver maps a requested working directory to the one the session
// should actually start in, e.g. a provisioned worktree.
type WorkdirResolver interface {
	ResolveWorkdir(sessionID, dir string) (string, error)
}

// ActivityTracker is the part of the poller the coordinator needs.
type ActivityTracker interface {
	Forget(sessionID string)
}

// Request is a create or restart request from a caller.
type Request struct {
	ID      string
	Cols    uint16
	Rows    uint16
	Dir     string
	Command string
	Env     []pty.EnvVar
}

// Coordinator keeps the registry and the signal store in step.
type Coordinator struct {
	registry *Registry
	store    *activity.SignalStore
	tracker  ActivityTracker
	resolver WorkdirResolver

	locks idLocks

	mu       sync.Mutex
	shutdown bool
}

// idLocks serializes lifecycle operations per session id. Entries live only
// while someone holds or waits for them.
type idLocks struct {
	mu sync.Mutex
	m  map[string]*idLock
}

type idLock struct {
	mu   sync.Mutex
	refs int
}

func (l *idLocks) lock(id string) (unlock func()) {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*idLock)
	}
	il, ok := l.m[id]
	if !ok {
		il = &idLock{}
		l.m[id] = il
	}
	il.refs++
	l.mu.Unlock()

	il.mu.Lock()
	return func() {
		il.mu.Unlock()
		l.mu.Lock()
		il.refs--
		if il.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithWorkdirResolver installs a resolver. The default keeps the directory as given.
func WithWorkdirResolver(res WorkdirResolver) CoordinatorOption {
	return func(c *Coordinator) { c.resolver = res }
}

// WithActivityTracker lets the coordinator reset the poller's view of a
// session whenever its status file is reseeded.
func WithActivityTracker(t ActivityTracker) CoordinatorOption {
	return func(c *Coordinator) { c.tracker = t }
}

func NewCoordinator(registry *Registry, store *activity.SignalStore, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{registry: registry, store: store}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return ErrShutdown
	}
	return nil
}

// CreateSession seeds the signal directory and starts the PTY. Creating an
// id that is already active is a no-op and leaves its status untouched.
func (c *Coordinator) CreateSession(req Request) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	unlock := c.locks.lock(req.ID)
	defer unlock()

	if c.registry.Has(req.ID) {
		return nil
	}
	return c.start(req, true)
}

// RestartSession replaces the session's PTY. The signal directory is kept
// and its status reset.
func (c *Coordinator) RestartSession(req Request) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	unlock := c.locks.lock(req.ID)
	defer unlock()

	c.registry.Destroy(req.ID)
	sessLog.Info("session_restarting", slog.String("session_id", req.ID))
	return c.start(req, false)
}

// start reseeds the signal directory and creates the registry entry. When the
// registry refuses, a directory created here is removed again. Callers hold
// the id's lifecycle lock, so no other live entry can own that directory.
func (c *Coordinator) start(req Request, fresh bool) error {
	if err := c.store.CreateSessionDir(req.ID); err != nil {
		return err
	}
	if c.tracker != nil {
		c.tracker.Forget(req.ID)
	}

	statusPath, err := c.store.StatusPath(req.ID)
	if err == nil {
		var spec Spec
		spec, err = c.spec(req, statusPath)
		if err == nil {
			err = c.registry.Create(spec)
		}
	}
	if err != nil {
		if rmErr := c.store.RemoveSessionDir(req.ID); rmErr != nil {
			sessLog.Warn("signal_dir_cleanup_failed", slog.String("session_id", req.ID), slog.String("error", rmErr.Error()))
		}
		return err
	}

	sessLog.Info("session_started",
		slog.String("session_id", req.ID),
		slog.Bool("restart", !fresh))
	return nil
}

func (c *Coordinator) spec(req Request, statusPath string) (Spec, error) {
	dir := req.Dir
	if c.resolver != nil && dir != "" {
		resolved, err := c.resolver.ResolveWorkdir(req.ID, dir)
		if err != nil {
			return Spec{}, fmt.Errorf("resolve workdir for %s: %w", req.ID, err)
		}
		dir = resolved
	}

	env := make([]pty.EnvVar, 0, len(req.Env)+2)
	env = append(env,
		pty.EnvVar{Key: EnvSessionID, Value: req.ID},
		pty.EnvVar{Key: EnvStatusFile, Value: statusPath},
	)
	env = append(env, req.Env...)

	return Spec{
		ID:      req.ID,
		Cols:    req.Cols,
		Rows:    req.Rows,
		Dir:     dir,
		Command: req.Command,
		Env:     env,
	}, nil
}

// DestroySession closes the PTY and removes the signal directory. Absent ids
// are not an error.
func (c *Coordinator) DestroySession(id string) error {
	unlock := c.locks.lock(id)
	defer unlock()

	c.registry.Destroy(id)
	if c.tracker != nil {
		c.tracker.Forget(id)
	}
	if err := c.store.RemoveSessionDir(id); err != nil {
		if errors.Is(err, activity.ErrInvalidSessionID) {
			return nil
		}
		sessLog.Warn("signal_dir_remove_failed", slog.String("session_id", id), slog.String("error", err.Error()))
	}
	return nil
}

// Write forwards input to the session.
func (c *Coordinator) Write(id, data string) error {
	return c.registry.Write(id, data)
}

// Resize forwards a window size change to the session.
func (c *Coordinator) Resize(id string, cols, rows uint16) error {
	return c.registry.Resize(id, cols, rows)
}

// Sessions lists active sessions.
func (c *Coordinator) Sessions() []Info {
	return c.registry.List()
}

// Shutdown closes every PTY and removes every signal directory, including
// ones left on disk by earlier runs. Calls after the first do nothing.
func (c *Coordinator) Shutdown() error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	c.mu.Unlock()

	closed := c.registry.ClearAll()
	err := c.store.RemoveAll()
	sessLog.Info("coordinator_shutdown", slog.Int("sessions_closed", closed))
	return err
}

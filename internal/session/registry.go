package session

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/asheshgoplani/clutch/internal/logging"
	"github.com/asheshgoplani/clutch/internal/pty"
)

var regLog = logging.ForComponent(logging.CompRegistry)

// Spec describes a session to create.
type Spec struct {
	ID      string
	Cols    uint16
	Rows    uint16
	Dir     string
	Command string
	Env     []pty.EnvVar
}

// Info is a snapshot of one registered session.
type Info struct {
	ID        string    `json:"id"`
	Cols      uint16    `json:"cols"`
	Rows      uint16    `json:"rows"`
	Dir       string    `json:"dir,omitempty"`
	Command   string    `json:"command,omitempty"`
	Pid       int       `json:"pid"`
	Starting  bool      `json:"starting,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// entry is a map slot. engine is nil while the id is reserved and the child
// is still being started outside the lock.
type entry struct {
	spec    Spec
	engine  *pty.Engine
	created time.Time
}

// Registry owns every live PtyEngine, keyed by session id. One mutex guards
// the map; it is never held across PTY I/O.
type Registry struct {
	bus           *EventBus
	fallbackShell string

	mu       sync.Mutex
	sessions map[string]*entry
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithFallbackShell sets the shell used when $SHELL is unset.
func WithFallbackShell(shell string) RegistryOption {
	return func(r *Registry) { r.fallbackShell = shell }
}

// NewRegistry creates an empty registry publishing data and exit events to bus.
func NewRegistry(bus *EventBus, opts ...RegistryOption) *Registry {
	r := &Registry{
		bus:      bus,
		sessions: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create starts a session. An id that is already present (or being started)
// makes this a successful no-op. On failure nothing stays registered.
func (r *Registry) Create(spec Spec) error {
	ent := &entry{spec: spec, created: time.Now()}

	r.mu.Lock()
	if _, exists := r.sessions[spec.ID]; exists {
		r.mu.Unlock()
		regLog.Debug("session_create_noop", slog.String("session_id", spec.ID))
		return nil
	}
	r.sessions[spec.ID] = ent
	r.mu.Unlock()

	engine, err := r.start(ent)
	if err != nil {
		r.mu.Lock()
		if r.sessions[spec.ID] == ent {
			delete(r.sessions, spec.ID)
		}
		r.mu.Unlock()
		regLog.Warn("session_create_failed", slog.String("session_id", spec.ID), slog.String("error", err.Error()))
		return err
	}

	r.mu.Lock()
	stillOurs := r.sessions[spec.ID] == ent
	if stillOurs {
		ent.engine = engine
	}
	r.mu.Unlock()

	if !stillOurs {
		// Destroyed (or exited) while starting.
		_ = engine.Close()
		regLog.Debug("session_create_superseded", slog.String("session_id", spec.ID))
		return nil
	}

	regLog.Info("session_created",
		slog.String("session_id", spec.ID),
		slog.Int("cols", int(spec.Cols)),
		slog.Int("rows", int(spec.Rows)),
		slog.Int("pid", engine.Pid()))
	return nil
}

// start allocates, spawns and starts reading. Any failure closes the engine.
func (r *Registry) start(ent *entry) (*pty.Engine, error) {
	id := ent.spec.ID

	engine, err := pty.New(ent.spec.Cols, ent.spec.Rows, pty.WithLabel(id))
	if err != nil {
		return nil, err
	}
	err = engine.Spawn(pty.SpawnOptions{
		Dir:           ent.spec.Dir,
		Command:       ent.spec.Command,
		Env:           ent.spec.Env,
		FallbackShell: r.fallbackShell,
	})
	if err == nil {
		err = engine.StartReader(
			func(text string) {
				r.bus.Publish(Event{Type: EventData, SessionID: id, Data: text})
			},
			func() { r.handleExit(ent, engine) },
		)
	}
	if err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	return engine, nil
}

// handleExit runs when an engine's read loop ends. Only the natural end of a
// still-registered session produces an exit event; destroy and restart have
// already removed the entry.
func (r *Registry) handleExit(ent *entry, engine *pty.Engine) {
	id := ent.spec.ID

	r.mu.Lock()
	current := r.sessions[id] == ent
	if current {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	_ = engine.Close()
	if !current {
		return
	}
	regLog.Info("session_exited", slog.String("session_id", id))
	r.bus.Publish(Event{Type: EventExit, SessionID: id})
}

// Destroy removes and closes a session. Absent ids are not an error.
func (r *Registry) Destroy(id string) {
	r.mu.Lock()
	ent, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	if ent.engine != nil {
		_ = ent.engine.Close()
	}
	regLog.Info("session_destroyed", slog.String("session_id", id))
}

// Restart destroys spec.ID then creates it again from spec.
func (r *Registry) Restart(spec Spec) error {
	r.Destroy(spec.ID)
	return r.Create(spec)
}

func (r *Registry) lookup(id string) (*pty.Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ent, ok := r.sessions[id]
	if !ok || ent.engine == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return ent.engine, nil
}

// Write sends data to the session's PTY.
func (r *Registry) Write(id, data string) error {
	engine, err := r.lookup(id)
	if err != nil {
		return err
	}
	return engine.Write(data)
}

// Resize changes the session's window size.
func (r *Registry) Resize(id string, cols, rows uint16) error {
	engine, err := r.lookup(id)
	if err != nil {
		return err
	}
	if err := engine.Resize(cols, rows); err != nil {
		return err
	}

	r.mu.Lock()
	if ent, ok := r.sessions[id]; ok && ent.engine == engine {
		ent.spec.Cols, ent.spec.Rows = cols, rows
	}
	r.mu.Unlock()
	return nil
}

// ClearAll closes every session and returns how many there were.
func (r *Registry) ClearAll() int {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()

	for _, ent := range all {
		if ent.engine != nil {
			_ = ent.engine.Close()
		}
	}
	if len(all) > 0 {
		regLog.Info("sessions_cleared", slog.Int("count", len(all)))
	}
	return len(all)
}

// Has reports whether id is registered (running or starting).
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	return ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// List returns a snapshot sorted by id.
func (r *Registry) List() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.sessions))
	engines := make([]*pty.Engine, 0, len(r.sessions))
	for id, ent := range r.sessions {
		out = append(out, Info{
			ID:        id,
			Cols:      ent.spec.Cols,
			Rows:      ent.spec.Rows,
			Dir:       ent.spec.Dir,
			Command:   ent.spec.Command,
			Starting:  ent.engine == nil,
			CreatedAt: ent.created,
		})
		engines = append(engines, ent.engine)
	}
	r.mu.Unlock()

	for i, engine := range engines {
		if engine != nil {
			out[i].Pid = engine.Pid()
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

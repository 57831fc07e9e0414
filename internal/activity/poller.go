package activity

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/asheshgoplani/clutch/internal/logging"
)

var pollLog = logging.ForComponent(logging.CompPoller)

const (
	// DefaultPollInterval is the fixed scan period.
	DefaultPollInterval = 500 * time.Millisecond

	// wakeDelay coalesces the burst of events a single hook write produces
	// (truncate, write, chmod) into one scan.
	wakeDelay = 50 * time.Millisecond
)

// Change is one observed activity transition.
type Change struct {
	SessionID string
	State     State
	Token     string
}

// Poller scans a SignalStore and reports activity transitions. One goroutine
// runs the loop; Forget and Current may be called from anywhere.
type Poller struct {
	store    *SignalStore
	onChange func(Change)
	interval time.Duration

	useFsnotify bool
	limiter     *rate.Limiter
	watched     map[string]bool // session dirs under watch; Run goroutine only

	mu       sync.Mutex
	lastSeen map[string]string // session id -> trimmed raw content
	current  map[string]State  // session id -> last classified state
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithInterval overrides DefaultPollInterval. Non-positive values are ignored.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithFsnotify enables early scans on filesystem events.
func WithFsnotify(enabled bool) PollerOption {
	return func(p *Poller) { p.useFsnotify = enabled }
}

// NewPoller creates a poller over store. onChange is called from the poller
// goroutine, once per distinct non-empty status content that classifies.
func NewPoller(store *SignalStore, onChange func(Change), opts ...PollerOption) *Poller {
	p := &Poller{
		store:    store,
		onChange: onChange,
		interval: DefaultPollInterval,
		watched:  make(map[string]bool),
		lastSeen: make(map[string]string),
		current:  make(map[string]State),
	}
	for _, opt := range opts {
		opt(p)
	}
	// At most ~10 event-driven scans per second on top of the ticker.
	p.limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 2)
	return p
}

// Run seeds from the store's current contents, then scans every interval
// until ctx is done. It returns nil on cancellation.
func (p *Poller) Run(ctx context.Context) error {
	p.seed()

	var (
		events  <-chan fsnotify.Event
		errs    <-chan error
		watcher *fsnotify.Watcher
	)
	if p.useFsnotify {
		w, err := fsnotify.NewWatcher()
		if err == nil {
			err = w.Add(p.store.Root())
			if err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			pollLog.Warn("poller_fsnotify_unavailable", slog.String("root", p.store.Root()), slog.String("error", err.Error()))
		} else {
			watcher = w
			defer watcher.Close()
			events, errs = watcher.Events, watcher.Errors
			p.syncWatches(watcher, p.knownIDs())
		}
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	wake := time.NewTimer(wakeDelay)
	if !wake.Stop() {
		<-wake.C
	}
	defer wake.Stop()

	pollLog.Info("poller_started",
		slog.String("root", p.store.Root()),
		slog.Duration("interval", p.interval),
		slog.Bool("fsnotify", watcher != nil))

	for {
		select {
		case <-ctx.Done():
			pollLog.Info("poller_stopped")
			return nil

		case <-ticker.C:
			p.scan(watcher)

		case <-wake.C:
			p.scan(watcher)

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if ev.Has(fsnotify.Create) && filepath.Dir(ev.Name) == p.store.Root() {
				p.syncWatches(watcher, append(p.knownIDs(), filepath.Base(ev.Name)))
			}
			if p.limiter.Allow() {
				wake.Reset(wakeDelay)
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			pollLog.Warn("poller_fsnotify_error", slog.String("error", err.Error()))
		}
	}
}

// seed records current contents without emitting.
func (p *Poller) seed() {
	ids, err := p.store.SessionIDs()
	if err != nil {
		pollLog.Warn("poller_seed_failed", slog.String("error", err.Error()))
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		content, err := p.store.ReadStatus(id)
		if err != nil {
			pollLog.Warn("poller_seed_read_failed", slog.String("session_id", id), slog.String("error", err.Error()))
			continue
		}
		p.lastSeen[id] = content
		if state, ok := Classify(content); ok {
			p.current[id] = state
		}
	}
	pollLog.Debug("poller_seeded", slog.Int("sessions", len(ids)))
}

func (p *Poller) scan(watcher *fsnotify.Watcher) {
	ids, ok := p.poll()
	if ok && watcher != nil {
		p.syncWatches(watcher, ids)
	}
}

// poll runs one cycle and returns the enumerated ids. Changes are delivered
// after the lock is released.
func (p *Poller) poll() ([]string, bool) {
	ids, err := p.store.SessionIDs()
	if err != nil {
		pollLog.Warn("poller_enumerate_failed", slog.String("error", err.Error()))
		return nil, false
	}

	var changes []Change
	live := make(map[string]bool, len(ids))

	p.mu.Lock()
	for _, id := range ids {
		live[id] = true

		content, err := p.store.ReadStatus(id)
		if err != nil {
			pollLog.Warn("poller_read_failed", slog.String("session_id", id), slog.String("error", err.Error()))
			continue
		}
		if content == "" {
			p.lastSeen[id] = ""
			delete(p.current, id)
			continue
		}
		if prev, seen := p.lastSeen[id]; seen && prev == content {
			continue
		}
		p.lastSeen[id] = content

		state, ok := Classify(content)
		if !ok {
			pollLog.Warn("poller_unknown_token",
				slog.String("session_id", id),
				slog.String("token", newestToken(content)))
			continue
		}
		p.current[id] = state
		changes = append(changes, Change{SessionID: id, State: state, Token: newestToken(content)})
	}
	for id := range p.lastSeen {
		if !live[id] {
			delete(p.lastSeen, id)
			delete(p.current, id)
		}
	}
	p.mu.Unlock()

	for _, c := range changes {
		pollLog.Debug("activity_changed",
			slog.String("session_id", c.SessionID),
			slog.String("state", string(c.State)),
			slog.String("token", c.Token))
		if p.onChange != nil {
			p.onChange(c)
		}
	}
	return ids, true
}

// Forget drops what the poller knows about id, so the next non-empty content
// for it is reported even if it matches what was seen before.
func (p *Poller) Forget(id string) {
	p.mu.Lock()
	delete(p.lastSeen, id)
	delete(p.current, id)
	p.mu.Unlock()
}

// Current returns the last classified state of every live session, including
// states seeded at start that were never reported as changes.
func (p *Poller) Current() map[string]State {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]State, len(p.current))
	for id, state := range p.current {
		out[id] = state
	}
	return out
}

func (p *Poller) knownIDs() []string {
	ids, err := p.store.SessionIDs()
	if err != nil {
		return nil
	}
	return ids
}

// syncWatches adds watches for new session dirs and forgets vanished ones.
// fsnotify drops watches on deleted paths by itself.
func (p *Poller) syncWatches(w *fsnotify.Watcher, ids []string) {
	live := make(map[string]bool, len(ids))
	for _, id := range ids {
		live[id] = true
		if p.watched[id] {
			continue
		}
		dir := filepath.Join(p.store.Root(), id)
		if err := w.Add(dir); err != nil {
			pollLog.Debug("poller_watch_failed", slog.String("dir", dir), slog.String("error", err.Error()))
			continue
		}
		p.watched[id] = true
	}
	for id := range p.watched {
		if !live[id] {
			delete(p.watched, id)
		}
	}
}

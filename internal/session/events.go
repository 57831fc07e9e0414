package session

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asheshgoplani/clutch/internal/activity"
)

// EventType names the kind of Event.
type EventType string

const (
	EventData     EventType = "data"
	EventExit     EventType = "exit"
	EventActivity EventType = "activity"
)

// DefaultSubscriberBuffer is the channel capacity used when Subscribe is
// given a non-positive size.
const DefaultSubscriberBuffer = 1024

// Event is one caller-visible notification.
type Event struct {
	Type      EventType
	SessionID string
	Data      string         // EventData only
	Activity  activity.State // EventActivity only
	Time      time.Time
}

// Subscription is one consumer of the bus. Its channel closes on Cancel, on
// bus Close, or when the bus evicts it; Err tells the last case apart.
type Subscription struct {
	bus     *EventBus
	id      int
	ch      chan Event
	once    sync.Once
	evicted atomic.Bool
}

// Events returns the delivery channel.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Cancel stops delivery and closes the channel. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		if s.bus != nil {
			s.bus.remove(s.id)
		}
	})
}

// Err returns ErrSlowSubscriber once the bus has evicted this subscription.
func (s *Subscription) Err() error {
	if s.evicted.Load() {
		return ErrSlowSubscriber
	}
	return nil
}

// EventBus fans events out to subscribers. Publish never blocks. Events form
// an ordered stream per subscriber with no gaps: a subscriber whose buffer is
// full is evicted instead of silently missing terminal output.
type EventBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*Subscription
	closed bool
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]*Subscription)}
}

// Subscribe registers a consumer with the given channel capacity.
func (b *EventBus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	sub := &Subscription{ch: make(chan Event, buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	sub.bus = b
	sub.id = b.nextID
	b.nextID++
	b.subs[sub.id] = sub
	return sub
}

func (b *EventBus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Publish stamps ev and delivers it to every subscriber.
func (b *EventBus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.evicted.Store(true)
			delete(b.subs, id)
			close(sub.ch)
			sessLog.Warn("subscriber_evicted",
				slog.Int("subscriber", id),
				slog.Int("buffer", cap(sub.ch)),
				slog.String("type", string(ev.Type)),
				slog.String("session_id", ev.SessionID))
		}
	}
}

// PublishActivity adapts a poller change into an activity event.
func (b *EventBus) PublishActivity(c activity.Change) {
	b.Publish(Event{Type: EventActivity, SessionID: c.SessionID, Activity: c.State})
}

// Subscribers returns the number of live subscriptions.
func (b *EventBus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription. Later Subscribe calls get a closed channel.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

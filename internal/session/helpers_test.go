package session

import (
	"strings"
	"sync"
	"testing"
	"time"
)

const waitTimeout = 10 * time.Second

// eventLog drains a subscription in the background.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func watchEvents(t *testing.T, bus *EventBus) *eventLog {
	t.Helper()
	sub := bus.Subscribe(4096)
	t.Cleanup(sub.Cancel)

	l := &eventLog{}
	go func() {
		for ev := range sub.Events() {
			l.mu.Lock()
			l.events = append(l.events, ev)
			l.mu.Unlock()
		}
	}()
	return l
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) output(id string) string {
	var b strings.Builder
	for _, ev := range l.snapshot() {
		if ev.Type == EventData && ev.SessionID == id {
			b.WriteString(ev.Data)
		}
	}
	return b.String()
}

func (l *eventLog) count(typ EventType, id string) int {
	n := 0
	for _, ev := range l.snapshot() {
		if ev.Type == typ && ev.SessionID == id {
			n++
		}
	}
	return n
}

func (l *eventLog) waitOutput(t *testing.T, id, substr string) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if strings.Contains(l.output(id), substr) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q from %s; got %q", substr, id, l.output(id))
}

func (l *eventLog) waitCount(t *testing.T, typ EventType, id string, n int) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if l.count(typ, id) >= n {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %s events for %s", n, typ, id)
}

package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/asheshgoplani/clutch/internal/activity"
	"github.com/asheshgoplani/clutch/internal/pty"
	"github.com/asheshgoplani/clutch/internal/session"
)

// fakeSessions records calls and returns canned errors.
type fakeSessions struct {
	mu       sync.Mutex
	calls    []string
	requests []session.Request
	infos    []session.Info
	err      error
}

func (f *fakeSessions) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeSessions) CreateSession(req session.Request) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.record("create:" + req.ID)
}

func (f *fakeSessions) RestartSession(req session.Request) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.record("restart:" + req.ID)
}

func (f *fakeSessions) DestroySession(id string) error { return f.record("destroy:" + id) }

func (f *fakeSessions) Write(id, data string) error { return f.record("write:" + id + ":" + data) }

func (f *fakeSessions) Resize(id string, cols, rows uint16) error {
	return f.record(fmt.Sprintf("resize:%s:%dx%d", id, cols, rows))
}

func (f *fakeSessions) Sessions() []session.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.Info(nil), f.infos...)
}

func (f *fakeSessions) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeActivity map[string]activity.State

func (f fakeActivity) Current() map[string]activity.State {
	out := make(map[string]activity.State, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func newTestServer(cfg Config, svc SessionService, act ActivitySource) (*Server, *session.EventBus) {
	bus := session.NewEventBus()
	return NewServer(cfg, svc, bus, act), bus
}

func TestHealthzEndpoint(t *testing.T) {
	svc := &fakeSessions{infos: []session.Info{{ID: "a"}, {ID: "b"}}}
	srv, _ := newTestServer(Config{}, svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `"ok":true`) {
		t.Fatalf("expected ok=true, got: %s", body)
	}
	if !strings.Contains(body, `"sessions":2`) {
		t.Fatalf("expected session count, got: %s", body)
	}
}

func TestHealthzMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(Config{}, &fakeSessions{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rr.Code)
	}
}

func TestDefaults(t *testing.T) {
	srv, _ := newTestServer(Config{}, &fakeSessions{}, nil)
	if srv.Addr() != DefaultListenAddr {
		t.Fatalf("expected default addr %q, got %q", DefaultListenAddr, srv.Addr())
	}
	if srv.cfg.DefaultCols != 80 || srv.cfg.DefaultRows != 24 {
		t.Fatalf("expected 80x24 defaults, got %dx%d", srv.cfg.DefaultCols, srv.cfg.DefaultRows)
	}
}

func TestSessionsEndpointMergesActivity(t *testing.T) {
	svc := &fakeSessions{infos: []session.Info{{ID: "a", Cols: 80, Rows: 24, Pid: 11}, {ID: "b", Pid: 12}}}
	srv, _ := newTestServer(Config{}, svc, fakeActivity{"a": activity.NeedsInput})

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp struct {
		Sessions []struct {
			ID       string `json:"id"`
			Pid      int    `json:"pid"`
			Activity string `json:"activity"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(resp.Sessions))
	}
	if resp.Sessions[0].ID != "a" || resp.Sessions[0].Activity != "needs_input" || resp.Sessions[0].Pid != 11 {
		t.Fatalf("unexpected first session: %+v", resp.Sessions[0])
	}
	if resp.Sessions[1].Activity != "" {
		t.Fatalf("expected no activity for b, got %q", resp.Sessions[1].Activity)
	}
}

func TestSessionsEndpointRequiresToken(t *testing.T) {
	srv, _ := newTestServer(Config{Token: "secret"}, &fakeSessions{}, nil)

	cases := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"missing", "/api/sessions", "", http.StatusUnauthorized},
		{"wrong query", "/api/sessions?token=nope", "", http.StatusUnauthorized},
		{"query", "/api/sessions?token=secret", "", http.StatusOK},
		{"bearer", "/api/sessions", "Bearer secret", http.StatusOK},
		{"basic", "/api/sessions", "Basic secret", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.target, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)
		if rr.Code != tc.want {
			t.Fatalf("%s: expected status %d, got %d", tc.name, tc.want, rr.Code)
		}
	}
}

func TestSessionsEndpointMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(Config{}, &fakeSessions{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "METHOD_NOT_ALLOWED") {
		t.Fatalf("expected error code in body, got %s", rr.Body.String())
	}
}

func TestErrorCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("x: %w", session.ErrSessionNotFound), "SESSION_NOT_FOUND"},
		{session.ErrShutdown, "SHUTTING_DOWN"},
		{fmt.Errorf("%w: boom", pty.ErrSpawnFailed), "SPAWN_FAILED"},
		{fmt.Errorf("%w: %w", pty.ErrResizeFailed, pty.ErrInvalidSize), "RESIZE_FAILED"},
		{pty.ErrPtyOpenFailed, "PTY_OPEN_FAILED"},
		{pty.ErrWriteFailed, "WRITE_FAILED"},
		{pty.ErrReaderSetupFailed, "READER_SETUP_FAILED"},
		{fmt.Errorf("%w: %w", activity.ErrFilesystem, activity.ErrInvalidSessionID), "INVALID_SESSION_ID"},
		{activity.ErrFilesystem, "FILESYSTEM_ERROR"},
		{errors.New("other"), "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		if got := errorCode(tc.err); got != tc.want {
			t.Fatalf("errorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestEventsStreamSkipsData(t *testing.T) {
	svc := &fakeSessions{infos: []session.Info{{ID: "s1"}}}
	srv, bus := newTestServer(Config{}, svc, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	lines := make(chan string, 64)
	go func() {
		buf := make([]byte, 4096)
		var pending string
		for {
			n, err := resp.Body.Read(buf)
			pending += string(buf[:n])
			for {
				i := strings.Index(pending, "\n")
				if i < 0 {
					break
				}
				lines <- pending[:i]
				pending = pending[i+1:]
			}
			if err != nil {
				close(lines)
				return
			}
		}
	}()

	waitLine := func(prefix string) string {
		t.Helper()
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed waiting for %q", prefix)
				}
				if strings.HasPrefix(line, prefix) {
					return line
				}
			case <-ctx.Done():
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}

	waitLine("event: sessions")
	waitForSubscribers(t, bus, 1)

	bus.Publish(session.Event{Type: session.EventData, SessionID: "s1", Data: "noise"})
	bus.Publish(session.Event{Type: session.EventActivity, SessionID: "s1", Activity: activity.Finished})

	if got := waitLine("event: "); got != "event: activity" {
		t.Fatalf("expected activity event first, got %q", got)
	}
	data := waitLine("data: ")
	if !strings.Contains(data, `"activity":"finished"`) {
		t.Fatalf("unexpected payload %q", data)
	}
}

func waitForSubscribers(t *testing.T, bus *session.EventBus, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if bus.Subscribers() >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d subscribers, have %d", n, bus.Subscribers())
}

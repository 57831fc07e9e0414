package main

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/asheshgoplani/clutch/internal/web"
)

// frameServer upgrades and writes frames, then idles until the client leaves.
func frameServer(t *testing.T, frames []web.ServerMessage) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		}
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestReadFramesCopiesDataUntilExit(t *testing.T) {
	conn := frameServer(t, []web.ServerMessage{
		{Type: web.MsgStatus, Event: "connected"},
		{Type: web.MsgAck, RequestID: createRequestID, SessionID: "s1"},
		{Type: web.MsgData, SessionID: "other", Data: "nope"},
		{Type: web.MsgData, SessionID: "s1", Data: "hello "},
		{Type: web.MsgData, SessionID: "s1", Data: "world"},
		{Type: web.MsgExit, SessionID: "s1"},
	})

	var out strings.Builder
	err := readFrames(conn, "s1", &out)
	if !errors.Is(err, errSessionExited) {
		t.Fatalf("expected errSessionExited, got %v", err)
	}
	if out.String() != "hello world" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestReadFramesReportsCreateFailure(t *testing.T) {
	conn := frameServer(t, []web.ServerMessage{
		{Type: web.MsgError, RequestID: createRequestID, SessionID: "s1", Code: "SPAWN_FAILED", Message: "no shell"},
	})

	var out strings.Builder
	err := readFrames(conn, "s1", &out)
	if err == nil || !strings.Contains(err.Error(), "SPAWN_FAILED") {
		t.Fatalf("expected create failure, got %v", err)
	}
}

func TestReadFramesStopsWhenEvictedAsSlow(t *testing.T) {
	conn := frameServer(t, []web.ServerMessage{
		{Type: web.MsgData, SessionID: "s1", Data: "partial"},
		{Type: web.MsgError, SessionID: "s1", Code: "SLOW_CONSUMER", Message: "subscriber fell behind"},
	})

	var out strings.Builder
	err := readFrames(conn, "s1", &out)
	if err == nil || !strings.Contains(err.Error(), "reattach") {
		t.Fatalf("expected a detach error, got %v", err)
	}
	if out.String() != "partial" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

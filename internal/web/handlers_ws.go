package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/asheshgoplani/clutch/internal/session"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowWSOrigin,
}

func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}

	return strings.EqualFold(originURL.Host, r.Host)
}

// wsConn is the per-connection state of /ws.
type wsConn struct {
	srv    *Server
	id     string
	filter string
	writer *wsConnWriter
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	filter := strings.TrimSpace(r.URL.Query().Get("session"))

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	c := &wsConn{
		srv:    s,
		id:     uuid.NewString(),
		filter: filter,
		writer: newWSConnWriter(conn),
	}
	log := webLog.With(slog.String("conn_id", c.id))
	log.Info("ws_connected", slog.String("remote", r.RemoteAddr), slog.String("filter", filter))

	// Subscribe before anything else so no event for a session created over
	// this connection can slip past.
	sub := s.bus.Subscribe(s.cfg.SubscriberBuffer)
	defer sub.Cancel()

	_ = c.writer.WriteJSON(ServerMessage{
		Type:         MsgStatus,
		Event:        "connected",
		ConnectionID: c.id,
		Time:         time.Now().UTC(),
	})
	c.replayActivity()

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		c.pump(sub)
	}()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-s.baseCtx.Done():
			_ = c.writer.WriteClose(websocket.CloseGoingAway, "server shutting down")
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				log.Warn("ws_closed_unexpectedly", slog.String("error", err.Error()))
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.sendError("", "", "INVALID_MESSAGE", "invalid json payload")
			continue
		}
		c.handle(msg)
	}

	sub.Cancel()
	<-pumpDone
	log.Info("ws_disconnected")
}

// replayActivity sends the current activity of every matching session, so a
// client that connects late still sees state that was seeded at startup.
func (c *wsConn) replayActivity() {
	states := c.srv.currentActivity()
	ids := make([]string, 0, len(states))
	for id := range states {
		if c.filter == "" || c.filter == id {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		_ = c.writer.WriteJSON(ServerMessage{
			Type:      MsgActivity,
			SessionID: id,
			Activity:  states[id],
			Time:      time.Now().UTC(),
		})
	}
}

// pump forwards bus events until the subscription closes. A client that
// falls behind is told why and disconnected, since the terminal stream it
// would otherwise receive has a hole in it.
func (c *wsConn) pump(sub *session.Subscription) {
	failed := false
	for ev := range sub.Events() {
		if failed || (c.filter != "" && ev.SessionID != c.filter) {
			continue
		}
		if err := c.writer.WriteJSON(eventMessage(ev)); err != nil {
			failed = true
		}
	}
	if err := sub.Err(); err != nil && !failed {
		webLog.Warn("ws_client_too_slow", slog.String("conn_id", c.id))
		c.sendError(c.filter, "", "SLOW_CONSUMER", err.Error())
		_ = c.writer.WriteClose(websocket.CloseTryAgainLater, "client too slow")
		_ = c.writer.conn.Close()
	}
}

func (c *wsConn) handle(msg ClientMessage) {
	svc := c.srv.sessions

	switch msg.Type {
	case MsgPing:
		_ = c.writer.WriteJSON(ServerMessage{
			Type:      MsgStatus,
			Event:     "pong",
			RequestID: msg.RequestID,
			Time:      time.Now().UTC(),
		})
		return

	case MsgCreate, MsgRestart:
		req, err := c.request(msg)
		if err != nil {
			c.sendError(msg.SessionID, msg.RequestID, "INVALID_REQUEST", err.Error())
			return
		}
		if msg.Type == MsgCreate {
			err = svc.CreateSession(req)
		} else {
			err = svc.RestartSession(req)
		}
		c.reply(msg, err)

	case MsgDestroy:
		if msg.SessionID == "" {
			c.sendError("", msg.RequestID, "INVALID_REQUEST", "sessionId is required")
			return
		}
		c.reply(msg, svc.DestroySession(msg.SessionID))

	case MsgInput:
		if msg.SessionID == "" {
			c.sendError("", msg.RequestID, "INVALID_REQUEST", "sessionId is required")
			return
		}
		err := svc.Write(msg.SessionID, msg.Data)
		if err != nil || msg.RequestID != "" {
			c.reply(msg, err)
		}

	case MsgResize:
		if msg.SessionID == "" {
			c.sendError("", msg.RequestID, "INVALID_REQUEST", "sessionId is required")
			return
		}
		cols, rows, err := dimensions(msg.Cols, msg.Rows)
		if err == nil {
			err = svc.Resize(msg.SessionID, cols, rows)
		}
		c.reply(msg, err)

	default:
		c.sendError(msg.SessionID, msg.RequestID, "UNSUPPORTED_MESSAGE",
			"supported message types: create,restart,destroy,input,resize,ping")
	}
}

// request builds a lifecycle request, filling in default dimensions.
func (c *wsConn) request(msg ClientMessage) (session.Request, error) {
	if msg.SessionID == "" {
		return session.Request{}, fmt.Errorf("sessionId is required")
	}
	cols, rows := msg.Cols, msg.Rows
	if cols == 0 {
		cols = int(c.srv.cfg.DefaultCols)
	}
	if rows == 0 {
		rows = int(c.srv.cfg.DefaultRows)
	}
	ucols, urows, err := dimensions(cols, rows)
	if err != nil {
		return session.Request{}, err
	}
	return session.Request{
		ID:      msg.SessionID,
		Cols:    ucols,
		Rows:    urows,
		Dir:     msg.WorkingDir,
		Command: msg.Command,
	}, nil
}

// dimensions range-checks client sizes. Zero passes through so the PTY
// layer reports it as a resize error.
func dimensions(cols, rows int) (uint16, uint16, error) {
	if cols < 0 || rows < 0 || cols > math.MaxUint16 || rows > math.MaxUint16 {
		return 0, 0, fmt.Errorf("%w: cols=%d rows=%d", errBadDimensions, cols, rows)
	}
	return uint16(cols), uint16(rows), nil
}

func (c *wsConn) reply(msg ClientMessage, err error) {
	if err != nil {
		code := errorCode(err)
		if isBadDimensions(err) {
			code = "INVALID_REQUEST"
		}
		webLog.Debug("ws_request_failed",
			slog.String("conn_id", c.id),
			slog.String("type", msg.Type),
			slog.String("session_id", msg.SessionID),
			slog.String("error", err.Error()))
		c.sendError(msg.SessionID, msg.RequestID, code, err.Error())
		return
	}
	_ = c.writer.WriteJSON(ServerMessage{
		Type:      MsgAck,
		Event:     msg.Type,
		SessionID: msg.SessionID,
		RequestID: msg.RequestID,
		Time:      time.Now().UTC(),
	})
}

func (c *wsConn) sendError(sessionID, requestID, code, message string) {
	_ = c.writer.WriteJSON(ServerMessage{
		Type:      MsgError,
		Code:      code,
		Message:   message,
		SessionID: sessionID,
		RequestID: requestID,
		Time:      time.Now().UTC(),
	})
}

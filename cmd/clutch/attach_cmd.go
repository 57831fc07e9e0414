package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/gorilla/websocket"
	"golang.org/x/term"

	"github.com/asheshgoplani/clutch/internal/config"
	"github.com/asheshgoplani/clutch/internal/web"
)

// ctrlQ detaches from an attached session.
const ctrlQ = 17

const createRequestID = "attach-create"

// wsClient serializes writes to the server connection.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(msg web.ClientMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(msg)
}

func handleAttach(args []string) error {
	cfg, _ := config.Load()

	fs := flag.NewFlagSet("attach", flag.ContinueOnError)
	id := fs.String("id", "", "Session id (default: a new ses_ id)")
	dir := fs.String("dir", "", "Working directory for a new session")
	command := fs.String("cmd", "", "Command to run before the interactive shell")
	addr := fs.String("addr", cfg.Web.Listen, "Server address")
	token := fs.String("token", cfg.Web.Token, "Bearer token")
	kill := fs.Bool("kill", false, "Destroy the session on detach")

	fs.Usage = func() {
		fmt.Println("Usage: clutch attach [options]")
		fmt.Println()
		fmt.Println("Create (or join) a session and attach this terminal. Ctrl+Q detaches.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("flag parsing: %w", err)
	}

	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		return fmt.Errorf("attach requires an interactive terminal")
	}

	sessionID := *id
	if sessionID == "" {
		sessionID = newSessionID()
	}

	wsURL, err := serverURL(*addr, "/ws", true, url.Values{"session": {sessionID}})
	if err != nil {
		return err
	}
	header := http.Header{}
	if *token != "" {
		header.Set("Authorization", "Bearer "+*token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("connect %s: %w (HTTP %d)", *addr, err, resp.StatusCode)
		}
		return fmt.Errorf("connect %s: %w", *addr, err)
	}
	defer conn.Close()
	client := &wsClient{conn: conn}

	cols, rows := localSize()
	if err := client.send(web.ClientMessage{
		Type:       web.MsgCreate,
		RequestID:  createRequestID,
		SessionID:  sessionID,
		Cols:       int(cols),
		Rows:       int(rows),
		WorkingDir: *dir,
		Command:    *command,
	}); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	oldState, err := term.MakeRaw(stdinFd)
	if err != nil {
		return fmt.Errorf("failed to set raw mode: %w", err)
	}
	restore := func() { _ = term.Restore(stdinFd, oldState) }
	defer restore()

	outcome := make(chan error, 3)
	detached := make(chan struct{})
	var detachOnce sync.Once

	// Server frames to stdout.
	go func() {
		outcome <- readFrames(conn, sessionID, os.Stdout)
	}()

	// Window size changes.
	resizeCh, stopResize := notifyResize()
	defer stopResize()
	go func() {
		for range resizeCh {
			c, r := localSize()
			_ = client.send(web.ClientMessage{Type: web.MsgResize, SessionID: sessionID, Cols: int(c), Rows: int(r)})
		}
	}()

	// Stdin to the session; Ctrl+Q detaches.
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				if err != io.EOF {
					outcome <- fmt.Errorf("stdin read error: %w", err)
				}
				return
			}
			if n == 1 && buf[0] == ctrlQ {
				detachOnce.Do(func() { close(detached) })
				return
			}
			if err := client.send(web.ClientMessage{Type: web.MsgInput, SessionID: sessionID, Data: string(buf[:n])}); err != nil {
				outcome <- fmt.Errorf("send input: %w", err)
				return
			}
		}
	}()

	var result error
	select {
	case <-detached:
		if *kill {
			_ = client.send(web.ClientMessage{Type: web.MsgDestroy, SessionID: sessionID})
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "detach"),
			time.Now().Add(time.Second))
		restore()
		if *kill {
			fmt.Printf("\r\n[destroyed %s]\r\n", sessionID)
		} else {
			fmt.Printf("\r\n[detached from %s]\r\n", sessionID)
		}
	case result = <-outcome:
		restore()
		if errors.Is(result, errSessionExited) {
			fmt.Printf("\r\n[%s exited]\r\n", sessionID)
			result = nil
		}
	}
	return result
}

var errSessionExited = errors.New("session exited")

// readFrames copies data frames for sessionID to out until the session exits
// or the connection fails.
func readFrames(conn *websocket.Conn, sessionID string, out io.Writer) error {
	for {
		var msg web.ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("server closed the connection")
			}
			return fmt.Errorf("connection lost: %w", err)
		}
		if msg.SessionID != "" && msg.SessionID != sessionID {
			continue
		}
		switch msg.Type {
		case web.MsgData:
			if _, err := io.WriteString(out, msg.Data); err != nil {
				return err
			}
		case web.MsgExit:
			return errSessionExited
		case web.MsgError:
			if msg.RequestID == createRequestID {
				return fmt.Errorf("create %s: %s (%s)", sessionID, msg.Message, msg.Code)
			}
			if msg.Code == "SLOW_CONSUMER" {
				return fmt.Errorf("detached: output outpaced this terminal, reattach to continue")
			}
		}
	}
}

// localSize returns this terminal's size, or 80x24 when unknown.
func localSize() (cols, rows uint16) {
	ws, err := pty.GetsizeFull(os.Stdin)
	if err != nil || ws.Cols == 0 || ws.Rows == 0 {
		return 80, 24
	}
	return ws.Cols, ws.Rows
}

package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/asheshgoplani/clutch/internal/activity"
	"github.com/asheshgoplani/clutch/internal/logging"
	"github.com/asheshgoplani/clutch/internal/session"
)

var webLog = logging.ForComponent(logging.CompWeb)

// DefaultListenAddr is used when Config.ListenAddr is empty.
const DefaultListenAddr = "127.0.0.1:7420"

// Config defines runtime options for the web server.
type Config struct {
	ListenAddr  string
	Token       string
	DefaultCols uint16
	DefaultRows uint16

	// SubscriberBuffer is the per-connection event queue length. Zero uses
	// session.DefaultSubscriberBuffer.
	SubscriberBuffer int
}

// SessionService is the lifecycle surface the server drives.
type SessionService interface {
	CreateSession(req session.Request) error
	RestartSession(req session.Request) error
	DestroySession(id string) error
	Write(id, data string) error
	Resize(id string, cols, rows uint16) error
	Sessions() []session.Info
}

// ActivitySource reports the latest known activity per session.
type ActivitySource interface {
	Current() map[string]activity.State
}

// Server exposes sessions over HTTP and WebSocket.
type Server struct {
	cfg        Config
	sessions   SessionService
	bus        *session.EventBus
	activity   ActivitySource
	httpServer *http.Server
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// NewServer creates a server with its routes and middleware. act may be nil.
func NewServer(cfg Config, sessions SessionService, bus *session.EventBus, act ActivitySource) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.DefaultCols == 0 {
		cfg.DefaultCols = 80
	}
	if cfg.DefaultRows == 0 {
		cfg.DefaultRows = 24
	}

	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		bus:      bus,
		activity: act,
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/sessions", s.guard(s.handleSessions))
	mux.HandleFunc("/events", s.guard(s.handleEvents))
	mux.HandleFunc("/ws", s.guard(s.handleWS))

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           withRecover(mux),
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens and blocks until shutdown or error. Returns nil on graceful shutdown.
func (s *Server) Start() error {
	webLog.Info("web_listening", slog.String("addr", s.cfg.ListenAddr), slog.Bool("auth", s.cfg.Token != ""))
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and ends long-lived streams.
func (s *Server) Shutdown(ctx context.Context) error {
	// Long-lived handlers (SSE/WS) watch baseCtx.
	s.cancelBase()

	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr != nil {
			return fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
		}
		return nil
	}
	return err
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				webLog.Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) String() string {
	return fmt.Sprintf("web-server(addr=%s, auth=%t)", s.cfg.ListenAddr, s.cfg.Token != "")
}

// currentActivity returns a copy of the poller's view, or nil without a source.
func (s *Server) currentActivity() map[string]activity.State {
	if s.activity == nil {
		return nil
	}
	return s.activity.Current()
}

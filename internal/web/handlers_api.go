package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/asheshgoplani/clutch/internal/activity"
	"github.com/asheshgoplani/clutch/internal/pty"
	"github.com/asheshgoplani/clutch/internal/session"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

// sessionView is one entry of GET /api/sessions.
type sessionView struct {
	session.Info
	Activity activity.State `json:"activity,omitempty"`
}

type sessionsResponse struct {
	Sessions []sessionView `json:"sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"sessions": len(s.sessions.Sessions()),
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessionViews())
}

func (s *Server) sessionViews() sessionsResponse {
	infos := s.sessions.Sessions()
	states := s.currentActivity()

	out := sessionsResponse{Sessions: make([]sessionView, 0, len(infos))}
	for _, info := range infos {
		out.Sessions = append(out.Sessions, sessionView{Info: info, Activity: states[info.ID]})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiErrorResponse{
		Error: apiError{
			Code:    code,
			Message: message,
		},
	})
}

// errorCode maps lifecycle errors to stable client-facing codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return "SESSION_NOT_FOUND"
	case errors.Is(err, session.ErrShutdown):
		return "SHUTTING_DOWN"
	case errors.Is(err, pty.ErrPtyOpenFailed):
		return "PTY_OPEN_FAILED"
	case errors.Is(err, pty.ErrSpawnFailed):
		return "SPAWN_FAILED"
	case errors.Is(err, pty.ErrReaderSetupFailed):
		return "READER_SETUP_FAILED"
	case errors.Is(err, pty.ErrWriteFailed):
		return "WRITE_FAILED"
	case errors.Is(err, pty.ErrResizeFailed):
		return "RESIZE_FAILED"
	case errors.Is(err, activity.ErrInvalidSessionID):
		return "INVALID_SESSION_ID"
	case errors.Is(err, activity.ErrFilesystem):
		return "FILESYSTEM_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

var errBadDimensions = errors.New("dimensions out of range")

func isBadDimensions(err error) bool {
	return errors.Is(err, errBadDimensions)
}

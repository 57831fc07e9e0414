package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/asheshgoplani/clutch/internal/config"
)

// listedSession is one entry of GET /api/sessions.
type listedSession struct {
	ID        string    `json:"id"`
	Cols      int       `json:"cols"`
	Rows      int       `json:"rows"`
	Dir       string    `json:"dir"`
	Command   string    `json:"command"`
	Pid       int       `json:"pid"`
	Starting  bool      `json:"starting"`
	CreatedAt time.Time `json:"createdAt"`
	Activity  string    `json:"activity"`
}

var (
	headerStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7aa2f7"))
	dimStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#565f89"))
	runningStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ece6a"))
	finishedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#7dcfff"))
	needsInputStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#e0af68")).Bold(true)
)

// Table column widths for ls output
const (
	colID       = 20
	colSize     = 9
	colPid      = 8
	colActivity = 12
)

func handleList(args []string) error {
	cfg, _ := config.Load()

	fs := flag.NewFlagSet("ls", flag.ContinueOnError)
	addr := fs.String("addr", cfg.Web.Listen, "Server address")
	token := fs.String("token", cfg.Web.Token, "Bearer token")
	jsonOut := fs.Bool("json", false, "Print raw JSON")
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("flag parsing: %w", err)
	}

	sessions, err := fetchSessions(*addr, *token)
	if err != nil {
		return err
	}
	if *jsonOut {
		out, err := json.MarshalIndent(sessions, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	fmt.Print(renderSessions(sessions, time.Now()))
	return nil
}

func fetchSessions(addr, token string) ([]listedSession, error) {
	endpoint, err := serverURL(addr, "/api/sessions", false, nil)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("is the server running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, fmt.Errorf("list sessions: HTTP %d %s", resp.StatusCode, apiErr.Error.Code)
	}

	var body struct {
		Sessions []listedSession `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return body.Sessions, nil
}

func renderSessions(sessions []listedSession, now time.Time) string {
	if len(sessions) == 0 {
		return dimStyle.Render("No active sessions.") + "\n"
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-*s %-*s %-*s %-*s %s",
		colID, "ID", colSize, "SIZE", colPid, "PID", colActivity, "ACTIVITY", "AGE")))
	b.WriteString("\n")

	for _, s := range sessions {
		activity := s.Activity
		if s.Starting {
			activity = "starting"
		}
		if activity == "" {
			activity = "-"
		}
		fmt.Fprintf(&b, "%-*s %-*s %-*d %s %s\n",
			colID, truncate(s.ID, colID),
			colSize, fmt.Sprintf("%dx%d", s.Cols, s.Rows),
			colPid, s.Pid,
			activityStyle(activity).Render(fmt.Sprintf("%-*s", colActivity, activity)),
			dimStyle.Render(formatAge(now.Sub(s.CreatedAt))))
	}
	return b.String()
}

func activityStyle(activity string) lipgloss.Style {
	switch activity {
	case "running":
		return runningStyle
	case "finished":
		return finishedStyle
	case "needs_input":
		return needsInputStyle
	default:
		return dimStyle
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

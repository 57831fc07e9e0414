package activity

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/asheshgoplani/clutch/internal/logging"
)

var signalLog = logging.ForComponent(logging.CompSignal)

// StatusFileName is the single file inside each session directory that the
// external hook integration writes tokens into.
const StatusFileName = "status"

// CleanupPolicy decides what Reset does with directories left over from a
// previous run.
type CleanupPolicy int

const (
	// KeepExisting leaves leftover directories for the poller to seed from.
	KeepExisting CleanupPolicy = iota
	// CleanupExisting deletes every leftover directory.
	CleanupExisting
)

func (p CleanupPolicy) String() string {
	if p == CleanupExisting {
		return "cleanup"
	}
	return "keep"
}

// SignalStore owns one root directory with one subdirectory per session.
type SignalStore struct {
	root string
}

// NewSignalStore creates root if needed.
func NewSignalStore(root string) (*SignalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: empty root", ErrFilesystem)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create root %s: %w", ErrFilesystem, root, err)
	}
	return &SignalStore{root: filepath.Clean(root)}, nil
}

// Root returns the store's root directory.
func (s *SignalStore) Root() string { return s.root }

func validateID(id string) error {
	if id == "" || id == "." || id == ".." ||
		strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: %w: %q", ErrFilesystem, ErrInvalidSessionID, id)
	}
	return nil
}

// SessionDir returns the directory for id.
func (s *SignalStore) SessionDir(id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	return filepath.Join(s.root, id), nil
}

// StatusPath returns the status file path for id. This is the path handed to
// the child so its hook integration knows where to write.
func (s *SignalStore) StatusPath(id string) (string, error) {
	dir, err := s.SessionDir(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, StatusFileName), nil
}

// CreateSessionDir creates the session directory and truncates its status
// file to empty. An existing directory is reused.
func (s *SignalStore) CreateSessionDir(id string) error {
	dir, err := s.SessionDir(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrFilesystem, dir, err)
	}
	status := filepath.Join(dir, StatusFileName)
	if err := os.WriteFile(status, nil, 0o644); err != nil {
		return fmt.Errorf("%w: seed %s: %w", ErrFilesystem, status, err)
	}
	signalLog.Debug("signal_dir_created", slog.String("session_id", id))
	return nil
}

// RemoveSessionDir deletes the session directory. A missing directory is not
// an error.
func (s *SignalStore) RemoveSessionDir(id string) error {
	dir, err := s.SessionDir(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("%w: remove %s: %w", ErrFilesystem, dir, err)
	}
	signalLog.Debug("signal_dir_removed", slog.String("session_id", id))
	return nil
}

// ReadStatus returns the trimmed status content for id. A missing status
// file reads as empty.
func (s *SignalStore) ReadStatus(id string) (string, error) {
	path, err := s.StatusPath(id)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %w", ErrFilesystem, path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SessionIDs lists the session directories currently under the root, sorted.
func (s *SignalStore) SessionIDs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", ErrFilesystem, s.root, err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// RemoveAll deletes every session directory under the root. Failures are
// logged and the first one is returned after all removals were attempted.
func (s *SignalStore) RemoveAll() error {
	ids, err := s.SessionIDs()
	if err != nil {
		return err
	}
	var firstErr error
	for _, id := range ids {
		if err := s.RemoveSessionDir(id); err != nil {
			signalLog.Warn("signal_dir_remove_failed", slog.String("session_id", id), slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Reset applies the startup policy.
func (s *SignalStore) Reset(policy CleanupPolicy) error {
	signalLog.Info("signal_store_reset",
		slog.String("root", s.root),
		slog.String("policy", policy.String()))
	if policy != CleanupExisting {
		return nil
	}
	return s.RemoveAll()
}

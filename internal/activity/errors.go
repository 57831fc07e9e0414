package activity

import "errors"

var (
	// ErrFilesystem wraps every signal-store I/O failure.
	ErrFilesystem = errors.New("signal store filesystem error")

	// ErrInvalidSessionID is returned for ids that cannot name a single
	// directory under the store root.
	ErrInvalidSessionID = errors.New("invalid session id")
)

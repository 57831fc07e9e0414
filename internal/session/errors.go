package session

import "errors"

var (
	// ErrSessionNotFound is returned by Write and Resize for ids that are not
	// active (never created, destroyed, exited, or still starting).
	ErrSessionNotFound = errors.New("session not found")

	// ErrShutdown is returned by operations attempted after Shutdown.
	ErrShutdown = errors.New("coordinator is shut down")

	// ErrSlowSubscriber is reported by a Subscription the bus evicted because
	// its buffer was full. The subscriber missed at least one event.
	ErrSlowSubscriber = errors.New("subscriber fell behind and was evicted")
)

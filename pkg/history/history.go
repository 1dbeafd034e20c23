// Package history defines the session transcript log: an append-only record
// of what the user and the agent actually said, written as turns commit and
// playouts finish.
package history

import (
	"context"
	"time"
)

// Roles recorded in transcript entries.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Entry is one committed utterance.
type Entry struct {
	// Role is RoleUser or RoleAgent.
	Role string

	// AgentName is set on agent entries; which agent spoke it.
	AgentName string

	// Text is the transcript as committed. For interrupted agent speech this
	// is only the part that actually played.
	Text string

	// Interrupted marks agent speech that was cut short.
	Interrupted bool

	// Timestamp is when the entry was committed.
	Timestamp time.Time

	// Duration is the spoken length when known, 0 otherwise.
	Duration time.Duration
}

// Store persists transcript entries per session. Implementations must be
// safe for concurrent use.
type Store interface {
	// Append writes one entry under sessionID. sessionID must be non-empty.
	Append(ctx context.Context, sessionID string, e Entry) error

	// Recent returns the entries for sessionID no older than window, oldest
	// first. The slice is non-nil even when empty.
	Recent(ctx context.Context, sessionID string, window time.Duration) ([]Entry, error)

	// Search matches query against entry text across sessions, oldest first.
	Search(ctx context.Context, query string, limit int) ([]Entry, error)
}

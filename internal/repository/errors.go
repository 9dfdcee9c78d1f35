package repository

import (
	"errors"

	"github.com/foxseedlab/pokerbot/internal/kv"
)

var (
	// ErrConflict is a definitive uniqueness failure: the session id is taken
	// or the channel already has an active session.
	ErrConflict = errors.New("already exists or already active")
	// ErrNotFound means the referenced session or participant does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotActive means a status transition found the session outside ACTIVE.
	ErrNotActive = errors.New("session is not active")
	// ErrTransient is the only retryable kind.
	ErrTransient = kv.ErrTransient

	ErrRosterTooLarge    = errors.New("roster exceeds transaction capacity")
	ErrInvalidIdentifier = errors.New("identifier is empty or contains '#'")
)

// MaxRosterSize leaves room for the meta and pointer writes of CreateSession.
const MaxRosterSize = kv.MaxTransactItems - 2

// IsRetryable reports whether err came from a network or throughput failure
// and the operation may be attempted again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

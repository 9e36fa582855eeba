package interfaces

import (
	"context"
	"time"

	"peerline/pkg/types"
)

// SessionStore is the durable document store for session records, keyed by
// session id with created_at usable for range queries.
type SessionStore interface {
	// CreateSession persists a new session record.
	CreateSession(ctx context.Context, session *types.Session) error

	// GetSession retrieves a session by ID. Returns ErrSessionNotFound when
	// no record exists.
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// UpdateSessionStatus transitions a session's status. Terminal statuses
	// are monotonic: a session already in ended, expired or abandoned is left
	// untouched and the call succeeds as a no-op.
	UpdateSessionStatus(ctx context.Context, sessionID string, status types.SessionStatus, endReason string, endedAt *time.Time) error

	// FlagSafety marks a session as safety-flagged, exempting it from purge.
	FlagSafety(ctx context.Context, sessionID string) error

	// ListActiveSessions returns every session with status active.
	ListActiveSessions(ctx context.Context) ([]*types.Session, error)

	// ListActiveCreatedBefore returns active sessions created before cutoff.
	ListActiveCreatedBefore(ctx context.Context, cutoff time.Time) ([]*types.Session, error)

	// PurgeCreatedBefore deletes sessions created before cutoff, excluding
	// safety-flagged records. Returns the number of deleted rows.
	PurgeCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// HealthCheck validates store connectivity.
	HealthCheck(ctx context.Context) error

	Close() error
}

// Package store persists ended and evicted sessions.
package store

import (
	"context"
	"time"

	"github.com/ashureev/kaya/internal/domain"
)

// Archive is the durable side of the session store. Live sessions stay in
// memory; a session reaches the archive when it is evicted, ended or the
// process shuts down.
type Archive interface {
	// SaveSession inserts or replaces an archived session.
	SaveSession(ctx context.Context, s domain.ArchivedSession) error

	// GetSession returns the archived session, or nil if there is none.
	GetSession(ctx context.Context, id string) (*domain.ArchivedSession, error)

	// DeleteArchivedBefore removes sessions archived before cutoff.
	DeleteArchivedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

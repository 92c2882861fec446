// Package store persists conversation context snapshots so a session can be
// checkpointed and restored later.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/grim-sudo/Automation/internal/conversation"
)

// ErrNotFound is returned when a snapshot id is unknown.
var ErrNotFound = errors.New("snapshot not found")

// SnapshotInfo describes a stored snapshot without its payload.
type SnapshotInfo struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Turn      int       `json:"turn"`
	CreatedAt time.Time `json:"created_at"`
}

// SnapshotStore saves and loads conversation contexts.
type SnapshotStore interface {
	// Save stores a copy of c and returns the new snapshot id.
	Save(ctx context.Context, c *conversation.Context) (string, error)
	// Load returns the snapshot with the given id, or ErrNotFound.
	Load(ctx context.Context, id string) (*conversation.Context, error)
	// List returns the snapshots of a session, newest first.
	List(ctx context.Context, sessionID string) ([]SnapshotInfo, error)
	Close() error
}

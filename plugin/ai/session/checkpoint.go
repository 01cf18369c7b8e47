// Package session persists conversation checkpoints, one per session.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/hrygo/bankdesk/plugin/ai/conversation"
)

var (
	// ErrCheckpointNotFound is returned when no checkpoint exists for a session.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	// ErrVersionConflict is returned when a checkpoint changed after it was loaded.
	ErrVersionConflict = errors.New("checkpoint version conflict")
)

// Checkpoint is the durable state of one session.
type Checkpoint struct {
	SessionID string              `json:"session_id"`
	Namespace string              `json:"namespace,omitempty"`
	Version   int64               `json:"version"`
	Turns     []conversation.Turn `json:"turns"`
	// CredentialRef names the capability bound to the session, never the token value.
	CredentialRef string `json:"credential_ref,omitempty"`
	CreatedTs     int64  `json:"created_ts"`
	UpdatedTs     int64  `json:"updated_ts"`
}

// Clone returns a deep copy of the checkpoint.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	out.Turns = conversation.CloneTurns(c.Turns)
	return &out
}

// Update merges new turns into a stored checkpoint.
type Update struct {
	// ExpectedVersion guards the write when non-zero.
	ExpectedVersion int64
	Append          []conversation.Turn
	// CredentialRef replaces the stored reference when non-nil.
	CredentialRef *string
}

// Store maps session identifiers to checkpoints.
// Implementations must be safe for concurrent use and must never expose
// internal state: every returned checkpoint is an independent copy.
type Store interface {
	// Load returns the checkpoint of a session, or ErrCheckpointNotFound.
	Load(ctx context.Context, sessionID string) (*Checkpoint, error)

	// Replace overwrites the whole checkpoint, creating it when absent.
	Replace(ctx context.Context, cp *Checkpoint) (*Checkpoint, error)

	// Update appends turns to an existing checkpoint.
	// It returns ErrVersionConflict without writing anything when ExpectedVersion
	// is set and no longer matches.
	Update(ctx context.Context, sessionID string, update *Update) (*Checkpoint, error)

	// CleanupExpired deletes checkpoints not updated within retention.
	CleanupExpired(ctx context.Context, retention time.Duration) (int64, error)
}

package store

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrCheckpointConflict is returned when a checkpoint changed since it was read.
	ErrCheckpointConflict = errors.New("agent checkpoint version conflict")
	// ErrCheckpointNotFound is returned when updating a checkpoint that does not exist.
	ErrCheckpointNotFound = errors.New("agent checkpoint not found")
)

// AgentCheckpoint is the stored conversation state of one session.
type AgentCheckpoint struct {
	SessionID string
	Namespace string
	Version   int64
	// Turns is the JSON encoded turn list.
	Turns []byte
	// CredentialRef names the capability bound to the session, never a token.
	CredentialRef string
	CreatedTs     int64
	UpdatedTs     int64
}

// FindAgentCheckpoint is the find condition for a single checkpoint.
type FindAgentCheckpoint struct {
	SessionID string
	Namespace string
}

// UpdateAgentCheckpoint replaces the turns of a checkpoint if its version still equals ExpectedVersion.
type UpdateAgentCheckpoint struct {
	SessionID       string
	Namespace       string
	ExpectedVersion int64
	Turns           []byte
	CredentialRef   *string
	UpdatedTs       int64
}

// DeleteAgentCheckpoint deletes the checkpoints of a namespace last updated before UpdatedBefore.
type DeleteAgentCheckpoint struct {
	Namespace     string
	UpdatedBefore int64
}

// GetAgentCheckpoint returns the checkpoint, or nil when it does not exist.
func (s *Store) GetAgentCheckpoint(ctx context.Context, find *FindAgentCheckpoint) (*AgentCheckpoint, error) {
	return s.driver.GetAgentCheckpoint(ctx, find)
}

// UpsertAgentCheckpoint fully replaces a checkpoint, creating it when absent.
// The stored version is incremented on every replace.
func (s *Store) UpsertAgentCheckpoint(ctx context.Context, upsert *AgentCheckpoint) (*AgentCheckpoint, error) {
	return s.driver.UpsertAgentCheckpoint(ctx, upsert)
}

// UpdateAgentCheckpoint performs a compare-and-swap write.
// It returns ErrCheckpointConflict when the stored version differs from ExpectedVersion.
func (s *Store) UpdateAgentCheckpoint(ctx context.Context, update *UpdateAgentCheckpoint) (*AgentCheckpoint, error) {
	return s.driver.UpdateAgentCheckpoint(ctx, update)
}

// DeleteAgentCheckpoints deletes stale checkpoints and returns how many were removed.
func (s *Store) DeleteAgentCheckpoints(ctx context.Context, delete *DeleteAgentCheckpoint) (int64, error) {
	return s.driver.DeleteAgentCheckpoints(ctx, delete)
}

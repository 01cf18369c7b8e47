package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hrygo/bankdesk/plugin/ai/conversation"
	"github.com/hrygo/bankdesk/store"
)

// maxMergeAttempts bounds the read-merge-write loop of unguarded updates.
const maxMergeAttempts = 3

// dbStore persists checkpoints through the SQL store driver.
type dbStore struct {
	store     *store.Store
	namespace string
	now       func() time.Time
}

// NewDBStore creates a durable Store. Namespace isolates deployments sharing one database.
func NewDBStore(st *store.Store, namespace string) Store {
	return &dbStore{store: st, namespace: namespace, now: time.Now}
}

func (s *dbStore) Load(ctx context.Context, sessionID string) (*Checkpoint, error) {
	row, err := s.store.GetAgentCheckpoint(ctx, &store.FindAgentCheckpoint{SessionID: sessionID, Namespace: s.namespace})
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", sessionID, err)
	}
	if row == nil {
		return nil, ErrCheckpointNotFound
	}
	return fromRow(row)
}

func (s *dbStore) Replace(ctx context.Context, cp *Checkpoint) (*Checkpoint, error) {
	turns, err := conversation.MarshalTurns(cp.Turns)
	if err != nil {
		return nil, err
	}
	now := s.now().Unix()
	row, err := s.store.UpsertAgentCheckpoint(ctx, &store.AgentCheckpoint{
		SessionID:     cp.SessionID,
		Namespace:     s.namespace,
		Turns:         turns,
		CredentialRef: cp.CredentialRef,
		CreatedTs:     now,
		UpdatedTs:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to replace checkpoint %s: %w", cp.SessionID, err)
	}
	out := cp.Clone()
	out.Namespace = s.namespace
	out.Version = row.Version
	out.CreatedTs = row.CreatedTs
	out.UpdatedTs = row.UpdatedTs
	return out, nil
}

func (s *dbStore) Update(ctx context.Context, sessionID string, update *Update) (*Checkpoint, error) {
	for attempt := 1; ; attempt++ {
		current, err := s.Load(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if update.ExpectedVersion != 0 && update.ExpectedVersion != current.Version {
			return nil, ErrVersionConflict
		}

		turns, err := conversation.MarshalTurns(append(current.Turns, update.Append...))
		if err != nil {
			return nil, err
		}
		row, err := s.store.UpdateAgentCheckpoint(ctx, &store.UpdateAgentCheckpoint{
			SessionID:       sessionID,
			Namespace:       s.namespace,
			ExpectedVersion: current.Version,
			Turns:           turns,
			CredentialRef:   update.CredentialRef,
			UpdatedTs:       s.now().Unix(),
		})
		switch {
		case err == nil:
			return fromRow(row)
		case errors.Is(err, store.ErrCheckpointNotFound):
			return nil, ErrCheckpointNotFound
		case errors.Is(err, store.ErrCheckpointConflict):
			// A guarded update must not be merged onto someone else's write.
			if update.ExpectedVersion != 0 || attempt >= maxMergeAttempts {
				return nil, ErrVersionConflict
			}
		default:
			return nil, fmt.Errorf("failed to update checkpoint %s: %w", sessionID, err)
		}
	}
}

func (s *dbStore) CleanupExpired(ctx context.Context, retention time.Duration) (int64, error) {
	deleted, err := s.store.DeleteAgentCheckpoints(ctx, &store.DeleteAgentCheckpoint{
		Namespace:     s.namespace,
		UpdatedBefore: s.now().Add(-retention).Unix(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired checkpoints: %w", err)
	}
	return deleted, nil
}

func fromRow(row *store.AgentCheckpoint) (*Checkpoint, error) {
	turns, err := conversation.UnmarshalTurns(row.Turns)
	if err != nil {
		return nil, fmt.Errorf("corrupt checkpoint %s: %w", row.SessionID, err)
	}
	return &Checkpoint{
		SessionID:     row.SessionID,
		Namespace:     row.Namespace,
		Version:       row.Version,
		Turns:         turns,
		CredentialRef: row.CredentialRef,
		CreatedTs:     row.CreatedTs,
		UpdatedTs:     row.UpdatedTs,
	}, nil
}

var _ Store = (*dbStore)(nil)

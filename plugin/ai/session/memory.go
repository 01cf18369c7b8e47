package session

import (
	"context"
	"sync"
	"time"

	"github.com/hrygo/bankdesk/plugin/ai/conversation"
)

// memoryStore keeps checkpoints in process memory. A restart loses every session.
// It serves a single process, so checkpoints carry no namespace.
type memoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*Checkpoint
	now         func() time.Time
}

// NewMemoryStore creates a process-local Store.
func NewMemoryStore() Store {
	return newMemoryStore()
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		checkpoints: make(map[string]*Checkpoint),
		now:         time.Now,
	}
}

func (s *memoryStore) Load(_ context.Context, sessionID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[sessionID]
	if !ok {
		return nil, ErrCheckpointNotFound
	}
	return cp.Clone(), nil
}

func (s *memoryStore) Replace(_ context.Context, cp *Checkpoint) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().Unix()
	stored := cp.Clone()
	stored.Version = 1
	stored.CreatedTs = now
	stored.UpdatedTs = now
	if prev, ok := s.checkpoints[cp.SessionID]; ok {
		stored.Version = prev.Version + 1
		stored.CreatedTs = prev.CreatedTs
	}
	s.checkpoints[cp.SessionID] = stored
	return stored.Clone(), nil
}

func (s *memoryStore) Update(_ context.Context, sessionID string, update *Update) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.checkpoints[sessionID]
	if !ok {
		return nil, ErrCheckpointNotFound
	}
	if update.ExpectedVersion != 0 && update.ExpectedVersion != prev.Version {
		return nil, ErrVersionConflict
	}

	next := prev.Clone()
	next.Turns = append(next.Turns, conversation.CloneTurns(update.Append)...)
	if update.CredentialRef != nil {
		next.CredentialRef = *update.CredentialRef
	}
	next.Version = prev.Version + 1
	next.UpdatedTs = s.now().Unix()
	s.checkpoints[sessionID] = next
	return next.Clone(), nil
}

func (s *memoryStore) CleanupExpired(_ context.Context, retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-retention).Unix()
	var deleted int64
	for id, cp := range s.checkpoints {
		if cp.UpdatedTs < cutoff {
			delete(s.checkpoints, id)
			deleted++
		}
	}
	return deleted, nil
}

var _ Store = (*memoryStore)(nil)

package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/bankdesk/plugin/ai/cache"
	"github.com/hrygo/bankdesk/plugin/ai/conversation"
	storetest "github.com/hrygo/bankdesk/store/test"
)

func newTestCache(t *testing.T) *cache.Service {
	t.Helper()
	c := cache.NewService(cache.ServiceConfig{CleanupInterval: time.Hour})
	t.Cleanup(c.Close)
	return c
}

// storeFactories returns every Store implementation under test.
func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"db": func(t *testing.T) Store {
			return NewDBStore(storetest.NewTestingStore(context.Background(), t), "bank")
		},
		"cached-memory": func(t *testing.T) Store {
			return NewCachedStore(NewMemoryStore(), newTestCache(t))
		},
		"cached-db": func(t *testing.T) Store {
			return NewCachedStore(NewDBStore(storetest.NewTestingStore(context.Background(), t), "bank"), newTestCache(t))
		},
	}
}

func TestStoreContract(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			testStoreContract(t, newStore(t))
		})
	}
}

func testStoreContract(t *testing.T, s Store) {
	ctx := context.Background()
	greeting := conversation.Greeting(nil)

	t.Run("LoadMissing", func(t *testing.T) {
		_, err := s.Load(ctx, "missing")
		assert.ErrorIs(t, err, ErrCheckpointNotFound)
	})

	t.Run("ReplaceCreates", func(t *testing.T) {
		cp, err := s.Replace(ctx, &Checkpoint{SessionID: "s1", Turns: []conversation.Turn{greeting}})
		require.NoError(t, err)
		assert.Equal(t, int64(1), cp.Version)

		loaded, err := s.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), loaded.Version)
		require.Len(t, loaded.Turns, 1)
		assert.Equal(t, greeting.Content, loaded.Turns[0].Content)
		assert.Equal(t, conversation.RoleAssistant, loaded.Turns[0].Role)
	})

	t.Run("UpdateAppends", func(t *testing.T) {
		cp, err := s.Update(ctx, "s1", &Update{
			ExpectedVersion: 1,
			Append: []conversation.Turn{
				conversation.HumanTurn("Do you have ATM cards?"),
				conversation.AssistantTurn("", conversation.ToolCall{ID: "call_1", Name: "search_products", Arguments: []byte(`{"query":"ATM card"}`)}),
				conversation.ToolTurn("search_products", "call_1", "3 matches", map[string]any{"sql": "SELECT 1"}),
				conversation.AssistantTurn("We have three ATM cards."),
			},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), cp.Version)
		require.Len(t, cp.Turns, 5)

		loaded, err := s.Load(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, loaded.Turns, 5)
		assert.Equal(t, "Do you have ATM cards?", loaded.Turns[1].Content)
		require.Len(t, loaded.Turns[2].ToolCalls, 1)
		assert.JSONEq(t, `{"query":"ATM card"}`, string(loaded.Turns[2].ToolCalls[0].Arguments))
		assert.Equal(t, conversation.RoleTool, loaded.Turns[3].Role)
		assert.Equal(t, "call_1", loaded.Turns[3].InvocationID)
		assert.Equal(t, "SELECT 1", loaded.Turns[3].Diagnostic["sql"])
		assert.Equal(t, "We have three ATM cards.", loaded.Turns[4].Content)
	})

	t.Run("StaleVersionConflicts", func(t *testing.T) {
		_, err := s.Update(ctx, "s1", &Update{
			ExpectedVersion: 1,
			Append:          []conversation.Turn{conversation.HumanTurn("lost")},
		})
		assert.ErrorIs(t, err, ErrVersionConflict)

		loaded, err := s.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), loaded.Version)
		assert.Len(t, loaded.Turns, 5)
	})

	t.Run("UnguardedUpdateMerges", func(t *testing.T) {
		ref := "bank_login"
		cp, err := s.Update(ctx, "s1", &Update{CredentialRef: &ref})
		require.NoError(t, err)
		assert.Equal(t, int64(3), cp.Version)
		assert.Equal(t, "bank_login", cp.CredentialRef)
		assert.Len(t, cp.Turns, 5)
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		_, err := s.Update(ctx, "missing", &Update{Append: []conversation.Turn{conversation.HumanTurn("hi")}})
		assert.ErrorIs(t, err, ErrCheckpointNotFound)
	})

	t.Run("ReplaceOverwrites", func(t *testing.T) {
		cp, err := s.Replace(ctx, &Checkpoint{SessionID: "s1", Turns: []conversation.Turn{greeting}})
		require.NoError(t, err)
		assert.Equal(t, int64(4), cp.Version)

		loaded, err := s.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Len(t, loaded.Turns, 1)
		assert.Empty(t, loaded.CredentialRef)
	})

	t.Run("ReplaceEmpty", func(t *testing.T) {
		_, err := s.Replace(ctx, &Checkpoint{SessionID: "s2"})
		require.NoError(t, err)

		loaded, err := s.Load(ctx, "s2")
		require.NoError(t, err)
		assert.Empty(t, loaded.Turns)
	})

	t.Run("LoadReturnsCopies", func(t *testing.T) {
		first, err := s.Load(ctx, "s1")
		require.NoError(t, err)
		first.Turns[0].Content = "mutated"
		first.Turns = append(first.Turns, conversation.HumanTurn("extra"))

		second, err := s.Load(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, second.Turns, 1)
		assert.Equal(t, greeting.Content, second.Turns[0].Content)
	})

	t.Run("CleanupExpired", func(t *testing.T) {
		deleted, err := s.CleanupExpired(ctx, time.Hour)
		require.NoError(t, err)
		assert.Zero(t, deleted)

		// A negative retention puts the cutoff in the future.
		deleted, err = s.CleanupExpired(ctx, -time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		_, err = s.Load(ctx, "s1")
		assert.ErrorIs(t, err, ErrCheckpointNotFound)
	})
}

// gatedStore blocks loads until released and counts backend reads.
type gatedStore struct {
	Store
	loads   atomic.Int32
	release chan struct{}
}

func (s *gatedStore) Load(ctx context.Context, sessionID string) (*Checkpoint, error) {
	s.loads.Add(1)
	<-s.release
	return s.Store.Load(ctx, sessionID)
}

func TestCachedStore_CollapsesConcurrentLoads(t *testing.T) {
	ctx := context.Background()
	backend := &gatedStore{Store: NewMemoryStore(), release: make(chan struct{})}
	_, err := backend.Store.Replace(ctx, &Checkpoint{SessionID: "s1", Turns: []conversation.Turn{conversation.Greeting(nil)}})
	require.NoError(t, err)

	s := NewCachedStore(backend, newTestCache(t))

	var wg sync.WaitGroup
	results := make([]*Checkpoint, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cp, err := s.Load(ctx, "s1")
			assert.NoError(t, err)
			results[i] = cp
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(backend.release)
	wg.Wait()

	assert.Equal(t, int32(1), backend.loads.Load())
	for i := 1; i < len(results); i++ {
		require.NotNil(t, results[i])
		assert.NotSame(t, results[0], results[i])
		assert.Equal(t, results[0].Turns, results[i].Turns)
	}

	// Served from cache from now on.
	_, err = s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), backend.loads.Load())
}

func TestCachedStore_InvalidatesOnWrite(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	s := NewCachedStore(NewMemoryStore(), c)

	_, err := s.Replace(ctx, &Checkpoint{SessionID: "s1", Turns: []conversation.Turn{conversation.Greeting(nil)}})
	require.NoError(t, err)

	_, err = s.Load(ctx, "s1")
	require.NoError(t, err)
	_, cached := c.Get(ctx, cachePrefix+"s1")
	require.True(t, cached)

	_, err = s.Update(ctx, "s1", &Update{ExpectedVersion: 1, Append: []conversation.Turn{conversation.HumanTurn("hi")}})
	require.NoError(t, err)
	_, cached = c.Get(ctx, cachePrefix+"s1")
	assert.False(t, cached)

	loaded, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, loaded.Turns, 2)

	// A failed write still drops the cached entry.
	_, err = s.Update(ctx, "s1", &Update{ExpectedVersion: 1})
	assert.ErrorIs(t, err, ErrVersionConflict)
	_, cached = c.Get(ctx, cachePrefix+"s1")
	assert.False(t, cached)
}

func TestMemoryStore_ConcurrentGuardedUpdates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.Replace(ctx, &Checkpoint{SessionID: "s1"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var won, conflicts atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "s1", &Update{ExpectedVersion: 1, Append: []conversation.Turn{conversation.HumanTurn("x")}})
			if err == nil {
				won.Add(1)
			} else if assert.ErrorIs(t, err, ErrVersionConflict) {
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, int32(15), conflicts.Load())
	loaded, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, loaded.Turns, 1)
}

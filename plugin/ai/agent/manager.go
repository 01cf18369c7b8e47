package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/hrygo/bankdesk/plugin/ai/agent/tools"
	"github.com/hrygo/bankdesk/plugin/ai/conversation"
	"github.com/hrygo/bankdesk/plugin/ai/session"
)

// SessionDescriptor is the transport view of a session.
type SessionDescriptor struct {
	ID       string                      `json:"id,omitempty"`
	History  []conversation.HistoryEntry `json:"history,omitempty"`
	UserInfo *conversation.UserInfo      `json:"user_info,omitempty"`
}

// InvokeResult is the outcome of Manager.Invoke.
type InvokeResult struct {
	Output     string
	Trace      []TraceEntry
	State      State
	Checkpoint *session.Checkpoint
}

// BuildFunc constructs the process-wide dispatcher.
type BuildFunc func(ctx context.Context) (*Dispatcher, error)

// Manager is the session façade used by the transport layer.
//
// The dispatcher is built on the first CreateOrResume and shared by every
// session afterwards. A failed build is retried on the next call.
type Manager struct {
	build BuildFunc

	initMu     sync.Mutex
	dispatcher atomic.Pointer[Dispatcher]

	locks *sessionLocks

	// credentialCaps are the capabilities proven by a session credential.
	credentialCaps tools.CapabilitySet

	mu sync.RWMutex
	// live maps session ids to their credential token ("" when signed out).
	live map[string]string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithCredentialCapabilities sets the capabilities a session credential
// proves. Toolbox tools declaring any of them as an auth source receive the
// session token. Empty names are ignored; with none left the default
// bank_login capability stays.
func WithCredentialCapabilities(caps ...tools.Capability) ManagerOption {
	return func(m *Manager) {
		if set := tools.NewCapabilitySet(caps...); set.Len() > 0 {
			m.credentialCaps = set
		}
	}
}

// NewManager creates a Manager whose dependencies are built lazily by build.
func NewManager(build BuildFunc, opts ...ManagerOption) *Manager {
	m := &Manager{
		build:          build,
		locks:          newSessionLocks(),
		credentialCaps: tools.NewCapabilitySet(tools.CapabilityBankLogin),
		live:           make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) ensureDispatcher(ctx context.Context) (*Dispatcher, error) {
	if d := m.dispatcher.Load(); d != nil {
		return d, nil
	}

	m.initMu.Lock()
	defer m.initMu.Unlock()
	if d := m.dispatcher.Load(); d != nil {
		return d, nil
	}

	slog.Info("initializing agent dispatcher")
	d, err := m.build(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotInitialized, err)
	}
	if d == nil {
		return nil, fmt.Errorf("%w: build returned no dispatcher", ErrNotInitialized)
	}
	m.dispatcher.Store(d)
	return d, nil
}

// liveDispatcher returns the dispatcher when id is a live session.
func (m *Manager) liveDispatcher(id string) (*Dispatcher, error) {
	if !m.IsLive(id) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	d := m.dispatcher.Load()
	if d == nil {
		return nil, ErrNotInitialized
	}
	return d, nil
}

// lockLive locks a live session. Liveness is checked again once the lock is
// held, so work queued behind a Signout fails instead of reviving the session.
func (m *Manager) lockLive(ctx context.Context, id string) (*Dispatcher, func(), error) {
	d, err := m.liveDispatcher(id)
	if err != nil {
		return nil, nil, err
	}
	unlock, err := m.locks.lock(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !m.IsLive(id) {
		unlock()
		return nil, nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return d, unlock, nil
}

// IsLive reports whether id is in the live session index.
func (m *Manager) IsLive(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.live[id]
	return ok
}

// CreateOrResume loads a session into the manager.
//
// A missing id is minted and a missing history is seeded with a greeting.
// A stored non-empty checkpoint wins over the given history, which makes
// repeated calls with the same id idempotent.
func (m *Manager) CreateOrResume(ctx context.Context, desc *SessionDescriptor) (*SessionDescriptor, error) {
	if desc == nil {
		desc = &SessionDescriptor{}
	}
	d, err := m.ensureDispatcher(ctx)
	if err != nil {
		return nil, err
	}

	id := desc.ID
	if id == "" {
		id = uuid.NewString()
	}
	history := desc.History
	if len(history) == 0 {
		history = conversation.EncodeHistory([]conversation.Turn{conversation.Greeting(desc.UserInfo)})
	}
	turns, err := conversation.ParseHistory(history)
	if err != nil {
		return nil, err
	}

	unlock, err := m.locks.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := d.store.Load(ctx, id)
	switch {
	case err == nil && len(existing.Turns) > 0:
		history = conversation.EncodeHistory(existing.Turns)
		slog.Debug("resumed session", "session_id", id, "turns", len(existing.Turns))
	case err == nil, errors.Is(err, session.ErrCheckpointNotFound):
		if _, err := d.store.Replace(ctx, &session.Checkpoint{SessionID: id, Turns: turns}); err != nil {
			return nil, fmt.Errorf("failed to store session: %w", err)
		}
		slog.Debug("created session", "session_id", id, "turns", len(turns))
	default:
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	m.mu.Lock()
	if _, ok := m.live[id]; !ok {
		m.live[id] = ""
	}
	m.mu.Unlock()

	return &SessionDescriptor{ID: id, History: history, UserInfo: desc.UserInfo}, nil
}

// Invoke runs one dispatcher cycle. An empty userText lets the model proceed
// without a new human turn.
func (m *Manager) Invoke(ctx context.Context, id, userText string) (*InvokeResult, error) {
	d, unlock, err := m.lockLive(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	result, err := d.Run(ctx, id, userText, m.credentials(id))
	if err != nil {
		slog.Warn("cycle failed", "session_id", id, "error", err)
		return nil, err
	}
	return &InvokeResult{
		Output:     result.Output,
		Trace:      result.Trace,
		State:      result.State,
		Checkpoint: result.Checkpoint,
	}, nil
}

// credentials returns getters that read the live index at call time.
// Every configured capability is proven by the same session token.
func (m *Manager) credentials(id string) tools.Credentials {
	getter := func() (string, bool) {
		return m.GetCredential(id)
	}
	creds := make(tools.Credentials, m.credentialCaps.Len())
	for capability := range m.credentialCaps {
		creds[capability] = getter
	}
	return creds
}

// credentialRef is the persisted name of the capabilities a token proves.
func (m *Manager) credentialRef() string {
	names := make([]string, 0, m.credentialCaps.Len())
	for _, capability := range m.credentialCaps.Sorted() {
		names = append(names, string(capability))
	}
	return strings.Join(names, ",")
}

// Reset replaces the history with a single greeting and drops the credential.
// The session stays live.
func (m *Manager) Reset(ctx context.Context, id string, user *conversation.UserInfo) ([]conversation.HistoryEntry, error) {
	d, unlock, err := m.lockLive(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	turns := []conversation.Turn{conversation.Greeting(user)}
	if _, err := d.store.Replace(ctx, &session.Checkpoint{SessionID: id, Turns: turns}); err != nil {
		return nil, fmt.Errorf("failed to reset session: %w", err)
	}

	m.mu.Lock()
	if _, ok := m.live[id]; ok {
		m.live[id] = ""
	}
	m.mu.Unlock()

	slog.Info("reset session", "session_id", id)
	return conversation.EncodeHistory(turns), nil
}

// Signout empties the stored checkpoint and removes the session from the live index.
//
// A session that is only in the store, such as one written before a restart,
// is signed out as well. An id known to neither, or whose stored
// conversation is already empty, is ErrSessionNotFound.
func (m *Manager) Signout(ctx context.Context, id string) error {
	d, err := m.ensureDispatcher(ctx)
	if err != nil {
		return err
	}

	unlock, err := m.locks.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if !m.IsLive(id) {
		existing, err := d.store.Load(ctx, id)
		switch {
		case errors.Is(err, session.ErrCheckpointNotFound):
			return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		case err != nil:
			return fmt.Errorf("failed to load session: %w", err)
		case len(existing.Turns) == 0:
			return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
	}

	if _, err := d.store.Replace(ctx, &session.Checkpoint{SessionID: id, Turns: []conversation.Turn{}}); err != nil {
		return fmt.Errorf("failed to sign out session: %w", err)
	}

	m.mu.Lock()
	delete(m.live, id)
	m.mu.Unlock()

	slog.Info("signed out session", "session_id", id)
	return nil
}

// SetCredential binds a credential token to a live session. An empty token unbinds it.
// Only the capability name is persisted, never the token.
func (m *Manager) SetCredential(ctx context.Context, id, token string) error {
	d, unlock, err := m.lockLive(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	ref := ""
	if token != "" {
		ref = m.credentialRef()
	}
	if _, err := d.store.Update(ctx, id, &session.Update{CredentialRef: &ref}); err != nil {
		return fmt.Errorf("failed to bind credential: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	m.live[id] = token
	return nil
}

// GetCredential returns the credential of a session, if one is set.
func (m *Manager) GetCredential(id string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	token, ok := m.live[id]
	return token, ok && token != ""
}

// Dispatcher returns the shared dispatcher, or nil before the first CreateOrResume.
func (m *Manager) Dispatcher() *Dispatcher {
	return m.dispatcher.Load()
}

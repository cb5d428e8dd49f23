// Package session owns the session lifecycle: establishing or restoring a
// session id at startup, tracking activity for TTL-based expiry, and the
// recovery, export, import and delete flows that reset or repopulate the
// workspace.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/helix-hr/helix-client/internal/gateway"
	"github.com/helix-hr/helix-client/internal/localstate"
	"github.com/helix-hr/helix-client/internal/reconcile"
	"github.com/helix-hr/helix-client/internal/store"
)

// Phase is the lifecycle state of the session manager.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseRestoring
	PhaseReady
	PhaseRecovering
	PhaseDeleting
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseRestoring:
		return "restoring"
	case PhaseReady:
		return "ready"
	case PhaseRecovering:
		return "recovering"
	case PhaseDeleting:
		return "deleting"
	}
	return "unknown"
}

// Config holds session lifecycle configuration.
type Config struct {
	// TTL is how long a persisted session stays restorable without activity.
	TTL time.Duration

	// RefreshInterval is how often the background refresher extends the
	// activity timestamp while the client is running.
	RefreshInterval time.Duration
}

// DefaultConfig returns the default lifecycle configuration.
func DefaultConfig() Config {
	return Config{
		TTL:             24 * time.Hour,
		RefreshInterval: 5 * time.Minute,
	}
}

// Manager drives the session lifecycle against the store, engine, gateway
// and durable local state.
type Manager struct {
	store  *store.Store
	engine *reconcile.Engine
	client *gateway.Client
	state  *localstate.DB
	logger *slog.Logger
	cfg    Config
	now    func() time.Time

	mu    sync.Mutex
	phase Phase
	email string
}

// NewManager creates a session manager in the Uninitialized phase.
func NewManager(st *store.Store, engine *reconcile.Engine, client *gateway.Client, state *localstate.DB, cfg Config, logger *slog.Logger) *Manager {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  st,
		engine: engine,
		client: client,
		state:  state,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
		phase:  PhaseUninitialized,
	}
}

// Phase returns the current lifecycle phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Email returns the registered recovery email, if any.
func (m *Manager) Email() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.email
}

func (m *Manager) setPhase(p Phase) {
	m.mu.Lock()
	m.phase = p
	m.mu.Unlock()
}

// Start restores the persisted session or establishes a new one. An expired
// or absent persisted id requests a fresh session; a gateway failure falls
// back to a locally generated session so the client never stays stuck
// restoring.
func (m *Manager) Start(ctx context.Context) error {
	m.setPhase(PhaseRestoring)

	persisted, err := m.state.Load(ctx)
	if err != nil {
		return fmt.Errorf("load persisted state: %w", err)
	}
	m.mu.Lock()
	m.email = persisted.Email
	m.mu.Unlock()

	requestID := persisted.SessionID
	if requestID != "" && !persisted.LastActivity.IsZero() && m.now().Sub(persisted.LastActivity) > m.cfg.TTL {
		m.logger.Info("persisted session expired, requesting a new one",
			"session_id", requestID, "last_activity", persisted.LastActivity)
		requestID = ""
	}

	data, err := m.client.CreateSession(ctx, requestID, persisted.Email)
	sessionID := data.SessionID
	if err != nil {
		m.logger.Warn("session establish failed, continuing with local session", "error", err)
		sessionID = requestID
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	m.store.SetSessionID(sessionID)
	if err := m.persistSession(ctx, sessionID); err != nil {
		m.logger.Warn("failed to persist session id", "error", err)
	}

	if len(data.Sequences) > 0 {
		m.applyRaw(sessionID, data.Sequences)
	}

	m.setPhase(PhaseReady)
	m.logger.Info("session ready", "session_id", sessionID)
	return nil
}

func (m *Manager) persistSession(ctx context.Context, sessionID string) error {
	if err := m.state.SaveSessionID(ctx, sessionID); err != nil {
		return err
	}
	return m.state.TouchActivity(ctx, m.now())
}

func (m *Manager) applyRaw(sessionID string, raw json.RawMessage) {
	payloads, err := reconcile.ParseSequenceUpdate(raw)
	if err != nil {
		m.logger.Debug("dropping undecodable restore payload", "error", err)
		return
	}
	m.engine.ApplySequenceUpdate(sessionID, payloads, reconcile.OriginRestore)
}

// RecordActivity refreshes the persisted activity timestamp. Call it on
// user interaction to extend the session's effective TTL.
func (m *Manager) RecordActivity(ctx context.Context) {
	if err := m.state.TouchActivity(ctx, m.now()); err != nil {
		m.logger.Debug("activity refresh failed", "error", err)
	}
}

// RunActivityRefresher periodically extends the activity timestamp while
// the client is running. Blocks until the context is canceled.
func (m *Manager) RunActivityRefresher(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.RecordActivity(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RegisterEmail associates an email with the current session for recovery
// and persists it locally.
func (m *Manager) RegisterEmail(ctx context.Context, email string) error {
	if err := m.client.RegisterEmail(ctx, m.store.SessionID(), email); err != nil {
		return fmt.Errorf("register email: %w", err)
	}
	if err := m.state.SaveEmail(ctx, email); err != nil {
		m.logger.Warn("failed to persist email", "error", err)
	}
	m.mu.Lock()
	m.email = email
	m.mu.Unlock()
	return nil
}

// ListSessions returns the sessions recoverable for an email.
func (m *Manager) ListSessions(ctx context.Context, email string) ([]gateway.SessionInfo, error) {
	return m.client.ListUserSessions(ctx, email)
}

// Recover switches the workspace to another session belonging to email. On
// success the store is reset and repopulated from the recovered data; on
// failure the workspace falls back to a brand-new local session rather than
// staying stuck.
func (m *Manager) Recover(ctx context.Context, email, targetSessionID string) error {
	m.setPhase(PhaseRecovering)

	result, err := m.client.RecoverSession(ctx, email, targetSessionID)
	if err != nil || !result.Found {
		if err == nil {
			err = fmt.Errorf("session for %s: %w", email, errNotRecoverable)
		}
		m.logger.Warn("session recovery failed, starting fresh", "error", err)
		m.resetToFresh(ctx)
		m.setPhase(PhaseReady)
		return fmt.Errorf("recover session: %w", err)
	}

	sessionID := result.SessionID
	if sessionID == "" {
		sessionID = targetSessionID
	}

	m.store.Reset(sessionID)
	if err := m.persistSession(ctx, sessionID); err != nil {
		m.logger.Warn("failed to persist recovered session", "error", err)
	}
	if err := m.state.SaveEmail(ctx, email); err != nil {
		m.logger.Warn("failed to persist email", "error", err)
	}
	m.mu.Lock()
	m.email = email
	m.mu.Unlock()

	if len(result.Data) > 0 {
		m.applyRaw(sessionID, sequencesFromData(result.Data))
	}

	m.setPhase(PhaseReady)
	m.logger.Info("session recovered", "session_id", sessionID)
	return nil
}

// sequencesFromData accepts either a bare sequence list or an object
// wrapping one under "sequences".
func sequencesFromData(data json.RawMessage) json.RawMessage {
	var wrapped struct {
		Sequences json.RawMessage `json:"sequences"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && len(wrapped.Sequences) > 0 {
		return wrapped.Sequences
	}
	return data
}

func (m *Manager) resetToFresh(ctx context.Context) {
	freshID := uuid.NewString()
	m.store.Reset(freshID)
	if err := m.persistSession(ctx, freshID); err != nil {
		m.logger.Warn("failed to persist fresh session", "error", err)
	}
}

// Export returns the serializable snapshot of the session. When the backend
// is unreachable the local workspace snapshot is exported instead, so the
// user can still save their work offline.
func (m *Manager) Export(ctx context.Context) (json.RawMessage, error) {
	data, err := m.client.ExportSession(ctx, m.store.SessionID())
	if err != nil {
		m.logger.Warn("server export failed, exporting local snapshot", "error", err)
		local, marshalErr := json.Marshal(m.store.Snapshot())
		if marshalErr != nil {
			return nil, fmt.Errorf("export session: %w", err)
		}
		return local, nil
	}
	return data, nil
}

// Import uploads a snapshot into the current session and merges the
// resulting sequences. Re-importing the same snapshot is idempotent because
// merging resolves sequences by case-insensitive role.
func (m *Manager) Import(ctx context.Context, importData json.RawMessage) error {
	sessionID := m.store.SessionID()

	sequences, err := m.client.ImportSession(ctx, sessionID, importData)
	if err != nil {
		return fmt.Errorf("import session: %w", err)
	}

	if len(sequences) == 0 {
		// Backend did not echo the merged state; refetch instead of
		// reloading the whole client.
		sequences, err = m.client.ListSequences(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("refresh after import: %w", err)
		}
	}
	m.applyRaw(sessionID, sequences)
	return nil
}

// Delete wipes the server-side session, then resets the store to its
// initial state with a fresh id and clears the registered email.
func (m *Manager) Delete(ctx context.Context) error {
	m.setPhase(PhaseDeleting)

	if err := m.client.DeleteSession(ctx, m.store.SessionID()); err != nil {
		m.setPhase(PhaseReady)
		return fmt.Errorf("delete session: %w", err)
	}

	if err := m.state.ClearEmail(ctx); err != nil {
		m.logger.Warn("failed to clear persisted email", "error", err)
	}
	m.mu.Lock()
	m.email = ""
	m.mu.Unlock()

	m.setPhase(PhaseUninitialized)
	m.resetToFresh(ctx)

	// Establish the fresh session server-side; a failure here is tolerable,
	// the next chat call will surface it.
	if _, err := m.client.CreateSession(ctx, m.store.SessionID(), ""); err != nil {
		m.logger.Warn("failed to establish fresh session after delete", "error", err)
	}

	m.setPhase(PhaseReady)
	return nil
}

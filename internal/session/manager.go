package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/crollins/webdap/internal/errors"
	"github.com/crollins/webdap/pkg/types"
)

// Entry is one managed logical session.
type Entry struct {
	ID           string
	Orchestrator *Orchestrator
	CreatedAt    time.Time
}

// Info returns a summary of the session.
func (e *Entry) Info() types.SessionInfo {
	return e.Orchestrator.Info()
}

// Manager tracks all logical debug sessions, enforces the session limit,
// and reclaims sessions that outlive their timeout.
type Manager struct {
	sessions map[string]*Entry
	mu       sync.RWMutex

	maxSessions    int
	sessionTimeout time.Duration
	log            *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// OrchestratorFactory builds the orchestrator for a freshly allocated
// session ID.
type OrchestratorFactory func(ctx context.Context, id string) *Orchestrator

// NewManager creates a session manager.
func NewManager(maxSessions int, sessionTimeout time.Duration, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		sessions:       make(map[string]*Entry),
		maxSessions:    maxSessions,
		sessionTimeout: sessionTimeout,
		log:            log,
		ctx:            ctx,
		cancel:         cancel,
	}

	go m.cleanupLoop()

	return m
}

// cleanupLoop periodically reclaims expired sessions
func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.cleanupExpiredSessions()
		}
	}
}

func (m *Manager) cleanupExpiredSessions() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id, entry := range m.sessions {
		if now.Sub(entry.CreatedAt) > m.sessionTimeout {
			m.log.Warn("session expired", zap.String("sessionId", id))
			m.terminateLocked(id)
		}
	}
}

// Create allocates a new logical session, enforcing the session limit.
func (m *Manager) Create(factory OrchestratorFactory) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.maxSessions {
		return nil, apperrors.SessionLimitReached(m.maxSessions)
	}

	id := uuid.New().String()
	entry := &Entry{
		ID:           id,
		Orchestrator: factory(m.ctx, id),
		CreatedAt:    time.Now(),
	}

	m.sessions[id] = entry
	return entry, nil
}

// Get retrieves a session by ID.
func (m *Manager) Get(id string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.sessions[id]
	if !ok {
		return nil, apperrors.SessionNotFound(id)
	}

	return entry, nil
}

// List returns all active sessions.
func (m *Manager) List() []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]*Entry, 0, len(m.sessions))
	for _, entry := range m.sessions {
		entries = append(entries, entry)
	}

	return entries
}

// Terminate disconnects a session and removes it.
func (m *Manager) Terminate(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return apperrors.SessionNotFound(id)
	}

	m.terminateLocked(id)
	return nil
}

// terminateLocked disconnects a session (must be called with lock held)
func (m *Manager) terminateLocked(id string) {
	entry, ok := m.sessions[id]
	if !ok {
		return
	}

	if err := entry.Orchestrator.Disconnect(context.Background()); err != nil {
		m.log.Warn("failed to disconnect session during cleanup",
			zap.String("sessionId", id), zap.Error(err))
	}
	delete(m.sessions, id)
}

// Close shuts down the manager and all sessions.
func (m *Manager) Close() {
	m.cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.sessions {
		m.terminateLocked(id)
	}
}

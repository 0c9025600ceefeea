package manager

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"sessiond/internal/window"
)

// Manager is the session registry and memory manager behind the public
// generation API.
type Manager struct {
	cfg       Config
	log       zerolog.Logger
	publisher EventPublisher
	window    *window.Manager
	pool      *semaphore.Weighted

	mu       sync.RWMutex
	sessions map[string]*session
	budget   int64
	used     int64
	closed   bool

	// now is overridden in tests.
	now func() time.Time
}

// New constructs a Manager from cfg, applying package defaults.
func New(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:       cfg,
		log:       cfg.Log,
		publisher: cfg.Publisher,
		window:    window.New(cfg.Window, cfg.Log),
		pool:      semaphore.NewWeighted(int64(cfg.WorkerPoolSize)),
		sessions:  make(map[string]*session),
		budget:    cfg.MemoryBudgetBytes,
		now:       time.Now,
	}
}

// Ready reports whether the manager accepts sessions.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}

// Sessions returns snapshots of all known sessions ordered by creation.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, m.infoLocked(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Session returns a snapshot of one session.
func (m *Manager) Session(id string) (SessionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.sessions[id]
	if s == nil {
		return SessionInfo{}, SessionNotFoundError{SessionID: id}
	}
	return m.infoLocked(s), nil
}

func (m *Manager) infoLocked(s *session) SessionInfo {
	info := SessionInfo{
		ID:             s.id,
		ModelID:        s.modelID,
		Provider:       s.provider,
		Variant:        s.variant,
		State:          s.state,
		ContextSize:    s.contextSize,
		Threads:        s.threads,
		EstimatedBytes: s.bytes,
		CreatedAt:      s.createdAt,
		LastAccessedAt: s.lastAccessed(),
		QueueLen:       len(s.queueCh),
		Inflight:       len(s.genCh),
	}
	if s.builder != nil {
		info.Template = s.builder.Name()
	}
	return info
}

// MemoryStats returns the current budget snapshot.
func (m *Manager) MemoryStats() MemoryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := MemoryStats{TotalBytes: m.used, BudgetBytes: m.budget}
	for _, s := range m.sessions {
		if s.state == StateReady || s.state == StateGenerating {
			st.ActiveSessions++
		}
	}
	return st
}

// Shutdown closes every session and rejects new ones.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	var firstErr error
	for _, id := range ids {
		if err := m.CloseSession(ctx, id); err != nil && !IsSessionNotFound(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

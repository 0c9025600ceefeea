package httpapi

import (
	"context"
	"time"

	"sessiond/internal/generation"
	"sessiond/internal/manager"
	"sessiond/pkg/types"
)

// mockService is a minimal in-memory Service for handler tests.
type mockService struct {
	startErr  error
	genErr    error
	stream    func() *generation.Stream
	cancelErr error
	closeErr  error
	sessions  map[string]manager.SessionInfo
	lastGen   manager.GenerateRequest
	budget    int64
	evict     []string
	ready     bool
}

func newMockService() *mockService {
	return &mockService{sessions: map[string]manager.SessionInfo{}, ready: true, budget: 1 << 30}
}

func (m *mockService) StartSession(_ context.Context, modelID string, cfg manager.SessionConfig) (string, error) {
	if m.startErr != nil {
		return "", m.startErr
	}
	id := "s-" + modelID
	m.sessions[id] = manager.SessionInfo{ID: id, ModelID: modelID, State: manager.StateReady, ContextSize: cfg.ContextSize, CreatedAt: time.Unix(100, 0)}
	return id, nil
}

func (m *mockService) Session(id string) (manager.SessionInfo, error) {
	s, ok := m.sessions[id]
	if !ok {
		return manager.SessionInfo{}, manager.SessionNotFoundError{SessionID: id}
	}
	return s, nil
}

func (m *mockService) Sessions() []manager.SessionInfo {
	var out []manager.SessionInfo
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

func (m *mockService) Generate(_ context.Context, id string, req manager.GenerateRequest) (*generation.Stream, error) {
	m.lastGen = req
	if m.genErr != nil {
		return nil, m.genErr
	}
	if _, ok := m.sessions[id]; !ok {
		return nil, manager.SessionNotFoundError{SessionID: id}
	}
	if m.stream != nil {
		return m.stream(), nil
	}
	return generation.Terminal(generation.FinishCompleted, nil), nil
}

func (m *mockService) Cancel(id string) error {
	if m.cancelErr != nil {
		return m.cancelErr
	}
	if _, ok := m.sessions[id]; !ok {
		return manager.SessionNotFoundError{SessionID: id}
	}
	return nil
}

func (m *mockService) CloseSession(_ context.Context, id string) error {
	if m.closeErr != nil {
		return m.closeErr
	}
	if _, ok := m.sessions[id]; !ok {
		return manager.SessionNotFoundError{SessionID: id}
	}
	delete(m.sessions, id)
	return nil
}

func (m *mockService) MemoryStats() manager.MemoryStats {
	return manager.MemoryStats{ActiveSessions: len(m.sessions), TotalBytes: 42, BudgetBytes: m.budget}
}

func (m *mockService) SetMemoryBudget(b int64) []string {
	m.budget = b
	return m.evict
}

func (m *mockService) ListModels() []types.Model {
	return []types.Model{{ID: "tiny.gguf", Format: "gguf"}}
}

func (m *mockService) Capabilities() types.CapabilitiesResponse {
	return types.CapabilitiesResponse{Variant: "baseline", Ranked: []string{"baseline"}, Providers: []string{"reference"}}
}

func (m *mockService) Ready() bool { return m.ready }

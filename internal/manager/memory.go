package manager

import (
	"math"
	"sort"
	"strconv"
)

// evictionCandidatesLocked lists sessions that may be evicted, least
// recently used first. Generating, queued, loading and closing sessions are
// protected.
func (m *Manager) evictionCandidatesLocked(exclude *session) []*session {
	var out []*session
	for _, s := range m.sessions {
		if s == exclude || s.closing || s.state != StateReady || !s.idle() {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].lastAccess.Load(), out[j].lastAccess.Load()
		if ai != aj {
			return ai < aj
		}
		return out[i].createdAt.Before(out[j].createdAt)
	})
	return out
}

func (m *Manager) residentLocked(exclude *session) int {
	n := 0
	for _, s := range m.sessions {
		if s != exclude && s.state.resident() && !s.closing {
			n++
		}
	}
	return n
}

// admitLocked reserves bytes for s against the budget and the session cap.
// When eviction is needed it picks LRU victims up front; if they cannot make
// room nothing is evicted and the request is rejected. Victims are marked
// Evicting with their bytes released; the caller unloads them after
// unlocking m.mu.
func (m *Manager) admitLocked(s *session, bytes int64) (AdmissionResult, []*session) {
	slot := 0
	if !s.state.resident() {
		slot = 1
	}
	resident := m.residentLocked(s)
	fits := func(freed int64, slots int) bool {
		if resident-slots+slot > m.cfg.MaxSessions {
			return false
		}
		return m.used-freed <= m.budget-bytes
	}

	if fits(0, 0) {
		m.reserveLocked(s, bytes)
		return AdmissionResult{Outcome: Admitted}, nil
	}

	var (
		victims []*session
		freed   int64
	)
	for _, c := range m.evictionCandidatesLocked(s) {
		victims = append(victims, c)
		freed += c.bytes
		if fits(freed, len(victims)) {
			break
		}
	}
	if !fits(freed, len(victims)) {
		reason := "memory budget exhausted"
		if resident-len(victims)+slot > m.cfg.MaxSessions {
			reason = "max sessions reached (" + strconv.Itoa(m.cfg.MaxSessions) + ")"
		}
		return AdmissionResult{Outcome: Rejected, Reason: reason}, nil
	}

	res := AdmissionResult{Outcome: AdmittedAfterEviction}
	for _, v := range victims {
		m.markEvictingLocked(v)
		res.Evicted = append(res.Evicted, v.id)
	}
	m.reserveLocked(s, bytes)
	return res, victims
}

func (m *Manager) reserveLocked(s *session, bytes int64) {
	s.bytes += bytes
	m.used += bytes
}

func (m *Manager) markEvictingLocked(v *session) {
	v.state = StateEvicting
	v.closing = true
	m.used -= v.bytes
	v.bytes = 0
}

// evictOneLocked marks the LRU candidate other than exclude for eviction.
func (m *Manager) evictOneLocked(exclude *session) *session {
	c := m.evictionCandidatesLocked(exclude)
	if len(c) == 0 {
		return nil
	}
	m.markEvictingLocked(c[0])
	return c[0]
}

// evict unloads sessions marked by admitLocked or evictOneLocked.
func (m *Manager) evict(victims []*session, cause string) {
	for _, v := range victims {
		m.teardown(v, EventSessionEvicted, map[string]any{"cause": cause})
	}
}

// Admit reserves bytes more for an existing session, evicting LRU sessions
// if needed. Rejected admissions change nothing.
func (m *Manager) Admit(sessionID string, bytes int64) (AdmissionResult, error) {
	m.mu.Lock()
	s := m.sessions[sessionID]
	if s == nil {
		m.mu.Unlock()
		return AdmissionResult{}, SessionNotFoundError{SessionID: sessionID}
	}
	res, victims := m.admitLocked(s, bytes)
	m.mu.Unlock()
	m.evict(victims, "admission")
	return res, nil
}

// SetMemoryBudget changes the budget at runtime and evicts LRU sessions until
// the used total fits. Generating sessions are never evicted, so the total
// may stay above a lowered budget until they finish; later admissions are
// rejected meanwhile. A non-positive budget means unbounded.
func (m *Manager) SetMemoryBudget(bytes int64) []string {
	if bytes <= 0 {
		bytes = math.MaxInt64
	}
	m.mu.Lock()
	m.budget = bytes
	var victims []*session
	for m.used > m.budget {
		v := m.evictOneLocked(nil)
		if v == nil {
			break
		}
		victims = append(victims, v)
	}
	over := m.used > m.budget
	m.mu.Unlock()
	if over {
		m.log.Warn().Int64("budget", bytes).Msg("event=budget_over_protected_sessions")
	}
	m.evict(victims, "budget_change")
	ids := make([]string, len(victims))
	for i, v := range victims {
		ids[i] = v.id
	}
	return ids
}

package manager

import (
	"sync/atomic"
	"time"

	"sessiond/internal/engine"
	"sessiond/internal/generation"
	"sessiond/internal/prompt"
)

// SessionState is the lifecycle state of a session.
type SessionState string

const (
	StateUninitialized SessionState = "uninitialized"
	StateLoading       SessionState = "loading"
	StateReady         SessionState = "ready"
	StateGenerating    SessionState = "generating"
	StateEvicting      SessionState = "evicting"
	StateClosed        SessionState = "closed"
)

// resident reports whether the state counts towards maxSessions.
func (s SessionState) resident() bool {
	return s == StateLoading || s == StateReady || s == StateGenerating
}

// SessionConfig are per-session options for StartSession. Zero values use
// Manager defaults.
type SessionConfig struct {
	ContextSize int
	Threads     int
	Template    string
	// EstimatedBytes overrides the pre-load memory estimate.
	EstimatedBytes int64
}

// session is one loaded model instance. Fields other than lastAccess are
// guarded by Manager.mu.
type session struct {
	id          string
	modelID     string
	provider    string
	variant     string
	state       SessionState
	contextSize int
	threads     int
	createdAt   time.Time
	bytes       int64
	closing     bool
	// unloadOnRelease defers teardown to the generation holding genCh.
	unloadOnRelease bool

	adapter engine.Adapter
	handle  *engine.Handle
	builder prompt.Builder

	lastAccess atomic.Int64 // unix nanos

	genCh   chan struct{} // size 1: single in-flight generation
	queueCh chan struct{} // buffered: queue slots
	active  *generation.Controller
}

func (s *session) touch(t time.Time) { s.lastAccess.Store(t.UnixNano()) }

func (s *session) lastAccessed() time.Time { return time.Unix(0, s.lastAccess.Load()) }

// idle reports whether no generation is running or queued.
func (s *session) idle() bool { return len(s.genCh) == 0 && len(s.queueCh) == 0 }

// SessionInfo is a read-only snapshot of a session.
type SessionInfo struct {
	ID             string
	ModelID        string
	Provider       string
	Variant        string
	State          SessionState
	ContextSize    int
	Threads        int
	Template       string
	EstimatedBytes int64
	CreatedAt      time.Time
	LastAccessedAt time.Time
	QueueLen       int
	Inflight       int
}

// MemoryStats is a snapshot of the memory budget.
type MemoryStats struct {
	ActiveSessions int
	TotalBytes     int64
	BudgetBytes    int64
}

// AdmissionOutcome classifies an admission decision.
type AdmissionOutcome int

const (
	Admitted AdmissionOutcome = iota
	AdmittedAfterEviction
	Rejected
)

func (o AdmissionOutcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case AdmittedAfterEviction:
		return "admitted_after_eviction"
	default:
		return "rejected"
	}
}

// AdmissionResult is the result of Admit. Evicted lists sessions closed to
// make room, oldest access first. Reason is set when rejected.
type AdmissionResult struct {
	Outcome AdmissionOutcome
	Evicted []string
	Reason  string
}

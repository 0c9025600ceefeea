package manager

import (
	"context"
	"time"

	"github.com/google/uuid"

	"sessiond/internal/engine"
	"sessiond/internal/modelstore"
	"sessiond/internal/prompt"
)

// StartSession loads modelID into a new session and returns its id. The
// session is admitted against the memory budget before loading; LRU idle
// sessions are evicted to make room. Load failures close the session.
func (m *Manager) StartSession(ctx context.Context, modelID string, cfg SessionConfig) (string, error) {
	startTs := m.now()
	if m.cfg.Models == nil {
		return "", engine.InvalidConfigError{Field: "models", Reason: "no model resolver configured"}
	}
	mdl, err := m.cfg.Models.Resolve(modelID)
	if err != nil {
		return "", err
	}
	adapter, provider, err := m.cfg.Providers.NewAdapter(modelID)
	if err != nil {
		return "", err
	}
	ctxSize, err := m.contextSize(mdl, cfg.ContextSize)
	if err != nil {
		return "", err
	}
	threads := cfg.Threads
	if threads <= 0 {
		threads = m.cfg.DefaultThreads
	}
	tmpl := cfg.Template
	if tmpl == "" {
		tmpl = mdl.Template
	}
	if tmpl == "" {
		tmpl = m.cfg.DefaultTemplate
	}
	builder, err := prompt.ForTemplate(tmpl)
	if err != nil {
		return "", err
	}
	est := cfg.EstimatedBytes
	if est <= 0 {
		est = mdl.SizeBytes + int64(ctxSize)*m.cfg.KVBytesPerToken
	}

	now := m.now()
	s := &session{
		id:          uuid.NewString(),
		modelID:     modelID,
		provider:    provider,
		state:       StateUninitialized,
		contextSize: ctxSize,
		threads:     threads,
		createdAt:   now,
		adapter:     adapter,
		builder:     builder,
		genCh:       make(chan struct{}, 1),
		queueCh:     make(chan struct{}, m.cfg.MaxQueueDepth),
	}
	s.touch(now)
	log := m.log.With().Str("session", s.id).Str("model", modelID).Logger()
	log.Info().Str("provider", provider).Int("ctx", ctxSize).Int64("est_bytes", est).Msg("event=session_start")

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", SessionClosedError{SessionID: s.id, State: StateClosed}
	}
	m.sessions[s.id] = s
	res, victims := m.admitLocked(s, est)
	if res.Outcome == Rejected {
		delete(m.sessions, s.id)
		budget := m.budget
		m.mu.Unlock()
		log.Warn().Str("reason", res.Reason).Msg("event=admission_rejected")
		m.publisher.Publish(Event{Name: EventAdmissionRejected, SessionID: s.id, ModelID: modelID, Fields: map[string]any{"reason": res.Reason, "bytes": est}})
		return "", engine.OutOfMemoryError{Requested: est, Budget: budget, Reason: res.Reason}
	}
	s.state = StateLoading
	m.mu.Unlock()
	m.evict(victims, "admission")

	h, variant, err := m.load(ctx, s, mdl)
	if err != nil {
		log.Error().Err(err).Msg("event=session_load_failed")
		m.publisher.Publish(Event{Name: EventSessionLoadFailed, SessionID: s.id, ModelID: modelID, Fields: map[string]any{"error": err.Error()}})
		m.teardown(s, "", nil)
		return "", err
	}

	m.mu.Lock()
	s.handle = h
	s.variant = variant
	m.mu.Unlock()

	if err := m.reconcile(s); err != nil {
		log.Warn().Err(err).Msg("event=session_reconcile_rejected")
		m.publisher.Publish(Event{Name: EventSessionLoadFailed, SessionID: s.id, ModelID: modelID, Fields: map[string]any{"error": err.Error()}})
		m.teardown(s, "", nil)
		return "", err
	}

	m.mu.Lock()
	if s.closing {
		m.mu.Unlock()
		m.teardown(s, EventSessionClosed, nil)
		return "", SessionClosedError{SessionID: s.id, State: StateClosed}
	}
	s.state = StateReady
	s.touch(m.now())
	bytes := s.bytes
	m.mu.Unlock()

	dur := m.now().Sub(startTs)
	log.Info().Str("variant", variant).Int64("bytes", bytes).Dur("dur", dur).Str("admission", res.Outcome.String()).Msg("event=session_ready")
	m.publisher.Publish(Event{Name: EventSessionAdmitted, SessionID: s.id, ModelID: modelID, Fields: map[string]any{
		"outcome":  res.Outcome.String(),
		"evicted":  res.Evicted,
		"bytes":    bytes,
		"variant":  variant,
		"provider": provider,
		"dur_ms":   int(dur / time.Millisecond),
	}})
	return s.id, nil
}

// contextSize is the requested size (or default) capped at the model's
// declared context length.
func (m *Manager) contextSize(mdl modelstore.Model, requested int) (int, error) {
	if requested < 0 {
		return 0, engine.InvalidConfigError{Field: "context_size", Reason: "must be >= 0"}
	}
	n := requested
	if n == 0 {
		n = m.cfg.DefaultContextSize
	}
	if mdl.ContextLength > 0 && n > mdl.ContextLength {
		n = mdl.ContextLength
	}
	return n, nil
}

// load walks the ranked variants. An out-of-memory failure triggers one
// eviction pass and one retry.
func (m *Manager) load(ctx context.Context, s *session, mdl modelstore.Model) (*engine.Handle, string, error) {
	opts := engine.LoadOptions{ModelPath: mdl.Path, ContextSize: s.contextSize, Threads: s.threads}
	variants := m.cfg.Detector.Ranked()
	h, v, err := engine.LoadWithFallback(ctx, s.adapter, variants, opts, m.log)
	if err == nil {
		return h, v.ID, nil
	}
	if !engine.IsOutOfMemory(err) {
		return nil, "", err
	}
	m.mu.Lock()
	victim := m.evictOneLocked(s)
	m.mu.Unlock()
	if victim == nil {
		return nil, "", err
	}
	m.log.Warn().Str("session", s.id).Str("victim", victim.id).Msg("event=load_oom_evict_retry")
	m.evict([]*session{victim}, "load_oom")
	h, v, err = engine.LoadWithFallback(ctx, s.adapter, variants, opts, m.log)
	if err != nil {
		return nil, "", err
	}
	return h, v.ID, nil
}

// reconcile replaces the pre-load estimate with the adapter's report. Growth
// goes through admission; shrinkage is released.
func (m *Manager) reconcile(s *session) error {
	actual, err := s.adapter.MemoryUsage(s.handle)
	if err != nil || actual <= 0 {
		return nil
	}
	m.mu.Lock()
	delta := actual - s.bytes
	if delta <= 0 {
		s.bytes += delta
		m.used += delta
		m.mu.Unlock()
		return nil
	}
	res, victims := m.admitLocked(s, delta)
	budget := m.budget
	m.mu.Unlock()
	m.evict(victims, "reconcile")
	if res.Outcome == Rejected {
		return engine.OutOfMemoryError{Requested: actual, Budget: budget, Reason: res.Reason}
	}
	return nil
}

// CloseSession cancels any running generation, waits for queued requests to
// drain, unloads the model and removes the session. Closing an already
// closing session is a no-op. The handle is never unloaded under a running
// decode step: when a generation still holds the session after DrainTimeout,
// it unloads the session itself once it finishes.
func (m *Manager) CloseSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	s := m.sessions[sessionID]
	if s == nil {
		m.mu.Unlock()
		return SessionNotFoundError{SessionID: sessionID}
	}
	if s.closing {
		m.mu.Unlock()
		return nil
	}
	s.closing = true
	active := s.active
	loading := s.state == StateLoading || s.state == StateUninitialized
	m.mu.Unlock()

	if loading {
		// StartSession tears the session down when its load returns.
		return nil
	}
	if active != nil {
		active.Cancel()
	}
	deadline := m.now().Add(m.cfg.DrainTimeout)
	for !s.idle() {
		if m.now().After(deadline) {
			m.log.Warn().Str("session", sessionID).Int("inflight", len(s.genCh)).Int("queue", len(s.queueCh)).Msg("event=close_drain_timeout")
			break
		}
		select {
		case <-ctx.Done():
			m.teardownWhenReleased(s)
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	m.teardownWhenReleased(s)
	return nil
}

// teardownWhenReleased tears s down now unless a generation holds its
// handle, in which case releaseSlot does it when that generation ends.
func (m *Manager) teardownWhenReleased(s *session) {
	m.mu.Lock()
	if len(s.genCh) > 0 {
		s.unloadOnRelease = true
		m.mu.Unlock()
		m.log.Warn().Str("session", s.id).Msg("event=close_deferred")
		return
	}
	m.mu.Unlock()
	m.teardown(s, EventSessionClosed, nil)
}

// teardown releases the handle once, returns the session's bytes to the
// budget and removes it. event, when set, is published afterwards.
func (m *Manager) teardown(s *session, event string, fields map[string]any) {
	m.mu.RLock()
	h := s.handle
	m.mu.RUnlock()
	if h != nil {
		if err := s.adapter.Unload(h); err != nil {
			m.log.Warn().Err(err).Str("session", s.id).Msg("event=unload_error")
		}
	}
	m.mu.Lock()
	m.used -= s.bytes
	if m.used < 0 {
		m.used = 0
	}
	s.bytes = 0
	s.state = StateClosed
	s.closing = true
	if m.sessions[s.id] == s {
		delete(m.sessions, s.id)
	}
	m.mu.Unlock()
	if event == "" {
		return
	}
	if fields == nil {
		fields = map[string]any{}
	}
	m.log.Info().Str("session", s.id).Str("model", s.modelID).Msg("event=" + event)
	m.publisher.Publish(Event{Name: event, SessionID: s.id, ModelID: s.modelID, Fields: fields})
}

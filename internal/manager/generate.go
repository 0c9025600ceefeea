package manager

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sessiond/internal/engine"
	"sessiond/internal/generation"
	"sessiond/internal/prompt"
	"sessiond/internal/sampler"
	"sessiond/internal/window"
)

// GenerateRequest is one generation on a session. The last turn is the new
// input; earlier turns are history.
type GenerateRequest struct {
	Turns     []prompt.Turn
	Params    sampler.Params
	MaxTokens int
	Stops     []string
	// Timeout overrides the configured generation timeout; zero keeps it.
	Timeout time.Duration
}

func (r GenerateRequest) validate() error {
	if len(r.Turns) == 0 {
		return engine.InvalidConfigError{Field: "messages", Reason: "at least one turn required"}
	}
	for _, t := range r.Turns {
		switch t.Role {
		case prompt.RoleSystem, prompt.RoleUser, prompt.RoleAssistant:
		default:
			return engine.InvalidConfigError{Field: "messages.role", Reason: "unknown role " + string(t.Role)}
		}
	}
	return nil
}

// Generate starts a generation and returns its chunk stream. Errors returned
// here are validation, lookup and backpressure failures; everything after
// acceptance, including context overflow, arrives as the final chunk.
func (m *Manager) Generate(ctx context.Context, sessionID string, req GenerateRequest) (*generation.Stream, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	timeout := req.Timeout
	if timeout == 0 {
		timeout = m.cfg.GenerationTimeout
	}
	greq := generation.Request{
		Params:    req.Params,
		MaxTokens: req.MaxTokens,
		Stops:     append(append([]string(nil), req.Stops...), prompt.EndMarkers...),
		Timeout:   timeout,
	}
	if err := greq.Validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	s := m.sessions[sessionID]
	var state SessionState
	var adapter engine.Adapter
	if s != nil {
		state, adapter = s.state, s.adapter
	}
	m.mu.RUnlock()
	if s == nil {
		return nil, SessionNotFoundError{SessionID: sessionID}
	}
	switch state {
	case StateEvicting, StateClosed:
		return nil, SessionClosedError{SessionID: sessionID, State: state}
	case StateUninitialized, StateLoading:
		return nil, SessionBusyError{SessionID: sessionID}
	}
	if pc, ok := adapter.(engine.ParamsChecker); ok {
		if err := pc.CheckParams(req.Params); err != nil {
			return nil, err
		}
	}

	release, err := m.beginGeneration(ctx, s)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if s.closing || s.state != StateReady {
		st := s.state
		m.mu.Unlock()
		if m.releaseSlot(s, release) {
			m.teardown(s, EventSessionClosed, nil)
		}
		return nil, SessionClosedError{SessionID: sessionID, State: st}
	}
	s.state = StateGenerating
	s.touch(m.now())
	handle, builder, ctxSize := s.handle, s.builder, s.contextSize
	m.mu.Unlock()

	history, input := req.Turns[:len(req.Turns)-1], req.Turns[len(req.Turns)-1]
	target := window.Target{
		ContextSize: ctxSize,
		Builder:     builder,
		Tokenizer: window.TokenizerFunc(func(text string) ([]int, error) {
			return adapter.Tokenize(handle, text)
		}),
	}
	greq.Prepare = func() ([]int, error) {
		res, err := m.window.Prepare(target, history, input, req.MaxTokens)
		if err != nil {
			return nil, err
		}
		return res.Tokens, nil
	}

	log := m.log.With().Str("session", sessionID).Str("model", s.modelID).Logger()
	chunkEvents := &rate.Sometimes{First: 1, Interval: m.cfg.ChunkEventInterval}
	var finishOnce sync.Once
	ctrl := generation.NewController(generation.Config{
		Adapter:    adapter,
		Handle:     handle,
		Pool:       m.pool,
		BufferSize: m.cfg.ChunkBuffer,
		Log:        log,
		Hooks: generation.Hooks{
			Touch: func(time.Time) { s.touch(m.now()) },
			FirstToken: func(ttft time.Duration) {
				m.publisher.Publish(Event{Name: EventGenerationFirstToken, SessionID: sessionID, ModelID: s.modelID, Fields: map[string]any{
					"latency_ms": ttft.Milliseconds(),
				}})
			},
			Chunk: func(c generation.Chunk, tps float64) {
				chunkEvents.Do(func() {
					m.publisher.Publish(Event{Name: EventGenerationChunk, SessionID: sessionID, ModelID: s.modelID, Fields: map[string]any{
						"token_index": c.TokenIndex, "tokens_per_second": tps,
					}})
				})
			},
			Finish: func(o generation.Outcome) {
				finishOnce.Do(func() { m.finishGeneration(s, o, release) })
			},
		},
	})

	m.mu.Lock()
	s.active = ctrl
	m.mu.Unlock()

	log.Debug().Int("max_tokens", req.MaxTokens).Int("turns", len(req.Turns)).Msg("event=generation_started")
	m.publisher.Publish(Event{Name: EventGenerationStarted, SessionID: sessionID, ModelID: s.modelID, Fields: map[string]any{
		"max_tokens": req.MaxTokens, "turns": len(req.Turns),
	}})
	stream, err := ctrl.Start(ctx, greq)
	if err != nil {
		finishOnce.Do(func() { m.finishGeneration(s, generation.Outcome{State: generation.StateError, Reason: generation.FinishError, Err: err}, release) })
		return nil, err
	}
	return stream, nil
}

// finishGeneration returns the session to Ready and releases its slot before
// the final chunk is delivered, so callers can issue the next request as
// soon as they see it. It runs after the decode loop stopped touching the
// handle, so a deferred close can unload here.
func (m *Manager) finishGeneration(s *session, o generation.Outcome, release func()) {
	m.mu.Lock()
	s.active = nil
	if s.state == StateGenerating {
		s.state = StateReady
	}
	s.touch(m.now())
	m.mu.Unlock()
	closeNow := m.releaseSlot(s, release)

	fields := map[string]any{
		"finish_reason":     string(o.Reason),
		"prompt_tokens":     o.Metrics.PromptTokens,
		"completion_tokens": o.Metrics.CompletionTokens,
		"tokens_per_second": o.Metrics.TokensPerSecond,
		"latency_ms":        o.Metrics.TimeToFirstToken.Milliseconds(),
		"duration_ms":       o.Metrics.Duration.Milliseconds(),
	}
	switch o.State {
	case generation.StateError:
		if o.Err != nil {
			fields["error"] = o.Err.Error()
		}
		m.log.Warn().Err(o.Err).Str("session", s.id).Str("finish_reason", string(o.Reason)).Msg("event=generation_error")
		m.publisher.Publish(Event{Name: EventGenerationError, SessionID: s.id, ModelID: s.modelID, Fields: fields})
	default:
		if o.Metrics.StopCause != "" {
			fields["stop_cause"] = o.Metrics.StopCause
		}
		if o.Err != nil {
			fields["error"] = o.Err.Error()
		}
		m.log.Info().Str("session", s.id).Str("finish_reason", string(o.Reason)).Int("tokens", o.Metrics.CompletionTokens).
			Float64("tps", o.Metrics.TokensPerSecond).Msg("event=generation_completed")
		m.publisher.Publish(Event{Name: EventGenerationCompleted, SessionID: s.id, ModelID: s.modelID, Fields: fields})
	}
	if closeNow {
		m.teardown(s, EventSessionClosed, nil)
	}
}

// releaseSlot frees the generation slot. It reports whether a close was
// waiting on the slot; the caller then owns the teardown.
func (m *Manager) releaseSlot(s *session, release func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	release()
	pending := s.unloadOnRelease
	s.unloadOnRelease = false
	return pending
}

// Cancel stops the running generation of a session. The session stays
// Ready; without a running generation Cancel is a no-op.
func (m *Manager) Cancel(sessionID string) error {
	m.mu.RLock()
	s := m.sessions[sessionID]
	var active *generation.Controller
	if s != nil {
		active = s.active
	}
	m.mu.RUnlock()
	if s == nil {
		return SessionNotFoundError{SessionID: sessionID}
	}
	if active != nil {
		active.Cancel()
	}
	return nil
}

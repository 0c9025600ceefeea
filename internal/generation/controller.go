// Package generation runs the decode loop of one request and streams its
// output as chunks.
package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"sessiond/internal/engine"
	"sessiond/internal/sampler"
)

// State of a Controller.
type State int32

const (
	StateIdle State = iota
	StatePrefilling
	StateDecoding
	StateCompleted
	StateCancelled
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePrefilling:
		return "prefilling"
	case StateDecoding:
		return "decoding"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Terminal reports whether s is final.
func (s State) Terminal() bool { return s >= StateCompleted }

// FinishReason is carried by the final chunk.
type FinishReason string

const (
	FinishCompleted       FinishReason = "completed"
	FinishCancelled       FinishReason = "cancelled"
	FinishContextExceeded FinishReason = "context_exceeded"
	FinishError           FinishReason = "error"
)

// Stop causes reported in Metrics for completed generations.
const (
	StopEOS       = "eos"
	StopSequence  = "stop_sequence"
	StopMaxTokens = "max_tokens"
)

// Metrics summarise a finished generation.
type Metrics struct {
	PromptTokens     int
	CompletionTokens int
	TimeToFirstToken time.Duration
	TokensPerSecond  float64
	Duration         time.Duration
	StopCause        string
}

// Chunk is one text delta. Metrics is set only on the final chunk.
type Chunk struct {
	Text         string
	TokenIndex   int
	Final        bool
	FinishReason FinishReason
	Err          error
	Metrics      *Metrics
}

// Request is one generation. Prepare, when set, runs on the decode goroutine
// and supplies the prompt tokens; otherwise Prompt is used.
type Request struct {
	Prompt    []int
	Prepare   func() ([]int, error)
	Params    sampler.Params
	MaxTokens int
	Stops     []string
	Timeout   time.Duration
}

// Validate checks values that do not depend on the model.
func (r Request) Validate() error {
	if r.MaxTokens <= 0 {
		return engine.InvalidConfigError{Field: "max_tokens", Reason: "must be > 0"}
	}
	if r.Params.Temperature < 0 {
		return engine.InvalidConfigError{Field: "temperature", Reason: "must be >= 0"}
	}
	if r.Params.TopK < 0 {
		return engine.InvalidConfigError{Field: "top_k", Reason: "must be >= 0"}
	}
	if r.Params.MinP < 0 || r.Params.MinP > 1 {
		return engine.InvalidConfigError{Field: "min_p", Reason: "must be within [0,1]"}
	}
	if r.Timeout < 0 {
		return engine.InvalidConfigError{Field: "timeout", Reason: "must be >= 0"}
	}
	return nil
}

// Outcome is reported to Hooks.Finish before the final chunk is delivered.
type Outcome struct {
	State   State
	Reason  FinishReason
	Err     error
	Metrics Metrics
}

// Hooks observe a generation. All fields are optional and are called from
// the decode goroutine.
type Hooks struct {
	// Touch is called after every decode step.
	Touch func(time.Time)
	// FirstToken is called once with the latency to the first token.
	FirstToken func(time.Duration)
	// Chunk is called for every delivered text chunk with the running
	// tokens/sec.
	Chunk func(c Chunk, tokensPerSecond float64)
	// Finish is called exactly once when the generation ends.
	Finish func(Outcome)
}

// Config binds a Controller to a loaded handle.
type Config struct {
	Adapter engine.Adapter
	Handle  *engine.Handle
	// Pool bounds concurrent decode loops; nil means unbounded.
	Pool *semaphore.Weighted
	// BufferSize is the chunk channel capacity.
	BufferSize int
	Hooks      Hooks
	Log        zerolog.Logger
}

// errAbandoned is the cancel cause when the consumer closes the stream.
var errAbandoned = errors.New("stream abandoned")

// Controller drives one request. It is single-use: Start may be called once.
type Controller struct {
	cfg     Config
	state   atomic.Int32
	started atomic.Bool

	mu     sync.Mutex
	cancel context.CancelCauseFunc
}

// NewController returns an idle controller.
func NewController(cfg Config) *Controller {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 16
	}
	return &Controller{cfg: cfg}
}

// State returns the current state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Cancel stops the generation after the current decode step.
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel(engine.CancelledError{})
	}
}

// Start launches the decode loop and returns its stream.
func (c *Controller) Start(parent context.Context, req Request) (*Stream, error) {
	if !c.started.CompareAndSwap(false, true) {
		return nil, errors.New("generation: controller already used")
	}
	if err := req.Validate(); err != nil {
		c.state.Store(int32(StateError))
		return nil, err
	}
	ctx, cancel := context.WithCancelCause(parent)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	var timer *time.Timer
	if req.Timeout > 0 {
		timer = time.AfterFunc(req.Timeout, func() { cancel(engine.GenerationTimeoutError{After: req.Timeout}) })
	}
	s := newStream(c.cfg.BufferSize, cancel)
	c.state.Store(int32(StatePrefilling))
	go func() {
		defer cancel(nil)
		if timer != nil {
			defer timer.Stop()
		}
		c.run(ctx, req, s)
	}()
	return s, nil
}

type loop struct {
	c       *Controller
	req     Request
	s       *Stream
	start   time.Time
	decodeT time.Time
	first   bool
	m       Metrics
	buf     utf8Buffer
	stops   *stopMatcher
	tail    string
}

func (c *Controller) run(ctx context.Context, req Request, s *Stream) {
	l := &loop{c: c, req: req, s: s, start: time.Now(), stops: newStopMatcher(req.Stops)}
	state, reason, err := l.execute(ctx)
	l.m.Duration = time.Since(l.start)
	if secs := time.Since(l.decodeT).Seconds(); !l.decodeT.IsZero() && secs > 0 {
		l.m.TokensPerSecond = float64(l.m.CompletionTokens) / secs
	}
	// Every outcome resets: a backend may still be running the request
	// natively after max_tokens or a stop sequence ended it here.
	if r, ok := c.cfg.Adapter.(engine.GenerationResetter); ok && !c.cfg.Handle.Released() {
		if rerr := r.ResetGeneration(c.cfg.Handle); rerr != nil {
			c.cfg.Log.Warn().Err(rerr).Msg("event=generation_reset_failed")
		}
	}
	c.state.Store(int32(state))
	out := Outcome{State: state, Reason: reason, Err: err, Metrics: l.m}
	if f := c.cfg.Hooks.Finish; f != nil {
		f(out)
	}
	m := l.m
	s.finish(Chunk{Text: l.tail, FinishReason: reason, Err: err, Metrics: &m})
}

// execute returns the terminal state. Text still buffered at the end is left
// in l.tail for the final chunk.
func (l *loop) execute(ctx context.Context) (st State, reason FinishReason, err error) {
	defer func() {
		if r := recover(); r != nil {
			st, reason, err = StateError, FinishError, fmt.Errorf("generation panic: %v", r)
			l.c.cfg.Log.Error().Interface("panic", r).Msg("event=generation_panic")
		}
	}()
	cfg := l.c.cfg

	if cfg.Pool != nil {
		if err := cfg.Pool.Acquire(ctx, 1); err != nil {
			return l.cancelled(ctx)
		}
		defer cfg.Pool.Release(1)
	}
	if ctx.Err() != nil {
		return l.cancelled(ctx)
	}

	tokens := l.req.Prompt
	if l.req.Prepare != nil {
		if tokens, err = l.req.Prepare(); err != nil {
			return failure(err)
		}
	}
	l.m.PromptTokens = len(tokens)
	if limit := cfg.Handle.ContextSize(); len(tokens)+l.req.MaxTokens > limit {
		return failure(engine.ContextExceededError{Tokens: len(tokens) + l.req.MaxTokens, Limit: limit})
	}
	if err := cfg.Adapter.Prefill(cfg.Handle, tokens); err != nil {
		return failure(err)
	}
	if sa, ok := cfg.Adapter.(engine.StopAware); ok {
		sa.SetStopSequences(cfg.Handle, l.req.Stops)
	}

	l.c.state.Store(int32(StateDecoding))
	l.decodeT = time.Now()
	ss := engine.NewSamplingState(l.req.Params)
	for i := 0; i < l.req.MaxTokens; i++ {
		if ctx.Err() != nil {
			return l.cancelled(ctx)
		}
		tok, err := cfg.Adapter.DecodeStep(cfg.Handle, ss)
		now := time.Now()
		if cfg.Hooks.Touch != nil {
			cfg.Hooks.Touch(now)
		}
		if err != nil {
			return failure(err)
		}
		if !l.first {
			l.first = true
			l.m.TimeToFirstToken = now.Sub(l.start)
			if cfg.Hooks.FirstToken != nil {
				cfg.Hooks.FirstToken(l.m.TimeToFirstToken)
			}
		}
		if tok.EOS {
			l.m.StopCause = StopEOS
			l.flush()
			return StateCompleted, FinishCompleted, nil
		}
		l.m.CompletionTokens++
		text, matched := l.stops.Push(l.buf.Write(tok.Piece))
		if text != "" {
			l.emit(ctx, text)
		}
		if matched {
			l.m.StopCause = StopSequence
			return StateCompleted, FinishCompleted, nil
		}
	}
	if ctx.Err() != nil {
		return l.cancelled(ctx)
	}
	l.m.StopCause = StopMaxTokens
	l.flush()
	return StateCompleted, FinishCompleted, nil
}

func (l *loop) emit(ctx context.Context, text string) {
	ch := Chunk{Text: text}
	if !l.s.send(ctx, ch) {
		return
	}
	if f := l.c.cfg.Hooks.Chunk; f != nil {
		tps := 0.0
		if secs := time.Since(l.decodeT).Seconds(); secs > 0 {
			tps = float64(l.m.CompletionTokens) / secs
		}
		ch.TokenIndex = l.s.next - 1
		f(ch, tps)
	}
}

// flush moves held bytes and held stop-prefix text into the final chunk.
func (l *loop) flush() {
	text, _ := l.stops.Push(l.buf.Flush())
	l.tail = text + l.stops.Flush()
}

func (l *loop) cancelled(ctx context.Context) (State, FinishReason, error) {
	l.flush()
	cause := context.Cause(ctx)
	if engine.IsGenerationTimeout(cause) {
		return StateCancelled, FinishCancelled, cause
	}
	return StateCancelled, FinishCancelled, nil
}

func failure(err error) (State, FinishReason, error) {
	if engine.IsContextExceeded(err) {
		return StateError, FinishContextExceeded, err
	}
	return StateError, FinishError, err
}

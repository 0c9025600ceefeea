// Package reference is a pure-Go inference backend driven by bigram logit
// tables. It runs on every variant and host and backs tests, the CLI demo
// mode and hosts without the native library.
package reference

import (
	"context"
	"slices"
	"strings"
	"time"

	"sessiond/internal/engine"
)

// Options tunes the reference backend.
type Options struct {
	// Variants restricts the variant ids Load accepts. Empty accepts all.
	Variants []string
	// MemoryLimit makes Load fail with OutOfMemoryError above this estimate.
	MemoryLimit int64
	// StepDelay is slept inside every DecodeStep.
	StepDelay time.Duration
}

// Adapter implements engine.Adapter.
type Adapter struct {
	opts Options
}

// New returns a reference adapter.
func New(opts Options) *Adapter { return &Adapter{opts: opts} }

// Provider registers the reference backend for *.ref.json model ids.
func Provider(opts Options, priority int) engine.Provider {
	return engine.Provider{
		Name:      "reference",
		Priority:  priority,
		CanHandle: func(modelID string) bool { return strings.HasSuffix(strings.ToLower(modelID), FileSuffix) },
		New:       func() (engine.Adapter, error) { return New(opts), nil },
	}
}

type state struct {
	model       *Model
	contextSize int
	kv          []int
}

func (a *Adapter) Name() string { return "reference" }

func (a *Adapter) Load(ctx context.Context, o engine.LoadOptions) (*engine.Handle, error) {
	if len(a.opts.Variants) > 0 && !slices.Contains(a.opts.Variants, o.Variant.ID) {
		return nil, engine.NativeLibraryUnavailableError{Variant: o.Variant.ID, Library: o.Variant.Library}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := LoadFile(o.ModelPath)
	if err != nil {
		return nil, err
	}
	n := o.ContextSize
	if m.ContextLength > 0 && (n <= 0 || n > m.ContextLength) {
		n = m.ContextLength
	}
	if n <= 0 {
		return nil, engine.ModelLoadError{Path: o.ModelPath, Reason: "context size unknown"}
	}
	if a.opts.MemoryLimit > 0 && m.MemoryFor(n) > a.opts.MemoryLimit {
		return nil, engine.OutOfMemoryError{Requested: m.MemoryFor(n), Budget: a.opts.MemoryLimit, Reason: "reference allocation"}
	}
	st := &state{model: m, contextSize: n, kv: make([]int, 0, n)}
	return engine.NewHandle(st, n, o.Variant.ID, nil), nil
}

func stateOf(h *engine.Handle) (*state, error) {
	st, ok := h.Native().(*state)
	if !ok || st == nil {
		return nil, engine.ErrHandleReleased
	}
	return st, nil
}

func (a *Adapter) Tokenize(h *engine.Handle, text string) ([]int, error) {
	st, err := stateOf(h)
	if err != nil {
		return nil, err
	}
	return st.model.Tokenize(text)
}

func (a *Adapter) Prefill(h *engine.Handle, tokens []int) error {
	st, err := stateOf(h)
	if err != nil {
		return err
	}
	if len(tokens) > st.contextSize {
		return engine.ContextExceededError{Tokens: len(tokens), Limit: st.contextSize}
	}
	st.kv = append(st.kv[:0], tokens...)
	return nil
}

func (a *Adapter) DecodeStep(h *engine.Handle, s *engine.SamplingState) (engine.Token, error) {
	st, err := stateOf(h)
	if err != nil {
		return engine.Token{}, err
	}
	if len(st.kv) >= st.contextSize {
		return engine.Token{}, engine.ContextExceededError{Tokens: len(st.kv) + 1, Limit: st.contextSize}
	}
	if a.opts.StepDelay > 0 {
		time.Sleep(a.opts.StepDelay)
	}
	prev := -1
	if len(st.kv) > 0 {
		prev = st.kv[len(st.kv)-1]
	}
	id := s.Next(st.model.Logits(prev))
	st.kv = append(st.kv, id)
	return engine.Token{ID: id, Piece: st.model.Piece(id), EOS: id == st.model.EOS}, nil
}

func (a *Adapter) MemoryUsage(h *engine.Handle) (int64, error) {
	st, err := stateOf(h)
	if err != nil {
		return 0, err
	}
	return st.model.MemoryFor(st.contextSize), nil
}

// ResetGeneration drops decoded positions after an interrupted request.
func (a *Adapter) ResetGeneration(h *engine.Handle) error {
	st, err := stateOf(h)
	if err != nil {
		return err
	}
	st.kv = st.kv[:0]
	return nil
}

func (a *Adapter) Unload(h *engine.Handle) error { return h.Release() }

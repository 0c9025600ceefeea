// Package engine defines the contract between the session core and native
// inference backends, the provider registry that selects a backend per model,
// and the error taxonomy shared by all layers.
package engine

import (
	"context"
	"math/rand"

	"sessiond/internal/capability"
	"sessiond/internal/sampler"
)

// LoadOptions are the inputs to Adapter.Load.
type LoadOptions struct {
	ModelPath   string
	Variant     capability.Variant
	ContextSize int
	Threads     int
}

// Token is one decoded token. Piece holds raw bytes, which may be a partial
// UTF-8 sequence.
type Token struct {
	ID    int
	Piece []byte
	EOS   bool
}

// SamplingState carries per-request decoding state across DecodeStep calls.
type SamplingState struct {
	Params    sampler.Params
	Strategy  sampler.Strategy
	RNG       *rand.Rand
	Generated []int
}

// NewSamplingState seeds a fresh state for one request.
func NewSamplingState(p sampler.Params) *SamplingState {
	return &SamplingState{Params: p, Strategy: sampler.For(p), RNG: sampler.NewRNG(p.Seed)}
}

// Next picks a token from logits and records it.
func (s *SamplingState) Next(logits []float32) int {
	id := s.Strategy.NextToken(logits, s.Params, s.RNG)
	s.Generated = append(s.Generated, id)
	return id
}

// Adapter wraps one inference backend. Operations on a given Handle are not
// safe for concurrent use; callers serialize them per handle.
type Adapter interface {
	// Name identifies the backend in logs and listings.
	Name() string
	// Load opens a model. Errors are ModelLoadError,
	// NativeLibraryUnavailableError or OutOfMemoryError.
	Load(ctx context.Context, opts LoadOptions) (*Handle, error)
	Tokenize(h *Handle, text string) ([]int, error)
	// Prefill resets generation state and evaluates tokens. It fails with
	// ContextExceededError when len(tokens) exceeds the context size.
	Prefill(h *Handle, tokens []int) error
	// DecodeStep produces exactly one token. It blocks for one step of
	// compute.
	DecodeStep(h *Handle, st *SamplingState) (Token, error)
	MemoryUsage(h *Handle) (int64, error)
	// Unload releases h. A second call is a no-op.
	Unload(h *Handle) error
}

// ParamsChecker is implemented by adapters that honor only part of
// sampler.Params. CheckParams returns InvalidConfigError for requests the
// backend would otherwise decode with different settings.
type ParamsChecker interface {
	CheckParams(p sampler.Params) error
}

// GenerationResetter is implemented by adapters that hold per-request state
// outside the handle's KV cache. The controller calls it once every
// generation ends, before the next caller may touch the handle.
type GenerationResetter interface {
	ResetGeneration(h *Handle) error
}

// StopAware is implemented by adapters that can stop natively on stop
// sequences. The controller still applies its own matcher.
type StopAware interface {
	SetStopSequences(h *Handle, stops []string)
}

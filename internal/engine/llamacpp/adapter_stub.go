//go:build !llama

package llamacpp

import (
	"context"

	"sessiond/internal/engine"
)

// Adapter is the CGO-free stub; Load always reports the library missing.
type Adapter struct{ opts Options }

// New returns the stub adapter.
func New(opts Options) *Adapter { return &Adapter{opts: opts} }

func (a *Adapter) Name() string { return "llama.cpp" }

func (a *Adapter) Load(_ context.Context, o engine.LoadOptions) (*engine.Handle, error) {
	return nil, engine.NativeLibraryUnavailableError{Variant: o.Variant.ID, Library: o.Variant.Library, Err: errNotBuilt}
}

func (a *Adapter) Tokenize(*engine.Handle, string) ([]int, error) { return nil, errNotBuilt }
func (a *Adapter) Prefill(*engine.Handle, []int) error             { return errNotBuilt }
func (a *Adapter) DecodeStep(*engine.Handle, *engine.SamplingState) (engine.Token, error) {
	return engine.Token{}, errNotBuilt
}
func (a *Adapter) MemoryUsage(*engine.Handle) (int64, error) { return 0, errNotBuilt }
func (a *Adapter) Unload(h *engine.Handle) error            { return h.Release() }

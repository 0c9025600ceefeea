package engine

import (
	"sync"
	"sync/atomic"
)

// noCopy is flagged by go vet's copylocks check.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Handle owns one backend model/context. It must be passed by pointer and
// released exactly once; Release is safe to call repeatedly and only the
// first call reaches the backend.
type Handle struct {
	_ noCopy

	native      any
	contextSize int
	variant     string
	release     func() error

	once     sync.Once
	released atomic.Bool
	err      error
}

// NewHandle wraps a backend-private value. release frees it and may be nil.
func NewHandle(native any, contextSize int, variant string, release func() error) *Handle {
	return &Handle{native: native, contextSize: contextSize, variant: variant, release: release}
}

// Native returns the backend value, or nil once released.
func (h *Handle) Native() any {
	if h == nil || h.released.Load() {
		return nil
	}
	return h.native
}

// ContextSize is the effective context window of the loaded model.
func (h *Handle) ContextSize() int { return h.contextSize }

// Variant is the id of the variant the handle was loaded with.
func (h *Handle) Variant() string { return h.variant }

// Released reports whether Release has run.
func (h *Handle) Released() bool { return h == nil || h.released.Load() }

// Release frees the backend resource once and returns the first call's error
// on every call.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		h.released.Store(true)
		if h.release != nil {
			h.err = h.release()
		}
	})
	return h.err
}

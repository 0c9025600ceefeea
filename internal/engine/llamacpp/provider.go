// Package llamacpp adapts go-llama.cpp to engine.Adapter. The real backend is
// compiled with -tags=llama; default builds get a stub whose Load reports the
// native library as unavailable, keeping them CGO-free.
//
// One binary links exactly one llama.cpp build. BuiltVariant names it and is
// set at link time, e.g.
//
//	go build -tags=llama -ldflags "-X sessiond/internal/engine/llamacpp.BuiltVariant=arm64-dotprod-fp16"
//
// Load refuses every other variant, so the caller's fallback walks down to
// the linked one.
package llamacpp

import (
	"os"
	"strings"

	"sessiond/internal/engine"
)

// BuiltVariant is the variant id of the linked native library.
var BuiltVariant = "baseline"

// FileSuffix identifies models this backend accepts.
const FileSuffix = ".gguf"

// kvBytesPerToken is a coarse per-position estimate for KV cache and scratch
// buffers of the small quantized models targeted on device.
const kvBytesPerToken = 128 << 10

// Options tunes the llama.cpp backend.
type Options struct {
	// BatchSize caps prompt evaluation batches; zero uses min(ctx, 512).
	BatchSize int
	// MMap maps model weights instead of reading them.
	MMap bool
}

// Provider registers the backend for *.gguf model ids.
func Provider(opts Options, priority int) engine.Provider {
	return engine.Provider{
		Name:      "llama.cpp",
		Priority:  priority,
		CanHandle: func(modelID string) bool { return strings.HasSuffix(strings.ToLower(modelID), FileSuffix) },
		New:       func() (engine.Adapter, error) { return New(opts), nil },
	}
}

// estimateBytes is file size plus context-proportional buffers.
func estimateBytes(path string, ctx int) int64 {
	var size int64
	if st, err := os.Stat(path); err == nil {
		size = st.Size()
	}
	return size + int64(ctx)*kvBytesPerToken
}

func batchSize(opts Options, ctx int) int {
	if opts.BatchSize > 0 {
		return min(opts.BatchSize, ctx)
	}
	return min(ctx, 512)
}

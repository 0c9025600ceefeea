package llamacpp

import (
	"sessiond/internal/engine"
	"sessiond/internal/sampler"
)

// CheckParams rejects min-p: go-llama.cpp's Predict takes temperature, top-k
// and seed but has no min-p cutoff.
func (a *Adapter) CheckParams(p sampler.Params) error {
	if p.MinP > 0 {
		return engine.InvalidConfigError{Field: "min_p", Reason: "not supported by the llama.cpp backend"}
	}
	return nil
}

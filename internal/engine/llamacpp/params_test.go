package llamacpp

import (
	"errors"
	"testing"

	"sessiond/internal/engine"
	"sessiond/internal/sampler"
)

func TestCheckParams_RejectsMinP(t *testing.T) {
	var a engine.Adapter = New(Options{})
	pc, ok := a.(engine.ParamsChecker)
	if !ok {
		t.Fatalf("llama.cpp adapter must check sampling params")
	}
	err := pc.CheckParams(sampler.Params{Temperature: 0.7, MinP: 0.05})
	var ic engine.InvalidConfigError
	if !errors.As(err, &ic) || ic.Field != "min_p" {
		t.Fatalf("want InvalidConfigError on min_p, got %v", err)
	}
	if err := pc.CheckParams(sampler.Params{Temperature: 0.7, TopK: 40, Seed: 1}); err != nil {
		t.Fatalf("supported params rejected: %v", err)
	}
}

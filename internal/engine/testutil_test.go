package engine

import (
	"context"
	"sync/atomic"
)

// fakeAdapter records loads and frees. failVariants maps variant id to the
// error Load returns for it.
type fakeAdapter struct {
	failVariants map[string]error
	loads        []string
	frees        atomic.Int32
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Load(_ context.Context, o LoadOptions) (*Handle, error) {
	f.loads = append(f.loads, o.Variant.ID)
	if err, ok := f.failVariants[o.Variant.ID]; ok {
		return nil, err
	}
	return NewHandle(struct{}{}, o.ContextSize, o.Variant.ID, func() error {
		f.frees.Add(1)
		return nil
	}), nil
}

func (f *fakeAdapter) Tokenize(*Handle, string) ([]int, error) { return nil, nil }
func (f *fakeAdapter) Prefill(*Handle, []int) error             { return nil }
func (f *fakeAdapter) DecodeStep(*Handle, *SamplingState) (Token, error) {
	return Token{EOS: true}, nil
}
func (f *fakeAdapter) MemoryUsage(*Handle) (int64, error) { return 0, nil }
func (f *fakeAdapter) Unload(h *Handle) error            { return h.Release() }

package generation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"sessiond/internal/engine"
)

// scriptAdapter replays pieces, one per DecodeStep, then EOS.
type scriptAdapter struct {
	pieces  [][]byte
	delay   time.Duration
	failAt  int // 1-based step that returns errStep; 0 disables
	panicAt int

	mu       sync.Mutex
	step     int
	prefills int
	resets   atomic.Int32
	stops    []string
}

var errStep = errors.New("native decode failure")

func pieces(ss ...string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

func (a *scriptAdapter) Name() string { return "script" }
func (a *scriptAdapter) Load(context.Context, engine.LoadOptions) (*engine.Handle, error) {
	return engine.NewHandle(a, 4096, "baseline", nil), nil
}
func (a *scriptAdapter) Tokenize(_ *engine.Handle, s string) ([]int, error) {
	return make([]int, len(s)), nil
}
func (a *scriptAdapter) Prefill(_ *engine.Handle, tokens []int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prefills++
	a.step = 0
	return nil
}
func (a *scriptAdapter) DecodeStep(*engine.Handle, *engine.SamplingState) (engine.Token, error) {
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.step++
	if a.step == a.failAt {
		return engine.Token{}, errStep
	}
	if a.step == a.panicAt {
		panic("boom")
	}
	if a.step > len(a.pieces) {
		return engine.Token{ID: 0, EOS: true}, nil
	}
	return engine.Token{ID: a.step, Piece: a.pieces[a.step-1]}, nil
}
func (a *scriptAdapter) MemoryUsage(*engine.Handle) (int64, error) { return 0, nil }
func (a *scriptAdapter) Unload(h *engine.Handle) error            { return h.Release() }
func (a *scriptAdapter) ResetGeneration(*engine.Handle) error {
	a.resets.Add(1)
	return nil
}
func (a *scriptAdapter) SetStopSequences(_ *engine.Handle, stops []string) { a.stops = stops }

func newController(a *scriptAdapter, hooks Hooks) *Controller {
	h, _ := a.Load(context.Background(), engine.LoadOptions{})
	return NewController(Config{Adapter: a, Handle: h, Hooks: hooks, BufferSize: 4})
}

func text(chunks []Chunk) string {
	var s string
	for _, c := range chunks {
		s += c.Text
	}
	return s
}

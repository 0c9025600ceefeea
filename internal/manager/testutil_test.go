package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sessiond/internal/capability"
	"sessiond/internal/engine"
	"sessiond/internal/modelstore"
	"sessiond/internal/sampler"
)

const mb = int64(1 << 20)

// fakeBackend is shared by every adapter the test provider creates so loads
// and frees can be counted across sessions.
type fakeBackend struct {
	mu           sync.Mutex
	loads        []string
	failVariants map[string]error
	oomLoads     int   // leading loads that fail with OutOfMemoryError
	usage        int64 // reported by MemoryUsage; 0 keeps the estimate
	pieces       []string
	step         time.Duration
	gate         chan struct{} // when set, each DecodeStep waits on it
	rejectMinP   bool

	frees   atomic.Int32
	resets  atomic.Int32
	decoded atomic.Int32
	inStep  atomic.Int32 // DecodeStep calls currently running
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Load(_ context.Context, o engine.LoadOptions) (*engine.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loads = append(b.loads, o.Variant.ID)
	if err, ok := b.failVariants[o.Variant.ID]; ok {
		return nil, err
	}
	if b.oomLoads > 0 {
		b.oomLoads--
		return nil, engine.OutOfMemoryError{Requested: 1, Reason: "fake"}
	}
	pos := new(int)
	return engine.NewHandle(pos, o.ContextSize, o.Variant.ID, func() error {
		b.frees.Add(1)
		return nil
	}), nil
}

func (b *fakeBackend) Tokenize(h *engine.Handle, text string) ([]int, error) {
	if h.Released() {
		return nil, engine.ErrHandleReleased
	}
	out := make([]int, len(text))
	for i := range text {
		out[i] = int(text[i])
	}
	return out, nil
}

func (b *fakeBackend) Prefill(h *engine.Handle, tokens []int) error {
	if len(tokens) > h.ContextSize() {
		return engine.ContextExceededError{Tokens: len(tokens), Limit: h.ContextSize()}
	}
	*(h.Native().(*int)) = 0
	return nil
}

func (b *fakeBackend) DecodeStep(h *engine.Handle, _ *engine.SamplingState) (engine.Token, error) {
	b.inStep.Add(1)
	defer b.inStep.Add(-1)
	if b.gate != nil {
		<-b.gate
	}
	if b.step > 0 {
		time.Sleep(b.step)
	}
	b.decoded.Add(1)
	pos := h.Native().(*int)
	if *pos >= len(b.pieces) {
		return engine.Token{EOS: true}, nil
	}
	p := b.pieces[*pos]
	*pos++
	return engine.Token{ID: *pos, Piece: []byte(p)}, nil
}

func (b *fakeBackend) MemoryUsage(*engine.Handle) (int64, error) { return b.usage, nil }

func (b *fakeBackend) ResetGeneration(*engine.Handle) error {
	b.resets.Add(1)
	return nil
}

func (b *fakeBackend) Unload(h *engine.Handle) error { return h.Release() }

func (b *fakeBackend) CheckParams(p sampler.Params) error {
	if b.rejectMinP && p.MinP > 0 {
		return engine.InvalidConfigError{Field: "min_p", Reason: "unsupported"}
	}
	return nil
}

func (b *fakeBackend) loadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.loads)
}

type fakeResolver map[string]modelstore.Model

func (r fakeResolver) Resolve(id string) (modelstore.Model, error) {
	m, ok := r[id]
	if !ok {
		return modelstore.Model{}, modelstore.ModelNotFoundError{ID: id}
	}
	return m, nil
}

func newTestManager(t *testing.T, b *fakeBackend, mutate func(*Config)) (*Manager, *MemoryPublisher) {
	t.Helper()
	log := zerolog.Nop()
	reg := engine.NewRegistry(log)
	if err := reg.Register(engine.Provider{
		Name:      "fake",
		CanHandle: func(string) bool { return true },
		New:       func() (engine.Adapter, error) { return b, nil },
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	pub := NewMemoryPublisher()
	cfg := Config{
		Models: fakeResolver{
			"a.gguf": {ID: "a.gguf", Path: "/models/a.gguf", ContextLength: 4096},
			"b.gguf": {ID: "b.gguf", Path: "/models/b.gguf", ContextLength: 512, Template: "chatml"},
		},
		Providers:       reg,
		Detector:        capability.NewDetector([]capability.Variant{capability.BaselineVariant}, func() (capability.FeatureSet, error) { return capability.FeatureSet{}, nil }, log),
		MaxSessions:     8,
		MaxWait:         50 * time.Millisecond,
		DrainTimeout:    time.Second,
		KVBytesPerToken: 1,
		Publisher:       pub,
		Log:             log,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m := New(cfg)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m, pub
}

// start opens a session with a fixed estimate and advances the clock so
// access order is deterministic.
func start(t *testing.T, m *Manager, model string, bytes int64) string {
	t.Helper()
	id, err := m.StartSession(context.Background(), model, SessionConfig{EstimatedBytes: bytes})
	if err != nil {
		t.Fatalf("StartSession(%s): %v", model, err)
	}
	return id
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// fakeClock returns a monotonically advancing clock for Manager.now.
func fakeClock() func() time.Time {
	var mu sync.Mutex
	t0 := time.Unix(1_700_000_000, 0)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t0 = t0.Add(time.Millisecond)
		return t0
	}
}

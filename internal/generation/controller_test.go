package generation

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"sessiond/internal/capability"
	"sessiond/internal/engine"
	"sessiond/internal/engine/reference"
	"sessiond/internal/sampler"
)

func start(t *testing.T, c *Controller, req Request) *Stream {
	t.Helper()
	s, err := c.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return s
}

func final(t *testing.T, chunks []Chunk) Chunk {
	t.Helper()
	if len(chunks) == 0 {
		t.Fatalf("no chunks")
	}
	for _, c := range chunks[:len(chunks)-1] {
		if c.Final {
			t.Fatalf("final flag on non-terminal chunk %+v", c)
		}
	}
	f := chunks[len(chunks)-1]
	if !f.Final || f.FinishReason == "" {
		t.Fatalf("last chunk not final: %+v", f)
	}
	return f
}

func TestController_UTF8SplitAcrossSteps(t *testing.T) {
	// 中 is E4 B8 AD; split over three decode steps.
	a := &scriptAdapter{pieces: [][]byte{[]byte("h"), {0xE4}, {0xB8}, {0xAD}, []byte("!")}}
	chunks := Collect(start(t, newController(a, Hooks{}), Request{Prompt: []int{1}, MaxTokens: 16}))
	for _, c := range chunks {
		if !utf8.ValidString(c.Text) {
			t.Fatalf("chunk %d has invalid utf-8: %q", c.TokenIndex, c.Text)
		}
	}
	if got := text(chunks); got != "h中!" {
		t.Fatalf("text=%q", got)
	}
	if f := final(t, chunks); f.FinishReason != FinishCompleted || f.Metrics.StopCause != StopEOS {
		t.Fatalf("final=%+v", f)
	}
}

func TestController_TokenIndexStrictlyIncreasingFromZero(t *testing.T) {
	a := &scriptAdapter{pieces: pieces("a", "b", "c", "d", "e")}
	chunks := Collect(start(t, newController(a, Hooks{}), Request{Prompt: []int{1}, MaxTokens: 16}))
	for i, c := range chunks {
		if c.TokenIndex != i {
			t.Fatalf("chunk %d has index %d", i, c.TokenIndex)
		}
	}
	f := final(t, chunks)
	if f.Metrics == nil || f.Metrics.CompletionTokens != 5 || f.Metrics.PromptTokens != 1 {
		t.Fatalf("metrics=%+v", f.Metrics)
	}
	for _, c := range chunks[:len(chunks)-1] {
		if c.Metrics != nil {
			t.Fatalf("metrics on non-final chunk")
		}
	}
}

func TestController_CancelWithinOneStep(t *testing.T) {
	many := make([]string, 200)
	for i := range many {
		many[i] = "x"
	}
	a := &scriptAdapter{pieces: pieces(many...), delay: 50 * time.Millisecond}
	c := newController(a, Hooks{})
	s := start(t, c, Request{Prompt: []int{1}, MaxTokens: 200})

	if _, ok := s.Next(context.Background()); !ok {
		t.Fatalf("expected a first chunk")
	}
	cancelAt := time.Now()
	c.Cancel()
	var last Chunk
	for ch := range s.Chunks() {
		last = ch
	}
	if took := time.Since(cancelAt); took > 200*time.Millisecond {
		t.Fatalf("cancellation took %v", took)
	}
	if !last.Final || last.FinishReason != FinishCancelled || last.Err != nil {
		t.Fatalf("final=%+v", last)
	}
	if c.State() != StateCancelled {
		t.Fatalf("state=%v", c.State())
	}
	if a.resets.Load() != 1 {
		t.Fatalf("generation state not reset")
	}
}

func TestController_TimeoutUsesCancellationPath(t *testing.T) {
	a := &scriptAdapter{pieces: pieces("a", "b", "c", "d", "e", "f", "g", "h"), delay: 30 * time.Millisecond}
	chunks := Collect(start(t, newController(a, Hooks{}), Request{Prompt: []int{1}, MaxTokens: 8, Timeout: 70 * time.Millisecond}))
	f := final(t, chunks)
	if f.FinishReason != FinishCancelled || !engine.IsGenerationTimeout(f.Err) {
		t.Fatalf("final=%+v", f)
	}
}

func TestController_StopSequenceAcrossChunks(t *testing.T) {
	a := &scriptAdapter{pieces: pieces("Hello", " EN", "D more")}
	chunks := Collect(start(t, newController(a, Hooks{}), Request{Prompt: []int{1}, MaxTokens: 16, Stops: []string{"END"}}))
	if got := text(chunks); got != "Hello " {
		t.Fatalf("text=%q", got)
	}
	if f := final(t, chunks); f.Metrics.StopCause != StopSequence || f.FinishReason != FinishCompleted {
		t.Fatalf("final=%+v", f)
	}
	if len(a.stops) != 1 {
		t.Fatalf("stop-aware adapter not informed")
	}
	if a.resets.Load() != 1 {
		t.Fatalf("resets=%d after stop sequence, want 1", a.resets.Load())
	}
}

func TestController_MaxTokens(t *testing.T) {
	a := &scriptAdapter{pieces: pieces("a", "b", "c", "d")}
	chunks := Collect(start(t, newController(a, Hooks{}), Request{Prompt: []int{1}, MaxTokens: 2}))
	f := final(t, chunks)
	if text(chunks) != "ab" || f.Metrics.StopCause != StopMaxTokens || f.Metrics.CompletionTokens != 2 {
		t.Fatalf("text=%q final=%+v", text(chunks), f.Metrics)
	}
	// The backend is reset even though the request completed normally.
	if a.resets.Load() != 1 {
		t.Fatalf("resets=%d, want 1", a.resets.Load())
	}
}

func TestController_NativeErrorEmitsFinalChunk(t *testing.T) {
	var finishes atomic.Int32
	var got Outcome
	a := &scriptAdapter{pieces: pieces("a", "b", "c"), failAt: 2}
	c := newController(a, Hooks{Finish: func(o Outcome) { finishes.Add(1); got = o }})
	chunks := Collect(start(t, c, Request{Prompt: []int{1}, MaxTokens: 16}))
	f := final(t, chunks)
	if f.FinishReason != FinishError || f.Err != errStep {
		t.Fatalf("final=%+v", f)
	}
	if finishes.Load() != 1 || got.State != StateError {
		t.Fatalf("finish hook: calls=%d outcome=%+v", finishes.Load(), got)
	}
}

func TestController_PanicBecomesError(t *testing.T) {
	a := &scriptAdapter{pieces: pieces("a", "b"), panicAt: 1}
	f := final(t, Collect(start(t, newController(a, Hooks{}), Request{Prompt: []int{1}, MaxTokens: 4})))
	if f.FinishReason != FinishError || f.Err == nil {
		t.Fatalf("final=%+v", f)
	}
}

func TestController_ContextCheckedBeforePrefill(t *testing.T) {
	a := &scriptAdapter{pieces: pieces("a")}
	f := final(t, Collect(start(t, newController(a, Hooks{}), Request{Prompt: make([]int, 4000), MaxTokens: 200})))
	if f.FinishReason != FinishContextExceeded || !engine.IsContextExceeded(f.Err) {
		t.Fatalf("final=%+v", f)
	}
	if a.prefills != 0 {
		t.Fatalf("prefill ran for oversized prompt")
	}
}

func TestController_SingleUseAndValidation(t *testing.T) {
	a := &scriptAdapter{}
	c := newController(a, Hooks{})
	if _, err := c.Start(context.Background(), Request{MaxTokens: 0}); !engine.IsInvalidConfig(err) {
		t.Fatalf("want InvalidConfig, got %v", err)
	}
	if _, err := c.Start(context.Background(), Request{MaxTokens: 1}); err == nil {
		t.Fatalf("controller reuse should fail")
	}
}

func TestController_HooksTouchAndFirstToken(t *testing.T) {
	var touches, firsts, chunkCalls atomic.Int32
	a := &scriptAdapter{pieces: pieces("a", "b", "c")}
	c := newController(a, Hooks{
		Touch:      func(time.Time) { touches.Add(1) },
		FirstToken: func(time.Duration) { firsts.Add(1) },
		Chunk:      func(Chunk, float64) { chunkCalls.Add(1) },
	})
	Collect(start(t, c, Request{Prompt: []int{1}, MaxTokens: 8}))
	if touches.Load() != 4 || firsts.Load() != 1 || chunkCalls.Load() != 3 {
		t.Fatalf("touch=%d first=%d chunk=%d", touches.Load(), firsts.Load(), chunkCalls.Load())
	}
}

func TestController_CloseAbandonsStream(t *testing.T) {
	done := make(chan Outcome, 1)
	a := &scriptAdapter{pieces: pieces("a", "b", "c", "d", "e", "f"), delay: 10 * time.Millisecond}
	c := NewController(Config{Adapter: a, Handle: engine.NewHandle(a, 4096, "", nil), BufferSize: 1,
		Hooks: Hooks{Finish: func(o Outcome) { done <- o }}})
	s := start(t, c, Request{Prompt: []int{1}, MaxTokens: 6})
	s.Close()
	select {
	case o := <-done:
		if o.State != StateCancelled {
			t.Fatalf("state=%v", o.State)
		}
	case <-time.After(time.Second):
		t.Fatalf("decode loop did not stop after Close")
	}
}

func TestController_PoolBoundsConcurrency(t *testing.T) {
	pool := semaphore.NewWeighted(1)
	if !pool.TryAcquire(1) {
		t.Fatal("acquire")
	}
	a := &scriptAdapter{pieces: pieces("a")}
	c := NewController(Config{Adapter: a, Handle: engine.NewHandle(a, 4096, "", nil), Pool: pool})
	s := start(t, c, Request{Prompt: []int{1}, MaxTokens: 2})
	time.Sleep(30 * time.Millisecond)
	if c.State() != StatePrefilling || a.prefills != 0 {
		t.Fatalf("decode should wait for a pool slot, state=%v", c.State())
	}
	pool.Release(1)
	if f := final(t, Collect(s)); f.FinishReason != FinishCompleted {
		t.Fatalf("final=%+v", f)
	}
}

func TestController_GreedyDeterministicOnReferenceModel(t *testing.T) {
	p := filepath.Join(t.TempDir(), "m"+reference.FileSuffix)
	if err := reference.Chain("m", 256, "The", " quick", " fox", "<0xC3>", "<0xA9>").Write(p); err != nil {
		t.Fatal(err)
	}
	run := func() string {
		a := reference.New(reference.Options{})
		h, err := a.Load(context.Background(), engine.LoadOptions{ModelPath: p, Variant: capability.BaselineVariant})
		if err != nil {
			t.Fatal(err)
		}
		defer a.Unload(h)
		toks, _ := a.Tokenize(h, "say it")
		c := NewController(Config{Adapter: a, Handle: h, Log: zerolog.Nop()})
		s, err := c.Start(context.Background(), Request{Prompt: toks, MaxTokens: 32, Params: sampler.Params{Temperature: 0}})
		if err != nil {
			t.Fatal(err)
		}
		return text(Collect(s))
	}
	first, second := run(), run()
	if first != second || first != "The quick foxé" {
		t.Fatalf("runs differ or unexpected: %q vs %q", first, second)
	}
}

//go:build llama

package llamacpp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"

	"sessiond/internal/engine"
)

// Adapter drives go-llama.cpp. Predict is callback-based, so DecodeStep runs
// it on a goroutine and pulls one callback piece per step; the callback
// blocks until the next step asks for a token.
type Adapter struct{ opts Options }

// New returns the llama.cpp adapter.
func New(opts Options) *Adapter { return &Adapter{opts: opts} }

type state struct {
	model       *llama.LLama
	path        string
	contextSize int
	threads     int
	stops       []string

	// prompt is the text whose tokenization Prefill evaluates.
	prompt       string
	promptTokens []int
	run          *predictRun
}

// predictRun is one Predict call bridged to DecodeStep.
type predictRun struct {
	pieces chan string
	stop   chan struct{}
	done   chan error
}

func (a *Adapter) Name() string { return "llama.cpp" }

func (a *Adapter) Load(ctx context.Context, o engine.LoadOptions) (*engine.Handle, error) {
	if o.Variant.ID != BuiltVariant {
		return nil, engine.NativeLibraryUnavailableError{Variant: o.Variant.ID, Library: o.Variant.Library,
			Err: fmt.Errorf("binary links variant %s", BuiltVariant)}
	}
	if strings.TrimSpace(o.ModelPath) == "" {
		return nil, engine.ModelLoadError{Reason: "model path is empty"}
	}
	if _, err := os.Stat(o.ModelPath); err != nil {
		return nil, engine.ModelLoadError{Path: o.ModelPath, Reason: "stat", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := llama.New(o.ModelPath,
		llama.SetContext(o.ContextSize),
		llama.SetNBatch(batchSize(a.opts, o.ContextSize)),
		llama.SetMMap(a.opts.MMap),
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "alloc") {
			return nil, engine.OutOfMemoryError{Requested: estimateBytes(o.ModelPath, o.ContextSize), Reason: err.Error()}
		}
		return nil, engine.ModelLoadError{Path: o.ModelPath, Err: err}
	}
	st := &state{model: m, path: o.ModelPath, contextSize: o.ContextSize, threads: max(1, o.Threads)}
	return engine.NewHandle(st, o.ContextSize, o.Variant.ID, func() error {
		st.cancelRun()
		st.model.Free()
		return nil
	}), nil
}

func stateOf(h *engine.Handle) (*state, error) {
	st, ok := h.Native().(*state)
	if !ok || st == nil {
		return nil, engine.ErrHandleReleased
	}
	return st, nil
}

func (a *Adapter) Tokenize(h *engine.Handle, text string) ([]int, error) {
	st, err := stateOf(h)
	if err != nil {
		return nil, err
	}
	// A Predict left parked by an earlier request would run concurrently.
	st.cancelRun()
	_, ids, err := st.model.TokenizeString(text, llama.SetThreads(st.threads), llama.SetTokens(st.contextSize))
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	st.prompt, st.promptTokens = text, out
	return out, nil
}

// Prefill records the prompt; evaluation happens inside Predict on the first
// DecodeStep. tokens must come from the latest Tokenize call.
func (a *Adapter) Prefill(h *engine.Handle, tokens []int) error {
	st, err := stateOf(h)
	if err != nil {
		return err
	}
	if len(tokens) > st.contextSize {
		return engine.ContextExceededError{Tokens: len(tokens), Limit: st.contextSize}
	}
	if !slices.Equal(tokens, st.promptTokens) {
		return errors.New("llama.cpp: prefill tokens do not match the last tokenized prompt")
	}
	st.cancelRun()
	return nil
}

func (a *Adapter) SetStopSequences(h *engine.Handle, stops []string) {
	if st, err := stateOf(h); err == nil {
		st.stops = slices.Clone(stops)
	}
}

func (a *Adapter) DecodeStep(h *engine.Handle, s *engine.SamplingState) (engine.Token, error) {
	st, err := stateOf(h)
	if err != nil {
		return engine.Token{}, err
	}
	if st.run == nil {
		st.run = st.startRun(s)
	}
	select {
	case piece := <-st.run.pieces:
		return engine.Token{ID: -1, Piece: []byte(piece)}, nil
	case err := <-st.run.done:
		st.run = nil
		if err != nil {
			return engine.Token{}, err
		}
		return engine.Token{ID: -1, EOS: true}, nil
	}
}

func (st *state) startRun(s *engine.SamplingState) *predictRun {
	run := &predictRun{pieces: make(chan string), stop: make(chan struct{}), done: make(chan error, 1)}
	st.model.SetTokenCallback(func(tok string) bool {
		select {
		case run.pieces <- tok:
			return true
		case <-run.stop:
			return false
		}
	})
	p := s.Params
	po := []llama.PredictOption{
		llama.SetTokens(max(1, st.contextSize-len(st.promptTokens))),
		llama.SetThreads(st.threads),
		llama.SetTopK(p.TopK),
		llama.SetTemperature(p.Temperature),
		llama.SetSeed(int(p.Seed)),
	}
	if p.Greedy() {
		po = append(po, llama.SetTopK(1))
	}
	if len(st.stops) > 0 {
		po = append(po, llama.SetStopWords(st.stops...))
	}
	prompt := st.prompt
	go func() {
		_, err := st.model.Predict(prompt, po...)
		select {
		case <-run.stop:
			err = nil
		default:
		}
		run.done <- err
	}()
	return run
}

// cancelRun stops an in-flight Predict and waits for it to return.
func (st *state) cancelRun() {
	if st.run == nil {
		return
	}
	close(st.run.stop)
	<-st.run.done
	st.run = nil
}

// ResetGeneration stops the Predict goroutine of the finished request.
func (a *Adapter) ResetGeneration(h *engine.Handle) error {
	st, err := stateOf(h)
	if err != nil {
		return err
	}
	st.cancelRun()
	return nil
}

func (a *Adapter) MemoryUsage(h *engine.Handle) (int64, error) {
	st, err := stateOf(h)
	if err != nil {
		return 0, err
	}
	return estimateBytes(st.path, st.contextSize), nil
}

func (a *Adapter) Unload(h *engine.Handle) error { return h.Release() }

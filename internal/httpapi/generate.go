package httpapi

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"sessiond/internal/generation"
	"sessiond/internal/manager"
	"sessiond/internal/prompt"
	"sessiond/internal/sampler"
	"sessiond/pkg/types"
)

func generateRequest(req types.GenerateRequest) manager.GenerateRequest {
	turns := make([]prompt.Turn, len(req.Messages))
	for i, m := range req.Messages {
		turns[i] = prompt.Turn{Role: prompt.Role(m.Role), Content: m.Content}
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	return manager.GenerateRequest{
		Turns: turns,
		Params: sampler.Params{
			Temperature: req.Temperature,
			TopK:        req.TopK,
			MinP:        req.MinP,
			Seed:        req.Seed,
		},
		MaxTokens: maxTokens,
		Stops:     req.Stop,
		Timeout:   time.Duration(req.TimeoutMS) * time.Millisecond,
	}
}

// chunkDTO converts a stream chunk to its NDJSON form.
func chunkDTO(c generation.Chunk) types.Chunk {
	out := types.Chunk{Text: c.Text, TokenIndex: c.TokenIndex, Final: c.Final, FinishReason: string(c.FinishReason)}
	if c.Err != nil {
		out.Error = c.Err.Error()
	}
	if m := c.Metrics; m != nil {
		out.Metrics = &types.Metrics{
			PromptTokens:       m.PromptTokens,
			CompletionTokens:   m.CompletionTokens,
			TokensPerSecond:    m.TokensPerSecond,
			TimeToFirstTokenMS: m.TimeToFirstToken.Milliseconds(),
			DurationMS:         m.Duration.Milliseconds(),
			StopCause:          m.StopCause,
		}
	}
	return out
}

// generate streams one generation as NDJSON. Errors before the stream opens
// get a JSON error status; afterwards the final chunk carries the outcome.
func (h *handlers) generate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req types.GenerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		writeJSONError(w, http.StatusBadRequest, "messages are required")
		return
	}
	rl := beginRequestLog(r, "generate", func(z *zerolog.Event) { z.Str("session", id).Int("max_tokens", req.MaxTokens) })

	ctx, cancel := handlerContext(serverBaseCtx, r)
	defer cancel()
	stream, err := h.svc.Generate(ctx, id, generateRequest(req))
	if err != nil {
		rl.end("generate", writeError(w, err), err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	writer := io.Writer(w)
	if rl.lvl >= LevelDebug {
		writer = io.MultiWriter(w, &loggingLineWriter{log: zlog})
	}
	enc := json.NewEncoder(writer)

	var final generation.Chunk
	for c := range stream.Chunks() {
		if err := enc.Encode(chunkDTO(c)); err != nil {
			// Client went away; Close cancels the decode loop.
			rl.end("generate", 499, err)
			return
		}
		if flush != nil {
			flush()
		}
		if c.Final {
			final = c
			streamedChunks.WithLabelValues("final").Inc()
		} else {
			streamedChunks.WithLabelValues("text").Inc()
		}
	}
	endErr := final.Err
	if endErr == nil {
		endErr = shutdownCause(ctx)
	}
	rl.end("generate", http.StatusOK, endErr)
}

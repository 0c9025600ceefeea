package generation

import (
	"context"
	"sync"
)

// Stream is the consumer side of one generation: a finite, non-restartable
// sequence of chunks ending with exactly one final chunk. The channel is
// bounded; a slow consumer blocks the decode loop.
type Stream struct {
	ch      chan Chunk
	abandon chan struct{}
	once    sync.Once
	cancel  context.CancelCauseFunc

	next int
}

func newStream(size int, cancel context.CancelCauseFunc) *Stream {
	if size <= 0 {
		size = 1
	}
	return &Stream{ch: make(chan Chunk, size), abandon: make(chan struct{}), cancel: cancel}
}

// Chunks returns the receive side. It is closed after the final chunk.
func (s *Stream) Chunks() <-chan Chunk { return s.ch }

// Next blocks for the next chunk. ok is false once the stream is exhausted
// or ctx is done.
func (s *Stream) Next(ctx context.Context) (c Chunk, ok bool) {
	select {
	case c, ok = <-s.ch:
		return c, ok
	case <-ctx.Done():
		return Chunk{}, false
	}
}

// Close abandons the stream and cancels generation. Remaining chunks,
// including the final one, are discarded.
func (s *Stream) Close() {
	s.once.Do(func() {
		close(s.abandon)
		if s.cancel != nil {
			s.cancel(errAbandoned)
		}
	})
}

// send delivers a non-final chunk, dropping it when ctx is done or the
// stream is abandoned. Indices are assigned only to delivered chunks.
func (s *Stream) send(ctx context.Context, c Chunk) bool {
	c.TokenIndex = s.next
	select {
	case s.ch <- c:
		s.next++
		return true
	case <-ctx.Done():
		return false
	case <-s.abandon:
		return false
	}
}

// finish delivers the final chunk unless abandoned, then closes the channel.
func (s *Stream) finish(c Chunk) {
	c.TokenIndex = s.next
	c.Final = true
	select {
	case s.ch <- c:
	case <-s.abandon:
	}
	close(s.ch)
}

// Terminal returns a stream holding only a final chunk.
func Terminal(reason FinishReason, err error) *Stream {
	s := newStream(1, nil)
	s.finish(Chunk{FinishReason: reason, Err: err})
	return s
}

// Collect drains s and returns every chunk.
func Collect(s *Stream) []Chunk {
	var out []Chunk
	for c := range s.ch {
		out = append(out, c)
	}
	return out
}

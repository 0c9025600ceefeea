package manager

import (
	"context"
	"time"
)

// beginGeneration reserves a queue slot and then the single in-flight slot.
// Returns a release func to be called once the generation ends.
func (m *Manager) beginGeneration(ctx context.Context, s *session) (func(), error) {
	noop := func() {}
	m.mu.RLock()
	closing := s.closing
	m.mu.RUnlock()
	if closing {
		return noop, SessionClosedError{SessionID: s.id, State: StateClosed}
	}

	if err := ctx.Err(); err != nil {
		return noop, err
	}

	timer := time.NewTimer(m.cfg.MaxWait)
	defer timer.Stop()
	select {
	case s.queueCh <- struct{}{}:
	case <-ctx.Done():
		return noop, ctx.Err()
	case <-timer.C:
		return noop, SessionBusyError{SessionID: s.id}
	}

	acquired := false
	defer func() {
		if !acquired {
			<-s.queueCh
		}
	}()
	if err := ctx.Err(); err != nil {
		return noop, err
	}
	select {
	case s.genCh <- struct{}{}:
		acquired = true
		s.touch(m.now())
		return func() { <-s.genCh; <-s.queueCh }, nil
	case <-ctx.Done():
		return noop, ctx.Err()
	case <-timer.C:
		return noop, SessionBusyError{SessionID: s.id}
	}
}

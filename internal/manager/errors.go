package manager

import "errors"

// SessionBusyError signals queue timeout/overflow for 429 mapping.
type SessionBusyError struct{ SessionID string }

func (e SessionBusyError) Error() string { return "session busy: " + e.SessionID }

// IsSessionBusy reports whether err indicates backpressure (return 429).
func IsSessionBusy(err error) bool {
	var t SessionBusyError
	return errors.As(err, &t)
}

// SessionNotFoundError signals an unknown session id.
type SessionNotFoundError struct{ SessionID string }

func (e SessionNotFoundError) Error() string { return "session not found: " + e.SessionID }

// IsSessionNotFound reports whether err indicates a missing session.
func IsSessionNotFound(err error) bool {
	var t SessionNotFoundError
	return errors.As(err, &t)
}

// SessionClosedError signals a session that was closed or evicted while the
// caller was using it.
type SessionClosedError struct {
	SessionID string
	State     SessionState
}

func (e SessionClosedError) Error() string {
	return "session " + e.SessionID + " is " + string(e.State)
}

// IsSessionClosed reports whether err indicates a closed session.
func IsSessionClosed(err error) bool {
	var t SessionClosedError
	return errors.As(err, &t)
}

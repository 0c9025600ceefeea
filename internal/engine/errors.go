package engine

import (
	"errors"
	"fmt"
	"time"
)

// ModelLoadError signals a missing or unreadable model, or that every variant
// failed to load.
type ModelLoadError struct {
	Path   string
	Reason string
	Err    error
}

func (e ModelLoadError) Error() string {
	msg := "model load failed: " + e.Path
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e ModelLoadError) Unwrap() error { return e.Err }

// IsModelLoad reports whether err is a ModelLoadError.
func IsModelLoad(err error) bool {
	var t ModelLoadError
	return errors.As(err, &t)
}

// NativeLibraryUnavailableError signals that a variant's library cannot be
// loaded on this build or host. Callers retry with the next variant.
type NativeLibraryUnavailableError struct {
	Variant string
	Library string
	Err     error
}

func (e NativeLibraryUnavailableError) Error() string {
	msg := fmt.Sprintf("native library unavailable: variant=%s", e.Variant)
	if e.Library != "" {
		msg += " lib=" + e.Library
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e NativeLibraryUnavailableError) Unwrap() error { return e.Err }

// IsNativeLibraryUnavailable reports whether err is a NativeLibraryUnavailableError.
func IsNativeLibraryUnavailable(err error) bool {
	var t NativeLibraryUnavailableError
	return errors.As(err, &t)
}

// ContextExceededError signals a token sequence that does not fit the window.
type ContextExceededError struct {
	Tokens int
	Limit  int
}

func (e ContextExceededError) Error() string {
	return fmt.Sprintf("context exceeded: %d tokens > limit %d", e.Tokens, e.Limit)
}

// IsContextExceeded reports whether err is a ContextExceededError.
func IsContextExceeded(err error) bool {
	var t ContextExceededError
	return errors.As(err, &t)
}

// OutOfMemoryError signals a failed native allocation or a rejected admission.
type OutOfMemoryError struct {
	Requested int64
	Budget    int64
	Reason    string
}

func (e OutOfMemoryError) Error() string {
	msg := fmt.Sprintf("out of memory: requested=%d budget=%d", e.Requested, e.Budget)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// IsOutOfMemory reports whether err is an OutOfMemoryError.
func IsOutOfMemory(err error) bool {
	var t OutOfMemoryError
	return errors.As(err, &t)
}

// CancelledError marks a generation stopped by its caller. It is a normal
// terminal state, not a failure.
type CancelledError struct{}

func (CancelledError) Error() string { return "generation cancelled" }

// IsCancelled reports whether err is a CancelledError.
func IsCancelled(err error) bool {
	var t CancelledError
	return errors.As(err, &t)
}

// GenerationTimeoutError signals that the wall-clock limit elapsed.
type GenerationTimeoutError struct {
	After time.Duration
}

func (e GenerationTimeoutError) Error() string {
	return "generation timed out after " + e.After.String()
}

// IsGenerationTimeout reports whether err is a GenerationTimeoutError.
func IsGenerationTimeout(err error) bool {
	var t GenerationTimeoutError
	return errors.As(err, &t)
}

// NoProviderError signals that no registered provider accepts a model id.
type NoProviderError struct {
	ModelID string
	Err     error
}

func (e NoProviderError) Error() string {
	if e.Err != nil {
		return "no provider for model: " + e.ModelID + ": " + e.Err.Error()
	}
	return "no provider for model: " + e.ModelID
}

func (e NoProviderError) Unwrap() error { return e.Err }

// IsNoProvider reports whether err is a NoProviderError.
func IsNoProvider(err error) bool {
	var t NoProviderError
	return errors.As(err, &t)
}

// InvalidConfigError signals a rejected configuration or request value.
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e InvalidConfigError) Error() string {
	return "invalid config: " + e.Field + ": " + e.Reason
}

// IsInvalidConfig reports whether err is an InvalidConfigError.
func IsInvalidConfig(err error) bool {
	var t InvalidConfigError
	return errors.As(err, &t)
}

// ErrHandleReleased is returned by adapter operations on a released handle.
var ErrHandleReleased = errors.New("engine handle released")

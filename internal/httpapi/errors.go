package httpapi

import (
	"net/http"

	json "github.com/goccy/go-json"

	"sessiond/internal/engine"
	"sessiond/internal/manager"
	"sessiond/internal/modelstore"
	"sessiond/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case engine.IsNoProvider(err), manager.IsSessionNotFound(err), modelstore.IsModelNotFound(err):
		return http.StatusNotFound
	case engine.IsInvalidConfig(err):
		return http.StatusBadRequest
	case engine.IsContextExceeded(err):
		return http.StatusRequestEntityTooLarge
	case manager.IsSessionBusy(err):
		return http.StatusTooManyRequests
	case manager.IsSessionClosed(err):
		return http.StatusConflict
	case engine.IsOutOfMemory(err):
		return http.StatusInsufficientStorage
	case engine.IsNativeLibraryUnavailable(err), engine.IsModelLoad(err):
		return http.StatusServiceUnavailable
	}
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// writeError maps err and writes it, counting backpressure rejections.
func writeError(w http.ResponseWriter, err error) int {
	status := statusFor(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("session_busy")
	}
	writeJSONError(w, status, err.Error())
	return status
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

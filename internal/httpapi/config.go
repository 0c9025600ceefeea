package httpapi

import "time"

// maxBodyBytes controls the maximum allowed request body size for JSON endpoints.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// defaultMaxTokens is used when a generate request omits max_tokens.
var defaultMaxTokens = 256

// SetDefaultMaxTokens sets the completion budget for requests that omit it.
func SetDefaultMaxTokens(n int) {
	if n <= 0 {
		n = 256
	}
	defaultMaxTokens = n
}

// closeTimeout bounds DELETE /sessions/{id} while queued requests drain.
var closeTimeout = 10 * time.Second

// SetCloseTimeout sets the drain bound for session close requests.
func SetCloseTimeout(d time.Duration) {
	if d <= 0 {
		d = 10 * time.Second
	}
	closeTimeout = d
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}

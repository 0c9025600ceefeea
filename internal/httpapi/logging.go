package httpapi

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is the structured logger used by the HTTP layer.
var zlog = zerolog.Nop()

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = l }

// loggingLineWriter logs complete NDJSON lines at debug level.
type loggingLineWriter struct {
	buf []byte
	log zerolog.Logger
}

func (lw *loggingLineWriter) Write(p []byte) (int, error) {
	lw.buf = append(lw.buf, p...)
	for {
		idx := indexByte(lw.buf, '\n')
		if idx < 0 {
			break
		}
		if line := string(lw.buf[:idx]); len(line) > 0 {
			lw.log.Debug().Str("line", line).Msg("generate>")
		}
		lw.buf = lw.buf[idx+1:]
	}
	return len(p), nil
}

func indexByte(b []byte, c byte) int {
	for i := range b {
		if b[i] == c {
			return i
		}
	}
	return -1
}

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// global default, read once
var defaultLogLevel = func() LogLevel {
	if v, ok := os.LookupEnv("SESSIOND_HTTP_LOG"); ok {
		return parseLevel(v)
	}
	return LevelInfo
}()

func requestLogLevel(r *http.Request) LogLevel {
	// Per-request overrides
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// requestLog carries the per-request level and start time for start/end lines.
type requestLog struct {
	lvl   LogLevel
	start time.Time
	r     *http.Request
}

func beginRequestLog(r *http.Request, msg string, fields func(*zerolog.Event)) requestLog {
	rl := requestLog{lvl: requestLogLevel(r), start: time.Now(), r: r}
	if rl.lvl >= LevelInfo {
		z := zlog.Info().Str("path", r.URL.Path)
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			z = z.Str("request_id", rid)
		}
		if fields != nil {
			fields(z)
		}
		z.Msg(msg + " start")
	}
	return rl
}

func (rl requestLog) end(msg string, status int, err error) {
	if rl.lvl < LevelInfo && !(rl.lvl >= LevelError && err != nil) {
		return
	}
	z := zlog.Info()
	if err != nil && status >= 500 {
		z = zlog.Error()
	}
	z = z.Int("status", status).Dur("dur", time.Since(rl.start))
	if rid := middleware.GetReqID(rl.r.Context()); rid != "" {
		z = z.Str("request_id", rid)
	}
	if err != nil {
		z = z.Err(err)
	}
	z.Msg(msg + " end")
}

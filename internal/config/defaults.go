package config

import (
	"time"

	"sessiond/internal/engine"
	"sessiond/internal/prompt"
)

// Defaults used by WithDefaults.
const (
	DefaultAddr               = ":8080"
	DefaultModelsDir          = "~/models/llm"
	DefaultMemoryBudgetMB     = 4096
	DefaultMaxSessions        = 4
	DefaultContextSize        = 2048
	DefaultMaxTokens          = 256
	DefaultMaxQueueDepth      = 32
	DefaultMaxWait            = 30 * time.Second
	DefaultChunkBuffer        = 16
	DefaultChunkEventInterval = 250 * time.Millisecond
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "console"
	DefaultCompressionRatio   = 0.5
	DefaultCompressionTrigger = 0.5
)

// WithDefaults returns c with zero values replaced. Threads, worker pool
// size and generation timeout stay zero: the manager derives the first two
// from the host and zero timeout means none.
func (c Config) WithDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ModelsDir == "" {
		c.ModelsDir = DefaultModelsDir
	}
	if c.MemoryBudgetMB == 0 {
		c.MemoryBudgetMB = DefaultMemoryBudgetMB
	}
	if c.MaxSessions == 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.ContextSize == 0 {
		c.ContextSize = DefaultContextSize
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Template == "" {
		c.Template = "plain"
	}
	if c.MaxQueueDepth == 0 {
		c.MaxQueueDepth = DefaultMaxQueueDepth
	}
	if c.MaxWait == 0 {
		c.MaxWait = Duration(DefaultMaxWait)
	}
	if c.ChunkBuffer == 0 {
		c.ChunkBuffer = DefaultChunkBuffer
	}
	if c.ChunkEventInterval == 0 {
		c.ChunkEventInterval = Duration(DefaultChunkEventInterval)
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.Window.CompressionRatio == 0 {
		c.Window.CompressionRatio = DefaultCompressionRatio
	}
	if c.Window.CompressionTrigger == 0 {
		c.Window.CompressionTrigger = DefaultCompressionTrigger
	}
	if c.CORS.Enabled {
		if len(c.CORS.Methods) == 0 {
			c.CORS.Methods = []string{"GET", "POST", "DELETE", "OPTIONS"}
		}
		if len(c.CORS.Headers) == 0 {
			c.CORS.Headers = []string{"Content-Type", "Authorization"}
		}
	}
	return c
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	bad := func(field, reason string) error { return engine.InvalidConfigError{Field: field, Reason: reason} }
	switch {
	case c.MemoryBudgetMB < 0:
		return bad("memory_budget_mb", "must be >= 0")
	case c.MaxSessions < 0:
		return bad("max_sessions", "must be >= 0")
	case c.ContextSize < 0:
		return bad("context_size", "must be >= 0")
	case c.Threads < 0:
		return bad("threads", "must be >= 0")
	case c.MaxTokens < 0:
		return bad("max_tokens", "must be >= 0")
	case c.MaxQueueDepth < 0:
		return bad("max_queue_depth", "must be >= 0")
	case c.MaxWait < 0:
		return bad("max_wait", "must be >= 0")
	case c.ChunkBuffer < 0:
		return bad("chunk_buffer", "must be >= 0")
	case c.GenerationTimeout < 0:
		return bad("generation_timeout", "must be >= 0")
	case c.WorkerPoolSize < 0:
		return bad("worker_pool_size", "must be >= 0")
	case c.Window.CompressionRatio < 0 || c.Window.CompressionRatio >= 1:
		return bad("window.compression_ratio", "must be within [0,1)")
	case c.Window.CompressionTrigger < 0 || c.Window.CompressionTrigger > 1:
		return bad("window.compression_trigger", "must be within [0,1]")
	}
	switch c.LogFormat {
	case "", "json", "console":
	default:
		return bad("log_format", "must be json or console")
	}
	if c.Template != "" {
		if _, err := prompt.ForTemplate(c.Template); err != nil {
			return err
		}
	}
	return nil
}

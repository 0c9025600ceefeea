package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by WithDefaults.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	// LibDir holds native backend builds, one shared object per variant.
	LibDir string `json:"lib_dir" yaml:"lib_dir" toml:"lib_dir"`

	MemoryBudgetMB int    `json:"memory_budget_mb" yaml:"memory_budget_mb" toml:"memory_budget_mb"`
	MaxSessions    int    `json:"max_sessions" yaml:"max_sessions" toml:"max_sessions"`
	ContextSize    int    `json:"context_size" yaml:"context_size" toml:"context_size"`
	Threads        int    `json:"threads" yaml:"threads" toml:"threads"`
	MaxTokens      int    `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	Template       string `json:"template" yaml:"template" toml:"template"`

	MaxQueueDepth      int      `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWait            Duration `json:"max_wait" yaml:"max_wait" toml:"max_wait"`
	ChunkBuffer        int      `json:"chunk_buffer" yaml:"chunk_buffer" toml:"chunk_buffer"`
	GenerationTimeout  Duration `json:"generation_timeout" yaml:"generation_timeout" toml:"generation_timeout"`
	WorkerPoolSize     int      `json:"worker_pool_size" yaml:"worker_pool_size" toml:"worker_pool_size"`
	ChunkEventInterval Duration `json:"chunk_event_interval" yaml:"chunk_event_interval" toml:"chunk_event_interval"`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`

	Window Window `json:"window" yaml:"window" toml:"window"`
	CORS   CORS   `json:"cors" yaml:"cors" toml:"cors"`
}

// Window tunes history compression in the context window manager.
type Window struct {
	CompressionEnabled bool    `json:"compression_enabled" yaml:"compression_enabled" toml:"compression_enabled"`
	CompressionRatio   float64 `json:"compression_ratio" yaml:"compression_ratio" toml:"compression_ratio"`
	CompressionTrigger float64 `json:"compression_trigger" yaml:"compression_trigger" toml:"compression_trigger"`
}

// CORS configures the optional CORS middleware.
type CORS struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

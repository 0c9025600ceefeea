package manager

import (
	"math"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"sessiond/internal/capability"
	"sessiond/internal/engine"
	"sessiond/internal/modelstore"
	"sessiond/internal/window"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxQueueDepth      = 32
	defaultMaxWait            = 30 * time.Second
	defaultDrainTimeout       = 5 * time.Second
	defaultContextSize        = 2048
	defaultMaxSessions        = 4
	defaultChunkBuffer        = 16
	defaultKVBytesPerToken    = 64 << 10
	defaultChunkEventInterval = 250 * time.Millisecond
)

// Resolver maps model ids to local files.
type Resolver interface {
	Resolve(modelID string) (modelstore.Model, error)
}

// Config encapsulates all tunables for Manager construction.
type Config struct {
	Models    Resolver
	Providers *engine.Registry
	// Detector ranks backend variants; nil uses the host detector.
	Detector *capability.Detector
	Window   window.Config

	// MemoryBudgetBytes bounds the summed estimates of resident sessions;
	// zero means unbounded.
	MemoryBudgetBytes int64
	MaxSessions       int

	DefaultContextSize int
	DefaultThreads     int
	DefaultTemplate    string
	// KVBytesPerToken feeds the pre-load estimate (file size + context).
	KVBytesPerToken int64

	MaxQueueDepth     int
	MaxWait           time.Duration
	DrainTimeout      time.Duration
	GenerationTimeout time.Duration
	ChunkBuffer       int
	// WorkerPoolSize bounds concurrent decode loops; zero uses NumCPU.
	WorkerPoolSize int
	// ChunkEventInterval throttles generation_chunk events per request.
	ChunkEventInterval time.Duration

	Publisher EventPublisher
	Log       zerolog.Logger
}

// DefaultThreads is max(1, min(8, NumCPU-2)).
func DefaultThreads() int {
	return max(1, min(8, runtime.NumCPU()-2))
}

func (c Config) withDefaults() Config {
	if c.MemoryBudgetBytes <= 0 {
		c.MemoryBudgetBytes = math.MaxInt64
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = defaultMaxSessions
	}
	if c.DefaultContextSize <= 0 {
		c.DefaultContextSize = defaultContextSize
	}
	if c.DefaultThreads <= 0 {
		c.DefaultThreads = DefaultThreads()
	}
	if c.KVBytesPerToken <= 0 {
		c.KVBytesPerToken = defaultKVBytesPerToken
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = defaultMaxQueueDepth
	}
	if c.MaxWait <= 0 {
		c.MaxWait = defaultMaxWait
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	if c.ChunkBuffer <= 0 {
		c.ChunkBuffer = defaultChunkBuffer
	}
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = runtime.NumCPU()
	}
	if c.ChunkEventInterval <= 0 {
		c.ChunkEventInterval = defaultChunkEventInterval
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
	if c.Providers == nil {
		c.Providers = engine.NewRegistry(c.Log)
	}
	if c.Detector == nil {
		c.Detector = capability.NewDetector(nil, nil, c.Log)
	}
	return c
}

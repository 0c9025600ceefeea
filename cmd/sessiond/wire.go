package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"sessiond/internal/capability"
	"sessiond/internal/config"
	"sessiond/internal/engine"
	"sessiond/internal/engine/llamacpp"
	"sessiond/internal/engine/reference"
	"sessiond/internal/manager"
	"sessiond/internal/modelstore"
	"sessiond/internal/telemetry"
	"sessiond/internal/window"
	"sessiond/pkg/types"
)

// Provider priorities; the native backend wins when both accept a model.
const (
	priorityLlama     = 100
	priorityReference = 10
)

// app is the wired engine shared by serve and generate.
type app struct {
	*manager.Manager
	store     *modelstore.Store
	providers *engine.Registry
	detector  *capability.Detector
}

// appOptions carries per-command extras.
type appOptions struct {
	// Registerer, when set, receives the sessiond_* telemetry series.
	Registerer prometheus.Registerer
	// Publishers are appended to the log publisher.
	Publishers []manager.EventPublisher
}

func newProviders(log zerolog.Logger) (*engine.Registry, error) {
	reg := engine.NewRegistry(log)
	if err := reg.Register(llamacpp.Provider(llamacpp.Options{MMap: true}, priorityLlama)); err != nil {
		return nil, err
	}
	if err := reg.Register(reference.Provider(reference.Options{}, priorityReference)); err != nil {
		return nil, err
	}
	return reg, nil
}

func buildApp(cfg config.Config, log zerolog.Logger, opts appOptions) (*app, error) {
	store, err := modelstore.Open(cfg.ModelsDir, log)
	if err != nil {
		return nil, err
	}
	providers, err := newProviders(log)
	if err != nil {
		return nil, err
	}
	detector := capability.NewDetector(nil, nil, log)

	pubs := telemetry.Fanout{telemetry.LogPublisher{Log: log.With().Str("component", "events").Logger()}}
	pubs = append(pubs, opts.Publishers...)

	a := &app{store: store, providers: providers, detector: detector}
	if opts.Registerer != nil {
		// Gauges are read at scrape time, after a.Manager is set.
		metrics, err := telemetry.NewMetrics(opts.Registerer, func() manager.MemoryStats { return a.MemoryStats() })
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, metrics)
	}
	a.Manager = manager.New(manager.Config{
		Models:    store,
		Providers: providers,
		Detector:  detector,
		Window: window.Config{
			CompressionEnabled: cfg.Window.CompressionEnabled,
			CompressionRatio:   cfg.Window.CompressionRatio,
			CompressionTrigger: cfg.Window.CompressionTrigger,
		},
		MemoryBudgetBytes:  int64(cfg.MemoryBudgetMB) << 20,
		MaxSessions:        cfg.MaxSessions,
		DefaultContextSize: cfg.ContextSize,
		DefaultThreads:     cfg.Threads,
		DefaultTemplate:    cfg.Template,
		MaxQueueDepth:      cfg.MaxQueueDepth,
		MaxWait:            cfg.MaxWait.Std(),
		GenerationTimeout:  cfg.GenerationTimeout.Std(),
		ChunkBuffer:        cfg.ChunkBuffer,
		WorkerPoolSize:     cfg.WorkerPoolSize,
		ChunkEventInterval: cfg.ChunkEventInterval.Std(),
		Publisher:          pubs,
		Log:                log,
	})
	return a, nil
}

// ListModels reports resolvable models with the provider that would load them.
func (a *app) ListModels() []types.Model {
	models := a.store.List()
	out := make([]types.Model, 0, len(models))
	for _, m := range models {
		dto := types.Model{
			ID:            m.ID,
			Name:          m.Name,
			Path:          m.Path,
			Format:        m.Format,
			ContextLength: m.ContextLength,
			Quant:         m.Quant,
			Family:        m.Family,
			Template:      m.Template,
			SizeBytes:     m.SizeBytes,
		}
		if p, err := a.providers.FindProvider(m.ID); err == nil {
			dto.Provider = p.Name
		}
		out = append(out, dto)
	}
	return out
}

// Capabilities reports detected CPU features and the variant load order.
func (a *app) Capabilities() types.CapabilitiesResponse {
	fs, err := a.detector.Features()
	resp := types.CapabilitiesResponse{
		Features:  fs.Names(),
		Variant:   a.detector.Detect(),
		Providers: a.providers.Providers(),
	}
	for _, v := range a.detector.Ranked() {
		resp.Ranked = append(resp.Ranked, v.ID)
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

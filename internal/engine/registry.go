package engine

import (
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Provider produces adapters for the models it accepts.
type Provider struct {
	Name string
	// Priority orders providers; higher is tried first. Equal priorities keep
	// registration order.
	Priority int
	// CanHandle selects the provider for a model id.
	CanHandle func(modelID string) bool
	// New creates an adapter instance.
	New func() (Adapter, error)
}

// Registry is a constructed, injectable set of providers.
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
	log       zerolog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{log: log}
}

// Register adds p. Names must be unique.
func (r *Registry) Register(p Provider) error {
	if p.Name == "" {
		return InvalidConfigError{Field: "provider.name", Reason: "required"}
	}
	if p.CanHandle == nil || p.New == nil {
		return InvalidConfigError{Field: "provider." + p.Name, Reason: "CanHandle and New are required"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.providers {
		if existing.Name == p.Name {
			return InvalidConfigError{Field: "provider." + p.Name, Reason: "already registered"}
		}
	}
	r.providers = append(r.providers, p)
	sort.SliceStable(r.providers, func(i, j int) bool { return r.providers[i].Priority > r.providers[j].Priority })
	r.log.Info().Str("provider", p.Name).Int("priority", p.Priority).Msg("event=provider_registered")
	return nil
}

// Unregister removes the provider called name and reports whether it existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.providers {
		if p.Name == name {
			r.providers = append(r.providers[:i], r.providers[i+1:]...)
			return true
		}
	}
	return false
}

// Providers lists provider names in selection order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.providers))
	for i, p := range r.providers {
		out[i] = p.Name
	}
	return out
}

// FindProvider returns the highest-priority provider accepting modelID.
func (r *Registry) FindProvider(modelID string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if p.CanHandle(modelID) {
			return p, nil
		}
	}
	return Provider{}, NoProviderError{ModelID: modelID}
}

// NewAdapter creates an adapter from the first accepting provider whose
// constructor succeeds.
func (r *Registry) NewAdapter(modelID string) (Adapter, string, error) {
	r.mu.RLock()
	candidates := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		if p.CanHandle(modelID) {
			candidates = append(candidates, p)
		}
	}
	r.mu.RUnlock()

	var errs []error
	for _, p := range candidates {
		a, err := p.New()
		if err != nil {
			r.log.Warn().Err(err).Str("provider", p.Name).Str("model", modelID).Msg("event=provider_create_failed")
			errs = append(errs, err)
			continue
		}
		return a, p.Name, nil
	}
	return nil, "", NoProviderError{ModelID: modelID, Err: errors.Join(errs...)}
}

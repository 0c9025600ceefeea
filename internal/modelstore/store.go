// Package modelstore resolves model ids to local files and their declared
// metadata. It scans one directory; downloads are out of its scope.
package modelstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"sessiond/internal/common/fsutil"
)

// Model formats recognised by the scanner.
const (
	FormatGGUF      = "gguf"
	FormatReference = "reference"
)

var suffixes = map[string]string{
	".gguf":     FormatGGUF,
	".ref.json": FormatReference,
}

// Model is a resolvable model file. ID is the file name including its
// extension.
type Model struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Path          string `json:"path"`
	Format        string `json:"format"`
	Architecture  string `json:"architecture,omitempty"`
	ContextLength int    `json:"context_length,omitempty"`
	Quant         string `json:"quant,omitempty"`
	Family        string `json:"family,omitempty"`
	Template      string `json:"template,omitempty"`
	SizeBytes     int64  `json:"size_bytes"`
}

// sidecar is the optional "<model file>.yaml" metadata file.
type sidecar struct {
	Name          string `yaml:"name"`
	Architecture  string `yaml:"architecture"`
	ContextLength int    `yaml:"context_length"`
	Quant         string `yaml:"quant"`
	Family        string `yaml:"family"`
	Template      string `yaml:"template"`
}

// ModelNotFoundError signals an unknown model id.
type ModelNotFoundError struct{ ID string }

func (e ModelNotFoundError) Error() string { return "model not found: " + e.ID }

// IsModelNotFound reports whether err indicates a missing model id.
func IsModelNotFound(err error) bool {
	_, ok := err.(ModelNotFoundError)
	return ok
}

// Store indexes the models of one directory.
type Store struct {
	dir string
	log zerolog.Logger

	mu     sync.RWMutex
	models map[string]Model
}

// Open scans dir after expanding environment variables and a leading '~'.
func Open(dir string, log zerolog.Logger) (*Store, error) {
	base, err := fsutil.ExpandPath(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	s := &Store{dir: abs, log: log}
	if err := s.Refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir is the scanned directory.
func (s *Store) Dir() string { return s.dir }

// Refresh rescans the directory.
func (s *Store) Refresh() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}
	found := make(map[string]Model, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		format := formatOf(name)
		if format == "" {
			continue
		}
		p := filepath.Join(s.dir, name)
		m := Model{ID: name, Name: name, Path: p, Format: format}
		if info, err := e.Info(); err == nil {
			m.SizeBytes = info.Size()
		}
		if format == FormatReference {
			readReferenceHeader(p, &m)
		}
		if err := applySidecar(p+".yaml", &m); err != nil {
			s.log.Warn().Err(err).Str("model", name).Msg("event=model_sidecar_invalid")
		}
		found[name] = m
	}
	s.mu.Lock()
	s.models = found
	s.mu.Unlock()
	s.log.Debug().Str("dir", s.dir).Int("models", len(found)).Msg("event=models_scanned")
	return nil
}

func formatOf(name string) string {
	lower := strings.ToLower(name)
	for suf, f := range suffixes {
		if strings.HasSuffix(lower, suf) {
			return f
		}
	}
	return ""
}

func readReferenceHeader(path string, m *Model) {
	b, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var hdr struct {
		Name          string `json:"name"`
		Architecture  string `json:"architecture"`
		ContextLength int    `json:"context_length"`
	}
	if json.Unmarshal(b, &hdr) != nil {
		return
	}
	if hdr.Name != "" {
		m.Name = hdr.Name
	}
	m.Architecture = hdr.Architecture
	m.ContextLength = hdr.ContextLength
}

func applySidecar(path string, m *Model) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var sc sidecar
	if err := yaml.Unmarshal(b, &sc); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if sc.Name != "" {
		m.Name = sc.Name
	}
	if sc.Architecture != "" {
		m.Architecture = sc.Architecture
	}
	if sc.ContextLength > 0 {
		m.ContextLength = sc.ContextLength
	}
	m.Quant, m.Family, m.Template = sc.Quant, sc.Family, sc.Template
	return nil
}

// List returns all models sorted by id.
func (s *Store) List() []Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Model, 0, len(s.models))
	for _, m := range s.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resolve returns the model with id, rescanning once on a miss so files
// added after startup are found.
func (s *Store) Resolve(id string) (Model, error) {
	s.mu.RLock()
	m, ok := s.models[id]
	s.mu.RUnlock()
	if ok {
		return m, nil
	}
	if err := s.Refresh(); err != nil {
		return Model{}, err
	}
	s.mu.RLock()
	m, ok = s.models[id]
	s.mu.RUnlock()
	if !ok {
		return Model{}, ModelNotFoundError{ID: id}
	}
	return m, nil
}

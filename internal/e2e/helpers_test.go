package e2e

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"sessiond/internal/capability"
	"sessiond/internal/engine"
	"sessiond/internal/engine/reference"
	"sessiond/internal/httpapi"
	"sessiond/internal/manager"
	"sessiond/internal/modelstore"
	"sessiond/pkg/types"
)

// service adds the read-only diagnostics httpapi needs on top of the manager.
type service struct {
	*manager.Manager
	store *modelstore.Store
	reg   *engine.Registry
}

func (s service) ListModels() []types.Model {
	var out []types.Model
	for _, m := range s.store.List() {
		out = append(out, types.Model{ID: m.ID, Name: m.Name, Path: m.Path, Format: m.Format, ContextLength: m.ContextLength})
	}
	return out
}

func (s service) Capabilities() types.CapabilitiesResponse {
	return types.CapabilitiesResponse{Variant: capability.Baseline, Providers: s.reg.Providers()}
}

type fixture struct {
	srv    *httptest.Server
	mgr    *manager.Manager
	events *manager.MemoryPublisher
}

// writeChainModel writes a reference model that replies with pieces.
func writeChainModel(t *testing.T, dir, name string, ctxLen int, pieces ...string) string {
	t.Helper()
	id := name + reference.FileSuffix
	if err := reference.Chain(name, ctxLen, pieces...).Write(filepath.Join(dir, id)); err != nil {
		t.Fatalf("write model %s: %v", id, err)
	}
	return id
}

func newServerForDir(t *testing.T, dir string, opts reference.Options, mutate func(*manager.Config)) fixture {
	t.Helper()
	log := zerolog.Nop()
	store, err := modelstore.Open(dir, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	reg := engine.NewRegistry(log)
	if err := reg.Register(reference.Provider(opts, 10)); err != nil {
		t.Fatalf("register: %v", err)
	}
	events := manager.NewMemoryPublisher()
	cfg := manager.Config{
		Models:             store,
		Providers:          reg,
		Detector:           capability.NewDetector([]capability.Variant{capability.BaselineVariant}, nil, log),
		MaxSessions:        8,
		DefaultContextSize: 512,
		DefaultTemplate:    "plain",
		MaxWait:            100 * time.Millisecond,
		Publisher:          events,
		Log:                log,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	mgr := manager.New(cfg)
	srv := httptest.NewServer(httpapi.NewMux(service{Manager: mgr, store: store, reg: reg}))
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})
	return fixture{srv: srv, mgr: mgr, events: events}
}

func (f fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, f.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	return resp
}

func (f fixture) createSession(t *testing.T, model string) string {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/sessions", types.CreateSessionRequest{Model: model})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("create session: status %d body %s", resp.StatusCode, b)
	}
	var out types.CreateSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out.SessionID
}

// readChunks decodes an NDJSON generation stream until EOF.
func readChunks(t *testing.T, r io.Reader) []types.Chunk {
	t.Helper()
	var out []types.Chunk
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var c types.Chunk
		if err := json.Unmarshal(sc.Bytes(), &c); err != nil {
			t.Fatalf("decode chunk %q: %v", sc.Text(), err)
		}
		out = append(out, c)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func userMessage(s string) types.GenerateRequest {
	return types.GenerateRequest{Messages: []types.Message{{Role: "user", Content: s}}}
}

package modelstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func write(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestOpen_ScansKnownFormats(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.gguf", "x")
	write(t, dir, "B.GGUF", "x")
	write(t, dir, "tiny.ref.json", `{"name":"Tiny","architecture":"bigram","context_length":512}`)
	write(t, dir, "notes.txt", "x")
	write(t, dir, "model.bin", "x")
	s, err := Open(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	list := s.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 models, got %+v", list)
	}
	m, err := s.Resolve("tiny.ref.json")
	if err != nil {
		t.Fatal(err)
	}
	if m.Format != FormatReference || m.ContextLength != 512 || m.Name != "Tiny" || m.Architecture != "bigram" {
		t.Fatalf("reference header not applied: %+v", m)
	}
	if m.Path != filepath.Join(s.Dir(), "tiny.ref.json") {
		t.Fatalf("path=%s", m.Path)
	}
}

func TestResolve_SidecarMetadata(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "llama.gguf", "x")
	write(t, dir, "llama.gguf.yaml", "name: Llama 3.2 1B\ncontext_length: 8192\narchitecture: llama\nquant: Q4_K_M\ntemplate: llama3\n")
	s, err := Open(dir, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	m, err := s.Resolve("llama.gguf")
	if err != nil {
		t.Fatal(err)
	}
	if m.ContextLength != 8192 || m.Quant != "Q4_K_M" || m.Template != "llama3" || m.Name != "Llama 3.2 1B" {
		t.Fatalf("sidecar not applied: %+v", m)
	}
}

func TestResolve_MissAndLateArrival(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Resolve("late.gguf"); !IsModelNotFound(err) {
		t.Fatalf("want not found, got %v", err)
	}
	write(t, dir, "late.gguf", "x")
	if _, err := s.Resolve("late.gguf"); err != nil {
		t.Fatalf("late file not picked up: %v", err)
	}
}

func TestOpen_MissingDir(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope"), zerolog.Nop()); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}

func TestOpen_ExpandsHomeAndEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	sub := filepath.Join(home, "models")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	write(t, sub, "x.gguf", "x")
	t.Setenv("SESSIOND_MODELS", sub)
	for _, dir := range []string{"~/models", "$SESSIOND_MODELS", "${HOME}/models"} {
		s, err := Open(dir, zerolog.Nop())
		if err != nil {
			t.Fatalf("%s: %v", dir, err)
		}
		if s.Dir() != sub || len(s.List()) != 1 {
			t.Fatalf("%s: dir=%s models=%d", dir, s.Dir(), len(s.List()))
		}
	}
}

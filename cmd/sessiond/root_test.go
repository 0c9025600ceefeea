package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func runCLI(t *testing.T, args ...string) (*cli, string, error) {
	t.Helper()
	var out bytes.Buffer
	c := &cli{out: &out}
	root := buildRootCmdWith(c)
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.Execute()
	return c, out.String(), err
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "sessiond.yaml")
	body := "models_dir: " + dir + "\ntemplate: chatml\ncontext_size: 1024\nmax_wait: 2s\nlog_level: error\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	c, _, err := runCLI(t, "--config", cfgPath, "--template", "llama3", "models")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if c.cfg.Template != "llama3" {
		t.Fatalf("template: got %q want llama3", c.cfg.Template)
	}
	if c.cfg.ContextSize != 1024 {
		t.Fatalf("context size from file: got %d", c.cfg.ContextSize)
	}
	if c.cfg.MaxWait.Std() != 2*time.Second {
		t.Fatalf("max wait from file: got %v", c.cfg.MaxWait.Std())
	}
	if c.cfg.MaxSessions == 0 {
		t.Fatalf("defaults not applied")
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := runCLI(t, "--models-dir", dir, "--log-format", "xml", "models"); err == nil {
		t.Fatalf("expected invalid log format error")
	}
	if _, _, err := runCLI(t, "--models-dir", dir, "--template", "nope", "models"); err == nil {
		t.Fatalf("expected unknown template error")
	}
	if _, _, err := runCLI(t, "--config", filepath.Join(dir, "missing.yaml"), "models"); err == nil {
		t.Fatalf("expected missing config error")
	}
}

func TestDemoModelThenGenerate(t *testing.T) {
	dir := t.TempDir()
	_, out, err := runCLI(t, "--models-dir", dir, "--log-level", "error", "demo-model", "--name", "tiny", "--text", "Hello from sessiond.")
	if err != nil {
		t.Fatalf("demo-model: %v", err)
	}
	if !strings.HasSuffix(strings.TrimSpace(out), "tiny.ref.json") {
		t.Fatalf("demo-model output: %q", out)
	}
	if _, _, err := runCLI(t, "--models-dir", dir, "--log-level", "error", "demo-model", "--name", "tiny"); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}

	_, out, err = runCLI(t, "--models-dir", dir, "--log-level", "error", "models")
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	if !strings.Contains(out, "tiny.ref.json") || !strings.Contains(out, "reference") {
		t.Fatalf("models output: %q", out)
	}

	_, out, err = runCLI(t, "--models-dir", dir, "--log-level", "error", "generate", "--model", "tiny.ref.json", "--prompt", "Hi")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got := strings.TrimSpace(out); got != "Hello from sessiond." {
		t.Fatalf("generate output: %q", got)
	}
}

func TestGenerateUnknownModel(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := runCLI(t, "--models-dir", dir, "--log-level", "error", "generate", "--model", "nope.ref.json", "--prompt", "Hi"); err == nil {
		t.Fatalf("expected model not found")
	}
}

func TestDetectListsVariants(t *testing.T) {
	dir := t.TempDir()
	_, out, err := runCLI(t, "--models-dir", dir, "--lib-dir", dir, "--log-level", "error", "detect")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !strings.Contains(out, "variant:") || !strings.Contains(out, "baseline") || !strings.Contains(out, "missing") {
		t.Fatalf("detect output: %q", out)
	}
}

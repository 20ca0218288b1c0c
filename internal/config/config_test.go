package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sshwarpd.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func baseConfig(extra string) string {
	return `
version: 1
listen_addr: "0.0.0.0:2222"
host_key_path: "/data/host_key"
data_dir: "/data"
models:
  - short_name: sonnet
    backend: anthropic
` + extra
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, baseConfig("extra_top_level_field: true\n"))
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, baseConfig(""))
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Fatalf("expected default log config, got %+v", cfg.Log)
	}
	if cfg.Script.EntrypointModule != "main" {
		t.Fatalf("expected default entrypoint module, got %q", cfg.Script.EntrypointModule)
	}
	if cfg.DefaultMaxTurns != 10 {
		t.Fatalf("expected default max turns 10, got %d", cfg.DefaultMaxTurns)
	}
}

func TestLoadRequiresListenAddr(t *testing.T) {
	path := writeConfig(t, `
version: 1
host_key_path: "/data/host_key"
data_dir: "/data"
models:
  - short_name: sonnet
    backend: anthropic
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "listen_addr") {
		t.Fatalf("expected listen_addr error, got %v", err)
	}
}

func TestLoadRequiresAtLeastOneModel(t *testing.T) {
	path := writeConfig(t, `
version: 1
listen_addr: "0.0.0.0:2222"
host_key_path: "/data/host_key"
data_dir: "/data"
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "model registry") {
		t.Fatalf("expected model registry error, got %v", err)
	}
}

func TestLoadRejectsUnsupportedModelBackend(t *testing.T) {
	path := writeConfig(t, `
version: 1
listen_addr: "0.0.0.0:2222"
host_key_path: "/data/host_key"
data_dir: "/data"
models:
  - short_name: sonnet
    backend: bedrock
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "unsupported backend") {
		t.Fatalf("expected unsupported backend error, got %v", err)
	}
}

func TestLoadRejectsDuplicateModelShortNames(t *testing.T) {
	path := writeConfig(t, `
version: 1
listen_addr: "0.0.0.0:2222"
host_key_path: "/data/host_key"
data_dir: "/data"
models:
  - short_name: sonnet
    backend: anthropic
  - short_name: sonnet
    backend: openai
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "duplicate model") {
		t.Fatalf("expected duplicate model error, got %v", err)
	}
}

func TestLoadValidatesMCPServerTransport(t *testing.T) {
	path := writeConfig(t, baseConfig(`
mcp_servers:
  - id: search
    transport: stdio
`))
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "missing command") {
		t.Fatalf("expected missing command error, got %v", err)
	}
}

func TestLoadRejectsOutdatedVersion(t *testing.T) {
	path := writeConfig(t, baseConfig(""))
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	rewritten := strings.Replace(string(data), "version: 1", "version: 0", 1)
	if err := os.WriteFile(path, []byte(rewritten), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err = Load(path)
	if err == nil {
		t.Fatalf("expected version error")
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	mainPath := filepath.Join(dir, "sshwarpd.yaml")

	if err := os.WriteFile(basePath, []byte(`
listen_addr: "0.0.0.0:2222"
host_key_path: "/data/host_key"
data_dir: "/data"
`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(mainPath, []byte(`
$include: base.yaml
version: 1
models:
  - short_name: sonnet
    backend: anthropic
`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:2222" {
		t.Fatalf("expected included listen_addr, got %q", cfg.ListenAddr)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"pagestore/storage/buffer"
)

func writeConfig(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "pagestored.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
data_files:
  - path: t.db
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BufferSize != 64 {
		t.Fatalf("BufferSize = %d, want 64", cfg.BufferSize)
	}
	if cfg.Policy != "lru" {
		t.Fatalf("Policy = %q, want lru", cfg.Policy)
	}
	if cfg.MetadataFile != "metadata.db" {
		t.Fatalf("MetadataFile = %q, want metadata.db", cfg.MetadataFile)
	}
	if cfg.DataFiles[0].InitialPages != 16 {
		t.Fatalf("InitialPages = %d, want 16", cfg.DataFiles[0].InitialPages)
	}
}

func TestLoadRespectsExplicitValues(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
buffer_size: 8
policy: clock
metadata_file: meta.bin
flush_cron: "@every 5s"
data_files:
  - path: a.db
    initial_pages: 4
  - path: b.db
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BufferSize != 8 || cfg.Policy != "clock" || cfg.MetadataFile != "meta.bin" || cfg.FlushCron != "@every 5s" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.DataFiles) != 2 || cfg.DataFiles[0].InitialPages != 4 || cfg.DataFiles[1].InitialPages != 16 {
		t.Fatalf("unexpected data files: %+v", cfg.DataFiles)
	}

	kind, err := cfg.PolicyKind()
	if err != nil || kind != buffer.Clock {
		t.Fatalf("PolicyKind = %v, %v, want Clock, nil", kind, err)
	}
}

func TestLoadRejectsNoDataFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "buffer_size: 8\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("Load with no data_files: expected error")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("Load of missing file: expected error")
	}
}

func TestPolicyKindRejectsUnknown(t *testing.T) {
	cfg := &DemoConfig{Policy: "mru"}
	if _, err := cfg.PolicyKind(); err == nil {
		t.Fatalf("PolicyKind(mru): expected error")
	}
}

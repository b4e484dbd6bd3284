package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigGeneratesDefaultFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxConcurrentTasks != 8 {
		t.Fatalf("max_concurrent_tasks = %d, want default 8", cfg.MaxConcurrentTasks)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config file to be written: %v", err)
	}
}

func TestLoadConfigRoundTripsFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if _, err := LoadConfig(path); err != nil {
		t.Fatalf("first load: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if cfg.DefaultImage != "fog/default-runner:latest" {
		t.Fatalf("default_image = %s, want fog/default-runner:latest", cfg.DefaultImage)
	}
	if len(cfg.ImageMap) == 0 {
		t.Fatal("expected image_map to be populated from the written defaults")
	}
}

func TestLoadConfigAppliesDefaultsForMissingFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	partial := "port: \":9090\"\n"
	if err := os.WriteFile(path, []byte(partial), 0644); err != nil {
		t.Fatalf("write partial config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != ":9090" {
		t.Fatalf("port = %s, want :9090 (explicit value preserved)", cfg.Port)
	}
	if cfg.MaxConcurrentTasks != 8 {
		t.Fatalf("max_concurrent_tasks = %d, want default 8 applied for a missing field", cfg.MaxConcurrentTasks)
	}
	if cfg.DockerHost == "" {
		t.Fatal("expected docker_host default to be applied")
	}
}

func TestGenerateServiceIDIncludesPrefix(t *testing.T) {
	id := GenerateServiceID("fog-dispatcher-")
	if len(id) <= len("fog-dispatcher-") {
		t.Fatalf("generated id %q too short for prefix", id)
	}
	if id[:len("fog-dispatcher-")] != "fog-dispatcher-" {
		t.Fatalf("generated id %q missing expected prefix", id)
	}
}

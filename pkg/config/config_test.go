package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfig_FileSizeLimit(t *testing.T) {
	tmpDir := t.TempDir()

	// Create a large file (> 1MB)
	largeFile := filepath.Join(tmpDir, "large.yaml")
	data := strings.Repeat("x: value\n", 200000) // ~1.6MB
	err := os.WriteFile(largeFile, []byte(data), 0600)
	if err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	_, err = LoadConfig(largeFile)
	if err == nil {
		t.Error("expected error for large file")
	}
	if !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected 'too large' error, got: %v", err)
	}
}

func TestLoadConfig_ValidFile(t *testing.T) {
	tmpDir := t.TempDir()

	validConfig := `
primary_backend: redis
redis:
  addr: localhost:6379
sync:
  enabled: true
  interval: 1m
  conflict_resolution: merge
`

	validFile := filepath.Join(tmpDir, "valid.yaml")
	err := os.WriteFile(validFile, []byte(validConfig), 0600)
	if err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	cfg, err := LoadConfig(validFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PrimaryBackend != "redis" {
		t.Errorf("expected backend 'redis', got %s", cfg.PrimaryBackend)
	}
	if cfg.Sync.ConflictResolution != "merge" {
		t.Errorf("expected conflict_resolution 'merge', got %s", cfg.Sync.ConflictResolution)
	}
	if cfg.Sync.Interval.Std().String() != "1m0s" {
		t.Errorf("expected interval 1m, got %s", cfg.Sync.Interval.Std())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got: %v", err)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	tmpDir := t.TempDir()

	f := filepath.Join(tmpDir, "minimal.yaml")
	if err := os.WriteFile(f, []byte("gcp_project: demo\n"), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	cfg, err := LoadConfig(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PrimaryBackend != "firestore" {
		t.Errorf("expected default backend 'firestore', got %s", cfg.PrimaryBackend)
	}
	if cfg.Sync.ConflictResolution != "latest" {
		t.Errorf("expected default conflict_resolution 'latest', got %s", cfg.Sync.ConflictResolution)
	}
	if cfg.Sync.OperationTimeout.Std().Seconds() != 15 {
		t.Errorf("expected default operation timeout 15s, got %s", cfg.Sync.OperationTimeout.Std())
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	tmpDir := t.TempDir()

	f := filepath.Join(tmpDir, "cfg.yaml")
	if err := os.WriteFile(f, []byte("primary_backend: memory\n"), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	t.Setenv("CONVSYNC_PRIMARY_BACKEND", "redis")
	t.Setenv("CONVSYNC_REDIS_ADDR", "redis:6379")

	cfg, err := LoadConfig(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PrimaryBackend != "redis" {
		t.Errorf("expected env override to 'redis', got %s", cfg.PrimaryBackend)
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Errorf("expected redis addr from env, got %s", cfg.Redis.Addr)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.PrimaryBackend = "dynamo" }},
		{"firestore without project", func(c *Config) { c.PrimaryBackend = "firestore"; c.GCPProject = "" }},
		{"redis without addr", func(c *Config) { c.PrimaryBackend = "redis"; c.Redis.Addr = "" }},
		{"bad conflict policy", func(c *Config) { c.Sync.ConflictResolution = "random" }},
		{"short encryption key", func(c *Config) { c.Cache.EncryptionKey = "short" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.PrimaryBackend = "memory"
			tt.mut(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadConfig_NonexistentFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()

	invalidYAML := `
primary_backend: memory
invalid yaml here: [[[
`

	invalidFile := filepath.Join(tmpDir, "invalid.yaml")
	err := os.WriteFile(invalidFile, []byte(invalidYAML), 0600)
	if err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	_, err = LoadConfig(invalidFile)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

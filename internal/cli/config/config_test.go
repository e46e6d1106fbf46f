package config

import (
	"os"
	"testing"
)

func TestLoad(t *testing.T) {
	// Test loading with no config file (should use defaults)
	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	os.Chdir(tmpDir)
	defer os.Chdir(oldWd)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error loading defaults, got %v", err)
	}

	if cfg == nil {
		t.Fatal("expected config to be non-nil")
	}

	// Check defaults
	if cfg.Store.Driver != "memory" {
		t.Errorf("expected default store driver 'memory', got %s", cfg.Store.Driver)
	}

	if cfg.Query.PerPage != 10 {
		t.Errorf("expected default per_page 10, got %d", cfg.Query.PerPage)
	}

	if cfg.Cache.Redis.TTLSeconds != 30 {
		t.Errorf("expected default cache TTL 30, got %d", cfg.Cache.Redis.TTLSeconds)
	}

	if cfg.Schema.DefaultGroup.Name != "default" {
		t.Errorf("expected default group name 'default', got %s", cfg.Schema.DefaultGroup.Name)
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	// Create temporary directory with config file
	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	os.Chdir(tmpDir)
	defer os.Chdir(oldWd)

	// Write config file
	configContent := `
store:
  driver: postgres
  url: postgresql://localhost/lodestone
cache:
  redis:
    addr: localhost:6379
    ttl_seconds: 60
query:
  per_page: 25
schema:
  default_group:
    name: misc
    label: Miscellaneous
`
	os.WriteFile("lodestone.yml", []byte(configContent), 0644)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error loading config, got %v", err)
	}

	if cfg.Store.Driver != "postgres" {
		t.Errorf("expected store driver 'postgres', got %s", cfg.Store.Driver)
	}

	if cfg.Store.URL != "postgresql://localhost/lodestone" {
		t.Errorf("expected store URL, got %s", cfg.Store.URL)
	}

	if cfg.Cache.Redis.Addr != "localhost:6379" {
		t.Errorf("expected redis addr 'localhost:6379', got %s", cfg.Cache.Redis.Addr)
	}

	if cfg.Cache.Redis.TTLSeconds != 60 {
		t.Errorf("expected cache TTL 60, got %d", cfg.Cache.Redis.TTLSeconds)
	}

	if cfg.Query.PerPage != 25 {
		t.Errorf("expected per_page 25, got %d", cfg.Query.PerPage)
	}

	if cfg.Schema.DefaultGroup.Name != "misc" {
		t.Errorf("expected default group 'misc', got %s", cfg.Schema.DefaultGroup.Name)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	os.Chdir(tmpDir)
	defer os.Chdir(oldWd)

	os.WriteFile("lodestone.yml", []byte("store:\n  driver: mongo\n"), 0644)

	if _, err := Load(); err == nil {
		t.Error("expected error for unknown store driver, got nil")
	}
}

func TestLoadRequiresURLForPostgres(t *testing.T) {
	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	os.Chdir(tmpDir)
	defer os.Chdir(oldWd)

	os.WriteFile("lodestone.yml", []byte("store:\n  driver: postgres\n"), 0644)

	if _, err := Load(); err == nil {
		t.Error("expected error for postgres without url, got nil")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("HOME", filepath.Join(t.TempDir(), "home"))
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ServerBaseURL() != "http://127.0.0.1:8080" {
		t.Fatalf("unexpected server url: %q", cfg.ServerBaseURL())
	}
	if cfg.PageSize() != 50 {
		t.Fatalf("unexpected page size: %d", cfg.PageSize())
	}
	if cfg.PingInterval() != 25*time.Second {
		t.Fatalf("unexpected ping interval: %v", cfg.PingInterval())
	}
	if cfg.LogLevel() != "info" {
		t.Fatalf("unexpected log level: %q", cfg.LogLevel())
	}
}

func TestLoadConfigFromTOML(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	t.Setenv("HOME", home)

	dataDir := filepath.Join(home, ".loom")
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	content := []byte("[server]\nurl = \"https://chat.example.com/\"\n\n[history]\npage_size = 25\n")
	if err := os.WriteFile(filepath.Join(dataDir, "config.toml"), content, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ServerBaseURL() != "https://chat.example.com" {
		t.Fatalf("unexpected server url: %q", cfg.ServerBaseURL())
	}
	if cfg.PageSize() != 25 {
		t.Fatalf("unexpected page size: %d", cfg.PageSize())
	}
}

func TestResolveTokenPath(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	t.Setenv("HOME", home)

	cfg := Config{}
	path, err := cfg.ResolveTokenPath()
	if err != nil {
		t.Fatalf("ResolveTokenPath default: %v", err)
	}
	if want := filepath.Join(home, ".loom", "token"); path != want {
		t.Fatalf("unexpected default path: got=%q want=%q", path, want)
	}

	cfg.Server.TokenFile = "secrets/token"
	path, err = cfg.ResolveTokenPath()
	if err != nil {
		t.Fatalf("ResolveTokenPath relative: %v", err)
	}
	if want := filepath.Join(home, ".loom", "secrets", "token"); path != want {
		t.Fatalf("unexpected relative path: got=%q want=%q", path, want)
	}
}

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/eargollo/mediaid/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_DefaultsApplied(t *testing.T) {
	t.Setenv("TMDB_API_KEY", "")
	path := writeConfig(t, "client:\n  scan_paths:\n    - /tmp/test\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Client.ScanPaths) != 1 || cfg.Client.ScanPaths[0] != "/tmp/test" {
		t.Errorf("scan_paths: got %v", cfg.Client.ScanPaths)
	}
	if cfg.Client.Schedule == "" {
		t.Error("expected default schedule to be set")
	}
	if cfg.Server.HTTPAddr == "" {
		t.Error("expected default http_addr to be set")
	}
	if cfg.Client.Enumerator != config.EnumeratorLocal {
		t.Errorf("enumerator: got %q", cfg.Client.Enumerator)
	}
	if cfg.Client.HashMode != config.HashModeContent {
		t.Errorf("hash_mode: got %q", cfg.Client.HashMode)
	}
	if w := cfg.Client.Workers; w.Walkers == 0 || w.Hashers == 0 || w.Resolvers == 0 {
		t.Errorf("expected worker defaults, got %+v", w)
	}
	if cfg.TMDB.RequestsPerSecond == 0 {
		t.Error("expected default requests_per_second")
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log_level: got %q, want info", cfg.LogLevel)
	}
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	path := writeConfig(t, "scan_pathz:\n  - /tmp\n")
	if _, err := config.Load(path); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestLoad_EnvOverridesAPIKey(t *testing.T) {
	t.Setenv("TMDB_API_KEY", "from-env")
	path := writeConfig(t, "tmdb:\n  api_key: from-file\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TMDB.APIKey != "from-env" {
		t.Errorf("api_key: got %q, want from-env", cfg.TMDB.APIKey)
	}
}

func TestLoad_CommandEnumeratorRequiresCommand(t *testing.T) {
	path := writeConfig(t, "client:\n  enumerator: command\n")
	if _, err := config.Load(path); err == nil {
		t.Error("expected error when enumerator_command is missing")
	}

	path = writeConfig(t, "client:\n  enumerator: command\n  enumerator_command: [smb-ls, --json]\n")
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Client.EnumeratorCommand) != 2 {
		t.Errorf("enumerator_command: got %v", cfg.Client.EnumeratorCommand)
	}
}

func TestLoad_BadHashMode(t *testing.T) {
	path := writeConfig(t, "client:\n  hash_mode: sha512\n")
	if _, err := config.Load(path); err == nil {
		t.Error("expected error for unknown hash_mode")
	}
}

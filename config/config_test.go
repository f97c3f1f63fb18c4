// File: config/config_test.go
// Author: momentics <momentics@gmail.com>

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMapsSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pumpd.ini")
	contents := `[server]
listen = 127.0.0.1:9999
seed = tunnel-seed
max_conns = 128

[log]
level = debug
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := Default()
	if err := Load(cfg, path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:9999" {
		t.Errorf("Listen = %q", cfg.Server.Listen)
	}
	if cfg.Server.Seed != "tunnel-seed" {
		t.Errorf("Seed = %q", cfg.Server.Seed)
	}
	if cfg.Server.MaxConns != 128 {
		t.Errorf("MaxConns = %d", cfg.Server.MaxConns)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Level = %q", cfg.Log.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg := Default()
	if err := Load(cfg, filepath.Join(t.TempDir(), "absent.ini")); err == nil {
		t.Fatal("loading a missing file succeeded")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7777")
	t.Setenv("PUMPD_SEED", "env-seed")
	t.Setenv("PUMPD_MAX_CONNS", "64")

	cfg := Default()
	ApplyEnv(cfg)
	if cfg.Server.Listen != ":7777" {
		t.Errorf("Listen = %q, want :7777", cfg.Server.Listen)
	}
	if cfg.Server.Seed != "env-seed" {
		t.Errorf("Seed = %q", cfg.Server.Seed)
	}
	if cfg.Server.MaxConns != 64 {
		t.Errorf("MaxConns = %d", cfg.Server.MaxConns)
	}
}

func TestListenEnvPrecedence(t *testing.T) {
	t.Setenv("PORT", "7777")
	t.Setenv("PUMPD_LISTEN", "10.0.0.1:8888")

	cfg := Default()
	ApplyEnv(cfg)
	if cfg.Server.Listen != "10.0.0.1:8888" {
		t.Errorf("Listen = %q, PUMPD_LISTEN must win over PORT", cfg.Server.Listen)
	}
}

func TestEnvIgnoresInvalidValues(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	t.Setenv("PUMPD_MAX_CONNS", "-5")

	cfg := Default()
	ApplyEnv(cfg)
	if cfg.Server.Listen != Default().Server.Listen {
		t.Errorf("Listen = %q, want default", cfg.Server.Listen)
	}
	if cfg.Server.MaxConns != Default().Server.MaxConns {
		t.Errorf("MaxConns = %d, want default", cfg.Server.MaxConns)
	}
}

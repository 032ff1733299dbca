package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultPassesValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() should validate, got %v", err)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ShardID != "shard-0" || cfg.Backend != "memory" {
		t.Fatalf("expected defaults for missing file, got %+v", cfg)
	}
}

func TestLoadOverlaysYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard.yaml")
	body := []byte("shard_id: shard-7\nbackend: bolt\nbackend_path: /var/lib/shard-7.bolt\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ShardID != "shard-7" || cfg.Backend != "bolt" || cfg.BackendPath != "/var/lib/shard-7.bolt" {
		t.Fatalf("unexpected overlay result: %+v", cfg)
	}
	// Fields the file doesn't mention keep their defaults.
	if cfg.AutoUnlockTimeout != 10*time.Second {
		t.Fatalf("expected untouched field to keep its default, got %v", cfg.AutoUnlockTimeout)
	}
}

func TestApplyEnvOverridesFileAndDefaults(t *testing.T) {
	t.Setenv("SHARD_ID", "shard-env")
	t.Setenv("SHARD_BACKEND", "badger")
	t.Setenv("SHARD_AUTO_UNLOCK_TIMEOUT", "15s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ShardID != "shard-env" || cfg.Backend != "badger" {
		t.Fatalf("env override didn't apply: %+v", cfg)
	}
	if cfg.AutoUnlockTimeout != 15*time.Second {
		t.Fatalf("expected duration env override, got %v", cfg.AutoUnlockTimeout)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"empty shard id", Config{Backend: "memory", Coord: "mem", AutoUnlockTimeout: time.Second, PersistInterval: time.Second}},
		{"unknown backend", Config{ShardID: "s", Backend: "nope", Coord: "mem", AutoUnlockTimeout: time.Second, PersistInterval: time.Second}},
		{"unknown coord", Config{ShardID: "s", Backend: "memory", Coord: "nope", AutoUnlockTimeout: time.Second, PersistInterval: time.Second}},
		{"etcd without endpoints", Config{ShardID: "s", Backend: "memory", Coord: "etcd", AutoUnlockTimeout: time.Second, PersistInterval: time.Second}},
		{"zero auto unlock timeout", Config{ShardID: "s", Backend: "memory", Coord: "mem", PersistInterval: time.Second}},
		{"zero persist interval", Config{ShardID: "s", Backend: "memory", Coord: "mem", AutoUnlockTimeout: time.Second}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

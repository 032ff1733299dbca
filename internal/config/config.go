// Package config loads a shard process's configuration from a YAML file
// overlaid with environment variables. It follows a getenv/mustGetenv
// convention for the environment layer and gopkg.in/yaml.v3 for the file
// layer.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is a single shard process's full configuration.
type Config struct {
	// ShardID identifies this shard to the coordinator and in metrics.
	ShardID string `yaml:"shard_id"`

	// Backend selects a backend.Store driver: "memory", "bolt", or
	// "badger".
	Backend string `yaml:"backend"`

	// BackendPath is the on-disk path or directory for the bolt/badger
	// drivers; unused for "memory".
	BackendPath string `yaml:"backend_path"`

	// Coord selects a coord.Coordinator driver: "mem" or "etcd".
	Coord string `yaml:"coord"`

	// EtcdEndpoints lists the etcd cluster to dial when Coord is "etcd".
	EtcdEndpoints []string `yaml:"etcd_endpoints"`

	// UnloadDelay is the grace period after a release request finds a
	// slot idle before it is actually unloaded.
	UnloadDelay time.Duration `yaml:"unload_delay"`

	// DocIdleTimeout is how long an owner-less loaded slot may sit
	// untouched before the idle sweep unloads it. Zero disables idle
	// unloading.
	DocIdleTimeout time.Duration `yaml:"doc_idle_timeout"`

	// AutoUnlockTimeout bounds how long this shard waits for a
	// presumed-hung peer before force-unlocking a key, and doubles as the
	// coordinator lock TTL and the backend retry budget.
	AutoUnlockTimeout time.Duration `yaml:"auto_unlock_timeout"`

	// PersistInterval is the period between persistence pipeline sweeps.
	PersistInterval time.Duration `yaml:"persist_interval"`

	// ShutdownGrace bounds how long Stop() waits for in-flight holders to
	// commit or roll back naturally before force-unloading what remains.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	// AdminAddr is the listen address for the admin HTTP surface
	// (/healthz, /info, /metrics).
	AdminAddr string `yaml:"admin_addr"`
}

// Default returns the baseline configuration, before any file or
// environment overrides are applied.
func Default() Config {
	return Config{
		ShardID:           "shard-0",
		Backend:           "memory",
		Coord:             "mem",
		UnloadDelay:       2 * time.Second,
		DocIdleTimeout:    0,
		AutoUnlockTimeout: 10 * time.Second,
		PersistInterval:   5 * time.Second,
		ShutdownGrace:     5 * time.Second,
		AdminAddr:         ":8090",
	}
}

// Load reads path (if non-empty and present) as YAML over the defaults,
// then applies environment overrides, then validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SHARD_ID"); v != "" {
		cfg.ShardID = v
	}
	if v := os.Getenv("SHARD_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("SHARD_BACKEND_PATH"); v != "" {
		cfg.BackendPath = v
	}
	if v := os.Getenv("SHARD_COORD"); v != "" {
		cfg.Coord = v
	}
	if v := os.Getenv("SHARD_ADMIN_ADDR"); v != "" {
		cfg.AdminAddr = v
	}
	if v := getenvDuration("SHARD_UNLOAD_DELAY"); v > 0 {
		cfg.UnloadDelay = v
	}
	if v := getenvDuration("SHARD_DOC_IDLE_TIMEOUT"); v > 0 {
		cfg.DocIdleTimeout = v
	}
	if v := getenvDuration("SHARD_AUTO_UNLOCK_TIMEOUT"); v > 0 {
		cfg.AutoUnlockTimeout = v
	}
	if v := getenvDuration("SHARD_PERSIST_INTERVAL"); v > 0 {
		cfg.PersistInterval = v
	}
}

func getenvDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

// Validate rejects a configuration that would leave the shard unable to
// start.
func (c Config) Validate() error {
	if c.ShardID == "" {
		return fmt.Errorf("config: shard_id is required")
	}
	switch c.Backend {
	case "memory", "bolt", "badger":
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	switch c.Coord {
	case "mem", "etcd":
	default:
		return fmt.Errorf("config: unknown coord %q", c.Coord)
	}
	if c.Coord == "etcd" && len(c.EtcdEndpoints) == 0 {
		return fmt.Errorf("config: coord=etcd requires etcd_endpoints")
	}
	if c.AutoUnlockTimeout <= 0 {
		return fmt.Errorf("config: auto_unlock_timeout must be positive")
	}
	if c.PersistInterval <= 0 {
		return fmt.Errorf("config: persist_interval must be positive")
	}
	return nil
}

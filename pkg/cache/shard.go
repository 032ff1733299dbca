package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/dreamware/torua-cache/internal/backend"
	"github.com/dreamware/torua-cache/internal/backend/badgerstore"
	"github.com/dreamware/torua-cache/internal/backend/boltstore"
	"github.com/dreamware/torua-cache/internal/backend/memstore"
	"github.com/dreamware/torua-cache/internal/cacheerr"
	"github.com/dreamware/torua-cache/internal/config"
	"github.com/dreamware/torua-cache/internal/coord"
	"github.com/dreamware/torua-cache/internal/coord/etcdcoord"
	"github.com/dreamware/torua-cache/internal/coord/memcoord"
	"github.com/dreamware/torua-cache/internal/docenc"
	"github.com/dreamware/torua-cache/internal/lifecycle"
	"github.com/dreamware/torua-cache/internal/metrics"
	"github.com/dreamware/torua-cache/internal/persist"
)

// Document is the caller-facing document value: an opaque
// map[string]any, or nil for "absent". Re-exported from internal/docenc
// so embedders never import an internal package.
type Document = docenc.Document

// Error kinds, re-exported for callers that want to branch on them with
// errors.Is / errors.As.
const (
	KindContractViolation  = cacheerr.KindContractViolation
	KindBackendUnavailable = cacheerr.KindBackendUnavailable
	KindLockLost           = cacheerr.KindLockLost
	KindShutdown           = cacheerr.KindShutdown
)

// Store is one shard's embeddable document cache: the public surface over
// internal/lifecycle.Manager.
type Store struct {
	mgr      *lifecycle.Manager
	pipeline *persist.Pipeline
	etcdCli  *clientv3.Client
	log      zerolog.Logger
	metrics  *metrics.Registry
}

// Option customizes Open.
type Option func(*openOptions)

type openOptions struct {
	log         zerolog.Logger
	backend     backend.Store
	coordinator coord.Coordinator
}

// WithLogger overrides the zerolog.Logger a Store uses; the default is a
// no-op logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *openOptions) { o.log = log }
}

// WithBackend injects an already-constructed backend.Store instead of
// building one from cfg.Backend/cfg.BackendPath. Used to host several
// shards in one process against a shared backing store (a real
// deployment would point multiple shard processes at the same external
// backend, e.g. a shared badger directory reachable only from one
// process, or a durable service; tests use it to share a memstore).
func WithBackend(store backend.Store) Option {
	return func(o *openOptions) { o.backend = store }
}

// WithCoordinator injects an already-constructed coord.Coordinator
// instead of building one from cfg.Coord/cfg.EtcdEndpoints. Used by tests
// (and by a single process hosting multiple shards) to share one
// coordinator across several Store instances, the way independent shard
// processes share one etcd cluster.
func WithCoordinator(coordinator coord.Coordinator) Option {
	return func(o *openOptions) { o.coordinator = coordinator }
}

// Open builds the backend and coordinator drivers named by cfg, wires
// them into a lifecycle manager and persistence pipeline, and starts both.
// The returned Store is ready for Lock/Find/Insert/Update/Remove/Commit/
// Rollback calls.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Store, error) {
	o := openOptions{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	store := o.backend
	if store == nil {
		var err error
		store, err = buildBackend(cfg)
		if err != nil {
			return nil, err
		}
	}

	coordinator := o.coordinator
	var etcdCli *clientv3.Client
	if coordinator == nil {
		var err error
		coordinator, etcdCli, err = buildCoordinator(cfg)
		if err != nil {
			return nil, err
		}
	}

	reg := metrics.New(cfg.ShardID)

	mgr := lifecycle.New(lifecycle.Config{
		ShardID:           cfg.ShardID,
		UnloadDelay:       cfg.UnloadDelay,
		DocIdleTimeout:    cfg.DocIdleTimeout,
		AutoUnlockTimeout: cfg.AutoUnlockTimeout,
		ShutdownGrace:     cfg.ShutdownGrace,
	}, store, coordinator, reg, o.log)

	if err := mgr.Start(ctx); err != nil {
		return nil, err
	}

	s := &Store{mgr: mgr, etcdCli: etcdCli, log: o.log, metrics: reg}
	s.pipeline = persist.New(mgr, cfg.PersistInterval, o.log, func(err error) {
		s.log.Warn().Err(err).Msg("persistence sweep reported lost locks")
	})
	s.pipeline.Start()

	return s, nil
}

func buildBackend(cfg config.Config) (backend.Store, error) {
	switch cfg.Backend {
	case "memory", "":
		return memstore.New(), nil
	case "bolt":
		if cfg.BackendPath == "" {
			return nil, fmt.Errorf("cache: backend=bolt requires backend_path")
		}
		return boltstore.New(cfg.BackendPath), nil
	case "badger":
		if cfg.BackendPath == "" {
			return nil, fmt.Errorf("cache: backend=badger requires backend_path")
		}
		return badgerstore.New(cfg.BackendPath), nil
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
	}
}

func buildCoordinator(cfg config.Config) (coord.Coordinator, *clientv3.Client, error) {
	switch cfg.Coord {
	case "mem", "":
		return memcoord.New(), nil, nil
	case "etcd":
		cli, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.EtcdEndpoints,
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("cache: dialing etcd: %w", err)
		}
		return etcdcoord.New(cli), cli, nil
	default:
		return nil, nil, fmt.Errorf("cache: unknown coord %q", cfg.Coord)
	}
}

// Close stops the persistence pipeline and lifecycle manager, flushing
// and releasing every resident slot.
func (s *Store) Close(ctx context.Context) error {
	s.pipeline.Stop()
	err := s.mgr.Stop(ctx)
	if s.etcdCli != nil {
		_ = s.etcdCli.Close()
	}
	return err
}

// Errors returns the channel background failures (failed renewals, failed
// flushes, lost locks) are reported on.
func (s *Store) Errors() <-chan error { return s.mgr.Errors() }

// Metrics returns the shard's Prometheus registry for wiring into an HTTP
// /metrics handler.
func (s *Store) Metrics() *metrics.Registry { return s.metrics }

// Lock acquires the write lease on key for connID, loading it first if
// necessary.
func (s *Store) Lock(ctx context.Context, connID, key string) error {
	return s.mgr.Lock(ctx, connID, key)
}

// Find returns key's document (or, if field is non-empty, just that
// field), loading it first if necessary. Does not require Lock.
func (s *Store) Find(ctx context.Context, connID, key, field string) (any, error) {
	return s.mgr.Find(ctx, connID, key, field)
}

// Insert stores doc at key. Requires Lock; key must be absent.
func (s *Store) Insert(ctx context.Context, connID, key string, doc Document) error {
	return s.mgr.Insert(ctx, connID, key, doc)
}

// Update merges patch into key's document and returns the result.
// Requires Lock; the document must already exist.
func (s *Store) Update(ctx context.Context, connID, key string, patch Document) (Document, error) {
	return s.mgr.Update(ctx, connID, key, patch)
}

// Remove deletes key's document. Requires Lock.
func (s *Store) Remove(ctx context.Context, connID, key string) error {
	return s.mgr.Remove(ctx, connID, key)
}

// Commit closes connID's mutation window on key, handing the write lease
// to the next waiter (if any) or releasing it.
func (s *Store) Commit(ctx context.Context, connID, key string) error {
	return s.mgr.Commit(ctx, connID, key)
}

// Rollback closes connID's mutation window on key, undoing every mutation
// made since the most recent Lock.
func (s *Store) Rollback(ctx context.Context, connID, key string) error {
	return s.mgr.Rollback(ctx, connID, key)
}

// NewConnID returns a fresh, unique connection identifier for callers that
// don't already track one of their own (ad hoc CLI invocations, one-off
// admin operations) rather than having them invent one.
func NewConnID() string { return uuid.New().String() }

// IsLoaded reports whether key is currently resident in memory.
func (s *Store) IsLoaded(key string) bool { return s.mgr.IsLoaded(key) }

// ResidentSlots reports how many slots are currently resident in memory.
func (s *Store) ResidentSlots() int { return s.mgr.ResidentSlots() }

// SaveAll forces an out-of-band persistence sweep immediately, instead of
// waiting for the next scheduled cycle. Exposed for tests and for an
// explicit /flush admin operation.
func (s *Store) SaveAll(ctx context.Context) error {
	return s.mgr.SaveAll(ctx)
}

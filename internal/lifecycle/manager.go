package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/dreamware/torua-cache/internal/backend"
	"github.com/dreamware/torua-cache/internal/cacheerr"
	"github.com/dreamware/torua-cache/internal/coord"
	"github.com/dreamware/torua-cache/internal/docenc"
	"github.com/dreamware/torua-cache/internal/keyspace"
	"github.com/dreamware/torua-cache/internal/metrics"
	"github.com/dreamware/torua-cache/internal/slot"
)

// Config tunes a Manager's timing, independent of which backend/coord
// drivers it was built with.
type Config struct {
	ShardID           string
	UnloadDelay       time.Duration
	DocIdleTimeout    time.Duration
	AutoUnlockTimeout time.Duration
	ShutdownGrace     time.Duration
	IdleSweepInterval time.Duration
}

// Manager is the document lifecycle manager for one shard: the slot
// state machine plus the cross-shard ownership protocol it drives
// through a coord.Coordinator.
type Manager struct {
	cfg     Config
	table   *slot.Table
	backend backend.Store
	coord   coord.Coordinator
	log     zerolog.Logger
	metrics *metrics.Registry

	errCh chan error

	stopOnce sync.Once
	stopCh   chan struct{}
	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup

	releaseSub func()

	pendingMu      sync.Mutex
	pendingUnloads map[string]*time.Timer
}

// New builds a Manager over the given backend and coordinator drivers. The
// manager does not start any background work until Start is called.
func New(cfg Config, store backend.Store, coordinator coord.Coordinator, reg *metrics.Registry, log zerolog.Logger) *Manager {
	if cfg.IdleSweepInterval <= 0 {
		cfg.IdleSweepInterval = time.Second
	}
	bgCtx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:            cfg,
		table:          slot.NewTable(),
		backend:        store,
		coord:          coordinator,
		log:            log.With().Str("component", "lifecycle").Str("shard_id", cfg.ShardID).Logger(),
		metrics:        reg,
		errCh:          make(chan error, 64),
		stopCh:         make(chan struct{}),
		bgCtx:          bgCtx,
		bgCancel:       cancel,
		pendingUnloads: make(map[string]*time.Timer),
	}
}

// Errors returns the channel background failures are surfaced on: a
// failed renewal, a failed flush, and other errors discovered outside a
// caller's own request are reported asynchronously here. The channel is
// never closed; callers select on it alongside their own shutdown signal.
func (m *Manager) Errors() <-chan error { return m.errCh }

func (m *Manager) surfaceError(err error) {
	select {
	case m.errCh <- err:
	default:
		m.log.Warn().Err(err).Msg("dropping background error, error channel full")
	}
}

func (m *Manager) isStopping() bool {
	select {
	case <-m.stopCh:
		return true
	default:
		return false
	}
}

// Start opens the backend, subscribes to release requests, and launches
// the renewer and idle-sweep background tasks.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.backend.Start(ctx); err != nil {
		return fmt.Errorf("lifecycle: starting backend: %w", err)
	}

	cancel, err := m.coord.Subscribe(m.bgCtx, "", m.onReleaseRequested)
	if err != nil {
		return fmt.Errorf("lifecycle: subscribing to release requests: %w", err)
	}
	m.releaseSub = cancel

	m.wg.Add(2)
	go m.renewLoop()
	go m.idleSweepLoop()

	m.log.Info().Msg("lifecycle manager started")
	return nil
}

// Stop drains the manager: new entries are refused immediately, in-flight
// holders get up to cfg.ShutdownGrace to commit or roll back naturally,
// and whatever remains loaded is then force-unloaded.
func (m *Manager) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	if m.releaseSub != nil {
		m.releaseSub()
	}
	m.bgCancel()
	m.wg.Wait()

	deadline := time.Now().Add(m.cfg.ShutdownGrace)
	for time.Now().Before(deadline) && m.anyOwned() {
		time.Sleep(10 * time.Millisecond)
	}

	for _, key := range m.table.Keys() {
		m.forceUnload(ctx, key)
	}

	if err := m.backend.Stop(ctx); err != nil {
		return fmt.Errorf("lifecycle: stopping backend: %w", err)
	}
	m.log.Info().Msg("lifecycle manager stopped")
	return nil
}

func (m *Manager) anyOwned() bool {
	for _, s := range m.table.Snapshot() {
		s.Lock()
		owned := s.Owner != ""
		s.Unlock()
		if owned {
			return true
		}
	}
	return false
}

// ResidentSlots reports how many slots are currently resident in memory,
// regardless of state.
func (m *Manager) ResidentSlots() int { return m.table.Len() }

// IsLoaded reports whether key currently has a resident, Loaded slot.
func (m *Manager) IsLoaded(key string) bool {
	s := m.table.Get(key)
	if s == nil {
		return false
	}
	s.Lock()
	defer s.Unlock()
	return s.State == slot.Loaded
}

// ensureResident makes sure key has a Loaded slot, triggering a load if
// absent and waiting out any in-progress load or unload. It never touches
// ownership.
func (m *Manager) ensureResident(ctx context.Context, connID, key string) (*slot.Slot, error) {
	for {
		if m.isStopping() {
			return nil, cacheerr.Shutdown()
		}
		s, inserted := m.table.GetOrInsert(key)
		if inserted {
			if err := m.load(ctx, s); err != nil {
				m.table.Remove(key)
				return nil, err
			}
			return s, nil
		}

		s.Lock()
		switch s.State {
		case slot.Loaded:
			s.Unlock()
			return s, nil
		case slot.Loading, slot.Unloading:
			w := slot.NewWaiter(connID)
			s.EnqueueWaiter(w)
			s.Unlock()
			if err := m.waitFor(ctx, w); err != nil {
				return nil, err
			}
		default:
			s.Unlock()
		}
	}
}

func (m *Manager) waitFor(ctx context.Context, w *slot.Waiter) error {
	select {
	case <-w.Done:
		return w.Err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopCh:
		return cacheerr.Shutdown()
	}
}

// Lock acquires the write lease on key for connID, loading the document
// first if it is not already resident, and blocking FIFO behind any
// current owner. A connection that already holds the lease may call Lock
// again at no cost (re-entrant).
func (m *Manager) Lock(ctx context.Context, connID, key string) error {
	for {
		s, err := m.ensureResident(ctx, connID, key)
		if err != nil {
			return err
		}

		s.Lock()
		if s.State != slot.Loaded {
			s.Unlock()
			continue
		}
		if s.Owner == "" {
			s.Owner = connID
			s.Touch()
			s.Unlock()
			return nil
		}
		if s.Owner == connID {
			s.Touch()
			s.Unlock()
			return nil
		}
		w := slot.NewWaiter(connID)
		s.EnqueueWaiter(w)
		s.Unlock()
		if err := m.waitFor(ctx, w); err != nil {
			return err
		}
		// Woken either because commit/rollback handed us ownership
		// directly, or because an unload drained the queue and we must
		// retry from scratch; ensureResident/the state check above
		// disambiguates the two on the next iteration.
	}
}

// Find returns key's document, loading it first if necessary, without
// taking ownership. If field is non-empty, only that top-level field is
// returned (nil, nil if absent from the document).
func (m *Manager) Find(ctx context.Context, connID, key, field string) (any, error) {
	s, err := m.ensureResident(ctx, connID, key)
	if err != nil {
		return nil, err
	}

	s.Lock()
	doc := docenc.Clone(s.Doc)
	s.Touch()
	s.Unlock()

	if field == "" {
		return doc, nil
	}
	if doc == nil {
		return nil, nil
	}
	v := doc[field]
	return v, nil
}

// Insert stores doc at key. The caller must hold the write lease, and the
// key must currently be absent.
func (m *Manager) Insert(ctx context.Context, connID, key string, doc docenc.Document) error {
	s := m.table.Get(key)
	if s == nil {
		return cacheerr.ContractViolation(key, "insert on a key with no resident slot")
	}
	s.Lock()
	defer s.Unlock()
	if s.Owner != connID {
		return cacheerr.ContractViolation(key, "insert without holding the lock")
	}
	if s.Doc != nil {
		return cacheerr.ContractViolation(key, "insert on an existing document")
	}
	s.CaptureShadowIfNeeded()
	s.Doc = docenc.Clone(doc)
	s.Dirty = true
	s.Touch()
	return nil
}

// Update merges patch's fields into key's document and returns the
// resulting document. The caller must hold the write lease, and the
// document must already exist.
func (m *Manager) Update(ctx context.Context, connID, key string, patch docenc.Document) (docenc.Document, error) {
	s := m.table.Get(key)
	if s == nil {
		return nil, cacheerr.ContractViolation(key, "update on a key with no resident slot")
	}
	s.Lock()
	defer s.Unlock()
	if s.Owner != connID {
		return nil, cacheerr.ContractViolation(key, "update without holding the lock")
	}
	if s.Doc == nil {
		return nil, cacheerr.ContractViolation(key, "update on an absent document")
	}
	s.CaptureShadowIfNeeded()
	for k, v := range patch {
		s.Doc[k] = v
	}
	s.Dirty = true
	s.Touch()
	return docenc.Clone(s.Doc), nil
}

// Remove deletes key's document. The caller must hold the write lease.
func (m *Manager) Remove(ctx context.Context, connID, key string) error {
	s := m.table.Get(key)
	if s == nil {
		return cacheerr.ContractViolation(key, "remove on a key with no resident slot")
	}
	s.Lock()
	defer s.Unlock()
	if s.Owner != connID {
		return cacheerr.ContractViolation(key, "remove without holding the lock")
	}
	s.CaptureShadowIfNeeded()
	s.Doc = nil
	s.Dirty = true
	s.Touch()
	return nil
}

// Commit closes connID's mutation window on key: the shadow snapshot is
// discarded, and the write lease passes to the oldest queued waiter (if
// any) or is released to no owner.
func (m *Manager) Commit(ctx context.Context, connID, key string) error {
	s := m.table.Get(key)
	if s == nil {
		return cacheerr.ContractViolation(key, "commit on a key with no resident slot")
	}
	s.Lock()
	if s.Owner != connID {
		s.Unlock()
		return cacheerr.ContractViolation(key, "commit without holding the lock")
	}
	s.ClearShadow()
	next, scheduleUnload := m.releaseOwnership(s)
	s.Unlock()

	if next != nil {
		next.Wake(nil)
	}
	if scheduleUnload {
		m.scheduleUnload(key, m.cfg.UnloadDelay)
	}
	return nil
}

// Rollback closes connID's mutation window on key, restoring the document
// (and dirty flag) to their state before this hold's first mutation. A
// rollback with no prior mutation in this hold is a no-op.
func (m *Manager) Rollback(ctx context.Context, connID, key string) error {
	s := m.table.Get(key)
	if s == nil {
		return cacheerr.ContractViolation(key, "rollback on a key with no resident slot")
	}
	s.Lock()
	if s.Owner != connID {
		s.Unlock()
		return cacheerr.ContractViolation(key, "rollback without holding the lock")
	}
	if s.HasShadow {
		s.Doc = s.Shadow
		s.Dirty = s.ShadowDirty
	}
	s.ClearShadow()
	next, scheduleUnload := m.releaseOwnership(s)
	s.Unlock()

	if next != nil {
		next.Wake(nil)
	}
	if scheduleUnload {
		m.scheduleUnload(key, m.cfg.UnloadDelay)
	}
	return nil
}

// releaseOwnership hands key's write lease to the oldest queued waiter, or
// clears it, and reports whether an unload should now be scheduled because
// a peer's release request was pending when the lease actually freed.
// Caller must hold s's lock.
func (m *Manager) releaseOwnership(s *slot.Slot) (next *slot.Waiter, scheduleUnload bool) {
	next = s.PopWaiter()
	if next != nil {
		s.Owner = next.ConnID
		s.Touch()
		return next, false
	}
	s.Owner = ""
	if s.ReleaseRequested {
		s.ReleaseRequested = false
		return nil, true
	}
	return nil, false
}

// onReleaseRequested handles a peer's request:<key> publish.
func (m *Manager) onReleaseRequested(key string) {
	s := m.table.Get(key)
	if s == nil {
		return
	}
	s.Lock()
	if s.State != slot.Loaded {
		s.Unlock()
		return
	}
	if s.Owner == "" {
		s.Unlock()
		m.scheduleUnload(key, 0)
		return
	}
	s.ReleaseRequested = true
	s.Unlock()
}

// scheduleUnload arranges for key to be unloaded after delay, replacing
// any previously scheduled timer for the same key.
func (m *Manager) scheduleUnload(key string, delay time.Duration) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	if existing, ok := m.pendingUnloads[key]; ok {
		existing.Stop()
	}
	m.pendingUnloads[key] = time.AfterFunc(delay, func() {
		m.pendingMu.Lock()
		delete(m.pendingUnloads, key)
		m.pendingMu.Unlock()

		if m.isStopping() {
			return
		}
		if err := m.unload(m.bgCtx, key); err != nil {
			m.surfaceError(err)
		}
	})
}

// load performs the residency entry path: acquire the coordinator lock
// (retrying, requesting release, and eventually forcing the lock if a
// peer is presumed hung), read the backend, and transition the slot to
// Loaded.
func (m *Manager) load(ctx context.Context, s *slot.Slot) error {
	if err := m.acquireLock(ctx, s.Key); err != nil {
		return err
	}

	collection, id := keyspace.Split(s.Key)
	raw, found, err := m.backend.Get(ctx, collection, id)
	if err != nil {
		_ = m.coord.Unlock(ctx, s.Key, m.cfg.ShardID)
		return cacheerr.BackendUnavailable(s.Key, err)
	}

	var doc docenc.Document
	if found {
		doc, err = docenc.Decode(raw)
		if err != nil {
			_ = m.coord.Unlock(ctx, s.Key, m.cfg.ShardID)
			return cacheerr.ContractViolation(s.Key, "decoding stored document: %v", err)
		}
	}

	s.Lock()
	s.Doc = doc
	s.State = slot.Loaded
	s.Touch()
	waiters := s.DrainWaiters()
	s.Unlock()

	for _, w := range waiters {
		w.Wake(nil)
	}
	if m.metrics != nil {
		m.metrics.Loads.Inc()
		m.metrics.ResidentSlots.Inc()
	}
	return nil
}

// acquireLock implements the coordinator lock acquisition protocol: back
// off and retry, ask the current holder (if any) to release via
// RequestRelease, and force-unlock once autoUnlockTimeout has elapsed
// with no success.
func (m *Manager) acquireLock(ctx context.Context, key string) error {
	deadline := time.Now().Add(m.cfg.AutoUnlockTimeout)
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond
	requestedRelease := false

	for {
		held, _, err := m.coord.Lock(ctx, key, m.cfg.ShardID, m.cfg.AutoUnlockTimeout)
		if err != nil {
			return cacheerr.BackendUnavailable(key, err)
		}
		if held {
			return nil
		}

		if !requestedRelease {
			_ = m.coord.RequestRelease(ctx, key)
			requestedRelease = true
		}

		if time.Now().After(deadline) {
			if err := m.coord.ForceUnlock(ctx, key); err != nil {
				return cacheerr.BackendUnavailable(key, err)
			}
			if m.metrics != nil {
				m.metrics.ForceUnlocks.Inc()
			}
			held, _, err := m.coord.Lock(ctx, key, m.cfg.ShardID, m.cfg.AutoUnlockTimeout)
			if err != nil {
				return cacheerr.BackendUnavailable(key, err)
			}
			if held {
				return nil
			}
			deadline = time.Now().Add(m.cfg.AutoUnlockTimeout)
			continue
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			wait = 250 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stopCh:
			return cacheerr.Shutdown()
		case <-time.After(wait):
		}
	}
}

// unload performs the scheduled-unload path: flush a dirty document,
// release the coordinator lock, and remove the slot. It is a no-op if
// the slot is no longer eligible (re-locked, already unloading, or
// already gone) by the time it runs.
func (m *Manager) unload(ctx context.Context, key string) error {
	s := m.table.Get(key)
	if s == nil {
		return nil
	}

	s.Lock()
	if s.State != slot.Loaded || s.Owner != "" {
		s.Unlock()
		return nil
	}
	s.State = slot.Unloading
	dirty := s.Dirty
	doc := docenc.Clone(s.Doc)
	s.Unlock()

	collection, id := keyspace.Split(key)
	if dirty {
		if err := m.flushWithRetry(ctx, collection, id, doc); err != nil {
			s.Lock()
			s.State = slot.Loaded
			s.Unlock()
			werr := cacheerr.BackendUnavailable(key, err)
			m.surfaceError(werr)
			return werr
		}
	}

	if err := m.coord.Unlock(ctx, key, m.cfg.ShardID); err != nil {
		var notHolder *coord.ErrNotHolder
		if errors.As(err, &notHolder) {
			m.surfaceError(&cacheerr.Error{Kind: cacheerr.KindLockLost, Key: key, Err: err})
		} else {
			m.surfaceError(cacheerr.BackendUnavailable(key, err))
		}
	}

	s.Lock()
	s.Dirty = false
	s.State = slot.Unloaded
	waiters := s.DrainWaiters()
	s.Unlock()

	m.table.Remove(key)
	if m.metrics != nil {
		m.metrics.Unloads.Inc()
		m.metrics.ResidentSlots.Dec()
	}
	for _, w := range waiters {
		w.Wake(nil)
	}
	return nil
}

// forceUnload is unload's unconditional sibling, used only while
// Stop is draining: it proceeds even if a connection still appears to
// hold the lease, since the shutdown grace period has already elapsed.
func (m *Manager) forceUnload(ctx context.Context, key string) {
	s := m.table.Get(key)
	if s == nil {
		return
	}
	s.Lock()
	if s.State == slot.Unloaded {
		s.Unlock()
		return
	}
	s.State = slot.Unloading
	dirty := s.Dirty
	doc := docenc.Clone(s.Doc)
	s.Unlock()

	collection, id := keyspace.Split(key)
	if dirty {
		if err := m.flushWithRetry(ctx, collection, id, doc); err != nil {
			m.log.Error().Err(err).Str("key", key).Msg("dropping dirty write at shutdown, flush failed")
		}
	}
	_ = m.coord.Unlock(ctx, key, m.cfg.ShardID)

	s.Lock()
	s.State = slot.Unloaded
	waiters := s.DrainWaiters()
	s.Unlock()

	m.table.Remove(key)
	for _, w := range waiters {
		w.Wake(cacheerr.Shutdown())
	}
}

// forceEvict discards key's local state without writing it anywhere:
// used when this shard discovers — via the renewer or via SaveAll's
// pre-flush check — that it no longer holds the key's coordinator lock.
func (m *Manager) forceEvict(key string) {
	s := m.table.Get(key)
	if s == nil {
		return
	}
	s.Lock()
	s.State = slot.Unloading
	s.Doc = nil
	s.Dirty = false
	s.Owner = ""
	s.ClearShadow()
	waiters := s.DrainWaiters()
	s.State = slot.Unloaded
	s.Unlock()

	m.table.Remove(key)
	if m.metrics != nil {
		m.metrics.ResidentSlots.Dec()
	}
	for _, w := range waiters {
		w.Wake(nil)
	}
}

// flushWithRetry writes (or deletes, for an absent doc) one key to the
// backend, retrying transient failures up to autoUnlockTimeout.
func (m *Manager) flushWithRetry(ctx context.Context, collection, id string, doc docenc.Document) error {
	op := func() error {
		if doc == nil {
			return m.backend.Del(ctx, collection, id)
		}
		raw, err := docenc.Encode(doc)
		if err != nil {
			return backoff.Permanent(err)
		}
		return m.backend.Set(ctx, collection, id, raw)
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = m.cfg.AutoUnlockTimeout
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

// renewLoop is a per-shard periodic task: every autoUnlockTimeout/3,
// renew the coordinator lock for every currently Loaded slot. A renewal
// failure means a peer force-unlocked this key out from under us; the
// slot is force-evicted.
func (m *Manager) renewLoop() {
	defer m.wg.Done()
	interval := m.cfg.AutoUnlockTimeout / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.bgCtx.Done():
			return
		case <-ticker.C:
			m.renewAll()
		}
	}
}

func (m *Manager) renewAll() {
	for key, s := range m.table.Snapshot() {
		s.Lock()
		loaded := s.State == slot.Loaded
		s.Unlock()
		if !loaded {
			continue
		}
		if err := m.coord.Renew(m.bgCtx, key, m.cfg.ShardID, m.cfg.AutoUnlockTimeout); err != nil {
			m.log.Warn().Err(err).Str("key", key).Msg("lock renewal failed, evicting")
			m.forceEvict(key)
			if m.metrics != nil {
				m.metrics.LockLost.Inc()
			}
			m.surfaceError(&cacheerr.Error{Kind: cacheerr.KindLockLost, Key: key, Err: err})
		}
	}
}

// idleSweepLoop periodically unloads owner-less slots that have sat
// untouched past DocIdleTimeout. A zero DocIdleTimeout disables this
// sweep.
func (m *Manager) idleSweepLoop() {
	defer m.wg.Done()
	if m.cfg.DocIdleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(m.cfg.IdleSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.bgCtx.Done():
			return
		case <-ticker.C:
			m.sweepIdle()
		}
	}
}

func (m *Manager) sweepIdle() {
	now := time.Now()
	for key, s := range m.table.Snapshot() {
		s.Lock()
		idle := s.State == slot.Loaded && s.Owner == "" && now.Sub(s.LastTouched) >= m.cfg.DocIdleTimeout
		s.Unlock()
		if idle {
			m.scheduleUnload(key, 0)
		}
	}
}

// SaveAll is the persistence pipeline's per-sweep unit of work: flush
// every dirty, owner-less slot to the backend, verifying that this shard
// still holds each key's coordinator lock immediately before writing it.
// Keys whose lock was found lost are force-evicted and named in the
// returned error.
func (m *Manager) SaveAll(ctx context.Context) error {
	start := time.Now()
	lost := cacheerr.NewLockLostSet()
	dirtyCount := 0

	for key, s := range m.table.Snapshot() {
		s.Lock()
		eligible := s.State == slot.Loaded && s.Owner == "" && s.Dirty
		if !eligible {
			if s.State == slot.Loaded && s.Dirty {
				dirtyCount++
			}
			s.Unlock()
			continue
		}
		doc := docenc.Clone(s.Doc)
		s.Unlock()
		dirtyCount++

		if err := m.coord.Renew(ctx, key, m.cfg.ShardID, m.cfg.AutoUnlockTimeout); err != nil {
			m.forceEvict(key)
			lost.Add(key, err)
			if m.metrics != nil {
				m.metrics.LockLost.Inc()
			}
			m.surfaceError(&cacheerr.Error{Kind: cacheerr.KindLockLost, Key: key, Err: err})
			continue
		}

		collection, id := keyspace.Split(key)
		if err := m.flushWithRetry(ctx, collection, id, doc); err != nil {
			m.surfaceError(cacheerr.BackendUnavailable(key, err))
			continue
		}

		s.Lock()
		if docenc.Equal(s.Doc, doc) {
			s.Dirty = false
		}
		s.Unlock()
	}

	if m.metrics != nil {
		m.metrics.DirtySlots.Set(float64(dirtyCount))
		m.metrics.PersistBatchSecs.Observe(time.Since(start).Seconds())
	}
	return lost.Err()
}

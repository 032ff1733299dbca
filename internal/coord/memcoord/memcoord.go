// Package memcoord implements coord.Coordinator in-process, standing in
// for the shared coordination service in tests and in single-process
// multi-shard setups. Ownership records live in a mutex-guarded map;
// pub/sub is a list of prefix-matched subscriber callbacks invoked from a
// goroutine per publish, so Subscribe handlers never block RequestRelease.
package memcoord

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dreamware/torua-cache/internal/coord"
)

type record struct {
	owner  string
	expiry time.Time
}

type subscription struct {
	id      int
	prefix  string
	handler func(key string)
}

// Coordinator is the in-process coord.Coordinator driver.
type Coordinator struct {
	locks   map[string]record
	subs    map[int]subscription
	mu      sync.Mutex
	nextSub int
}

// New returns an empty, ready-to-use in-process coordinator.
func New() *Coordinator {
	return &Coordinator{
		locks: make(map[string]record),
		subs:  make(map[int]subscription),
	}
}

func (c *Coordinator) expired(r record) bool {
	return !r.expiry.IsZero() && time.Now().After(r.expiry)
}

// Lock attempts to acquire key for ownerID. An expired record is treated
// as absent, matching the coordination service's own TTL expiry.
func (c *Coordinator) Lock(_ context.Context, key, ownerID string, ttl time.Duration) (bool, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.locks[key]; ok && !c.expired(r) {
		if r.owner == ownerID {
			return true, ownerID, nil
		}
		return false, r.owner, nil
	}

	c.locks[key] = record{owner: ownerID, expiry: expiryFor(ttl)}
	return true, ownerID, nil
}

func expiryFor(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

// Unlock removes key's record iff it still names ownerID.
func (c *Coordinator) Unlock(_ context.Context, key, ownerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.locks[key]
	if !ok || c.expired(r) {
		return nil
	}
	if r.owner != ownerID {
		return &coord.ErrNotHolder{Key: key, CurrentHolder: r.owner}
	}
	delete(c.locks, key)
	return nil
}

// Renew extends key's expiry iff it still names ownerID.
func (c *Coordinator) Renew(_ context.Context, key, ownerID string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.locks[key]
	if !ok || c.expired(r) || r.owner != ownerID {
		holder := ""
		if ok {
			holder = r.owner
		}
		return &coord.ErrNotHolder{Key: key, CurrentHolder: holder}
	}
	r.expiry = expiryFor(ttl)
	c.locks[key] = r
	return nil
}

// ForceUnlock unconditionally removes key's record.
func (c *Coordinator) ForceUnlock(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, key)
	return nil
}

// RequestRelease notifies every subscription whose prefix matches key.
// Handlers run in their own goroutine so a slow handler never delays the
// publisher or other subscribers.
func (c *Coordinator) RequestRelease(_ context.Context, key string) error {
	c.mu.Lock()
	matched := make([]subscription, 0, len(c.subs))
	for _, s := range c.subs {
		if strings.HasPrefix(key, s.prefix) {
			matched = append(matched, s)
		}
	}
	c.mu.Unlock()

	for _, s := range matched {
		go s.handler(key)
	}
	return nil
}

// Subscribe registers handler for every RequestRelease publish whose key
// starts with prefix, until cancel is called.
func (c *Coordinator) Subscribe(ctx context.Context, prefix string, handler func(key string)) (func(), error) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = subscription{id: id, prefix: prefix, handler: handler}
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return cancel, nil
}

var _ coord.Coordinator = (*Coordinator)(nil)

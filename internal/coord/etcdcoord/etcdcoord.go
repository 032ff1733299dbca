// Package etcdcoord implements coord.Coordinator on top of
// go.etcd.io/etcd/client/v3, the production coordination-service driver.
// Ownership is a lease-scoped key under "lock/<key>"; release requests are
// short-lived puts under "request:<key>" delivered to subscribers via
// etcd's Watch API, which is this driver's substitute for a dedicated
// pub/sub facility.
package etcdcoord

import (
	"context"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/dreamware/torua-cache/internal/coord"
)

const (
	lockPrefix    = "lock/"
	requestPrefix = "request:"
)

// Coordinator is the etcd-backed coord.Coordinator driver.
type Coordinator struct {
	client *clientv3.Client
	leases map[string]clientv3.LeaseID // key -> lease currently backing its lock
	mu     sync.Mutex
}

// New wraps an already-connected etcd client. The caller owns the
// client's lifecycle (dial options, TLS, endpoints); this driver only
// issues calls against it.
func New(client *clientv3.Client) *Coordinator {
	return &Coordinator{client: client, leases: make(map[string]clientv3.LeaseID)}
}

func lockKey(key string) string    { return lockPrefix + key }
func requestKey(key string) string { return requestPrefix + key }

// Lock grants a lease for ttl and attempts to create lockKey(key) with
// ownerID as its value, conditioned on the key not already existing
// (create-revision 0). On contention it reads back the current holder.
func (c *Coordinator) Lock(ctx context.Context, key, ownerID string, ttl time.Duration) (bool, string, error) {
	lease, err := c.client.Grant(ctx, int64(ttl.Seconds()))
	if err != nil {
		return false, "", fmt.Errorf("etcdcoord: grant lease: %w", err)
	}

	lk := lockKey(key)
	resp, err := c.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(lk), "=", 0)).
		Then(clientv3.OpPut(lk, ownerID, clientv3.WithLease(lease.ID))).
		Else(clientv3.OpGet(lk)).
		Commit()
	if err != nil {
		return false, "", fmt.Errorf("etcdcoord: lock txn: %w", err)
	}

	if resp.Succeeded {
		c.mu.Lock()
		c.leases[key] = lease.ID
		c.mu.Unlock()
		return true, ownerID, nil
	}

	// Lost the race: release the unused lease and report the holder.
	_, _ = c.client.Revoke(ctx, lease.ID)
	holder := ""
	if get := resp.Responses[0].GetResponseRange(); get != nil && len(get.Kvs) > 0 {
		holder = string(get.Kvs[0].Value)
	}
	return false, holder, nil
}

// Unlock deletes lockKey(key) iff its value still names ownerID.
func (c *Coordinator) Unlock(ctx context.Context, key, ownerID string) error {
	lk := lockKey(key)
	resp, err := c.client.Txn(ctx).
		If(clientv3.Compare(clientv3.Value(lk), "=", ownerID)).
		Then(clientv3.OpDelete(lk)).
		Else(clientv3.OpGet(lk)).
		Commit()
	if err != nil {
		return fmt.Errorf("etcdcoord: unlock txn: %w", err)
	}

	c.mu.Lock()
	delete(c.leases, key)
	c.mu.Unlock()

	if resp.Succeeded {
		return nil
	}
	holder := ""
	if get := resp.Responses[0].GetResponseRange(); get != nil && len(get.Kvs) > 0 {
		holder = string(get.Kvs[0].Value)
	}
	return &coord.ErrNotHolder{Key: key, CurrentHolder: holder}
}

// Renew extends key's lease to ttl via a single keep-alive, iff this
// driver instance still tracks a lease for it (i.e. this process was the
// one that acquired the lock).
func (c *Coordinator) Renew(ctx context.Context, key, ownerID string, ttl time.Duration) error {
	c.mu.Lock()
	lease, ok := c.leases[key]
	c.mu.Unlock()
	if !ok {
		return &coord.ErrNotHolder{Key: key}
	}

	if _, err := c.client.KeepAliveOnce(ctx, lease); err != nil {
		c.mu.Lock()
		delete(c.leases, key)
		c.mu.Unlock()
		return &coord.ErrNotHolder{Key: key}
	}
	return nil
}

// ForceUnlock unconditionally deletes lockKey(key), used by a peer after
// waiting past autoUnlockTimeout for an unresponsive owner.
func (c *Coordinator) ForceUnlock(ctx context.Context, key string) error {
	_, err := c.client.Delete(ctx, lockKey(key))
	if err != nil {
		return fmt.Errorf("etcdcoord: force unlock: %w", err)
	}
	return nil
}

// RequestRelease publishes a short-lived value under requestKey(key); the
// lease keeps the keyspace from growing unbounded while still delivering
// a Put event to every active watcher.
func (c *Coordinator) RequestRelease(ctx context.Context, key string) error {
	lease, err := c.client.Grant(ctx, 5)
	if err != nil {
		return fmt.Errorf("etcdcoord: grant request lease: %w", err)
	}
	_, err = c.client.Put(ctx, requestKey(key), "1", clientv3.WithLease(lease.ID))
	if err != nil {
		return fmt.Errorf("etcdcoord: put request: %w", err)
	}
	return nil
}

// Subscribe watches every key under requestPrefix+prefix and invokes
// handler with the original document key (the requestPrefix is stripped)
// on each Put event, until ctx is done or the returned cancel is called.
func (c *Coordinator) Subscribe(ctx context.Context, prefix string, handler func(key string)) (func(), error) {
	watchCtx, cancel := context.WithCancel(ctx)
	watchChan := c.client.Watch(watchCtx, requestPrefix+prefix, clientv3.WithPrefix())

	go func() {
		for resp := range watchChan {
			for _, ev := range resp.Events {
				if ev.Type != clientv3.EventTypePut {
					continue
				}
				full := string(ev.Kv.Key)
				handler(full[len(requestPrefix):])
			}
		}
	}()

	return cancel, nil
}

var _ coord.Coordinator = (*Coordinator)(nil)

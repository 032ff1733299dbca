package slot

import "sync"

// Table is a shard's local key → *Slot map. It owns only the map's
// structural mutations (insert/remove/lookup); per-key field mutations go
// through the Slot's own lock.
//
// An RWMutex-protected map lets many concurrent reads proceed while
// structural changes take the exclusive lock.
type Table struct {
	slots map[string]*Slot
	mu    sync.RWMutex
}

// NewTable returns an empty slot table.
func NewTable() *Table {
	return &Table{slots: make(map[string]*Slot)}
}

// Get returns the slot for key, or nil if none is resident.
func (t *Table) Get(key string) *Slot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.slots[key]
}

// GetOrInsert returns the existing slot for key if present, else inserts
// and returns a freshly created one in the Loading state. inserted reports
// which case occurred, so the caller knows whether to kick off a load.
func (t *Table) GetOrInsert(key string) (s *Slot, inserted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.slots[key]; ok {
		return existing, false
	}
	s = New(key)
	t.slots[key] = s
	return s, true
}

// Remove deletes key's slot from the table; once removed, nothing else
// in the core holds a reference to it.
func (t *Table) Remove(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.slots, key)
}

// Len reports how many slots are currently resident.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.slots)
}

// Keys returns a snapshot of every resident key, in no particular order.
func (t *Table) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	keys := make([]string, 0, len(t.slots))
	for k := range t.slots {
		keys = append(keys, k)
	}
	return keys
}

// Snapshot returns a copy of the slots map, for callers (the persistence
// pipeline, the idle-timeout sweep) that need to iterate without holding
// the table lock for the duration of their work.
func (t *Table) Snapshot() map[string]*Slot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]*Slot, len(t.slots))
	for k, v := range t.slots {
		out[k] = v
	}
	return out
}

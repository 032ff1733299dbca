package slot

import (
	"sync"
	"time"

	"github.com/gammazero/deque"

	"github.com/dreamware/torua-cache/internal/docenc"
)

// State represents a slot's position in the residency lifecycle state
// machine.
//
// Transitions are driven only by internal/lifecycle:
//
//	absent → Loading → Loaded → Unloading → Unloaded → absent
type State string

const (
	// Loading means the slot was just inserted and is waiting on the
	// coordinator lock and the initial backend read.
	Loading State = "loading"

	// Loaded means the document is resident and usable; owner may be
	// empty (no connection currently holds the write lease).
	Loaded State = "loaded"

	// Unloading means a flush-then-release is in progress; new lock and
	// find requests enqueue but do not proceed until it completes.
	Unloading State = "unloading"

	// Unloaded is a terminal marker briefly held before the slot is
	// removed from its table; no code should observe a slot in this
	// state for long.
	Unloaded State = "unloaded"
)

// Waiter is one pending lock acquisition on a slot, released in FIFO
// order by closing Done. Err, if non-nil once Done is closed, is the
// reason the wait ended without the caller becoming owner (e.g. Shutdown).
type Waiter struct {
	ConnID string
	Done   chan struct{}
	Err    error
}

// NewWaiter returns a Waiter ready to be enqueued and waited on.
func NewWaiter(connID string) *Waiter {
	return &Waiter{ConnID: connID, Done: make(chan struct{})}
}

// Wake closes Done exactly once, recording err as the wait's outcome.
func (w *Waiter) Wake(err error) {
	select {
	case <-w.Done:
		// already woken
	default:
		w.Err = err
		close(w.Done)
	}
}

// Slot is the in-memory residency unit for one document key.
//
// All field access outside of this package must go through a held Lock/
// Unlock pair; internal/lifecycle is the only caller that does so.
type Slot struct {
	mu sync.Mutex

	Key string

	State State

	// Doc is the current, possibly uncommitted document, or nil
	// ("absent").
	Doc docenc.Document

	// Shadow is the last-committed value, captured on first mutation
	// within a connection's hold so rollback never needs backend I/O.
	// HasShadow distinguishes "shadow is the absent document" from "no
	// shadow captured yet".
	Shadow    docenc.Document
	HasShadow bool

	// ShadowDirty is the value Dirty held at the moment Shadow was
	// captured; rollback restores Dirty to it, so a rollback that undoes
	// the only mutation since the last flush also clears Dirty, while a
	// rollback that undoes a second hold's mutation on top of an already-
	// committed, still-unflushed change leaves Dirty set.
	ShadowDirty bool

	// Owner is the connection ID currently holding the write lease, or
	// "" if none.
	Owner string

	// Dirty is true if the slot has changed since the last successful
	// backend write.
	Dirty bool

	// LastTouched is updated on every read or mutation; the idle-unload
	// timer measures from it.
	LastTouched time.Time

	// ReleaseRequested is set when a peer asks for this key's release
	// while it is owned; the next commit/rollback schedules an unload.
	ReleaseRequested bool

	waiters deque.Deque
}

// New returns a freshly allocated Slot in the Loading state, with no
// document, no owner, and an empty waiter queue.
func New(key string) *Slot {
	return &Slot{
		Key:         key,
		State:       Loading,
		LastTouched: time.Now(),
	}
}

// Lock acquires the slot's internal mutex, serializing all field access
// to this key against concurrent goroutines operating on it.
func (s *Slot) Lock() { s.mu.Lock() }

// Unlock releases the slot's internal mutex.
func (s *Slot) Unlock() { s.mu.Unlock() }

// EnqueueWaiter appends w to the FIFO queue of pending lock acquisitions.
// Caller must hold the slot's lock.
func (s *Slot) EnqueueWaiter(w *Waiter) {
	s.waiters.PushBack(w)
}

// PopWaiter removes and returns the oldest pending waiter, or nil if the
// queue is empty. Caller must hold the slot's lock.
func (s *Slot) PopWaiter() *Waiter {
	if s.waiters.Len() == 0 {
		return nil
	}
	return s.waiters.PopFront().(*Waiter)
}

// WaiterCount reports how many acquisitions are pending. Caller must hold
// the slot's lock.
func (s *Slot) WaiterCount() int { return s.waiters.Len() }

// DrainWaiters pops and returns every pending waiter in FIFO order,
// leaving the queue empty. Caller must hold the slot's lock.
func (s *Slot) DrainWaiters() []*Waiter {
	out := make([]*Waiter, 0, s.waiters.Len())
	for s.waiters.Len() > 0 {
		out = append(out, s.waiters.PopFront().(*Waiter))
	}
	return out
}

// Touch updates LastTouched to now. Caller must hold the slot's lock.
func (s *Slot) Touch() { s.LastTouched = time.Now() }

// CaptureShadowIfNeeded snapshots the current document into Shadow the
// first time a connection mutates the slot since its last commit, so
// rollback is always possible without backend I/O. Caller must hold the
// slot's lock.
func (s *Slot) CaptureShadowIfNeeded() {
	if s.HasShadow {
		return
	}
	s.Shadow = docenc.Clone(s.Doc)
	s.HasShadow = true
	s.ShadowDirty = s.Dirty
}

// ClearShadow drops the captured shadow, called on commit (the mutation
// boundary closes) and on rollback (the shadow has just been consumed).
// Caller must hold the slot's lock.
func (s *Slot) ClearShadow() {
	s.Shadow = nil
	s.HasShadow = false
	s.ShadowDirty = false
}

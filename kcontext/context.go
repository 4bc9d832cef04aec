// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package kcontext implements the in-memory variable store (§3, §4.2): a
// map of name to record.Record guarded by a single mutex, a monotonic
// logical clock, changed-set tracking for outbound propagation, and a
// condition variable waiters block on.
//
// Locking discipline: every exported method takes the lock itself and
// releases it before returning -- there is no public recursive re-entry.
// Callers that need several operations to appear atomic to other threads
// (the one place §4.2 calls for a "recursive mutex" and "scoped guard")
// use WithLock, which runs a closure once under the lock; the closure
// works through the *Tx it is handed, whose methods call the unexported,
// lock-assuming siblings of the public methods (getLocked, setLocked, ...)
// rather than re-entering the public, self-locking API.
package kcontext

import (
	"sync"
	"time"

	"github.com/openkarl/karl/klog"
	"github.com/openkarl/karl/reconcile"
	"github.com/openkarl/karl/record"
)

// Ref is an O(1) handle into a Context entry: {name, pointer-to-record}.
// Dereferencing it bypasses the map lookup but still requires the holder
// to go through a Context method that takes the lock, since the pointed-to
// Record is mutable state shared with every other Ref to the same name.
type Ref struct {
	name string
	rec  *record.Record
}

// Name returns the variable name the reference was bound to.
func (r Ref) Name() string { return r.name }

// Valid reports whether the reference points at a live entry.
func (r Ref) Valid() bool { return r.rec != nil }

// Settings controls how a write is applied; the zero value is "a normal
// local write": write-quality 0, clock bumped by one, changed-set updated,
// waiters signalled.
type Settings struct {
	Quality            uint32
	SuppressSignal     bool // used by the local-checkpoint load path, §4.6 step 5
	SkipClockIncrement bool
}

// Context is the keyed store of records described by spec.md §3/§4.2.
type Context struct {
	log *klog.Logger

	mu   sync.Mutex
	cond *sync.Cond

	entries      map[string]*record.Record
	clock        uint64
	changed      map[string]struct{}
	localChanged map[string]struct{}
}

// New builds an empty Context. A nil logger falls back to klog.Default().
func New(log *klog.Logger) *Context {
	if log == nil {
		log = klog.Default()
	}
	c := &Context{
		log:          log,
		entries:      make(map[string]*record.Record),
		changed:      make(map[string]struct{}),
		localChanged: make(map[string]struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func isLocal(name string) bool {
	return len(name) > 0 && name[0] == '.'
}

// Get returns a copy of the named record, or an Uninitialized record if
// absent. O(1) expected.
func (c *Context) Get(name string) record.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(name)
}

func (c *Context) getLocked(name string) record.Record {
	if r, ok := c.entries[name]; ok {
		return *r
	}
	return record.Record{}
}

// GetRef returns a stable reference to name, inserting a sentinel
// Uninitialized entry if it doesn't exist yet. The returned pointer is
// valid for the Context's lifetime: records are never relocated, only
// mutated in place.
func (c *Context) GetRef(name string) Ref {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getRefLocked(name)
}

func (c *Context) getRefLocked(name string) Ref {
	r, ok := c.entries[name]
	if !ok {
		r = &record.Record{}
		c.entries[name] = r
	}
	return Ref{name: name, rec: r}
}

// WithLock runs fn once under the context's lock, then broadcasts a change
// signal if any write happened (every Tx write method -- Set, SetIndex,
// MarkModified, a successful SetClock -- counts as one). Use this to make a batch of writes atomic to
// concurrent readers, mirroring §4.2's "scoped guard (RAII)" discipline
// via Go's defer-based lock release.
func (c *Context) WithLock(fn func(tx *Tx)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx := &Tx{ctx: c}
	fn(tx)
	if tx.dirty {
		c.cond.Broadcast()
	}
}

// Tx is the lock-holding handle passed to a WithLock closure. Its methods
// assume the caller already holds Context.mu.
type Tx struct {
	ctx   *Context
	dirty bool
}

func (tx *Tx) Get(name string) record.Record   { return tx.ctx.getLocked(name) }
func (tx *Tx) GetRef(name string) Ref          { return tx.ctx.getRefLocked(name) }
func (tx *Tx) Set(ref Ref, v record.Record, s Settings) {
	tx.ctx.setLocked(ref, v, s)
	tx.dirty = true
}
func (tx *Tx) SetIndex(ref Ref, i int, v record.Record, s Settings) {
	tx.ctx.setIndexLocked(ref, i, v, s)
	tx.dirty = true
}
func (tx *Tx) MarkModified(ref Ref) {
	tx.ctx.markModifiedLocked(ref)
	tx.dirty = true
}
func (tx *Tx) Clock() uint64 { return tx.ctx.clock }
func (tx *Tx) SetClock(v uint64) bool {
	if v <= tx.ctx.clock {
		return false
	}
	tx.ctx.clock = v
	tx.dirty = true
	return true
}

// Set writes value through ref, bumping the context clock (unless
// suppressed) and stamping it plus settings.Quality onto the record, then
// marks the name changed (or local-changed for a leading '.') and signals
// waiters.
func (c *Context) Set(ref Ref, v record.Record, s Settings) {
	c.mu.Lock()
	c.setLocked(ref, v, s)
	c.mu.Unlock()
	c.cond.Broadcast()
}

func (c *Context) setLocked(ref Ref, v record.Record, s Settings) {
	if !s.SkipClockIncrement {
		c.clock++
	}
	ref.rec.Set(v)
	ref.rec.Clock = c.clock
	ref.rec.Quality = s.Quality
	ref.rec.WriteQuality = s.Quality
	ref.rec.TOI = time.Now().UnixNano()
	c.markChangedLocked(ref.name, s)
}

// SetIndex writes value at index i of an array-valued ref, growing the
// array per record.Record.SetIndexGrow, and -- per §4.1 -- still bumps the
// owning record's clock under the context's clock-increment policy even
// though this path bypasses reconciliation entirely (it's always a local
// write).
func (c *Context) SetIndex(ref Ref, i int, v record.Record, s Settings) {
	c.mu.Lock()
	c.setIndexLocked(ref, i, v, s)
	c.mu.Unlock()
	c.cond.Broadcast()
}

func (c *Context) setIndexLocked(ref Ref, i int, v record.Record, s Settings) {
	if !s.SkipClockIncrement {
		c.clock++
	}
	ref.rec.SetIndexGrow(i, v)
	ref.rec.Clock = c.clock
	c.markChangedLocked(ref.name, s)
}

// MarkModified forces name into the changed set without altering the
// record itself. The container types write through Set/SetIndex and do not
// call it.
func (c *Context) MarkModified(ref Ref) {
	c.mu.Lock()
	c.markModifiedLocked(ref)
	c.mu.Unlock()
	c.cond.Broadcast()
}

func (c *Context) markModifiedLocked(ref Ref) {
	c.markChangedLocked(ref.name, Settings{})
}

func (c *Context) markChangedLocked(name string, s Settings) {
	if s.SuppressSignal {
		return
	}
	if isLocal(name) {
		c.localChanged[name] = struct{}{}
	} else {
		c.changed[name] = struct{}{}
	}
}

// DeleteVariable removes name and reports whether it existed.
func (c *Context) DeleteVariable(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[name]
	delete(c.entries, name)
	delete(c.changed, name)
	delete(c.localChanged, name)
	return ok
}

// IncClock bumps the global logical clock by one and returns the new
// value.
func (c *Context) IncClock() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock++
	return c.clock
}

// Clock returns the current logical clock without modifying it.
func (c *Context) Clock() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock
}

// SetClock sets the global clock to v, rejecting non-increasing arguments
// (returns false and leaves the clock unchanged in that case).
func (c *Context) SetClock(v uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v <= c.clock {
		return false
	}
	c.clock = v
	return true
}

// ApplyRemote runs name/value/quality/clock through reconcile.Accept and,
// on acceptance, installs the result. This is the only sanctioned entry
// point for foreign writes (network receive, checkpoint load), per §4.1.
func (c *Context) ApplyRemote(name string, value record.Record, senderQuality uint32, senderClock uint64, s Settings) reconcile.Outcome {
	c.mu.Lock()
	outcome := c.applyRemoteLocked(name, value, senderQuality, senderClock, s)
	c.mu.Unlock()
	if outcome == reconcile.Accepted {
		c.cond.Broadcast()
	}
	return outcome
}

func (c *Context) applyRemoteLocked(name string, value record.Record, senderQuality uint32, senderClock uint64, s Settings) reconcile.Outcome {
	ref := c.getRefLocked(name)
	if ref.rec == nil {
		// getRefLocked always returns a live entry (it inserts one even
		// for "" or a '.'-prefixed name), so this does not fire; bad
		// names are rejected by reconcile.Accept below.
		return reconcile.RejectedBadName
	}
	outcome, accepted := reconcile.Accept(*ref.rec, name, value, senderQuality, senderClock)
	if outcome != reconcile.Accepted {
		return outcome
	}
	*ref.rec = accepted
	c.markChangedLocked(name, s)
	return outcome
}

// ApplyBatch applies a map of remote updates under a single lock
// acquisition, per §5: "a reader thread that applies a remote multi-key
// message does so under a single lock acquisition; remote batches
// therefore appear atomic to application threads." Returns the outcome for
// each name.
func (c *Context) ApplyBatch(updates map[string]record.Record, senderQuality uint32, senderClock uint64, s Settings) map[string]reconcile.Outcome {
	results := make(map[string]reconcile.Outcome, len(updates))
	anyAccepted := false
	c.mu.Lock()
	for name, v := range updates {
		outcome := c.applyRemoteLocked(name, v, senderQuality, senderClock, s)
		results[name] = outcome
		if outcome == reconcile.Accepted {
			anyAccepted = true
		}
	}
	c.mu.Unlock()
	if anyAccepted {
		c.cond.Broadcast()
	}
	return results
}

// Snapshot returns a copy of the changed set's records (full=false) or of
// every non-local record (full=true). If clear is true the changed set is
// emptied as part of the same lock acquisition, matching the atomic
// swap-and-clear §4.2/§4.9 require of save_checkpoint.
func (c *Context) Snapshot(full, clear bool) map[string]record.Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]record.Record)
	if full {
		for name, r := range c.entries {
			if !isLocal(name) {
				out[name] = *r
			}
		}
		if clear {
			c.changed = make(map[string]struct{})
		}
		return out
	}

	for name := range c.changed {
		if r, ok := c.entries[name]; ok {
			out[name] = *r
		}
	}
	if clear {
		c.changed = make(map[string]struct{})
	}
	return out
}

// WaitForChange blocks until any change occurs. Spurious wakeups are
// permitted by the contract (§4.2) so callers that need a specific
// condition should re-check it in a loop; karl/expr's wait() does exactly
// that. If blocking is false, it returns immediately without waiting.
func (c *Context) WaitForChange(blocking bool) {
	if !blocking {
		return
	}
	c.mu.Lock()
	c.cond.Wait()
	c.mu.Unlock()
}

// Len returns the number of entries currently stored, for diagnostics.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

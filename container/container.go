// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package container implements the typed views of spec.md §3/§4.3: thin,
// stateless wrappers that bind one or more variable references plus a
// delimiter and read/write through a kcontext.Context's public API. A
// container never caches values across calls -- every operation reacquires
// no locks of its own (kcontext.Context already does that) and re-reads --
// except StagedScalar, which keeps a local cached value and a dirty bit.
package container

import (
	"fmt"
	"strconv"

	"github.com/openkarl/karl/kcontext"
	"github.com/openkarl/karl/record"
)

const defaultDelim = "."

// Scalar is a thin read/write view of a single context variable.
type Scalar struct {
	Name  string
	Delim string
	Ctx   *kcontext.Context
}

func NewScalar(ctx *kcontext.Context, name string) Scalar {
	return Scalar{Name: name, Delim: defaultDelim, Ctx: ctx}
}

func (s Scalar) Get() record.Record { return s.Ctx.Get(s.Name) }

func (s Scalar) Set(v record.Record, settings kcontext.Settings) {
	s.Ctx.Set(s.Ctx.GetRef(s.Name), v, settings)
}

// IsTrue checks for a nil context before doing anything else (including
// logging), per §9's documented fix to the source's probable
// null-dereference ordering bug.
func (s Scalar) IsTrue() bool {
	if s.Ctx == nil {
		return false
	}
	return s.Get().IsTrue()
}

// StagedScalar keeps a local cached value and a dirty bit, writing back to
// the context only on Write or on Discard-free destruction via Close. This
// is the one container exception to "never cache values across calls"
// (§4.3).
type StagedScalar struct {
	Name  string
	Ctx   *kcontext.Context
	dirty bool
	value record.Record
	ref   kcontext.Ref
}

func NewStagedScalar(ctx *kcontext.Context, name string) *StagedScalar {
	ref := ctx.GetRef(name)
	return &StagedScalar{Name: name, Ctx: ctx, ref: ref, value: ctx.Get(name)}
}

func (s *StagedScalar) Get() record.Record { return s.value }

func (s *StagedScalar) Stage(v record.Record) {
	s.value = v
	s.dirty = true
}

func (s *StagedScalar) Write(settings kcontext.Settings) {
	if !s.dirty {
		return
	}
	s.Ctx.Set(s.ref, s.value, settings)
	s.dirty = false
}

// Close flushes a pending staged write, mirroring the teacher's
// write-back-on-destruction container behaviour (§4.3).
func (s *StagedScalar) Close() { s.Write(kcontext.Settings{}) }

// Vector maps logical index i to the key name+delim+i and maintains
// name+delim+"size".
type Vector struct {
	Name  string
	Delim string
	Ctx   *kcontext.Context
}

func NewVector(ctx *kcontext.Context, name string) Vector {
	return Vector{Name: name, Delim: defaultDelim, Ctx: ctx}
}

func (v Vector) key(i int) string {
	return v.Name + v.Delim + strconv.Itoa(i)
}

func (v Vector) sizeKey() string { return v.Name + v.Delim + "size" }

func (v Vector) Get(i int) record.Record { return v.Ctx.Get(v.key(i)) }

func (v Vector) Set(i int, val record.Record, settings kcontext.Settings) {
	v.Ctx.Set(v.Ctx.GetRef(v.key(i)), val, settings)
	v.growSize(i+1, settings)
}

func (v Vector) growSize(n int, settings kcontext.Settings) {
	cur := v.Size()
	if n > cur {
		v.Ctx.Set(v.Ctx.GetRef(v.sizeKey()), record.Int(int64(n)), settings)
	}
}

func (v Vector) Size() int { return int(v.Ctx.Get(v.sizeKey()).ToInteger()) }

// IsTrue reports whether any element is true. Checks for a nil context
// first (§9).
func (v Vector) IsTrue() bool {
	if v.Ctx == nil {
		return false
	}
	n := v.Size()
	for i := 0; i < n; i++ {
		if v.Get(i).IsTrue() {
			return true
		}
	}
	return false
}

// Vector2D is the two-dimensional vector container: name+delim+i+delim+j.
// §9 documents a source bug where IsTrue's inner loop incremented i
// instead of j, scanning only column 0; this implementation uses both
// loop indices correctly.
type Vector2D struct {
	Name  string
	Delim string
	Ctx   *kcontext.Context
	Rows  int
	Cols  int
}

func (v Vector2D) key(i, j int) string {
	return fmt.Sprintf("%s%s%d%s%d", v.Name, v.Delim, i, v.Delim, j)
}

func (v Vector2D) Get(i, j int) record.Record { return v.Ctx.Get(v.key(i, j)) }

func (v Vector2D) Set(i, j int, val record.Record, settings kcontext.Settings) {
	v.Ctx.Set(v.Ctx.GetRef(v.key(i, j)), val, settings)
}

func (v Vector2D) IsTrue() bool {
	if v.Ctx == nil {
		return false
	}
	for i := 0; i < v.Rows; i++ {
		for j := 0; j < v.Cols; j++ { // correctly varies j, not i (§9)
			if v.Get(i, j).IsTrue() {
				return true
			}
		}
	}
	return false
}

// Map enumerates context keys sharing a common prefix; unlike Vector it
// has no size counter, so membership is tracked by the caller (typically
// via an explicit key list) rather than scanned from the store, since
// Context does not expose prefix iteration (§4.2 is a pure keyed map, not
// an ordered index).
type Map struct {
	Name  string
	Delim string
	Ctx   *kcontext.Context
}

func NewMap(ctx *kcontext.Context, name string) Map {
	return Map{Name: name, Delim: defaultDelim, Ctx: ctx}
}

func (m Map) key(k string) string { return m.Name + m.Delim + k }

func (m Map) Get(k string) record.Record { return m.Ctx.Get(m.key(k)) }

func (m Map) Set(k string, v record.Record, settings kcontext.Settings) {
	m.Ctx.Set(m.Ctx.GetRef(m.key(k)), v, settings)
}

// Barrier reads name+delim+id for id in [0,N) and reports done when no
// entry is ahead of self's own value, per §3.
type Barrier struct {
	Name         string
	Delim        string
	Ctx          *kcontext.Context
	Participants int
	Self         int
}

func NewBarrier(ctx *kcontext.Context, name string, participants, self int) *Barrier {
	return &Barrier{Name: name, Delim: defaultDelim, Ctx: ctx, Participants: participants, Self: self}
}

func (b *Barrier) key(id int) string { return b.Name + b.Delim + strconv.Itoa(id) }

func (b *Barrier) Next(settings kcontext.Settings) {
	ref := b.Ctx.GetRef(b.key(b.Self))
	next := b.Ctx.Get(b.key(b.Self)).ToInteger() + 1
	b.Ctx.Set(ref, record.Int(next), settings)
}

// IsDone reports whether no participant's counter is ahead of this
// participant's own counter.
func (b *Barrier) IsDone() bool {
	if b.Ctx == nil {
		return false
	}
	self := b.Ctx.Get(b.key(b.Self)).ToInteger()
	for id := 0; id < b.Participants; id++ {
		if b.Ctx.Get(b.key(id)).ToInteger() > self {
			return false
		}
	}
	return true
}

// Queue is a FIFO view backed by a Vector plus head/tail index variables.
type Queue struct {
	Name  string
	Delim string
	Ctx   *kcontext.Context
}

func NewQueue(ctx *kcontext.Context, name string) Queue {
	return Queue{Name: name, Delim: defaultDelim, Ctx: ctx}
}

func (q Queue) headKey() string { return q.Name + q.Delim + "head" }
func (q Queue) tailKey() string { return q.Name + q.Delim + "tail" }
func (q Queue) elemKey(i int64) string {
	return q.Name + q.Delim + strconv.FormatInt(i, 10)
}

// Enqueue appends v at the tail and advances the tail index.
func (q Queue) Enqueue(v record.Record, settings kcontext.Settings) {
	tail := q.Ctx.Get(q.tailKey()).ToInteger()
	q.Ctx.Set(q.Ctx.GetRef(q.elemKey(tail)), v, settings)
	q.Ctx.Set(q.Ctx.GetRef(q.tailKey()), record.Int(tail+1), settings)
}

// Dequeue removes and returns the head element; ok is false if the queue
// is empty.
func (q Queue) Dequeue(settings kcontext.Settings) (v record.Record, ok bool) {
	head := q.Ctx.Get(q.headKey()).ToInteger()
	tail := q.Ctx.Get(q.tailKey()).ToInteger()
	if head >= tail {
		return record.Record{}, false
	}
	v = q.Ctx.Get(q.elemKey(head))
	q.Ctx.DeleteVariable(q.elemKey(head))
	q.Ctx.Set(q.Ctx.GetRef(q.headKey()), record.Int(head+1), settings)
	return v, true
}

// Len reports the number of queued elements.
func (q Queue) Len() int64 {
	return q.Ctx.Get(q.tailKey()).ToInteger() - q.Ctx.Get(q.headKey()).ToInteger()
}

func (q Queue) IsTrue() bool {
	if q.Ctx == nil {
		return false
	}
	return q.Len() > 0
}

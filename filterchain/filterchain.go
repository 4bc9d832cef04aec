// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package filterchain implements the ordered, per-type record transforms of
// spec.md §4.7: a chain of entries gated by a variant mask, applied in
// insertion order to every record passing through a given direction (send,
// receive, rebroadcast), plus whole-batch aggregate filters that can add,
// remove or rename entries. ALL_TYPES entries interleave with type-specific
// ones in the same insertion order, so a single slice per chain (rather
// than a map keyed by variant) is the right shape: iteration order is the
// mask-check order, matching §4.7's "stable and by insertion order" rule.
package filterchain

import (
	"time"

	"github.com/openkarl/karl/record"
)

// VariantMask selects which record.Variant values an Entry applies to.
// AllTypes matches every variant including Uninitialized.
type VariantMask uint32

const AllTypes VariantMask = 0xFFFFFFFF

// Mask returns a VariantMask matching exactly the given variants.
func Mask(variants ...record.Variant) VariantMask {
	var m VariantMask
	for _, v := range variants {
		m |= 1 << uint32(v)
	}
	return m
}

func (m VariantMask) matches(v record.Variant) bool {
	if m == AllTypes {
		return true
	}
	return m&(1<<uint32(v)) != 0
}

// Direction identifies which of the three named chains a TransportContext
// is flowing through.
type Direction int

const (
	Send Direction = iota
	Receive
	Rebroadcast
)

func (d Direction) String() string {
	switch d {
	case Send:
		return "send"
	case Receive:
		return "receive"
	case Rebroadcast:
		return "rebroadcast"
	default:
		return "unknown"
	}
}

// TransportContext is the per-batch metadata an aggregate filter can
// inspect: direction, bandwidth counters, timestamps, originator and
// logical domain, per §4.7.
type TransportContext struct {
	Direction        Direction
	Originator       string
	Domain           string
	SendTimestamp    time.Time
	ReceiveTimestamp time.Time
	BytesOnWire      int
}

// RecordFilterFunc transforms one (name, record) pair. Returning a record
// with Variant == record.Uninitialized drops it from the batch entirely.
type RecordFilterFunc func(name string, r record.Record, tc TransportContext) record.Record

// AggregateFilterFunc transforms the whole batch in place (it may add,
// remove, or rename entries) and returns the resulting batch.
type AggregateFilterFunc func(batch map[string]record.Record, tc TransportContext) map[string]record.Record

// entry is an internal wrapper distinguishing per-record from aggregate
// filters while preserving a single insertion-ordered list.
type entry struct {
	mask       VariantMask
	fn         RecordFilterFunc
	aggregate  AggregateFilterFunc
	isAggregate bool
}

// Chain is an ordered list of filter entries applied to a batch of records
// flowing in one direction.
type Chain struct {
	entries []entry
}

// New returns an empty Chain.
func New() *Chain {
	return &Chain{}
}

// Add appends a per-record filter gated by mask.
func (c *Chain) Add(mask VariantMask, fn RecordFilterFunc) {
	c.entries = append(c.entries, entry{mask: mask, fn: fn})
}

// AddAggregate appends a whole-batch filter; it always runs regardless of
// any record's variant.
func (c *Chain) AddAggregate(fn AggregateFilterFunc) {
	c.entries = append(c.entries, entry{aggregate: fn, isAggregate: true})
}

// Len reports the number of entries in the chain (diagnostics/tests).
func (c *Chain) Len() int { return len(c.entries) }

// Apply runs batch through every entry in insertion order: per-record
// entries run once per matching record (dropping it if the result is
// Uninitialized), aggregate entries run once against the whole batch.
// Returns the resulting batch; the input map is not mutated.
func (c *Chain) Apply(batch map[string]record.Record, tc TransportContext) map[string]record.Record {
	out := make(map[string]record.Record, len(batch))
	for k, v := range batch {
		out[k] = v
	}

	for _, e := range c.entries {
		if e.isAggregate {
			out = e.aggregate(out, tc)
			continue
		}
		for name, r := range out {
			if !e.mask.matches(r.Variant) {
				continue
			}
			result := e.fn(name, r, tc)
			if result.Variant == record.Uninitialized {
				delete(out, name)
				continue
			}
			out[name] = result
		}
	}
	return out
}

// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"fmt"
	"sync"

	"github.com/openkarl/karl/internal/lru"
	"github.com/openkarl/karl/klog"
	"github.com/openkarl/karl/wire"
)

// Fragment splits an encoded frame into an ordered sequence of §6.1.2
// fragment frames, each at most mtu bytes, sharing (originator, clock).
// The payload of every fragment is a contiguous slice of the original
// frame, so fragment 0's payload begins with the original frame's header
// (spec.md §4.8: "Fragment 0 contains the original frame's header"); it
// holds the whole header only when mtu-FragmentHeaderSize >= HeaderSize,
// and with a smaller mtu the header continues into the following
// fragments. The fragment header's Updates field is repurposed
// to carry the total fragment count, per §4.8's "sharing (originator,
// clock, update_number-count)".
func Fragment(frame []byte, h wire.Header, mtu int) ([][]byte, error) {
	chunkSize := mtu - wire.FragmentHeaderSize
	if chunkSize <= 0 {
		return nil, fmt.Errorf("transport: mtu %d too small for fragment header (%d)", mtu, wire.FragmentHeaderSize)
	}

	n := (len(frame) + chunkSize - 1) / chunkSize
	if n == 0 {
		n = 1
	}
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(frame) {
			end = len(frame)
		}
		payload := frame[start:end]
		fh := wire.FragmentHeader{
			Header: wire.Header{
				Size:       uint64(wire.FragmentHeaderSize + len(payload)),
				Domain:     h.Domain,
				Originator: h.Originator,
				Type:       h.Type,
				Updates:    uint32(n),
				Quality:    h.Quality,
				Clock:      h.Clock,
				Timestamp:  h.Timestamp,
				TTL:        h.TTL,
			},
			UpdateNumber: uint32(i),
		}
		buf := wire.EncodeFragmentHeader(fh)
		buf = append(buf, payload...)
		out = append(out, buf)
	}
	return out, nil
}

type fragKey struct {
	originator string
	clock      uint64
}

type assembly struct {
	declared  uint32
	fragments map[uint32][]byte
}

// Reassembler accumulates fragments keyed by (originator, clock) per
// §4.8: once fragment 0 is present and the fragment count reaches the
// declared total, it emits the reassembled frame and drops the entry. The
// per-originator in-flight queue is bounded; on overflow the oldest clock
// entry is evicted (QuotaExceeded, logged as a warning).
type Reassembler struct {
	mu          sync.Mutex
	log         *klog.Logger
	queueLength int
	perOrig     map[string]*lru.Cache[uint64, *assembly]
}

// NewReassembler builds a Reassembler bounding each originator's in-flight
// clock queue to queueLength entries (non-positive means unbounded).
func NewReassembler(queueLength int, log *klog.Logger) *Reassembler {
	if log == nil {
		log = klog.Default()
	}
	return &Reassembler{
		log:         log,
		queueLength: queueLength,
		perOrig:     make(map[string]*lru.Cache[uint64, *assembly]),
	}
}

func (r *Reassembler) queueFor(originator string) *lru.Cache[uint64, *assembly] {
	q, ok := r.perOrig[originator]
	if !ok {
		q = lru.New[uint64, *assembly](r.queueLength)
		q.OnEvict = func(clock uint64, a *assembly) {
			r.log.Warnf("transport: fragment queue overflow for %q, evicting clock %d", originator, clock)
		}
		r.perOrig[originator] = q
	}
	return q
}

// InFlight reports the total number of incomplete assemblies across every
// originator, for diagnostics.
func (r *Reassembler) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, q := range r.perOrig {
		n += q.Len()
	}
	return n
}

// Add ingests one fragment. When it completes its assembly, it returns the
// reassembled frame bytes and true; otherwise (nil, false).
func (r *Reassembler) Add(fh wire.FragmentHeader, payload []byte) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fragKey{originator: fh.Originator, clock: fh.Clock}
	q := r.queueFor(fh.Originator)
	a, ok := q.Get(key.clock)
	if !ok {
		a = &assembly{declared: fh.Updates, fragments: make(map[uint32][]byte)}
		q.Put(key.clock, a)
	}
	a.fragments[fh.UpdateNumber] = payload

	if a.declared == 0 || uint32(len(a.fragments)) < a.declared {
		return nil, false
	}
	if _, ok := a.fragments[0]; !ok {
		return nil, false
	}

	var total int
	for i := uint32(0); i < a.declared; i++ {
		total += len(a.fragments[i])
	}
	frame := make([]byte, 0, total)
	for i := uint32(0); i < a.declared; i++ {
		frame = append(frame, a.fragments[i]...)
	}
	// Delete runs OnEvict too; detach it so that only overflow evictions
	// log the overflow warning.
	onEvict := q.OnEvict
	q.OnEvict = nil
	q.Delete(key.clock)
	q.OnEvict = onEvict
	return frame, true
}

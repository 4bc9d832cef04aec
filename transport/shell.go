// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package transport implements the transport-agnostic shell of §4.8: the
// bandwidth monitor, packet drop scheduler, peer trust lists, rebroadcast
// TTL handling and fragmentation/reassembly that sit between the wire
// codec and any concrete send/receive-bytes capability. Concrete
// transports (multicast, broadcast, UDP unicast, a NATS-backed pub/sub,
// and an in-process bus) each implement WireTransport and are driven by a
// Shell; the shell itself never touches a socket, per spec.md §1's
// "the transports consume an abstract send bytes / receive bytes
// capability."
package transport

import (
	"fmt"
	"strings"
	"time"

	"github.com/openkarl/karl/filterchain"
	"github.com/openkarl/karl/kcontext"
	"github.com/openkarl/karl/klog"
	"github.com/openkarl/karl/reconcile"
	"github.com/openkarl/karl/record"
	"github.com/openkarl/karl/wire"
	"github.com/prometheus/client_golang/prometheus"
)

// WireTransport is the abstract "send bytes / receive bytes" capability a
// concrete transport provides. Recv's channel is closed when the
// transport is done (e.g. after Close).
type WireTransport interface {
	Send(frame []byte) error
	Recv() <-chan []byte
	Close() error
}

// Settings configures a Shell, drawing directly on spec.md §6.4's table.
type Settings struct {
	Domain                    string
	ID                        string
	MTU                       int
	QueueLength               int
	ParticipantTTL            uint8
	RebroadcastTTL            uint8
	SendReducedMessageHeader  bool
	TrustedPeers, BannedPeers []string
	DropRate                  float64
	DropType                  DropType
	DropBurst                 int
	BandwidthWindow           time.Duration
}

// Shell wires a concrete WireTransport to a kcontext.Context through the
// reconciler and a set of named filter chains (§4.7), applying the §4.8
// shell behaviors on both the outbound and inbound path.
type Shell struct {
	log *klog.Logger

	wire     WireTransport
	ctx      *kcontext.Context
	settings Settings

	send        *filterchain.Chain
	receive     *filterchain.Chain
	rebroadcast *filterchain.Chain

	bandwidth *BandwidthMonitor
	drop      *DropScheduler
	trust     *PeerTrust
	reasm     *Reassembler

	done chan struct{}
}

var (
	bytesSentCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "karl", Subsystem: "transport", Name: "bytes_sent_total", Help: "Bytes sent on the wire."},
		[]string{"domain"},
	)
	bytesRecvCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "karl", Subsystem: "transport", Name: "bytes_received_total", Help: "Bytes received from the wire."},
		[]string{"domain"},
	)
	droppedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "karl", Subsystem: "transport", Name: "dropped_packets_total", Help: "Packets dropped by the drop scheduler or peer trust."},
		[]string{"domain", "reason"},
	)
	fragmentQueueGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "karl", Subsystem: "transport", Name: "fragment_buffer_entries", Help: "In-flight fragment reassembly entries."},
		[]string{"domain"},
	)
)

// MustRegister registers the package's Prometheus collectors with reg.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(bytesSentCounter, bytesRecvCounter, droppedCounter, fragmentQueueGauge)
}

// New builds a Shell over wt driven by settings. The three filter chains
// (send, receive, rebroadcast) are supplied by the caller -- typically
// assembled from settings-declared filterrules plus any fixed filters
// (e.g. transport/filterexport's line-protocol aggregate) -- since which
// filters exist is a configuration concern, not a shell concern.
func New(wt WireTransport, ctx *kcontext.Context, settings Settings, send, receive, rebroadcast *filterchain.Chain, log *klog.Logger) *Shell {
	if log == nil {
		log = klog.Default()
	}
	if settings.MTU <= 0 {
		settings.MTU = 1500
	}
	s := &Shell{
		log:         log,
		wire:        wt,
		ctx:         ctx,
		settings:    settings,
		send:        send,
		receive:     receive,
		rebroadcast: rebroadcast,
		bandwidth:   NewBandwidthMonitor(settings.BandwidthWindow),
		drop:        NewDropScheduler(settings.DropType, settings.DropRate, settings.DropBurst),
		trust:       NewPeerTrust(settings.TrustedPeers, settings.BannedPeers),
		reasm:       NewReassembler(settings.QueueLength, log),
		done:        make(chan struct{}),
	}
	return s
}

// SendChanges encodes the context's pending change set (or an explicit
// batch, if non-nil) as a MultiAssign frame, runs it through the send
// filter chain, fragments it if necessary, and transmits it. Local
// variables are never included: kcontext.Context.Snapshot already
// excludes them, and '.'-prefixed names are dropped from an explicit
// batch (§8's "local invisibility" invariant).
func (s *Shell) SendChanges(batch map[string]record.Record, quality uint32) error {
	if batch == nil {
		batch = s.ctx.Snapshot(false, true)
	} else {
		kept := make(map[string]record.Record, len(batch))
		for name, r := range batch {
			if !strings.HasPrefix(name, ".") {
				kept[name] = r
			}
		}
		batch = kept
	}
	if len(batch) == 0 {
		return nil
	}

	tc := filterchain.TransportContext{
		Direction:     filterchain.Send,
		Originator:    s.settings.ID,
		Domain:        s.settings.Domain,
		SendTimestamp: time.Now(),
	}
	filtered := s.send.Apply(batch, tc)
	if len(filtered) == 0 {
		return nil
	}

	clock := s.ctx.Clock()
	frame := s.encodeFrame(filtered, wire.MultiAssign, quality, clock, s.settings.RebroadcastTTL)
	return s.transmit(frame, wire.Header{
		Domain: s.settings.Domain, Originator: s.settings.ID, Type: wire.MultiAssign,
		Updates: uint32(len(filtered)), Quality: quality, Clock: clock, Timestamp: time.Now().UnixNano(),
		TTL: s.settings.RebroadcastTTL,
	})
}

func (s *Shell) encodeFrame(batch map[string]record.Record, typ wire.MessageType, quality uint32, clock uint64, ttl uint8) []byte {
	now := time.Now()
	h := wire.Header{
		Domain: s.settings.Domain, Originator: s.settings.ID, Type: typ,
		Updates: uint32(len(batch)), Quality: quality, Clock: clock, Timestamp: now.UnixNano(), TTL: ttl,
	}
	buf := wire.EncodeHeader(h)
	for name, r := range batch {
		buf = wire.EncodeRecord(buf, name, r)
	}
	h.Size = uint64(len(buf))
	// rewrite the size field now that the true length is known.
	sized := wire.EncodeHeader(h)
	copy(buf[:len(sized)], sized)
	return buf
}

// transmit always wraps frame in one or more §6.1.2 fragment frames --
// even a frame that fits in a single MTU becomes "fragment 0 of 1" -- so
// the receive side has exactly one decode path (DecodeFragmentHeader,
// Reassembler.Add) instead of needing to guess whether a given frame on
// the wire is a whole message or a piece of one.
func (s *Shell) transmit(frame []byte, h wire.Header) error {
	if s.drop.ShouldDrop() {
		droppedCounter.WithLabelValues(s.settings.Domain, "scheduled").Inc()
		return nil
	}

	fragments, err := Fragment(frame, h, s.settings.MTU)
	if err != nil {
		return fmt.Errorf("transport: fragmenting frame: %w", err)
	}
	for _, f := range fragments {
		if err := s.wire.Send(f); err != nil {
			return err
		}
		s.bandwidth.Add(int64(len(f)))
		bytesSentCounter.WithLabelValues(s.settings.Domain).Add(float64(len(f)))
	}
	return nil
}

// Run starts consuming wt.Recv() until Close is called, applying the
// receive path (decode -> filter -> reconcile -> apply -> optional
// rebroadcast) to every frame.
func (s *Shell) Run() {
	go func() {
		for {
			select {
			case <-s.done:
				return
			case raw, ok := <-s.wire.Recv():
				if !ok {
					return
				}
				s.handleInbound(raw)
			}
		}
	}()
}

func (s *Shell) handleInbound(raw []byte) {
	s.bandwidth.Add(int64(len(raw)))
	bytesRecvCounter.WithLabelValues(s.settings.Domain).Add(float64(len(raw)))

	frame, complete := s.maybeReassemble(raw)
	if !complete {
		return
	}

	h, err := wire.DecodeHeader(frame)
	if err != nil {
		s.log.Warnf("transport: dropping malformed frame: %v", err)
		return
	}
	if s.settings.Domain != "" && h.Domain != s.settings.Domain {
		return
	}
	if !s.trust.IsTrusted(h.Originator) {
		droppedCounter.WithLabelValues(s.settings.Domain, "untrusted").Inc()
		return
	}

	batch, err := decodeRecords(frame[wire.HeaderSize:], int(h.Updates))
	if err != nil {
		s.log.Warnf("transport: dropping malformed frame: %v", err)
		return
	}

	tc := filterchain.TransportContext{
		Direction: filterchain.Receive, Originator: h.Originator, Domain: h.Domain,
		ReceiveTimestamp: time.Now(), BytesOnWire: len(frame),
	}
	filtered := s.receive.Apply(batch, tc)

	outcomes := s.ctx.ApplyBatch(filtered, h.Quality, h.Clock, kcontext.Settings{})
	accepted := 0
	for _, o := range outcomes {
		if o == reconcile.Accepted {
			accepted++
		}
	}

	if accepted > 0 && h.TTL > 0 && s.settings.ParticipantTTL > 0 {
		s.doRebroadcast(filtered, h, tc)
	}
}

func (s *Shell) doRebroadcast(batch map[string]record.Record, h wire.Header, tc filterchain.TransportContext) {
	ttl := h.TTL - 1
	if s.settings.ParticipantTTL < ttl {
		ttl = s.settings.ParticipantTTL
	}
	tc.Direction = filterchain.Rebroadcast
	survivors := s.rebroadcast.Apply(batch, tc)
	if len(survivors) == 0 {
		return
	}
	frame := s.encodeFrame(survivors, h.Type, h.Quality, h.Clock, ttl)
	_ = s.transmit(frame, wire.Header{
		Domain: h.Domain, Originator: h.Originator, Type: h.Type,
		Updates: uint32(len(survivors)), Quality: h.Quality, Clock: h.Clock, Timestamp: h.Timestamp, TTL: ttl,
	})
}

// maybeReassemble decodes raw as a §6.1.2 fragment frame and feeds it to
// the reassembler; every frame transmit sends is wrapped this way (see
// transmit), so this is the only decode path on the receive side.
func (s *Shell) maybeReassemble(raw []byte) ([]byte, bool) {
	fh, err := wire.DecodeFragmentHeader(raw)
	if err != nil {
		s.log.Warnf("transport: dropping malformed fragment: %v", err)
		return nil, false
	}
	fragmentQueueGauge.WithLabelValues(s.settings.Domain).Set(float64(s.reasm.InFlight()))
	return s.reasm.Add(fh, raw[wire.FragmentHeaderSize:])
}

func decodeRecords(buf []byte, count int) (map[string]record.Record, error) {
	out := make(map[string]record.Record, count)
	for i := 0; i < count; i++ {
		name, r, consumed, err := wire.DecodeRecord(buf)
		if err != nil {
			return nil, err
		}
		out[name] = r
		buf = buf[consumed:]
	}
	return out, nil
}

// Close stops the receive goroutine and closes the underlying transport.
func (s *Shell) Close() error {
	close(s.done)
	return s.wire.Close()
}

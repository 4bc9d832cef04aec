// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package reconcile implements the per-key acceptance rule (§4.6) that
// decides whether an inbound (name, record, sender quality, sender clock)
// update overwrites the existing entry in a Context. It is the single
// source of truth for last-writer-wins-with-quality-override semantics,
// shared by the network receive path and by checkpoint loading.
package reconcile

import (
	"strings"

	"github.com/openkarl/karl/record"
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome is the result of applying one inbound update.
type Outcome int

const (
	Accepted Outcome = iota
	RejectedByQuality
	RejectedByClock
	RejectedBadName
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case RejectedByQuality:
		return "rejected_by_quality"
	case RejectedByClock:
		return "rejected_by_clock"
	case RejectedBadName:
		return "rejected_bad_name"
	default:
		return "unknown"
	}
}

// outcomeCounter tracks per-reason acceptance/rejection totals, exported as
// a Prometheus counter vector the way the teacher instruments its store
// packages throughout pkg/metricstore.
var outcomeCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "karl",
		Subsystem: "reconcile",
		Name:      "updates_total",
		Help:      "Inbound context updates by reconciliation outcome.",
	},
	[]string{"outcome"},
)

// MustRegister registers the reconciler's metrics with reg. Call once at
// startup; reusing prometheus.DefaultRegisterer is fine for a single
// process. Not calling it at all is also fine -- Accept works regardless.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(outcomeCounter)
}

// Accept applies the §4.6 rule given the existing record for name and an
// inbound update. It is a pure function: it returns the outcome and, on
// Accepted, the record existing should be replaced with -- the caller (a
// Context or a checkpoint loader) is responsible for the actual store
// mutation and for signalling waiters.
//
// Rule, in order:
//  1. empty or locally-scoped name (leading '.') -> RejectedBadName.
//  2. senderQuality < existing.Quality -> RejectedByQuality.
//  3. senderQuality == existing.Quality && senderClock <= existing.Clock
//     -> RejectedByClock (equality on clock counts as "already seen").
//  4. otherwise Accepted: value replaced, clock and quality updated to the
//     sender's.
func Accept(existing record.Record, name string, value record.Record, senderQuality uint32, senderClock uint64) (Outcome, record.Record) {
	if name == "" || strings.HasPrefix(name, ".") {
		outcomeCounter.WithLabelValues(RejectedBadName.String()).Inc()
		return RejectedBadName, existing
	}
	if senderQuality < existing.Quality {
		outcomeCounter.WithLabelValues(RejectedByQuality.String()).Inc()
		return RejectedByQuality, existing
	}
	if senderQuality == existing.Quality && senderClock <= existing.Clock {
		outcomeCounter.WithLabelValues(RejectedByClock.String()).Inc()
		return RejectedByClock, existing
	}

	accepted := value
	accepted.Clock = senderClock
	accepted.Quality = senderQuality
	outcomeCounter.WithLabelValues(Accepted.String()).Inc()
	return Accepted, accepted
}

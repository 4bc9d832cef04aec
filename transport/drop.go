// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport

import "math/rand"

// DropType selects the packet drop scheduler's policy (§4.8).
type DropType int

const (
	DropDeterministic DropType = iota
	DropUniformRandom
	DropBurst
)

// DropScheduler decides whether to drop a packet without calling any RNG
// more than once per packet (the uniform-random policy is the only one
// that needs entropy at all).
type DropScheduler struct {
	Type  DropType
	Rate  float64 // in [0.0, 1.0]
	Burst int     // consecutive drops per burst, for DropBurst

	counter   uint64
	burstLeft int
	rng       *rand.Rand
}

// NewDropScheduler builds a scheduler for the given policy and rate.
func NewDropScheduler(typ DropType, rate float64, burst int) *DropScheduler {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	return &DropScheduler{
		Type:  typ,
		Rate:  rate,
		Burst: burst,
		rng:   rand.New(rand.NewSource(1)),
	}
}

// ShouldDrop decides for the next packet, advancing whatever internal
// counter the policy uses.
func (s *DropScheduler) ShouldDrop() bool {
	if s.Rate <= 0 {
		return false
	}
	if s.Rate >= 1 {
		return true
	}

	switch s.Type {
	case DropDeterministic:
		// Drop every Nth packet, N = floor(1/Rate), e.g. rate=0.25 drops 1
		// packet in every 4; the long-run ratio equals Rate exactly only
		// when 1/Rate is a whole number (rate=0.3 drops 1 in 3).
		s.counter++
		period := uint64(1 / s.Rate)
		if period == 0 {
			period = 1
		}
		return s.counter%period == 0

	case DropBurst:
		if s.burstLeft > 0 {
			s.burstLeft--
			return true
		}
		s.counter++
		period := uint64(1 / s.Rate)
		if period == 0 {
			period = 1
		}
		if s.counter%period == 0 {
			s.burstLeft = max(s.Burst-1, 0)
			return true
		}
		return false

	default: // DropUniformRandom
		return s.rng.Float64() < s.Rate
	}
}

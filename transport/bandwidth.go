// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"sync"
	"time"
)

// BandwidthMonitor is a sliding-window byte counter: a circular buffer of
// per-second buckets, per §4.8. Reads are exact within the window.
type BandwidthMonitor struct {
	mu      sync.Mutex
	now     func() time.Time
	buckets []int64
	bucketT []int64 // unix-second stamp each bucket was last touched
	window  time.Duration
}

// NewBandwidthMonitor returns a monitor covering window, bucketed by the
// second. A non-positive window defaults to one second (a single bucket).
func NewBandwidthMonitor(window time.Duration) *BandwidthMonitor {
	if window <= 0 {
		window = time.Second
	}
	n := int(window.Seconds())
	if n < 1 {
		n = 1
	}
	return &BandwidthMonitor{
		now:     time.Now,
		buckets: make([]int64, n),
		bucketT: make([]int64, n),
		window:  window,
	}
}

func (m *BandwidthMonitor) bucketIndex(sec int64) int {
	return int(sec % int64(len(m.buckets)))
}

// rotate zeroes out any bucket whose timestamp has fallen out of the
// window, as if the circular buffer had shrunk around it.
func (m *BandwidthMonitor) rotate(nowSec int64) {
	for i := range m.buckets {
		if nowSec-m.bucketT[i] >= int64(len(m.buckets)) {
			m.buckets[i] = 0
		}
	}
}

// Add records n bytes transferred at the current time.
func (m *BandwidthMonitor) Add(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	nowSec := m.now().Unix()
	m.rotate(nowSec)
	idx := m.bucketIndex(nowSec)
	if m.bucketT[idx] != nowSec {
		m.buckets[idx] = 0
		m.bucketT[idx] = nowSec
	}
	m.buckets[idx] += n
}

// GetBytesPerSecond returns the average throughput over the window.
func (m *BandwidthMonitor) GetBytesPerSecond() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	nowSec := m.now().Unix()
	m.rotate(nowSec)
	var total int64
	for i, t := range m.bucketT {
		if nowSec-t < int64(len(m.buckets)) {
			total += m.buckets[i]
		}
	}
	return float64(total) / m.window.Seconds()
}

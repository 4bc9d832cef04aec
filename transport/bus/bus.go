// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package bus implements an in-process transport.WireTransport backed by
// Go channels: every karl process sharing a *Bus sees every other
// process's frames with no network involved, for same-process agents and
// for tests. It collapses the teacher's nats.Client subscription-callback
// map (pkg/nats/client.go) down to a single shared fan-out, since there is
// no connection to manage.
package bus

import "sync"

// Bus is a shared in-process broadcast medium. The zero value is not
// usable; construct with New.
type Bus struct {
	mu   sync.Mutex
	subs []chan []byte
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Endpoint returns a new WireTransport attached to b: frames sent from any
// endpoint on b (including this one) are delivered to every other
// endpoint's Recv channel.
func (b *Bus) Endpoint() *Endpoint {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return &Endpoint{bus: b, recv: ch}
}

func (b *Bus) broadcast(from chan []byte, frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		if ch == from {
			continue
		}
		cp := append([]byte(nil), frame...)
		select {
		case ch <- cp:
		default:
			// a slow subscriber drops the frame rather than blocking the bus.
		}
	}
}

func (b *Bus) remove(ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
}

// Endpoint is one karl process's view of a Bus; it implements
// transport.WireTransport.
type Endpoint struct {
	bus  *Bus
	recv chan []byte
}

func (e *Endpoint) Send(frame []byte) error {
	e.bus.broadcast(e.recv, frame)
	return nil
}

func (e *Endpoint) Recv() <-chan []byte { return e.recv }

func (e *Endpoint) Close() error {
	e.bus.remove(e.recv)
	close(e.recv)
	return nil
}

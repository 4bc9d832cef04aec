// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package udp implements a unicast transport.WireTransport over UDP: one
// fixed peer address per Conn, suitable for point-to-point links between
// two known agents. It is the simplest of the raw-socket transports; the
// broadcast and multicast packages build on the same read/write-loop
// shape against net.PacketConn.
package udp

import (
	"fmt"
	"net"

	"github.com/openkarl/karl/klog"
)

// MaxDatagram bounds a single read; callers should keep their Shell's MTU
// setting at or below this.
const MaxDatagram = 65507

// Conn is a unicast UDP transport.WireTransport: every Send goes to peer,
// and Recv yields whatever arrives on the local socket regardless of
// sender, since a unicast link is expected to have exactly one.
type Conn struct {
	log  *klog.Logger
	sock *net.UDPConn
	peer *net.UDPAddr
	recv chan []byte
	done chan struct{}
}

// Dial opens a UDP socket bound to localAddr (may be "" for any interface
// and ephemeral port) and targets peerAddr for Send.
func Dial(localAddr, peerAddr string, log *klog.Logger) (*Conn, error) {
	if log == nil {
		log = klog.Default()
	}
	local, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("udp: resolving local addr: %w", err)
	}
	peer, err := net.ResolveUDPAddr("udp", peerAddr)
	if err != nil {
		return nil, fmt.Errorf("udp: resolving peer addr: %w", err)
	}
	sock, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, fmt.Errorf("udp: listening: %w", err)
	}
	c := &Conn{
		log:  log,
		sock: sock,
		peer: peer,
		recv: make(chan []byte, 64),
		done: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Conn) readLoop() {
	buf := make([]byte, MaxDatagram)
	for {
		n, _, err := c.sock.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Warnf("udp: read error: %v", err)
			}
			close(c.recv)
			return
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		select {
		case c.recv <- frame:
		case <-c.done:
			close(c.recv)
			return
		}
	}
}

func (c *Conn) Send(frame []byte) error {
	_, err := c.sock.WriteToUDP(frame, c.peer)
	return err
}

func (c *Conn) Recv() <-chan []byte { return c.recv }

func (c *Conn) Close() error {
	close(c.done)
	return c.sock.Close()
}

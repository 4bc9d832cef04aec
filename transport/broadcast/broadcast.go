// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package broadcast implements a LAN-broadcast transport.WireTransport:
// every Send goes to a subnet broadcast address (e.g. 192.0.2.255:7474)
// and every agent on the segment listening on that port receives it,
// which is the natural transport for the flat, gossiping topology §1
// describes for small fixed networks.
package broadcast

import (
	"fmt"
	"net"

	"github.com/openkarl/karl/klog"
)

const maxDatagram = 65507

// Conn is a broadcast UDP transport.WireTransport.
type Conn struct {
	log       *klog.Logger
	sock      *net.UDPConn
	broadcast *net.UDPAddr
	recv      chan []byte
	done      chan struct{}
}

// Dial binds a UDP socket on bindAddr (typically ":PORT" to receive on
// every interface) and sends to broadcastAddr (e.g. "192.0.2.255:7474").
func Dial(bindAddr, broadcastAddr string, log *klog.Logger) (*Conn, error) {
	if log == nil {
		log = klog.Default()
	}
	local, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("broadcast: resolving bind addr: %w", err)
	}
	bcast, err := net.ResolveUDPAddr("udp", broadcastAddr)
	if err != nil {
		return nil, fmt.Errorf("broadcast: resolving broadcast addr: %w", err)
	}
	sock, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, fmt.Errorf("broadcast: listening: %w", err)
	}
	c := &Conn{
		log:       log,
		sock:      sock,
		broadcast: bcast,
		recv:      make(chan []byte, 64),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Conn) readLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, _, err := c.sock.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Warnf("broadcast: read error: %v", err)
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
	_, err := c.sock.WriteToUDP(frame, c.broadcast)
	return err
}

func (c *Conn) Recv() <-chan []byte { return c.recv }

func (c *Conn) Close() error {
	close(c.done)
	return c.sock.Close()
}

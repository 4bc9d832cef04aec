// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package multicast implements a transport.WireTransport over UDP
// multicast group membership, adapting the group-join/listen shape of a
// peer in a multicast broadcast ring down to karl's simpler
// Send/Recv/Close contract: karl's own reconciler already gives every
// frame a deterministic, idempotent application (§4.6), so there is no
// need for the ring's log-replication or commit protocol, only its
// socket setup and membership handling.
package multicast

import (
	"fmt"
	"net"

	"github.com/openkarl/karl/klog"
)

const maxDatagram = 65507

// Conn is a multicast-group transport.WireTransport: Send writes to the
// group address, and Recv yields every datagram the kernel delivers for
// that group on iface (including the local process's own sends, which
// callers typically filter out downstream via the originator field in
// the wire header).
type Conn struct {
	log   *klog.Logger
	sock  *net.UDPConn
	group *net.UDPAddr
	recv  chan []byte
	done  chan struct{}
}

// Join opens a multicast socket bound to groupAddr (e.g.
// "239.0.0.1:7474") on the named network interface. An empty ifaceName
// lets the kernel pick an interface.
func Join(groupAddr, ifaceName string, log *klog.Logger) (*Conn, error) {
	if log == nil {
		log = klog.Default()
	}
	group, err := net.ResolveUDPAddr("udp", groupAddr)
	if err != nil {
		return nil, fmt.Errorf("multicast: resolving group addr: %w", err)
	}

	var iface *net.Interface
	if ifaceName != "" {
		iface, err = net.InterfaceByName(ifaceName)
		if err != nil {
			return nil, fmt.Errorf("multicast: resolving interface %q: %w", ifaceName, err)
		}
	}

	sock, err := net.ListenMulticastUDP("udp", iface, group)
	if err != nil {
		return nil, fmt.Errorf("multicast: joining group: %w", err)
	}
	sock.SetReadBuffer(1 << 20)

	c := &Conn{
		log:   log,
		sock:  sock,
		group: group,
		recv:  make(chan []byte, 64),
		done:  make(chan struct{}),
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
				c.log.Warnf("multicast: read error: %v", err)
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

// Send transmits frame to the multicast group. A plain *net.UDPConn
// bound via ListenMulticastUDP can receive group traffic but cannot
// itself originate it, so Send opens a throwaway unicast socket dialed
// at the group address for the write, mirroring how multicast senders
// conventionally share the reception socket's group but not its
// membership.
func (c *Conn) Send(frame []byte) error {
	out, err := net.DialUDP("udp", nil, c.group)
	if err != nil {
		return fmt.Errorf("multicast: dialing group for send: %w", err)
	}
	defer out.Close()
	_, err = out.Write(frame)
	return err
}

func (c *Conn) Recv() <-chan []byte { return c.recv }

func (c *Conn) Close() error {
	close(c.done)
	return c.sock.Close()
}

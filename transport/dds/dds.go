// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package dds implements a transport.WireTransport over a NATS subject,
// giving karl a broker-backed publish/subscribe transport for agents that
// are not on the same broadcast segment. It follows the connection
// lifecycle, reconnect handling and ChanSubscribe delivery pattern of a
// generic NATS client wrapper, collapsed to the single fixed subject a
// Shell needs.
package dds

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/openkarl/karl/klog"
)

// Config configures a NATS-backed Conn.
type Config struct {
	Address       string
	Username      string
	Password      string
	CredsFilePath string
	Subject       string
}

// Conn is a NATS-subject transport.WireTransport.
type Conn struct {
	log     *klog.Logger
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	msgs    chan *nats.Msg
	recv    chan []byte
	done    chan struct{}
}

// Connect dials the configured NATS server and subscribes to cfg.Subject.
func Connect(cfg Config, log *klog.Logger) (*Conn, error) {
	if log == nil {
		log = klog.Default()
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("dds: address is required")
	}
	if cfg.Subject == "" {
		return nil, fmt.Errorf("dds: subject is required")
	}

	var opts []nats.Option
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}
	opts = append(opts, nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
		if err != nil {
			log.Warnf("dds: disconnected: %v", err)
		}
	}))
	opts = append(opts, nats.ReconnectHandler(func(nc *nats.Conn) {
		log.Infof("dds: reconnected to %s", nc.ConnectedUrl())
	}))
	opts = append(opts, nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
		log.Errf("dds: %v", err)
	}))

	nc, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("dds: connect failed: %w", err)
	}

	msgs := make(chan *nats.Msg, 64)
	sub, err := nc.ChanSubscribe(cfg.Subject, msgs)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("dds: subscribing to %q: %w", cfg.Subject, err)
	}

	c := &Conn{
		log:     log,
		nc:      nc,
		sub:     sub,
		subject: cfg.Subject,
		msgs:    msgs,
		recv:    make(chan []byte, 64),
		done:    make(chan struct{}),
	}
	go c.pump()
	return c, nil
}

func (c *Conn) pump() {
	for {
		select {
		case <-c.done:
			close(c.recv)
			return
		case m, ok := <-c.msgs:
			if !ok {
				close(c.recv)
				return
			}
			select {
			case c.recv <- m.Data:
			case <-c.done:
				close(c.recv)
				return
			}
		}
	}
}

func (c *Conn) Send(frame []byte) error {
	if err := c.nc.Publish(c.subject, frame); err != nil {
		return fmt.Errorf("dds: publish failed: %w", err)
	}
	return nil
}

func (c *Conn) Recv() <-chan []byte { return c.recv }

func (c *Conn) Close() error {
	close(c.done)
	if err := c.sub.Unsubscribe(); err != nil {
		c.log.Warnf("dds: unsubscribe failed: %v", err)
	}
	c.nc.Close()
	return nil
}

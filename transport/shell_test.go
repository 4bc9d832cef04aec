// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"testing"
	"time"

	"github.com/openkarl/karl/filterchain"
	"github.com/openkarl/karl/kcontext"
	"github.com/openkarl/karl/record"
	"github.com/openkarl/karl/wire"
	"github.com/stretchr/testify/require"
)

// memTransport is an in-memory WireTransport for tests: Send appends to a
// log and Recv replays whatever is pushed via deliver.
type memTransport struct {
	sent chan []byte
	recv chan []byte
}

func newMemTransport() *memTransport {
	return &memTransport{sent: make(chan []byte, 64), recv: make(chan []byte, 64)}
}

func (t *memTransport) Send(frame []byte) error { t.sent <- frame; return nil }
func (t *memTransport) Recv() <-chan []byte     { return t.recv }
func (t *memTransport) Close() error            { close(t.recv); return nil }

func newShell(t *testing.T, wt WireTransport, settings Settings) (*Shell, *kcontext.Context) {
	t.Helper()
	ctx := kcontext.New(nil)
	s := New(wt, ctx, settings, filterchain.New(), filterchain.New(), filterchain.New(), nil)
	return s, ctx
}

func TestSendChangesRoundTripsThroughMemTransport(t *testing.T) {
	wt := newMemTransport()
	sender, ctx := newShell(t, wt, Settings{Domain: "d", ID: "a:1", MTU: 1500, ParticipantTTL: 1, RebroadcastTTL: 1})

	ref := ctx.GetRef("x")
	ctx.Set(ref, record.Int(42), kcontext.Settings{Quality: 1})
	require.NoError(t, sender.SendChanges(nil, 1))

	frag := <-wt.sent
	fh, err := wire.DecodeFragmentHeader(frag)
	require.NoError(t, err)
	require.Equal(t, uint32(1), fh.Updates)
	require.Equal(t, uint32(0), fh.UpdateNumber)

	receiverWT := newMemTransport()
	receiver, rctx := newShell(t, receiverWT, Settings{Domain: "d", ID: "b:1", ParticipantTTL: 1})
	receiver.handleInbound(frag)

	require.Equal(t, int64(42), rctx.Get("x").ToInteger())
}

func TestUntrustedPeerDropped(t *testing.T) {
	wt := newMemTransport()
	sender, ctx := newShell(t, wt, Settings{Domain: "d", ID: "p1:1", MTU: 1500})
	ref := ctx.GetRef("x")
	ctx.Set(ref, record.Int(1), kcontext.Settings{Quality: 1})
	require.NoError(t, sender.SendChanges(nil, 1))
	frag := <-wt.sent

	receiverWT := newMemTransport()
	receiver, rctx := newShell(t, receiverWT, Settings{Domain: "d", BannedPeers: []string{"p1:1"}})
	receiver.handleInbound(frag)
	require.Equal(t, record.Uninitialized, rctx.Get("x").Variant)
}

func TestFragmentationOverMTU(t *testing.T) {
	wt := newMemTransport()
	sender, ctx := newShell(t, wt, Settings{Domain: "d", ID: "a:1", MTU: 200, ParticipantTTL: 1, RebroadcastTTL: 1})

	big := make([]byte, 2000)
	ref := ctx.GetRef("blob")
	ctx.Set(ref, record.Bin(big), kcontext.Settings{Quality: 1})
	require.NoError(t, sender.SendChanges(nil, 1))

	var frags [][]byte
	for len(wt.sent) > 0 {
		frags = append(frags, <-wt.sent)
	}
	require.Greater(t, len(frags), 1)

	receiverWT := newMemTransport()
	receiver, rctx := newShell(t, receiverWT, Settings{Domain: "d", ParticipantTTL: 1})
	for _, f := range frags {
		receiver.handleInbound(f)
	}
	require.Equal(t, big, rctx.Get("blob").Bytes())
}

func TestBandwidthMonitorTracksRecentBytes(t *testing.T) {
	m := NewBandwidthMonitor(2 * time.Second)
	m.Add(100)
	require.Greater(t, m.GetBytesPerSecond(), 0.0)
}

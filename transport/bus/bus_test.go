// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEndpointsSeeEachOthersFrames(t *testing.T) {
	b := New()
	a := b.Endpoint()
	c := b.Endpoint()
	defer a.Close()
	defer c.Close()

	require.NoError(t, a.Send([]byte("hello")))
	require.Equal(t, []byte("hello"), <-c.Recv())
}

func TestEndpointDoesNotReceiveItsOwnSend(t *testing.T) {
	b := New()
	a := b.Endpoint()
	defer a.Close()

	require.NoError(t, a.Send([]byte("x")))
	select {
	case <-a.Recv():
		t.Fatal("endpoint received its own broadcast")
	default:
	}
}

func TestCloseRemovesSubscriberFromFutureBroadcasts(t *testing.T) {
	b := New()
	a := b.Endpoint()
	c := b.Endpoint()
	require.NoError(t, c.Close())
	require.NoError(t, a.Send([]byte("after close")))

	select {
	case _, ok := <-c.Recv():
		require.False(t, ok, "closed endpoint's channel should be closed, not deliver a frame")
	default:
		t.Fatal("closed endpoint's channel should already be closed")
	}
}

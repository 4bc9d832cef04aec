package kcontext

import (
	"testing"

	"github.com/openkarl/karl/reconcile"
	"github.com/openkarl/karl/record"
	"github.com/stretchr/testify/require"
)

func TestSetAndGet(t *testing.T) {
	ctx := New(nil)
	ref := ctx.GetRef("x")
	ctx.Set(ref, record.Int(5), Settings{Quality: 1})

	got := ctx.Get("x")
	require.Equal(t, int64(5), got.ToInteger())
	require.EqualValues(t, 1, got.Clock)
}

func TestLocalVariableNeverInChangedSet(t *testing.T) {
	ctx := New(nil)
	ref := ctx.GetRef(".secret")
	ctx.Set(ref, record.Int(1), Settings{})

	snap := ctx.Snapshot(false, false)
	require.NotContains(t, snap, ".secret")

	full := ctx.Snapshot(true, false)
	require.NotContains(t, full, ".secret")
}

func TestApplyRemoteAcceptsAndRejects(t *testing.T) {
	ctx := New(nil)
	ref := ctx.GetRef("k")
	ctx.Set(ref, record.Int(7), Settings{Quality: 5})
	// Force clock=10 to match the spec's scenario 4.
	ref.rec.Clock = 10

	outcome := ctx.ApplyRemote("k", record.Int(99), 5, 9, Settings{})
	require.Equal(t, reconcile.RejectedByClock, outcome)
	require.Equal(t, int64(7), ctx.Get("k").ToInteger())

	outcome = ctx.ApplyRemote("k", record.Int(42), 6, 10, Settings{})
	require.Equal(t, reconcile.Accepted, outcome)
	require.Equal(t, int64(42), ctx.Get("k").ToInteger())
}

func TestApplyRemoteRejectsBadName(t *testing.T) {
	ctx := New(nil)
	outcome := ctx.ApplyRemote(".local", record.Int(1), 1, 1, Settings{})
	require.Equal(t, reconcile.RejectedBadName, outcome)
}

func TestSetClockMonotonic(t *testing.T) {
	ctx := New(nil)
	ctx.SetClock(5)
	require.EqualValues(t, 5, ctx.Clock())
	require.False(t, ctx.SetClock(5))
	require.True(t, ctx.SetClock(6))
}

func TestWithLockBatchIsAtomic(t *testing.T) {
	ctx := New(nil)
	ctx.WithLock(func(tx *Tx) {
		a := tx.GetRef("a")
		b := tx.GetRef("b")
		tx.Set(a, record.Int(1), Settings{})
		tx.Set(b, record.Int(2), Settings{})
	})
	require.Equal(t, int64(1), ctx.Get("a").ToInteger())
	require.Equal(t, int64(2), ctx.Get("b").ToInteger())
}

func TestSetIndexGrowsArray(t *testing.T) {
	ctx := New(nil)
	ref := ctx.GetRef("arr")
	ctx.SetIndex(ref, 3, record.Int(9), Settings{})
	got := ctx.Get("arr")
	require.Equal(t, record.IntegerArray, got.Variant)
	require.Equal(t, []int64{0, 0, 0, 9}, got.ToIntegers())
}

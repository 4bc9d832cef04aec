package container

import (
	"testing"

	"github.com/openkarl/karl/kcontext"
	"github.com/openkarl/karl/record"
	"github.com/stretchr/testify/require"
)

// Scenario 3 of spec.md §8.
func TestBarrierDone(t *testing.T) {
	ctx := kcontext.New(nil)
	b0 := NewBarrier(ctx, "b", 3, 0)
	b1 := NewBarrier(ctx, "b", 3, 1)
	b2 := NewBarrier(ctx, "b", 3, 2)

	b0.Next(kcontext.Settings{})
	b0.Next(kcontext.Settings{})
	b1.Next(kcontext.Settings{})
	b1.Next(kcontext.Settings{})
	b2.Next(kcontext.Settings{})

	require.False(t, b2.IsDone())

	b2.Next(kcontext.Settings{})
	require.True(t, b2.IsDone())
}

func TestVectorSizeTracksGrowth(t *testing.T) {
	ctx := kcontext.New(nil)
	v := NewVector(ctx, "foo")
	v.Set(0, record.Int(1), kcontext.Settings{})
	v.Set(2, record.Int(3), kcontext.Settings{})
	require.Equal(t, 3, v.Size())
	require.Equal(t, int64(1), v.Get(0).ToInteger())
	require.Equal(t, int64(0), v.Get(1).ToInteger())
}

func TestVector2DScansBothDimensions(t *testing.T) {
	ctx := kcontext.New(nil)
	v := Vector2D{Name: "m", Delim: ".", Ctx: ctx, Rows: 2, Cols: 2}
	v.Set(1, 1, record.Int(1), kcontext.Settings{})
	require.True(t, v.IsTrue())
}

func TestQueueFIFO(t *testing.T) {
	ctx := kcontext.New(nil)
	q := NewQueue(ctx, "q")
	q.Enqueue(record.Int(1), kcontext.Settings{})
	q.Enqueue(record.Int(2), kcontext.Settings{})

	v, ok := q.Dequeue(kcontext.Settings{})
	require.True(t, ok)
	require.Equal(t, int64(1), v.ToInteger())

	v, ok = q.Dequeue(kcontext.Settings{})
	require.True(t, ok)
	require.Equal(t, int64(2), v.ToInteger())

	_, ok = q.Dequeue(kcontext.Settings{})
	require.False(t, ok)
}

func TestContainersNilContextIsFalse(t *testing.T) {
	var s Scalar
	require.False(t, s.IsTrue())
	var v Vector
	require.False(t, v.IsTrue())
	var q Queue
	require.False(t, q.IsTrue())
}

// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lru

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvictsOldestOnOverflow(t *testing.T) {
	var evicted []int
	c := New[int, string](2)
	c.OnEvict = func(k int, v string) { evicted = append(evicted, k) }

	c.Put(1, "a")
	c.Put(2, "b")
	c.Put(3, "c")

	require.Equal(t, []int{1}, evicted)
	require.Equal(t, 2, c.Len())
	_, ok := c.Get(1)
	require.False(t, ok)
	v, ok := c.Get(3)
	require.True(t, ok)
	require.Equal(t, "c", v)
}

func TestGetDoesNotReorder(t *testing.T) {
	c := New[int, string](2)
	c.Put(1, "a")
	c.Put(2, "b")
	_, _ = c.Get(1) // would promote 1 in a real LRU; must not here
	c.Put(3, "c")
	_, ok := c.Get(1)
	require.False(t, ok, "oldest-by-insertion entry should still be evicted despite the read")
}

func TestUnboundedWhenCapacityNonPositive(t *testing.T) {
	c := New[int, int](0)
	for i := 0; i < 100; i++ {
		c.Put(i, i)
	}
	require.Equal(t, 100, c.Len())
}

// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package filterchain

import (
	"testing"

	"github.com/openkarl/karl/record"
	"github.com/stretchr/testify/require"
)

func TestChainDropsOnUninitializedResult(t *testing.T) {
	c := New()
	c.Add(Mask(record.Integer), func(name string, r record.Record, tc TransportContext) record.Record {
		return record.Record{}
	})

	batch := map[string]record.Record{
		"x": record.Int(5),
		"y": record.Str("kept"),
	}
	out := c.Apply(batch, TransportContext{Direction: Send})
	require.NotContains(t, out, "x")
	require.Contains(t, out, "y")
}

func TestChainOrderingDeterministic(t *testing.T) {
	c := New()
	c.Add(AllTypes, func(name string, r record.Record, tc TransportContext) record.Record {
		return record.Int(r.ToInteger() + 1)
	})
	c.Add(Mask(record.Integer), func(name string, r record.Record, tc TransportContext) record.Record {
		return record.Int(r.ToInteger() * 2)
	})

	batch := map[string]record.Record{"x": record.Int(1)}
	out1 := c.Apply(batch, TransportContext{})
	out2 := c.Apply(batch, TransportContext{})
	require.Equal(t, int64(4), out1["x"].ToInteger())
	require.Equal(t, out1["x"].ToInteger(), out2["x"].ToInteger())
}

func TestAggregateFilterCanRenameEntries(t *testing.T) {
	c := New()
	c.AddAggregate(func(batch map[string]record.Record, tc TransportContext) map[string]record.Record {
		if v, ok := batch["old"]; ok {
			delete(batch, "old")
			batch["new"] = v
		}
		return batch
	})

	out := c.Apply(map[string]record.Record{"old": record.Int(3)}, TransportContext{})
	require.NotContains(t, out, "old")
	require.Equal(t, int64(3), out["new"].ToInteger())
}

func TestInputBatchNotMutated(t *testing.T) {
	c := New()
	c.Add(Mask(record.Integer), func(name string, r record.Record, tc TransportContext) record.Record {
		return record.Int(99)
	})
	batch := map[string]record.Record{"x": record.Int(1)}
	_ = c.Apply(batch, TransportContext{})
	require.Equal(t, int64(1), batch["x"].ToInteger())
}

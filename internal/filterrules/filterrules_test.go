// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package filterrules

import (
	"testing"

	"github.com/openkarl/karl/filterchain"
	"github.com/openkarl/karl/record"
	"github.com/stretchr/testify/require"
)

func TestAddToChainDropsRecordsFailingKeep(t *testing.T) {
	c := filterchain.New()
	require.NoError(t, AddToChain(c, []Rule{
		{Name: "positive-only", Types: []string{"integer"}, Keep: "Value > 0"},
	}))

	batch := map[string]record.Record{
		"a": record.Int(5),
		"b": record.Int(-5),
		"s": record.Str("untouched"),
	}
	out := c.Apply(batch, filterchain.TransportContext{})
	require.Contains(t, out, "a")
	require.Contains(t, out, "s")
	require.NotContains(t, out, "b")
}

func TestCompileRejectsBadExpression(t *testing.T) {
	_, err := Compile([]Rule{{Name: "broken", Keep: "("}})
	require.Error(t, err)
}

func TestCompileRejectsUnknownType(t *testing.T) {
	_, err := Compile([]Rule{{Name: "bad-type", Types: []string{"nope"}, Keep: "true"}})
	require.Error(t, err)
}

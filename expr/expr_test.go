// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package expr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openkarl/karl/kcontext"
	"github.com/openkarl/karl/record"
)

func TestEvaluateBasicAssignment(t *testing.T) {
	ctx := kcontext.New(nil)
	e, err := Compile(ctx, nil, "x = 5 ; x + 2")
	require.NoError(t, err)

	result := e.Evaluate()
	require.Equal(t, int64(7), result.ToInteger())
	require.Equal(t, int64(5), ctx.Get("x").ToInteger())
}

func TestEvaluateShortCircuitSafety(t *testing.T) {
	ctx := kcontext.New(nil)
	ctx.Set(ctx.GetRef(".p"), record.Int(0), kcontext.Settings{})

	e, err := Compile(ctx, nil, ".p == 0 || 1 / .p")
	require.NoError(t, err)

	result := e.Evaluate()
	require.Equal(t, int64(1), result.ToInteger())
}

func TestLogicalShortCircuitSkipsSideEffect(t *testing.T) {
	ctx := kcontext.New(nil)

	e, err := Compile(ctx, nil, "0 && (side = 1)")
	require.NoError(t, err)
	e.Evaluate()
	require.Equal(t, record.Uninitialized, ctx.Get("side").Variant)

	e2, err := Compile(ctx, nil, "1 || (side2 = 1)")
	require.NoError(t, err)
	e2.Evaluate()
	require.Equal(t, record.Uninitialized, ctx.Get("side2").Variant)
}

func TestImplicationOnlyEvaluatesConsequentWhenTruthy(t *testing.T) {
	ctx := kcontext.New(nil)

	e, err := Compile(ctx, nil, "0 => (fired = 1)")
	require.NoError(t, err)
	cond := e.Evaluate()
	require.False(t, cond.IsTrue())
	require.Equal(t, record.Uninitialized, ctx.Get("fired").Variant)

	e2, err := Compile(ctx, nil, "1 => (fired = 1)")
	require.NoError(t, err)
	e2.Evaluate()
	require.Equal(t, int64(1), ctx.Get("fired").ToInteger())
}

func TestPruneFoldsConstantArithmetic(t *testing.T) {
	ctx := kcontext.New(nil)
	e, err := Compile(ctx, nil, "2 + 3 * 4")
	require.NoError(t, err)

	e.Prune()
	require.Equal(t, KLeaf, e.tree.at(e.root).Kind)
	require.Equal(t, int64(14), e.tree.at(e.root).Value.ToInteger())
}

func TestPruneIsIdempotent(t *testing.T) {
	ctx := kcontext.New(nil)
	e, err := Compile(ctx, nil, "x + (2 * 3) == 6")
	require.NoError(t, err)

	e.Prune()
	first := snapshotTree(e)
	e.Prune()
	second := snapshotTree(e)
	require.Equal(t, first, second)
}

func TestImplicationPruneReturnsAntecedentValue(t *testing.T) {
	// Documented §9 quirk: folding a fully constant `cond => then` yields
	// the *antecedent's* value, not the consequent's; whether the node can
	// change is still the OR of both sides.
	ctx := kcontext.New(nil)
	e, err := Compile(ctx, nil, "2 => 3")
	require.NoError(t, err)
	root, canChange := e.prune(e.root)
	require.False(t, canChange)
	require.Equal(t, int64(2), e.tree.at(root).Value.ToInteger())

	e2, err := Compile(ctx, nil, "1 => x")
	require.NoError(t, err)
	_, canChange = e2.prune(e2.root)
	require.True(t, canChange, "x can still change, so the implication can too")
}

func TestForRangeSurfaceForm(t *testing.T) {
	ctx := kcontext.New(nil)
	e, err := Compile(ctx, nil, ".i[3] => (sum = sum + .i)")
	require.NoError(t, err)

	e.Evaluate()
	require.Equal(t, int64(0+1+2), ctx.Get("sum").ToInteger())
}

func TestIncDecPrePost(t *testing.T) {
	ctx := kcontext.New(nil)
	ctx.Set(ctx.GetRef("n"), record.Int(5), kcontext.Settings{})

	e, err := Compile(ctx, nil, "n++")
	require.NoError(t, err)
	require.Equal(t, int64(5), e.Evaluate().ToInteger())
	require.Equal(t, int64(6), ctx.Get("n").ToInteger())

	e2, err := Compile(ctx, nil, "++n")
	require.NoError(t, err)
	require.Equal(t, int64(7), e2.Evaluate().ToInteger())
}

func TestSyscallsSizeAndType(t *testing.T) {
	ctx := kcontext.New(nil)
	ctx.Set(ctx.GetRef("s"), record.Str("hello"), kcontext.Settings{})

	e, err := Compile(ctx, nil, "#size(s)")
	require.NoError(t, err)
	require.Equal(t, int64(5), e.Evaluate().ToInteger())

	e2, err := Compile(ctx, nil, "#type(s)")
	require.NoError(t, err)
	require.Equal(t, "string", e2.Evaluate().ToString(","))
}

func TestExpandInterpolatesContext(t *testing.T) {
	ctx := kcontext.New(nil)
	ctx.Set(ctx.GetRef("name"), record.Str("karl"), kcontext.Settings{})

	e, err := Compile(ctx, nil, `#expand("hello {name}")`)
	require.NoError(t, err)
	require.Equal(t, "hello karl", e.Evaluate().ToString(","))
}

func snapshotTree(e *CompiledExpression) []Node {
	out := make([]Node, len(e.tree.nodes))
	copy(out, e.tree.nodes)
	return out
}

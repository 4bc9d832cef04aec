// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package expr

// prune runs the bottom-up constant fold of §4.4 over the subtree at h and
// returns (handle, canChange). When a subtree's canChange is false, every
// Kind rewrites its own arena slot in place (via Tree.replace) to a fresh
// KLeaf carrying the folded value -- "deleting" the old subtree by simply
// never referencing its handles again, per §9's arena design. Folding a
// non-leaf, non-changing node runs the ordinary dynamic evaluate() against
// a nil Tx, which is safe because canChange false guarantees the subtree
// contains no KVarRef/KArrayRef/KIncDec/KAssign/KForRange/KSyscall/KCall
// (each of those unconditionally reports canChange true further up).
//
// Per §9's documented quirk, evaluating a KImplication node returns the
// *antecedent's* value (not the consequent's), and foldConstant preserves
// this automatically since it delegates to evaluate() rather than
// re-deriving the value itself.
func (c *CompiledExpression) foldConstant(h Handle) Handle {
	v := c.evaluate(nil, h)
	c.tree.replace(h, Node{Kind: KLeaf, Value: v})
	return h
}

func (c *CompiledExpression) prune(h Handle) (Handle, bool) {
	n := c.tree.at(h)
	switch n.Kind {
	case KLeaf:
		return h, false

	case KVarRef, KSyscall, KCall:
		if n.Kind == KSyscall || n.Kind == KCall {
			for i, a := range n.Args {
				pruned, _ := c.prune(a)
				n.Args[i] = pruned
			}
		}
		return h, true

	case KArrayRef:
		idx, _ := c.prune(n.Index)
		n.Index = idx
		return h, true

	case KUnary:
		child, canChange := c.prune(n.Child)
		n.Child = child
		if !canChange {
			v := evalStaticUnary(n.Op, c.tree.at(child).Value)
			c.tree.replace(h, Node{Kind: KLeaf, Value: v})
			return h, false
		}
		return h, true

	case KIncDec:
		// The target reference can still change on later evaluations.
		return h, true

	case KBinaryArith, KBinaryCompare:
		l, lc := c.prune(n.Left)
		r, rc := c.prune(n.Right)
		n.Left, n.Right = l, r
		if !lc && !rc {
			lv, rv := c.tree.at(l).Value, c.tree.at(r).Value
			v, ok := evalStaticBinary(n.Kind, n.Op, lv, rv)
			if ok {
				c.tree.replace(h, Node{Kind: KLeaf, Value: v})
				return h, false
			}
		}
		return h, lc || rc

	case KLogical:
		l, lc := c.prune(n.Left)
		r, rc := c.prune(n.Right)
		n.Left, n.Right = l, r
		if !lc && !rc {
			return c.foldConstant(h), false
		}
		return h, true

	case KSeq:
		changed := false
		for i, child := range n.Children {
			pruned, cc := c.prune(child)
			n.Children[i] = pruned
			changed = changed || cc
		}
		if !changed {
			return c.foldConstant(h), false
		}
		return h, true

	case KAssign:
		// The left-hand variable can still change on later runs even if
		// its own sub-expression (an array index, say) cannot; the
		// right-hand subtree is pruned independently.
		l, _ := c.prune(n.Left)
		r, _ := c.prune(n.Right)
		n.Left, n.Right = l, r
		return h, true

	case KImplication:
		cond, condChange := c.prune(n.Cond)
		then, thenChange := c.prune(n.Then)
		n.Cond, n.Then = cond, then
		if !condChange && !thenChange {
			// Quirk preserved intentionally, see doc comment above:
			// foldConstant's evaluate() call returns cond's value, not
			// then's, matching the dynamic KImplication case.
			return c.foldConstant(h), false
		}
		return h, condChange || thenChange

	case KTernary:
		cond, cc := c.prune(n.Cond)
		then, tc := c.prune(n.Then)
		els, ec := c.prune(n.Else)
		n.Cond, n.Then, n.Else = cond, then, els
		if !cc && !tc && !ec {
			return c.foldConstant(h), false
		}
		return h, true

	case KForRange:
		start, _ := c.prune(n.Start)
		count, _ := c.prune(n.Count)
		step, _ := c.prune(n.Step)
		body, _ := c.prune(n.Body)
		n.Start, n.Count, n.Step, n.Body = start, count, step, body
		return h, true

	default:
		return h, true
	}
}

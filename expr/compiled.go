// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package expr

import (
	"math/rand"
	"time"

	"github.com/openkarl/karl/kcontext"
	"github.com/openkarl/karl/klog"
	"github.com/openkarl/karl/record"
)

// Function is a named callable registered on a CompiledExpression, invoked
// by the `ident(args...)` call form when ident is not itself the name of
// another compiled expression (§3's "function call" node category).
type Function func(args []record.Record) record.Record

// CompiledExpression owns one parsed+prunable expression tree bound to a
// Context. It is not safe for concurrent Evaluate calls against different
// goroutines beyond what the bound Context's own locking provides -- the
// tree itself is mutated in place by Prune, so serialize compilation and
// pruning of a single CompiledExpression externally if shared.
type CompiledExpression struct {
	tree *Tree
	root Handle
	ctx  *kcontext.Context
	log  *klog.Logger

	// writeQuality stamps every write this expression performs through an
	// assignment, ++/--, or for-loop induction variable, mirroring the
	// quality a local agent writes its own context entries at.
	writeQuality uint32

	functions map[string]Function
	// subexprs lets a function-call node invoke another compiled
	// expression by name instead of a Go callable, per §3's "or a compiled
	// sub-expression" alternative.
	subexprs map[string]*CompiledExpression

	rng *rand.Rand // lazily created by #rand_int/#rand_double
}

// Compile parses src and binds it to ctx. Variable references are bound
// lazily on first access during Evaluate rather than eagerly here,
// since §3 permits lazy binding for names that don't exist yet at compile
// time.
func Compile(ctx *kcontext.Context, log *klog.Logger, src string) (*CompiledExpression, error) {
	if log == nil {
		log = klog.Default()
	}
	tree, root, err := parse(src, nil)
	if err != nil {
		return nil, err
	}
	return &CompiledExpression{tree: tree, root: root, ctx: ctx, log: log}, nil
}

// SetWriteQuality sets the quality stamped onto writes this expression
// performs; the zero value matches an unprivileged local agent.
func (c *CompiledExpression) SetWriteQuality(q uint32) { c.writeQuality = q }

// RegisterFunction makes name callable as ident(args...) inside this
// expression.
func (c *CompiledExpression) RegisterFunction(name string, fn Function) {
	if c.functions == nil {
		c.functions = make(map[string]Function)
	}
	c.functions[name] = fn
}

// RegisterSubexpression makes name callable as ident(args...), evaluating
// other against the same Context and returning its result; other's own
// argument list, if it references any, is ignored -- sub-expression calls
// pass no arguments into other, matching the source's "compiled
// sub-expression with no parameter list" behaviour.
func (c *CompiledExpression) RegisterSubexpression(name string, other *CompiledExpression) {
	if c.subexprs == nil {
		c.subexprs = make(map[string]*CompiledExpression)
	}
	c.subexprs[name] = other
}

// bind resolves name to a stable Ref, creating a sentinel entry the first
// time it's seen. tx is already held by the caller.
func (c *CompiledExpression) bind(tx *kcontext.Tx, name string) kcontext.Ref {
	return tx.GetRef(name)
}

// Prune runs the constant-fold pass over the whole tree once. Calling it
// more than once is safe and idempotent: a node already folded to a leaf
// reports can_change=false again and is left untouched.
func (c *CompiledExpression) Prune() {
	root, _ := c.prune(c.root)
	c.root = root
}

// Evaluate runs the expression once to completion under a single lock
// acquisition of the bound Context, per §5's atomicity guarantee for a
// single compiled expression's side effects.
func (c *CompiledExpression) Evaluate() record.Record {
	var result record.Record
	c.ctx.WithLock(func(tx *kcontext.Tx) {
		result = c.evaluate(tx, c.root)
	})
	return result
}

// Wait re-evaluates the expression every time the bound Context signals a
// change, returning the first result that is truthy, or the zero Record if
// timeout elapses first. A non-positive timeout waits indefinitely. This is
// the mechanism behind a barrier or queue's blocking wait (§5).
func (c *CompiledExpression) Wait(timeout time.Duration) record.Record {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		r := c.Evaluate()
		if r.IsTrue() {
			return r
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return record.Record{}
		}
		c.ctx.WaitForChange(true)
	}
}

func (c *CompiledExpression) callFunction(tx *kcontext.Tx, n *Node) record.Record {
	args := make([]record.Record, len(n.Args))
	for i, a := range n.Args {
		args[i] = c.evaluate(tx, a)
	}
	if sub, ok := c.subexprs[n.CallName]; ok {
		return sub.evaluate(tx, sub.root)
	}
	if fn, ok := c.functions[n.CallName]; ok {
		return fn(args)
	}
	c.log.Warnf("expr: call to unregistered function %q", n.CallName)
	return record.Record{}
}

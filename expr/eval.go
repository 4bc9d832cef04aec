// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package expr

import (
	"math"

	"github.com/openkarl/karl/kcontext"
	"github.com/openkarl/karl/klog"
	"github.com/openkarl/karl/record"
)

// evaluate executes the node tree under the context lock: the top-level
// Evaluate call acquires it once (via ctx.WithLock) and every recursive
// call in this file assumes it is already held, per §4.4/§5.
func (c *CompiledExpression) evaluate(tx *kcontext.Tx, h Handle) record.Record {
	n := c.tree.at(h)
	switch n.Kind {
	case KLeaf:
		return n.Value

	case KVarRef:
		ref := c.bind(tx, n.Name)
		return tx.Get(ref.Name())

	case KArrayRef:
		ref := c.bind(tx, n.Name)
		idx := int(c.evaluate(tx, n.Index).ToInteger())
		return tx.Get(ref.Name()).RetrieveIndex(idx)

	case KUnary:
		v := c.evaluate(tx, n.Child)
		return applyUnary(n.Op, v)

	case KIncDec:
		target := c.tree.at(n.Child)
		var ref kcontext.Ref
		var old record.Record
		switch target.Kind {
		case KVarRef:
			ref = c.bind(tx, target.Name)
			old = tx.Get(ref.Name())
		case KArrayRef:
			// Array-element ++/-- is applied to the whole backing array's
			// ref; only the addressed element is read/written.
			ref = c.bind(tx, target.Name)
			old = tx.Get(ref.Name())
		}
		delta := int64(1)
		if n.Op == "--" {
			delta = -1
		}
		var newVal record.Record
		if target.Kind == KArrayRef {
			idx := int(c.evaluate(tx, target.Index).ToInteger())
			elem := old.RetrieveIndex(idx)
			updated := record.Int(elem.ToInteger() + delta)
			if elem.Variant == record.Double || old.Variant == record.DoubleArray {
				updated = record.Dbl(elem.ToDouble() + float64(delta))
			}
			tx.SetIndex(ref, idx, updated, kcontext.Settings{})
			if n.Postfix {
				return elem
			}
			return updated
		}
		newVal = addScalar(old, delta)
		tx.Set(ref, newVal, kcontext.Settings{})
		if n.Postfix {
			return old
		}
		return newVal

	case KBinaryArith:
		l := c.evaluate(tx, n.Left)
		r := c.evaluate(tx, n.Right)
		return applyBinaryArith(c.log, n.Op, l, r)

	case KBinaryCompare:
		l := c.evaluate(tx, n.Left)
		r := c.evaluate(tx, n.Right)
		return applyBinaryCompare(n.Op, l, r)

	case KLogical:
		l := c.evaluate(tx, n.Left)
		switch n.Op {
		case "&&":
			if !l.IsTrue() {
				return record.Int(0) // short-circuit: Right is not evaluated
			}
			return boolRecord(c.evaluate(tx, n.Right).IsTrue())
		case "||":
			if l.IsTrue() {
				return record.Int(1) // short-circuit: Right is not evaluated
			}
			return boolRecord(c.evaluate(tx, n.Right).IsTrue())
		}
		return record.Record{}

	case KSeq:
		var results []record.Record
		for _, child := range n.Children {
			results = append(results, c.evaluate(tx, child))
		}
		switch n.SeqOp {
		case ";":
			return results[0]
		case ";>":
			return results[len(results)-1]
		case ",":
			best := results[0]
			for _, r := range results[1:] {
				if r.Compare(best) > 0 {
					best = r
				}
			}
			return best
		}
		return record.Record{}

	case KAssign:
		rhs := c.evaluate(tx, n.Right)
		target := c.tree.at(n.Left)
		var value record.Record
		if n.Op != "" {
			cur := c.evaluate(tx, n.Left)
			value = applyBinaryArith(c.log, n.Op, cur, rhs)
		} else {
			value = rhs
		}
		switch target.Kind {
		case KVarRef:
			ref := c.bind(tx, target.Name)
			tx.Set(ref, value, kcontext.Settings{Quality: c.writeQuality})
		case KArrayRef:
			ref := c.bind(tx, target.Name)
			idx := int(c.evaluate(tx, target.Index).ToInteger())
			tx.SetIndex(ref, idx, value, kcontext.Settings{Quality: c.writeQuality})
		}
		return value

	case KImplication:
		cond := c.evaluate(tx, n.Cond)
		if cond.IsTrue() {
			c.evaluate(tx, n.Then)
		}
		return cond

	case KTernary:
		if c.evaluate(tx, n.Cond).IsTrue() {
			return c.evaluate(tx, n.Then)
		}
		return c.evaluate(tx, n.Else)

	case KForRange:
		start := c.evaluate(tx, n.Start).ToInteger()
		count := c.evaluate(tx, n.Count).ToInteger()
		step := c.evaluate(tx, n.Step).ToInteger()
		ref := c.bind(tx, n.Name)
		var last record.Record
		for i := int64(0); i < count; i++ {
			tx.Set(ref, record.Int(start+i*step), kcontext.Settings{})
			last = c.evaluate(tx, n.Body)
		}
		return last

	case KSyscall:
		return c.callSyscall(tx, n)

	case KCall:
		return c.callFunction(tx, n)

	default:
		return record.Record{}
	}
}

func boolRecord(b bool) record.Record {
	if b {
		return record.Int(1)
	}
	return record.Int(0)
}

func addScalar(r record.Record, delta int64) record.Record {
	if r.Variant == record.Double {
		return record.Dbl(r.ToDouble() + float64(delta))
	}
	return record.Int(r.ToInteger() + delta)
}

func applyUnary(op string, v record.Record) record.Record {
	switch op {
	case "!":
		return boolRecord(!v.IsTrue())
	case "-":
		if v.Variant == record.Double {
			return record.Dbl(-v.ToDouble())
		}
		return record.Int(-v.ToInteger())
	case "+":
		return v
	default:
		return v
	}
}

// applyBinaryArith implements +,-,*,/,% per §4.4. Division/modulo by zero
// on integers returns the zero integer and logs at warning level; on
// doubles it returns IEEE 754 +-Inf/NaN without logging. log may be nil.
func applyBinaryArith(log *klog.Logger, op string, l, r record.Record) record.Record {
	bothInt := l.Variant != record.Double && r.Variant != record.Double
	if bothInt {
		a, b := l.ToInteger(), r.ToInteger()
		switch op {
		case "+":
			return record.Int(a + b)
		case "-":
			return record.Int(a - b)
		case "*":
			return record.Int(a * b)
		case "/":
			if b == 0 {
				if log != nil {
					log.Warnf("expr: integer division by zero")
				}
				return record.Int(0)
			}
			return record.Int(a / b)
		case "%":
			if b == 0 {
				if log != nil {
					log.Warnf("expr: integer modulo by zero")
				}
				return record.Int(0)
			}
			return record.Int(a % b)
		}
	}
	a, b := l.ToDouble(), r.ToDouble()
	switch op {
	case "+":
		return record.Dbl(a + b)
	case "-":
		return record.Dbl(a - b)
	case "*":
		return record.Dbl(a * b)
	case "/":
		return record.Dbl(a / b) // IEEE 754 +-Inf/NaN, no logging
	case "%":
		return record.Dbl(math.Mod(a, b))
	}
	return record.Record{}
}

func applyBinaryCompare(op string, l, r record.Record) record.Record {
	c := l.Compare(r)
	switch op {
	case "==":
		return boolRecord(c == 0)
	case "!=":
		return boolRecord(c != 0)
	case "<":
		return boolRecord(c < 0)
	case "<=":
		return boolRecord(c <= 0)
	case ">":
		return boolRecord(c > 0)
	case ">=":
		return boolRecord(c >= 0)
	}
	return record.Record{}
}

func evalStaticUnary(op string, v record.Record) record.Record { return applyUnary(op, v) }

func evalStaticBinary(kind Kind, op string, l, r record.Record) (record.Record, bool) {
	switch kind {
	case KBinaryArith:
		return applyBinaryArith(nil, op, l, r), true
	case KBinaryCompare:
		return applyBinaryCompare(op, l, r), true
	default:
		return record.Record{}, false
	}
}

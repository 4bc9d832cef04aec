// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package expr

import (
	"math/rand"
	"os"
	"regexp"
	"time"

	"github.com/openkarl/karl/kcontext"
	"github.com/openkarl/karl/record"
)

// callSyscall dispatches a `#name(args...)` node (§6.2). Unrecognized names
// log a warning and return an Uninitialized record rather than failing the
// whole expression, matching the core evaluator's "never aborts" contract
// (§7).
func (c *CompiledExpression) callSyscall(tx *kcontext.Tx, n *Node) record.Record {
	args := make([]record.Record, len(n.Args))
	for i, a := range n.Args {
		args[i] = c.evaluate(tx, a)
	}
	switch n.CallName {
	case "#rand_int":
		lo, hi := int64(0), int64(1)<<31
		if len(args) > 0 {
			lo = args[0].ToInteger()
		}
		if len(args) > 1 {
			hi = args[1].ToInteger()
		}
		if len(args) > 2 && args[2].IsTrue() {
			c.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		return record.Int(c.randSource().Int63n(hi-lo) + lo)

	case "#rand_double":
		lo, hi := 0.0, 1.0
		if len(args) > 0 {
			lo = args[0].ToDouble()
		}
		if len(args) > 1 {
			hi = args[1].ToDouble()
		}
		if len(args) > 2 && args[2].IsTrue() {
			c.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		return record.Dbl(lo + c.randSource().Float64()*(hi-lo))

	case "#to_buffer":
		return record.Bin([]byte(arg0(args).ToString(",")))

	case "#to_string":
		delim := ","
		if len(args) > 1 {
			delim = args[1].ToString(",")
		}
		return record.Str(arg0(args).ToString(delim))

	case "#to_integer":
		return record.Int(arg0(args).ToInteger())

	case "#to_double":
		return record.Dbl(arg0(args).ToDouble())

	case "#to_integers":
		return record.IntArray(arg0(args).ToIntegers())

	case "#to_doubles":
		return record.DblArray(arg0(args).ToDoubles())

	case "#size":
		return record.Int(int64(arg0(args).Len()))

	case "#type":
		return record.Str(arg0(args).Variant.String())

	case "#clock":
		if len(args) > 0 {
			name := args[0].ToString(",")
			return record.Int(int64(tx.Get(name).Clock))
		}
		return record.Int(int64(tx.Clock()))

	case "#set_clock":
		v := uint64(arg0(args).ToInteger())
		if len(args) > 1 {
			name := args[1].ToString(",")
			ref := c.bind(tx, name)
			tx.Set(ref, tx.Get(name), kcontext.Settings{SkipClockIncrement: true})
		}
		tx.SetClock(v)
		return record.Int(0)

	case "#read_file":
		path := arg0(args).ToString(",")
		data, err := os.ReadFile(path)
		if err != nil {
			c.log.Warnf("expr: #read_file(%q): %v", path, err)
			return record.Record{}
		}
		if len(args) > 1 && args[1].ToString(",") == "string" {
			return record.Str(string(data))
		}
		return record.Bin(data)

	case "#write_file":
		path := arg0(args).ToString(",")
		var data []byte
		if len(args) > 1 {
			if args[1].Variant == record.String {
				data = []byte(args[1].ToString(","))
			} else {
				data = args[1].Bytes()
			}
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			c.log.Warnf("expr: #write_file(%q): %v", path, err)
			return record.Int(0)
		}
		return record.Int(1)

	case "#get_time":
		return record.Int(time.Now().UnixNano())

	case "#sleep":
		time.Sleep(time.Duration(arg0(args).ToDouble() * float64(time.Second)))
		return record.Int(0)

	case "#print":
		s := c.expand(tx, arg0(args).ToString(","))
		c.log.Infof("%s", s)
		return record.Str(s)

	case "#expand":
		return record.Str(c.expand(tx, arg0(args).ToString(",")))

	default:
		c.log.Warnf("expr: unrecognized system call %q", n.CallName)
		return record.Record{}
	}
}

func arg0(args []record.Record) record.Record {
	if len(args) == 0 {
		return record.Record{}
	}
	return args[0]
}

var expandPattern = regexp.MustCompile(`\{([A-Za-z_.][A-Za-z_.0-9]*)\}`)

// expand interpolates {name} references in fmt against the bound Context,
// per §6.2's #expand/#print contract.
func (c *CompiledExpression) expand(tx *kcontext.Tx, format string) string {
	return expandPattern.ReplaceAllStringFunc(format, func(m string) string {
		name := m[1 : len(m)-1]
		return tx.Get(name).ToString(",")
	})
}

func (c *CompiledExpression) randSource() *rand.Rand {
	if c.rng == nil {
		c.rng = rand.New(rand.NewSource(1))
	}
	return c.rng
}

// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package filterrules compiles settings-declared expr-lang predicates
// into filterchain entries, following the compile-once/run-per-item
// rule-matching shape of the teacher's job classification rules:
// a rule is compiled with expr.Compile at configuration time and run
// with expr.Run against a per-record environment map on every record a
// chain sees. It is a separate package from karl/expr -- the latter is
// the interpreter driving the distributed expression surface (C4), this
// one only configures the transport's filter chains.
package filterrules

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/openkarl/karl/filterchain"
	"github.com/openkarl/karl/record"
)

// Rule is the JSON/settings shape a predicate filter entry is declared
// with: a record passing through the chain the rule is added to is
// dropped unless Keep evaluates truthy. A Rule names no direction itself.
type Rule struct {
	Name  string `json:"name"`
	Types []string `json:"types"`
	Keep  string `json:"keep"`
}

// env is the expr evaluation environment exposed to a compiled rule.
type env struct {
	Name       string
	Type       string
	Value      any
	Clock      uint64
	Quality    uint32
	Originator string
	Domain     string
	Direction  string
}

// compiled is a Rule with its Keep expression parsed.
type compiled struct {
	rule Rule
	mask filterchain.VariantMask
	prog *vm.Program
}

// Compile parses every rule's Keep expression, returning an error naming
// the offending rule on the first compile failure.
func Compile(rules []Rule) ([]*compiled, error) {
	out := make([]*compiled, 0, len(rules))
	for _, r := range rules {
		prog, err := expr.Compile(r.Keep, expr.Env(env{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("filterrules: compiling rule %q: %w", r.Name, err)
		}
		mask, err := variantMask(r.Types)
		if err != nil {
			return nil, fmt.Errorf("filterrules: rule %q: %w", r.Name, err)
		}
		out = append(out, &compiled{rule: r, mask: mask, prog: prog})
	}
	return out, nil
}

func variantMask(types []string) (filterchain.VariantMask, error) {
	if len(types) == 0 {
		return filterchain.AllTypes, nil
	}
	var variants []record.Variant
	for _, t := range types {
		v, ok := variantByName[t]
		if !ok {
			return 0, fmt.Errorf("unknown record type %q", t)
		}
		variants = append(variants, v)
	}
	return filterchain.Mask(variants...), nil
}

var variantByName = map[string]record.Variant{
	"integer":       record.Integer,
	"double":        record.Double,
	"string":        record.String,
	"binary":        record.Binary,
	"integer_array": record.IntegerArray,
	"double_array":  record.DoubleArray,
}

// AddToChain appends every compiled rule as a filterchain.RecordFilterFunc
// entry on c: a record is dropped (returned as Uninitialized) when Keep
// evaluates false.
func AddToChain(c *filterchain.Chain, rules []Rule) error {
	compiledRules, err := Compile(rules)
	if err != nil {
		return err
	}
	for _, cr := range compiledRules {
		cr := cr
		c.Add(cr.mask, func(name string, r record.Record, tc filterchain.TransportContext) record.Record {
			keep, err := expr.Run(cr.prog, toEnv(name, r, tc))
			if err != nil || keep != true {
				return record.Record{}
			}
			return r
		})
	}
	return nil
}

func toEnv(name string, r record.Record, tc filterchain.TransportContext) env {
	var value any
	switch r.Variant {
	case record.Integer:
		value = r.ToInteger()
	case record.Double:
		value = r.ToDouble()
	case record.String:
		value = r.ToString(",")
	case record.IntegerArray:
		value = r.ToIntegers()
	case record.DoubleArray:
		value = r.ToDoubles()
	case record.Binary:
		value = r.Bytes()
	}
	return env{
		Name:       name,
		Type:       r.Variant.String(),
		Value:      value,
		Clock:      r.Clock,
		Quality:    r.Quality,
		Originator: tc.Originator,
		Domain:     tc.Domain,
		Direction:  tc.Direction.String(),
	}
}

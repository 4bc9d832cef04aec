// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package expr

import (
	"errors"
	"fmt"

	"github.com/openkarl/karl/record"
)

// ErrCompile (§7's CompileError) is returned for a parse failure or an assignment whose
// left-hand side is not a variable/array reference (§7).
var ErrCompile = errors.New("expr: compile error")

func compileErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCompile, fmt.Sprintf(format, args...))
}

type parser struct {
	lex  *lexer
	tree *Tree
	tok  lexToken
	bind func(name string) Handle // lazily binds a variable reference
}

func parse(src string, bind func(name string) Handle) (*Tree, Handle, error) {
	p := &parser{lex: newLexer(src), tree: newTree(), bind: bind}
	if err := p.advance(); err != nil {
		return nil, 0, err
	}
	root, err := p.parseComma()
	if err != nil {
		return nil, 0, err
	}
	if p.tok.kind != tEOF {
		return nil, 0, compileErrorf("unexpected trailing token %q", p.tok.text)
	}
	return p.tree, root, nil
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return compileErrorf("%s", err.Error())
	}
	p.tok = t
	return nil
}

func (p *parser) isOp(s string) bool { return p.tok.kind == tOp && p.tok.text == s }

func (p *parser) expectOp(s string) error {
	if !p.isOp(s) {
		return compileErrorf("expected %q, got %q", s, p.tok.text)
	}
	return p.advance()
}

// Precedence, lowest to highest (§6.2):
//   ,  ;  ;>  =>  ?:  ||  &&  ==/!=  </<=/>/>=  +/-  */​//%  unary  ++/--  []
// Assignments (=, +=, ...) sit just above ';'/';>' and below '=>',
// right-assoc.

func (p *parser) parseComma() (Handle, error) {
	left, err := p.parseSeq()
	if err != nil {
		return 0, err
	}
	if !p.isOp(",") {
		return left, nil
	}
	children := []Handle{left}
	for p.isOp(",") {
		if err := p.advance(); err != nil {
			return 0, err
		}
		right, err := p.parseSeq()
		if err != nil {
			return 0, err
		}
		children = append(children, right)
	}
	return p.tree.alloc(Node{Kind: KSeq, SeqOp: ",", Children: children}), nil
}

func (p *parser) parseSeq() (Handle, error) {
	left, err := p.parseAssign()
	if err != nil {
		return 0, err
	}
	op := ""
	if p.isOp(";") {
		op = ";"
	} else if p.isOp(";>") {
		op = ";>"
	} else {
		return left, nil
	}
	children := []Handle{left}
	for p.isOp(";") || p.isOp(";>") {
		// ';' and ';>' may be mixed in one chain; a chain containing any
		// ';>' returns the last child's value, an all-';' chain the
		// first's.
		if p.isOp(";>") {
			op = ";>"
		}
		if err := p.advance(); err != nil {
			return 0, err
		}
		right, err := p.parseAssign()
		if err != nil {
			return 0, err
		}
		children = append(children, right)
	}
	return p.tree.alloc(Node{Kind: KSeq, SeqOp: op, Children: children}), nil
}

var assignOps = map[string]string{
	"=": "", "+=": "+", "-=": "-", "*=": "*", "/=": "/", "%=": "%",
}

func (p *parser) parseAssign() (Handle, error) {
	left, err := p.parseImplication()
	if err != nil {
		return 0, err
	}
	for op := range assignOps {
		if p.isOp(op) {
			n := p.tree.at(left)
			if n.Kind != KVarRef && n.Kind != KArrayRef {
				return 0, compileErrorf("assignment target must be a variable or array reference")
			}
			if err := p.advance(); err != nil {
				return 0, err
			}
			// right-associative: recurse into parseAssign, not parseImplication
			right, err := p.parseAssign()
			if err != nil {
				return 0, err
			}
			return p.tree.alloc(Node{Kind: KAssign, Op: assignOps[op], Left: left, Right: right}), nil
		}
	}
	return left, nil
}

func (p *parser) parseImplication() (Handle, error) {
	left, err := p.parseTernary()
	if err != nil {
		return 0, err
	}
	if !p.isOp("=>") {
		return left, nil
	}

	// The for-loop surface form (§6.2: ".i[N]" producing an index range)
	// is only distinguishable from a plain local array reference by
	// position: "<.localvar>[<count>] => <body>" is a loop over body with
	// localvar bound 0..count-1, rather than an implication whose
	// antecedent happens to be an array element. Anywhere else,
	// ".localvar[expr]" is an ordinary array reference.
	if leftNode := p.tree.at(left); leftNode.Kind == KArrayRef && len(leftNode.Name) > 0 && leftNode.Name[0] == '.' {
		countIdx := leftNode.Index
		name := leftNode.Name
		if err := p.advance(); err != nil {
			return 0, err
		}
		body, err := p.parseImplication()
		if err != nil {
			return 0, err
		}
		zero := p.tree.alloc(Node{Kind: KLeaf, Value: record.Int(0)})
		one := p.tree.alloc(Node{Kind: KLeaf, Value: record.Int(1)})
		return p.tree.alloc(Node{Kind: KForRange, Name: name, Start: zero, Count: countIdx, Step: one, Body: body}), nil
	}

	if err := p.advance(); err != nil {
		return 0, err
	}
	then, err := p.parseImplication()
	if err != nil {
		return 0, err
	}
	return p.tree.alloc(Node{Kind: KImplication, Cond: left, Then: then}), nil
}

func (p *parser) parseTernary() (Handle, error) {
	cond, err := p.parseOr()
	if err != nil {
		return 0, err
	}
	if !p.isOp("?") {
		return cond, nil
	}
	if err := p.advance(); err != nil {
		return 0, err
	}
	thenH, err := p.parseTernary()
	if err != nil {
		return 0, err
	}
	if err := p.expectOp(":"); err != nil {
		return 0, err
	}
	elseH, err := p.parseTernary()
	if err != nil {
		return 0, err
	}
	return p.tree.alloc(Node{Kind: KTernary, Cond: cond, Then: thenH, Else: elseH}), nil
}

func (p *parser) parseOr() (Handle, error) {
	left, err := p.parseAnd()
	if err != nil {
		return 0, err
	}
	for p.isOp("||") {
		if err := p.advance(); err != nil {
			return 0, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return 0, err
		}
		left = p.tree.alloc(Node{Kind: KLogical, Op: "||", Left: left, Right: right})
	}
	return left, nil
}

func (p *parser) parseAnd() (Handle, error) {
	left, err := p.parseEquality()
	if err != nil {
		return 0, err
	}
	for p.isOp("&&") {
		if err := p.advance(); err != nil {
			return 0, err
		}
		right, err := p.parseEquality()
		if err != nil {
			return 0, err
		}
		left = p.tree.alloc(Node{Kind: KLogical, Op: "&&", Left: left, Right: right})
	}
	return left, nil
}

func (p *parser) parseEquality() (Handle, error) {
	left, err := p.parseRelational()
	if err != nil {
		return 0, err
	}
	for p.isOp("==") || p.isOp("!=") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return 0, err
		}
		right, err := p.parseRelational()
		if err != nil {
			return 0, err
		}
		left = p.tree.alloc(Node{Kind: KBinaryCompare, Op: op, Left: left, Right: right})
	}
	return left, nil
}

func (p *parser) parseRelational() (Handle, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return 0, err
	}
	for p.isOp("<") || p.isOp("<=") || p.isOp(">") || p.isOp(">=") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return 0, err
		}
		right, err := p.parseAdditive()
		if err != nil {
			return 0, err
		}
		left = p.tree.alloc(Node{Kind: KBinaryCompare, Op: op, Left: left, Right: right})
	}
	return left, nil
}

func (p *parser) parseAdditive() (Handle, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return 0, err
	}
	for p.isOp("+") || p.isOp("-") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return 0, err
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return 0, err
		}
		left = p.tree.alloc(Node{Kind: KBinaryArith, Op: op, Left: left, Right: right})
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (Handle, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for p.isOp("*") || p.isOp("/") || p.isOp("%") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return 0, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		left = p.tree.alloc(Node{Kind: KBinaryArith, Op: op, Left: left, Right: right})
	}
	return left, nil
}

func (p *parser) parseUnary() (Handle, error) {
	if p.isOp("!") || p.isOp("-") || p.isOp("+") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return 0, err
		}
		child, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		return p.tree.alloc(Node{Kind: KUnary, Op: op, Child: child}), nil
	}
	if p.isOp("++") || p.isOp("--") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return 0, err
		}
		child, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		n := p.tree.at(child)
		if n.Kind != KVarRef && n.Kind != KArrayRef {
			return 0, compileErrorf("++/-- target must be a variable or array reference")
		}
		return p.tree.alloc(Node{Kind: KIncDec, Op: op, Child: child, Postfix: false}), nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Handle, error) {
	n, err := p.parsePrimary()
	if err != nil {
		return 0, err
	}
	for {
		if p.isOp("[") {
			if err := p.advance(); err != nil {
				return 0, err
			}
			idx, err := p.parseComma()
			if err != nil {
				return 0, err
			}
			if err := p.expectOp("]"); err != nil {
				return 0, err
			}
			base := p.tree.at(n)
			if base.Kind != KVarRef {
				return 0, compileErrorf("array index applies to a variable reference")
			}
			n = p.tree.alloc(Node{Kind: KArrayRef, Name: base.Name, Index: idx})
			continue
		}
		if p.isOp("++") || p.isOp("--") {
			nd := p.tree.at(n)
			if nd.Kind != KVarRef && nd.Kind != KArrayRef {
				break
			}
			op := p.tok.text
			if err := p.advance(); err != nil {
				return 0, err
			}
			n = p.tree.alloc(Node{Kind: KIncDec, Op: op, Child: n, Postfix: true})
			continue
		}
		break
	}
	return n, nil
}

func (p *parser) parsePrimary() (Handle, error) {
	switch p.tok.kind {
	case tNumber:
		text := p.tok.text
		if err := p.advance(); err != nil {
			return 0, err
		}
		isInt, i, d, err := parseNumberLiteral(text)
		if err != nil {
			return 0, compileErrorf("bad numeric literal %q", text)
		}
		var v record.Record
		if isInt {
			v = record.Int(i)
		} else {
			v = record.Dbl(d)
		}
		return p.tree.alloc(Node{Kind: KLeaf, Value: v}), nil

	case tString:
		text := p.tok.text
		if err := p.advance(); err != nil {
			return 0, err
		}
		return p.tree.alloc(Node{Kind: KLeaf, Value: record.Str(text)}), nil

	case tSyscall:
		name := p.tok.text
		if err := p.advance(); err != nil {
			return 0, err
		}
		args, err := p.parseArgList()
		if err != nil {
			return 0, err
		}
		return p.tree.alloc(Node{Kind: KSyscall, CallName: name, Args: args}), nil

	case tIdent:
		name := p.tok.text
		if err := p.advance(); err != nil {
			return 0, err
		}
		if p.isOp("(") {
			args, err := p.parseArgList()
			if err != nil {
				return 0, err
			}
			return p.tree.alloc(Node{Kind: KCall, CallName: name, Args: args}), nil
		}
		return p.tree.alloc(Node{Kind: KVarRef, Name: name}), nil

	case tOp:
		if p.tok.text == "(" {
			if err := p.advance(); err != nil {
				return 0, err
			}
			inner, err := p.parseComma()
			if err != nil {
				return 0, err
			}
			if err := p.expectOp(")"); err != nil {
				return 0, err
			}
			return inner, nil
		}
	}
	return 0, compileErrorf("unexpected token %q", p.tok.text)
}

func (p *parser) parseArgList() ([]Handle, error) {
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	var args []Handle
	if p.isOp(")") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		return args, nil
	}
	for {
		arg, err := p.parseAssign()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.isOp(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return args, nil
}

// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package expr

import (
	"fmt"
	"strconv"
	"strings"
)

type tokenKind int

const (
	tEOF tokenKind = iota
	tNumber
	tString
	tIdent
	tSyscall // #name
	tOp      // operators and punctuation, literal text in val
)

// lexToken carries its literal text; numeric/string values are parsed
// lazily by the parser so the lexer itself stays free of the record
// package.
type lexToken struct {
	kind tokenKind
	text string
}

type lexer struct {
	src []rune
	pos int
}

func newLexer(src string) *lexer { return &lexer{src: []rune(src)} }

func (l *lexer) peekRune() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) peekRuneAt(off int) rune {
	if l.pos+off >= len(l.src) {
		return 0
	}
	return l.src[l.pos+off]
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		r := l.src[l.pos]
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			l.pos++
			continue
		}
		break
	}
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '.' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentCont(r rune) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9')
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

// multi-char operators, longest first.
var multiOps = []string{
	";>", "=>", "&&", "||", "==", "!=", "<=", ">=",
	"+=", "-=", "*=", "/=", "%=", "++", "--",
}

func (l *lexer) next() (lexToken, error) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return lexToken{kind: tEOF}, nil
	}
	r := l.src[l.pos]

	if r == '#' {
		start := l.pos
		l.pos++
		for l.pos < len(l.src) && isIdentCont(l.src[l.pos]) {
			l.pos++
		}
		return lexToken{kind: tSyscall, text: string(l.src[start:l.pos])}, nil
	}

	if isIdentStart(r) {
		start := l.pos
		for l.pos < len(l.src) && isIdentCont(l.src[l.pos]) {
			l.pos++
		}
		return lexToken{kind: tIdent, text: string(l.src[start:l.pos])}, nil
	}

	if isDigit(r) || (r == '.' && isDigit(l.peekRuneAt(1))) {
		start := l.pos
		sawDot := false
		for l.pos < len(l.src) {
			c := l.src[l.pos]
			if isDigit(c) {
				l.pos++
				continue
			}
			if c == '.' && !sawDot {
				sawDot = true
				l.pos++
				continue
			}
			if (c == 'e' || c == 'E') && l.pos > start {
				l.pos++
				if l.peekRune() == '+' || l.peekRune() == '-' {
					l.pos++
				}
				continue
			}
			break
		}
		return lexToken{kind: tNumber, text: string(l.src[start:l.pos])}, nil
	}

	if r == '\'' || r == '"' {
		quote := r
		l.pos++
		var sb strings.Builder
		for l.pos < len(l.src) && l.src[l.pos] != quote {
			c := l.src[l.pos]
			if c == '\\' && l.pos+1 < len(l.src) {
				l.pos++
				sb.WriteRune(unescape(l.src[l.pos]))
				l.pos++
				continue
			}
			sb.WriteRune(c)
			l.pos++
		}
		if l.pos >= len(l.src) {
			return lexToken{}, fmt.Errorf("expr: unterminated string literal")
		}
		l.pos++ // closing quote
		return lexToken{kind: tString, text: sb.String()}, nil
	}

	for _, op := range multiOps {
		n := len(op)
		if l.pos+n <= len(l.src) && string(l.src[l.pos:l.pos+n]) == op {
			l.pos += n
			return lexToken{kind: tOp, text: op}, nil
		}
	}

	l.pos++
	return lexToken{kind: tOp, text: string(r)}, nil
}

func unescape(r rune) rune {
	switch r {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	case '0':
		return 0
	default:
		return r
	}
}

func parseNumberLiteral(text string) (isInt bool, i int64, d float64, err error) {
	if !strings.ContainsAny(text, ".eE") {
		i, err = strconv.ParseInt(text, 10, 64)
		return true, i, 0, err
	}
	d, err = strconv.ParseFloat(text, 64)
	return false, 0, d, err
}

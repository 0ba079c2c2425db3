// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package compiler

import (
	"fmt"
	"strconv"
	"strings"
)

// typeExpr is a parsed type expression, e.g. ptr[in, array[int8, 0:10], opt].
// Arguments are either nested types, integers, integer ranges or string literals.
type typeExpr struct {
	Pos   int
	Ident string
	Args  []*typeExpr

	IsInt    bool
	Value    uint64
	HasColon bool
	Value2   uint64

	IsString bool
	String   string
}

func (t *typeExpr) isIdent(name string) bool {
	return t.Ident == name && len(t.Args) == 0
}

func (t *typeExpr) Format() string {
	switch {
	case t.IsInt && t.HasColon:
		return fmt.Sprintf("%v:%v", int64(t.Value), int64(t.Value2))
	case t.IsInt:
		return fmt.Sprint(int64(t.Value))
	case t.IsString:
		return strconv.Quote(t.String)
	}
	if len(t.Args) == 0 {
		return t.Ident
	}
	var args []string
	for _, arg := range t.Args {
		args = append(args, arg.Format())
	}
	return fmt.Sprintf("%v[%v]", t.Ident, strings.Join(args, ", "))
}

type tokenKind int

const (
	tokIllegal tokenKind = iota
	tokIdent
	tokInt
	tokString
	tokLBrack
	tokRBrack
	tokComma
	tokColon
	tokEOF
)

type token struct {
	kind tokenKind
	pos  int
	lit  string
}

type scanner struct {
	data string
	off  int
}

func isIdentChar(ch byte, first bool) bool {
	return ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch == '_' || ch == '$' ||
		!first && ch >= '0' && ch <= '9'
}

func (s *scanner) scan() token {
	for s.off < len(s.data) && (s.data[s.off] == ' ' || s.data[s.off] == '\t') {
		s.off++
	}
	pos := s.off
	if s.off == len(s.data) {
		return token{kind: tokEOF, pos: pos}
	}
	ch := s.data[s.off]
	switch {
	case ch == '[':
		s.off++
		return token{kind: tokLBrack, pos: pos, lit: "["}
	case ch == ']':
		s.off++
		return token{kind: tokRBrack, pos: pos, lit: "]"}
	case ch == ',':
		s.off++
		return token{kind: tokComma, pos: pos, lit: ","}
	case ch == ':':
		s.off++
		return token{kind: tokColon, pos: pos, lit: ":"}
	case ch == '"':
		s.off++
		for s.off < len(s.data) && s.data[s.off] != '"' {
			if s.data[s.off] == '\\' {
				s.off++
			}
			s.off++
		}
		if s.off >= len(s.data) {
			return token{kind: tokIllegal, pos: pos, lit: "unterminated string"}
		}
		s.off++
		return token{kind: tokString, pos: pos, lit: s.data[pos:s.off]}
	case ch == '-' || ch >= '0' && ch <= '9':
		s.off++
		for s.off < len(s.data) && isIdentChar(s.data[s.off], false) {
			s.off++
		}
		return token{kind: tokInt, pos: pos, lit: s.data[pos:s.off]}
	case isIdentChar(ch, true):
		for s.off < len(s.data) && isIdentChar(s.data[s.off], false) {
			s.off++
		}
		return token{kind: tokIdent, pos: pos, lit: s.data[pos:s.off]}
	}
	s.off++
	return token{kind: tokIllegal, pos: pos, lit: string(ch)}
}

type parser struct {
	s   scanner
	tok token
}

type parseError struct {
	pos int
	msg string
}

// parseType parses a complete type expression.
func parseType(data string) (t *typeExpr, err error) {
	p := &parser{s: scanner{data: data}}
	defer func() {
		if r := recover(); r != nil {
			perr, ok := r.(parseError)
			if !ok {
				panic(r)
			}
			t, err = nil, fmt.Errorf("bad type %q at offset %v: %v", data, perr.pos, perr.msg)
		}
	}()
	p.next()
	t = p.parseExpr()
	if p.tok.kind != tokEOF {
		p.failf("unexpected %q after type", p.tok.lit)
	}
	return t, nil
}

func (p *parser) next() {
	p.tok = p.s.scan()
	if p.tok.kind == tokIllegal {
		p.failf("unexpected %q", p.tok.lit)
	}
}

func (p *parser) failf(msg string, args ...interface{}) {
	panic(parseError{p.tok.pos, fmt.Sprintf(msg, args...)})
}

func (p *parser) parseExpr() *typeExpr {
	t := &typeExpr{Pos: p.tok.pos}
	switch p.tok.kind {
	case tokIdent:
		t.Ident = p.tok.lit
		p.next()
		if p.tok.kind == tokLBrack {
			p.next()
			for {
				t.Args = append(t.Args, p.parseExpr())
				if p.tok.kind == tokRBrack {
					break
				}
				if p.tok.kind != tokComma {
					p.failf("want ',' or ']', got %q", p.tok.lit)
				}
				p.next()
			}
			p.next()
		}
	case tokInt:
		t.IsInt = true
		t.Value = p.parseInt()
		if p.tok.kind == tokColon {
			p.next()
			if p.tok.kind != tokInt {
				p.failf("want integer after ':', got %q", p.tok.lit)
			}
			t.HasColon = true
			t.Value2 = p.parseInt()
		}
	case tokString:
		str, err := strconv.Unquote(p.tok.lit)
		if err != nil {
			p.failf("bad string literal %v", p.tok.lit)
		}
		t.IsString = true
		t.String = str
		p.next()
	default:
		p.failf("unexpected %q", p.tok.lit)
	}
	return t
}

func (p *parser) parseInt() uint64 {
	lit := p.tok.lit
	var v uint64
	if strings.HasPrefix(lit, "-") {
		iv, err := strconv.ParseInt(lit, 0, 64)
		if err != nil {
			p.failf("bad integer %v", lit)
		}
		v = uint64(iv)
	} else {
		uv, err := strconv.ParseUint(lit, 0, 64)
		if err != nil {
			p.failf("bad integer %v", lit)
		}
		v = uv
	}
	p.next()
	return v
}

// parseField parses "name type" optionally followed by a direction attribute, e.g. "fd pipefd (out)".
func parseField(data string) (name string, typ *typeExpr, dir string, err error) {
	data = strings.TrimSpace(data)
	if strings.HasSuffix(data, ")") {
		if open := strings.LastIndexByte(data, '('); open != -1 {
			dir = strings.TrimSpace(data[open+1 : len(data)-1])
			data = strings.TrimSpace(data[:open])
		}
	}
	sp := strings.IndexAny(data, " \t")
	if sp == -1 {
		return "", nil, "", fmt.Errorf("bad field %q: want 'name type'", data)
	}
	name = data[:sp]
	for i := 0; i < len(name); i++ {
		if !isIdentChar(name[i], i == 0) {
			return "", nil, "", fmt.Errorf("bad field name %q", name)
		}
	}
	typ, err = parseType(strings.TrimSpace(data[sp:]))
	return name, typ, dir, err
}

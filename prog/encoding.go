// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// String generates a very compact program description (mostly for debug output).
func (p *Prog) String() string {
	buf := new(bytes.Buffer)
	for i, c := range p.Calls {
		if i != 0 {
			fmt.Fprintf(buf, "-")
		}
		fmt.Fprintf(buf, "%v", c.Meta.Name)
	}
	return buf.String()
}

// Serialize returns a human readable text form of the program, one call per line.
// Resources that are used by later calls are named rN, references print the name.
func (p *Prog) Serialize() []byte {
	ctx := &serializer{
		buf:    new(bytes.Buffer),
		target: p.Target,
		vars:   make(map[*ResultArg]int),
	}
	for _, c := range p.Calls {
		ctx.call(c)
	}
	return ctx.buf.Bytes()
}

type serializer struct {
	buf    *bytes.Buffer
	target *Target
	vars   map[*ResultArg]int
	varSeq int
}

func (ctx *serializer) printf(text string, args ...interface{}) {
	fmt.Fprintf(ctx.buf, text, args...)
}

func (ctx *serializer) allocVarID(arg *ResultArg) int {
	id := ctx.varSeq
	ctx.varSeq++
	ctx.vars[arg] = id
	return id
}

func (ctx *serializer) call(c *Call) {
	if c.Ret != nil && len(c.Ret.uses) != 0 {
		ctx.printf("r%v = ", ctx.allocVarID(c.Ret))
	}
	ctx.printf("%v(", c.Meta.Name)
	for i, a := range c.Args {
		if i != 0 {
			ctx.printf(", ")
		}
		ctx.arg(a)
	}
	ctx.printf(")\n")
}

func (ctx *serializer) arg(arg Arg) {
	if arg == nil {
		ctx.printf("nil")
		return
	}
	switch a := arg.(type) {
	case *ConstArg:
		ctx.printf("0x%x", a.Val)
	case *ResultArg:
		if len(a.uses) != 0 {
			ctx.printf("<r%v=>", ctx.allocVarID(a))
		}
		if a.Res == nil {
			ctx.printf("0x%x", a.Val)
			break
		}
		id, ok := ctx.vars[a.Res]
		if !ok {
			panic("no result")
		}
		ctx.printf("r%v", id)
	case *PointerArg:
		if a.IsSpecial() {
			ctx.printf("0x%x", ctx.target.SpecialPointers[a.Address])
			break
		}
		ctx.printf("&(0x%x)=", ctx.target.PhysicalAddr(a))
		ctx.arg(a.Res)
	case *DataArg:
		if a.Dir() == DirOut {
			ctx.printf("\"\"/%v", a.Size())
			break
		}
		serializeData(ctx.buf, a.Data())
	case *GroupArg:
		delims := []byte{'{', '}'}
		if _, ok := a.Type().(*ArrayType); ok {
			delims = []byte{'[', ']'}
		}
		ctx.buf.WriteByte(delims[0])
		for i, arg1 := range a.Inner {
			if i != 0 {
				ctx.printf(", ")
			}
			ctx.arg(arg1)
		}
		ctx.buf.WriteByte(delims[1])
	default:
		panic("unknown arg kind")
	}
}

func serializeData(buf *bytes.Buffer, data []byte) {
	if !isReadableData(data) {
		fmt.Fprintf(buf, "\"%v\"", hex.EncodeToString(data))
		return
	}
	buf.WriteByte('\'')
	for _, v := range data {
		switch v {
		case '\a':
			buf.WriteString(`\a`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\v':
			buf.WriteString(`\v`)
		case '\'':
			buf.WriteString(`\'`)
		case '\\':
			buf.WriteString(`\\`)
		case 0:
			buf.WriteString(`\x00`)
		default:
			buf.WriteByte(v)
		}
	}
	buf.WriteByte('\'')
}

func isReadableData(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	for _, v := range data {
		if v >= 0x20 && v < 0x7f {
			continue
		}
		switch v {
		case 0, '\a', '\b', '\f', '\n', '\r', '\t', '\v':
			continue
		}
		return false
	}
	return true
}

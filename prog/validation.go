// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

import (
	"fmt"
)

var debug = false // enabled in tests

type validCtx struct {
	target *Target
	args   map[Arg]bool
	// Call index that produced a resource.
	produced map[*ResultArg]int
	uses     map[*ResultArg]*ResultArg
	call     int
}

func (p *Prog) debugValidate() {
	if debug {
		if err := p.Validate(); err != nil {
			panic(fmt.Sprintf("generated invalid program: %v\n%s", err, p.Serialize()))
		}
	}
}

// Validate checks that the program is well-formed: args agree with syscall descriptions
// and every consumed resource is produced by a strictly earlier call
// and belongs to the equivalence class of the required resource.
func (p *Prog) Validate() error {
	if p.Target == nil {
		return fmt.Errorf("program has no target")
	}
	ctx := &validCtx{
		target:   p.Target,
		args:     make(map[Arg]bool),
		produced: make(map[*ResultArg]int),
		uses:     make(map[*ResultArg]*ResultArg),
	}
	for i, c := range p.Calls {
		ctx.call = i
		if err := c.validate(ctx); err != nil {
			return fmt.Errorf("call #%v: %w", i, err)
		}
		ForeachArg(c, func(arg Arg, _ *ArgCtx) {
			if a, ok := arg.(*ResultArg); ok && a.Produced() {
				ctx.produced[a] = i
			}
		})
	}
	for u, orig := range ctx.uses {
		if !ctx.args[u] {
			return fmt.Errorf("use of %+v refers to an out-of-tree arg\narg: %#v", orig, u)
		}
	}
	return nil
}

func (c *Call) validate(ctx *validCtx) error {
	if c.Meta == nil {
		return fmt.Errorf("call does not have meta information")
	}
	if ctx.target.SyscallMap[c.Meta.Name] != c.Meta {
		return fmt.Errorf("syscall %v does not belong to target %v", c.Meta.Name, ctx.target.Name)
	}
	if reason, ok := ctx.target.DisabledCalls[c.Meta]; ok {
		return fmt.Errorf("syscall %v is disabled: %v", c.Meta.Name, reason)
	}
	if len(c.Args) != len(c.Meta.Args) {
		return fmt.Errorf("syscall %v: wrong number of arguments, want %v, got %v",
			c.Meta.Name, len(c.Meta.Args), len(c.Args))
	}
	for i, arg := range c.Args {
		field := &c.Meta.Args[i]
		if err := ctx.validateArg(arg, field.Type, field.Dir(DirIn)); err != nil {
			return fmt.Errorf("syscall %v: arg %v: %w", c.Meta.Name, field.Name, err)
		}
	}
	if c.Meta.Ret == nil {
		if c.Ret != nil {
			return fmt.Errorf("syscall %v: return value without return type", c.Meta.Name)
		}
		return nil
	}
	if c.Ret == nil {
		return fmt.Errorf("syscall %v: return value is missing", c.Meta.Name)
	}
	if c.Ret.Res != nil || c.Ret.Dir() != DirOut {
		return fmt.Errorf("syscall %v: return value is not an output", c.Meta.Name)
	}
	return ctx.validateArg(c.Ret, c.Meta.Ret, DirOut)
}

func (ctx *validCtx) validateArg(arg Arg, typ Type, dir Dir) error {
	if arg == nil {
		return fmt.Errorf("nil arg")
	}
	if ctx.args[arg] {
		return fmt.Errorf("arg is referenced several times in the tree")
	}
	ctx.args[arg] = true
	if arg.Type() != typ {
		return fmt.Errorf("arg has type %v, want %v", arg.Type(), typ)
	}
	if _, ok := arg.(*PointerArg); !ok && arg.Dir() != dir {
		return fmt.Errorf("arg %v has dir %v, want %v", typ, arg.Dir(), dir)
	}
	switch t := typ.(type) {
	case *IntType, *FlagsType, *LenType:
		a, ok := arg.(*ConstArg)
		if !ok {
			return fmt.Errorf("int arg %v has bad kind %#v", typ, arg)
		}
		if _, isLen := t.(*LenType); !isLen && dir == DirOut && a.Val != 0 {
			return fmt.Errorf("output arg %v has non default value %v", typ, a.Val)
		}
	case *ConstType:
		a, ok := arg.(*ConstArg)
		if !ok {
			return fmt.Errorf("const arg %v has bad kind %#v", typ, arg)
		}
		if a.Val != t.Val {
			return fmt.Errorf("const arg %v has value %v, want %v", typ, a.Val, t.Val)
		}
	case *ResourceType:
		a, ok := arg.(*ResultArg)
		if !ok {
			return fmt.Errorf("resource arg %v has bad kind %#v", typ, arg)
		}
		return ctx.validateResult(a, t)
	case *BufferType:
		a, ok := arg.(*DataArg)
		if !ok {
			return fmt.Errorf("buffer arg %v has bad kind %#v", typ, arg)
		}
		if dir == DirOut && len(a.data) != 0 {
			return fmt.Errorf("output buffer %v has data", typ)
		}
		if !t.Varlen() && a.Size() != t.Size() {
			return fmt.Errorf("buffer %v has size %v, want %v", typ, a.Size(), t.Size())
		}
	case *PtrType:
		a, ok := arg.(*PointerArg)
		if !ok {
			return fmt.Errorf("pointer arg %v has bad kind %#v", typ, arg)
		}
		if a.IsSpecial() {
			if a.Address >= uint64(len(ctx.target.SpecialPointers)) {
				return fmt.Errorf("special pointer %v has bad index %v", typ, a.Address)
			}
			return nil
		}
		if a.Address+a.Res.Size() > ctx.target.DataSize() {
			return fmt.Errorf("pointer %v points outside of data area: 0x%x/%v", typ, a.Address, a.Res.Size())
		}
		return ctx.validateArg(a.Res, t.Elem, t.ElemDir)
	case *ArrayType:
		a, ok := arg.(*GroupArg)
		if !ok {
			return fmt.Errorf("array arg %v has bad kind %#v", typ, arg)
		}
		if t.Kind == ArrayRangeLen && (uint64(len(a.Inner)) < t.RangeBegin || uint64(len(a.Inner)) > t.RangeEnd) {
			return fmt.Errorf("array %v has %v elements, want [%v:%v]", typ, len(a.Inner), t.RangeBegin, t.RangeEnd)
		}
		for _, elem := range a.Inner {
			if err := ctx.validateArg(elem, t.Elem, dir); err != nil {
				return err
			}
		}
	case *StructType:
		a, ok := arg.(*GroupArg)
		if !ok {
			return fmt.Errorf("struct arg %v has bad kind %#v", typ, arg)
		}
		if len(a.Inner) != len(t.Fields) {
			return fmt.Errorf("struct %v has %v fields, want %v", typ, len(a.Inner), len(t.Fields))
		}
		for i, elem := range a.Inner {
			field := &t.Fields[i]
			if err := ctx.validateArg(elem, field.Type, field.Dir(dir)); err != nil {
				return fmt.Errorf("field %v: %w", field.Name, err)
			}
		}
	default:
		return fmt.Errorf("unknown type %#v", typ)
	}
	return nil
}

func (ctx *validCtx) validateResult(a *ResultArg, t *ResourceType) error {
	for u := range a.uses {
		if u == nil {
			return fmt.Errorf("nil reference in uses for arg %+v", a)
		}
		if u.Res != a {
			return fmt.Errorf("use %p does not reference arg %p", u, a)
		}
		ctx.uses[u] = a
	}
	if a.Res == nil {
		return nil
	}
	if a.Dir() == DirOut {
		return fmt.Errorf("output resource %v references another resource", t)
	}
	if !a.Res.uses[a] {
		return fmt.Errorf("resource %v is not in uses of its referent", t)
	}
	idx, ok := ctx.produced[a.Res]
	if !ok || idx >= ctx.call {
		return fmt.Errorf("resource %v is not produced by an earlier call", t)
	}
	if !ctx.target.inEqClass(t.Desc, a.Res.Desc()) {
		return fmt.Errorf("resource %v is used as incompatible %v", a.Res.Desc(), t.Desc)
	}
	return nil
}

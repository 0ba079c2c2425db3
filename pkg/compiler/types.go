// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package compiler

import (
	"github.com/resfuzz/resgen/prog"
)

// typeDesc describes a builtin type: how many arguments it takes and how to generate it.
type typeDesc struct {
	MinArgs   int
	MaxArgs   int
	CantBeOpt bool
	Gen       func(comp *compiler, ctx string, t *typeExpr, args []*typeExpr, common prog.TypeCommon) prog.Type
}

// typeDescs is filled in init, since some of the types recursively refer to it.
var typeDescs map[string]*typeDesc

var builtinTypes = map[string]bool{
	"intptr": true,
	"opt":    true,
	"in":     true,
	"out":    true,
	"inout":  true,
}

func init() {
	typeDescs = map[string]*typeDesc{
		"const":     typeConst,
		"flags":     typeFlags,
		"len":       typeLen,
		"ptr":       typePtr,
		"buffer":    typeBuffer,
		"array":     typeArray,
		"string":    typeString,
		"stringnoz": typeString,
		"filename":  typeFilename,
		"blob":      typeBlob,
	}
	for name := range typeDescs {
		builtinTypes[name] = true
	}
}

func (comp *compiler) genType(ctx string, t *typeExpr) prog.Type {
	if t.IsInt || t.IsString {
		comp.errorf("%v: want type, got %v", ctx, t.Format())
		return nil
	}
	args := t.Args
	common := prog.TypeCommon{TypeName: t.Ident}
	if len(args) != 0 && args[len(args)-1].isIdent("opt") {
		args = args[:len(args)-1]
		common.IsOptional = true
	}
	if size, ok := comp.intSize(t.Ident); ok {
		return comp.genInt(ctx, t, args, common, size)
	}
	if res := comp.resources[t.Ident]; res != nil {
		if len(args) != 0 {
			comp.errorf("%v: resource %v does not take arguments", ctx, t.Ident)
			return nil
		}
		common.TypeSize, _ = comp.intSize(comp.resourceInt[res.Name])
		return &prog.ResourceType{TypeCommon: common, Desc: res}
	}
	if st := comp.structs[t.Ident]; st != nil {
		if len(args) != 0 || common.IsOptional {
			comp.errorf("%v: struct %v does not take arguments", ctx, t.Ident)
			return nil
		}
		return st
	}
	desc := typeDescs[t.Ident]
	if desc == nil {
		if comp.resourceDef[t.Ident] != nil {
			// The resource itself is broken, the error is already reported.
			return nil
		}
		comp.errorf("%v: unknown type %v", ctx, t.Ident)
		return nil
	}
	if len(args) < desc.MinArgs || len(args) > desc.MaxArgs {
		comp.errorf("%v: wrong number of arguments for %v: %v, want %v-%v",
			ctx, t.Ident, len(args), desc.MinArgs, desc.MaxArgs)
		return nil
	}
	if desc.CantBeOpt && common.IsOptional {
		comp.errorf("%v: %v can't be marked as opt", ctx, t.Ident)
		return nil
	}
	return desc.Gen(comp, ctx, t, args, common)
}

func (comp *compiler) genInt(ctx string, t *typeExpr, args []*typeExpr, common prog.TypeCommon,
	size uint64) prog.Type {
	common.TypeSize = size
	typ := &prog.IntType{IntTypeCommon: prog.IntTypeCommon{TypeCommon: common}}
	switch len(args) {
	case 0:
	case 1:
		if !args[0].IsInt {
			comp.errorf("%v: bad %v range %v", ctx, t.Ident, args[0].Format())
			return nil
		}
		typ.Kind = prog.IntRange
		typ.RangeBegin, typ.RangeEnd = args[0].Value, args[0].Value
		if args[0].HasColon {
			typ.RangeEnd = args[0].Value2
		}
		if int64(typ.RangeBegin) > int64(typ.RangeEnd) {
			comp.errorf("%v: bad %v range %v", ctx, t.Ident, args[0].Format())
			return nil
		}
	default:
		comp.errorf("%v: %v takes at most one range argument", ctx, t.Ident)
		return nil
	}
	return typ
}

// genBase returns the integer base of const/flags/len types, intptr by default.
func (comp *compiler) genBase(ctx string, args []*typeExpr, idx int, common prog.TypeCommon) (
	prog.IntTypeCommon, bool) {
	name := "intptr"
	if idx < len(args) {
		name = args[idx].Ident
		if len(args[idx].Args) != 0 {
			comp.errorf("%v: bad base type %v", ctx, args[idx].Format())
			return prog.IntTypeCommon{}, false
		}
	}
	size, ok := comp.intSize(name)
	if !ok {
		comp.errorf("%v: bad base type %v", ctx, name)
		return prog.IntTypeCommon{}, false
	}
	common.TypeName = name
	common.TypeSize = size
	return prog.IntTypeCommon{TypeCommon: common}, true
}

var typeConst = &typeDesc{
	MinArgs:   1,
	MaxArgs:   2,
	CantBeOpt: true,
	Gen: func(comp *compiler, ctx string, t *typeExpr, args []*typeExpr, common prog.TypeCommon) prog.Type {
		if !args[0].IsInt || args[0].HasColon {
			comp.errorf("%v: const value must be an integer, got %v", ctx, args[0].Format())
			return nil
		}
		base, ok := comp.genBase(ctx, args, 1, common)
		if !ok {
			return nil
		}
		return &prog.ConstType{IntTypeCommon: base, Val: args[0].Value}
	},
}

var typeFlags = &typeDesc{
	MinArgs:   1,
	MaxArgs:   2,
	CantBeOpt: true,
	Gen: func(comp *compiler, ctx string, t *typeExpr, args []*typeExpr, common prog.TypeCommon) prog.Type {
		f := comp.flags[args[0].Ident]
		if f == nil || len(args[0].Args) != 0 {
			comp.errorf("%v: unknown flags %v", ctx, args[0].Format())
			return nil
		}
		base, ok := comp.genBase(ctx, args, 1, common)
		if !ok {
			return nil
		}
		values := make([]uint64, len(f.Values))
		for i, v := range f.Values {
			values[i] = uint64(v)
		}
		bitmask := true
		var combined uint64
		for _, v := range values {
			if v&combined != 0 {
				bitmask = false
				break
			}
			combined |= v
		}
		return &prog.FlagsType{
			IntTypeCommon: base,
			FlagsName:     f.Name,
			Vals:          values,
			BitMask:       bitmask,
		}
	},
}

var typeLen = &typeDesc{
	MinArgs:   1,
	MaxArgs:   2,
	CantBeOpt: true,
	Gen: func(comp *compiler, ctx string, t *typeExpr, args []*typeExpr, common prog.TypeCommon) prog.Type {
		if args[0].Ident == "" || len(args[0].Args) != 0 {
			comp.errorf("%v: len target must be a field name, got %v", ctx, args[0].Format())
			return nil
		}
		base, ok := comp.genBase(ctx, args, 1, common)
		if !ok {
			return nil
		}
		return &prog.LenType{IntTypeCommon: base, Path: args[0].Ident}
	},
}

func (comp *compiler) genDir(ctx string, arg *typeExpr) (prog.Dir, bool) {
	dir, ok := prog.DirIn, false
	if len(arg.Args) == 0 {
		dir, ok = parseDir(arg.Ident)
	}
	if !ok {
		comp.errorf("%v: bad direction %v, want in/out/inout", ctx, arg.Format())
	}
	return dir, ok
}

var typePtr = &typeDesc{
	MinArgs: 2,
	MaxArgs: 2,
	Gen: func(comp *compiler, ctx string, t *typeExpr, args []*typeExpr, common prog.TypeCommon) prog.Type {
		dir, ok := comp.genDir(ctx, args[0])
		if !ok {
			return nil
		}
		elem := comp.genType(ctx, args[1])
		if elem == nil {
			return nil
		}
		common.TypeSize = comp.ptrSize
		return &prog.PtrType{TypeCommon: common, Elem: elem, ElemDir: dir}
	},
}

// buffer[dir] is a pointer to a random blob.
var typeBuffer = &typeDesc{
	MinArgs: 1,
	MaxArgs: 1,
	Gen: func(comp *compiler, ctx string, t *typeExpr, args []*typeExpr, common prog.TypeCommon) prog.Type {
		dir, ok := comp.genDir(ctx, args[0])
		if !ok {
			return nil
		}
		common.TypeName = "ptr"
		common.TypeSize = comp.ptrSize
		return &prog.PtrType{
			TypeCommon: common,
			Elem: &prog.BufferType{
				TypeCommon: prog.TypeCommon{TypeName: "blob", IsVarlen: true},
				Kind:       prog.BufferBlobRand,
			},
			ElemDir: dir,
		}
	},
}

var typeArray = &typeDesc{
	MinArgs: 1,
	MaxArgs: 2,
	Gen: func(comp *compiler, ctx string, t *typeExpr, args []*typeExpr, common prog.TypeCommon) prog.Type {
		elem := comp.genType(ctx, args[0])
		if elem == nil {
			return nil
		}
		common.IsVarlen = true
		typ := &prog.ArrayType{TypeCommon: common, Elem: elem}
		if len(args) == 2 {
			rng := args[1]
			if !rng.IsInt {
				comp.errorf("%v: bad array size %v", ctx, rng.Format())
				return nil
			}
			typ.Kind = prog.ArrayRangeLen
			typ.RangeBegin, typ.RangeEnd = rng.Value, rng.Value
			if rng.HasColon {
				typ.RangeEnd = rng.Value2
			}
			if typ.RangeBegin > typ.RangeEnd {
				comp.errorf("%v: bad array range %v", ctx, rng.Format())
				return nil
			}
		}
		comp.arrays = append(comp.arrays, typ)
		return typ
	},
}

var typeString = &typeDesc{
	MinArgs: 0,
	MaxArgs: 16,
	Gen: func(comp *compiler, ctx string, t *typeExpr, args []*typeExpr, common prog.TypeCommon) prog.Type {
		noz := t.Ident == "stringnoz"
		common.TypeName = "string"
		common.IsVarlen = true
		typ := &prog.BufferType{TypeCommon: common, Kind: prog.BufferString, NoZ: noz}
		for _, arg := range args {
			if !arg.IsString {
				comp.errorf("%v: string value must be a string literal, got %v", ctx, arg.Format())
				return nil
			}
			val := arg.String
			if !noz {
				val += "\x00"
			}
			typ.Values = append(typ.Values, val)
		}
		return typ
	},
}

var typeFilename = &typeDesc{
	MinArgs: 0,
	MaxArgs: 0,
	Gen: func(comp *compiler, ctx string, t *typeExpr, args []*typeExpr, common prog.TypeCommon) prog.Type {
		common.IsVarlen = true
		return &prog.BufferType{TypeCommon: common, Kind: prog.BufferFilename}
	},
}

var typeBlob = &typeDesc{
	MinArgs: 0,
	MaxArgs: 1,
	Gen: func(comp *compiler, ctx string, t *typeExpr, args []*typeExpr, common prog.TypeCommon) prog.Type {
		typ := &prog.BufferType{TypeCommon: common, Kind: prog.BufferBlobRand}
		if len(args) == 0 {
			typ.IsVarlen = true
			return typ
		}
		rng := args[0]
		if !rng.IsInt {
			comp.errorf("%v: bad blob size %v", ctx, rng.Format())
			return nil
		}
		typ.Kind = prog.BufferBlobRange
		typ.RangeBegin, typ.RangeEnd = rng.Value, rng.Value
		if rng.HasColon {
			typ.RangeEnd = rng.Value2
		}
		if typ.RangeBegin > typ.RangeEnd {
			comp.errorf("%v: bad blob range %v", ctx, rng.Format())
			return nil
		}
		if typ.RangeBegin == typ.RangeEnd {
			typ.TypeSize = typ.RangeBegin
		} else {
			typ.IsVarlen = true
		}
		return typ
	},
}

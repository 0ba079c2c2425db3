// Copyright 2015/2016 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

import (
	"fmt"
	"strings"
)

type Syscall struct {
	ID       int
	Name     string
	CallName string
	Args     []Field
	Ret      Type

	inputResources  []*ResourceType
	outputResources []*ResourceType
}

// Field represents a syscall argument or a struct field.
type Field struct {
	Name string
	Type

	HasDirection bool
	Direction    Dir
}

func (f *Field) Dir(def Dir) Dir {
	if f.HasDirection {
		return f.Direction
	}
	return def
}

type Dir uint8

const (
	DirIn Dir = iota
	DirOut
	DirInOut
)

func (dir Dir) String() string {
	switch dir {
	case DirIn:
		return "in"
	case DirOut:
		return "out"
	case DirInOut:
		return "inout"
	default:
		panic("unknown dir")
	}
}

type Type interface {
	String() string
	Name() string
	Optional() bool
	Varlen() bool
	Size() uint64
	Alignment() uint64
	DefaultArg(dir Dir) Arg
	isDefaultArg(arg Arg) bool
	generate(r *randGen, ctx *genContext, dir Dir) Arg
}

func IsPad(t Type) bool {
	if ct, ok := t.(*ConstType); ok && ct.IsPad {
		return true
	}
	return false
}

type TypeCommon struct {
	TypeName string
	// Static size of the type, or 0 for variable size types and all but last bitfields in the group.
	TypeSize   uint64
	TypeAlign  uint64
	IsOptional bool
	IsVarlen   bool
}

func (t *TypeCommon) Name() string {
	return t.TypeName
}

func (t *TypeCommon) String() string {
	return t.TypeName
}

func (t *TypeCommon) Optional() bool {
	return t.IsOptional
}

func (t *TypeCommon) Size() uint64 {
	if t.IsVarlen {
		panic(fmt.Sprintf("static type size is not known: %#v", t))
	}
	return t.TypeSize
}

func (t *TypeCommon) Varlen() bool {
	return t.IsVarlen
}

func (t *TypeCommon) Alignment() uint64 {
	if t.TypeAlign != 0 {
		return t.TypeAlign
	}
	if !t.IsVarlen && t.TypeSize != 0 && t.TypeSize <= 8 {
		return t.TypeSize
	}
	return 1
}

// ResourceDesc describes a resource kind.
// Kind is the subtyping path from the most generic to the most specialized kind,
// e.g. [fd, sock, sock_tcp].
type ResourceDesc struct {
	ID     int
	Name   string
	Kind   []string
	Values []uint64
}

func (res *ResourceDesc) String() string {
	return res.Name
}

type ResourceType struct {
	TypeCommon
	Desc *ResourceDesc
}

func (t *ResourceType) String() string {
	return t.Name()
}

func (t *ResourceType) DefaultArg(dir Dir) Arg {
	return MakeResultArg(t, dir, nil, t.Default())
}

func (t *ResourceType) isDefaultArg(arg Arg) bool {
	a := arg.(*ResultArg)
	return a.Res == nil && len(a.uses) == 0 && a.Val == t.Default()
}

func (t *ResourceType) Default() uint64 {
	return t.Desc.Values[0]
}

func (t *ResourceType) SpecialValues() []uint64 {
	return t.Desc.Values
}

type IntTypeCommon struct {
	TypeCommon
}

func (t *IntTypeCommon) TypeBitSize() uint64 {
	return t.TypeSize * 8
}

type ConstType struct {
	IntTypeCommon
	Val   uint64
	IsPad bool
}

func (t *ConstType) DefaultArg(dir Dir) Arg {
	return MakeConstArg(t, dir, t.Val)
}

func (t *ConstType) isDefaultArg(arg Arg) bool {
	return arg.(*ConstArg).Val == t.Val
}

func (t *ConstType) String() string {
	if t.IsPad {
		return fmt.Sprintf("pad[%v]", t.Size())
	}
	return fmt.Sprintf("const[%v, %v]", t.Val, t.TypeName)
}

type IntKind int

const (
	IntPlain IntKind = iota
	IntRange
)

type IntType struct {
	IntTypeCommon
	Kind       IntKind
	RangeBegin uint64
	RangeEnd   uint64
	Align      uint64
}

func (t *IntType) DefaultArg(dir Dir) Arg {
	return MakeConstArg(t, dir, 0)
}

func (t *IntType) isDefaultArg(arg Arg) bool {
	return arg.(*ConstArg).Val == 0
}

func (t *IntType) String() string {
	if t.Kind == IntRange {
		return fmt.Sprintf("%v[%v:%v]", t.TypeName, int64(t.RangeBegin), int64(t.RangeEnd))
	}
	return t.TypeName
}

type FlagsType struct {
	IntTypeCommon
	FlagsName string
	Vals      []uint64 // compiler ensures that it's not empty
	BitMask   bool
}

func (t *FlagsType) DefaultArg(dir Dir) Arg {
	return MakeConstArg(t, dir, 0)
}

func (t *FlagsType) isDefaultArg(arg Arg) bool {
	return arg.(*ConstArg).Val == 0
}

func (t *FlagsType) Name() string {
	return t.FlagsName
}

func (t *FlagsType) String() string {
	return fmt.Sprintf("flags[%v, %v]", t.FlagsName, t.TypeName)
}

// LenType holds length of the sibling field named Path.
// For arrays it is the number of elements, for everything else the size in bytes.
type LenType struct {
	IntTypeCommon
	Path string
}

func (t *LenType) DefaultArg(dir Dir) Arg {
	return MakeConstArg(t, dir, 0)
}

func (t *LenType) isDefaultArg(arg Arg) bool {
	return arg.(*ConstArg).Val == 0
}

func (t *LenType) String() string {
	return fmt.Sprintf("len[%v, %v]", t.Path, t.TypeName)
}

type BufferKind int

const (
	BufferBlobRand BufferKind = iota
	BufferBlobRange
	BufferString
	BufferFilename
)

type BufferType struct {
	TypeCommon
	Kind       BufferKind
	RangeBegin uint64   // for BufferBlobRange kind
	RangeEnd   uint64   // for BufferBlobRange kind
	Values     []string // possible values for BufferString kind
	NoZ        bool     // non-zero terminated BufferString/BufferFilename
}

func (t *BufferType) DefaultArg(dir Dir) Arg {
	if dir == DirOut {
		var sz uint64
		if !t.Varlen() {
			sz = t.Size()
		}
		return MakeOutDataArg(t, dir, sz)
	}
	var data []byte
	if len(t.Values) == 1 {
		data = []byte(t.Values[0])
	} else if !t.Varlen() {
		data = make([]byte, t.Size())
	}
	return MakeDataArg(t, dir, data)
}

func (t *BufferType) isDefaultArg(arg Arg) bool {
	a := arg.(*DataArg)
	sz := uint64(0)
	if !t.Varlen() {
		sz = t.Size()
	}
	if a.Size() != sz {
		return false
	}
	if a.Dir() == DirOut {
		return true
	}
	if len(t.Values) == 1 {
		return string(a.Data()) == t.Values[0]
	}
	for _, v := range a.Data() {
		if v != 0 {
			return false
		}
	}
	return true
}

func (t *BufferType) String() string {
	switch t.Kind {
	case BufferBlobRand:
		return "blob"
	case BufferBlobRange:
		return fmt.Sprintf("blob[%v:%v]", t.RangeBegin, t.RangeEnd)
	case BufferString:
		if len(t.Values) != 0 {
			return fmt.Sprintf("string[%q]", strings.Join(t.Values, `", "`))
		}
		return "string"
	case BufferFilename:
		return "filename"
	default:
		panic("unknown buffer kind")
	}
}

type ArrayKind int

const (
	ArrayRandLen ArrayKind = iota
	ArrayRangeLen
)

type ArrayType struct {
	TypeCommon
	Elem       Type
	Kind       ArrayKind
	RangeBegin uint64
	RangeEnd   uint64
}

func (t *ArrayType) DefaultArg(dir Dir) Arg {
	var elems []Arg
	if t.Kind == ArrayRangeLen && t.RangeBegin == t.RangeEnd {
		for i := uint64(0); i < t.RangeBegin; i++ {
			elems = append(elems, t.Elem.DefaultArg(dir))
		}
	}
	return MakeGroupArg(t, dir, elems)
}

func (t *ArrayType) isDefaultArg(arg Arg) bool {
	a := arg.(*GroupArg)
	if !a.fixedInnerSize() {
		return false
	}
	if t.Kind == ArrayRangeLen && t.RangeBegin == t.RangeEnd {
		return uint64(len(a.Inner)) == t.RangeBegin
	}
	return len(a.Inner) == 0
}

func (t *ArrayType) String() string {
	if t.Kind == ArrayRangeLen {
		return fmt.Sprintf("array[%v, %v:%v]", t.Elem, t.RangeBegin, t.RangeEnd)
	}
	return fmt.Sprintf("array[%v]", t.Elem)
}

type PtrType struct {
	TypeCommon
	Elem    Type
	ElemDir Dir
}

func (t *PtrType) DefaultArg(dir Dir) Arg {
	return MakeSpecialPointerArg(t, dir, 0)
}

func (t *PtrType) isDefaultArg(arg Arg) bool {
	a := arg.(*PointerArg)
	return a.IsSpecial() && a.Address == 0
}

func (t *PtrType) String() string {
	return fmt.Sprintf("ptr[%v, %v]", t.ElemDir, t.Elem)
}

type StructType struct {
	TypeCommon
	Fields []Field
}

func (t *StructType) DefaultArg(dir Dir) Arg {
	inner := make([]Arg, len(t.Fields))
	for i, field := range t.Fields {
		inner[i] = field.DefaultArg(field.Dir(dir))
	}
	return MakeGroupArg(t, dir, inner)
}

func (t *StructType) isDefaultArg(arg Arg) bool {
	a := arg.(*GroupArg)
	for _, elem := range a.Inner {
		if !isDefault(elem) {
			return false
		}
	}
	return true
}

func isDefault(arg Arg) bool {
	return arg.Type().isDefaultArg(arg)
}

// ForeachCallType calls f for every type reachable from the call arguments and return value,
// passing the effective direction of each type.
// Recursion through struct types is pruned after the first visit of each struct in a path.
func ForeachCallType(meta *Syscall, f func(typ Type, dir Dir)) {
	seen := make(map[*StructType]bool)
	var rec func(t Type, dir Dir)
	rec = func(t Type, dir Dir) {
		f(t, dir)
		switch a := t.(type) {
		case *PtrType:
			rec(a.Elem, a.ElemDir)
		case *ArrayType:
			rec(a.Elem, dir)
		case *StructType:
			if seen[a] {
				return // prune recursion via pointers to structs
			}
			seen[a] = true
			for i := range a.Fields {
				rec(a.Fields[i].Type, a.Fields[i].Dir(dir))
			}
			delete(seen, a)
		case *ResourceType, *BufferType, *LenType, *FlagsType, *ConstType, *IntType:
		default:
			panic(fmt.Sprintf("unknown type %#v", t))
		}
	}
	for i := range meta.Args {
		rec(meta.Args[i].Type, meta.Args[i].Dir(DirIn))
	}
	if meta.Ret != nil {
		rec(meta.Ret, DirOut)
	}
}

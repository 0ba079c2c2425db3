// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

import (
	"fmt"
)

type Prog struct {
	Target *Target
	Calls  []*Call
}

type Call struct {
	Meta *Syscall
	Args []Arg
	Ret  *ResultArg
}

func MakeCall(meta *Syscall, args []Arg) *Call {
	return &Call{
		Meta: meta,
		Args: args,
	}
}

type Arg interface {
	Type() Type
	Dir() Dir
	Size() uint64
}

type ArgCommon struct {
	typ Type
	dir Dir
}

func (arg ArgCommon) Type() Type {
	return arg.typ
}

func (arg ArgCommon) Dir() Dir {
	return arg.dir
}

// Used for IntType, ConstType, FlagsType and LenType.
type ConstArg struct {
	ArgCommon
	Val uint64
}

func MakeConstArg(t Type, dir Dir, v uint64) *ConstArg {
	return &ConstArg{ArgCommon: ArgCommon{typ: t, dir: dir}, Val: v}
}

func (arg *ConstArg) Size() uint64 {
	return arg.Type().Size()
}

// Used for PtrType.
type PointerArg struct {
	ArgCommon
	Address uint64
	Res     Arg // pointee (nil for special)
}

func MakePointerArg(t Type, dir Dir, addr uint64, data Arg) *PointerArg {
	if data == nil {
		panic("nil pointer data arg")
	}
	return &PointerArg{
		ArgCommon: ArgCommon{typ: t, dir: DirIn}, // pointers are always in
		Address:   addr,
		Res:       data,
	}
}

// MakeSpecialPointerArg creates a pointer with a value from Target.SpecialPointers.
// The address holds the index into the special pointers list.
func MakeSpecialPointerArg(t Type, dir Dir, index uint64) *PointerArg {
	if _, ok := t.(*PtrType); !ok {
		panic("bad special pointer")
	}
	return &PointerArg{
		ArgCommon: ArgCommon{typ: t, dir: DirIn},
		Address:   index,
	}
}

func (arg *PointerArg) Size() uint64 {
	return arg.Type().Size()
}

func (arg *PointerArg) IsSpecial() bool {
	return arg.Res == nil
}

// Used for BufferType.
type DataArg struct {
	ArgCommon
	data []byte // for in/inout args
	size uint64 // for out args
}

func MakeDataArg(t Type, dir Dir, data []byte) *DataArg {
	if dir == DirOut {
		panic("non-empty output data arg")
	}
	return &DataArg{ArgCommon: ArgCommon{typ: t, dir: dir}, data: append([]byte{}, data...)}
}

func MakeOutDataArg(t Type, dir Dir, size uint64) *DataArg {
	if dir != DirOut {
		panic("empty input data arg")
	}
	return &DataArg{ArgCommon: ArgCommon{typ: t, dir: dir}, size: size}
}

func (arg *DataArg) Size() uint64 {
	if len(arg.data) != 0 {
		return uint64(len(arg.data))
	}
	return arg.size
}

func (arg *DataArg) Data() []byte {
	if arg.Dir() == DirOut {
		panic("getting data of output data arg")
	}
	return arg.data
}

// Used for StructType and ArrayType.
// Logical group of args (struct or array).
type GroupArg struct {
	ArgCommon
	Inner []Arg
}

func MakeGroupArg(t Type, dir Dir, inner []Arg) *GroupArg {
	return &GroupArg{ArgCommon: ArgCommon{typ: t, dir: dir}, Inner: inner}
}

func (arg *GroupArg) Size() uint64 {
	typ0 := arg.Type()
	if !typ0.Varlen() {
		return typ0.Size()
	}
	size := uint64(0)
	for _, elem := range arg.Inner {
		size += elem.Size()
	}
	return size
}

func (arg *GroupArg) fixedInnerSize() bool {
	switch typ := arg.Type().(type) {
	case *StructType:
		return true
	case *ArrayType:
		return typ.Kind == ArrayRangeLen && typ.RangeBegin == typ.RangeEnd
	default:
		panic(fmt.Sprintf("bad group arg type %v", typ))
	}
}

// Used for ResourceType.
// This is the only argument that can be used as syscall return value.
// Either holds constant value or reference another ResultArg.
type ResultArg struct {
	ArgCommon
	Res   *ResultArg          // reference to arg which we use
	Val   uint64              // value used if Res is nil
	uses  map[*ResultArg]bool // args that use this arg
	index int                 // position in the resource pool, used for text variable naming
}

func MakeResultArg(t Type, dir Dir, r *ResultArg, v uint64) *ResultArg {
	arg := &ResultArg{ArgCommon: ArgCommon{typ: t, dir: dir}, Res: r, Val: v}
	if r == nil {
		return arg
	}
	if r.uses == nil {
		r.uses = make(map[*ResultArg]bool)
	}
	r.uses[arg] = true
	return arg
}

func MakeReturnArg(t Type) *ResultArg {
	if t == nil {
		return nil
	}
	return &ResultArg{ArgCommon: ArgCommon{typ: t, dir: DirOut}}
}

func (arg *ResultArg) Size() uint64 {
	return arg.Type().Size()
}

// Desc returns the resource kind of the value.
func (arg *ResultArg) Desc() *ResourceDesc {
	return arg.Type().(*ResourceType).Desc
}

// Uses returns the number of args that reference this one.
func (arg *ResultArg) Uses() int {
	return len(arg.uses)
}

// Produced reports whether the arg is a resource slot filled by the call.
func (arg *ResultArg) Produced() bool {
	return arg.Dir() != DirIn
}

// InnerArg returns arg itself or the pointee for pointers.
func InnerArg(arg Arg) Arg {
	if t, ok := arg.Type().(*PtrType); ok {
		if a, ok := arg.(*PointerArg); ok {
			if a.Res == nil {
				if !t.Optional() {
					panic(fmt.Sprintf("non-optional pointer is nil\narg: %+v\ntype: %+v", a, t))
				}
				return nil
			}
			return InnerArg(a.Res)
		}
		return nil // *ConstArg.
	}
	return arg
}

// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

import (
	"math/rand"
	"testing"

	"github.com/resfuzz/resgen/pkg/testutil"
)

// Export guts for testing.

func init() {
	debug = true
}

func initTest(t *testing.T) (*Target, rand.Source, int) {
	t.Parallel()
	return testTarget(t), testutil.RandSource(t), testutil.IterCount()
}

func mustTarget(t testing.TB, desc TargetDesc) *Target {
	target, err := NewTarget(desc)
	if err != nil {
		t.Fatal(err)
	}
	return target
}

func intT(name string, size uint64) *IntType {
	return &IntType{IntTypeCommon: IntTypeCommon{TypeCommon: TypeCommon{TypeName: name, TypeSize: size}}}
}

func rangeT(name string, size, begin, end uint64) *IntType {
	t := intT(name, size)
	t.Kind = IntRange
	t.RangeBegin = begin
	t.RangeEnd = end
	return t
}

func constT(val, size uint64) *ConstType {
	return &ConstType{IntTypeCommon: IntTypeCommon{TypeCommon: TypeCommon{TypeName: "const", TypeSize: size}}, Val: val}
}

func flagsT(name string, size uint64, bitmask bool, vals ...uint64) *FlagsType {
	return &FlagsType{
		IntTypeCommon: IntTypeCommon{TypeCommon: TypeCommon{TypeName: "int32", TypeSize: size}},
		FlagsName:     name,
		Vals:          vals,
		BitMask:       bitmask,
	}
}

func lenT(path string, size uint64) *LenType {
	return &LenType{IntTypeCommon: IntTypeCommon{TypeCommon: TypeCommon{TypeName: "len", TypeSize: size}}, Path: path}
}

func resDesc(kind ...string) *ResourceDesc {
	return &ResourceDesc{Name: kind[len(kind)-1], Kind: kind, Values: []uint64{^uint64(0)}}
}

func resT(desc *ResourceDesc) *ResourceType {
	return &ResourceType{TypeCommon: TypeCommon{TypeName: desc.Name, TypeSize: 4}, Desc: desc}
}

func optResT(desc *ResourceDesc) *ResourceType {
	t := resT(desc)
	t.IsOptional = true
	return t
}

func ptrT(dir Dir, elem Type) *PtrType {
	return &PtrType{TypeCommon: TypeCommon{TypeName: "ptr", TypeSize: 8}, Elem: elem, ElemDir: dir}
}

func optPtrT(dir Dir, elem Type) *PtrType {
	t := ptrT(dir, elem)
	t.IsOptional = true
	return t
}

func bufT(kind BufferKind, values ...string) *BufferType {
	names := map[BufferKind]string{BufferBlobRand: "blob", BufferString: "string", BufferFilename: "filename"}
	return &BufferType{TypeCommon: TypeCommon{TypeName: names[kind], IsVarlen: true}, Kind: kind, Values: values}
}

func blobRangeT(begin, end uint64) *BufferType {
	t := &BufferType{TypeCommon: TypeCommon{TypeName: "blob"}, Kind: BufferBlobRange, RangeBegin: begin, RangeEnd: end}
	if begin == end {
		t.TypeSize = begin
	} else {
		t.IsVarlen = true
	}
	return t
}

func arrayT(elem Type) *ArrayType {
	return &ArrayType{TypeCommon: TypeCommon{TypeName: "array", IsVarlen: true}, Elem: elem}
}

func arrayRangeT(elem Type, begin, end uint64) *ArrayType {
	t := arrayT(elem)
	t.Kind = ArrayRangeLen
	t.RangeBegin = begin
	t.RangeEnd = end
	if begin == end && !elem.Varlen() {
		t.IsVarlen = false
		t.TypeSize = begin * elem.Size()
	}
	return t
}

func structT(name string, fields ...Field) *StructType {
	t := &StructType{TypeCommon: TypeCommon{TypeName: name}, Fields: fields}
	for _, f := range fields {
		if f.Varlen() {
			t.IsVarlen = true
			t.TypeSize = 0
			break
		}
		t.TypeSize += f.Size()
	}
	return t
}

func fld(name string, typ Type) Field {
	return Field{Name: name, Type: typ}
}

func dirFld(name string, typ Type, dir Dir) Field {
	return Field{Name: name, Type: typ, HasDirection: true, Direction: dir}
}

// testTargetDesc describes a small file/socket API:
//
//	fd <- sock <- sock_tcp, fd <- sock <- sock_udp (no constructors),
//	fd <- pipefd, unreachable (no constructors).
func testTargetDesc() TargetDesc {
	fd := resDesc("fd")
	sock := resDesc("fd", "sock")
	sockTCP := resDesc("fd", "sock", "sock_tcp")
	pipefd := resDesc("fd", "pipefd")
	sockUDP := resDesc("fd", "sock", "sock_udp")
	unreachable := resDesc("unreachable")
	sockopt := structT("sockopt",
		fld("level", rangeT("int32", 4, 0, 10)),
		fld("name", flagsT("sockopt_names", 4, false, 1, 2, 3, 7)),
		fld("len", lenT("data", 4)),
		fld("data", arrayT(intT("int8", 1))),
	)
	pipefds := structT("pipefds",
		fld("rfd", resT(pipefd)),
		fld("wfd", resT(pipefd)),
	)
	return TargetDesc{
		Name:      "test",
		Resources: []*ResourceDesc{fd, sock, sockTCP, pipefd, sockUDP, unreachable},
		Syscalls: []*Syscall{
			{Name: "open", Args: []Field{
				fld("file", ptrT(DirIn, bufT(BufferFilename))),
				fld("flags", flagsT("open_flags", 4, true, 0x1, 0x2, 0x40, 0x200)),
			}, Ret: resT(fd)},
			{Name: "socket", Args: []Field{
				fld("domain", constT(2, 4)),
				fld("type", flagsT("socket_types", 4, false, 1, 2, 3)),
			}, Ret: resT(sock)},
			{Name: "socket$tcp", Args: []Field{
				fld("domain", constT(2, 4)),
				fld("type", constT(1, 4)),
			}, Ret: resT(sockTCP)},
			{Name: "accept", Args: []Field{
				fld("fd", resT(sock)),
				fld("addr", optPtrT(DirOut, blobRangeT(16, 16))),
			}, Ret: resT(sock)},
			{Name: "pipe", Args: []Field{
				fld("fds", ptrT(DirOut, pipefds)),
			}},
			{Name: "read", Args: []Field{
				fld("fd", resT(fd)),
				fld("buf", ptrT(DirOut, bufT(BufferBlobRand))),
				fld("count", lenT("buf", 8)),
			}},
			{Name: "write", Args: []Field{
				fld("fd", resT(fd)),
				fld("buf", ptrT(DirIn, bufT(BufferBlobRand))),
				fld("count", lenT("buf", 8)),
			}},
			{Name: "setsockopt", Args: []Field{
				fld("fd", resT(sock)),
				fld("opt", ptrT(DirIn, sockopt)),
			}},
			{Name: "close", Args: []Field{
				fld("fd", resT(fd)),
			}},
			{Name: "dup", Args: []Field{
				fld("fd", resT(fd)),
				fld("hint", optResT(fd)),
			}, Ret: resT(fd)},
			{Name: "poll", Args: []Field{
				fld("fds", ptrT(DirIn, arrayRangeT(resT(fd), 1, 4))),
				fld("nfds", lenT("fds", 4)),
				fld("name", ptrT(DirIn, bufT(BufferString, "a", "bb"))),
			}},
			{Name: "sendto$udp", Args: []Field{
				fld("fd", resT(sockUDP)),
				fld("buf", ptrT(DirIn, bufT(BufferBlobRand))),
				fld("len", lenT("buf", 8)),
			}},
			{Name: "use_unreachable", Args: []Field{
				fld("r", resT(unreachable)),
			}},
		},
	}
}

func testTarget(t testing.TB) *Target {
	return mustTarget(t, testTargetDesc())
}

// openTargetDesc has a single producer and a single consumer of its resource.
func openTargetDesc() TargetDesc {
	fd := resDesc("fd")
	return TargetDesc{
		Name:      "open",
		Resources: []*ResourceDesc{fd},
		Syscalls: []*Syscall{
			{Name: "open_r", Args: []Field{
				fld("file", ptrT(DirIn, bufT(BufferFilename))),
			}, Ret: resT(fd)},
			{Name: "use", Args: []Field{
				fld("fd", resT(fd)),
			}},
		},
	}
}

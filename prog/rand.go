// Copyright 2015/2016 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

import (
	"bytes"
	"fmt"
	"maps"
	"math"
	"math/rand"
	"path/filepath"
	"slices"
	"strings"
)

type randGen struct {
	*rand.Rand
	target             *Target
	inGenerateResource bool
	recDepth           map[string]int
}

func newRand(target *Target, rs rand.Source) *randGen {
	return &randGen{
		Rand:     rand.New(rs),
		target:   target,
		recDepth: make(map[string]int),
	}
}

func (r *randGen) rand(n int) uint64 {
	return uint64(r.Intn(n))
}

// randRange returns a value in [begin, end].
func (r *randGen) randRange(begin, end uint64) uint64 {
	switch n := end - begin; {
	case n < math.MaxInt32:
		return begin + r.rand(int(n+1))
	case n == math.MaxUint64:
		return r.Uint64()
	default:
		return begin + r.Uint64()%(n+1)
	}
}

func (r *randGen) bin() bool {
	return r.Intn(2) == 0
}

func (r *randGen) oneOf(n int) bool {
	return r.Intn(n) == 0
}

// nOutOf returns true n out of outOf times.
func (r *randGen) nOutOf(n, outOf int) bool {
	if n <= 0 || n >= outOf {
		panic(fmt.Sprintf("bad probability %v/%v", n, outOf))
	}
	return r.Intn(outOf) < n
}

// prob returns true with probability p.
func (r *randGen) prob(p float64) bool {
	return r.Float64() < p
}

// choose returns an index into weights with probability proportional to the weight.
func (r *randGen) choose(weights ...int) int {
	total := 0
	for _, w := range weights {
		total += w
	}
	v := r.Intn(total)
	for i, w := range weights {
		if v < w {
			return i
		}
		v -= w
	}
	panic("unreachable")
}

func (r *randGen) rand64() uint64 {
	return uint64(r.Int63()) | uint64(r.Intn(2))<<63
}

// specialInts are potentially interesting integers in ascending order.
var specialInts = func() []uint64 {
	var vals []uint64
	for v := uint64(0); v <= 16; v++ {
		vals = append(vals, v)
	}
	vals = append(vals, 64, 127)
	for _, shift := range []uint{7, 8, 9, 10, 11, 12, 15, 16, 31, 32, 63} {
		v := uint64(1) << shift
		vals = append(vals, v-1, v, v+1)
	}
	vals = append(vals, math.MaxUint64)
	slices.Sort(vals)
	return slices.Compact(vals)
}()

// specialIntsFitting returns the prefix of specialInts that fit into the given number of bytes.
func specialIntsFitting(size uint64) []uint64 {
	n, _ := slices.BinarySearchFunc(specialInts, size, func(v, size uint64) int {
		if size < 8 && v>>(8*size) != 0 {
			return 1
		}
		return -1
	})
	return specialInts[:n]
}

// Magnitudes of random integers and the relative weights of choosing them.
var intMagnitudes = []struct {
	weight int
	mod    uint64
}{
	{100, 10},
	{50, 0}, // one of specialInts
	{10, 256},
	{10, 4 << 10},
	{10, 64 << 10},
	{2, 1 << 31},
}

func (r *randGen) randInt(bits uint64) uint64 {
	weights := make([]int, len(intMagnitudes))
	for i, m := range intMagnitudes {
		weights[i] = m.weight
		if m.mod == 0 && bits < 8 {
			weights[i] = 0
		}
	}
	v := r.rand64()
	if m := intMagnitudes[r.choose(weights...)]; m.mod != 0 {
		v %= m.mod
	} else {
		special := specialIntsFitting(bits / 8)
		v = special[r.Intn(len(special))]
	}
	switch r.choose(100, 5, 2) {
	case 1:
		v = -v
	case 2:
		v <<= uint(r.Intn(int(bits)))
	}
	return truncateToBitSize(v, bits)
}

func truncateToBitSize(v, bitSize uint64) uint64 {
	if bitSize == 0 || bitSize > 64 {
		panic(fmt.Sprintf("invalid bitSize value: %d", bitSize))
	}
	return v & (uint64(math.MaxUint64) >> (64 - bitSize))
}

func (r *randGen) randRangeInt(begin, end, bitSize, align uint64) uint64 {
	if r.oneOf(100) {
		return r.randInt(bitSize)
	}
	if align == 0 {
		if end-begin == math.MaxUint64 {
			return r.Uint64()
		}
		return begin + r.Uint64()%(end-begin+1)
	}
	if begin == 0 && end == math.MaxUint64 {
		// [0:-1] denotes the whole range of the type.
		end = truncateToBitSize(math.MaxUint64, bitSize)
	}
	return begin + r.randRangeInt(0, (end-begin)/align, bitSize, 0)*align
}

func inIntRange(t *IntType, v uint64) bool {
	return t.Kind != IntRange || v >= t.RangeBegin && v <= t.RangeEnd
}

// biasedRand returns a random int in range [0..n),
// probability of n-1 is k times higher than probability of 0.
func (r *randGen) biasedRand(n, k int) int {
	nf, kf := float64(n), float64(k)
	rf := nf * (kf/2 + 1) * r.Float64()
	return int((math.Sqrt(1+2*kf*rf/nf) - 1) * nf / kf)
}

const maxArrayLen = 10

// randArrayLen prefers short non-empty arrays, empty arrays are the least likely.
func (r *randGen) randArrayLen() uint64 {
	n := maxArrayLen - r.biasedRand(maxArrayLen+1, 10) + 1
	return uint64(n % (maxArrayLen + 1))
}

func (r *randGen) randBufLen() uint64 {
	switch r.choose(50, 5, 1) {
	case 0:
		return r.rand(256)
	case 1:
		return 4 << 10
	default:
		return 0
	}
}

// flags generates a flags value. Bitmasks get random combinations of the values,
// enumerations mostly get a single value.
func (r *randGen) flags(vals []uint64, bitmask bool) uint64 {
	switch {
	case r.oneOf(100):
		return r.rand64()
	case r.oneOf(50):
		return 0
	case len(vals) == 1:
		// Either the value or 0.
		if r.bin() {
			return 0
		}
		return vals[0]
	case !bitmask && !r.oneOf(10):
		return vals[r.Intn(len(vals))]
	case r.oneOf(len(vals) + 4):
		return 0
	}
	var v uint64
	for try := 0; try < 10 && (v == 0 || r.nOutOf(2, 3)); try++ {
		flag := vals[r.Intn(len(vals))]
		if r.oneOf(20) {
			// Neighbouring bits, descriptions may miss some flags.
			if r.bin() {
				flag >>= 1
			} else {
				flag <<= 1
			}
		}
		v ^= flag
	}
	return v
}

func (r *randGen) filename(ctx *genContext, typ *BufferType) string {
	fn := r.pickFilename(ctx)
	if escapingFilename(fn) {
		panic(fmt.Sprintf("sandbox escaping file name %q, files are %v", fn, ctx.files))
	}
	switch {
	case !typ.Varlen():
		buf := make([]byte, typ.Size())
		copy(buf, fn)
		return string(buf)
	case !typ.NoZ:
		return fn + "\x00"
	}
	return fn
}

func escapingFilename(file string) bool {
	file = filepath.Clean(file)
	return strings.HasPrefix(file, "/") || strings.HasPrefix(file, "..")
}

// pickFilename mostly reuses files created by earlier calls.
func (r *randGen) pickFilename(ctx *genContext) string {
	if len(ctx.files) != 0 && !r.oneOf(10) {
		files := slices.Sorted(maps.Keys(ctx.files))
		return files[r.Intn(len(files))]
	}
	for i := 0; ; i++ {
		if f := fmt.Sprintf("./file%v", i); !ctx.files[f] {
			return f
		}
	}
}

const punct = "!@#$%^&*()-+\\/:.,-'[]{}"

func (r *randGen) randString(t *BufferType) []byte {
	if len(t.Values) != 0 {
		return []byte(t.Values[r.Intn(len(t.Values))])
	}
	var buf []byte
	for r.nOutOf(3, 4) {
		c := byte(r.Intn(256))
		if !r.oneOf(11) {
			c = punct[r.Intn(len(punct))]
		}
		buf = append(buf, c)
	}
	if r.oneOf(100) == t.NoZ {
		buf = append(buf, 0)
	}
	return buf
}

func (r *randGen) pruneRecursion(name string) (bool, func()) {
	if r.recDepth[name] >= 2 {
		return false, nil
	}
	r.recDepth[name]++
	return true, func() {
		r.recDepth[name]--
		if r.recDepth[name] == 0 {
			delete(r.recDepth, name)
		}
	}
}

func (r *randGen) generateArgs(ctx *genContext, fields []Field, dir Dir) []Arg {
	args := make([]Arg, len(fields))
	// Size args have the default value 0 for now, they are assigned after the whole call is generated.
	for i := range fields {
		arg := r.generateArg(ctx, fields[i].Type, fields[i].Dir(dir))
		if arg == nil {
			panic(fmt.Sprintf("generated arg is nil for field '%v', fields: %+v", fields[i].Name, fields))
		}
		args[i] = arg
	}
	return args
}

func (r *randGen) generateArg(ctx *genContext, typ Type, dir Dir) Arg {
	if dir == DirOut {
		// No need to generate something interesting for output scalar arguments.
		// But we still need to generate the argument itself so that it can be referenced
		// in subsequent calls.
		switch typ.(type) {
		case *IntType, *FlagsType, *ConstType, *LenType, *ResourceType:
			return typ.DefaultArg(dir)
		}
	}
	// Producers must not lose the resource slot we are creating them for.
	if typ.Optional() && !r.inGenerateResource && r.oneOf(5) {
		if res, ok := typ.(*ResourceType); ok {
			v := res.Desc.Values[r.Intn(len(res.Desc.Values))]
			return MakeResultArg(typ, dir, nil, v)
		}
		return typ.DefaultArg(dir)
	}
	return typ.generate(r, ctx, dir)
}

func (a *ResourceType) generate(r *randGen, ctx *genContext, dir Dir) Arg {
	if r.nOutOf(19, 20) {
		if arg := r.existingResource(ctx, a, dir); arg != nil {
			return arg
		}
	}
	special := a.SpecialValues()
	return MakeResultArg(a, dir, nil, special[r.Intn(len(special))])
}

// existingResource chooses a value of a compatible resource produced by an earlier call.
// Candidates are ordered by the equivalence class and then by production order.
func (r *randGen) existingResource(ctx *genContext, res *ResourceType, dir Dir) Arg {
	var allres []*ResultArg
	for _, id := range r.target.eqClasses[res.Desc.ID] {
		allres = append(allres, ctx.resources[r.target.Resources[id]]...)
	}
	if len(allres) == 0 {
		return nil
	}
	return MakeResultArg(res, dir, allres[r.Intn(len(allres))], 0)
}

func (a *BufferType) generate(r *randGen, ctx *genContext, dir Dir) Arg {
	if dir == DirOut {
		var sz uint64
		switch {
		case !a.Varlen():
			sz = a.Size()
		case a.Kind == BufferBlobRange:
			sz = r.randRange(a.RangeBegin, a.RangeEnd)
		case a.Kind == BufferFilename:
			sz = r.rand(100)
		default:
			sz = r.randBufLen()
		}
		return MakeOutDataArg(a, dir, sz)
	}
	if cached := ctx.buffers[a]; len(cached) != 0 && r.bin() {
		return MakeDataArg(a, dir, cached[r.Intn(len(cached))])
	}
	if vals := ctx.pool.Buffers(a); len(vals) != 0 && r.oneOf(3) {
		if data := vals[r.Intn(len(vals))]; a.fits(data) {
			return MakeDataArg(a, dir, data)
		}
	}
	switch a.Kind {
	case BufferBlobRand, BufferBlobRange:
		sz := r.randBufLen()
		if a.Kind == BufferBlobRange {
			sz = r.randRange(a.RangeBegin, a.RangeEnd)
		}
		data := make([]byte, sz)
		for i := range data {
			data[i] = byte(r.Intn(256))
		}
		return MakeDataArg(a, dir, data)
	case BufferString:
		return MakeDataArg(a, dir, r.randString(a))
	case BufferFilename:
		return MakeDataArg(a, dir, []byte(r.filename(ctx, a)))
	default:
		panic("unknown buffer kind")
	}
}

// fits reports whether externally provided data satisfies static constraints of the buffer.
func (a *BufferType) fits(data []byte) bool {
	switch {
	case !a.Varlen():
		return uint64(len(data)) == a.Size()
	case a.Kind == BufferBlobRange:
		return uint64(len(data)) >= a.RangeBegin && uint64(len(data)) <= a.RangeEnd
	case a.Kind == BufferString && len(a.Values) != 0:
		for _, v := range a.Values {
			if v == string(data) {
				return true
			}
		}
		return false
	case a.Kind == BufferFilename:
		return !escapingFilename(string(bytes.TrimRight(data, "\x00")))
	}
	return true
}

func (a *FlagsType) generate(r *randGen, ctx *genContext, dir Dir) Arg {
	if vals := ctx.pool.Ints(a); len(vals) != 0 && r.oneOf(3) {
		return MakeConstArg(a, dir, truncateToBitSize(vals[r.Intn(len(vals))], a.TypeBitSize()))
	}
	return MakeConstArg(a, dir, r.flags(a.Vals, a.BitMask))
}

func (a *ConstType) generate(r *randGen, ctx *genContext, dir Dir) Arg {
	return MakeConstArg(a, dir, a.Val)
}

func (a *IntType) generate(r *randGen, ctx *genContext, dir Dir) Arg {
	bits := a.TypeBitSize()
	if vals := ctx.pool.Ints(a); len(vals) != 0 && r.oneOf(3) {
		if v := truncateToBitSize(vals[r.Intn(len(vals))], bits); inIntRange(a, v) {
			return MakeConstArg(a, dir, v)
		}
	}
	v := r.randInt(bits)
	if a.Kind == IntRange {
		v = r.randRangeInt(a.RangeBegin, a.RangeEnd, bits, a.Align)
	}
	return MakeConstArg(a, dir, v)
}

func (a *ArrayType) generate(r *randGen, ctx *genContext, dir Dir) Arg {
	// Allow infinite recursion for arrays.
	switch a.Elem.(type) {
	case *StructType, *ArrayType:
		ok, release := r.pruneRecursion(a.Elem.Name())
		if !ok {
			return MakeGroupArg(a, dir, nil)
		}
		defer release()
	}
	var count uint64
	switch a.Kind {
	case ArrayRandLen:
		count = r.randArrayLen()
	case ArrayRangeLen:
		count = r.randRange(a.RangeBegin, a.RangeEnd)
	}
	// The resource we are trying to generate may be in the array elements, so create at least 1.
	if r.inGenerateResource && count == 0 && (a.Kind == ArrayRandLen || a.RangeEnd != 0) {
		count = 1
	}
	var inner []Arg
	for i := uint64(0); i < count; i++ {
		inner = append(inner, r.generateArg(ctx, a.Elem, dir))
	}
	return MakeGroupArg(a, dir, inner)
}

func (a *StructType) generate(r *randGen, ctx *genContext, dir Dir) Arg {
	return MakeGroupArg(a, dir, r.generateArgs(ctx, a.Fields, dir))
}

func (a *PtrType) generate(r *randGen, ctx *genContext, dir Dir) Arg {
	// Recursive structs can only be reached through pointers, cut them after a few levels.
	if _, ok := a.Elem.(*StructType); ok {
		ok, release := r.pruneRecursion(a.Elem.Name())
		if !ok {
			return MakeSpecialPointerArg(a, dir, 0)
		}
		defer release()
	}
	// The resource we are trying to generate may be in the pointer,
	// so don't try to create an empty special pointer during resource generation.
	if !r.inGenerateResource && r.oneOf(1000) {
		index := r.rand(len(r.target.SpecialPointers))
		return MakeSpecialPointerArg(a, dir, index)
	}
	inner := r.generateArg(ctx, a.Elem, a.ElemDir)
	if inner.Size() > r.target.DataSize() {
		// Nested arrays of large buffers may not fit even if every single range does.
		return MakeSpecialPointerArg(a, dir, 0)
	}
	return MakePointerArg(a, dir, ctx.ma.alloc(inner.Size(), inner.Type().Alignment()), inner)
}

func (a *LenType) generate(r *randGen, ctx *genContext, dir Dir) Arg {
	// Updated later in assignSizesCall.
	return MakeConstArg(a, dir, 0)
}

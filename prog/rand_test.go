// Copyright 2018 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotEscaping(t *testing.T) {
	t.Parallel()
	r := newRand(nil, rand.NewSource(0))
	ctx := &genContext{
		files: map[string]bool{"./file0": true},
	}
	bound := 1000000
	if testing.Short() {
		bound = 1000
	}
	for i := 0; i < bound; i++ {
		fn := r.pickFilename(ctx)
		if escapingFilename(fn) {
			t.Errorf("sandbox escaping file name %q", fn)
		}
	}
}

func TestFilenameReuse(t *testing.T) {
	t.Parallel()
	target := testTarget(t)
	r := newRand(target, rand.NewSource(0))
	ctx := newGenContext(target, nil)
	typ := bufT(BufferFilename)
	assert.Equal(t, "./file0\x00", r.filename(ctx, typ))
	ctx.files["./file0"] = true
	seen := make(map[string]int)
	for i := 0; i < 1000; i++ {
		seen[r.filename(ctx, typ)]++
	}
	assert.Greater(t, seen["./file0\x00"], seen["./file1\x00"])
	assert.NotZero(t, seen["./file1\x00"])
	assert.Len(t, seen, 2)
}

func TestSizeGenerateConstArg(t *testing.T) {
	target, rs, iters := initTest(t)
	r := newRand(target, rs)
	ctx := newGenContext(target, nil)
	for _, typ := range []*IntType{intT("int8", 1), intT("int16", 2), intT("int32", 4), rangeT("int32", 4, 10, 20)} {
		bits := typ.TypeBitSize()
		limit := uint64(1<<bits - 1)
		for i := 0; i < iters; i++ {
			newVal := typ.generate(r, ctx, DirIn).(*ConstArg).Val
			if newVal > limit {
				t.Fatalf("invalid generated value: %d. (arg bitsize: %d; max value: %d)", newVal, bits, limit)
			}
		}
	}
}

func TestFlags(t *testing.T) {
	t.Parallel()
	r := newRand(nil, rand.NewSource(0))
	vals := []uint64{1, 2, 4, 8}
	counts := make(map[uint64]int)
	const samples = 10000
	for i := 0; i < samples; i++ {
		counts[r.flags(vals, false)]++
	}
	// Enumerations mostly produce one of the values.
	known := 0
	for _, v := range vals {
		known += counts[v]
	}
	assert.Greater(t, known, samples*8/10)

	combined := 0
	for i := 0; i < samples; i++ {
		v := r.flags(vals, true)
		if v != 0 && v&(v-1) != 0 {
			combined++
		}
	}
	// Bitmasks frequently combine several values.
	assert.Greater(t, combined, samples/10)
}

func TestRandArrayLen(t *testing.T) {
	t.Parallel()
	r := newRand(nil, rand.NewSource(0))
	counts := make([]int, maxArrayLen+1)
	for i := 0; i < 10000; i++ {
		n := r.randArrayLen()
		if n > maxArrayLen {
			t.Fatalf("array len %v is too large", n)
		}
		counts[n]++
	}
	// Short arrays are more likely than long ones.
	assert.Greater(t, counts[1], counts[maxArrayLen])
}

func TestProducerArraysAreNotEmpty(t *testing.T) {
	t.Parallel()
	target := testTarget(t)
	r := newRand(target, rand.NewSource(0))
	ctx := newGenContext(target, nil)
	typ := arrayT(resT(target.ResourceMap["fd"]))
	r.inGenerateResource = true
	for i := 0; i < 1000; i++ {
		arg := typ.generate(r, ctx, DirOut).(*GroupArg)
		assert.NotEmpty(t, arg.Inner)
	}
}

func TestProducerArraysRespectRange(t *testing.T) {
	t.Parallel()
	target := testTarget(t)
	r := newRand(target, rand.NewSource(0))
	ctx := newGenContext(target, nil)
	typ := arrayRangeT(resT(target.ResourceMap["fd"]), 0, 0)
	r.inGenerateResource = true
	for i := 0; i < 100; i++ {
		arg := typ.generate(r, ctx, DirOut).(*GroupArg)
		assert.Empty(t, arg.Inner)
	}
}

func TestRandRange(t *testing.T) {
	t.Parallel()
	r := newRand(nil, rand.NewSource(0))
	for i := 0; i < 1000; i++ {
		v := r.randRange(10, 20)
		assert.True(t, v >= 10 && v <= 20, "got %v", v)
		v = r.randRange(1<<40, 1<<41)
		assert.True(t, v >= 1<<40 && v <= 1<<41, "got %v", v)
		r.randRange(0, ^uint64(0))
		v = r.randRange(1, ^uint64(0))
		assert.NotZero(t, v)
	}
	assert.Equal(t, uint64(7), r.randRange(7, 7))
}

func TestOversizedPointee(t *testing.T) {
	t.Parallel()
	// Each blob fits into the 64KB data area, but a few of them together do not.
	target := mustTarget(t, TargetDesc{
		Name:     "small",
		NumPages: 16,
		Syscalls: []*Syscall{
			{Name: "write", Args: []Field{
				fld("bufs", ptrT(DirIn, arrayT(arrayT(blobRangeT(0, 60000))))),
			}},
		},
	})
	rs := rand.NewSource(0)
	special := 0
	for i := 0; i < 50; i++ {
		p, err := target.Generate(rs, nil)
		require.NoError(t, err)
		require.NoError(t, p.Validate())
		for _, c := range p.Calls {
			if c.Args[0].(*PointerArg).IsSpecial() {
				special++
			}
		}
	}
	assert.NotZero(t, special)
}

func TestSpecialInts(t *testing.T) {
	t.Parallel()
	assert.True(t, slices.IsSorted(specialInts))
	for size := uint64(1); size <= 8; size++ {
		fitting := specialIntsFitting(size)
		assert.NotEmpty(t, fitting)
		for _, v := range fitting {
			assert.Equal(t, v, truncateToBitSize(v, size*8), "size %v", size)
		}
		if size < 8 {
			assert.NotEqual(t, len(specialInts), len(fitting), "size %v", size)
		}
	}
	assert.Len(t, specialIntsFitting(8), len(specialInts))
}

func TestChoose(t *testing.T) {
	t.Parallel()
	r := newRand(nil, rand.NewSource(0))
	counts := make([]int, 3)
	for i := 0; i < 10000; i++ {
		counts[r.choose(9, 0, 1)]++
	}
	assert.Zero(t, counts[1])
	assert.Greater(t, counts[0], 8*counts[2])
	assert.NotZero(t, counts[2])
}

// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	target, rs, iters := initTest(t)
	r := rand.New(rs)
	for i := 0; i < iters; i++ {
		p, err := target.Generate(rand.NewSource(r.Int63()), nil)
		require.NoError(t, err)
		if len(p.Calls) < MinCalls || len(p.Calls) > MaxCalls {
			t.Fatalf("program has %v calls, want [%v:%v]\n%s", len(p.Calls), MinCalls, MaxCalls, p.Serialize())
		}
		if err := p.Validate(); err != nil {
			t.Fatalf("invalid program: %v\n%s", err, p.Serialize())
		}
		for _, c := range p.Calls {
			if _, disabled := target.DisabledCalls[c.Meta]; disabled {
				t.Fatalf("generated disabled call %v", c.Meta.Name)
			}
		}
	}
}

func TestGenerateFirstCallProducesResource(t *testing.T) {
	target, rs, iters := initTest(t)
	r := rand.New(rs)
	for i := 0; i < iters; i++ {
		p, trace, err := target.GenerateTrace(rand.NewSource(r.Int63()), nil)
		require.NoError(t, err)
		require.Len(t, trace, len(p.Calls))
		if trace[0].Selection == SelectRandom {
			t.Fatalf("first call %v is not selected as a resource producer", p.Calls[0].Meta.Name)
		}
		produced := false
		for _, out := range p.Calls[0].Meta.OutputResources() {
			if target.inEqClass(trace[0].Resource, out.Desc) {
				produced = true
			}
		}
		if !produced {
			t.Fatalf("first call %v does not produce anything compatible with %v",
				p.Calls[0].Meta.Name, trace[0].Resource.Name)
		}
	}
}

func TestGenerateConsumedResources(t *testing.T) {
	target, rs, iters := initTest(t)
	r := rand.New(rs)
	for i := 0; i < iters; i++ {
		p, err := target.Generate(rand.NewSource(r.Int63()), nil)
		require.NoError(t, err)
		producer := make(map[*ResultArg]int)
		for ci, c := range p.Calls {
			ForeachArg(c, func(arg Arg, _ *ArgCtx) {
				a, ok := arg.(*ResultArg)
				if !ok || a.Res == nil {
					return
				}
				idx, ok := producer[a.Res]
				if !ok || idx >= ci {
					t.Fatalf("call #%v %v uses a resource not produced by an earlier call\n%s",
						ci, c.Meta.Name, p.Serialize())
				}
				if !target.inEqClass(a.Desc(), a.Res.Desc()) {
					t.Fatalf("call #%v %v uses %v as %v\n%s",
						ci, c.Meta.Name, a.Res.Desc().Name, a.Desc().Name, p.Serialize())
				}
			})
			ForeachArg(c, func(arg Arg, _ *ArgCtx) {
				if a, ok := arg.(*ResultArg); ok && a.Produced() {
					producer[a] = ci
				}
			})
		}
	}
}

func TestGenerateDeterminism(t *testing.T) {
	target, rs, iters := initTest(t)
	r := rand.New(rs)
	for i := 0; i < iters/10; i++ {
		seed := r.Int63()
		p0, err := target.Generate(rand.NewSource(seed), nil)
		require.NoError(t, err)
		p1, err := target.Generate(rand.NewSource(seed), nil)
		require.NoError(t, err)
		data0, data1 := p0.Serialize(), p1.Serialize()
		if !bytes.Equal(data0, data1) {
			dmp := diffmatchpatch.New()
			diffs := dmp.DiffMain(string(data0), string(data1), false)
			t.Fatalf("seed %v produced different programs:\n%v", seed, dmp.DiffPrettyText(diffs))
		}
		exec0, err := p0.SerializeForExec()
		require.NoError(t, err)
		exec1, err := p1.SerializeForExec()
		require.NoError(t, err)
		assert.Equal(t, exec0, exec1)
	}
}

func TestGenerateSingleProducer(t *testing.T) {
	t.Parallel()
	target := mustTarget(t, openTargetDesc())
	openR := target.SyscallMap["open_r"]
	r := rand.New(rand.NewSource(0))
	for i := 0; i < 1000; i++ {
		p, err := target.Generate(rand.NewSource(r.Int63()), nil)
		require.NoError(t, err)
		require.Equal(t, openR, p.Calls[0].Meta, "program must start with open_r:\n%s", p.Serialize())
		for ci, c := range p.Calls {
			if c.Meta == openR {
				continue
			}
			fd := c.Args[0].(*ResultArg)
			if fd.Res == nil {
				assert.Equal(t, ^uint64(0), fd.Val)
				continue
			}
			found := false
			for _, prev := range p.Calls[:ci] {
				if prev.Ret == fd.Res {
					require.Equal(t, openR, prev.Meta)
					found = true
				}
			}
			require.True(t, found, "call #%v references unknown value:\n%s", ci, p.Serialize())
		}
	}
}

func TestGenerateNoSyscalls(t *testing.T) {
	t.Parallel()
	target := mustTarget(t, TargetDesc{Name: "empty"})
	_, err := target.Generate(rand.NewSource(0), nil)
	assert.ErrorIs(t, err, ErrNoSyscalls)

	unreachable := resDesc("unreachable")
	target = mustTarget(t, TargetDesc{
		Name:      "disabled",
		Resources: []*ResourceDesc{unreachable},
		Syscalls: []*Syscall{
			{Name: "use", Args: []Field{fld("r", resT(unreachable))}},
		},
	})
	assert.Len(t, target.DisabledCalls, 1)
	_, err = target.Generate(rand.NewSource(0), nil)
	assert.ErrorIs(t, err, ErrNoSyscalls)
}

func TestGenerateWithoutResources(t *testing.T) {
	t.Parallel()
	target := mustTarget(t, TargetDesc{
		Name: "plain",
		Syscalls: []*Syscall{
			{Name: "getpid"},
			{Name: "nanosleep", Args: []Field{fld("ns", intT("int64", 8))}},
		},
	})
	assert.Empty(t, target.GenResources())
	r := rand.New(rand.NewSource(0))
	for i := 0; i < 100; i++ {
		p, trace, err := target.GenerateTrace(rand.NewSource(r.Int63()), nil)
		require.NoError(t, err)
		for _, tr := range trace {
			assert.Equal(t, SelectRandom, tr.Selection)
		}
		assert.GreaterOrEqual(t, len(p.Calls), MinCalls)
	}
}

type testPool struct {
	ints    map[string][]uint64
	buffers map[string][][]byte
}

func (pool *testPool) Ints(typ Type) []uint64 {
	return pool.ints[typ.Name()]
}

func (pool *testPool) Buffers(typ Type) [][]byte {
	return pool.buffers[typ.Name()]
}

func TestGenerateUsesPool(t *testing.T) {
	target, rs, _ := initTest(t)
	pool := &testPool{
		ints:    map[string][]uint64{"open_flags": {0xdead}},
		buffers: map[string][][]byte{"filename": {[]byte("./pooled\x00")}},
	}
	r := rand.New(rs)
	var flags, files int
	for i := 0; i < 1000; i++ {
		p, err := target.Generate(rand.NewSource(r.Int63()), pool)
		require.NoError(t, err)
		for _, c := range p.Calls {
			if c.Meta.Name != "open" {
				continue
			}
			if c.Args[1].(*ConstArg).Val == 0xdead {
				flags++
			}
			if ptr := c.Args[0].(*PointerArg); !ptr.IsSpecial() &&
				string(ptr.Res.(*DataArg).Data()) == "./pooled\x00" {
				files++
			}
		}
	}
	assert.NotZero(t, flags)
	assert.NotZero(t, files)
}

func TestShouldStop(t *testing.T) {
	t.Parallel()
	r := newRand(testTarget(t), rand.NewSource(0))
	const samples = 20000
	for n := 0; n <= MaxCalls+1; n++ {
		stops := 0
		for i := 0; i < samples; i++ {
			if r.shouldStop(n) {
				stops++
			}
		}
		got := float64(stops) / samples
		switch {
		case n < MinCalls:
			assert.Zero(t, stops, "n=%v", n)
		case n >= MaxCalls:
			assert.Equal(t, samples, stops, "n=%v", n)
		default:
			assert.InDelta(t, 0.8*float64(n)/16, got, 0.02, "n=%v", n)
		}
	}
}

func TestShouldTryGenRes(t *testing.T) {
	t.Parallel()
	target := testTarget(t)
	r := newRand(target, rand.NewSource(0))
	want := []float64{
		1,
		0.8 * (1 - 1.0/6),
		0.4 * (1 - 2.0/6),
		0.4 * (1 - 3.0/6),
		0.4 * (1 - 4.0/6),
		0.4 * (1 - 5.0/6),
		0.2 * (6.0 / 12),
		0.2 * (6.0 / 14),
	}
	const samples = 20000
	for n, p := range want {
		ctx := newGenContext(target, nil)
		for i := 0; i < n; i++ {
			ctx.resources[&ResourceDesc{Name: fmt.Sprint(i)}] = []*ResultArg{new(ResultArg)}
		}
		hits := 0
		for i := 0; i < samples; i++ {
			if r.shouldTryGenRes(ctx) {
				hits++
			}
		}
		assert.InDelta(t, p, float64(hits)/samples, 0.02, "n=%v", n)
	}
}

func TestSelectResProducer(t *testing.T) {
	t.Parallel()
	target := testTarget(t)
	r := newRand(target, rand.NewSource(0))
	sock := target.ResourceMap["sock"]
	const samples = 20000
	accurate := 0
	for i := 0; i < samples; i++ {
		meta, sel := r.selectResProducer(sock)
		switch sel {
		case SelectAccurateCtor:
			accurate++
			assert.Contains(t, target.ResourceCtors(sock), meta)
		case SelectClassCtor:
			assert.Contains(t, target.ClassCtors(sock), meta)
		default:
			t.Fatalf("unexpected selection %v", sel)
		}
	}
	assert.InDelta(t, accurateCtorProb, float64(accurate)/samples, 0.02)

	// No exact constructors: the whole class is used.
	udp := target.ResourceMap["sock_udp"]
	require.Empty(t, target.ResourceCtors(udp))
	for i := 0; i < 100; i++ {
		meta, sel := r.selectResProducer(udp)
		assert.Equal(t, SelectClassCtor, sel)
		assert.Contains(t, target.ClassCtors(udp), meta)
	}

	assert.Panics(t, func() { r.selectResProducer(target.ResourceMap["unreachable"]) })
}

func TestGenerateSelectionShare(t *testing.T) {
	t.Parallel()
	target := testTarget(t)
	r := rand.New(rand.NewSource(0))
	counts := make(map[Selection]int)
	for i := 0; i < 2000; i++ {
		_, trace, err := target.GenerateTrace(rand.NewSource(r.Int63()), nil)
		require.NoError(t, err)
		for _, tr := range trace {
			counts[tr.Selection]++
			if tr.Selection == SelectRandom {
				assert.Nil(t, tr.Resource)
			} else {
				assert.NotNil(t, tr.Resource)
			}
		}
	}
	assert.NotZero(t, counts[SelectRandom])
	assert.NotZero(t, counts[SelectAccurateCtor])
	assert.NotZero(t, counts[SelectClassCtor])
}

func BenchmarkGenerate(b *testing.B) {
	target := testTarget(b)
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		rs := rand.NewSource(0)
		for pb.Next() {
			if _, err := target.Generate(rs, nil); err != nil {
				b.Fatal(err)
			}
		}
	})
}

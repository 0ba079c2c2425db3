// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package generator

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/resfuzz/resgen/pkg/compiler"
	"github.com/resfuzz/resgen/pkg/corpus"
	"github.com/resfuzz/resgen/prog"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTarget(t *testing.T) *prog.Target {
	target, err := compiler.CompileFile(filepath.Join("..", "compiler", "testdata", "test.yaml"))
	require.NoError(t, err)
	return target
}

// collect runs a session and returns serialized programs.
func collect(t *testing.T, g *Generator, count int) []string {
	var progs []string
	err := g.Run(context.Background(), count, func(p *prog.Prog) error {
		progs = append(progs, string(p.Serialize()))
		return nil
	})
	require.NoError(t, err)
	return progs
}

func TestRun(t *testing.T) {
	t.Parallel()
	target := testTarget(t)
	pool := corpus.NewPool()
	pool.AddInt("open_flags", 0x42)
	g := New(target, pool, Config{Procs: 3, Seed: 1, Debug: true})
	calls := 0
	err := g.Run(context.Background(), 100, func(p *prog.Prog) error {
		assert.GreaterOrEqual(t, len(p.Calls), prog.MinCalls)
		assert.LessOrEqual(t, len(p.Calls), prog.MaxCalls)
		calls += len(p.Calls)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 100, g.Generated())
	assert.Equal(t, calls, g.statCalls.Val())
	assert.Equal(t, 0, g.statErrors.Val())
	assert.NotZero(t, g.statResourceCalls.Val())
	assert.LessOrEqual(t, g.statResourceCalls.Val(), calls)
	mean := g.statProgLen.Val()
	assert.True(t, mean >= prog.MinCalls && mean <= prog.MaxCalls, "mean program length %v", mean)
	assert.Contains(t, g.Stats.String(), "programs: 100")
	assert.NotEmpty(t, g.Session)
}

func TestDeterminism(t *testing.T) {
	t.Parallel()
	target := testTarget(t)
	for _, procs := range []int{1, 4} {
		progs1 := collect(t, New(target, nil, Config{Procs: procs, Seed: 42}), 50)
		progs2 := collect(t, New(target, nil, Config{Procs: procs, Seed: 42}), 50)
		// Workers are deterministic, but their interleaving is not.
		sort.Strings(progs1)
		sort.Strings(progs2)
		text1, text2 := strings.Join(progs1, "\n"), strings.Join(progs2, "\n")
		if text1 != text2 {
			dmp := diffmatchpatch.New()
			t.Fatalf("procs=%v: sessions with the same seed differ:\n%s",
				procs, dmp.DiffPrettyText(dmp.DiffMain(text1, text2, false)))
		}
	}
	progs3 := collect(t, New(target, nil, Config{Seed: 43}), 50)
	progs1 := collect(t, New(target, nil, Config{Seed: 42}), 50)
	assert.NotEqual(t, progs1, progs3)
}

func TestSinkError(t *testing.T) {
	t.Parallel()
	target := testTarget(t)
	g := New(target, nil, Config{Procs: 2})
	errSink := errors.New("sink is full")
	received := 0
	err := g.Run(context.Background(), 1000, func(p *prog.Prog) error {
		received++
		if received == 5 {
			return errSink
		}
		return nil
	})
	assert.ErrorIs(t, err, errSink)
	assert.Less(t, received, 1000)
}

func TestCancel(t *testing.T) {
	t.Parallel()
	target := testTarget(t)
	g := New(target, nil, Config{Procs: 2})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	received := 0
	err := g.Run(ctx, 0, func(p *prog.Prog) error {
		received++
		if received == 10 {
			cancel()
		}
		return nil
	})
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, received, 10)
	// At most one more program per worker after the cancellation.
	assert.LessOrEqual(t, received, 12)
}

func TestNoSyscalls(t *testing.T) {
	t.Parallel()
	desc, err := compiler.Parse([]byte("{name: empty}"))
	require.NoError(t, err)
	target, err := compiler.Compile(desc)
	require.NoError(t, err)
	g := New(target, nil, Config{})
	err = g.Run(context.Background(), 10, func(p *prog.Prog) error {
		t.Fatalf("unexpected program")
		return nil
	})
	assert.ErrorIs(t, err, prog.ErrNoSyscalls)
	assert.Equal(t, 1, g.statErrors.Val())
}

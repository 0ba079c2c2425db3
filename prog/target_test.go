// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callNames(calls []*Syscall) []string {
	var names []string
	for _, c := range calls {
		names = append(names, c.Name)
	}
	return names
}

func resNames(resources []*ResourceDesc) []string {
	var names []string
	for _, res := range resources {
		names = append(names, res.Name)
	}
	return names
}

func TestTargetResources(t *testing.T) {
	t.Parallel()
	target := testTarget(t)
	res := target.ResourceMap

	ctors := map[string][]string{
		"fd":          {"open", "dup"},
		"sock":        {"socket", "accept"},
		"sock_tcp":    {"socket$tcp"},
		"pipefd":      {"pipe"},
		"sock_udp":    nil,
		"unreachable": nil,
	}
	for name, want := range ctors {
		if diff := cmp.Diff(want, callNames(target.ResourceCtors(res[name]))); diff != "" {
			t.Errorf("%v ctors mismatch (-want +got):\n%s", name, diff)
		}
	}

	classes := map[string][]string{
		"fd":          {"fd", "sock", "sock_tcp", "pipefd"},
		"sock":        {"fd", "sock", "sock_tcp"},
		"sock_tcp":    {"fd", "sock", "sock_tcp"},
		"pipefd":      {"fd", "pipefd"},
		"sock_udp":    {"fd", "sock"},
		"unreachable": nil,
	}
	for name, want := range classes {
		if diff := cmp.Diff(want, resNames(target.EqClass(res[name]))); diff != "" {
			t.Errorf("%v class mismatch (-want +got):\n%s", name, diff)
		}
	}

	assert.Equal(t, []string{"open", "dup", "socket", "accept"}, callNames(target.ClassCtors(res["sock_udp"])))
	assert.Equal(t, []string{"fd", "sock", "sock_tcp", "pipefd", "sock_udp"}, resNames(target.GenResources()))

	require.Len(t, target.DisabledCalls, 2)
	assert.Contains(t, target.DisabledCalls[target.SyscallMap["sendto$udp"]], "sock_udp")
	assert.Contains(t, target.DisabledCalls[target.SyscallMap["use_unreachable"]], "unreachable")
	assert.Len(t, target.EnabledSyscalls(), len(target.Syscalls)-2)
	assert.Equal(t, "socket", target.SyscallMap["socket$tcp"].CallName)
	assert.NotEmpty(t, target.Revision)
}

func TestTransitivelyDisabledCalls(t *testing.T) {
	t.Parallel()
	a := resDesc("a")
	b := resDesc("b")
	c := resDesc("c")
	target := mustTarget(t, TargetDesc{
		Name:      "chain",
		Resources: []*ResourceDesc{a, b, c},
		Syscalls: []*Syscall{
			// a has no constructors, so b and c can't be created either.
			{Name: "make_b", Args: []Field{fld("a", resT(a))}, Ret: resT(b)},
			{Name: "make_c", Args: []Field{fld("b", resT(b))}, Ret: resT(c)},
			{Name: "use_c", Args: []Field{fld("c", resT(c))}},
			{Name: "maybe_a", Args: []Field{fld("a", optResT(a))}},
		},
	})
	assert.Equal(t, []string{"maybe_a"}, callNames(target.EnabledSyscalls()))
	assert.Len(t, target.DisabledCalls, 3)
	assert.Empty(t, target.GenResources())
}

func TestSelfConstructedResource(t *testing.T) {
	t.Parallel()
	r := resDesc("r")
	target := mustTarget(t, TargetDesc{
		Name:      "self",
		Resources: []*ResourceDesc{r},
		Syscalls: []*Syscall{
			// dup_r can only create r from an existing r.
			{Name: "dup_r", Args: []Field{fld("r", resT(r))}, Ret: resT(r)},
			{Name: "noop"},
		},
	})
	assert.Equal(t, []string{"noop"}, callNames(target.EnabledSyscalls()))
	require.Len(t, target.DisabledCalls, 1)
	assert.Contains(t, target.DisabledCalls[target.SyscallMap["dup_r"]], "resource r")
	assert.Empty(t, target.ResourceCtors(r))
	assert.Empty(t, target.GenResources())

	// Once something can create r from scratch, dup_r becomes usable too.
	r = resDesc("r")
	target = mustTarget(t, TargetDesc{
		Name:      "self",
		Resources: []*ResourceDesc{r},
		Syscalls: []*Syscall{
			{Name: "dup_r", Args: []Field{fld("r", resT(r))}, Ret: resT(r)},
			{Name: "open_r", Ret: resT(r)},
		},
	})
	assert.Empty(t, target.DisabledCalls)
	assert.Equal(t, []string{"dup_r", "open_r"}, callNames(target.ResourceCtors(r)))
}

func TestTargetDataArea(t *testing.T) {
	t.Parallel()
	// Larger pages mean fewer of them by default.
	desc := openTargetDesc()
	desc.PageSize = 64 << 10
	target := mustTarget(t, desc)
	assert.Equal(t, uint64(256), target.NumPages)
	assert.Equal(t, uint64(memAllocMaxMem), target.DataSize())
	p, err := target.Generate(rand.NewSource(0), nil)
	require.NoError(t, err)
	require.NoError(t, p.Validate())

	for _, test := range []struct{ pageSize, numPages uint64 }{
		{64 << 10, 4 << 10},
		{1 << 30, 0},
		{3, 5},
		{1 << 40, 1 << 40},
	} {
		desc := openTargetDesc()
		desc.PageSize, desc.NumPages = test.pageSize, test.numPages
		_, err := NewTarget(desc)
		assert.ErrorContains(t, err, "bad data area", "page size %v, pages %v", test.pageSize, test.numPages)
	}
}

func TestTargetRangeLimits(t *testing.T) {
	t.Parallel()
	for name, typ := range map[string]Type{
		"blob":        blobRangeT(0, 64<<20),
		"fixed blob":  blobRangeT(32<<20, 32<<20),
		"array":       arrayRangeT(intT("int8", 1), 0, 32<<20),
		"int64 array": arrayRangeT(intT("int64", 8), 1, 4<<20),
	} {
		_, err := NewTarget(TargetDesc{
			Name:     "big",
			Syscalls: []*Syscall{{Name: "write", Args: []Field{fld("buf", ptrT(DirIn, typ))}}},
		})
		assert.ErrorContains(t, err, "does not fit into data area", name)
	}
	mustTarget(t, TargetDesc{
		Name: "fits",
		Syscalls: []*Syscall{{Name: "write", Args: []Field{
			fld("buf", ptrT(DirIn, blobRangeT(0, 1<<20))),
			fld("vals", ptrT(DirIn, arrayRangeT(intT("int64", 8), 0, 1<<10))),
		}}},
	})
}

func TestTargetErrors(t *testing.T) {
	t.Parallel()
	fd := resDesc("fd")
	foreign := resDesc("foreign")
	bad := &ResourceDesc{Name: "bad", Kind: []string{"other"}}
	_, err := NewTarget(TargetDesc{
		Name:      "broken",
		Resources: []*ResourceDesc{fd, fd, bad},
		Syscalls: []*Syscall{
			{Name: "a", Args: []Field{fld("r", resT(foreign))}},
			{Name: "a"},
			{Name: "b", Args: []Field{fld("len", lenT("missing", 4))}},
			{Name: "c", Ret: intT("int32", 4)},
			{Name: "d", Args: []Field{fld("f", flagsT("empty", 4, false))}},
		},
	})
	require.Error(t, err)
	merr, ok := err.(*multierror.Error)
	require.True(t, ok, "want multierror, got %T", err)
	// duplicate resource, bad kind, no values, unknown resource, duplicate syscall,
	// bad len, bad return, empty flags
	assert.Len(t, merr.Errors, 8)
}

func TestIsCompatibleResource(t *testing.T) {
	t.Parallel()
	tests := []struct {
		dst, src []string
		precise  bool
		ok       bool
	}{
		{[]string{"fd"}, []string{"fd"}, false, true},
		{[]string{"fd"}, []string{"fd", "sock"}, false, true},
		{[]string{"fd"}, []string{"fd", "sock"}, true, true},
		{[]string{"fd", "sock"}, []string{"fd"}, false, true},
		{[]string{"fd", "sock"}, []string{"fd"}, true, false},
		{[]string{"fd", "sock"}, []string{"fd", "pipe"}, false, false},
		{[]string{"fd", "sock", "tcp"}, []string{"fd", "sock", "udp"}, false, false},
		{[]string{"pid"}, []string{"fd"}, false, false},
	}
	for _, test := range tests {
		got := isCompatibleResourceImpl(test.dst, test.src, test.precise)
		assert.Equal(t, test.ok, got, "dst=%v src=%v precise=%v", test.dst, test.src, test.precise)
	}
}

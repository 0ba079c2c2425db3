// Copyright 2018 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

import (
	"fmt"
)

// memAlloc hands out addresses in the program data area.
// Objects are allocated one after another with respect to alignment;
// when the area is exhausted allocation restarts from the beginning (bankruptcy),
// so later objects may overlap earlier ones.
type memAlloc struct {
	size uint64
	next uint64
}

const (
	memAllocGranule = 8
	memAllocMaxMem  = 16 << 20
)

func newMemAlloc(totalMemSize uint64) *memAlloc {
	if totalMemSize > memAllocMaxMem {
		panic(fmt.Sprintf("newMemAlloc: too much mem %v (max: %v)", totalMemSize, memAllocMaxMem))
	}
	if totalMemSize%memAllocGranule != 0 || totalMemSize == 0 {
		panic(fmt.Sprintf("newMemAlloc: unaligned size %v (align: %v)", totalMemSize, memAllocGranule))
	}
	return &memAlloc{size: totalMemSize}
}

// alloc returns the next free address of size0 with respect to the given alignment.
func (ma *memAlloc) alloc(size0, alignment0 uint64) uint64 {
	if size0 == 0 {
		size0 = 1
	}
	if alignment0 < memAllocGranule {
		alignment0 = memAllocGranule
	}
	if size0 > ma.size {
		panic(fmt.Sprintf("memAlloc: object of size %v does not fit into %v", size0, ma.size))
	}
	addr := (ma.next + alignment0 - 1) / alignment0 * alignment0
	if addr+size0 > ma.size {
		ma.bankruptcy()
		addr = 0
	}
	ma.next = addr + size0
	return addr
}

func (ma *memAlloc) bankruptcy() {
	ma.next = 0
}

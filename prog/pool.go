// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

// ValuePool is a source of interesting argument values collected outside of generation.
// Implementations must be safe for concurrent use, generation never modifies the pool.
type ValuePool interface {
	// Ints returns known values for an integer or flags type.
	Ints(typ Type) []uint64
	// Buffers returns known contents for a buffer type.
	Buffers(typ Type) [][]byte
}

type emptyPool struct{}

func (emptyPool) Ints(typ Type) []uint64 {
	return nil
}

func (emptyPool) Buffers(typ Type) [][]byte {
	return nil
}

// EmptyPool is a ValuePool without any values.
var EmptyPool ValuePool = emptyPool{}

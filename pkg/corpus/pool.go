// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package corpus provides pools of interesting argument values that generation draws from.
// Values are indexed by type name (int32, open_flags, filename, ...).
package corpus

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/resfuzz/resgen/prog"
	"github.com/ulikunitz/xz"
	"gopkg.in/yaml.v3"
)

// Pool is a prog.ValuePool. It is populated with AddInt/AddBuffer before use
// and must not be modified once shared with generators.
type Pool struct {
	ints    map[string][]uint64
	buffers map[string][][]byte
	seen    map[string]map[string]bool
}

var _ prog.ValuePool = (*Pool)(nil)

func NewPool() *Pool {
	return &Pool{
		ints:    make(map[string][]uint64),
		buffers: make(map[string][][]byte),
		seen:    make(map[string]map[string]bool),
	}
}

// AddInt adds v to the values of the integer or flags type typeName.
// Duplicate values are ignored.
func (pool *Pool) AddInt(typeName string, v uint64) {
	if pool.dup("i:"+typeName, strconv.FormatUint(v, 16)) {
		return
	}
	pool.ints[typeName] = append(pool.ints[typeName], v)
}

// AddBuffer adds a copy of data to the values of the buffer type typeName.
// Duplicate values are ignored.
func (pool *Pool) AddBuffer(typeName string, data []byte) {
	if pool.dup("b:"+typeName, string(data)) {
		return
	}
	pool.buffers[typeName] = append(pool.buffers[typeName], append([]byte{}, data...))
}

func (pool *Pool) dup(key, val string) bool {
	set := pool.seen[key]
	if set == nil {
		set = make(map[string]bool)
		pool.seen[key] = set
	}
	if set[val] {
		return true
	}
	set[val] = true
	return false
}

func (pool *Pool) Ints(typ prog.Type) []uint64 {
	return pool.ints[typ.Name()]
}

func (pool *Pool) Buffers(typ prog.Type) [][]byte {
	return pool.buffers[typ.Name()]
}

// Stats returns the total number of int and buffer values.
func (pool *Pool) Stats() (ints, buffers int) {
	for _, vals := range pool.ints {
		ints += len(vals)
	}
	for _, vals := range pool.buffers {
		buffers += len(vals)
	}
	return
}

func (pool *Pool) String() string {
	var types []string
	for name := range pool.ints {
		types = append(types, name)
	}
	for name := range pool.buffers {
		if pool.ints[name] == nil {
			types = append(types, name)
		}
	}
	sort.Strings(types)
	ints, buffers := pool.Stats()
	return fmt.Sprintf("%v ints, %v buffers for [%v]", ints, buffers, strings.Join(types, " "))
}

// poolFile is the on-disk format:
//
//	ints:
//	  int32: [0, 1, -1, 0x7fffffff]
//	  open_flags: [0x42]
//	buffers:
//	  filename: ["./file0\x00"]
//	  blob: [!!binary AAEC]
type poolFile struct {
	Ints    map[string][]intValue `yaml:"ints"`
	Buffers map[string][]string   `yaml:"buffers"`
}

// intValue accepts both negative numbers and unsigned 64-bit values.
type intValue uint64

func (v *intValue) UnmarshalYAML(node *yaml.Node) error {
	if iv, err := strconv.ParseInt(node.Value, 0, 64); err == nil {
		*v = intValue(iv)
		return nil
	}
	uv, err := strconv.ParseUint(node.Value, 0, 64)
	if err != nil {
		return fmt.Errorf("line %v: bad integer %q", node.Line, node.Value)
	}
	*v = intValue(uv)
	return nil
}

// LoadFile loads a pool from filename, files with .xz suffix are decompressed.
func LoadFile(filename string) (*Pool, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open value pool: %w", err)
	}
	defer f.Close()
	var r io.Reader = f
	if strings.HasSuffix(filename, ".xz") {
		if r, err = xz.NewReader(f); err != nil {
			return nil, fmt.Errorf("%v: failed to decompress: %w", filename, err)
		}
	}
	pool, err := Load(r)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", filename, err)
	}
	return pool, nil
}

func Load(r io.Reader) (*Pool, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read value pool: %w", err)
	}
	var file poolFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse value pool: %w", err)
	}
	pool := NewPool()
	// Sort type names so that the pool contents don't depend on map iteration order.
	for _, name := range sortedKeys(file.Ints) {
		for _, v := range file.Ints[name] {
			pool.AddInt(name, uint64(v))
		}
	}
	for _, name := range sortedKeys(file.Buffers) {
		for _, v := range file.Buffers[name] {
			pool.AddBuffer(name, []byte(v))
		}
	}
	return pool, nil
}

func sortedKeys[V any](m map[string]V) []string {
	var keys []string
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package compiler builds prog targets from textual descriptions of syscalls, types and resources.
package compiler

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/resfuzz/resgen/pkg/log"
	"github.com/resfuzz/resgen/prog"
)

// Overview of compilation process:
// 1. Parse decodes YAML into Description, every type is still a string.
// 2. Compile collects resources, flags and struct names, then parses every
//    type expression and generates prog types for it.
// 3. Sizes of structs and arrays are computed after all types are known,
//    since structs can reference each other in any order.
// 4. prog.NewTarget checks the result and computes resource constructors
//    and equivalence classes.
// All errors found on the way are collected and returned together.

type compiler struct {
	desc    *Description
	ptrSize uint64
	errs    *multierror.Error

	resources   map[string]*prog.ResourceDesc
	resourceDef map[string]*Resource
	resourceInt map[string]string
	flags       map[string]*Flags
	structs     map[string]*prog.StructType
	structOrder []*prog.StructType
	arrays      []*prog.ArrayType
	layoutState map[*prog.StructType]int
}

const (
	layoutInProgress = iota + 1
	layoutDone
)

const defaultPtrSize = 8

// CompileFile parses and compiles the description in filename.
func CompileFile(filename string) (*prog.Target, error) {
	desc, err := ParseFile(filename)
	if err != nil {
		return nil, err
	}
	return Compile(desc)
}

// Compile generates a target from the description.
func Compile(desc *Description) (*prog.Target, error) {
	comp := &compiler{
		desc:        desc,
		ptrSize:     desc.PtrSize,
		resources:   make(map[string]*prog.ResourceDesc),
		resourceDef: make(map[string]*Resource),
		resourceInt: make(map[string]string),
		flags:       make(map[string]*Flags),
		structs:     make(map[string]*prog.StructType),
		layoutState: make(map[*prog.StructType]int),
	}
	if comp.ptrSize == 0 {
		comp.ptrSize = defaultPtrSize
	}
	if desc.Name == "" {
		comp.errorf("target has no name")
	}
	resources := comp.genResources()
	comp.collectFlags()
	comp.genStructs()
	syscalls := comp.genSyscalls()
	comp.layout()
	if err := comp.errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	target, err := prog.NewTarget(prog.TargetDesc{
		Name:       desc.Name,
		PtrSize:    comp.ptrSize,
		PageSize:   desc.PageSize,
		NumPages:   desc.NumPages,
		DataOffset: desc.DataOffset,
		Syscalls:   syscalls,
		Resources:  resources,
	})
	if err != nil {
		return nil, err
	}
	logDisabled(target)
	return target, nil
}

func logDisabled(target *prog.Target) {
	var disabled []*prog.Syscall
	for c := range target.DisabledCalls {
		disabled = append(disabled, c)
	}
	sort.Slice(disabled, func(i, j int) bool {
		return disabled[i].ID < disabled[j].ID
	})
	for _, c := range disabled {
		log.Logf(1, "%v: disabled %v: %v", target.Name, c.Name, target.DisabledCalls[c])
	}
	log.Logf(1, "%v: %v syscalls, %v enabled, %v resources, revision %.8v",
		target.Name, len(target.Syscalls), len(target.EnabledSyscalls()), len(target.Resources), target.Revision)
}

func (comp *compiler) errorf(msg string, args ...interface{}) {
	comp.errs = multierror.Append(comp.errs, fmt.Errorf(msg, args...))
}

var intTypes = map[string]uint64{
	"int8":  1,
	"int16": 2,
	"int32": 4,
	"int64": 8,
}

func (comp *compiler) intSize(name string) (uint64, bool) {
	if name == "intptr" {
		return comp.ptrSize, true
	}
	size, ok := intTypes[name]
	return size, ok
}

func (comp *compiler) genResources() []*prog.ResourceDesc {
	var resources []*prog.ResourceDesc
	for i := range comp.desc.Resources {
		n := &comp.desc.Resources[i]
		if !comp.checkName("resource", n.Name) {
			continue
		}
		comp.resourceDef[n.Name] = n
	}
	for i := range comp.desc.Resources {
		n := &comp.desc.Resources[i]
		if comp.resourceDef[n.Name] != n {
			continue
		}
		res := comp.genResource(n)
		if res == nil {
			continue
		}
		comp.resources[n.Name] = res
		resources = append(resources, res)
	}
	return resources
}

func (comp *compiler) checkName(what, name string) bool {
	if name == "" {
		comp.errorf("%v without name", what)
		return false
	}
	if _, ok := comp.intSize(name); ok || builtinTypes[name] {
		comp.errorf("%v %v collides with builtin type", what, name)
		return false
	}
	if comp.resourceDef[name] != nil || comp.structs[name] != nil {
		comp.errorf("duplicate type %v", name)
		return false
	}
	return true
}

// genResource walks the chain of base resources and builds the kind path and special values.
// Values of the more generic resources go first, so the default value is inherited from the root.
func (comp *compiler) genResource(n *Resource) *prog.ResourceDesc {
	res := &prog.ResourceDesc{Name: n.Name}
	seen := make(map[string]bool)
	for n != nil {
		if seen[n.Name] {
			comp.errorf("resource %v: recursive base chain through %v", res.Name, n.Name)
			return nil
		}
		seen[n.Name] = true
		values := make([]uint64, len(n.Values))
		for i, v := range n.Values {
			values[i] = uint64(v)
		}
		res.Values = append(values, res.Values...)
		res.Kind = append([]string{n.Name}, res.Kind...)
		if _, ok := comp.intSize(n.Base); ok {
			comp.resourceInt[res.Name] = n.Base
			break
		}
		base := comp.resourceDef[n.Base]
		if base == nil {
			comp.errorf("resource %v: unknown base %q", n.Name, n.Base)
			return nil
		}
		n = base
	}
	if len(res.Values) == 0 {
		res.Values = []uint64{0}
	}
	return res
}

func (comp *compiler) collectFlags() {
	for i := range comp.desc.Flags {
		f := &comp.desc.Flags[i]
		if f.Name == "" {
			comp.errorf("flags without name")
			continue
		}
		if comp.flags[f.Name] != nil {
			comp.errorf("duplicate flags %v", f.Name)
			continue
		}
		if len(f.Values) == 0 {
			comp.errorf("flags %v have no values", f.Name)
			continue
		}
		comp.flags[f.Name] = f
	}
}

func (comp *compiler) genStructs() {
	// Create all struct types first, fields can reference structs declared later.
	var defs []*Struct
	for i := range comp.desc.Structs {
		n := &comp.desc.Structs[i]
		if !comp.checkName("struct", n.Name) {
			continue
		}
		if len(n.Fields) == 0 {
			comp.errorf("struct %v has no fields", n.Name)
		}
		t := &prog.StructType{TypeCommon: prog.TypeCommon{TypeName: n.Name}}
		comp.structs[n.Name] = t
		comp.structOrder = append(comp.structOrder, t)
		defs = append(defs, n)
	}
	for i, n := range defs {
		comp.structOrder[i].Fields = comp.genFields("struct "+n.Name, n.Fields, false)
	}
}

func (comp *compiler) genSyscalls() []*prog.Syscall {
	var syscalls []*prog.Syscall
	for _, n := range comp.desc.Syscalls {
		if n.Name == "" {
			comp.errorf("syscall without name")
			continue
		}
		ctx := "syscall " + n.Name
		c := &prog.Syscall{
			Name: n.Name,
			Args: comp.genFields(ctx, n.Args, true),
		}
		if n.Ret != "" {
			c.Ret = comp.genRet(ctx, n.Ret)
		}
		syscalls = append(syscalls, c)
	}
	return syscalls
}

func (comp *compiler) genRet(ctx, ret string) prog.Type {
	t, err := parseType(ret)
	if err != nil {
		comp.errorf("%v: %v", ctx, err)
		return nil
	}
	typ := comp.genType(ctx+": ret", t)
	if _, ok := typ.(*prog.ResourceType); typ != nil && !ok {
		comp.errorf("%v: return type %v is not a resource", ctx, t.Format())
		return nil
	}
	return typ
}

func (comp *compiler) genFields(ctx string, defs []string, isArg bool) []prog.Field {
	var fields []prog.Field
	names := make(map[string]bool)
	for _, def := range defs {
		name, t, dir, err := parseField(def)
		if err != nil {
			comp.errorf("%v: %v", ctx, err)
			continue
		}
		fctx := fmt.Sprintf("%v: field %v", ctx, name)
		if names[name] {
			comp.errorf("%v: duplicate field", fctx)
			continue
		}
		names[name] = true
		typ := comp.genType(fctx, t)
		if typ == nil {
			continue
		}
		field := prog.Field{Name: name, Type: typ}
		if dir != "" {
			if isArg {
				comp.errorf("%v: syscall arguments can't have direction, use ptr[%v, ...]", fctx, dir)
				continue
			}
			d, ok := parseDir(dir)
			if !ok {
				comp.errorf("%v: bad direction %q", fctx, dir)
				continue
			}
			field.HasDirection = true
			field.Direction = d
		}
		if isArg && !canBeArg(typ) {
			comp.errorf("%v: %v can't be syscall argument", fctx, t.Format())
			continue
		}
		fields = append(fields, field)
	}
	for _, f := range fields {
		if l, ok := f.Type.(*prog.LenType); ok && !names[l.Path] {
			comp.errorf("%v: len target %v of field %v is not a sibling", ctx, l.Path, f.Name)
		}
	}
	return fields
}

func parseDir(dir string) (prog.Dir, bool) {
	switch dir {
	case "in":
		return prog.DirIn, true
	case "out":
		return prog.DirOut, true
	case "inout":
		return prog.DirInOut, true
	}
	return prog.DirIn, false
}

func canBeArg(t prog.Type) bool {
	switch t.(type) {
	case *prog.IntType, *prog.ConstType, *prog.FlagsType, *prog.LenType, *prog.ResourceType, *prog.PtrType:
		return true
	}
	return false
}

// layout computes sizes of structs and arrays once all of them are generated.
func (comp *compiler) layout() {
	for _, t := range comp.structOrder {
		comp.layoutType(t)
	}
	for _, t := range comp.arrays {
		comp.layoutType(t)
	}
}

func (comp *compiler) layoutType(typ prog.Type) {
	switch t := typ.(type) {
	case *prog.StructType:
		switch comp.layoutState[t] {
		case layoutDone:
			return
		case layoutInProgress:
			comp.errorf("struct %v contains itself, recursive structs must be referenced through pointers",
				t.Name())
			t.IsVarlen = true
			return
		}
		comp.layoutState[t] = layoutInProgress
		size, varlen := uint64(0), false
		for _, f := range t.Fields {
			comp.layoutType(f.Type)
			if f.Varlen() {
				varlen = true
				continue
			}
			size += f.Size()
		}
		t.IsVarlen = varlen
		t.TypeSize = 0
		if !varlen {
			t.TypeSize = size
		}
		comp.layoutState[t] = layoutDone
	case *prog.ArrayType:
		comp.layoutType(t.Elem)
		if t.Kind == prog.ArrayRangeLen && t.RangeBegin == t.RangeEnd && !t.Elem.Varlen() {
			t.IsVarlen = false
			t.TypeSize = t.RangeBegin * t.Elem.Size()
		}
	}
}

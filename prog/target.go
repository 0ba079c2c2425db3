// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/resfuzz/resgen/pkg/hash"
)

// TargetDesc is the raw input for NewTarget: the described syscalls and resources
// plus the memory layout of the execution environment.
type TargetDesc struct {
	Name       string
	PtrSize    uint64
	PageSize   uint64
	NumPages   uint64
	DataOffset uint64

	Syscalls  []*Syscall
	Resources []*ResourceDesc

	// Invalid pointer values used in place of real pointers, the first one is used as the default.
	SpecialPointers []uint64
}

// Target describes a set of syscalls and resources programs are generated for.
type Target struct {
	Name            string
	Revision        string // unique hash representing revision of the descriptions
	PtrSize         uint64
	PageSize        uint64
	NumPages        uint64
	DataOffset      uint64
	SpecialPointers []uint64

	Syscalls  []*Syscall
	Resources []*ResourceDesc

	// Filled by NewTarget:
	SyscallMap  map[string]*Syscall
	ResourceMap map[string]*ResourceDesc
	// Calls that can't be generated because their input resources can't be created.
	DisabledCalls map[*Syscall]string

	enabled      []*Syscall
	ctors        [][]*Syscall // exact enabled constructors, indexed by resource ID
	eqClasses    [][]int      // reachable compatible resource IDs, indexed by resource ID
	classCtors   [][]*Syscall // constructors of the whole equivalence class, indexed by resource ID
	genResources []*ResourceDesc
}

const (
	defaultPtrSize    = 8
	defaultPageSize   = 4 << 10
	defaultNumPages   = 4 << 10
	defaultDataOffset = 512 << 20
)

var defaultSpecialPointers = []uint64{
	0,                  // NULL
	0xffffffffffffffff, // -1
	0x9999999999999999, // non-canonical
}

// NewTarget checks the descriptions, assigns IDs and computes resource constructors,
// transitively disabled calls and resource equivalence classes.
// All problems found in the descriptions are returned together.
func NewTarget(desc TargetDesc) (*Target, error) {
	target := &Target{
		Name:            desc.Name,
		PtrSize:         desc.PtrSize,
		PageSize:        desc.PageSize,
		NumPages:        desc.NumPages,
		DataOffset:      desc.DataOffset,
		SpecialPointers: desc.SpecialPointers,
		Syscalls:        desc.Syscalls,
		Resources:       desc.Resources,
		SyscallMap:      make(map[string]*Syscall),
		ResourceMap:     make(map[string]*ResourceDesc),
	}
	if target.PtrSize == 0 {
		target.PtrSize = defaultPtrSize
	}
	if target.PageSize == 0 {
		target.PageSize = defaultPageSize
	}
	if target.NumPages == 0 {
		target.NumPages = max(min(defaultNumPages, memAllocMaxMem/target.PageSize), 1)
	}
	if target.DataOffset == 0 {
		target.DataOffset = defaultDataOffset
	}
	if len(target.SpecialPointers) == 0 {
		target.SpecialPointers = defaultSpecialPointers
	}
	if err := target.check(); err != nil {
		return nil, err
	}
	target.initResources()
	target.Revision = target.calcRevision()
	return target, nil
}

func (target *Target) check() error {
	var errs *multierror.Error
	if size := target.DataSize(); size == 0 || size/target.PageSize != target.NumPages ||
		size%memAllocGranule != 0 || size > memAllocMaxMem {
		errs = multierror.Append(errs, fmt.Errorf("bad data area of %v pages of size %v:"+
			" must be a multiple of %v bytes up to %v bytes",
			target.NumPages, target.PageSize, memAllocGranule, memAllocMaxMem))
	}
	for i, res := range target.Resources {
		res.ID = i
		if target.ResourceMap[res.Name] != nil {
			errs = multierror.Append(errs, fmt.Errorf("duplicate resource %v", res.Name))
		}
		target.ResourceMap[res.Name] = res
		if len(res.Kind) == 0 || res.Kind[len(res.Kind)-1] != res.Name {
			errs = multierror.Append(errs, fmt.Errorf("resource %v has bad kind %v", res.Name, res.Kind))
		}
		if len(res.Values) == 0 {
			errs = multierror.Append(errs, fmt.Errorf("resource %v has no special values", res.Name))
		}
	}
	for i, c := range target.Syscalls {
		c.ID = i
		if target.SyscallMap[c.Name] != nil {
			errs = multierror.Append(errs, fmt.Errorf("duplicate syscall %v", c.Name))
		}
		target.SyscallMap[c.Name] = c
		if c.CallName == "" {
			c.CallName = c.Name
			if pos := strings.IndexByte(c.Name, '$'); pos != -1 {
				c.CallName = c.Name[:pos]
			}
		}
		if c.Ret != nil {
			if _, ok := c.Ret.(*ResourceType); !ok {
				errs = multierror.Append(errs, fmt.Errorf("syscall %v: return type %v is not a resource",
					c.Name, c.Ret))
			}
		}
		if err := target.checkFields(c.Name, c.Args, make(map[*StructType]bool)); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (target *Target) checkFields(ctx string, fields []Field, checked map[*StructType]bool) error {
	var errs *multierror.Error
	for _, f := range fields {
		if f.Type == nil {
			errs = multierror.Append(errs, fmt.Errorf("%v: field %v has no type", ctx, f.Name))
			continue
		}
		if l, ok := f.Type.(*LenType); ok && !hasField(fields, l.Path) {
			errs = multierror.Append(errs, fmt.Errorf("%v: len target %v of field %v is not a sibling",
				ctx, l.Path, f.Name))
		}
		if err := target.checkType(ctx+"."+f.Name, f.Type, checked); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (target *Target) checkType(ctx string, typ Type, checked map[*StructType]bool) error {
	switch t := typ.(type) {
	case *ResourceType:
		if t.Desc == nil || t.Desc.ID >= len(target.Resources) || target.Resources[t.Desc.ID] != t.Desc {
			return fmt.Errorf("%v: resource type %v references unknown resource", ctx, t.Name())
		}
	case *PtrType:
		if t.Elem == nil {
			return fmt.Errorf("%v: pointer without element type", ctx)
		}
		return target.checkType(ctx, t.Elem, checked)
	case *ArrayType:
		if t.Elem == nil {
			return fmt.Errorf("%v: array without element type", ctx)
		}
		if t.Kind == ArrayRangeLen {
			if t.RangeBegin > t.RangeEnd {
				return fmt.Errorf("%v: bad array range %v:%v", ctx, t.RangeBegin, t.RangeEnd)
			}
			// Every element takes at least a byte, larger ones at least their static size.
			elemSize := uint64(1)
			if !t.Elem.Varlen() {
				elemSize = max(t.Elem.Size(), 1)
			}
			if t.RangeEnd > target.DataSize()/elemSize {
				return fmt.Errorf("%v: array range %v:%v does not fit into data area of %v bytes",
					ctx, t.RangeBegin, t.RangeEnd, target.DataSize())
			}
		}
		return target.checkType(ctx, t.Elem, checked)
	case *StructType:
		if checked[t] {
			return nil
		}
		checked[t] = true
		return target.checkFields(ctx, t.Fields, checked)
	case *FlagsType:
		if len(t.Vals) == 0 {
			return fmt.Errorf("%v: flags %v have no values", ctx, t.FlagsName)
		}
	case *BufferType:
		if t.Kind == BufferBlobRange {
			if t.RangeBegin > t.RangeEnd {
				return fmt.Errorf("%v: bad blob range %v:%v", ctx, t.RangeBegin, t.RangeEnd)
			}
			if t.RangeEnd > target.DataSize() {
				return fmt.Errorf("%v: blob range %v:%v does not fit into data area of %v bytes",
					ctx, t.RangeBegin, t.RangeEnd, target.DataSize())
			}
		}
		if !t.Varlen() && t.Size() > target.DataSize() {
			return fmt.Errorf("%v: buffer of size %v does not fit into data area of %v bytes",
				ctx, t.Size(), target.DataSize())
		}
	case *IntType, *ConstType, *LenType:
	default:
		return fmt.Errorf("%v: unknown type %#v", ctx, typ)
	}
	return nil
}

func hasField(fields []Field, name string) bool {
	for _, f := range fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

func (target *Target) initResources() {
	for _, c := range target.Syscalls {
		c.collectResources()
	}
	target.enabled, target.DisabledCalls = transitivelyEnabledCalls(target.Syscalls)
	n := len(target.Resources)
	target.ctors = make([][]*Syscall, n)
	target.eqClasses = make([][]int, n)
	target.classCtors = make([][]*Syscall, n)
	reachable := make([]bool, n)
	for _, res := range target.Resources {
		target.ctors[res.ID] = exactResourceCtors(target.enabled, res)
		reachable[res.ID] = len(target.ctors[res.ID]) != 0
	}
	for _, res := range target.Resources {
		seen := make(map[*Syscall]bool)
		for _, other := range target.Resources {
			if !reachable[other.ID] || !IsCompatibleResource(res, other) {
				continue
			}
			target.eqClasses[res.ID] = append(target.eqClasses[res.ID], other.ID)
			for _, ctor := range target.ctors[other.ID] {
				if !seen[ctor] {
					seen[ctor] = true
					target.classCtors[res.ID] = append(target.classCtors[res.ID], ctor)
				}
			}
		}
		if len(target.eqClasses[res.ID]) != 0 {
			target.genResources = append(target.genResources, res)
		}
	}
}

func (target *Target) calcRevision() string {
	var pieces [][]byte
	for _, res := range target.Resources {
		pieces = append(pieces, []byte(fmt.Sprintf("%v%v%v", res.Name, res.Kind, res.Values)))
	}
	for _, c := range target.Syscalls {
		var args []string
		for _, f := range c.Args {
			args = append(args, f.Name+":"+f.Type.String())
		}
		pieces = append(pieces, []byte(fmt.Sprintf("%v(%v)%v", c.Name, strings.Join(args, ","), c.Ret)))
	}
	return hash.String(pieces...)
}

func (target *Target) String() string {
	return target.Name
}

// EnabledSyscalls returns the generation catalog: all syscalls that are not disabled.
// DataSize returns the size of the memory area that pointer arguments point into.
func (target *Target) DataSize() uint64 {
	return target.NumPages * target.PageSize
}

func (target *Target) EnabledSyscalls() []*Syscall {
	return target.enabled
}

// ResourceCtors returns enabled syscalls that produce exactly res.
func (target *Target) ResourceCtors(res *ResourceDesc) []*Syscall {
	return target.ctors[res.ID]
}

// EqClass returns reachable resources compatible with res, in resource ID order.
func (target *Target) EqClass(res *ResourceDesc) []*ResourceDesc {
	var class []*ResourceDesc
	for _, id := range target.eqClasses[res.ID] {
		class = append(class, target.Resources[id])
	}
	return class
}

// ClassCtors returns the constructors of all resources in the equivalence class of res.
func (target *Target) ClassCtors(res *ResourceDesc) []*Syscall {
	return target.classCtors[res.ID]
}

// GenResources returns resources that have a non-empty equivalence class,
// i.e. the resources generation may decide to create.
func (target *Target) GenResources() []*ResourceDesc {
	return target.genResources
}

// inEqClass reports whether a value of resource src can be used where dst is required.
func (target *Target) inEqClass(dst, src *ResourceDesc) bool {
	for _, id := range target.eqClasses[dst.ID] {
		if id == src.ID {
			return true
		}
	}
	return false
}

// PhysicalAddr returns the address the pointer points to in the execution environment.
func (target *Target) PhysicalAddr(arg *PointerArg) uint64 {
	if arg.IsSpecial() {
		return target.SpecialPointers[arg.Address]
	}
	return target.DataOffset + arg.Address
}

// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

import (
	"fmt"
)

// calcResourceCtors returns calls (from calls) that produce resources compatible with kind.
func calcResourceCtors(calls []*Syscall, kind []string, precise bool) []*Syscall {
	var metas []*Syscall
	for _, meta := range calls {
		for _, res := range meta.outputResources {
			if isCompatibleResourceImpl(kind, res.Desc.Kind, precise) {
				metas = append(metas, meta)
				break
			}
		}
	}
	return metas
}

// exactResourceCtors returns calls (from calls) that produce exactly the resource res.
func exactResourceCtors(calls []*Syscall, res *ResourceDesc) []*Syscall {
	var metas []*Syscall
	for _, meta := range calls {
		for _, out := range meta.outputResources {
			if out.Desc == res {
				metas = append(metas, meta)
				break
			}
		}
	}
	return metas
}

// IsCompatibleResource returns true if resource of kind src can be passed as an argument of kind dst
// or the other way around, i.e. one kind chain is a prefix of the other.
func IsCompatibleResource(dst, src *ResourceDesc) bool {
	return isCompatibleResourceImpl(dst.Kind, src.Kind, false)
}

// isCompatibleResourceImpl returns true if resource of kind src can be passed as an argument of kind dst.
// If precise is true, then it does not allow passing a less specialized resource (e.g. fd)
// as a more specialized resource (e.g. socket). Otherwise it does.
func isCompatibleResourceImpl(dst, src []string, precise bool) bool {
	if len(dst) > len(src) {
		// dst is more specialized, e.g dst=socket, src=fd.
		if precise {
			return false
		}
		dst = dst[:len(src)]
	}
	if len(src) > len(dst) {
		// src is more specialized, e.g dst=fd, src=socket.
		src = src[:len(dst)]
	}
	for i, k := range dst {
		if k != src[i] {
			return false
		}
	}
	return true
}

// collectResources fills the input and output resource lists of the call.
// Inputs are non-optional resources the call consumes, outputs are resource slots it fills.
func (c *Syscall) collectResources() {
	c.inputResources, c.outputResources = nil, nil
	ForeachCallType(c, func(typ Type, dir Dir) {
		res, ok := typ.(*ResourceType)
		if !ok {
			return
		}
		if dir != DirOut && !res.IsOptional {
			c.inputResources = append(c.inputResources, res)
		}
		if dir != DirIn {
			c.outputResources = append(c.outputResources, res)
		}
	})
}

func (c *Syscall) InputResources() []*ResourceType {
	return c.inputResources
}

func (c *Syscall) OutputResources() []*ResourceType {
	return c.outputResources
}

// transitivelyEnabledCalls computes the calls that can actually be executed: starting with no
// resources, a call is enabled once every resource it consumes has a constructor that is already
// enabled. Calls that need their own output as input are never enabled on their own.
// Returns enabled calls in the original order and the reasons for disabled calls.
func transitivelyEnabledCalls(calls []*Syscall) ([]*Syscall, map[*Syscall]string) {
	ctors := make(map[*ResourceDesc][]*Syscall)
	for _, c := range calls {
		for _, res := range c.inputResources {
			if _, ok := ctors[res.Desc]; !ok {
				ctors[res.Desc] = calcResourceCtors(calls, res.Desc.Kind, true)
			}
		}
	}
	enabled := make(map[*Syscall]bool)
	// missing returns the first resource consumed by c that no enabled call can create.
	missing := func(c *Syscall) *ResourceDesc {
		for _, res := range c.inputResources {
			creatable := false
			for _, ctor := range ctors[res.Desc] {
				if enabled[ctor] {
					creatable = true
					break
				}
			}
			if !creatable {
				return res.Desc
			}
		}
		return nil
	}
	for changed := true; changed; {
		changed = false
		for _, c := range calls {
			if !enabled[c] && missing(c) == nil {
				enabled[c] = true
				changed = true
			}
		}
	}
	var res []*Syscall
	disabled := make(map[*Syscall]string)
	for _, c := range calls {
		if enabled[c] {
			res = append(res, c)
			continue
		}
		cantCreate := missing(c)
		var ctorNames []string
		for _, ctor := range ctors[cantCreate] {
			ctorNames = append(ctorNames, ctor.Name)
		}
		disabled[c] = fmt.Sprintf("no syscalls can create resource %v,"+
			" enable some syscalls that can create it %v",
			cantCreate.Name, ctorNames)
	}
	return res, disabled
}

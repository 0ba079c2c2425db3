// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

// assignSizes fills len fields among args with sizes of their siblings, fields describe args.
func (target *Target) assignSizes(args []Arg, fields []Field) {
	for i, arg := range args {
		typ, ok := fields[i].Type.(*LenType)
		if !ok {
			continue
		}
		a, ok := arg.(*ConstArg)
		if !ok {
			continue
		}
		a.Val = 0
		for j := range fields {
			if fields[j].Name == typ.Path {
				a.Val = target.computeSize(args[j])
				break
			}
		}
	}
}

func (target *Target) computeSize(arg Arg) uint64 {
	if ptr, ok := arg.(*PointerArg); ok {
		if ptr.IsSpecial() {
			return 0 // target is a special pointer
		}
		arg = ptr.Res
	}
	switch a := arg.(type) {
	case *GroupArg:
		if _, ok := a.Type().(*ArrayType); ok {
			return uint64(len(a.Inner))
		}
		return a.Size()
	default:
		return arg.Size()
	}
}

func (target *Target) assignSizesCall(c *Call) {
	target.assignSizes(c.Args, c.Meta.Args)
	for _, arg := range c.Args {
		ForeachSubArg(arg, func(arg Arg, _ *ArgCtx) {
			if st, ok := arg.Type().(*StructType); ok {
				target.assignSizes(arg.(*GroupArg).Inner, st.Fields)
			}
		})
	}
}

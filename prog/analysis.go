// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Resource-related analysis of programs under construction.
// The analysis figures out what resources are produced at a particular point in program,
// what files and buffers were already used in calls, etc.

package prog

// maxCachedBuffers bounds the number of buffers remembered per buffer type.
const maxCachedBuffers = 16

// genContext is the state of a single generation run.
type genContext struct {
	target *Target
	pool   ValuePool
	ma     *memAlloc
	calls  []*Call
	// Produced resources by exact kind, in production order.
	resources map[*ResourceDesc][]*ResultArg
	// Input buffers synthesized in this run.
	buffers map[*BufferType][][]byte
	files   map[string]bool
}

func newGenContext(target *Target, pool ValuePool) *genContext {
	if pool == nil {
		pool = EmptyPool
	}
	return &genContext{
		target:    target,
		pool:      pool,
		ma:        newMemAlloc(target.DataSize()),
		resources: make(map[*ResourceDesc][]*ResultArg),
		buffers:   make(map[*BufferType][][]byte),
		files:     make(map[string]bool),
	}
}

// analyze records everything c produced so that subsequent calls can use it.
func (ctx *genContext) analyze(c *Call) {
	ForeachArg(c, func(arg Arg, _ *ArgCtx) {
		switch a := arg.(type) {
		case *ResultArg:
			if a.Produced() {
				res := a.Desc()
				a.index = len(ctx.resources[res])
				ctx.resources[res] = append(ctx.resources[res], a)
			}
		case *DataArg:
			typ, ok := a.Type().(*BufferType)
			if !ok || a.Dir() == DirOut {
				break
			}
			if typ.Kind == BufferFilename {
				fn := string(a.Data())
				for len(fn) != 0 && fn[len(fn)-1] == 0 {
					fn = fn[:len(fn)-1]
				}
				ctx.files[fn] = true
			}
			if len(ctx.buffers[typ]) < maxCachedBuffers {
				ctx.buffers[typ] = append(ctx.buffers[typ], a.Data())
			}
		}
	})
	ctx.calls = append(ctx.calls, c)
}

// resourceKinds returns the number of resource kinds with at least one produced value.
func (ctx *genContext) resourceKinds() int {
	n := 0
	for _, vals := range ctx.resources {
		if len(vals) != 0 {
			n++
		}
	}
	return n
}

type ArgCtx struct {
	Parent *[]Arg      // GroupArg.Inner (for structs) or Call.Args containing this arg.
	Fields []Field     // Fields of the parent struct/syscall.
	Base   *PointerArg // Pointer to the base of the heap object containing this arg.
	Offset uint64      // Offset of this arg from the base.
	Stop   bool        // If set by the callback, subargs of this arg are not visited.
}

func ForeachSubArg(arg Arg, f func(Arg, *ArgCtx)) {
	foreachArgImpl(arg, &ArgCtx{}, f)
}

func ForeachArg(c *Call, f func(Arg, *ArgCtx)) {
	ctx := &ArgCtx{}
	if c.Ret != nil {
		foreachArgImpl(c.Ret, ctx, f)
	}
	ctx.Parent = &c.Args
	ctx.Fields = c.Meta.Args
	for _, arg := range c.Args {
		foreachArgImpl(arg, ctx, f)
	}
}

func foreachArgImpl(arg Arg, ctx *ArgCtx, f func(Arg, *ArgCtx)) {
	ctx0 := *ctx
	defer func() { *ctx = ctx0 }()
	f(arg, ctx)
	if ctx.Stop {
		return
	}
	switch a := arg.(type) {
	case *GroupArg:
		if typ, ok := a.Type().(*StructType); ok {
			ctx.Parent = &a.Inner
			ctx.Fields = typ.Fields
		}
		for _, arg1 := range a.Inner {
			foreachArgImpl(arg1, ctx, f)
			ctx.Offset += arg1.Size()
		}
	case *PointerArg:
		if a.Res != nil {
			ctx.Base = a
			ctx.Offset = 0
			foreachArgImpl(a.Res, ctx, f)
		}
	}
}

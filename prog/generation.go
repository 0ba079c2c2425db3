// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

import (
	"errors"
	"fmt"
	"math/rand"
)

const (
	// Generated programs have at least MinCalls and at most MaxCalls calls.
	MinCalls = 4
	MaxCalls = 16

	// Resource kind count thresholds that control how eagerly resources are created.
	minResources = 2
	maxResources = 6

	// Probability to pick an exact constructor of the requested resource.
	accurateCtorProb = 0.85
)

var ErrNoSyscalls = errors.New("target has no enabled syscalls")

// Selection says how a call was chosen during generation.
type Selection int

const (
	SelectRandom Selection = iota
	SelectAccurateCtor
	SelectClassCtor
)

func (sel Selection) String() string {
	switch sel {
	case SelectRandom:
		return "random"
	case SelectAccurateCtor:
		return "accurate-ctor"
	case SelectClassCtor:
		return "class-ctor"
	default:
		return fmt.Sprintf("selection(%d)", int(sel))
	}
}

// CallTrace records the generation decision for a single call.
type CallTrace struct {
	Selection Selection
	// Resource the call was chosen to produce, nil for SelectRandom.
	Resource *ResourceDesc
}

// Generate generates a random program.
// All random decisions are drawn from rs, so the same source state yields the same program.
// pool may be nil.
func (target *Target) Generate(rs rand.Source, pool ValuePool) (*Prog, error) {
	p, _, err := target.GenerateTrace(rs, pool)
	return p, err
}

// GenerateTrace is Generate that also returns how every call was selected.
func (target *Target) GenerateTrace(rs rand.Source, pool ValuePool) (*Prog, []CallTrace, error) {
	if len(target.enabled) == 0 {
		return nil, nil, ErrNoSyscalls
	}
	p := &Prog{
		Target: target,
	}
	r := newRand(target, rs)
	ctx := newGenContext(target, pool)
	var trace []CallTrace
	for !r.shouldStop(len(p.Calls)) {
		meta, sel := r.selectSyscall(ctx)
		c := r.generateParticularCall(ctx, meta, sel.Selection != SelectRandom)
		ctx.analyze(c)
		p.Calls = append(p.Calls, c)
		trace = append(trace, sel)
	}
	p.debugValidate()
	return p, trace, nil
}

func (r *randGen) shouldStop(ncalls int) bool {
	switch {
	case ncalls < MinCalls:
		return false
	case ncalls >= MaxCalls:
		return true
	default:
		return r.prob(0.8 * float64(ncalls) / MaxCalls)
	}
}

// shouldTryGenRes decides whether the next call should produce a resource.
// The fewer resource kinds the program has, the more likely it is.
func (r *randGen) shouldTryGenRes(ctx *genContext) bool {
	n := ctx.resourceKinds()
	if n == 0 {
		return true
	}
	if n >= maxResources {
		return r.prob(0.2 * (float64(maxResources) / (float64(n) * 2)))
	}
	alpha := 1 - float64(n)/maxResources
	if n < minResources {
		return r.prob(0.8 * alpha)
	}
	return r.prob(0.4 * alpha)
}

func (r *randGen) selectSyscall(ctx *genContext) (*Syscall, CallTrace) {
	if len(r.target.genResources) != 0 && r.shouldTryGenRes(ctx) {
		res := r.target.genResources[r.Intn(len(r.target.genResources))]
		meta, sel := r.selectResProducer(res)
		return meta, CallTrace{Selection: sel, Resource: res}
	}
	calls := r.target.enabled
	return calls[r.Intn(len(calls))], CallTrace{Selection: SelectRandom}
}

func (r *randGen) selectResProducer(res *ResourceDesc) (*Syscall, Selection) {
	if accurate := r.target.ctors[res.ID]; len(accurate) != 0 && r.prob(accurateCtorProb) {
		return accurate[r.Intn(len(accurate))], SelectAccurateCtor
	}
	all := r.target.classCtors[res.ID]
	if len(all) == 0 {
		panic(fmt.Sprintf("no constructors for resource %v and its equivalence class", res.Name))
	}
	return all[r.Intn(len(all))], SelectClassCtor
}

func (r *randGen) generateParticularCall(ctx *genContext, meta *Syscall, producer bool) *Call {
	if reason, ok := r.target.DisabledCalls[meta]; ok {
		panic(fmt.Sprintf("generating disabled call %v: %v", meta.Name, reason))
	}
	c := MakeCall(meta, nil)
	r.inGenerateResource = producer
	c.Args = r.generateArgs(ctx, meta.Args, DirIn)
	r.inGenerateResource = false
	c.Ret = MakeReturnArg(meta.Ret)
	r.target.assignSizesCall(c)
	return c
}

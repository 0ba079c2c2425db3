// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// This file does serialization of programs for executor binary.
// The format aims at simple parsing: binary and irreversible.

// Exec format is an sequence of uint64's which encodes a sequence of calls.
// The sequence is terminated by a speciall call execInstrEOF.
// Each call is (call ID, copyout index, number of arguments, arguments...).
// Each argument is (type, size, value).
// There are 3 types of arguments:
//  - execArgConst: value is const value
//  - execArgResult: value is copyout index we want to reference, followed by the default value
//  - execArgData: value is a binary blob (represented as ]size/8[ uint64's)
// There are 2 other special calls:
//  - execInstrCopyin: copies its second argument into address specified by first argument
//  - execInstrCopyout: reads value at address specified by second argument into copyout index
//    specified by the first argument, the third argument is the size of the value
// All words are little-endian.

package prog

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	execInstrEOF = ^uint64(iota)
	execInstrCopyin
	execInstrCopyout
)

const (
	execArgConst = uint64(iota)
	execArgResult
	execArgData
)

const (
	ExecBufferSize = 2 << 20
	ExecNoCopyout  = ^uint64(0)
)

var ErrExecBufferTooSmall = errors.New("exec program does not fit into the exec buffer")

// SerializeForExec serializes program p into the executor binary format.
func (p *Prog) SerializeForExec() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("serializing invalid program: %w", err)
	}
	w := &execContext{
		target: p.Target,
		args:   make(map[*ResultArg]uint64),
	}
	for _, c := range p.Calls {
		w.serializeCall(c)
	}
	w.write(execInstrEOF)
	if w.err != nil {
		return nil, w.err
	}
	if len(w.buf) > ExecBufferSize {
		return nil, ErrExecBufferTooSmall
	}
	return w.buf, nil
}

type execContext struct {
	target *Target
	buf    []byte
	err    error
	// Copyout index of resources referenced by later calls.
	args    map[*ResultArg]uint64
	copyout uint64
}

func (w *execContext) serializeCall(c *Call) {
	// Generate copyin instructions that fill in data into pointer arguments.
	w.writeCopyin(c)
	// Generate the call itself.
	w.write(uint64(c.Meta.ID))
	if c.Ret != nil && len(c.Ret.uses) != 0 {
		w.write(w.allocCopyout(c.Ret))
	} else {
		w.write(ExecNoCopyout)
	}
	w.write(uint64(len(c.Args)))
	for _, arg := range c.Args {
		w.writeArg(arg)
	}
	// Generate copyout instructions that persist interesting return values.
	w.writeCopyout(c)
}

func (w *execContext) writeCopyin(c *Call) {
	ForeachArg(c, func(arg Arg, ctx *ArgCtx) {
		if ctx.Base == nil {
			return
		}
		switch a := arg.(type) {
		case *GroupArg:
			return
		case *DataArg:
			if a.Dir() == DirOut || a.Size() == 0 {
				return
			}
		case *ResultArg:
			if a.Dir() == DirOut {
				return
			}
		case *ConstArg:
			if a.Dir() == DirOut {
				return
			}
		}
		w.write(execInstrCopyin)
		w.write(w.target.PhysicalAddr(ctx.Base) + ctx.Offset)
		w.writeArg(arg)
	})
}

func (w *execContext) writeCopyout(c *Call) {
	ForeachArg(c, func(arg Arg, ctx *ArgCtx) {
		a, ok := arg.(*ResultArg)
		if !ok || a == c.Ret || !a.Produced() || len(a.uses) == 0 {
			return
		}
		if ctx.Base == nil {
			w.setErr(fmt.Errorf("syscall %v: resource %v is produced outside of memory",
				c.Meta.Name, a.Type()))
			return
		}
		w.write(execInstrCopyout)
		w.write(w.allocCopyout(a))
		w.write(w.target.PhysicalAddr(ctx.Base) + ctx.Offset)
		w.write(a.Size())
	})
}

func (w *execContext) allocCopyout(arg *ResultArg) uint64 {
	idx := w.copyout
	w.copyout++
	w.args[arg] = idx
	return idx
}

func (w *execContext) write(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *execContext) setErr(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *execContext) writeArg(arg Arg) {
	switch a := arg.(type) {
	case *ConstArg:
		w.writeConstArg(a.Size(), a.Val)
	case *ResultArg:
		if a.Res == nil {
			w.writeConstArg(a.Size(), a.Val)
			break
		}
		idx, ok := w.args[a.Res]
		if !ok {
			w.setErr(fmt.Errorf("resource %v references a value without copyout", a.Type()))
			return
		}
		w.write(execArgResult)
		w.write(a.Size())
		w.write(idx)
		w.write(a.Type().(*ResourceType).Default())
	case *PointerArg:
		w.writeConstArg(a.Size(), w.target.PhysicalAddr(a))
	case *DataArg:
		var data []byte
		if a.Dir() != DirOut {
			data = a.Data()
		}
		w.write(execArgData)
		w.write(uint64(len(data)))
		padded := len(data)
		if pad := 8 - len(data)%8; pad != 8 {
			padded += pad
		}
		w.buf = append(w.buf, data...)
		w.buf = append(w.buf, make([]byte, padded-len(data))...)
	case *GroupArg:
		// Squash groups.
		for _, arg1 := range a.Inner {
			w.writeArg(arg1)
		}
	default:
		panic("unknown arg type")
	}
}

func (w *execContext) writeConstArg(size, val uint64) {
	w.write(execArgConst)
	w.write(size)
	w.write(val)
}

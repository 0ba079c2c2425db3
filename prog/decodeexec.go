// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ExecProg is a decoded exec format program.
type ExecProg struct {
	Calls   []ExecCall
	NumVars uint64
}

// ExecCall is a single decoded call along with the copyin instructions that precede it
// and the copyout instructions that follow it.
type ExecCall struct {
	Meta    *Syscall
	Index   uint64
	Args    []ExecArg
	Copyin  []ExecCopyin
	Copyout []ExecCopyout
}

type ExecCopyin struct {
	Addr uint64
	Arg  ExecArg
}

type ExecCopyout struct {
	Index uint64
	Addr  uint64
	Size  uint64
}

// ExecArg is one of ExecArgConst, ExecArgResult, ExecArgData.
type ExecArg interface{}

type ExecArgConst struct {
	Size  uint64
	Value uint64
}

type ExecArgResult struct {
	Size    uint64
	Index   uint64
	Default uint64
}

type ExecArgData struct {
	Data []byte
}

var errExecOverflow = errors.New("exec program overflow")

// DecodeExec parses a program in the exec format produced by SerializeForExec.
// Result arguments may reference only copyout indexes defined by earlier calls.
func (target *Target) DecodeExec(exec []byte) (ExecProg, error) {
	r := &execReader{buf: exec}
	vars := make(map[uint64]bool)
	define := func(idx uint64) error {
		if vars[idx] {
			return fmt.Errorf("copyout index %v is defined twice", idx)
		}
		vars[idx] = true
		return nil
	}
	var calls []ExecCall
	var pending ExecCall
	// flush finalizes the pending call, its results become visible to the following calls.
	flush := func() error {
		if pending.Meta == nil {
			return nil
		}
		if pending.Index != ExecNoCopyout {
			if err := define(pending.Index); err != nil {
				return err
			}
		}
		for _, copyout := range pending.Copyout {
			if err := define(copyout.Index); err != nil {
				return err
			}
		}
		calls = append(calls, pending)
		pending = ExecCall{}
		return nil
	}
	for {
		instr, err := r.word()
		if err != nil {
			return ExecProg{}, err
		}
		switch instr {
		case execInstrEOF:
			if err := flush(); err != nil {
				return ExecProg{}, err
			}
			if len(r.buf) != 0 {
				return ExecProg{}, fmt.Errorf("%v trailing bytes after EOF", len(r.buf))
			}
			return ExecProg{Calls: calls, NumVars: uint64(len(vars))}, nil
		case execInstrCopyin:
			if err := flush(); err != nil {
				return ExecProg{}, err
			}
			addr, err := r.word()
			if err != nil {
				return ExecProg{}, err
			}
			arg, err := r.arg(vars)
			if err != nil {
				return ExecProg{}, err
			}
			pending.Copyin = append(pending.Copyin, ExecCopyin{Addr: addr, Arg: arg})
		case execInstrCopyout:
			if pending.Meta == nil {
				return ExecProg{}, fmt.Errorf("copyout before any call")
			}
			var w [3]uint64
			if err := r.words(w[:]); err != nil {
				return ExecProg{}, err
			}
			pending.Copyout = append(pending.Copyout, ExecCopyout{Index: w[0], Addr: w[1], Size: w[2]})
		default:
			if err := flush(); err != nil {
				return ExecProg{}, err
			}
			if instr >= uint64(len(target.Syscalls)) {
				return ExecProg{}, fmt.Errorf("bad syscall %v", instr)
			}
			if err := r.call(target.Syscalls[instr], &pending, vars); err != nil {
				return ExecProg{}, err
			}
		}
	}
}

type execReader struct {
	buf []byte
}

func (r *execReader) word() (uint64, error) {
	if len(r.buf) < 8 {
		return 0, errExecOverflow
	}
	v := binary.LittleEndian.Uint64(r.buf)
	r.buf = r.buf[8:]
	return v, nil
}

func (r *execReader) words(vals []uint64) error {
	for i := range vals {
		v, err := r.word()
		if err != nil {
			return err
		}
		vals[i] = v
	}
	return nil
}

// blob reads size bytes of data padded to a word boundary.
func (r *execReader) blob(size uint64) ([]byte, error) {
	padded := (size + 7) &^ 7
	if padded < size || uint64(len(r.buf)) < padded {
		return nil, errExecOverflow
	}
	data := r.buf[:size:size]
	r.buf = r.buf[padded:]
	return data, nil
}

func (r *execReader) call(meta *Syscall, c *ExecCall, vars map[uint64]bool) error {
	var hdr [2]uint64
	if err := r.words(hdr[:]); err != nil {
		return err
	}
	c.Meta, c.Index = meta, hdr[0]
	if nargs := hdr[1]; nargs > uint64(len(r.buf)/8) {
		return fmt.Errorf("syscall %v: bad number of args %v", meta.Name, nargs)
	}
	for i := uint64(0); i < hdr[1]; i++ {
		arg, err := r.arg(vars)
		if err != nil {
			return fmt.Errorf("syscall %v: arg %v: %w", meta.Name, i, err)
		}
		c.Args = append(c.Args, arg)
	}
	return nil
}

func (r *execReader) arg(vars map[uint64]bool) (ExecArg, error) {
	kind, err := r.word()
	if err != nil {
		return nil, err
	}
	switch kind {
	case execArgConst:
		var w [2]uint64
		if err := r.words(w[:]); err != nil {
			return nil, err
		}
		return ExecArgConst{Size: w[0], Value: w[1]}, nil
	case execArgResult:
		var w [3]uint64
		if err := r.words(w[:]); err != nil {
			return nil, err
		}
		if !vars[w[1]] {
			return nil, fmt.Errorf("result references undefined copyout index %v", w[1])
		}
		return ExecArgResult{Size: w[0], Index: w[1], Default: w[2]}, nil
	case execArgData:
		size, err := r.word()
		if err != nil {
			return nil, err
		}
		data, err := r.blob(size)
		if err != nil {
			return nil, err
		}
		return ExecArgData{Data: data}, nil
	default:
		return nil, fmt.Errorf("bad argument type %v", kind)
	}
}

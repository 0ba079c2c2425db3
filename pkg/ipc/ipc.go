// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package ipc implements the control protocol used to hand generated programs to an executor process.
package ipc

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/resfuzz/resgen/pkg/capture"
	"github.com/resfuzz/resgen/prog"
)

// Configuration flags for Config.Flags.
type EnvFlags uint64

const (
	FlagDebug            EnvFlags = 1 << iota // debug output from executor
	FlagSignal                                // collect feedback signals (coverage)
	FlagSandboxSetuid                         // impersonate nobody user
	FlagSandboxNamespace                      // use namespaces for sandboxing
)

// Per-exec flags for ExecOpts.Flags.
type ExecFlags uint64

const (
	FlagCollectCover ExecFlags = 1 << iota // collect coverage
	FlagDedupCover                         // deduplicate coverage in executor
	FlagThreaded                           // use multiple threads to mitigate blocked syscalls
)

type ExecOpts struct {
	Flags ExecFlags
}

// ExecutorFailure is returned from Exec and Handshake when executor terminates
// by calling fail function. This is considered a logical error (a failed assert).
type ExecutorFailure string

func (err ExecutorFailure) Error() string {
	return string(err)
}

var (
	// ErrKernelBug is wrapped by the error returned when the executor detected a kernel bug.
	ErrKernelBug = errors.New("detected kernel bug")
	// ErrRetry means that the executor hit a temporary error and the program may be executed again.
	ErrRetry = errors.New("executor asked to retry")
)

// Config is the configuration for Conn.
type Config struct {
	// Flags are configuation flags, defined above.
	Flags EnvFlags

	// Timeout is the execution timeout for a single program.
	// It is enforced only if the executor output supports read deadlines (e.g. *os.File).
	Timeout time.Duration

	// Pid identifies the executor in requests and error messages.
	Pid int
}

type CallFlags uint32

const (
	CallExecuted CallFlags = 1 << iota // was started at all
	CallFinished                       // finished executing (rather than blocked forever)
	CallBlocked                        // finished but blocked during execution
)

type CallInfo struct {
	Flags  CallFlags
	Signal []uint32 // feedback signal, filled if FlagSignal is set
	Cover  []uint32 // per-call coverage, filled if FlagSignal is set and FlagCollectCover is set
	Errno  int      // call errno (0 if the call was successful)
}

const (
	statusFail  = 67
	statusError = 68
	statusRetry = 69

	// Upper bound on signal+cover entries in a single call reply.
	maxCoverSize = 1 << 20

	// How long to wait for the executor to close stderr after it failed.
	outputGrace = time.Second
)

// Conn talks to a single executor over its stdin (w) and stdout (r).
// Starting and sandboxing the executor process is up to the caller.
type Conn struct {
	config *Config
	r      io.Reader
	w      io.Writer
	stderr *capture.Tail

	StatExecs uint64
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// NewConn creates a connection over executor pipes. stderr, if not nil,
// captures the executor error output; it is attached to executor failures.
func NewConn(config *Config, r io.Reader, w io.Writer, stderr *capture.Tail) *Conn {
	return &Conn{
		config: config,
		r:      r,
		w:      w,
		stderr: stderr,
	}
}

// Handshake sends handshakeReq and waits for handshakeReply (sandbox setup can take significant time).
func (c *Conn) Handshake() error {
	req := &handshakeReq{
		magic: inMagic,
		flags: uint64(c.config.Flags),
		pid:   uint64(c.config.Pid),
	}
	if err := writeRecord(c.w, req); err != nil {
		return c.errorf("failed to write control pipe: %w", err)
	}
	c.setDeadline(time.Minute)
	reply := &handshakeReply{}
	if err := readRecord(c.r, reply); err != nil {
		return c.failure(c.errorf("failed to read handshake reply: %w", err))
	}
	if reply.magic != outMagic {
		return c.errorf("bad handshake reply magic 0x%x", reply.magic)
	}
	return nil
}

// Exec sends program p to the executor and returns per-call information.
// Calls that the executor did not report have zero CallInfo.
func (c *Conn) Exec(opts *ExecOpts, p *prog.Prog) ([]CallInfo, error) {
	progData, err := p.SerializeForExec()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize: %w", err)
	}
	req := &executeReq{
		magic:     inMagic,
		envFlags:  uint64(c.config.Flags),
		execFlags: uint64(opts.Flags),
		pid:       uint64(c.config.Pid),
		progSize:  uint64(len(progData)),
	}
	if err := writeRecord(c.w, req); err != nil {
		return nil, c.errorf("failed to write control pipe: %w", err)
	}
	if _, err := c.w.Write(progData); err != nil {
		return nil, c.errorf("failed to write control pipe: %w", err)
	}
	atomic.AddUint64(&c.StatExecs, 1)
	// At this point program is executing.
	c.setDeadline(c.config.Timeout)
	info := make([]CallInfo, len(p.Calls))
	seen := make([]bool, len(p.Calls))
	for {
		reply := &executeReply{}
		if err := readRecord(c.r, reply); err != nil {
			return nil, c.failure(c.errorf("failed to read execute reply: %w", err))
		}
		if reply.magic != outMagic {
			return nil, c.errorf("got bad reply magic 0x%x", reply.magic)
		}
		if reply.done != 0 {
			return info, c.status(reply.status)
		}
		if err := c.readCall(p, info, seen); err != nil {
			return nil, err
		}
	}
}

func (c *Conn) readCall(p *prog.Prog, info []CallInfo, seen []bool) error {
	reply := &callReply{}
	if err := readRecord(c.r, reply); err != nil {
		return c.errorf("failed to read call reply: %w", err)
	}
	if int(reply.index) >= len(info) {
		return c.errorf("bad call index %v/%v", reply.index, len(info))
	}
	if num := p.Calls[reply.index].Meta.ID; int(reply.num) != num {
		return c.errorf("wrong call %v num %v/%v", reply.index, reply.num, num)
	}
	if seen[reply.index] {
		return c.errorf("duplicate reply for call %v/%v", reply.index, reply.num)
	}
	seen[reply.index] = true
	if uint64(reply.signalSize)+uint64(reply.coverSize) > maxCoverSize {
		return c.errorf("call %v/%v: cover overflow: %v+%v",
			reply.index, reply.num, reply.signalSize, reply.coverSize)
	}
	payload := make([]byte, (reply.signalSize+reply.coverSize)*4)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return c.errorf("call %v/%v: failed to read signal: %w", reply.index, reply.num, err)
	}
	inf := &info[reply.index]
	inf.Errno = int(reply.errno)
	inf.Flags = CallFlags(reply.flags)
	inf.Signal, _ = readUint32Array(&payload, reply.signalSize)
	inf.Cover, _ = readUint32Array(&payload, reply.coverSize)
	return nil
}

// Handle magic values returned by executor.
func (c *Conn) status(status uint32) error {
	switch status {
	case 0:
		return nil
	case statusFail:
		return ExecutorFailure(fmt.Sprintf("executor %v: failed: %s", c.config.Pid, c.output()))
	case statusError:
		return fmt.Errorf("executor %v: %w\n%s", c.config.Pid, ErrKernelBug, c.output())
	case statusRetry:
		// This is a temporal error (ENOMEM) or an unfortunate
		// program that messes with testing setup (e.g. kills executor
		// loop process).
		return ErrRetry
	default:
		return c.errorf("exit status %d", status)
	}
}

// failure turns an I/O error into ExecutorFailure if the executor printed something before dying.
// A hung executor keeps stderr open, then err is returned as is and the caller should kill it.
func (c *Conn) failure(err error) error {
	if output := c.output(); len(output) != 0 {
		return ExecutorFailure(fmt.Sprintf("%v\n%s", err, output))
	}
	return err
}

// output returns the captured executor stderr once the executor closes it.
func (c *Conn) output() []byte {
	if c.stderr == nil {
		return nil
	}
	select {
	case <-c.stderr.Done():
		return c.stderr.Wait()
	case <-time.After(outputGrace):
		return nil
	}
}

func (c *Conn) errorf(msg string, args ...interface{}) error {
	return fmt.Errorf("executor %v: %w", c.config.Pid, fmt.Errorf(msg, args...))
}

func (c *Conn) setDeadline(timeout time.Duration) {
	d, ok := c.r.(readDeadliner)
	if !ok || timeout == 0 {
		return
	}
	d.SetReadDeadline(time.Now().Add(timeout))
}

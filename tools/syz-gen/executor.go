// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/resfuzz/resgen/pkg/capture"
	"github.com/resfuzz/resgen/pkg/gencfg"
	"github.com/resfuzz/resgen/pkg/ipc"
	"github.com/resfuzz/resgen/pkg/log"
	"github.com/resfuzz/resgen/prog"
)

// executor runs generated programs in an executor process.
type executor struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	svc     *capture.Service
	conn    *ipc.Conn
	retries int
}

func startExecutor(ctx context.Context, cfg *gencfg.Config) (*executor, error) {
	cmd := exec.CommandContext(ctx, cfg.Executor)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start executor binary: %w", err)
	}
	exe := &executor{
		cmd:   cmd,
		stdin: stdin,
		svc:   capture.NewService(),
	}
	if err := exe.svc.Start(ctx); err != nil {
		exe.close()
		return nil, err
	}
	tail, err := exe.svc.Tail(stderr, stderrTail)
	if err != nil {
		exe.close()
		return nil, err
	}
	var flags ipc.EnvFlags
	if cfg.Debug {
		flags |= ipc.FlagDebug
	}
	exe.conn = ipc.NewConn(&ipc.Config{Flags: flags, Timeout: execTimeout}, stdout, stdin, tail)
	if err := exe.conn.Handshake(); err != nil {
		exe.kill()
		exe.close()
		return nil, err
	}
	return exe, nil
}

func (exe *executor) exec(p *prog.Prog) error {
	info, err := exe.conn.Exec(&ipc.ExecOpts{}, p)
	switch {
	case errors.Is(err, ipc.ErrRetry):
		exe.retries++
		return nil
	case errors.Is(err, ipc.ErrKernelBug):
		// The executor exits after reporting the bug.
		return fmt.Errorf("%w\nPROGRAM:\n%s", err, p.Serialize())
	case err != nil:
		// A timed out executor may still hold its pipes open.
		exe.kill()
		return err
	}
	for i, inf := range info {
		log.Logf(2, "call %v: %v flags=%v errno=%v", i, p.Calls[i].Meta.Name, inf.Flags, inf.Errno)
	}
	return nil
}

func (exe *executor) kill() {
	if err := exe.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Logf(1, "failed to kill executor: %v", err)
	}
}

func (exe *executor) close() {
	exe.stdin.Close()
	// Stop closes stderr, all reads from the pipes must be done before Wait.
	exe.svc.Stop()
	if err := exe.cmd.Wait(); err != nil {
		log.Logf(1, "executor exited: %v", err)
	}
	if exe.conn != nil {
		log.Logf(0, "executed %v programs, %v retries", exe.conn.StatExecs, exe.retries)
	}
}

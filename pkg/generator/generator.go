// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package generator drives a generation session: it runs a number of workers that generate
// programs for a single target and hands the programs to a sink.
package generator

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/resfuzz/resgen/pkg/log"
	"github.com/resfuzz/resgen/prog"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	// Number of parallel workers, 1 if not set.
	Procs int
	// Worker i draws random numbers from a source seeded with Seed+i*1e12.
	Seed int64
	// Validate every generated program and panic on failure.
	Debug bool
	// Register stats as Prometheus metrics.
	Prometheus bool
	// Period of progress logging, no progress logging if 0.
	LogPeriod time.Duration
}

type Generator struct {
	*Stats
	Session string

	target *prog.Target
	pool   prog.ValuePool
	cfg    Config
}

// New creates a generator. pool may be nil.
// The target and the pool are shared by all workers and must not be modified during Run.
func New(target *prog.Target, pool prog.ValuePool, cfg Config) *Generator {
	if cfg.Procs <= 0 {
		cfg.Procs = 1
	}
	return &Generator{
		Stats:   newStats(cfg.Prometheus),
		Session: uuid.NewString(),
		target:  target,
		pool:    pool,
		cfg:     cfg,
	}
}

// Run generates count programs (or runs until ctx is cancelled if count is 0) and passes them to sink.
// Worker i generates programs i, i+Procs, i+2*Procs and so on, so with the same config
// every worker produces the same sequence. Sink calls are serialized, but the order of programs
// from different workers is not deterministic.
// A generation or sink error stops the session and is returned. Cancellation of ctx is checked
// between programs and is not an error.
func (g *Generator) Run(ctx context.Context, count int, sink func(*prog.Prog) error) error {
	log.Logf(0, "session %v: generating %v programs for %v with %v procs, seed %v",
		g.Session, countString(count), g.target.Name, g.cfg.Procs, g.cfg.Seed)
	eg, ctx := errgroup.WithContext(ctx)
	var sinkMu sync.Mutex
	for pid := 0; pid < g.cfg.Procs; pid++ {
		share := 0
		if count != 0 {
			share = count / g.cfg.Procs
			if pid < count%g.cfg.Procs {
				share++
			}
			if share == 0 {
				continue
			}
		}
		eg.Go(func() error {
			rs := rand.NewSource(g.cfg.Seed + int64(pid)*1e12)
			for i := 0; count == 0 || i < share; i++ {
				if ctx.Err() != nil {
					return nil
				}
				p, err := g.generate(rs)
				if err != nil {
					return fmt.Errorf("proc %v: %w", pid, err)
				}
				sinkMu.Lock()
				err = sink(p)
				sinkMu.Unlock()
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	done := make(chan struct{})
	if g.cfg.LogPeriod != 0 {
		go g.logProgress(done)
	}
	err := eg.Wait()
	close(done)
	log.Logf(0, "session %v: done: %v", g.Session, g.Stats)
	return err
}

func (g *Generator) generate(rs rand.Source) (*prog.Prog, error) {
	start := time.Now()
	p, trace, err := g.target.GenerateTrace(rs, g.pool)
	if err != nil {
		g.statErrors.Add(1)
		return nil, err
	}
	g.genTime.Save(time.Since(start))
	if g.cfg.Debug {
		if err := p.Validate(); err != nil {
			panic(fmt.Sprintf("generated invalid program: %v\n%s", err, p.Serialize()))
		}
	}
	resourceCalls := 0
	for _, sel := range trace {
		if sel.Selection != prog.SelectRandom {
			resourceCalls++
		}
	}
	g.statGenerated.Add(1)
	g.statCalls.Add(len(p.Calls))
	g.statProgLen.Add(len(p.Calls))
	g.statResourceCalls.Add(resourceCalls)
	return p, nil
}

func (g *Generator) logProgress(done <-chan struct{}) {
	ticker := time.NewTicker(g.cfg.LogPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-done:
			return
		}
		log.Logf(0, "session %v: %v", g.Session, g.Stats)
	}
}

func countString(count int) string {
	if count == 0 {
		return "unlimited"
	}
	return fmt.Sprint(count)
}

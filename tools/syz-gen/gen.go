// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// syz-gen generates programs for a target description and stores them or passes them to an executor.
// Usage:
//
//	syz-gen -config gen.cfg
//	syz-gen -target sys.yaml -count 100 -output progs -exec
//
// Flags override the corresponding config values.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/resfuzz/resgen/pkg/config"
	"github.com/resfuzz/resgen/pkg/corpus"
	"github.com/resfuzz/resgen/pkg/gencfg"
	"github.com/resfuzz/resgen/pkg/generator"
	"github.com/resfuzz/resgen/pkg/hash"
	"github.com/resfuzz/resgen/pkg/log"
	"github.com/resfuzz/resgen/pkg/tool"
	"github.com/resfuzz/resgen/prog"
)

var (
	flagConfig   = flag.String("config", "", "configuration file")
	flagTarget   = flag.String("target", "", "target description file")
	flagPool     = flag.String("pool", "", "value pool file")
	flagProcs    = flag.Int("procs", 1, "number of parallel generation workers")
	flagCount    = flag.Int("count", 0, "number of programs to generate (0 - until interrupted)")
	flagSeed     = flag.Int64("seed", 0, "random seed (current time if not set)")
	flagOutput   = flag.String("output", "", "output directory (stdout if not set)")
	flagExec     = flag.Bool("exec", false, "also store programs in exec format")
	flagHTTP     = flag.String("http", "", "address to serve metrics on")
	flagExecutor = flag.String("executor", "", "path to executor binary to run programs")
	flagDebug    = flag.Bool("debug", false, "validate every generated program")
)

const (
	logPeriod   = 10 * time.Second
	hashLen     = 16
	stderrTail  = 128 << 10
	execTimeout = time.Minute
)

func main() {
	explicit, stop := tool.Init()
	defer stop()
	cfg, err := loadConfig(*flagConfig, explicit)
	if err != nil {
		tool.Fail(err)
	}
	if cfg.HTTP != "" {
		log.EnableLogCaching(1000, 1<<20)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if err := run(ctx, cfg, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(filename string, explicit map[string]bool) (*gencfg.Config, error) {
	cfg := gencfg.DefaultValues()
	if filename != "" {
		if err := config.LoadFile(filename, cfg); err != nil {
			return nil, err
		}
	}
	overrides := []struct {
		flag string
		set  func()
	}{
		{"target", func() { cfg.Target = *flagTarget }},
		{"pool", func() { cfg.Pool = *flagPool }},
		{"procs", func() { cfg.Procs = *flagProcs }},
		{"count", func() { cfg.Count = *flagCount }},
		{"seed", func() { cfg.Seed = *flagSeed }},
		{"output", func() { cfg.Output = *flagOutput }},
		{"exec", func() { cfg.ExecFormat = *flagExec }},
		{"http", func() { cfg.HTTP = *flagHTTP }},
		{"executor", func() { cfg.Executor = *flagExecutor }},
		{"debug", func() { cfg.Debug = *flagDebug }},
	}
	for _, o := range overrides {
		if explicit[o.flag] {
			o.set()
		}
	}
	if err := gencfg.Complete(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *gencfg.Config, stdout io.Writer) error {
	target, err := cfg.LoadTarget()
	if err != nil {
		return err
	}
	log.Logf(0, "loaded target %v: %v syscalls, %v enabled, revision %v",
		target.Name, len(target.Syscalls), len(target.EnabledSyscalls()), target.Revision)
	for c, reason := range target.DisabledCalls {
		log.Logf(1, "disabled %v: %v", c.Name, reason)
	}
	var pool prog.ValuePool
	if cfg.Pool != "" {
		p, err := corpus.LoadFile(cfg.Pool)
		if err != nil {
			return err
		}
		log.Logf(0, "loaded value pool: %v", p)
		pool = p
	}
	if cfg.Output != "" {
		if err := os.MkdirAll(cfg.Output, 0755); err != nil {
			return fmt.Errorf("failed to create output dir: %w", err)
		}
	}
	if cfg.HTTP != "" {
		addr, err := serveHTTP(ctx, cfg.HTTP)
		if err != nil {
			return err
		}
		log.Logf(0, "serving metrics on http://%v/metrics", addr)
	}
	var exe *executor
	if cfg.Executor != "" {
		if exe, err = startExecutor(ctx, cfg); err != nil {
			return err
		}
		defer exe.close()
	}
	gen := generator.New(target, pool, generator.Config{
		Procs:      cfg.Procs,
		Seed:       cfg.Seed,
		Debug:      cfg.Debug,
		Prometheus: cfg.HTTP != "",
		LogPeriod:  logPeriod,
	})
	return gen.Run(ctx, cfg.Count, func(p *prog.Prog) error {
		if err := storeProg(cfg, stdout, p); err != nil {
			return err
		}
		if exe != nil {
			return exe.exec(p)
		}
		return nil
	})
}

// storeProg prints the program to stdout or writes it to the output dir named by hash of its text.
func storeProg(cfg *gencfg.Config, stdout io.Writer, p *prog.Prog) error {
	data := p.Serialize()
	if cfg.Output == "" {
		_, err := fmt.Fprintf(stdout, "%s\n", data)
		return err
	}
	sig := hash.Hash(data)
	file := filepath.Join(cfg.Output, sig.Short(hashLen))
	if err := os.WriteFile(file, data, 0644); err != nil {
		return fmt.Errorf("failed to write program: %w", err)
	}
	if !cfg.ExecFormat {
		return nil
	}
	exec, err := p.SerializeForExec()
	if err != nil {
		return fmt.Errorf("failed to serialize program: %w\n%s", err, data)
	}
	if err := os.WriteFile(file+".exec", exec, 0644); err != nil {
		return fmt.Errorf("failed to write program: %w", err)
	}
	return nil
}

// serveHTTP serves Prometheus metrics and the recent log output until ctx is cancelled.
func serveHTTP(ctx context.Context, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %v: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/log", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, log.CachedLogOutput())
	})
	srv := &http.Server{Handler: handlers.CompressHandler(mux)}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("failed to serve http: %v", err)
		}
	}()
	return ln.Addr(), nil
}

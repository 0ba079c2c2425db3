// Copyright 2020 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package tool contains various helper utilitites useful for implementation of command line tools.
package tool

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
)

// Init parses command line flags and sets up profiling.
// It returns the set of explicitly specified flags and a function that must be deferred by main.
func Init() (map[string]bool, func()) {
	prof := new(Profiles)
	flag.StringVar(&prof.CPU, "cpuprofile", "", "write CPU profile to this file")
	flag.StringVar(&prof.Mem, "memprofile", "", "write memory profile to this file")
	set, err := ParseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		Fail(err)
	}
	stop, err := prof.Start()
	if err != nil {
		Fail(err)
	}
	return set, func() {
		if err := stop(); err != nil {
			Fail(err)
		}
	}
}

// Profiles says where to write CPU and heap profiles, empty means no profile.
type Profiles struct {
	CPU string
	Mem string
}

// Start starts CPU profiling. The returned function stops it and writes the heap profile.
func (prof *Profiles) Start() (func() error, error) {
	var cpu *os.File
	if prof.CPU != "" {
		f, err := os.Create(prof.CPU)
		if err != nil {
			return nil, fmt.Errorf("failed to create cpuprofile file: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to start cpu profile: %w", err)
		}
		cpu = f
	}
	return func() error {
		if cpu != nil {
			pprof.StopCPUProfile()
			if err := cpu.Close(); err != nil {
				return err
			}
		}
		if prof.Mem == "" {
			return nil
		}
		f, err := os.Create(prof.Mem)
		if err != nil {
			return fmt.Errorf("failed to create memprofile file: %w", err)
		}
		defer f.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			return fmt.Errorf("failed to write mem profile: %w", err)
		}
		return nil
	}, nil
}

func Failf(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, msg+"\n", args...)
	os.Exit(1)
}

func Fail(err error) {
	Failf("%v", err)
}

// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package gencfg

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/resfuzz/resgen/pkg/compiler"
	"github.com/resfuzz/resgen/pkg/config"
	"github.com/resfuzz/resgen/prog"
)

const maxProcs = 64

func LoadData(data []byte) (*Config, error) {
	cfg := DefaultValues()
	if err := config.LoadData(data, cfg); err != nil {
		return nil, err
	}
	if err := Complete(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadFile(filename string) (*Config, error) {
	cfg := DefaultValues()
	if err := config.LoadFile(filename, cfg); err != nil {
		return nil, err
	}
	if err := Complete(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultValues returns config with default values, it can be filled by flags before Complete.
func DefaultValues() *Config {
	return &Config{
		Procs: 1,
	}
}

// Complete checks the config and fills in values that depend on other values.
func Complete(cfg *Config) error {
	if cfg.Target == "" {
		return fmt.Errorf("config param target is empty")
	}
	if cfg.Procs < 1 || cfg.Procs > maxProcs {
		return fmt.Errorf("bad config param procs: '%v', want [1, %v]", cfg.Procs, maxProcs)
	}
	if cfg.Count < 0 {
		return fmt.Errorf("bad config param count: '%v'", cfg.Count)
	}
	if cfg.ExecFormat && cfg.Output == "" {
		return fmt.Errorf("exec_format is set, but output is empty")
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	for _, path := range []*string{&cfg.Target, &cfg.Pool, &cfg.Output, &cfg.Executor} {
		if *path == "" {
			continue
		}
		abs, err := filepath.Abs(*path)
		if err != nil {
			return fmt.Errorf("failed to resolve %v: %w", *path, err)
		}
		*path = abs
	}
	return nil
}

// LoadTarget compiles the target description, leaving only the enabled syscalls.
// Syscalls that become unreachable because constructors of their resources are disabled
// end up in DisabledCalls of the returned target.
func (cfg *Config) LoadTarget() (*prog.Target, error) {
	desc, err := compiler.ParseFile(cfg.Target)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(desc.Syscalls))
	for i, c := range desc.Syscalls {
		names[i] = c.Name
	}
	enabled, err := ParseEnabledSyscalls(names, cfg.EnabledSyscalls, cfg.DisabledSyscalls)
	if err != nil {
		return nil, err
	}
	var syscalls []compiler.Syscall
	for _, c := range desc.Syscalls {
		if enabled[c.Name] {
			syscalls = append(syscalls, c)
		}
	}
	desc.Syscalls = syscalls
	return compiler.Compile(desc)
}

// ParseEnabledSyscalls matches enabled/disabled patterns against syscall names.
// Every pattern must match at least one syscall.
func ParseEnabledSyscalls(names, enabled, disabled []string) (map[string]bool, error) {
	syscalls := make(map[string]bool)
	if len(enabled) != 0 {
		for _, c := range enabled {
			n := 0
			for _, name := range names {
				if matchSyscall(name, c) {
					syscalls[name] = true
					n++
				}
			}
			if n == 0 {
				return nil, fmt.Errorf("unknown enabled syscall: %v", c)
			}
		}
	} else {
		for _, name := range names {
			syscalls[name] = true
		}
	}
	for _, c := range disabled {
		n := 0
		for _, name := range names {
			if matchSyscall(name, c) {
				delete(syscalls, name)
				n++
			}
		}
		if n == 0 {
			return nil, fmt.Errorf("unknown disabled syscall: %v", c)
		}
	}
	if len(syscalls) == 0 {
		return nil, fmt.Errorf("all syscalls are disabled by disable_syscalls in config")
	}
	return syscalls, nil
}

func matchSyscall(name, pattern string) bool {
	if pattern == name || strings.HasPrefix(name, pattern+"$") {
		return true
	}
	if len(pattern) > 1 && pattern[len(pattern)-1] == '*' &&
		strings.HasPrefix(name, pattern[:len(pattern)-1]) {
		return true
	}
	return false
}

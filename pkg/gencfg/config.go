// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package gencfg holds the configuration of a generation session.
package gencfg

type Config struct {
	// Path to the target description file.
	Target string `json:"target"`
	// Path to the value pool file (optional, may be xz-compressed).
	Pool string `json:"pool,omitempty"`
	// Number of parallel generation workers.
	Procs int `json:"procs"`
	// Number of programs to generate, 0 means generate until interrupted.
	Count int `json:"count"`
	// Random seed of the session. Worker i uses seed+i*1e12.
	// If not set, current time is used.
	Seed int64 `json:"seed,omitempty"`
	// Directory where generated programs are stored (optional).
	// Programs are named by the hash of their text. If empty, programs are printed to stdout.
	Output string `json:"output,omitempty"`
	// Store programs in exec format (<hash>.exec) along with the text form.
	ExecFormat bool `json:"exec_format,omitempty"`
	// TCP address to serve metrics on (e.g. "localhost:50000", optional).
	HTTP string `json:"http,omitempty"`
	// Path to executor binary (optional). If set, every program is also executed.
	Executor string `json:"executor,omitempty"`
	// List of syscalls to generate (optional). Patterns are:
	//	"foo"  - foo and all of its variants (foo$bar)
	//	"foo*" - all syscalls that start with foo
	//	"foo$*" - only variants of foo
	EnabledSyscalls []string `json:"enable_syscalls,omitempty"`
	// List of syscalls that should not be generated (optional), same patterns.
	DisabledSyscalls []string `json:"disable_syscalls,omitempty"`
	// Validate every generated program.
	Debug bool `json:"debug,omitempty"`
}

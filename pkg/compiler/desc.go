// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package compiler

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Description is the textual description of a target as stored in YAML files:
//
//	name: test
//	resources:
//	  - {name: fd, base: int32, values: [-1]}
//	  - {name: sock, base: fd}
//	flags:
//	  - {name: open_flags, values: [0, 1, 2, 0x40]}
//	structs:
//	  - name: pipefds
//	    fields: ["rfd fd", "wfd fd"]
//	syscalls:
//	  - name: open
//	    args: ["file ptr[in, filename]", "flags flags[open_flags, int32]"]
//	    ret: fd
//	  - name: pipe
//	    args: ["fds ptr[out, pipefds]"]
type Description struct {
	Name       string `yaml:"name"`
	PtrSize    uint64 `yaml:"ptr_size"`
	PageSize   uint64 `yaml:"page_size"`
	NumPages   uint64 `yaml:"num_pages"`
	DataOffset uint64 `yaml:"data_offset"`

	Resources []Resource `yaml:"resources"`
	Flags     []Flags    `yaml:"flags"`
	Structs   []Struct   `yaml:"structs"`
	Syscalls  []Syscall  `yaml:"syscalls"`
}

// Resource is based either on an integer type (int8..int64, intptr) or on another resource.
type Resource struct {
	Name   string  `yaml:"name"`
	Base   string  `yaml:"base"`
	Values []int64 `yaml:"values"`
}

type Flags struct {
	Name   string  `yaml:"name"`
	Values []int64 `yaml:"values"`
}

type Struct struct {
	Name   string   `yaml:"name"`
	Fields []string `yaml:"fields"`
}

type Syscall struct {
	Name string   `yaml:"name"`
	Args []string `yaml:"args"`
	Ret  string   `yaml:"ret"`
}

func ParseFile(filename string) (*Description, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read description: %w", err)
	}
	desc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", filename, err)
	}
	return desc, nil
}

func Parse(data []byte) (*Description, error) {
	desc := new(Description)
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(desc); err != nil {
		return nil, fmt.Errorf("failed to parse description: %w", err)
	}
	return desc, nil
}

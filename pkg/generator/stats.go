// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package generator

import (
	"fmt"
	"time"

	"github.com/resfuzz/resgen/pkg/stat"
)

type Stats struct {
	Set *stat.Set

	statGenerated     *stat.Val
	statCalls         *stat.Val
	statProgLen       *stat.Val
	statResourceCalls *stat.Val
	statErrors        *stat.Val
	genTime           stat.Average[time.Duration]
}

func newStats(prometheus bool) *Stats {
	set := stat.NewSet()
	s := &Stats{Set: set}
	metric := func(name string) []any {
		if !prometheus {
			return nil
		}
		return []any{stat.Prometheus(name)}
	}
	s.statGenerated = set.New("programs", "Number of generated programs",
		append([]any{stat.Console, stat.Rate{}}, metric("resgen_programs")...)...)
	s.statCalls = set.New("calls", "Number of generated calls",
		append([]any{stat.Console}, metric("resgen_calls")...)...)
	s.statProgLen = set.New("prog len", "Number of calls in generated programs",
		stat.Console, stat.Distribution{})
	s.statResourceCalls = set.New("resource calls",
		"Number of calls selected to produce a resource required by a later call",
		append([]any{stat.Console}, metric("resgen_resource_calls")...)...)
	s.statErrors = set.New("errors", "Number of failed generation attempts",
		append([]any{stat.Console}, metric("resgen_errors")...)...)
	set.New("gen time", "Average time to generate a program",
		append([]any{stat.Console}, s.genTime.Metric(time.Duration.String)...)...)
	return s
}

// Generated returns the number of programs generated so far.
func (s *Stats) Generated() int {
	return s.statGenerated.Val()
}

func (s *Stats) String() string {
	res := ""
	for _, v := range s.Set.Collect(stat.Console) {
		if res != "" {
			res += ", "
		}
		res += fmt.Sprintf("%v: %v", v.Name, v.Value)
	}
	return res
}

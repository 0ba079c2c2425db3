// Copyright 2020 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package tool

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// ParseFlags parses args and returns names of the flags that were given explicitly,
// either on the command line or through SYZ_GEN_<NAME> environment variables.
// Explicit flags take precedence over config file values.
func ParseFlags(set *flag.FlagSet, args []string) (map[string]bool, error) {
	if err := set.Parse(args); err != nil {
		return nil, err
	}
	explicit := make(map[string]bool)
	set.Visit(func(f *flag.Flag) {
		explicit[f.Name] = true
	})
	var err error
	set.VisitAll(func(f *flag.Flag) {
		if err != nil || explicit[f.Name] {
			return
		}
		val, ok := os.LookupEnv(envName(f.Name))
		if !ok {
			return
		}
		if err1 := f.Value.Set(val); err1 != nil {
			err = fmt.Errorf("bad value %q for %v: %w", val, envName(f.Name), err1)
			return
		}
		explicit[f.Name] = true
	})
	if err != nil {
		return nil, err
	}
	return explicit, nil
}

func envName(flagName string) string {
	return "SYZ_GEN_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

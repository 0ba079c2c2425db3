// Copyright 2022 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package testutil

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// IterCount returns the number of iterations for randomized tests.
func IterCount() int {
	iters := 1000
	if testing.Short() {
		iters /= 10
	}
	if RaceEnabled {
		iters /= 10
	}
	return iters
}

// RandSource returns a time seeded random source and logs the seed.
// SYZ_SEED overrides the seed to reproduce a failing run, CI runs always use seed 0.
func RandSource(t testing.TB) rand.Source {
	var seed int64
	switch fixed := os.Getenv("SYZ_SEED"); {
	case os.Getenv("CI") != "":
	case fixed != "":
		v, err := strconv.ParseInt(fixed, 0, 64)
		if err != nil {
			t.Fatalf("bad SYZ_SEED %q: %v", fixed, err)
		}
		seed = v
	default:
		seed = time.Now().UnixNano()
	}
	t.Logf("seed=%v", seed)
	return rand.NewSource(seed)
}

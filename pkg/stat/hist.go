// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package stat

import (
	"sync"

	"github.com/VividCortex/gohistogram"
)

const histogramBuckets = 255

// histogram is a lazily created streaming histogram safe for concurrent use.
type histogram struct {
	mu   sync.Mutex
	hist *gohistogram.NumericHistogram
}

func (h *histogram) add(val float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hist == nil {
		h.hist = gohistogram.NewHistogram(histogramBuckets)
	}
	h.hist.Add(val)
}

func (h *histogram) mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hist == nil {
		return 0
	}
	return h.hist.Mean()
}

func (h *histogram) quantile(q float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hist == nil {
		return 0
	}
	return h.hist.Quantile(q)
}

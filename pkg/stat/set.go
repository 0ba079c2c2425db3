// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package stat provides counters, rates and distributions for instrumenting long running sessions.
// Metrics are registered in a Set, which produces a snapshot of all of them for periodic logs:
//
//	set := stat.NewSet()
//	statProgs := set.New("programs", "Number of generated programs", stat.Rate{}, stat.Console)
//	statProgs.Add(1)
//	set.New("queue", "Queue length", stat.LenOf(&queue, &mu))
package stat

import (
	"cmp"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// UI is a snapshot of a single metric.
type UI struct {
	Name  string
	Desc  string
	Level Level
	Value string
	V     int
}

// Set is a registry of metrics.
type Set struct {
	mu    sync.Mutex
	vals  map[string]*Val
	start time.Time
	now   func() time.Time
}

func NewSet() *Set {
	return &Set{
		vals:  make(map[string]*Val),
		start: time.Now(),
		now:   time.Now,
	}
}

// Options for New.

// Level controls if the metric should be printed to console in periodic logs
// or only reported in the full dump.
type Level int

const (
	All Level = iota
	Console
)

// Prometheus exports the metric to Prometheus under the given name.
type Prometheus string

// Rate says to report the metric rate per unit of time along with the total value.
type Rate struct{}

// Distribution says to collect histogram of individual samples, the metric value is their mean.
type Distribution struct{}

// LenOf reads the metric value from the given slice/map/chan.
func LenOf(containerPtr any, mu *sync.RWMutex) func() int {
	v := reflect.ValueOf(containerPtr)
	_ = v.Elem().Len() // panics if container is not slice/map/chan
	return func() int {
		mu.RLock()
		defer mu.RUnlock()
		return v.Elem().Len()
	}
}

// New registers a new metric. Besides the option types above, opts may contain
// a 'func() int' to read the metric value from and a 'func(int, time.Duration) string'
// to format the value (the duration is the time since the set was created).
func (s *Set) New(name, desc string, opts ...any) *Val {
	v := &Val{
		name:   name,
		desc:   desc,
		format: func(v int, _ time.Duration) string { return strconv.Itoa(v) },
	}
	for _, o := range opts {
		v.apply(o)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[name] = v
	return v
}

// Collect returns all metrics with at least the given level,
// console metrics go first and each group is sorted by name.
func (s *Set) Collect(level Level) []UI {
	period := max(s.now().Sub(s.start), time.Second)
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []UI
	for _, v := range s.vals {
		if v.level < level {
			continue
		}
		val := v.Val()
		res = append(res, UI{
			Name:  v.name,
			Desc:  v.desc,
			Level: v.level,
			Value: v.format(val, period),
			V:     val,
		})
	}
	slices.SortFunc(res, func(a, b UI) int {
		if c := cmp.Compare(b.Level, a.Level); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return res
}

type Val struct {
	name   string
	desc   string
	level  Level
	val    atomic.Int64
	ext    func() int
	format func(int, time.Duration) string
	hist   *histogram
}

func (v *Val) apply(opt any) {
	switch opt := opt.(type) {
	case Level:
		v.level = opt
	case Rate:
		v.format = formatRate
	case Distribution:
		v.hist = new(histogram)
	case func() int:
		v.ext = opt
	case func(int, time.Duration) string:
		v.format = opt
	case Prometheus:
		gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: string(opt),
			Help: v.desc,
		}, func() float64 { return float64(v.Val()) })
		if err := prometheus.Register(gauge); err != nil {
			// Sessions in the same process export the same metrics, the first one wins.
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				panic(fmt.Sprintf("stat %v: %v", v.name, err))
			}
		}
	default:
		panic(fmt.Sprintf("unknown stats option %#v", opt))
	}
}

func (v *Val) Add(val int) {
	switch {
	case v.ext != nil:
		panic(fmt.Sprintf("stat %v is in external mode", v.name))
	case v.hist != nil:
		v.hist.add(float64(val))
	default:
		v.val.Add(int64(val))
	}
}

// Val returns the current value; for distributions it is the mean sample.
func (v *Val) Val() int {
	switch {
	case v.ext != nil:
		return v.ext()
	case v.hist != nil:
		return int(v.hist.mean())
	default:
		return int(v.val.Load())
	}
}

// Quantile returns an approximate q-quantile of a distribution metric.
func (v *Val) Quantile(q float64) float64 {
	if v.hist == nil {
		panic(fmt.Sprintf("stat %v is not a distribution", v.name))
	}
	return v.hist.quantile(q)
}

func formatRate(v int, period time.Duration) string {
	secs := max(int(period.Seconds()), 1)
	for _, unit := range []struct {
		name string
		mult int
	}{{"sec", 1}, {"min", 60}} {
		if x := v * unit.mult / secs; x >= 10 {
			return fmt.Sprintf("%v (%v/%v)", v, x, unit.name)
		}
	}
	return fmt.Sprintf("%v (%v/hour)", v, v*60*60/secs)
}

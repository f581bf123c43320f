// Prometheus-compatible counters, gauges and histograms
//
// Each metric is a family of series keyed by label set. A Registry renders
// its families in the Prometheus text exposition format, series sorted by
// label key so the output is stable between scrapes.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// MetricType is the Prometheus TYPE of a family.
type MetricType int

const (
	TypeCounter MetricType = iota
	TypeGauge
	TypeHistogram
)

func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	}
	return "unknown"
}

// Labels identifies one series within a family.
type Labels map[string]string

func (l Labels) sortedKeys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Key returns a canonical identity for the label set.
func (l Labels) Key() string {
	var sb strings.Builder
	for i, k := range l.sortedKeys() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(l[k])
	}
	return sb.String()
}

// String renders the label set as {k="v",...}, or "" when empty.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range l.sortedKeys() {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%s=\"%s\"", k, labelEscaper.Replace(l[k]))
	}
	sb.WriteByte('}')
	return sb.String()
}

func (l Labels) clone() Labels {
	out := make(Labels, len(l)+1)
	for k, v := range l {
		out[k] = v
	}
	return out
}

// With returns a copy of l with key set to value.
func (l Labels) With(key, value string) Labels {
	out := l.clone()
	out[key] = value
	return out
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func formatFloat(v float64) string {
	if math.IsInf(v, 1) {
		return "+Inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Metric is one registered family.
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
	Write(sb *strings.Builder)
}

// family holds the series of one metric.
type family[V any] struct {
	name, help string
	newValue   func() *V

	mu     sync.RWMutex
	series map[string]*series[V]
}

type series[V any] struct {
	labels Labels
	value  *V
}

func (f *family[V]) init(name, help string, newValue func() *V) {
	f.name, f.help, f.newValue = name, help, newValue
	f.series = make(map[string]*series[V])
}

func (f *family[V]) Name() string { return f.name }
func (f *family[V]) Help() string { return f.help }

// lookup returns the value for labels, or nil if the series does not exist.
func (f *family[V]) lookup(labels Labels) *V {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if s, ok := f.series[labels.Key()]; ok {
		return s.value
	}
	return nil
}

// at returns the value for labels, creating the series on first use.
func (f *family[V]) at(labels Labels) *V {
	if v := f.lookup(labels); v != nil {
		return v
	}
	key := labels.Key()
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.series[key]; ok {
		return s.value
	}
	s := &series[V]{labels: labels.clone(), value: f.newValue()}
	f.series[key] = s
	return s.value
}

// each visits every series in label-key order.
func (f *family[V]) each(fn func(Labels, *V)) {
	f.mu.RLock()
	keys := make([]string, 0, len(f.series))
	for k := range f.series {
		keys = append(keys, k)
	}
	all := make([]*series[V], 0, len(keys))
	sort.Strings(keys)
	for _, k := range keys {
		all = append(all, f.series[k])
	}
	f.mu.RUnlock()

	for _, s := range all {
		fn(s.labels, s.value)
	}
}

func (f *family[V]) header(sb *strings.Builder, t MetricType) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, t)
}

// Counter only goes up.
type Counter struct {
	family[atomic.Uint64]
}

// NewCounter creates a counter family.
func NewCounter(name, help string) *Counter {
	c := &Counter{}
	c.init(name, help, func() *atomic.Uint64 { return new(atomic.Uint64) })
	return c
}

func (c *Counter) Type() MetricType { return TypeCounter }

// Inc adds one.
func (c *Counter) Inc(labels Labels) { c.Add(labels, 1) }

// Add adds delta.
func (c *Counter) Add(labels Labels, delta uint64) { c.at(labels).Add(delta) }

// Get returns the count, 0 for an unseen label set.
func (c *Counter) Get(labels Labels) uint64 {
	if v := c.lookup(labels); v != nil {
		return v.Load()
	}
	return 0
}

func (c *Counter) Write(sb *strings.Builder) {
	c.header(sb, TypeCounter)
	c.each(func(l Labels, v *atomic.Uint64) {
		fmt.Fprintf(sb, "%s%s %d\n", c.name, l, v.Load())
	})
}

// Gauge holds a value that can go up and down.
type Gauge struct {
	family[atomic.Uint64] // float64 bits
}

// NewGauge creates a gauge family.
func NewGauge(name, help string) *Gauge {
	g := &Gauge{}
	g.init(name, help, func() *atomic.Uint64 { return new(atomic.Uint64) })
	return g
}

func (g *Gauge) Type() MetricType { return TypeGauge }

// Set stores value.
func (g *Gauge) Set(labels Labels, value float64) {
	g.at(labels).Store(math.Float64bits(value))
}

// Add adds delta, which may be negative.
func (g *Gauge) Add(labels Labels, delta float64) {
	bits := g.at(labels)
	for {
		old := bits.Load()
		if bits.CompareAndSwap(old, math.Float64bits(math.Float64frombits(old)+delta)) {
			return
		}
	}
}

// Inc adds one.
func (g *Gauge) Inc(labels Labels) { g.Add(labels, 1) }

// Dec subtracts one.
func (g *Gauge) Dec(labels Labels) { g.Add(labels, -1) }

// Get returns the value, 0 for an unseen label set.
func (g *Gauge) Get(labels Labels) float64 {
	if v := g.lookup(labels); v != nil {
		return math.Float64frombits(v.Load())
	}
	return 0
}

func (g *Gauge) Write(sb *strings.Builder) {
	g.header(sb, TypeGauge)
	g.each(func(l Labels, v *atomic.Uint64) {
		fmt.Fprintf(sb, "%s%s %s\n", g.name, l, formatFloat(math.Float64frombits(v.Load())))
	})
}

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	family[histogramValue]
	bounds []float64
}

type histogramValue struct {
	mu     sync.Mutex
	count  uint64
	sum    float64
	counts []uint64 // per bucket, not cumulative
}

// NewHistogram creates a histogram family with the given upper bounds.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	bounds := append([]float64(nil), buckets...)
	sort.Float64s(bounds)
	h := &Histogram{bounds: bounds}
	h.init(name, help, func() *histogramValue {
		return &histogramValue{counts: make([]uint64, len(bounds))}
	})
	return h
}

// DefaultBuckets suits durations from milliseconds to tens of seconds.
func DefaultBuckets() []float64 {
	return []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}
}

// ExponentialBuckets returns count bounds starting at start, each factor
// times the previous.
func ExponentialBuckets(start, factor float64, count int) []float64 {
	out := make([]float64, count)
	for i := range out {
		out[i] = start
		start *= factor
	}
	return out
}

func (h *Histogram) Type() MetricType { return TypeHistogram }

// Observe records one value.
func (h *Histogram) Observe(labels Labels, value float64) {
	hv := h.at(labels)
	i := sort.SearchFloat64s(h.bounds, value)
	hv.mu.Lock()
	hv.count++
	hv.sum += value
	if i < len(hv.counts) {
		hv.counts[i]++
	}
	hv.mu.Unlock()
}

// HistogramSnapshot is a copy of one series. Buckets maps each upper bound
// to its cumulative count.
type HistogramSnapshot struct {
	Count   uint64
	Sum     float64
	Buckets map[float64]uint64
}

func (h *Histogram) snapshot(hv *histogramValue) (count uint64, sum float64, cumulative []uint64) {
	hv.mu.Lock()
	defer hv.mu.Unlock()
	cumulative = make([]uint64, len(hv.counts))
	var running uint64
	for i, n := range hv.counts {
		running += n
		cumulative[i] = running
	}
	return hv.count, hv.sum, cumulative
}

// GetSnapshot returns the series for labels; an unseen label set yields an
// empty snapshot.
func (h *Histogram) GetSnapshot(labels Labels) HistogramSnapshot {
	snap := HistogramSnapshot{Buckets: make(map[float64]uint64, len(h.bounds))}
	hv := h.lookup(labels)
	if hv == nil {
		return snap
	}
	var cumulative []uint64
	snap.Count, snap.Sum, cumulative = h.snapshot(hv)
	for i, b := range h.bounds {
		snap.Buckets[b] = cumulative[i]
	}
	return snap
}

func (h *Histogram) Write(sb *strings.Builder) {
	h.header(sb, TypeHistogram)
	h.each(func(l Labels, hv *histogramValue) {
		count, sum, cumulative := h.snapshot(hv)
		for i, b := range h.bounds {
			fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, l.With("le", formatFloat(b)), cumulative[i])
		}
		fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, l.With("le", "+Inf"), count)
		fmt.Fprintf(sb, "%s_sum%s %s\n", h.name, l, formatFloat(sum))
		fmt.Fprintf(sb, "%s_count%s %d\n", h.name, l, count)
	})
}

// Registry renders families in registration order.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]Metric
	ordered []Metric
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Metric)}
}

// Register adds m. Names must be unique.
func (r *Registry) Register(m Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[m.Name()]; dup {
		return fmt.Errorf("metric %q already registered", m.Name())
	}
	r.byName[m.Name()] = m
	r.ordered = append(r.ordered, m)
	return nil
}

// MustRegister is Register that panics on a duplicate name.
func (r *Registry) MustRegister(m Metric) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// Get returns the family registered under name, or nil.
func (r *Registry) Get(name string) Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// Gather renders every family.
func (r *Registry) Gather() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sb strings.Builder
	for _, m := range r.ordered {
		m.Write(&sb)
	}
	return sb.String()
}

// Package metrics provides Prometheus-compatible counters, gauges and
// histograms with a text exposition handler.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Labels are constant labels attached to one series.
type Labels map[string]string

// String renders labels in exposition order, e.g. {a="1",b="2"}.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(l))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf(`%s=%q`, k, l[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// with returns the label string with one extra pair appended, for histogram
// buckets.
func (l Labels) with(k, v string) string {
	s := l.String()
	pair := fmt.Sprintf(`%s=%q`, k, v)
	if s == "" {
		return "{" + pair + "}"
	}
	return s[:len(s)-1] + "," + pair + "}"
}

// Counter is a monotonically increasing counter.
type Counter struct {
	labels Labels
	value  atomic.Uint64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add adds v to the counter.
func (c *Counter) Add(v uint64) { c.value.Add(v) }

// Value returns the current value.
func (c *Counter) Value() uint64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	labels Labels
	value  atomic.Int64
}

// Set sets the gauge to v.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Add adds v, which may be negative.
func (g *Gauge) Add(v int64) { g.value.Add(v) }

// Value returns the current value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values.
type Histogram struct {
	labels  Labels
	buckets []float64

	mu     sync.Mutex
	counts []uint64 // per bucket, last is +Inf
	sum    float64
	count  uint64
}

// DurationBuckets are upper bounds in seconds, tuned for request handling.
var DurationBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

func newHistogram(labels Labels, buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DurationBuckets
	}
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	return &Histogram{
		labels:  labels,
		buckets: sorted,
		counts:  make([]uint64, len(sorted)+1),
	}
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++
	// Bucket bounds are inclusive.
	h.counts[sort.SearchFloat64s(h.buckets, v)]++
}

// ObserveDuration records d in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// family groups the series that share a metric name.
type family struct {
	name   string
	help   string
	kind   string
	series map[string]any // label string -> *Counter | *Gauge | *Histogram
}

// Registry holds registered metrics.
type Registry struct {
	namespace string

	mu       sync.RWMutex
	families map[string]*family
}

// NewRegistry creates a registry whose metric names are prefixed with
// namespace.
func NewRegistry(namespace string) *Registry {
	return &Registry{
		namespace: namespace,
		families:  make(map[string]*family),
	}
}

func (r *Registry) fullName(name string) string {
	if r.namespace == "" {
		return name
	}
	return r.namespace + "_" + name
}

// lookup returns the series for name and labels, creating it with mk when
// missing. Registering the same name with another kind panics.
func (r *Registry) lookup(name, help, kind string, labels Labels, mk func() any) any {
	r.mu.Lock()
	defer r.mu.Unlock()

	full := r.fullName(name)
	f, ok := r.families[full]
	if !ok {
		f = &family{name: full, help: help, kind: kind, series: make(map[string]any)}
		r.families[full] = f
	}
	if f.kind != kind {
		panic(fmt.Sprintf("metrics: %s registered as %s, not %s", full, f.kind, kind))
	}
	key := labels.String()
	if s, ok := f.series[key]; ok {
		return s
	}
	s := mk()
	f.series[key] = s
	return s
}

// Counter returns the counter for name and labels, registering it on first
// use.
func (r *Registry) Counter(name, help string, labels Labels) *Counter {
	return r.lookup(name, help, "counter", labels, func() any {
		return &Counter{labels: labels}
	}).(*Counter)
}

// Gauge returns the gauge for name and labels.
func (r *Registry) Gauge(name, help string, labels Labels) *Gauge {
	return r.lookup(name, help, "gauge", labels, func() any {
		return &Gauge{labels: labels}
	}).(*Gauge)
}

// Histogram returns the histogram for name and labels. Buckets are fixed by
// the first registration.
func (r *Registry) Histogram(name, help string, labels Labels, buckets []float64) *Histogram {
	return r.lookup(name, help, "histogram", labels, func() any {
		return newHistogram(labels, buckets)
	}).(*Histogram)
}

// WritePrometheus writes all metrics in the Prometheus text format, sorted by
// name and labels.
func (r *Registry) WritePrometheus(w io.Writer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.families))
	for name := range r.families {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		f := r.families[name]
		fmt.Fprintf(&b, "# HELP %s %s\n", f.name, f.help)
		fmt.Fprintf(&b, "# TYPE %s %s\n", f.name, f.kind)

		keys := make([]string, 0, len(f.series))
		for k := range f.series {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			switch s := f.series[k].(type) {
			case *Counter:
				fmt.Fprintf(&b, "%s%s %d\n", f.name, k, s.Value())
			case *Gauge:
				fmt.Fprintf(&b, "%s%s %d\n", f.name, k, s.Value())
			case *Histogram:
				writeHistogram(&b, f.name, s)
			}
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeHistogram(b *strings.Builder, name string, h *Histogram) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var cumulative uint64
	for i, bound := range h.buckets {
		cumulative += h.counts[i]
		fmt.Fprintf(b, "%s_bucket%s %d\n", name, h.labels.with("le", fmt.Sprint(bound)), cumulative)
	}
	cumulative += h.counts[len(h.buckets)]
	fmt.Fprintf(b, "%s_bucket%s %d\n", name, h.labels.with("le", "+Inf"), cumulative)
	fmt.Fprintf(b, "%s_sum%s %g\n", name, h.labels.String(), h.sum)
	fmt.Fprintf(b, "%s_count%s %d\n", name, h.labels.String(), h.count)
}

// Handler serves the registry in the text exposition format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.WritePrometheus(w)
	})
}

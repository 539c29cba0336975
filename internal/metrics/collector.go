// Package metrics is a small in-process collector that renders the
// Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the global metrics collector.
var Collector = NewMetricsCollector()

// MetricsCollector aggregates counters, gauges, and histograms.
type MetricsCollector struct {
	counters   sync.Map // name -> *Counter
	gauges     sync.Map // name -> *Gauge
	histograms sync.Map // name -> *Histogram
	startTime  time.Time
}

// NewMetricsCollector creates a new collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n int64) { c.value.Add(n) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.value.Add(1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.value.Add(-1) }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of values.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) { h.Observe(time.Since(start).Seconds()) }

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// --- Registration helpers ---

// Counter returns or creates a counter with the given name.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	actual, _ := c.counters.LoadOrStore(key, ctr)
	return actual.(*Counter)
}

// Gauge returns or creates a gauge with the given name.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	g := &Gauge{name: name, help: help, labels: labels}
	actual, _ := c.gauges.LoadOrStore(key, g)
	return actual.(*Gauge)
}

// Histogram returns or creates a histogram with the given name.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := name + "{" + labels + "}"
	if v, ok := c.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	sort.Float64s(buckets)
	hb := make([]histBucket, len(buckets))
	for i, b := range buckets {
		hb[i] = histBucket{le: b}
	}
	h := &Histogram{name: name, help: help, labels: labels, buckets: hb}
	actual, _ := c.histograms.LoadOrStore(key, h)
	return actual.(*Histogram)
}

// --- Prometheus text rendering ---

// Handler serves the collector in Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		c.WriteText(w)
	}
}

// WriteText renders every metric, sorted by name and labels so that
// consecutive scrapes diff cleanly.
func (c *MetricsCollector) WriteText(w io.Writer) {
	var sb strings.Builder

	writeHeader(&sb, "huddle_uptime_seconds", "Time since start in seconds", "gauge")
	fmt.Fprintf(&sb, "huddle_uptime_seconds %d\n\n", int64(c.Uptime().Seconds()))

	seen := make(map[string]bool)
	for _, ctr := range sortedValues[*Counter](&c.counters) {
		if !seen[ctr.name] {
			writeHeader(&sb, ctr.name, ctr.help, "counter")
			seen[ctr.name] = true
		}
		fmt.Fprintf(&sb, "%s %d\n", series(ctr.name, ctr.labels), ctr.Value())
	}

	seen = make(map[string]bool)
	for _, g := range sortedValues[*Gauge](&c.gauges) {
		if !seen[g.name] {
			writeHeader(&sb, g.name, g.help, "gauge")
			seen[g.name] = true
		}
		fmt.Fprintf(&sb, "%s %d\n", series(g.name, g.labels), g.Value())
	}

	for _, h := range sortedValues[*Histogram](&c.histograms) {
		h.writeText(&sb)
	}

	io.WriteString(w, sb.String())
}

func (h *Histogram) writeText(sb *strings.Builder) {
	h.mu.Lock()
	defer h.mu.Unlock()

	writeHeader(sb, h.name, h.help, "histogram")
	for _, b := range h.buckets {
		le := fmt.Sprintf("%g", b.le)
		if math.IsInf(b.le, 1) {
			le = "+Inf"
		}
		labels := `le="` + le + `"`
		if h.labels != "" {
			labels = h.labels + "," + labels
		}
		fmt.Fprintf(sb, "%s %d\n", series(h.name+"_bucket", labels), b.count)
	}
	fmt.Fprintf(sb, "%s %d\n", series(h.name+"_count", h.labels), h.count)
	fmt.Fprintf(sb, "%s %f\n", series(h.name+"_sum", h.labels), h.sum)
}

func writeHeader(sb *strings.Builder, name, help, kind string) {
	fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", name, kind)
}

func series(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

// sortedValues returns the values of m ordered by key.
func sortedValues[T any](m *sync.Map) []T {
	type entry struct {
		key string
		val T
	}
	var entries []entry
	m.Range(func(k, v any) bool {
		entries = append(entries, entry{k.(string), v.(T)})
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
	out := make([]T, len(entries))
	for i, e := range entries {
		out[i] = e.val
	}
	return out
}

// --- Pre-defined metrics used across the application ---

var (
	ChatRequestsTotal     = Collector.Counter("huddle_chat_requests_total", "Total accepted chat requests", "")
	RejectedRequestsTotal = Collector.Counter("huddle_rejected_requests_total", "Chat requests rejected before streaming", "")
	RateLimitedTotal      = Collector.Counter("huddle_rate_limited_total", "Chat requests rejected by the rate limiter", "")
	LLMRequestsTotal      = Collector.Counter("huddle_llm_requests_total", "Total LLM API requests", "")
	LLMErrorsTotal        = Collector.Counter("huddle_llm_errors_total", "Failed LLM API requests", "")
	ConsultationsTotal    = Collector.Counter("huddle_consultations_total", "Specialist consultations started", "")
	SpecialistFailures    = Collector.Counter("huddle_specialist_failures_total", "Specialist consultations that failed", "")
	SelectorDegraded      = Collector.Counter("huddle_selector_degraded_total", "Selections that fell back to no consult", "")
	SynthesisFailures     = Collector.Counter("huddle_synthesis_failures_total", "Lead runs that ended in an error frame", "")
	TeamFallbacks         = Collector.Counter("huddle_team_fallbacks_total", "Requests that fell back to the built-in team", "")
	ActiveStreams         = Collector.Gauge("huddle_active_streams", "Current open chat event streams", "")

	LLMLatency = Collector.Histogram("huddle_llm_latency_seconds", "LLM request latency in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})
	SpecialistLatency = Collector.Histogram("huddle_specialist_latency_seconds", "Specialist consultation latency in seconds", "",
		[]float64{1, 2, 5, 10, 30, 60, 90})
	TurnLatency = Collector.Histogram("huddle_turn_latency_seconds", "End-to-end chat turn latency in seconds", "",
		[]float64{1, 5, 10, 30, 60, 120, 300})
)

// Package metrics exposes pipeline counters in Prometheus text format and as a
// JSON snapshot for the admin API.
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

const namespace = "spdropbot"

// Collector is the process-wide registry.
var Collector = NewRegistry()

// Registry aggregates counters, gauges, and histograms keyed by name and labels.
type Registry struct {
	counters   sync.Map // key -> *Counter
	gauges     sync.Map // key -> *Gauge
	histograms sync.Map // key -> *Histogram
	startTime  time.Time
}

func NewRegistry() *Registry {
	return &Registry{startTime: time.Now()}
}

func (r *Registry) Uptime() time.Duration {
	return time.Since(r.startTime)
}

type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc()           { c.value.Add(1) }
func (c *Counter) Add(n int64)    { c.value.Add(n) }
func (c *Counter) Value() int64   { return c.value.Load() }
func (c *Counter) series() string { return seriesName(c.name, c.labels) }

type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (g *Gauge) Set(v int64)    { g.value.Store(v) }
func (g *Gauge) Inc()           { g.value.Add(1) }
func (g *Gauge) Dec()           { g.value.Add(-1) }
func (g *Gauge) Value() int64   { return g.value.Load() }
func (g *Gauge) series() string { return seriesName(g.name, g.labels) }

// Histogram tracks a distribution over fixed upper bounds.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	bounds  []float64
	buckets []int64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.buckets[i]++
		}
	}
}

// ObserveDuration records d in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) { h.Observe(d.Seconds()) }

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func seriesName(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

func (r *Registry) Counter(name, help, labels string) *Counter {
	key := seriesName(name, labels)
	if v, ok := r.counters.Load(key); ok {
		return v.(*Counter)
	}
	actual, _ := r.counters.LoadOrStore(key, &Counter{name: name, help: help, labels: labels})
	return actual.(*Counter)
}

func (r *Registry) Gauge(name, help, labels string) *Gauge {
	key := seriesName(name, labels)
	if v, ok := r.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	actual, _ := r.gauges.LoadOrStore(key, &Gauge{name: name, help: help, labels: labels})
	return actual.(*Gauge)
}

func (r *Registry) Histogram(name, help, labels string, bounds []float64) *Histogram {
	key := seriesName(name, labels)
	if v, ok := r.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	h := &Histogram{name: name, help: help, labels: labels, bounds: sorted, buckets: make([]int64, len(sorted))}
	actual, _ := r.histograms.LoadOrStore(key, h)
	return actual.(*Histogram)
}

// Handler renders the registry in Prometheus text exposition format.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WriteText(w)
	}
}

// WriteText writes every series, sorted by name, to w.
func (r *Registry) WriteText(w io.Writer) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP %s_uptime_seconds Time since start in seconds\n", namespace)
	fmt.Fprintf(&sb, "# TYPE %s_uptime_seconds gauge\n", namespace)
	fmt.Fprintf(&sb, "%s_uptime_seconds %d\n", namespace, int64(r.Uptime().Seconds()))

	type line struct {
		name, help, kind, series string
		value                    int64
	}
	var lines []line
	r.counters.Range(func(_, v any) bool {
		c := v.(*Counter)
		lines = append(lines, line{c.name, c.help, "counter", c.series(), c.Value()})
		return true
	})
	r.gauges.Range(func(_, v any) bool {
		g := v.(*Gauge)
		lines = append(lines, line{g.name, g.help, "gauge", g.series(), g.Value()})
		return true
	})
	sort.Slice(lines, func(i, j int) bool { return lines[i].series < lines[j].series })

	described := make(map[string]bool)
	for _, l := range lines {
		if !described[l.name] {
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s %s\n", l.name, l.help, l.name, l.kind)
			described[l.name] = true
		}
		fmt.Fprintf(&sb, "%s %d\n", l.series, l.value)
	}

	r.histograms.Range(func(_, v any) bool {
		h := v.(*Histogram)
		h.mu.Lock()
		defer h.mu.Unlock()

		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name)
		labelPrefix := ""
		if h.labels != "" {
			labelPrefix = h.labels + ","
		}
		for i, le := range h.bounds {
			bound := fmt.Sprintf("%g", le)
			if math.IsInf(le, 1) {
				bound = "+Inf"
			}
			fmt.Fprintf(&sb, "%s_bucket{%sle=\"%s\"} %d\n", h.name, labelPrefix, bound, h.buckets[i])
		}
		fmt.Fprintf(&sb, "%s %d\n", seriesName(h.name+"_count", h.labels), h.count)
		fmt.Fprintf(&sb, "%s %f\n", seriesName(h.name+"_sum", h.labels), h.sum)
		return true
	})

	io.WriteString(w, sb.String())
}

// Snapshot returns counter and gauge values keyed by series name.
func (r *Registry) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	r.counters.Range(func(_, v any) bool {
		c := v.(*Counter)
		out[c.series()] = c.Value()
		return true
	})
	r.gauges.Range(func(_, v any) bool {
		g := v.(*Gauge)
		out[g.series()] = g.Value()
		return true
	})
	return out
}

// Pipeline metrics.
var (
	WebhookEvents   = Collector.Counter(namespace+"_webhook_events_total", "Inbound webhook events", "")
	Buffered        = Collector.Counter(namespace+"_fragments_buffered_total", "Fragments accepted into a sender buffer", "")
	IgnoredGroup    = Collector.Counter(namespace+"_ignored_total", "Inbound events dropped before buffering", `reason="group"`)
	IgnoredEmpty    = Collector.Counter(namespace+"_ignored_total", "Inbound events dropped before buffering", `reason="empty"`)
	MediaFailures   = Collector.Counter(namespace+"_media_failures_total", "Media payloads replaced by a placeholder", "")
	Dispatched      = Collector.Counter(namespace+"_dispatched_total", "Unified messages handed to the processor", "")
	Replied         = Collector.Counter(namespace+"_outcomes_total", "Processing outcomes", `status="replied"`)
	Failed          = Collector.Counter(namespace+"_outcomes_total", "Processing outcomes", `status="failed"`)
	Ignored         = Collector.Counter(namespace+"_outcomes_total", "Processing outcomes", `status="ignored"`)
	FragmentsSent   = Collector.Counter(namespace+"_reply_fragments_sent_total", "Reply fragments delivered", "")
	FragmentsFailed = Collector.Counter(namespace+"_reply_fragments_failed_total", "Reply fragments that failed to send", "")
	ToolExecutions  = Collector.Counter(namespace+"_tool_executions_total", "Agent tool executions", "")
	LLMRequests     = Collector.Counter(namespace+"_llm_requests_total", "LLM API requests", "")

	PendingBuffers = Collector.Gauge(namespace+"_pending_buffers", "Senders with a burst waiting for the quiet period", "")
	AgentBusy      = Collector.Gauge(namespace+"_agent_lane_busy", "Agent calls currently holding the lane", "")

	AgentLatency = Collector.Histogram(namespace+"_agent_latency_seconds", "Agent turn latency in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})
	LaneWait = Collector.Histogram(namespace+"_agent_lane_wait_seconds", "Time a message waited for a free agent lane slot", "",
		[]float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60})
	LLMLatency = Collector.Histogram(namespace+"_llm_latency_seconds", "Single LLM request latency in seconds", "",
		[]float64{0.25, 0.5, 1, 2, 5, 10, 30, 60})
)

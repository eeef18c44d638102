package observability

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// atomicInt64 is the hot-counter primitive shared by Counter and Gauge; it is
// updated from many concurrent request goroutines and read on every /metrics
// scrape, so we reach for go.uber.org/atomic's allocation-free,
// race-detector-friendly accessors instead of hand-rolled sync/atomic call
// sites.
type atomicInt64 = atomic.Int64

// ─── Metric Types ───────────────────────────────────────────

// Counter is a monotonically increasing value.
type Counter struct {
	value atomicInt64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	value atomicInt64 // stored as micros for float-like precision
}

func (g *Gauge) Set(v float64)  { g.value.Store(int64(v * 1e6)) }
func (g *Gauge) Inc()           { g.value.Add(1e6) }
func (g *Gauge) Dec()           { g.value.Add(-1e6) }
func (g *Gauge) Value() float64 { return float64(g.value.Load()) / 1e6 }

// Histogram tracks value distributions with configurable buckets.
type Histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []int64 // per-bucket differential counts (+ Inf)
	sum     float64
	count   int64
}

func NewHistogram(buckets []float64) *Histogram {
	sorted := make([]float64, len(buckets))
	copy(sorted, buckets)
	sort.Float64s(sorted)
	return &Histogram{
		buckets: sorted,
		counts:  make([]int64, len(sorted)+1),
	}
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	placed := false
	for i, b := range h.buckets {
		if v <= b {
			h.counts[i]++
			placed = true
			break
		}
	}
	if !placed {
		h.counts[len(h.buckets)]++
	}
}

// ─── Label Key ──────────────────────────────────────────────

func labelKey(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, labels[k])
	}
	return strings.Join(parts, ",")
}

// ─── Metrics Registry ───────────────────────────────────────

// Metrics is the central Prometheus-compatible metrics registry backing the
// gateway's counters: cache hits/misses per tier, inflight dedupe, streaming
// decisions, and error counts.
type Metrics struct {
	mu         sync.RWMutex
	logger     zerolog.Logger
	counters   map[string]map[string]*Counter
	gauges     map[string]map[string]*Gauge
	histograms map[string]map[string]*Histogram

	latencyBuckets []float64
}

// NewMetrics creates a new metrics registry.
func NewMetrics(logger zerolog.Logger) *Metrics {
	return &Metrics{
		logger:         logger.With().Str("component", "metrics").Logger(),
		counters:       make(map[string]map[string]*Counter),
		gauges:         make(map[string]map[string]*Gauge),
		histograms:     make(map[string]map[string]*Histogram),
		latencyBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}
}

func (m *Metrics) CounterInc(name string, labels map[string]string) {
	m.getCounter(name, labels).Inc()
}

func (m *Metrics) CounterAdd(name string, labels map[string]string, n int64) {
	m.getCounter(name, labels).Add(n)
}

func (m *Metrics) getCounter(name string, labels map[string]string) *Counter {
	key := labelKey(labels)
	m.mu.RLock()
	if byName, ok := m.counters[name]; ok {
		if c, ok := byName[key]; ok {
			m.mu.RUnlock()
			return c
		}
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.counters[name]; !ok {
		m.counters[name] = make(map[string]*Counter)
	}
	if _, ok := m.counters[name][key]; !ok {
		m.counters[name][key] = &Counter{}
	}
	return m.counters[name][key]
}

func (m *Metrics) GaugeSet(name string, labels map[string]string, v float64) {
	m.getGauge(name, labels).Set(v)
}

func (m *Metrics) GaugeInc(name string, labels map[string]string) { m.getGauge(name, labels).Inc() }
func (m *Metrics) GaugeDec(name string, labels map[string]string) { m.getGauge(name, labels).Dec() }

func (m *Metrics) getGauge(name string, labels map[string]string) *Gauge {
	key := labelKey(labels)
	m.mu.RLock()
	if byName, ok := m.gauges[name]; ok {
		if g, ok := byName[key]; ok {
			m.mu.RUnlock()
			return g
		}
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.gauges[name]; !ok {
		m.gauges[name] = make(map[string]*Gauge)
	}
	if _, ok := m.gauges[name][key]; !ok {
		m.gauges[name][key] = &Gauge{}
	}
	return m.gauges[name][key]
}

func (m *Metrics) HistogramObserve(name string, labels map[string]string, v float64) {
	m.getHistogram(name, labels).Observe(v)
}

func (m *Metrics) getHistogram(name string, labels map[string]string) *Histogram {
	key := labelKey(labels)
	m.mu.RLock()
	if byName, ok := m.histograms[name]; ok {
		if h, ok := byName[key]; ok {
			m.mu.RUnlock()
			return h
		}
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.histograms[name]; !ok {
		m.histograms[name] = make(map[string]*Histogram)
	}
	if _, ok := m.histograms[name][key]; !ok {
		m.histograms[name][key] = NewHistogram(m.latencyBuckets)
	}
	return m.histograms[name][key]
}

// ─── Gateway-specific counters ───────────────────────────────

// TrackFetch records one completed fetch with its outcome and latency.
func (m *Metrics) TrackFetch(outcome string, streaming bool, latencyMs float64) {
	labels := map[string]string{"outcome": outcome, "streaming": fmt.Sprintf("%v", streaming)}
	m.CounterInc("fetchgate_requests_total", labels)
	m.HistogramObserve("fetchgate_request_duration_ms", labels, latencyMs)
}

// TrackCache records a cache tier hit or miss ("l1", "l2", "origin").
func (m *Metrics) TrackCache(tier string, hit bool) {
	status := "miss"
	if hit {
		status = "hit"
	}
	m.CounterInc("fetchgate_cache_total", map[string]string{"tier": tier, "result": status})
}

// TrackCoalesce records a single-flight dedupe event.
func (m *Metrics) TrackCoalesce(role string) {
	m.CounterInc("fetchgate_inflight_total", map[string]string{"role": role})
}

// TrackError records an error by taxonomy kind.
func (m *Metrics) TrackError(kind string) {
	m.CounterInc("fetchgate_errors_total", map[string]string{"kind": kind})
}

// ─── Prometheus Exposition Format ───────────────────────────

// Handler serves /metrics in Prometheus text exposition format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("# fetchgate metrics - %s\n\n", time.Now().UTC().Format(time.RFC3339)))

		m.mu.RLock()
		defer m.mu.RUnlock()

		for name, byLabel := range m.counters {
			sb.WriteString(fmt.Sprintf("# TYPE %s counter\n", name))
			for lk, c := range byLabel {
				if lk == "" {
					sb.WriteString(fmt.Sprintf("%s %d\n", name, c.Value()))
				} else {
					sb.WriteString(fmt.Sprintf("%s{%s} %d\n", name, lk, c.Value()))
				}
			}
			sb.WriteString("\n")
		}

		for name, byLabel := range m.gauges {
			sb.WriteString(fmt.Sprintf("# TYPE %s gauge\n", name))
			for lk, g := range byLabel {
				if lk == "" {
					sb.WriteString(fmt.Sprintf("%s %f\n", name, g.Value()))
				} else {
					sb.WriteString(fmt.Sprintf("%s{%s} %f\n", name, lk, g.Value()))
				}
			}
			sb.WriteString("\n")
		}

		for name, byLabel := range m.histograms {
			sb.WriteString(fmt.Sprintf("# TYPE %s histogram\n", name))
			for lk, h := range byLabel {
				h.mu.Lock()
				labels := ""
				if lk != "" {
					labels = fmt.Sprintf("{%s}", lk)
				}
				cumulative := int64(0)
				for i, b := range h.buckets {
					cumulative += h.counts[i]
					if lk != "" {
						sb.WriteString(fmt.Sprintf("%s_bucket{le=\"%g\",%s} %d\n", name, b, lk, cumulative))
					} else {
						sb.WriteString(fmt.Sprintf("%s_bucket{le=\"%g\"} %d\n", name, b, cumulative))
					}
				}
				cumulative += h.counts[len(h.buckets)]
				if lk != "" {
					sb.WriteString(fmt.Sprintf("%s_bucket{le=\"+Inf\",%s} %d\n", name, lk, cumulative))
				} else {
					sb.WriteString(fmt.Sprintf("%s_bucket{le=\"+Inf\"} %d\n", name, cumulative))
				}
				sb.WriteString(fmt.Sprintf("%s_sum%s %f\n", name, labels, h.sum))
				sb.WriteString(fmt.Sprintf("%s_count%s %d\n", name, labels, h.count))
				h.mu.Unlock()
			}
			sb.WriteString("\n")
		}

		_, _ = w.Write([]byte(sb.String()))
	}
}

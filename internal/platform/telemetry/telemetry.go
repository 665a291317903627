// Package telemetry records HTTP server and domain event metrics and serves
// them in Prometheus text exposition format.
package telemetry

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/medscribe/medscribe/internal/platform/events"
)

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// histogram stores non-cumulative bucket counts; cumulative counts are
// computed at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := make([]int64, len(h.bucketCounts))
	copy(raw, h.bucketCounts)
	h.mu.Unlock()

	var running int64
	for i, c := range raw {
		running += c
		raw[i] = running
	}
	return raw
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(next)) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Labeled stores
// ---------------------------------------------------------------------------

type histogramStore struct {
	mu    sync.RWMutex
	items map[string]*histogram
}

func (s *histogramStore) getOrCreate(key string, boundaries []float64) *histogram {
	s.mu.RLock()
	h, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return h
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok = s.items[key]; !ok {
		h = newHistogram(boundaries)
		s.items[key] = h
	}
	return h
}

func (s *histogramStore) get(key string) *histogram {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[key]
}

func (s *histogramStore) snapshot() map[string]*histogram {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]*histogram, len(s.items))
	for k, v := range s.items {
		cp[k] = v
	}
	return cp
}

type counterStore struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func (s *counterStore) add(key string, delta int64) {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		s.mu.Lock()
		if p, ok = s.items[key]; !ok {
			p = new(int64)
			s.items[key] = p
		}
		s.mu.Unlock()
	}
	atomic.AddInt64(p, delta)
}

func (s *counterStore) get(key string) int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

func (s *counterStore) snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]int64, len(s.items))
	for k, p := range s.items {
		cp[k] = atomic.LoadInt64(p)
	}
	return cp
}

// LabelsKey builds the store key for an HTTP request series.
func LabelsKey(method, route, statusCode string) string {
	return method + "|" + route + "|" + statusCode
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// durationBuckets are in seconds. Assistant round trips can take tens of
// seconds, so the upper buckets run past the usual HTTP defaults.
var durationBuckets = []float64{
	0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0,
}

// GaugeFunc is read at scrape time.
type GaugeFunc func() int64

type gauge struct {
	name string
	help string
	fn   GaugeFunc
}

type Metrics struct {
	requests *histogramStore
	active   int64
	events   *counterStore

	mu     sync.RWMutex
	gauges []gauge
}

func New() *Metrics {
	return &Metrics{
		requests: &histogramStore{items: make(map[string]*histogram)},
		events:   &counterStore{items: make(map[string]*int64)},
	}
}

// RegisterGauge exposes fn under name. name must be a valid Prometheus
// metric name.
func (m *Metrics) RegisterGauge(name, help string, fn GaugeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges = append(m.gauges, gauge{name: name, help: help, fn: fn})
}

// RequestHistogram returns the series for one method, route and status, or
// nil when none was recorded.
func (m *Metrics) RequestHistogram(method, route string, status int) *histogram {
	return m.requests.get(LabelsKey(method, route, strconv.Itoa(status)))
}

func (m *Metrics) ActiveRequests() int64 {
	return atomic.LoadInt64(&m.active)
}

func (m *Metrics) EventCount(eventType string) int64 {
	return m.events.get(eventType)
}

// Middleware records request duration keyed by method, route pattern and
// status.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&m.active, 1)
			start := time.Now()

			err := next(c)

			atomic.AddInt64(&m.active, -1)
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if !c.Response().Committed {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			key := LabelsKey(c.Request().Method, route, strconv.Itoa(status))
			m.requests.getOrCreate(key, durationBuckets).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Publish counts events by type. It lets Metrics sit in an events.Multi
// next to the real publishers.
func (m *Metrics) Publish(_ context.Context, evts ...events.Event) error {
	for _, e := range evts {
		m.events.add(e.Type, 1)
	}
	return nil
}

func (m *Metrics) Close() error { return nil }

// Handler serves the Prometheus text exposition.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder
		m.write(&b)
		return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
	}
}

func (m *Metrics) write(b *strings.Builder) {
	const durName = "http_server_request_duration_seconds"
	fmt.Fprintf(b, "# HELP %s Duration of HTTP requests in seconds.\n", durName)
	fmt.Fprintf(b, "# TYPE %s histogram\n", durName)
	snap := m.requests.snapshot()
	for _, key := range sortedKeys(snap) {
		parts := strings.SplitN(key, "|", 3)
		labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
		writeHistogram(b, durName, labels, snap[key])
	}
	b.WriteByte('\n')

	b.WriteString("# HELP http_server_active_requests Number of in-flight HTTP requests.\n")
	b.WriteString("# TYPE http_server_active_requests gauge\n")
	fmt.Fprintf(b, "http_server_active_requests %d\n\n", m.ActiveRequests())

	b.WriteString("# HELP medscribe_events_total Domain events published by type.\n")
	b.WriteString("# TYPE medscribe_events_total counter\n")
	counts := m.events.snapshot()
	for _, typ := range sortedKeys(counts) {
		fmt.Fprintf(b, "medscribe_events_total{type=%q} %d\n", typ, counts[typ])
	}
	b.WriteByte('\n')

	m.mu.RLock()
	gauges := append([]gauge(nil), m.gauges...)
	m.mu.RUnlock()
	for _, g := range gauges {
		fmt.Fprintf(b, "# HELP %s %s\n", g.name, g.help)
		fmt.Fprintf(b, "# TYPE %s gauge\n", g.name)
		fmt.Fprintf(b, "%s %d\n\n", g.name, g.fn())
	}
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	total := h.Count()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

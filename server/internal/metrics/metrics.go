// Package metrics counts cache, scan and regeneration events and serves them
// in the Prometheus text exposition format.
package metrics

import (
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

const namespace = "qrrelay_"

// Registry holds all counters. The zero value is not usable; call New.
// Registry is safe for concurrent use.
type Registry struct {
	hits      atomic.Uint64
	misses    atomic.Uint64
	sweeps    atomic.Uint64
	cascadeKO atomic.Uint64

	evictions     *counterVec
	scans         *counterVec
	regenerations *counterVec

	mu     sync.Mutex
	gauges map[string]gauge
}

type gauge struct {
	help string
	fn   func() float64
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		evictions:     newCounterVec("reason"),
		scans:         newCounterVec("result"),
		regenerations: newCounterVec("result"),
		gauges:        make(map[string]gauge),
	}
}

// Hit counts a cache hit.
func (r *Registry) Hit() { r.hits.Add(1) }

// Miss counts a cache miss.
func (r *Registry) Miss() { r.misses.Add(1) }

// Evicted counts one cache eviction with its reason.
func (r *Registry) Evicted(reason string) { r.evictions.inc(reason) }

// Swept counts one completed janitor sweep.
func (r *Registry) Swept() { r.sweeps.Add(1) }

// CascadeFailed counts a store update that failed after an eviction.
func (r *Registry) CascadeFailed() { r.cascadeKO.Add(1) }

// Scan counts a submitted scan by result ("accepted", "rejected", "error").
func (r *Registry) Scan(result string) { r.scans.inc(result) }

// Regeneration counts a code request by result.
func (r *Registry) Regeneration(result string) { r.regenerations.inc(result) }

// RegisterGauge exposes fn under name, evaluated at scrape time.
func (r *Registry) RegisterGauge(name, help string, fn func() float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[name] = gauge{help: help, fn: fn}
}

// Families returns the current value of every metric.
func (r *Registry) Families() []*dto.MetricFamily {
	out := []*dto.MetricFamily{
		counter("cache_hits_total", "Session cache lookups served from memory.", float64(r.hits.Load())),
		counter("cache_misses_total", "Session cache lookups that fell back to the store.", float64(r.misses.Load())),
		counter("sweeps_total", "Completed janitor sweeps.", float64(r.sweeps.Load())),
		counter("cascade_failures_total", "Store updates that failed after a cache eviction.", float64(r.cascadeKO.Load())),
	}
	// The text format rejects families without samples.
	for _, mf := range []*dto.MetricFamily{
		r.evictions.family("cache_evictions_total", "Session cache evictions by reason."),
		r.scans.family("scans_total", "Submitted scans by result."),
		r.regenerations.family("regenerations_total", "Code regeneration requests by result."),
	} {
		if len(mf.Metric) > 0 {
			out = append(out, mf)
		}
	}

	r.mu.Lock()
	names := make([]string, 0, len(r.gauges))
	for name := range r.gauges {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		g := r.gauges[name]
		out = append(out, &dto.MetricFamily{
			Name:   proto.String(namespace + name),
			Help:   proto.String(g.help),
			Type:   dto.MetricType_GAUGE.Enum(),
			Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: proto.Float64(g.fn())}}},
		})
	}
	r.mu.Unlock()

	return out
}

// ServeHTTP writes all metrics in the Prometheus text format.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))

	enc := expfmt.NewEncoder(w, format)
	for _, mf := range r.Families() {
		if err := enc.Encode(mf); err != nil {
			slog.Warn("metrics: encode failed", "family", mf.GetName(), "err", err)
			return
		}
	}
}

func counter(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(namespace + name),
		Help:   proto.String(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: proto.Float64(v)}}},
	}
}

// counterVec is a set of counters keyed by one label value.
type counterVec struct {
	label string

	mu     sync.Mutex
	values map[string]uint64
}

func newCounterVec(label string) *counterVec {
	return &counterVec{label: label, values: make(map[string]uint64)}
}

func (c *counterVec) inc(value string) {
	c.mu.Lock()
	c.values[value]++
	c.mu.Unlock()
}

func (c *counterVec) get(value string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[value]
}

func (c *counterVec) family(name, help string) *dto.MetricFamily {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mf := &dto.MetricFamily{
		Name: proto.String(namespace + name),
		Help: proto.String(help),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	for _, k := range keys {
		mf.Metric = append(mf.Metric, &dto.Metric{
			Label:   []*dto.LabelPair{{Name: proto.String(c.label), Value: proto.String(k)}},
			Counter: &dto.Counter{Value: proto.Float64(float64(c.values[k]))},
		})
	}
	return mf
}

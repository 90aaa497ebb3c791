// Package metrics implements the RED (Rate/Errors/Duration) metrics
// recorder: durable samples with true nearest-rank percentile order
// statistics, exported in Prometheus text format.
package metrics

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/unitai-dev/unitai-core/internal/clock"
	"github.com/unitai-dev/unitai-core/internal/corereq"
)

// Sample is one recorded invocation.
type Sample struct {
	Timestamp     time.Time
	Component     string
	BackendID     corereq.BackendID
	Operation     string
	DurationMs    int64
	Outcome       string // "success" or "failure"
	CorrelationID string
}

// Store persists metric samples and answers windowed queries.
type Store interface {
	Insert(Sample) error
	// Window returns every sample with Timestamp in [since, now], in
	// insertion order, so percentile ties break by insertion order.
	Window(component string, backendID corereq.BackendID, since, now time.Time) ([]Sample, error)
	// All returns every sample currently stored, used by the Prometheus
	// exporter to compute per-backend RED gauges.
	All() ([]Sample, error)
}

// RED is the rate/errors/duration summary over a time window.
type RED struct {
	RatePerSec float64
	ErrorRate  float64
	P50Ms      float64
	P95Ms      float64
	P99Ms      float64
	Count      int
}

// Recorder records samples and answers RED queries.
type Recorder struct {
	store Store
	clock clock.Clock
	log   *slog.Logger
}

// New constructs a Recorder. Persistence failures are logged and
// non-fatal.
func New(store Store, clk clock.Clock, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Recorder{store: store, clock: clk, log: log}
}

// Record persists a sample for later RED queries.
func (r *Recorder) Record(component string, backendID corereq.BackendID, operation string, duration time.Duration, outcome, correlationID string) {
	s := Sample{
		Timestamp:     r.clock.Now(),
		Component:     component,
		BackendID:     backendID,
		Operation:     operation,
		DurationMs:    duration.Milliseconds(),
		Outcome:       outcome,
		CorrelationID: correlationID,
	}
	if r.store == nil {
		return
	}
	if err := r.store.Insert(s); err != nil {
		r.log.Error("failed to persist metric sample", slog.Any("error", err))
	}
}

// RED computes rate/errors/duration percentiles for component/backendID
// over the trailing windowMinutes. backendID == "" queries across all
// backends for the component.
func (r *Recorder) RED(component string, backendID corereq.BackendID, windowMinutes int) (RED, error) {
	if r.store == nil {
		return RED{}, nil
	}
	now := r.clock.Now()
	since := now.Add(-time.Duration(windowMinutes) * time.Minute)

	samples, err := r.store.Window(component, backendID, since, now)
	if err != nil {
		return RED{}, err
	}
	return computeRED(samples, float64(windowMinutes)*60.0), nil
}

func computeRED(samples []Sample, windowSeconds float64) RED {
	n := len(samples)
	if n == 0 {
		return RED{}
	}

	failures := 0
	durations := make([]float64, n)
	for i, s := range samples {
		durations[i] = float64(s.DurationMs)
		if s.Outcome == "failure" {
			failures++
		}
	}

	// sort.SliceStable preserves relative insertion order among equal
	// durations, so percentile ties break by insertion order.
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return durations[idx[i]] < durations[idx[j]]
	})
	sorted := make([]float64, n)
	for i, ix := range idx {
		sorted[i] = durations[ix]
	}

	red := RED{
		Count:      n,
		ErrorRate:  float64(failures) / float64(n),
		P50Ms:      percentile(sorted, 0.50),
		P95Ms:      percentile(sorted, 0.95),
		P99Ms:      percentile(sorted, 0.99),
	}
	if windowSeconds > 0 {
		red.RatePerSec = float64(n) / windowSeconds
	}
	return red
}

// percentile returns the p-th order statistic (nearest-rank method) over
// an already-sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// PrometheusExporter formats metrics for Prometheus scraping, grounded on
// internal/gateway/prometheus.go's writeHelp/writeType/writeCounter helpers.
type PrometheusExporter struct {
	store Store
	reg   backendLister
}

// backendLister supplies the set of backend ids that should always appear
// in exported output, even with zero samples.
type backendLister interface {
	AllBackendIDs() []corereq.BackendID
}

// NewPrometheusExporter binds a Store and the registry's backend id list.
func NewPrometheusExporter(store Store, reg backendLister) *PrometheusExporter {
	return &PrometheusExporter{store: store, reg: reg}
}

// WritePrometheus writes one set of RED gauges per backend in Prometheus
// text exposition format, ensuring zero-sample backends still appear.
func (e *PrometheusExporter) WritePrometheus(w io.Writer) error {
	samples, err := e.store.All()
	if err != nil {
		return err
	}

	byBackend := make(map[corereq.BackendID][]Sample)
	for _, s := range samples {
		byBackend[s.BackendID] = append(byBackend[s.BackendID], s)
	}
	if e.reg != nil {
		for _, id := range e.reg.AllBackendIDs() {
			if _, ok := byBackend[id]; !ok {
				byBackend[id] = nil
			}
		}
	}

	writeHelp(w, "unitai_requests_total", "Total recorded invocations per backend")
	writeType(w, "unitai_requests_total", "counter")
	for id, s := range byBackend {
		writeGaugeLabeled(w, "unitai_requests_total", float64(len(s)), "backend", string(id))
	}

	writeHelp(w, "unitai_error_rate", "Fraction of recorded invocations that failed")
	writeType(w, "unitai_error_rate", "gauge")
	for id, s := range byBackend {
		red := computeRED(s, 1)
		writeGaugeLabeled(w, "unitai_error_rate", red.ErrorRate, "backend", string(id))
	}

	for _, pct := range []struct {
		name string
		get  func(RED) float64
	}{
		{"unitai_duration_p50_ms", func(r RED) float64 { return r.P50Ms }},
		{"unitai_duration_p95_ms", func(r RED) float64 { return r.P95Ms }},
		{"unitai_duration_p99_ms", func(r RED) float64 { return r.P99Ms }},
	} {
		writeHelp(w, pct.name, "Duration percentile in milliseconds")
		writeType(w, pct.name, "gauge")
		for id, s := range byBackend {
			red := computeRED(s, 1)
			writeGaugeLabeled(w, pct.name, pct.get(red), "backend", string(id))
		}
	}

	return nil
}

func writeHelp(w io.Writer, name, help string) {
	_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
}

func writeType(w io.Writer, name, metricType string) {
	_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
}

func writeGaugeLabeled(w io.Writer, name string, value float64, labelKey, labelValue string) {
	_, _ = fmt.Fprintf(w, "%s{%s=%q} %g\n", name, labelKey, labelValue, value)
}

package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/unitai-dev/unitai-core/internal/clock"
	"github.com/unitai-dev/unitai-core/internal/corereq"
)

type memStore struct {
	samples []Sample
}

func (m *memStore) Insert(s Sample) error {
	m.samples = append(m.samples, s)
	return nil
}

func (m *memStore) Window(component string, backendID corereq.BackendID, since, now time.Time) ([]Sample, error) {
	var out []Sample
	for _, s := range m.samples {
		if s.Component != component {
			continue
		}
		if backendID != "" && s.BackendID != backendID {
			continue
		}
		if s.Timestamp.Before(since) || s.Timestamp.After(now) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *memStore) All() ([]Sample, error) { return m.samples, nil }

type fakeBackendLister struct{ ids []corereq.BackendID }

func (f fakeBackendLister) AllBackendIDs() []corereq.BackendID { return f.ids }

func TestRecordAndREDBasic(t *testing.T) {
	store := &memStore{}
	fc := clock.NewFake(time.Unix(1000, 0))
	rec := New(store, fc, nil)

	durations := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}
	for i, d := range durations {
		outcome := "success"
		if i == 1 {
			outcome = "failure"
		}
		rec.Record("execute", "ask-gemini", "run", d, outcome, "corr")
		fc.Advance(time.Second)
	}

	red, err := rec.RED("execute", "ask-gemini", 5)
	if err != nil {
		t.Fatalf("RED: %v", err)
	}
	if red.Count != 3 {
		t.Fatalf("Count = %d, want 3", red.Count)
	}
	if red.ErrorRate < 0.33 || red.ErrorRate > 0.34 {
		t.Fatalf("ErrorRate = %v, want ~0.333", red.ErrorRate)
	}
}

// RED metrics percentile-computation property: nearest-rank percentiles
// over a known, ordered sample set yield exact, predictable values, and
// ties between equal-duration samples are broken by insertion order.
func TestPercentileComputationWithTies(t *testing.T) {
	store := &memStore{}
	fc := clock.NewFake(time.Unix(0, 0))
	rec := New(store, fc, nil)

	// Ten samples: 100ms x5, 200ms x5 — deliberately interleaved so
	// insertion order differs from a stable sort by value alone would
	// produce if ties broke arbitrarily.
	values := []int64{200, 100, 200, 100, 200, 100, 200, 100, 200, 100}
	for _, v := range values {
		rec.Record("execute", "ask-gemini", "run", time.Duration(v)*time.Millisecond, "success", "corr")
		fc.Advance(time.Second)
	}

	red, err := rec.RED("execute", "ask-gemini", 60)
	if err != nil {
		t.Fatalf("RED: %v", err)
	}
	if red.Count != 10 {
		t.Fatalf("Count = %d, want 10", red.Count)
	}
	// sorted durations: five 100s then five 200s (nearest-rank is stable
	// regardless of tie-break since all tied values are identical).
	if red.P50Ms != 100 {
		t.Fatalf("P50Ms = %v, want 100 (rank ceil(0.5*10) = 5, the last of the 100s)", red.P50Ms)
	}
	if red.P99Ms != 200 {
		t.Fatalf("P99Ms = %v, want 200 (the max)", red.P99Ms)
	}
}

func TestREDEmptyWindowReturnsZeroValue(t *testing.T) {
	store := &memStore{}
	fc := clock.NewFake(time.Unix(0, 0))
	rec := New(store, fc, nil)

	red, err := rec.RED("execute", "ask-gemini", 5)
	if err != nil {
		t.Fatalf("RED: %v", err)
	}
	if red.Count != 0 || red.RatePerSec != 0 {
		t.Fatalf("RED = %+v, want zero value for an empty window", red)
	}
}

func TestRecordWithNilStoreDoesNotPanic(t *testing.T) {
	rec := New(nil, clock.NewFake(time.Unix(0, 0)), nil)
	rec.Record("execute", "ask-gemini", "run", time.Second, "success", "corr")

	red, err := rec.RED("execute", "ask-gemini", 5)
	if err != nil {
		t.Fatalf("RED: %v", err)
	}
	if red.Count != 0 {
		t.Fatalf("Count = %d, want 0 with no store configured", red.Count)
	}
}

// Prometheus export always lists every registered backend, even those with
// zero recorded samples.
func TestPrometheusExportIncludesZeroSampleBackends(t *testing.T) {
	store := &memStore{}
	store.samples = append(store.samples, Sample{
		Timestamp: time.Now(), Component: "execute", BackendID: "ask-gemini",
		Operation: "run", DurationMs: 100, Outcome: "success",
	})
	lister := fakeBackendLister{ids: []corereq.BackendID{"ask-gemini", "ask-droid"}}
	exporter := NewPrometheusExporter(store, lister)

	var buf strings.Builder
	if err := exporter.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `backend="ask-droid"`) {
		t.Fatalf("expected zero-sample backend ask-droid to appear in export:\n%s", out)
	}
	if !strings.Contains(out, `backend="ask-gemini"`) {
		t.Fatalf("expected ask-gemini to appear in export:\n%s", out)
	}
}

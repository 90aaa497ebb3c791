// Package breaker implements the per-backend circuit breaker: a
// CLOSED/OPEN/HALF_OPEN state machine with persisted state and a
// mutex-protected test-request gate. Grounded on
// itsneelabh-gomind/telemetry.TelemetryCircuitBreaker's atomic-state/mutex
// shape, generalized from one global breaker to one per backend id and
// extended with the exactly-one-in-flight-probe HALF_OPEN exclusivity
// required by the orchestration core (an EXPANSION beyond gomind's simpler
// N-concurrent-probe half-open window).
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/unitai-dev/unitai-core/internal/clock"
	"github.com/unitai-dev/unitai-core/internal/corereq"
)

// State is the circuit breaker's three-value state machine.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Snapshot is the persisted shape of one backend's circuit state.
type Snapshot struct {
	BackendID            corereq.BackendID
	State                State
	ConsecutiveFailures  uint
	LastFailureTimestamp time.Time
}

// Store persists breaker snapshots. Implementations must tolerate being
// asked to save the same backend id repeatedly (upsert semantics).
type Store interface {
	Save(Snapshot) error
	LoadAll() ([]Snapshot, error)
}

// Config holds the breaker's thresholds.
type Config struct {
	FailureThreshold uint          // F: consecutive failures before OPEN
	ResetWindow      time.Duration // R: time OPEN must elapse before a probe is admitted
}

// DefaultConfig returns the spec defaults: F=3, R=5m.
func DefaultConfig() Config {
	return Config{FailureThreshold: 3, ResetWindow: 5 * time.Minute}
}

type entry struct {
	mu               sync.Mutex
	state            State
	consecutiveFails uint
	lastFailure      time.Time
	probeInFlight    bool
}

// Breaker is a concurrency-safe, per-backend circuit breaker with
// persistence. On restart, any backend absent from the store is assumed
// CLOSED with zero failures.
type Breaker struct {
	cfg   Config
	clock clock.Clock
	store Store
	log   *slog.Logger

	mapMu   sync.Mutex
	entries map[corereq.BackendID]*entry
}

// New constructs a Breaker, hydrating persisted state from store.
func New(cfg Config, clk clock.Clock, store Store, log *slog.Logger) (*Breaker, error) {
	if log == nil {
		log = slog.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	b := &Breaker{
		cfg:     cfg,
		clock:   clk,
		store:   store,
		log:     log,
		entries: make(map[corereq.BackendID]*entry),
	}
	if store != nil {
		snaps, err := store.LoadAll()
		if err != nil {
			return nil, err
		}
		for _, s := range snaps {
			b.entries[s.BackendID] = &entry{
				state:            s.State,
				consecutiveFails: s.ConsecutiveFailures,
				lastFailure:      s.LastFailureTimestamp,
			}
		}
	}
	return b, nil
}

func (b *Breaker) entryFor(id corereq.BackendID) *entry {
	b.mapMu.Lock()
	defer b.mapMu.Unlock()
	e, ok := b.entries[id]
	if !ok {
		e = &entry{state: StateClosed}
		b.entries[id] = e
	}
	return e
}

// IsAvailable is the sole gate for admitting requests. When a backend's
// OPEN window has expired, exactly one caller transitions it to HALF_OPEN
// and observes "available"; concurrent callers at the same instant never
// all see true, because the compound read-decide-write happens under the
// entry's own mutex.
func (b *Breaker) IsAvailable(id corereq.BackendID) bool {
	e := b.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		// While a probe is in flight, no further callers are admitted
		// until it resolves via onSuccess/onFailure. A HALF_OPEN state
		// loaded from the store has no probe in flight and admits one.
		if !e.probeInFlight {
			e.probeInFlight = true
			return true
		}
		return false
	case StateOpen:
		if b.clock.Since(e.lastFailure) >= b.cfg.ResetWindow {
			e.state = StateHalfOpen
			e.probeInFlight = true
			b.persist(id, e)
			return true
		}
		return false
	default:
		return false
	}
}

// OnSuccess records a successful invocation against id.
func (b *Breaker) OnSuccess(id corereq.BackendID) {
	e := b.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateClosed {
		b.log.Info("circuit closed after success", slog.String("backend", string(id)), slog.String("from", string(e.state)))
	}
	e.state = StateClosed
	e.consecutiveFails = 0
	e.probeInFlight = false
	b.persist(id, e)
}

// OnFailure records a failed invocation against id.
func (b *Breaker) OnFailure(id corereq.BackendID) {
	e := b.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastFailure = b.clock.Now()
	e.probeInFlight = false

	switch e.state {
	case StateHalfOpen:
		e.state = StateOpen
		b.log.Warn("circuit reopened after half-open probe failure", slog.String("backend", string(id)))
	case StateClosed:
		e.consecutiveFails++
		if e.consecutiveFails >= b.cfg.FailureThreshold {
			e.state = StateOpen
			b.log.Warn("circuit opened", slog.String("backend", string(id)), slog.Any("failures", e.consecutiveFails))
		}
	case StateOpen:
		// already open; refresh lastFailure only
	}
	b.persist(id, e)
}

// State returns the current state of id without mutating it.
func (b *Breaker) State(id corereq.BackendID) State {
	e := b.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ResetAll clears all in-memory and persisted breaker state. Intended for
// administrative use and tests.
func (b *Breaker) ResetAll() {
	b.mapMu.Lock()
	ids := make([]corereq.BackendID, 0, len(b.entries))
	for id := range b.entries {
		ids = append(ids, id)
	}
	b.entries = make(map[corereq.BackendID]*entry)
	b.mapMu.Unlock()

	for _, id := range ids {
		if b.store != nil {
			_ = b.store.Save(Snapshot{BackendID: id, State: StateClosed})
		}
	}
}

// FilterAvailable returns the subset of ids currently admitting requests.
func (b *Breaker) FilterAvailable(ids []corereq.BackendID) []corereq.BackendID {
	out := make([]corereq.BackendID, 0, len(ids))
	for _, id := range ids {
		if b.IsAvailable(id) {
			out = append(out, id)
		}
	}
	return out
}

// persist must be called with e.mu held.
func (b *Breaker) persist(id corereq.BackendID, e *entry) {
	if b.store == nil {
		return
	}
	snap := Snapshot{
		BackendID:           id,
		State:               e.state,
		ConsecutiveFailures: e.consecutiveFails,
		LastFailureTimestamp: e.lastFailure,
	}
	if err := b.store.Save(snap); err != nil {
		b.log.Error("failed to persist circuit breaker state", slog.String("backend", string(id)), slog.Any("error", err))
	}
}

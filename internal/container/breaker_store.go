package container

import (
	"database/sql"

	"github.com/unitai-dev/unitai-core/internal/breaker"
	"github.com/unitai-dev/unitai-core/internal/corereq"
)

// breakerStore is the SQLite-backed breaker.Store. Save is an upsert keyed
// on backend_name, since the breaker persists its state on every
// transition and the same backend id is saved repeatedly over the life of
// the process.
type breakerStore struct {
	db *sql.DB
}

func (s *breakerStore) Save(snap breaker.Snapshot) error {
	var lastFailureMs sql.NullInt64
	if !snap.LastFailureTimestamp.IsZero() {
		lastFailureMs = sql.NullInt64{Int64: snap.LastFailureTimestamp.UnixMilli(), Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO circuit_breaker_state (backend_name, state, failures, last_failure_time_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(backend_name) DO UPDATE SET
			state = excluded.state,
			failures = excluded.failures,
			last_failure_time_ms = excluded.last_failure_time_ms
	`, string(snap.BackendID), string(snap.State), snap.ConsecutiveFailures, lastFailureMs)
	return err
}

func (s *breakerStore) LoadAll() ([]breaker.Snapshot, error) {
	rows, err := s.db.Query(`SELECT backend_name, state, failures, last_failure_time_ms FROM circuit_breaker_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []breaker.Snapshot
	for rows.Next() {
		var id, state string
		var failures uint
		var lastFailureMs sql.NullInt64
		if err := rows.Scan(&id, &state, &failures, &lastFailureMs); err != nil {
			return nil, err
		}
		snap := breaker.Snapshot{
			BackendID:           corereq.BackendID(id),
			State:               breaker.State(state),
			ConsecutiveFailures: failures,
		}
		if lastFailureMs.Valid {
			snap.LastFailureTimestamp = msToTime(lastFailureMs.Int64)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

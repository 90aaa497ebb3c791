package container

import (
	"database/sql"
	"time"

	"github.com/unitai-dev/unitai-core/internal/corereq"
	"github.com/unitai-dev/unitai-core/internal/metrics"
)

// metricsStore is the SQLite-backed metrics.Store. Rows are ordered by the
// autoincrementing primary key on read, which matches insertion order and
// so satisfies the "ties broken by insertion order" percentile rule.
type metricsStore struct {
	db *sql.DB
}

func (s *metricsStore) Insert(sample metrics.Sample) error {
	_, err := s.db.Exec(`
		INSERT INTO metrics (timestamp_ms, component, backend, operation, duration_ms, outcome, correlation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sample.Timestamp.UnixMilli(), sample.Component, string(sample.BackendID), sample.Operation, sample.DurationMs, sample.Outcome, sample.CorrelationID)
	return err
}

func (s *metricsStore) Window(component string, backendID corereq.BackendID, since, now time.Time) ([]metrics.Sample, error) {
	var rows *sql.Rows
	var err error
	if backendID == "" {
		rows, err = s.db.Query(`
			SELECT timestamp_ms, component, backend, operation, duration_ms, outcome, correlation_id
			FROM metrics WHERE component = ? AND timestamp_ms BETWEEN ? AND ?
			ORDER BY id ASC
		`, component, since.UnixMilli(), now.UnixMilli())
	} else {
		rows, err = s.db.Query(`
			SELECT timestamp_ms, component, backend, operation, duration_ms, outcome, correlation_id
			FROM metrics WHERE component = ? AND backend = ? AND timestamp_ms BETWEEN ? AND ?
			ORDER BY id ASC
		`, component, string(backendID), since.UnixMilli(), now.UnixMilli())
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSamples(rows)
}

func (s *metricsStore) All() ([]metrics.Sample, error) {
	rows, err := s.db.Query(`
		SELECT timestamp_ms, component, backend, operation, duration_ms, outcome, correlation_id
		FROM metrics ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSamples(rows)
}

func scanSamples(rows *sql.Rows) ([]metrics.Sample, error) {
	var out []metrics.Sample
	for rows.Next() {
		var tsMs int64
		var backend sql.NullString
		var s metrics.Sample
		if err := rows.Scan(&tsMs, &s.Component, &backend, &s.Operation, &s.DurationMs, &s.Outcome, &s.CorrelationID); err != nil {
			return nil, err
		}
		s.Timestamp = time.UnixMilli(tsMs)
		s.BackendID = corereq.BackendID(backend.String)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Package container is the process-wide dependency container: it owns the
// one on-disk SQLite database backing the audit, circuit-breaker and
// metrics stores, the injected clock, and the root logger, and releases
// them in reverse acquisition order on shutdown. Migration is an ordered
// list of additive CREATE TABLE IF NOT EXISTS / ALTER TABLE ADD COLUMN
// statements run in sequence, tolerating "duplicate column" errors so
// repeated startups against an existing database never fail.
package container

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/unitai-dev/unitai-core/internal/audit"
	"github.com/unitai-dev/unitai-core/internal/breaker"
	"github.com/unitai-dev/unitai-core/internal/clock"
	"github.com/unitai-dev/unitai-core/internal/metrics"
)

// migrations is the ordered, additive schema for all three logical table
// sets: one flat statement list run top to bottom.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		timestamp_ms INTEGER NOT NULL,
		workflow_name TEXT,
		workflow_id TEXT,
		autonomy_level TEXT,
		operation TEXT NOT NULL,
		target TEXT,
		approved INTEGER NOT NULL,
		executed_by TEXT,
		outcome TEXT NOT NULL DEFAULT 'pending',
		error_message TEXT,
		metadata_json TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_entries_timestamp ON audit_entries(timestamp_ms)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_entries_workflow ON audit_entries(workflow_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_entries_operation ON audit_entries(operation)`,

	`CREATE TABLE IF NOT EXISTS circuit_breaker_state (
		backend_name TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		failures INTEGER NOT NULL DEFAULT 0,
		last_failure_time_ms INTEGER
	)`,

	`CREATE TABLE IF NOT EXISTS metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp_ms INTEGER NOT NULL,
		component TEXT NOT NULL,
		backend TEXT,
		operation TEXT,
		duration_ms INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		correlation_id TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_metrics_timestamp ON metrics(timestamp_ms)`,
	`CREATE INDEX IF NOT EXISTS idx_metrics_backend ON metrics(backend)`,
}

// Container owns the shared database handle and the typed stores built
// on top of it, plus the clock and logger every other component borrows.
type Container struct {
	db  *sql.DB
	log *slog.Logger

	Clock   clock.Clock
	Audit   audit.Store
	Breaker breaker.Store
	Metrics metrics.Store
}

// Open creates (or reuses) the SQLite database at dataDir/unitai.db,
// migrates it, and returns a Container with all three stores wired. Callers
// must Close it on shutdown.
func Open(dataDir string, clk clock.Clock, log *slog.Logger) (*Container, error) {
	if log == nil {
		log = slog.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("container: failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "unitai.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("container: failed to open database: %w", err)
	}

	c := &Container{db: db, log: log, Clock: clk}
	if err := c.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	c.Audit = &auditStore{db: db}
	c.Breaker = &breakerStore{db: db}
	c.Metrics = &metricsStore{db: db}
	return c, nil
}

func (c *Container) migrate() error {
	for _, stmt := range migrations {
		if _, err := c.db.Exec(stmt); err != nil {
			// SQLite returns "duplicate column name" for an ALTER TABLE ADD
			// COLUMN against a schema that already has it; safe to ignore.
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("container: migration failed: %w", err)
		}
	}
	return nil
}

// Close releases the database handle. It is the last acquisition in Open
// and therefore the first release on shutdown.
func (c *Container) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// PruneMetricsBefore deletes metric samples older than before, returning
// the number of rows removed. Intended to be run periodically by
// internal/maintenance so the metrics table does not grow unbounded.
func (c *Container) PruneMetricsBefore(before time.Time) (int64, error) {
	res, err := c.db.Exec(`DELETE FROM metrics WHERE timestamp_ms < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("container: prune metrics failed: %w", err)
	}
	return res.RowsAffected()
}

// PruneAuditBefore deletes audit entries older than before, returning the
// number of rows removed. Audit entries are append-only in the sense that
// Insert/UpdateOutcome never rewrite history; retention pruning is a
// distinct, explicitly operator-invoked housekeeping action.
func (c *Container) PruneAuditBefore(before time.Time) (int64, error) {
	res, err := c.db.Exec(`DELETE FROM audit_entries WHERE timestamp_ms < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("container: prune audit entries failed: %w", err)
	}
	return res.RowsAffected()
}

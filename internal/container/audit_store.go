package container

import (
	"database/sql"

	"github.com/unitai-dev/unitai-core/internal/audit"
)

// auditStore is the SQLite-backed audit.Store: plain db.Exec with
// positional placeholders, COALESCE on nullable columns when reading.
type auditStore struct {
	db *sql.DB
}

func (s *auditStore) Insert(e audit.Entry) error {
	_, err := s.db.Exec(`
		INSERT INTO audit_entries
			(id, timestamp_ms, workflow_name, workflow_id, autonomy_level, operation, target, approved, executed_by, outcome, error_message, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.TimestampMs, e.WorkflowName, e.WorkflowID, e.AutonomyLevel, e.Operation, e.Target, boolToInt(e.Approved), e.ExecutedBy, e.Outcome, e.ErrorMessage, e.MetadataJSON)
	return err
}

func (s *auditStore) UpdateOutcome(id, outcome, errorMessage string) error {
	_, err := s.db.Exec(`UPDATE audit_entries SET outcome = ?, error_message = ? WHERE id = ?`, outcome, errorMessage, id)
	return err
}

func (s *auditStore) Recent(limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, timestamp_ms, COALESCE(workflow_name,''), COALESCE(workflow_id,''), COALESCE(autonomy_level,''),
			operation, COALESCE(target,''), approved, COALESCE(executed_by,''), outcome, COALESCE(error_message,''), COALESCE(metadata_json,'')
		FROM audit_entries ORDER BY timestamp_ms DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *auditStore) ForWorkflow(workflowID string) ([]audit.Entry, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp_ms, COALESCE(workflow_name,''), COALESCE(workflow_id,''), COALESCE(autonomy_level,''),
			operation, COALESCE(target,''), approved, COALESCE(executed_by,''), outcome, COALESCE(error_message,''), COALESCE(metadata_json,'')
		FROM audit_entries WHERE workflow_id = ? ORDER BY timestamp_ms ASC
	`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]audit.Entry, error) {
	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var approved int
		if err := rows.Scan(&e.ID, &e.TimestampMs, &e.WorkflowName, &e.WorkflowID, &e.AutonomyLevel,
			&e.Operation, &e.Target, &approved, &e.ExecutedBy, &e.Outcome, &e.ErrorMessage, &e.MetadataJSON); err != nil {
			return nil, err
		}
		e.Approved = approved != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Package audit implements the append-only, fail-closed audit sink. An
// entry is written before any mutating operation is allowed to proceed;
// its outcome is updated in place once the operation completes.
package audit

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/unitai-dev/unitai-core/internal/clock"
	"github.com/unitai-dev/unitai-core/internal/corerrors"
)

// Entry is one audit record, matching the audit_entries table schema.
type Entry struct {
	ID            string
	TimestampMs   int64
	WorkflowName  string
	WorkflowID    string
	AutonomyLevel string
	Operation     string
	Target        string
	Approved      bool
	ExecutedBy    string
	Outcome       string // "success", "failure", or "pending"
	ErrorMessage  string
	MetadataJSON  string
}

const (
	OutcomePending = "pending"
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Store persists audit entries and supports updating an entry's outcome
// in place. Implementations must be append-only for Insert: entries are
// never deleted or rewritten except through UpdateOutcome.
type Store interface {
	Insert(Entry) error
	UpdateOutcome(id, outcome, errorMessage string) error
	Recent(limit int) ([]Entry, error)
	ForWorkflow(workflowID string) ([]Entry, error)
}

// Sink is the fail-closed write path in front of a Store.
type Sink struct {
	store Store
	clock clock.Clock
	log   *slog.Logger
}

// New binds a Store, clock, and logger.
func New(store Store, clk clock.Clock, log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Sink{store: store, clock: clk, log: log}
}

// Write persists entry with a freshly minted ID and timestamp, returning
// the ID on success. A write failure is fail-closed: the caller must
// treat the guarded operation as not permitted to run.
func (s *Sink) Write(entry Entry) (string, error) {
	entry.ID = uuid.NewString()
	entry.TimestampMs = s.clock.Now().UnixMilli()
	if entry.Outcome == "" {
		entry.Outcome = OutcomePending
	}

	if s.store == nil {
		return "", corerrors.New(corerrors.ErrorTypeAuditWriteFailure, "audit.write", "no audit store configured")
	}
	if err := s.store.Insert(entry); err != nil {
		s.log.Error("audit write failed, failing closed", slog.Any("error", err), slog.String("operation", entry.Operation))
		return "", corerrors.Wrap(corerrors.ErrorTypeAuditWriteFailure, "audit.write", err)
	}
	return entry.ID, nil
}

// UpdateOutcome records the eventual result of a previously audited
// operation. Failure here is logged but does not unwind the caller: the
// fail-closed guarantee only governs the initial write.
func (s *Sink) UpdateOutcome(id, outcome string, opErr error) {
	if s.store == nil || id == "" {
		return
	}
	msg := ""
	if opErr != nil {
		msg = opErr.Error()
	}
	if err := s.store.UpdateOutcome(id, outcome, msg); err != nil {
		s.log.Error("failed to update audit entry outcome", slog.String("id", id), slog.Any("error", err))
	}
}

// Recent returns the most recent entries, newest first, for diagnostics.
func (s *Sink) Recent(limit int) ([]Entry, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.Recent(limit)
}

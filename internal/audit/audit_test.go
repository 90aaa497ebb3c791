package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/unitai-dev/unitai-core/internal/clock"
	"github.com/unitai-dev/unitai-core/internal/corerrors"
)

// memStore is an in-memory Store for tests, with an optional forced
// Insert failure to exercise the fail-closed path.
type memStore struct {
	entries   []Entry
	failWrite bool
}

func (m *memStore) Insert(e Entry) error {
	if m.failWrite {
		return errors.New("disk full")
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memStore) UpdateOutcome(id, outcome, errorMessage string) error {
	for i := range m.entries {
		if m.entries[i].ID == id {
			m.entries[i].Outcome = outcome
			m.entries[i].ErrorMessage = errorMessage
			return nil
		}
	}
	return errors.New("entry not found")
}

func (m *memStore) Recent(limit int) ([]Entry, error) {
	if limit > len(m.entries) {
		limit = len(m.entries)
	}
	out := make([]Entry, limit)
	for i := 0; i < limit; i++ {
		out[i] = m.entries[len(m.entries)-1-i]
	}
	return out, nil
}

func (m *memStore) ForWorkflow(workflowID string) ([]Entry, error) {
	var out []Entry
	for _, e := range m.entries {
		if e.WorkflowID == workflowID {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestSinkWriteMintsIDAndTimestamp(t *testing.T) {
	store := &memStore{}
	fc := clock.NewFake(time.Unix(1700000000, 0))
	sink := New(store, fc, nil)

	id, err := sink.Write(Entry{Operation: "write-file", Target: "foo.go", Approved: true})
	assert.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Len(t, store.entries, 1)
	assert.Equal(t, fc.Now().UnixMilli(), store.entries[0].TimestampMs)
	assert.Equal(t, OutcomePending, store.entries[0].Outcome)
}

// Audit fail-closed property: a forced store write rejection surfaces as
// ErrorTypeAuditWriteFailure and never returns a usable entry id.
func TestSinkWriteFailsClosedOnStoreError(t *testing.T) {
	store := &memStore{failWrite: true}
	sink := New(store, clock.NewFake(time.Unix(0, 0)), nil)

	id, err := sink.Write(Entry{Operation: "execute-command"})
	assert.Empty(t, id)
	typ, ok := corerrors.TypeOf(err)
	assert.True(t, ok)
	assert.Equal(t, corerrors.ErrorTypeAuditWriteFailure, typ)
	assert.Len(t, store.entries, 0)
}

func TestSinkWriteFailsClosedWithNoStoreConfigured(t *testing.T) {
	sink := New(nil, clock.NewFake(time.Unix(0, 0)), nil)

	id, err := sink.Write(Entry{Operation: "git-push"})
	assert.Empty(t, id)
	typ, ok := corerrors.TypeOf(err)
	assert.True(t, ok)
	assert.Equal(t, corerrors.ErrorTypeAuditWriteFailure, typ)
}

func TestSinkUpdateOutcomeIsNonFatalOnFailure(t *testing.T) {
	store := &memStore{}
	sink := New(store, clock.NewFake(time.Unix(0, 0)), nil)

	// Updating an id that was never written should not panic; it is
	// logged and swallowed.
	assert.NotPanics(t, func() {
		sink.UpdateOutcome("does-not-exist", OutcomeFailure, errors.New("boom"))
	})
}

func TestSinkUpdateOutcomeRecordsResult(t *testing.T) {
	store := &memStore{}
	sink := New(store, clock.NewFake(time.Unix(0, 0)), nil)

	id, err := sink.Write(Entry{Operation: "git-commit"})
	assert.NoError(t, err)

	sink.UpdateOutcome(id, OutcomeSuccess, nil)
	assert.Equal(t, OutcomeSuccess, store.entries[0].Outcome)

	sink.UpdateOutcome(id, OutcomeFailure, errors.New("exit 1"))
	assert.Equal(t, OutcomeFailure, store.entries[0].Outcome)
	assert.Equal(t, "exit 1", store.entries[0].ErrorMessage)
}

func TestSinkRecentReturnsNewestFirst(t *testing.T) {
	store := &memStore{}
	sink := New(store, clock.NewFake(time.Unix(0, 0)), nil)

	_, _ = sink.Write(Entry{Operation: "read-file", Target: "first"})
	_, _ = sink.Write(Entry{Operation: "read-file", Target: "second"})

	recent, err := sink.Recent(10)
	assert.NoError(t, err)
	assert.Len(t, recent, 2)
	assert.Equal(t, "second", recent[0].Target)
	assert.Equal(t, "first", recent[1].Target)
}

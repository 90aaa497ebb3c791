package maintenance

import (
	"testing"
)

func TestScheduleAcceptsStandardFiveFieldExpression(t *testing.T) {
	s := New(nil, nil)

	id, err := s.Schedule("retention-sweep", "0 3 * * *", func() {})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a nonzero cron.EntryID")
	}

	s.Start()
	s.Stop()
}

func TestStartIsIdempotent(t *testing.T) {
	s := New(nil, nil)
	s.Start()
	s.Start() // must not panic or double-start the underlying cron.Cron
	s.Stop()
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	s := New(nil, nil)
	s.Stop() // must not block or panic when never started
}

func TestScheduleRejectsInvalidExpression(t *testing.T) {
	s := New(nil, nil)
	_, err := s.Schedule("bad", "not a cron expression", func() {})
	if err == nil {
		t.Fatal("expected an error for a malformed cron expression")
	}
}

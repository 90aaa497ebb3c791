// Package maintenance runs periodic housekeeping jobs — currently store
// retention sweeps — against the dependency container's persistent
// stores. A robfig/cron/v3 wrapper with a mutex-guarded running flag and a
// configured timezone, supporting an arbitrary set of named cron jobs.
package maintenance

import (
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler owns a cron.Cron instance and the jobs registered on it.
type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger

	mu      sync.Mutex
	running bool
}

// New returns a Scheduler running in loc (UTC if loc is nil).
func New(loc *time.Location, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{cron: cron.New(cron.WithLocation(loc)), log: log}
}

// Schedule registers fn against a standard five-field cron expression.
// Jobs may be added both before and after Start.
func (s *Scheduler) Schedule(name, expr string, fn func()) (cron.EntryID, error) {
	id, err := s.cron.AddFunc(expr, func() {
		s.log.Info("running scheduled maintenance job", slog.String("job", name))
		fn()
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Start begins running registered jobs on their schedule. It is a no-op if
// already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
}

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
}

// Package scheduler registers one-shot and interval jobs addressable by a
// caller-chosen string id: jobs are cancellable by id, and cancelling an id
// that isn't registered is a no-op.
//
// It is a thin wrapper over github.com/go-co-op/gocron/v2, which schedules
// jobs by uuid.UUID rather than by name; we keep the id -> uuid mapping
// ourselves so the rest of the peer never has to deal with gocron's job
// handles directly.
package scheduler

import (
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	log "github.com/sirupsen/logrus"
)

// Scheduler is safe for concurrent use.
type Scheduler struct {
	mu   sync.Mutex
	gs   gocron.Scheduler
	jobs map[string]gocron.Job
}

// New creates and starts a Scheduler. Callers must call Shutdown when done.
func New() (*Scheduler, error) {
	gs, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		gs:   gs,
		jobs: make(map[string]gocron.Job),
	}
	gs.Start()
	return s, nil
}

// ScheduleInterval (re-)registers a recurring job under id, replacing
// whatever was previously registered under the same id.
func (s *Scheduler) ScheduleInterval(id string, every time.Duration, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(id)

	job, err := s.gs.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(fn),
	)
	if err != nil {
		return err
	}
	s.jobs[id] = job
	return nil
}

// ScheduleOnce (re-)registers a one-shot job under id, firing once after
// delay. Re-registering under the same id (e.g. a fresh reply deadline for
// the same peer) cancels the previous timer.
func (s *Scheduler) ScheduleOnce(id string, delay time.Duration, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(id)

	job, err := s.gs.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(time.Now().Add(delay))),
		gocron.NewTask(fn),
	)
	if err != nil {
		return err
	}
	s.jobs[id] = job
	return nil
}

// Cancel removes the job registered under id. Cancelling an id that does
// not exist is a no-op.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(id)
}

func (s *Scheduler) cancelLocked(id string) {
	job, ok := s.jobs[id]
	if !ok {
		return
	}
	delete(s.jobs, id)
	if err := s.gs.RemoveJob(job.ID()); err != nil {
		log.WithError(err).WithField("job_id", id).Debug("scheduler: job already gone")
	}
}

// Shutdown stops the underlying scheduler and releases its goroutines.
func (s *Scheduler) Shutdown() error {
	return s.gs.Shutdown()
}

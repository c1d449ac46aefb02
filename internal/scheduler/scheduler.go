// Package scheduler gives each loaded plugin a namespaced cron scheduler,
// backed by github.com/robfig/cron/v3, mirroring the per-plugin scheduler
// the teacher server keeps so an unload can cleanly cancel only that
// plugin's jobs.
package scheduler

import (
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler wraps one shared *cron.Cron and tags every registered job by
// the plugin package that owns it, so Unregister can cancel just that
// plugin's jobs without disturbing anyone else's.
type Scheduler struct {
	cron *cron.Cron

	mu   sync.Mutex
	jobs map[string][]cron.EntryID // package -> owned entry ids
}

// New returns a scheduler with its cron loop already running.
func New() *Scheduler {
	s := &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		jobs: make(map[string][]cron.EntryID),
	}
	s.cron.Start()
	return s
}

// Register schedules fn on the given cron spec, tagged under pkg.
func (s *Scheduler) Register(pkg, spec string, fn func()) error {
	id, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.jobs[pkg] = append(s.jobs[pkg], id)
	s.mu.Unlock()
	return nil
}

// Unregister cancels every job registered under pkg, called when that
// plugin is unloaded.
func (s *Scheduler) Unregister(pkg string) {
	s.mu.Lock()
	ids := s.jobs[pkg]
	delete(s.jobs, pkg)
	s.mu.Unlock()

	for _, id := range ids {
		s.cron.Remove(id)
	}
}

// Stop drains the cron loop at shutdown, waiting for any in-flight job to
// finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"equiprent-backend/internal/config"
	"equiprent-backend/internal/jobs"
	"equiprent-backend/internal/logger"
)

// Scheduler manages cron job scheduling
type Scheduler struct {
	cron *cron.Cron
	jobs *jobs.JobRunner
}

// NewScheduler creates a new scheduler with the provided job runner.
// Jobs with an empty or invalid spec are logged and left unscheduled.
func NewScheduler(jobRunner *jobs.JobRunner, cfg config.SchedulerConfig) *Scheduler {
	// Create cron with UTC timezone and seconds precision
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
	)

	s := &Scheduler{
		cron: c,
		jobs: jobRunner,
	}

	s.registerJobs(cfg)
	return s
}

// registerJobs registers all scheduled jobs with the cron scheduler
func (s *Scheduler) registerJobs(cfg config.SchedulerConfig) {
	specs := []struct {
		name string
		spec string
	}{
		{jobs.JobRefreshOverdue, cfg.RefreshOverdue},
		{jobs.JobReturnReminders, cfg.ReturnReminders},
		{jobs.JobRegenerateIdentifiers, cfg.RegenerateIdentifiers},
		{jobs.JobLowStockWarnings, cfg.LowStockWarnings},
	}

	registered := 0
	for _, j := range specs {
		if j.spec == "" {
			logger.Info("Job disabled", "job", j.name)
			continue
		}
		if _, err := s.cron.AddFunc(j.spec, s.jobs.Func(j.name)); err != nil {
			logger.Error("Failed to register job", "job", j.name, "spec", j.spec, "error", err)
			continue
		}
		registered++
	}

	logger.Info("Cron jobs registered", "count", registered)
}

// Start begins the cron scheduler
func (s *Scheduler) Start() {
	logger.Info("Starting cron scheduler...")
	s.cron.Start()
	logger.Info("Cron scheduler started successfully")
}

// Stop gracefully stops the cron scheduler
func (s *Scheduler) Stop() {
	logger.Info("Stopping cron scheduler...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("Cron scheduler stopped")
}

// IsRunning returns true if any job is registered
func (s *Scheduler) IsRunning() bool {
	return len(s.cron.Entries()) > 0
}

// Entries returns how many jobs are scheduled
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

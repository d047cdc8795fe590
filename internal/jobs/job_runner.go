package jobs

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"equiprent-backend/internal/logger"
	"equiprent-backend/internal/repository"
	"equiprent-backend/internal/service"
)

// Job names accepted by Run and the cronjob -run-once flag.
const (
	JobRefreshOverdue        = "refresh-overdue"
	JobReturnReminders       = "return-reminders"
	JobRegenerateIdentifiers = "regenerate-identifiers"
	JobLowStockWarnings      = "low-stock-warnings"
)

// ErrUnknownJob is returned by Run for a name outside Names.
var ErrUnknownJob = errors.New("unknown job")

// JobRunner coordinates all scheduled jobs
type JobRunner struct {
	store    repository.Store
	services *Services
	settings service.Settings
	now      func() time.Time
	timeout  time.Duration
}

// Services holds all service dependencies needed by jobs
type Services struct {
	Projects   service.ProjectService
	Units      service.UnitService
	Equipment  service.EquipmentService
	Activities service.ActivityScheduler
}

// NewJobRunner creates a new job runner with all dependencies
func NewJobRunner(store repository.Store, services *Services, settings service.Settings) *JobRunner {
	return &JobRunner{
		store:    store,
		services: services,
		settings: settings,
		now:      time.Now,
		timeout:  30 * time.Minute,
	}
}

// SetClock replaces the clock used to decide which projects are due.
func (jr *JobRunner) SetClock(now func() time.Time) {
	jr.now = now
}

func (jr *JobRunner) registry() map[string]func(ctx context.Context) error {
	return map[string]func(ctx context.Context) error{
		JobRefreshOverdue:        jr.refreshOverdue,
		JobReturnReminders:       jr.sendReturnReminders,
		JobRegenerateIdentifiers: jr.regenerateMissingIdentifiers,
		JobLowStockWarnings:      jr.warnLowStock,
	}
}

// Names lists the jobs Run accepts, sorted.
func (jr *JobRunner) Names() []string {
	names := make([]string, 0, 4)
	for name := range jr.registry() {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Run executes one job by name and reports its failure, including a recovered panic.
func (jr *JobRunner) Run(name string) error {
	fn, ok := jr.registry()[name]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownJob, name)
	}
	return jr.runWithRecovery(name, fn)
}

// Func adapts a job to the signature cron expects. Failures are logged by runWithRecovery.
func (jr *JobRunner) Func(name string) func() {
	return func() {
		_ = jr.Run(name)
	}
}

// RunAll runs every job once, in name order (for manual execution)
func (jr *JobRunner) RunAll() error {
	var failed []string
	for _, name := range jr.Names() {
		if err := jr.Run(name); err != nil {
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("jobs failed: %v", failed)
	}
	return nil
}

// runWithRecovery wraps job execution with panic recovery
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func(ctx context.Context) error) (err error) {
	log := logger.WithService("jobs").With("job", jobName)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Job panicked", "panic", r)
			err = fmt.Errorf("job %s panicked: %v", jobName, r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), jr.timeout)
	defer cancel()

	start := time.Now()
	log.Info("Starting job")
	if err := jobFunc(ctx); err != nil {
		log.Error("Job failed", "error", err, "duration", time.Since(start))
		return err
	}
	log.Info("Job completed", "duration", time.Since(start))
	return nil
}

package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"equiprent-backend/internal/config"
	"equiprent-backend/internal/jobs"
	"equiprent-backend/internal/repository/memory"
	"equiprent-backend/internal/service"
)

func TestNewScheduler_RegistersConfiguredJobs(t *testing.T) {
	runner := jobs.NewJobRunner(memory.NewStore(), &jobs.Services{}, service.DefaultSettings())

	s := NewScheduler(runner, config.SchedulerConfig{
		RefreshOverdue:        "0 5 0 * * *",
		ReturnReminders:       "0 0 8 * * *",
		RegenerateIdentifiers: "",
		LowStockWarnings:      "not a cron spec",
	})
	assert.Equal(t, 2, s.Entries())
	assert.True(t, s.IsRunning())

	s.Start()
	s.Stop()
}

func TestNewScheduler_NothingConfigured(t *testing.T) {
	runner := jobs.NewJobRunner(memory.NewStore(), &jobs.Services{}, service.DefaultSettings())
	s := NewScheduler(runner, config.SchedulerConfig{})
	assert.False(t, s.IsRunning())
}

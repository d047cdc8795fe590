package jobs_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/jobs"
	"equiprent-backend/internal/repository/memory"
	"equiprent-backend/internal/service"
)

var today = time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

type pngRenderer struct{}

func (pngRenderer) Generate(data string, logo []byte, size int) ([]byte, error) {
	return []byte("png:" + data), nil
}

type harness struct {
	ctx      context.Context
	store    *memory.Store
	clock    time.Time
	deps     service.Deps
	services *jobs.Services
	runner   *jobs.JobRunner
}

func newHarness(t *testing.T, renderer service.IdentifierRenderer) *harness {
	t.Helper()
	h := &harness{ctx: context.Background(), store: memory.NewStore(), clock: today}
	settings := service.DefaultSettings()
	settings.FollowUpAssignee = "warehouse"
	h.deps = service.Deps{
		Store:      h.store,
		Settings:   settings,
		Renderer:   renderer,
		Invoicing:  service.NewInvoiceBook(h.store),
		Activities: service.NewActivityLog(h.store),
		Now:        func() time.Time { return h.clock },
	}
	projects := service.NewProjectService(h.deps, service.NewAllocator(h.deps))
	h.services = &jobs.Services{
		Projects:   projects,
		Units:      service.NewUnitService(h.deps),
		Equipment:  service.NewEquipmentService(h.deps),
		Activities: h.deps.Activities,
	}
	h.runner = jobs.NewJobRunner(h.store, h.services, settings)
	h.runner.SetClock(func() time.Time { return h.clock })
	return h
}

func (h *harness) equipment(t *testing.T, name string, units int) *domain.Equipment {
	t.Helper()
	e := &domain.Equipment{Name: name, DailyRate: 25, HasSerials: true}
	require.NoError(t, h.services.Equipment.CreateEquipment(h.ctx, e))
	for i := 1; i <= units; i++ {
		u := &domain.Unit{EquipmentID: e.ID, SerialNumber: fmt.Sprintf("%s-%02d", e.Code, i)}
		require.NoError(t, h.services.Units.CreateUnit(h.ctx, u, "tester"))
	}
	return e
}

func (h *harness) ongoing(t *testing.T, e *domain.Equipment, qty int, end time.Time) *domain.Project {
	t.Helper()
	p := &domain.Project{
		CustomerName: "Harbor Films",
		StartDate:    today,
		EndDate:      end,
		LineItems:    []domain.LineItem{{EquipmentID: e.ID, Quantity: qty}},
	}
	require.NoError(t, h.services.Projects.CreateProject(h.ctx, p))
	_, err := h.services.Projects.Reserve(h.ctx, p.ID, "tester")
	require.NoError(t, err)
	started, err := h.services.Projects.Start(h.ctx, p.ID, "tester", "")
	require.NoError(t, err)
	return started
}

func (h *harness) activities(t *testing.T, subject string) []domain.Activity {
	t.Helper()
	all, _, err := h.store.Repos().Activities.List(h.ctx, nil, 100, 0)
	require.NoError(t, err)
	var matched []domain.Activity
	for _, a := range all {
		if a.Subject == subject {
			matched = append(matched, a)
		}
	}
	return matched
}

func TestJobRunner_UnknownJob(t *testing.T) {
	h := newHarness(t, nil)
	err := h.runner.Run("settle-ledgers")
	assert.ErrorIs(t, err, jobs.ErrUnknownJob)
	assert.Equal(t, []string{
		jobs.JobLowStockWarnings,
		jobs.JobRefreshOverdue,
		jobs.JobRegenerateIdentifiers,
		jobs.JobReturnReminders,
	}, h.runner.Names())
}

func TestJobRunner_RefreshOverdue(t *testing.T) {
	h := newHarness(t, nil)
	e := h.equipment(t, "Dolly", 1)
	p := h.ongoing(t, e, 1, today.AddDate(0, 0, 1))

	h.clock = today.AddDate(0, 0, 4)
	require.NoError(t, h.runner.Run(jobs.JobRefreshOverdue))

	stored, err := h.store.Repos().Projects.GetByID(h.ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsOverdue)
	assert.Equal(t, 3, stored.DaysOverdue)
}

func TestJobRunner_ReturnReminders(t *testing.T) {
	h := newHarness(t, nil)
	e := h.equipment(t, "Light stand", 4)
	dueSoon := h.ongoing(t, e, 1, today.AddDate(0, 0, 2))
	h.ongoing(t, e, 1, today.AddDate(0, 0, 10))

	require.NoError(t, h.runner.Run(jobs.JobReturnReminders))
	reminders := h.activities(t, "Return reminder")
	require.Len(t, reminders, 1)
	require.NotNil(t, reminders[0].ProjectID)
	assert.Equal(t, dueSoon.ID, *reminders[0].ProjectID)
	assert.Equal(t, "warehouse", reminders[0].Assignee)
	assert.Contains(t, reminders[0].Summary, "2026-05-06")

	// Running again the same day does not repeat the reminder.
	require.NoError(t, h.runner.Run(jobs.JobReturnReminders))
	assert.Len(t, h.activities(t, "Return reminder"), 1)
}

func TestJobRunner_RegenerateMissingIdentifiers(t *testing.T) {
	h := newHarness(t, nil)
	e := h.equipment(t, "Tripod", 2)

	units, err := h.store.Repos().Units.List(h.ctx, domain.UnitFilter{EquipmentID: &e.ID})
	require.NoError(t, err)
	for _, u := range units {
		assert.False(t, u.HasImage())
	}

	// A renderer becomes available after the units were created.
	deps := h.deps
	deps.Renderer = pngRenderer{}
	services := *h.services
	services.Units = service.NewUnitService(deps)
	runner := jobs.NewJobRunner(h.store, &services, deps.Settings)
	require.NoError(t, runner.Run(jobs.JobRegenerateIdentifiers))

	units, err = h.store.Repos().Units.List(h.ctx, domain.UnitFilter{EquipmentID: &e.ID})
	require.NoError(t, err)
	require.Len(t, units, 2)
	for _, u := range units {
		assert.Equal(t, "png:"+u.SerialNumber, string(u.IdentifierImage))
	}
}

func TestJobRunner_LowStockWarnings(t *testing.T) {
	h := newHarness(t, nil)
	scarce := h.equipment(t, "Fog machine", 2)
	h.equipment(t, "Cable", 5)

	auto := &domain.Equipment{Name: "Sandbag", DailyRate: 1, HasSerials: true, AutoGenerateSerials: true}
	require.NoError(t, h.services.Equipment.CreateEquipment(h.ctx, auto))

	require.NoError(t, h.runner.Run(jobs.JobLowStockWarnings))
	warnings := h.activities(t, "Low stock")
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Summary, scarce.Code)
	assert.Contains(t, warnings[0].Summary, "2 unit(s)")

	require.NoError(t, h.runner.Run(jobs.JobLowStockWarnings))
	assert.Len(t, h.activities(t, "Low stock"), 1)

	h.clock = today.AddDate(0, 0, 1)
	require.NoError(t, h.runner.Run(jobs.JobLowStockWarnings))
	assert.Len(t, h.activities(t, "Low stock"), 2)
}

func TestJobRunner_RunAll(t *testing.T) {
	h := newHarness(t, pngRenderer{})
	h.equipment(t, "Monitor", 1)
	assert.NoError(t, h.runner.RunAll())
}

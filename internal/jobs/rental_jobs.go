package jobs

import (
	"context"
	"fmt"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/logger"
	"equiprent-backend/internal/service"
)

const returnReminderSubject = "Return reminder"

// refreshOverdue recomputes days overdue and late fees on every ongoing project.
func (jr *JobRunner) refreshOverdue(ctx context.Context) error {
	changed, err := jr.services.Projects.RefreshOverdue(ctx)
	if err != nil {
		return fmt.Errorf("refresh overdue projects: %w", err)
	}
	logger.Info("Refreshed overdue projects", "changed", changed)
	return nil
}

// sendReturnReminders schedules a follow-up for each ongoing project due back
// within the reminder window. A project gets one reminder per due date.
func (jr *JobRunner) sendReturnReminders(ctx context.Context) error {
	today := domain.DateOnly(jr.now())
	horizon := today.AddDate(0, 0, jr.settings.ReminderDaysBefore)

	projects, err := jr.ongoingProjects(ctx)
	if err != nil {
		return err
	}

	sent := 0
	for _, p := range projects {
		due := domain.DateOnly(p.EndDate)
		if due.Before(today) || due.After(horizon) {
			continue
		}
		summary := fmt.Sprintf("Project %s for %s is due back on %s.", p.Number, p.CustomerName, due.Format("2006-01-02"))
		exists, err := jr.hasActivity(ctx, &p.ID, returnReminderSubject, summary)
		if err != nil {
			logger.Error("Failed to check existing reminders", "projectID", p.ID, "error", err)
			continue
		}
		if exists {
			continue
		}
		jr.services.Activities.ScheduleFollowUp(ctx, service.FollowUp{
			ProjectID: &p.ID,
			Subject:   returnReminderSubject,
			Summary:   summary,
			Assignee:  jr.settings.FollowUpAssignee,
		})
		sent++
	}
	logger.Info("Return reminders scheduled", "count", sent, "candidates", len(projects))
	return nil
}

func (jr *JobRunner) ongoingProjects(ctx context.Context) ([]domain.Project, error) {
	filter := domain.ProjectFilter{States: []domain.ProjectState{domain.ProjectStateOngoing}, PageSize: int32(max(jr.settings.BatchSize, 50))}
	var all []domain.Project
	for page := int32(1); ; page++ {
		filter.Page = page
		projects, total, err := jr.store.Repos().Projects.List(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("list ongoing projects: %w", err)
		}
		all = append(all, projects...)
		if len(projects) == 0 || int32(len(all)) >= total {
			return all, nil
		}
	}
}

// hasActivity reports whether a recent activity already carries this subject and summary.
func (jr *JobRunner) hasActivity(ctx context.Context, projectID *int32, subject, summary string) (bool, error) {
	recent, _, err := jr.store.Repos().Activities.List(ctx, projectID, 200, 0)
	if err != nil {
		return false, err
	}
	for _, a := range recent {
		if a.Subject == subject && a.Summary == summary {
			return true, nil
		}
	}
	return false, nil
}

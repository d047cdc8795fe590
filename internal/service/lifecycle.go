package service

import (
	"context"
	"fmt"
	"time"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/logger"
	"equiprent-backend/internal/repository"
)

// transition describes one unit status change and what to record with it.
type transition struct {
	To                domain.UnitStatus
	ProjectID         *int32
	ActingUser        string
	Notes             string
	PhotoRefs         []string
	DamageDescription string
	Severity          domain.DamageSeverity
	RepairCost        float64
	// Date stamps the pickup (rented) or the return (leaving rented).
	Date time.Time
}

// transitionUnit is the only place a unit's status changes. It validates the move, keeps the
// project link consistent with the status, persists the unit and appends the history entry.
func transitionUnit(ctx context.Context, r repository.Repositories, u *domain.Unit, t transition) error {
	from := u.Status
	if !domain.CanTransition(from, t.To) {
		return domain.NewUserError("INVALID_TRANSITION", domain.ErrInvalidTransition,
			"Serial %s cannot change from %s to %s.", u.SerialNumber, from.Label(), t.To.Label())
	}

	historyProject := u.ProjectID
	switch t.To {
	case domain.UnitStatusReserved:
		if t.ProjectID == nil {
			return domain.NewValidationError("PROJECT_REQUIRED", "Serial %s cannot be reserved without a project.", u.SerialNumber)
		}
		pid := *t.ProjectID
		u.ProjectID = &pid
		historyProject = u.ProjectID
		u.ActualPickupDate, u.ActualReturnDate = nil, nil
	case domain.UnitStatusRented:
		date := t.Date
		u.ActualPickupDate = &date
	default:
		if from == domain.UnitStatusRented {
			date := t.Date
			u.ActualReturnDate = &date
		}
		u.ProjectID = nil
	}
	if historyProject == nil && t.ProjectID != nil {
		historyProject = t.ProjectID
	}
	if t.To == domain.UnitStatusDisposed {
		u.Active = false
	}
	u.Status = t.To

	if err := u.Validate(); err != nil {
		return err
	}
	if err := r.Units.Update(ctx, u); err != nil {
		return fmt.Errorf("failed to update serial %s: %w", u.SerialNumber, err)
	}

	unitID := u.ID
	entry := &domain.StatusHistoryEntry{
		ProjectID:          historyProject,
		EquipmentID:        u.EquipmentID,
		UnitID:             &unitID,
		Quantity:           1,
		Status:             domain.HistoryStatusFor(from, t.To),
		Notes:              t.Notes,
		ActingUser:         t.ActingUser,
		PhotoRefs:          t.PhotoRefs,
		DamageDescription:  t.DamageDescription,
		DamageSeverity:     t.Severity,
		RepairCostEstimate: t.RepairCost,
	}
	if err := r.History.Create(ctx, entry); err != nil {
		return fmt.Errorf("failed to record history for serial %s: %w", u.SerialNumber, err)
	}

	unitTransitions.WithLabelValues(string(from), string(t.To)).Inc()
	logger.Debug("Unit transitioned", "unitID", u.ID, "serial", u.SerialNumber, "from", from, "to", t.To, "projectID", historyProject)
	return nil
}

// renderIdentifier draws the image for a serial. Failures are logged and yield nil so the
// unit is still saved.
func (d Deps) renderIdentifier(serial string) []byte {
	if d.Renderer == nil || serial == "" {
		return nil
	}
	img, err := d.Renderer.Generate(serial, d.Logo, 0)
	if err != nil {
		identifierRenders.WithLabelValues("failed").Inc()
		logger.Warn("Identifier generation failed, saving serial without image", "serial", serial, "error", err)
		return nil
	}
	identifierRenders.WithLabelValues("ok").Inc()
	return img
}

func (d Deps) publish(ctx context.Context, units ...domain.Unit) {
	if d.Publisher == nil {
		return
	}
	for i := range units {
		if !units[i].HasImage() {
			continue
		}
		if err := d.Publisher.Publish(ctx, &units[i]); err != nil {
			logger.Warn("Failed to publish identifier image", "serial", units[i].SerialNumber, "error", err)
		}
	}
}

func (d Deps) invalidate(ctx context.Context, equipmentIDs ...int32) {
	if d.Cache != nil && len(equipmentIDs) > 0 {
		d.Cache.Invalidate(ctx, equipmentIDs...)
	}
}

func (d Deps) followUp(ctx context.Context, f FollowUp) {
	if d.Activities == nil {
		return
	}
	if f.Assignee == "" {
		f.Assignee = d.Settings.FollowUpAssignee
	}
	d.Activities.ScheduleFollowUp(ctx, f)
}

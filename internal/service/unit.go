package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/logger"
	"equiprent-backend/internal/repository"
)

const recentScanLimit = 10

type unitService struct {
	deps Deps
}

func NewUnitService(d Deps) UnitService {
	return &unitService{deps: d}
}

func (d Deps) unitDetail(ctx context.Context, r repository.Repositories, u *domain.Unit) (*UnitDetail, error) {
	eq, err := r.Equipment.GetByID(ctx, u.EquipmentID)
	if err != nil {
		return nil, err
	}
	detail := &UnitDetail{
		Unit:          *u,
		EquipmentName: eq.Name,
		DisplayName:   u.DisplayName(eq.Name),
		StatusLabel:   u.Status.Label(),
		RentalDays:    u.RentalDays(d.today()),
		Filename:      u.IdentifierFilename(),
	}
	detail.RentalCharge = float64(detail.RentalDays) * eq.DailyRate
	if u.ProjectID != nil {
		p, err := r.Projects.GetByID(ctx, *u.ProjectID)
		if err != nil {
			return nil, err
		}
		detail.ProjectNumber = p.Number
	}
	scans, err := r.ScanLogs.ListByUnit(ctx, u.ID, recentScanLimit)
	if err != nil {
		return nil, err
	}
	detail.RecentScans = scans
	return detail, nil
}

func (s *unitService) CreateUnit(ctx context.Context, u *domain.Unit, actingUser string) error {
	logger.EnterMethod("unitService.CreateUnit", "serial", u.SerialNumber, "equipmentID", u.EquipmentID, "actingUser", actingUser)

	u.SerialNumber = strings.TrimSpace(u.SerialNumber)
	if u.Status == "" {
		u.Status = domain.UnitStatusAvailable
	}
	if u.Status != domain.UnitStatusAvailable {
		return domain.NewValidationError("INVALID_STATUS", "New serials must start as %s.", domain.UnitStatusAvailable.Label())
	}
	u.ProjectID = nil
	u.Active = true
	if err := u.Validate(); err != nil {
		logger.ExitMethodWithError("unitService.CreateUnit", err)
		return err
	}

	err := s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		if _, err := r.Equipment.LockByID(ctx, u.EquipmentID); err != nil {
			return err
		}
		if u.Sequence == 0 {
			count, err := r.Units.CountByEquipment(ctx, u.EquipmentID)
			if err != nil {
				return err
			}
			u.Sequence = int32(count + 1)
		}
		u.IdentifierImage = s.deps.renderIdentifier(u.SerialNumber)
		return r.Units.Create(ctx, u)
	})
	if err != nil {
		logger.ExitMethodWithError("unitService.CreateUnit", err)
		return err
	}
	s.deps.publish(ctx, *u)
	s.deps.invalidate(ctx, u.EquipmentID)
	logger.ExitMethod("unitService.CreateUnit", "unitID", u.ID)
	return nil
}

func (s *unitService) GetUnit(ctx context.Context, id int32) (*UnitDetail, error) {
	r := s.deps.Store.Repos()
	u, err := r.Units.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.deps.unitDetail(ctx, r, u)
}

// RenameUnit changes the serial text and redraws its identifier image.
func (s *unitService) RenameUnit(ctx context.Context, id int32, serial string) (*domain.Unit, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return nil, domain.NewValidationError("SERIAL_REQUIRED", "Serial number is required.")
	}
	var out *domain.Unit
	err := s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		units, err := r.Units.LockByIDs(ctx, []int32{id})
		if err != nil {
			return err
		}
		if len(units) == 0 {
			return domain.NewNotFoundError("serial", id)
		}
		u := &units[0]
		if u.SerialNumber == serial {
			out = u
			return nil
		}
		taken, err := r.Units.SerialExists(ctx, serial)
		if err != nil {
			return err
		}
		if taken {
			return domain.NewValidationError("SERIAL_DUPLICATE", "Serial number %s already exists.", serial)
		}
		u.SerialNumber = serial
		u.IdentifierImage = s.deps.renderIdentifier(serial)
		if err := r.Units.Update(ctx, u); err != nil {
			return fmt.Errorf("failed to rename serial: %w", err)
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.deps.publish(ctx, *out)
	return out, nil
}

// ApplyAction runs an administrative status change. Units pulled out of a reservation are
// also dropped from the project's line item.
func (s *unitService) ApplyAction(ctx context.Context, id int32, action domain.UnitAction, actingUser, notes string) (*domain.Unit, error) {
	target, ok := action.Target()
	if !ok {
		return nil, domain.NewValidationError("INVALID_ACTION", "Unknown action %q.", action)
	}

	var out *domain.Unit
	err := s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		units, err := r.Units.LockByIDs(ctx, []int32{id})
		if err != nil {
			return err
		}
		if len(units) == 0 {
			return domain.NewNotFoundError("serial", id)
		}
		u := &units[0]
		if action == domain.UnitActionRelease && u.Status != domain.UnitStatusReturned {
			return domain.NewUserError("NOT_RETURNED", domain.ErrInvalidTransition,
				"Only returned serials can be released. %s is %s.", u.SerialNumber, u.Status.Label())
		}
		previousStatus, previousProject := u.Status, u.ProjectID
		if notes == "" {
			notes = fmt.Sprintf("Set to %s", target.Label())
		}
		if err := transitionUnit(ctx, r, u, transition{To: target, ProjectID: previousProject, ActingUser: actingUser, Notes: notes, Date: s.deps.today()}); err != nil {
			return err
		}
		if previousStatus == domain.UnitStatusReserved && previousProject != nil {
			if err := unlinkFromProject(ctx, r, *previousProject, u.ID); err != nil {
				return err
			}
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.deps.invalidate(ctx, out.EquipmentID)
	return out, nil
}

func unlinkFromProject(ctx context.Context, r repository.Repositories, projectID, unitID int32) error {
	lines, err := r.LineItems.ListByProject(ctx, projectID)
	if err != nil {
		return err
	}
	for _, li := range lines {
		if !li.HasUnit(unitID) {
			continue
		}
		ids := slices.DeleteFunc(slices.Clone(li.UnitIDs), func(id int32) bool { return id == unitID })
		if err := r.LineItems.SetUnits(ctx, li.ID, ids); err != nil {
			return fmt.Errorf("failed to unlink serial: %w", err)
		}
	}
	return nil
}

func (s *unitService) Deactivate(ctx context.Context, id int32) error {
	var equipmentID int32
	err := s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		units, err := r.Units.LockByIDs(ctx, []int32{id})
		if err != nil {
			return err
		}
		if len(units) == 0 {
			return domain.NewNotFoundError("serial", id)
		}
		u := &units[0]
		if u.Status.RequiresProject() {
			return domain.NewUserError("UNIT_IN_USE", domain.ErrUnitInUse,
				"Cannot deactivate serial %s while it is %s.", u.SerialNumber, u.Status.Label())
		}
		equipmentID = u.EquipmentID
		if !u.Active {
			return nil
		}
		u.Active = false
		return r.Units.Update(ctx, u)
	})
	if err == nil {
		s.deps.invalidate(ctx, equipmentID)
	}
	return err
}

// deleteBlocker explains why a unit cannot be hard deleted, or returns nil when it can.
func deleteBlocker(ctx context.Context, r repository.Repositories, u *domain.Unit) (*domain.RentalError, error) {
	count, err := r.History.CountByUnit(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	switch {
	case count > 0:
		return domain.NewUserError("UNIT_HAS_HISTORY", domain.ErrUnitInUse,
			"Cannot delete serial %s because it has status history. Deactivate it instead.", u.SerialNumber), nil
	case u.ProjectID != nil:
		return domain.NewUserError("UNIT_ASSIGNED", domain.ErrUnitInUse,
			"Cannot delete serial %s because it is assigned to a project.", u.SerialNumber), nil
	case u.Status != domain.UnitStatusAvailable:
		return domain.NewUserError("UNIT_NOT_AVAILABLE", domain.ErrUnitInUse,
			"Cannot delete serial %s with status %s.", u.SerialNumber, u.Status.Label()), nil
	}
	return nil, nil
}

func (s *unitService) DeleteUnit(ctx context.Context, id int32) error {
	var equipmentID int32
	err := s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		u, err := r.Units.GetByID(ctx, id)
		if err != nil {
			return err
		}
		blocker, err := deleteBlocker(ctx, r, u)
		if err != nil {
			return err
		}
		if blocker != nil {
			return blocker
		}
		equipmentID = u.EquipmentID
		return r.Units.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.deps.invalidate(ctx, equipmentID)
	logger.Info("Serial deleted", "unitID", id)
	return nil
}

// SmartDelete deactivates units that must be kept and deletes the rest once confirmed.
func (s *unitService) SmartDelete(ctx context.Context, id int32, confirmed bool) (*DeleteOutcome, error) {
	r := s.deps.Store.Repos()
	u, err := r.Units.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	blocker, err := deleteBlocker(ctx, r, u)
	if err != nil {
		return nil, err
	}

	if blocker != nil {
		if u.Status.RequiresProject() {
			return nil, blocker
		}
		if err := s.Deactivate(ctx, id); err != nil {
			return nil, err
		}
		return &DeleteOutcome{
			Deactivated: true,
			Message:     fmt.Sprintf("Serial %s was deactivated because it has rental history.", u.SerialNumber),
		}, nil
	}
	if !confirmed {
		return &DeleteOutcome{
			ConfirmationRequired: true,
			Message:              fmt.Sprintf("Serial %s has no history. Confirm to delete it permanently.", u.SerialNumber),
		}, nil
	}
	if err := s.DeleteUnit(ctx, id); err != nil {
		return nil, err
	}
	return &DeleteOutcome{Deleted: true, Message: fmt.Sprintf("Serial %s was deleted.", u.SerialNumber)}, nil
}

func (s *unitService) History(ctx context.Context, id int32) ([]domain.StatusHistoryEntry, error) {
	r := s.deps.Store.Repos()
	if _, err := r.Units.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return r.History.ListByUnit(ctx, id)
}

// RegenerateIdentifiers redraws identifier images in batches. Each batch commits on its own.
func (s *unitService) RegenerateIdentifiers(ctx context.Context, filter domain.UnitFilter) (*BatchResult, error) {
	logger.EnterMethod("unitService.RegenerateIdentifiers", "equipmentID", filter.EquipmentID, "missingOnly", filter.MissingImage)

	units, err := s.deps.Store.Repos().Units.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	result := &BatchResult{}
	for batch := range slices.Chunk(units, max(s.deps.Settings.BatchSize, 1)) {
		ids := make([]int32, len(batch))
		for i, u := range batch {
			ids[i] = u.ID
		}
		var done []domain.Unit
		var failed []ItemFailure
		var skipped []string
		err := s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
			done, failed, skipped = nil, nil, nil
			// Rows are re-read under lock so a rental committed since the listing is kept.
			current, err := r.Units.LockByIDs(ctx, ids)
			if err != nil {
				return err
			}
			for _, u := range batch {
				if !slices.ContainsFunc(current, func(c domain.Unit) bool { return c.ID == u.ID }) {
					skipped = append(skipped, u.SerialNumber)
				}
			}
			for _, u := range current {
				img := s.deps.renderIdentifier(u.SerialNumber)
				if img == nil {
					failed = append(failed, ItemFailure{Item: u.SerialNumber, Error: "identifier generation failed"})
					continue
				}
				if err := r.Units.UpdateIdentifierImage(ctx, u.ID, img); err != nil {
					return fmt.Errorf("failed to store identifier for %s: %w", u.SerialNumber, err)
				}
				u.IdentifierImage = img
				done = append(done, u)
			}
			return nil
		})
		if err != nil {
			logger.Error("Identifier batch failed", "size", len(batch), "error", err)
			for _, u := range batch {
				result.Failed = append(result.Failed, ItemFailure{Item: u.SerialNumber, Error: err.Error()})
			}
			continue
		}
		result.Failed = append(result.Failed, failed...)
		result.Skipped = append(result.Skipped, skipped...)
		for _, u := range done {
			result.Succeeded = append(result.Succeeded, u.SerialNumber)
		}
		s.deps.publish(ctx, done...)
	}
	logger.ExitMethod("unitService.RegenerateIdentifiers", "succeeded", len(result.Succeeded), "failed", len(result.Failed))
	return result, nil
}

// AuditConsistency reports units whose status and project link disagree, and units listed on a
// reserved project's line items without being linked to it. Ongoing projects are left out since
// returned units leave the project but stay on the line.
func (s *unitService) AuditConsistency(ctx context.Context) ([]ConsistencyIssue, error) {
	r := s.deps.Store.Repos()
	units, err := r.Units.List(ctx, domain.UnitFilter{})
	if err != nil {
		return nil, err
	}
	byID := make(map[int32]domain.Unit, len(units))
	var issues []ConsistencyIssue
	for _, u := range units {
		byID[u.ID] = u
		if err := u.Validate(); err != nil {
			issues = append(issues, ConsistencyIssue{UnitID: u.ID, SerialNumber: u.SerialNumber, Message: err.Error()})
		}
	}

	filter := domain.ProjectFilter{
		States:   []domain.ProjectState{domain.ProjectStateReserved},
		PageSize: int32(max(s.deps.Settings.BatchSize, 50)),
	}
	var seen int32
	for page := int32(1); ; page++ {
		filter.Page = page
		projects, total, err := r.Projects.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, p := range projects {
			lines, err := r.LineItems.ListByProject(ctx, p.ID)
			if err != nil {
				return nil, err
			}
			for _, li := range lines {
				for _, id := range li.UnitIDs {
					u, ok := byID[id]
					if ok && u.ProjectID != nil && *u.ProjectID == p.ID {
						continue
					}
					issues = append(issues, ConsistencyIssue{
						UnitID:       id,
						SerialNumber: u.SerialNumber,
						Message:      fmt.Sprintf("Serial %s is listed on project %s but not linked to it.", u.SerialNumber, p.Number),
					})
				}
			}
		}
		seen += int32(len(projects))
		if len(projects) == 0 || seen >= total {
			break
		}
	}
	if len(issues) > 0 {
		logger.Warn("Serial consistency issues found", "count", len(issues))
	}
	return issues, nil
}

package service

import (
	"context"
	"fmt"
	"strings"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/logger"
	"equiprent-backend/internal/repository"
)

type scanService struct {
	deps     Deps
	projects ProjectService
}

func NewScanService(d Deps, projects ProjectService) ScanService {
	return &scanService{deps: d, projects: projects}
}

func lockBySerial(ctx context.Context, r repository.Repositories, serial string) (*domain.Unit, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return nil, domain.NewValidationError("SERIAL_REQUIRED", "Serial number is required.")
	}
	found, err := r.Units.GetBySerial(ctx, serial)
	if err != nil {
		return nil, err
	}
	units, err := r.Units.LockByIDs(ctx, []int32{found.ID})
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, domain.NewNotFoundError("serial", serial)
	}
	return &units[0], nil
}

func recordScan(ctx context.Context, r repository.Repositories, u *domain.Unit, scanType domain.ScanType, previous domain.UnitStatus,
	projectID *int32, actingUser, location, notes string) error {
	entry := &domain.ScanLog{
		UnitID:         u.ID,
		ScanType:       scanType,
		ActingUser:     actingUser,
		ProjectID:      projectID,
		Location:       location,
		Notes:          notes,
		PreviousStatus: previous,
		NewStatus:      u.Status,
	}
	if err := r.ScanLogs.Create(ctx, entry); err != nil {
		return fmt.Errorf("failed to record scan: %w", err)
	}
	return nil
}

func (s *scanService) LookupSerial(ctx context.Context, serial string) (*UnitDetail, error) {
	r := s.deps.Store.Repos()
	u, err := r.Units.GetBySerial(ctx, strings.TrimSpace(serial))
	if err != nil {
		return nil, err
	}
	return s.deps.unitDetail(ctx, r, u)
}

// QuickRent hands a scanned unit over to a reserved or ongoing project. An available unit is
// first reserved onto the project's line for its equipment, if that line still has room.
func (s *scanService) QuickRent(ctx context.Context, req QuickRentRequest) (*UnitDetail, error) {
	logger.EnterMethod("scanService.QuickRent", "serial", req.Serial, "projectID", req.ProjectID)

	var unit *domain.Unit
	err := s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		u, err := lockBySerial(ctx, r, req.Serial)
		if err != nil {
			return err
		}
		p, err := loadProject(ctx, r, req.ProjectID, true)
		if err != nil {
			return err
		}
		if err := requireState(p, "hand over equipment for", domain.ProjectStateReserved, domain.ProjectStateOngoing); err != nil {
			return err
		}
		// The first line with room takes the serial. When every matching line is full the
		// first one reports it.
		var line *domain.LineItem
		for i := range p.LineItems {
			li := &p.LineItems[i]
			if li.EquipmentID != u.EquipmentID {
				continue
			}
			if line == nil || (len(line.UnitIDs) >= line.Quantity && len(li.UnitIDs) < li.Quantity) {
				line = li
			}
		}
		if line == nil {
			return domain.NewValidationError("EQUIPMENT_NOT_ON_PROJECT", "Serial %s is not part of any line of project %s.", u.SerialNumber, p.Number)
		}

		previous := u.Status
		pid := p.ID
		switch {
		case u.Status == domain.UnitStatusAvailable:
			if !u.Active {
				return domain.NewUserError("UNIT_INACTIVE", domain.ErrUnitInUse, "Serial %s is deactivated.", u.SerialNumber)
			}
			if len(line.UnitIDs) >= line.Quantity {
				return domain.NewUserError("LINE_FULL", domain.ErrUnitInUse,
					"All %d serials for %s are already assigned on project %s.", line.Quantity, line.EquipmentName, p.Number)
			}
			if err := transitionUnit(ctx, r, u, transition{
				To:         domain.UnitStatusReserved,
				ProjectID:  &pid,
				ActingUser: req.ActingUser,
				Notes:      fmt.Sprintf("Scanned onto %s", p.Number),
			}); err != nil {
				return err
			}
			if err := r.LineItems.SetUnits(ctx, line.ID, append(line.UnitIDs, u.ID)); err != nil {
				return fmt.Errorf("failed to assign serial: %w", err)
			}
		case u.Status == domain.UnitStatusReserved && u.ProjectID != nil && *u.ProjectID == p.ID:
		default:
			return domain.NewUserError("UNIT_UNAVAILABLE", domain.ErrUnitInUse,
				"Serial %s is %s and cannot be rented.", u.SerialNumber, u.Status.Label())
		}

		if err := transitionUnit(ctx, r, u, transition{
			To:         domain.UnitStatusRented,
			ActingUser: req.ActingUser,
			Notes:      fmt.Sprintf("Handed over for %s", p.Number),
			Date:       s.deps.today(),
		}); err != nil {
			return err
		}
		if p.State == domain.ProjectStateReserved {
			logger.Info("Project state changed", "projectID", p.ID, "number", p.Number, "from", p.State, "to", domain.ProjectStateOngoing)
			p.State = domain.ProjectStateOngoing
			projectTransitions.WithLabelValues(string(p.State)).Inc()
			applyDerived(p, s.deps.today(), s.deps.Settings.Pricing)
			if err := r.Projects.Update(ctx, p); err != nil {
				return fmt.Errorf("failed to update project: %w", err)
			}
		}
		if err := recordScan(ctx, r, u, domain.ScanHandover, previous, &pid, req.ActingUser, req.Location, ""); err != nil {
			return err
		}
		unit = u
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("scanService.QuickRent", err, "serial", req.Serial)
		return nil, err
	}
	s.deps.invalidate(ctx, unit.EquipmentID)
	logger.ExitMethod("scanService.QuickRent", "serial", unit.SerialNumber)
	return s.deps.unitDetail(ctx, s.deps.Store.Repos(), unit)
}

// QuickReturn books a single scanned unit back in. The return date is always today, so the
// end date check of partial returns does not apply.
func (s *scanService) QuickReturn(ctx context.Context, req QuickReturnRequest) (*UnitDetail, error) {
	logger.EnterMethod("scanService.QuickReturn", "serial", req.Serial, "condition", req.Condition)

	condition := req.Condition
	if condition == "" {
		condition = domain.ConditionGood
	}

	var (
		unit *domain.Unit
		out  *returnOutcome
	)
	err := s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		u, err := lockBySerial(ctx, r, req.Serial)
		if err != nil {
			return err
		}
		if u.Status != domain.UnitStatusRented || u.ProjectID == nil {
			return domain.NewUserError("NOT_RENTED", domain.ErrInvalidTransition,
				"Serial %s is %s and cannot be returned.", u.SerialNumber, u.Status.Label())
		}
		pid := *u.ProjectID
		p, err := loadProject(ctx, r, pid, true)
		if err != nil {
			return err
		}
		line := ReturnLine{
			UnitID:      u.ID,
			Condition:   condition,
			DamageFee:   req.DamageFee,
			DamageNotes: req.DamageNotes,
		}
		out, err = s.deps.applyReturn(ctx, r, p, []ReturnLine{line}, s.deps.today(), req.ActingUser, false)
		if err != nil {
			return err
		}

		returned, err := r.Units.GetByID(ctx, u.ID)
		if err != nil {
			return err
		}
		scanType := domain.ScanReturn
		if condition.IsDamage() {
			scanType = domain.ScanDamaged
		}
		if err := recordScan(ctx, r, returned, scanType, domain.UnitStatusRented, &pid, req.ActingUser, req.Location, req.Notes); err != nil {
			return err
		}
		unit = returned
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("scanService.QuickReturn", err, "serial", req.Serial)
		return nil, err
	}
	s.deps.afterReturn(ctx, out, s.projects)
	logger.ExitMethod("scanService.QuickReturn", "serial", unit.SerialNumber, "status", unit.Status)
	return s.deps.unitDetail(ctx, s.deps.Store.Repos(), unit)
}

// RecordScan logs a scan that does not change the unit, such as a verification at the gate.
func (s *scanService) RecordScan(ctx context.Context, serial string, scanType domain.ScanType, actingUser, location, notes string) error {
	if scanType == "" {
		scanType = domain.ScanVerify
	}
	return s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		u, err := r.Units.GetBySerial(ctx, strings.TrimSpace(serial))
		if err != nil {
			return err
		}
		return recordScan(ctx, r, u, scanType, u.Status, u.ProjectID, actingUser, location, notes)
	})
}

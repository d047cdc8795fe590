package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/logger"
	"equiprent-backend/internal/pricing"
	"equiprent-backend/internal/repository"
)

type returnService struct {
	deps     Deps
	projects ProjectService
}

func NewReturnService(d Deps, projects ProjectService) ReturnService {
	return &returnService{deps: d, projects: projects}
}

// returnOutcome is what a committed return hands to the post-commit steps.
type returnOutcome struct {
	project  *domain.Project
	damaged  []ReturnLine
	finished bool
}

// applyReturn moves each returned unit out of rented according to its condition and folds the
// fees into the project. The project is marked returned once nothing is reserved or rented for
// it any more. With releaseReserved set, reserved units that were never picked up are released.
func (d Deps) applyReturn(ctx context.Context, r repository.Repositories, p *domain.Project, lines []ReturnLine,
	returnDate time.Time, actingUser string, releaseReserved bool) (*returnOutcome, error) {

	if p.State != domain.ProjectStateOngoing {
		return nil, domain.NewUserError("INVALID_PROJECT_STATE", domain.ErrInvalidTransition,
			"Cannot return equipment for project %s while it is %s.", p.Number, p.State.Label())
	}
	ids := make([]int32, 0, len(lines))
	for _, l := range lines {
		if !l.Condition.Valid() {
			return nil, domain.NewValidationError("INVALID_CONDITION", "Unknown return condition %q.", l.Condition)
		}
		if slices.Contains(ids, l.UnitID) {
			return nil, domain.NewValidationError("DUPLICATE_LINE", "Serial %d appears more than once in the return.", l.UnitID)
		}
		ids = append(ids, l.UnitID)
	}

	units, err := r.Units.LockByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int32]*domain.Unit, len(units))
	for i := range units {
		byID[units[i].ID] = &units[i]
	}

	out := &returnOutcome{project: p}
	equipment := map[int32]*domain.Equipment{}
	for _, l := range lines {
		u, ok := byID[l.UnitID]
		if !ok {
			return nil, domain.NewNotFoundError("serial", l.UnitID)
		}
		if u.Status != domain.UnitStatusRented || u.ProjectID == nil || *u.ProjectID != p.ID {
			return nil, domain.NewValidationError("NOT_RENTED_HERE", "Serial %s is not rented on project %s.", u.SerialNumber, p.Number)
		}
		eq, ok := equipment[u.EquipmentID]
		if !ok {
			if eq, err = r.Equipment.GetByID(ctx, u.EquipmentID); err != nil {
				return nil, err
			}
			equipment[u.EquipmentID] = eq
		}

		fee := pricing.DamageFeeSuggestion(l.Condition, d.Settings.Pricing, eq.ItemValue)
		if l.DamageFee != nil {
			fee = *l.DamageFee
		}
		if fee < 0 {
			return nil, domain.NewValidationError("NEGATIVE_FEE", "Damage fee for %s cannot be negative.", u.SerialNumber)
		}
		if err := transitionUnit(ctx, r, u, transition{
			To:                l.Condition.ResultingStatus(),
			ActingUser:        actingUser,
			Notes:             fmt.Sprintf("Returned in %s condition", strings.ToLower(l.Condition.Label())),
			PhotoRefs:         l.PhotoRefs,
			DamageDescription: l.DamageNotes,
			Severity:          l.Condition.Severity(),
			RepairCost:        fee,
			Date:              returnDate,
		}); err != nil {
			return nil, err
		}

		p.DamageFee += fee
		if l.Condition.IsDamage() {
			p.HasDamage = true
			l.SerialNumber, l.EquipmentName = u.SerialNumber, eq.Name
			out.damaged = append(out.damaged, l)
		}
	}

	pid := p.ID
	remaining, err := r.Units.List(ctx, domain.UnitFilter{ProjectID: &pid})
	if err != nil {
		return nil, err
	}
	stillOut := 0
	for i := range remaining {
		u := &remaining[i]
		switch u.Status {
		case domain.UnitStatusRented:
			stillOut++
		case domain.UnitStatusReserved:
			if !releaseReserved {
				stillOut++
				continue
			}
			if err := transitionUnit(ctx, r, u, transition{
				To:         domain.UnitStatusAvailable,
				ActingUser: actingUser,
				Notes:      fmt.Sprintf("Released: never picked up for %s", p.Number),
			}); err != nil {
				return nil, err
			}
		}
	}

	if stillOut == 0 {
		p.ActualReturnDate = &returnDate
		applyDerived(p, returnDate, d.Settings.Pricing)
		p.State = domain.ProjectStateReturned
		projectTransitions.WithLabelValues(string(domain.ProjectStateReturned)).Inc()
		out.finished = true
	}
	applyDerived(p, d.today(), d.Settings.Pricing)
	if err := r.Projects.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to update project: %w", err)
	}
	return out, nil
}

// afterReturn runs once the return is committed. Failures here never undo the return.
func (d Deps) afterReturn(ctx context.Context, out *returnOutcome, projects ProjectService) *domain.Project {
	p := out.project
	for _, l := range out.damaged {
		pid := p.ID
		d.followUp(ctx, FollowUp{
			ProjectID: &pid,
			Subject:   "Follow up on damaged equipment",
			Summary:   fmt.Sprintf("%s %s returned %s", l.EquipmentName, l.SerialNumber, strings.ToLower(l.Condition.Label())),
			Note:      strings.TrimSpace(fmt.Sprintf("Project %s (%s). %s", p.Number, p.CustomerName, l.DamageNotes)),
		})
	}
	d.invalidate(ctx, lineEquipmentIDs(p)...)

	if !out.finished {
		return p
	}
	logger.Info("Project returned", "projectID", p.ID, "number", p.Number, "damageFee", p.DamageFee, "lateFee", p.LateFee)
	if d.Settings.AutoCreateInvoice && d.Invoicing != nil && projects != nil {
		invoiced, err := projects.CreateInvoice(ctx, p.ID)
		if err != nil {
			logger.Warn("Automatic invoice creation failed", "projectID", p.ID, "error", err)
			return p
		}
		return invoiced
	}
	return p
}

func (s *returnService) Begin(ctx context.Context, projectID int32) (*ReturnSession, error) {
	r := s.deps.Store.Repos()
	p, err := r.Projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p.State != domain.ProjectStateOngoing {
		return nil, domain.NewUserError("INVALID_PROJECT_STATE", domain.ErrInvalidTransition,
			"Cannot return equipment for project %s while it is %s.", p.Number, p.State.Label())
	}
	units, err := r.Units.List(ctx, domain.UnitFilter{ProjectID: &projectID, Statuses: []domain.UnitStatus{domain.UnitStatusRented}})
	if err != nil {
		return nil, err
	}

	session := &ReturnSession{ProjectID: p.ID, ProjectNumber: p.Number, ReturnDate: s.deps.today()}
	names := map[int32]string{}
	for _, u := range units {
		name, ok := names[u.EquipmentID]
		if !ok {
			eq, err := r.Equipment.GetByID(ctx, u.EquipmentID)
			if err != nil {
				return nil, err
			}
			name = eq.Name
			names[u.EquipmentID] = name
		}
		session.Lines = append(session.Lines, ReturnLine{
			UnitID:        u.ID,
			SerialNumber:  u.SerialNumber,
			EquipmentName: name,
			Condition:     domain.ConditionGood,
		})
	}
	return session, nil
}

// suggest fills SuggestedFee on every line from its condition.
func (s *returnService) suggest(ctx context.Context, r repository.Repositories, lines []ReturnLine) error {
	for i := range lines {
		u, err := r.Units.GetByID(ctx, lines[i].UnitID)
		if err != nil {
			return err
		}
		eq, err := r.Equipment.GetByID(ctx, u.EquipmentID)
		if err != nil {
			return err
		}
		lines[i].SuggestedFee = pricing.DamageFeeSuggestion(lines[i].Condition, s.deps.Settings.Pricing, eq.ItemValue)
	}
	return nil
}

func (s *returnService) Commit(ctx context.Context, session *ReturnSession, actingUser string) (*domain.Project, error) {
	logger.EnterMethod("returnService.Commit", "projectID", session.ProjectID, "lines", len(session.Lines))

	returnDate := domain.DateOnly(session.ReturnDate)
	if session.ReturnDate.IsZero() {
		returnDate = s.deps.today()
	}

	var out *returnOutcome
	err := s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		p, err := loadProject(ctx, r, session.ProjectID, true)
		if err != nil {
			return err
		}
		pid := p.ID
		rented, err := r.Units.List(ctx, domain.UnitFilter{ProjectID: &pid, Statuses: []domain.UnitStatus{domain.UnitStatusRented}})
		if err != nil {
			return err
		}
		for _, u := range rented {
			if !slices.ContainsFunc(session.Lines, func(l ReturnLine) bool { return l.UnitID == u.ID }) {
				return domain.NewValidationError("INCOMPLETE_RETURN", "Serial %s has no return condition.", u.SerialNumber)
			}
		}
		if err := s.suggest(ctx, r, session.Lines); err != nil {
			return err
		}
		if session.Signature != "" {
			now := time.Now()
			p.ReturnSignature = session.Signature
			p.ReturnSignedAt = &now
		}
		out, err = s.deps.applyReturn(ctx, r, p, session.Lines, returnDate, actingUser, true)
		return err
	})
	if err != nil {
		logger.ExitMethodWithError("returnService.Commit", err, "projectID", session.ProjectID)
		return nil, err
	}
	logger.ExitMethod("returnService.Commit", "projectID", session.ProjectID)
	return s.deps.afterReturn(ctx, out, s.projects), nil
}

func (s *returnService) PartialReturn(ctx context.Context, projectID int32, lines []ReturnLine, returnDate time.Time, actingUser string) (*domain.Project, error) {
	if len(lines) == 0 {
		return nil, domain.NewValidationError("NO_SELECTION", "Please select at least one serial to return.")
	}
	if returnDate.IsZero() {
		returnDate = s.deps.today()
	}
	returnDate = domain.DateOnly(returnDate)

	var out *returnOutcome
	err := s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		p, err := loadProject(ctx, r, projectID, true)
		if err != nil {
			return err
		}
		if returnDate.After(domain.DateOnly(p.EndDate)) {
			return domain.NewValidationError("RETURN_AFTER_END", "Return date cannot be after the rental end date.")
		}
		if err := s.suggest(ctx, r, lines); err != nil {
			return err
		}
		out, err = s.deps.applyReturn(ctx, r, p, lines, returnDate, actingUser, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.deps.afterReturn(ctx, out, s.projects), nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/logger"
	"equiprent-backend/internal/pricing"
	"equiprent-backend/internal/repository"

	"github.com/shopspring/decimal"
)

type projectService struct {
	deps  Deps
	alloc *Allocator
}

func NewProjectService(d Deps, alloc *Allocator) ProjectService {
	return &projectService{deps: d, alloc: alloc}
}

// applyDerived refreshes the computed money and overdue fields. Overdue is only tracked while
// the rental is ongoing. Once returned the values recorded at return time stay frozen.
func applyDerived(p *domain.Project, today time.Time, cfg pricing.Config) {
	p.DurationDays = pricing.DurationDays(p.StartDate, p.EndDate)

	total := 0.0
	for _, li := range p.LineItems {
		total += li.Subtotal
	}
	p.TotalAmount = total

	switch p.State {
	case domain.ProjectStateOngoing:
		ref := today
		if p.ActualReturnDate != nil {
			ref = *p.ActualReturnDate
		}
		p.DaysOverdue = pricing.Overdue(p.EndDate, ref)
		p.IsOverdue = p.DaysOverdue > 0
		p.LateFee = pricing.LateFee(p.DaysOverdue, p.TotalAmount, cfg, p.LateFeeEnabled)
	case domain.ProjectStateDraft, domain.ProjectStateReserved, domain.ProjectStateCancelled:
		p.DaysOverdue, p.IsOverdue, p.LateFee = 0, false, 0
	}
	p.GrandTotal = p.TotalAmount + p.LateFee + p.DamageFee - p.Discount
}

func loadProject(ctx context.Context, r repository.Repositories, id int32, lock bool) (*domain.Project, error) {
	var (
		p   *domain.Project
		err error
	)
	if lock {
		p, err = r.Projects.LockByID(ctx, id)
	} else {
		p, err = r.Projects.GetByID(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	lines, err := r.LineItems.ListByProject(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load line items: %w", err)
	}
	p.LineItems = lines
	return p, nil
}

// reprice recomputes unit price and subtotal of every line from the current duration.
func reprice(ctx context.Context, r repository.Repositories, p *domain.Project) error {
	duration := pricing.DurationDays(p.StartDate, p.EndDate)
	for i := range p.LineItems {
		li := &p.LineItems[i]
		eq, err := r.Equipment.GetByID(ctx, li.EquipmentID)
		if err != nil {
			return err
		}
		li.UnitPrice = pricing.UnitPrice(pricing.RatesOf(eq), duration)
		li.Subtotal = li.UnitPrice * float64(li.Quantity)
		if err := r.LineItems.Update(ctx, li); err != nil {
			return fmt.Errorf("failed to update line item: %w", err)
		}
	}
	return nil
}

func (s *projectService) save(ctx context.Context, r repository.Repositories, p *domain.Project) error {
	applyDerived(p, s.deps.today(), s.deps.Settings.Pricing)
	if err := r.Projects.Update(ctx, p); err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	return nil
}

func (s *projectService) setState(p *domain.Project, to domain.ProjectState) {
	logger.Info("Project state changed", "projectID", p.ID, "number", p.Number, "from", p.State, "to", to)
	p.State = to
	projectTransitions.WithLabelValues(string(to)).Inc()
}

// validateAssignments checks every serialized line holds exactly its quantity of units.
func validateAssignments(ctx context.Context, r repository.Repositories, p *domain.Project) error {
	for _, li := range p.LineItems {
		eq, err := r.Equipment.GetByID(ctx, li.EquipmentID)
		if err != nil {
			return err
		}
		if !eq.HasSerials {
			continue
		}
		if err := li.ValidateAssignment(p.State); err != nil {
			return err
		}
	}
	return nil
}

func lineEquipmentIDs(p *domain.Project) []int32 {
	var ids []int32
	for _, li := range p.LineItems {
		if !slices.Contains(ids, li.EquipmentID) {
			ids = append(ids, li.EquipmentID)
		}
	}
	return ids
}

func requireState(p *domain.Project, action string, allowed ...domain.ProjectState) error {
	if slices.Contains(allowed, p.State) {
		return nil
	}
	return domain.NewUserError("INVALID_PROJECT_STATE", domain.ErrInvalidTransition,
		"Cannot %s project %s while it is %s.", action, p.Number, p.State.Label())
}

func (s *projectService) CreateProject(ctx context.Context, p *domain.Project) error {
	logger.EnterMethod("projectService.CreateProject", "customer", p.CustomerName)

	if p.StartDate.IsZero() {
		p.StartDate = s.deps.today()
	}
	if p.EndDate.IsZero() {
		days := max(s.deps.Settings.DefaultRentalDays, 1)
		p.EndDate = p.StartDate.AddDate(0, 0, days-1)
	}
	p.StartDate, p.EndDate = domain.DateOnly(p.StartDate), domain.DateOnly(p.EndDate)
	p.State = domain.ProjectStateDraft
	if p.PaymentStatus == "" {
		p.PaymentStatus = domain.PaymentUnpaid
	}
	p.LateFeeEnabled = p.LateFeeEnabled || s.deps.Settings.LateFeeEnabledDefault
	if err := p.Validate(); err != nil {
		logger.ExitMethodWithError("projectService.CreateProject", err)
		return err
	}
	requested := p.LineItems
	for i := range requested {
		if err := requested[i].Validate(); err != nil {
			return err
		}
	}

	err := s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		seq, err := r.Sequences.Next(ctx, "project")
		if err != nil {
			return fmt.Errorf("failed to number project: %w", err)
		}
		p.Number = fmt.Sprintf("RNT/%05d", seq)
		p.LineItems = nil
		applyDerived(p, s.deps.today(), s.deps.Settings.Pricing)
		if err := r.Projects.Create(ctx, p); err != nil {
			return fmt.Errorf("failed to create project: %w", err)
		}

		for _, req := range requested {
			li := &domain.LineItem{ProjectID: p.ID, EquipmentID: req.EquipmentID, Quantity: req.Quantity, UnitIDs: req.UnitIDs}
			if err := r.LineItems.Create(ctx, li); err != nil {
				return fmt.Errorf("failed to create line item: %w", err)
			}
			if err := s.alloc.AutoAssign(ctx, r, li); err != nil {
				return err
			}
		}
		lines, err := r.LineItems.ListByProject(ctx, p.ID)
		if err != nil {
			return err
		}
		p.LineItems = lines
		if err := reprice(ctx, r, p); err != nil {
			return err
		}
		return s.save(ctx, r, p)
	})
	if err != nil {
		logger.ExitMethodWithError("projectService.CreateProject", err)
		return err
	}
	logger.ExitMethod("projectService.CreateProject", "projectID", p.ID, "number", p.Number)
	return nil
}

func (s *projectService) UpdateProject(ctx context.Context, in *domain.Project) (*domain.Project, error) {
	var out *domain.Project
	err := s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		p, err := loadProject(ctx, r, in.ID, true)
		if err != nil {
			return err
		}
		if err := requireState(p, "edit", domain.ProjectStateDraft, domain.ProjectStateReserved,
			domain.ProjectStateOngoing, domain.ProjectStateReturned); err != nil {
			return err
		}

		start, end := domain.DateOnly(in.StartDate), domain.DateOnly(in.EndDate)
		datesChanged := !start.Equal(domain.DateOnly(p.StartDate)) || !end.Equal(domain.DateOnly(p.EndDate))
		if datesChanged && p.State != domain.ProjectStateDraft {
			return domain.NewValidationError("DATES_LOCKED", "Rental dates can only be changed while the project is in draft.")
		}
		if p.State == domain.ProjectStateDraft {
			p.CustomerName = in.CustomerName
			p.StartDate, p.EndDate = start, end
		}
		p.Reference = in.Reference
		p.Discount = in.Discount
		p.LateFeeEnabled = in.LateFeeEnabled
		p.InternalNotes = in.InternalNotes
		p.PhotoRefs = in.PhotoRefs
		if in.PaymentStatus != "" {
			p.PaymentStatus = in.PaymentStatus
		}
		if err := p.Validate(); err != nil {
			return err
		}
		if datesChanged {
			if err := reprice(ctx, r, p); err != nil {
				return err
			}
		}
		if err := s.save(ctx, r, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

func (s *projectService) GetProject(ctx context.Context, id int32) (*domain.Project, error) {
	p, err := loadProject(ctx, s.deps.Store.Repos(), id, false)
	if err != nil {
		return nil, err
	}
	applyDerived(p, s.deps.today(), s.deps.Settings.Pricing)
	return p, nil
}

func (s *projectService) ListProjects(ctx context.Context, filter domain.ProjectFilter) ([]domain.Project, int32, error) {
	projects, count, err := s.deps.Store.Repos().Projects.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return projects, count, nil
}

func (s *projectService) AddLineItem(ctx context.Context, projectID, equipmentID int32, quantity int) (*domain.LineItem, error) {
	li := &domain.LineItem{ProjectID: projectID, EquipmentID: equipmentID, Quantity: quantity}
	if err := li.Validate(); err != nil {
		return nil, err
	}
	err := s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		p, err := loadProject(ctx, r, projectID, true)
		if err != nil {
			return err
		}
		if err := requireState(p, "add equipment to", domain.ProjectStateDraft); err != nil {
			return err
		}
		eq, err := r.Equipment.GetByID(ctx, equipmentID)
		if err != nil {
			return err
		}
		if !eq.Active {
			return domain.NewValidationError("EQUIPMENT_INACTIVE", "Equipment %s is archived.", eq.Name)
		}
		li.UnitPrice = pricing.UnitPrice(pricing.RatesOf(eq), pricing.DurationDays(p.StartDate, p.EndDate))
		li.Subtotal = li.UnitPrice * float64(li.Quantity)
		if err := r.LineItems.Create(ctx, li); err != nil {
			return fmt.Errorf("failed to create line item: %w", err)
		}
		if err := s.alloc.AutoAssign(ctx, r, li); err != nil {
			return err
		}
		li.EquipmentName = eq.Name
		p.LineItems = append(p.LineItems, *li)
		return s.save(ctx, r, p)
	})
	if err != nil {
		return nil, err
	}
	return li, nil
}

func findLine(p *domain.Project, lineID int32) (*domain.LineItem, error) {
	for i := range p.LineItems {
		if p.LineItems[i].ID == lineID {
			return &p.LineItems[i], nil
		}
	}
	return nil, domain.NewNotFoundError("line item", lineID)
}

func (s *projectService) UpdateLineQuantity(ctx context.Context, projectID, lineID int32, quantity int) (*domain.LineItem, error) {
	var out *domain.LineItem
	err := s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		p, err := loadProject(ctx, r, projectID, true)
		if err != nil {
			return err
		}
		if err := requireState(p, "change quantities of", domain.ProjectStateDraft); err != nil {
			return err
		}
		li, err := findLine(p, lineID)
		if err != nil {
			return err
		}
		li.Quantity = quantity
		if err := li.Validate(); err != nil {
			return err
		}
		li.Subtotal = li.UnitPrice * float64(li.Quantity)
		if err := r.LineItems.Update(ctx, li); err != nil {
			return fmt.Errorf("failed to update line item: %w", err)
		}
		if err := s.alloc.AutoAssign(ctx, r, li); err != nil {
			return err
		}
		out = li
		return s.save(ctx, r, p)
	})
	return out, err
}

func (s *projectService) RemoveLineItem(ctx context.Context, projectID, lineID int32) error {
	return s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		p, err := loadProject(ctx, r, projectID, true)
		if err != nil {
			return err
		}
		if err := requireState(p, "remove equipment from", domain.ProjectStateDraft); err != nil {
			return err
		}
		if _, err := findLine(p, lineID); err != nil {
			return err
		}
		if err := r.LineItems.Delete(ctx, lineID); err != nil {
			return fmt.Errorf("failed to delete line item: %w", err)
		}
		p.LineItems = slices.DeleteFunc(p.LineItems, func(li domain.LineItem) bool { return li.ID == lineID })
		return s.save(ctx, r, p)
	})
}

// SelectUnits replaces the automatic choice with an explicit one of exactly Quantity units.
func (s *projectService) SelectUnits(ctx context.Context, projectID, lineID int32, unitIDs []int32) (*domain.LineItem, error) {
	var out *domain.LineItem
	var equipmentID int32
	err := s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		p, err := loadProject(ctx, r, projectID, true)
		if err != nil {
			return err
		}
		if err := requireState(p, "select serials for", domain.ProjectStateDraft, domain.ProjectStateReserved); err != nil {
			return err
		}
		li, err := findLine(p, lineID)
		if err != nil {
			return err
		}
		equipmentID = li.EquipmentID
		unique := slices.Compact(slices.Sorted(slices.Values(unitIDs)))
		if len(unique) != li.Quantity || len(unitIDs) != li.Quantity {
			return domain.NewValidationError("ASSIGNMENT_MISMATCH",
				"Number of assigned serials (%d) must match quantity (%d) for %s.", len(unique), li.Quantity, li.EquipmentName)
		}
		for _, other := range p.LineItems {
			if other.ID == li.ID {
				continue
			}
			for _, id := range unitIDs {
				if other.HasUnit(id) {
					return domain.NewValidationError("UNIT_ON_OTHER_LINE", "Serial %d is already assigned to another line of this project.", id)
				}
			}
		}

		units, err := r.Units.LockByIDs(ctx, unitIDs)
		if err != nil {
			return err
		}
		if len(units) != len(unitIDs) {
			return domain.NewNotFoundError("serial", unitIDs)
		}
		for _, u := range units {
			if u.EquipmentID != li.EquipmentID {
				return domain.NewValidationError("WRONG_EQUIPMENT", "Serial %s does not belong to %s.", u.SerialNumber, li.EquipmentName)
			}
			heldHere := u.ProjectID != nil && *u.ProjectID == p.ID
			if u.Status != domain.UnitStatusAvailable && !heldHere {
				return domain.NewUserError("UNIT_UNAVAILABLE", domain.ErrUnitInUse,
					"Serial %s is %s and cannot be selected.", u.SerialNumber, u.Status.Label())
			}
		}

		if p.State == domain.ProjectStateReserved {
			previous, err := r.Units.LockByIDs(ctx, li.UnitIDs)
			if err != nil {
				return err
			}
			for i := range previous {
				u := &previous[i]
				if slices.Contains(unitIDs, u.ID) || u.Status != domain.UnitStatusReserved {
					continue
				}
				if err := transitionUnit(ctx, r, u, transition{To: domain.UnitStatusAvailable, ActingUser: "system", Notes: "Replaced by manual selection"}); err != nil {
					return err
				}
			}
			pid := p.ID
			for i := range units {
				u := &units[i]
				if u.Status != domain.UnitStatusAvailable {
					continue
				}
				if err := transitionUnit(ctx, r, u, transition{To: domain.UnitStatusReserved, ProjectID: &pid, ActingUser: "system", Notes: "Selected manually"}); err != nil {
					return err
				}
			}
		}

		if err := r.LineItems.SetUnits(ctx, li.ID, unitIDs); err != nil {
			return fmt.Errorf("failed to assign serials: %w", err)
		}
		li.UnitIDs = slices.Clone(unitIDs)
		out = li
		return nil
	})
	if err == nil {
		s.deps.invalidate(ctx, equipmentID)
	}
	return out, err
}

func (s *projectService) Reserve(ctx context.Context, id int32, actingUser string) (*domain.Project, error) {
	logger.EnterMethod("projectService.Reserve", "projectID", id, "actingUser", actingUser)

	var out *domain.Project
	err := s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		p, err := loadProject(ctx, r, id, true)
		if err != nil {
			return err
		}
		if err := requireState(p, "reserve", domain.ProjectStateDraft, domain.ProjectStateReserved); err != nil {
			return err
		}
		if len(p.LineItems) == 0 {
			return domain.NewUserError("NO_LINE_ITEMS", domain.ErrNoLineItems, "Please add at least one equipment line before reserving.")
		}
		if p.State == domain.ProjectStateDraft {
			if err := reprice(ctx, r, p); err != nil {
				return err
			}
		}

		seen := map[int32]bool{}
		for i := range p.LineItems {
			li := &p.LineItems[i]
			li.UnitIDs = slices.DeleteFunc(li.UnitIDs, func(uid int32) bool {
				dup := seen[uid]
				seen[uid] = true
				return dup
			})
			units, err := s.alloc.Reserve(ctx, r, p.ID, li, actingUser)
			if err != nil {
				return err
			}
			for _, u := range units {
				seen[u.ID] = true
			}
		}

		if p.State != domain.ProjectStateReserved {
			s.setState(p, domain.ProjectStateReserved)
		}
		if err := validateAssignments(ctx, r, p); err != nil {
			return err
		}
		if err := s.save(ctx, r, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("projectService.Reserve", err, "projectID", id)
		return nil, err
	}
	s.deps.invalidate(ctx, lineEquipmentIDs(out)...)
	logger.ExitMethod("projectService.Reserve", "projectID", id)
	return out, nil
}

func (s *projectService) Start(ctx context.Context, id int32, actingUser, signature string) (*domain.Project, error) {
	var out *domain.Project
	err := s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		p, err := loadProject(ctx, r, id, true)
		if err != nil {
			return err
		}
		if err := requireState(p, "start", domain.ProjectStateReserved); err != nil {
			return err
		}
		if err := validateAssignments(ctx, r, p); err != nil {
			return err
		}
		today := s.deps.today()
		for _, li := range p.LineItems {
			units, err := r.Units.LockByIDs(ctx, li.UnitIDs)
			if err != nil {
				return err
			}
			for i := range units {
				u := &units[i]
				if u.Status != domain.UnitStatusReserved {
					continue
				}
				if err := transitionUnit(ctx, r, u, transition{
					To:         domain.UnitStatusRented,
					ActingUser: actingUser,
					Notes:      fmt.Sprintf("Picked up for %s", p.Number),
					Date:       today,
				}); err != nil {
					return err
				}
			}
		}
		if signature != "" {
			now := time.Now()
			p.PickupSignature = signature
			p.PickupSignedAt = &now
		}
		s.setState(p, domain.ProjectStateOngoing)
		if err := s.save(ctx, r, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.deps.invalidate(ctx, lineEquipmentIDs(out)...)
	return out, nil
}

// Pickup hands over a subset of the reserved units. The first pickup starts the rental.
func (s *projectService) Pickup(ctx context.Context, id int32, unitIDs []int32, pickupDate time.Time, actingUser string) (*domain.Project, error) {
	if len(unitIDs) == 0 {
		return nil, domain.NewValidationError("NO_SELECTION", "Please select at least one serial to pick up.")
	}
	if pickupDate.IsZero() {
		pickupDate = s.deps.today()
	}
	pickupDate = domain.DateOnly(pickupDate)

	var out *domain.Project
	err := s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		p, err := loadProject(ctx, r, id, true)
		if err != nil {
			return err
		}
		if err := requireState(p, "pick up equipment for", domain.ProjectStateReserved, domain.ProjectStateOngoing); err != nil {
			return err
		}
		if pickupDate.Before(domain.DateOnly(p.StartDate)) || pickupDate.After(domain.DateOnly(p.EndDate)) {
			return domain.NewValidationError("PICKUP_DATE", "Pickup date must be within the rental period.")
		}
		all := p.AllUnitIDs()
		units, err := r.Units.LockByIDs(ctx, unitIDs)
		if err != nil {
			return err
		}
		if len(units) != len(unitIDs) {
			return domain.NewNotFoundError("serial", unitIDs)
		}
		for i := range units {
			u := &units[i]
			if !slices.Contains(all, u.ID) {
				return domain.NewValidationError("NOT_ON_PROJECT", "Serial %s is not assigned to project %s.", u.SerialNumber, p.Number)
			}
			if u.Status != domain.UnitStatusReserved {
				return domain.NewUserError("NOT_RESERVED", domain.ErrInvalidTransition,
					"Serial %s is %s and cannot be picked up.", u.SerialNumber, u.Status.Label())
			}
			if err := transitionUnit(ctx, r, u, transition{
				To:         domain.UnitStatusRented,
				ActingUser: actingUser,
				Notes:      fmt.Sprintf("Picked up for %s", p.Number),
				Date:       pickupDate,
			}); err != nil {
				return err
			}
		}
		if p.State == domain.ProjectStateReserved {
			s.setState(p, domain.ProjectStateOngoing)
		}
		if err := s.save(ctx, r, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.deps.invalidate(ctx, lineEquipmentIDs(out)...)
	return out, nil
}

func (s *projectService) Cancel(ctx context.Context, id int32, actingUser string) (*domain.Project, error) {
	var out *domain.Project
	err := s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		p, err := loadProject(ctx, r, id, true)
		if err != nil {
			return err
		}
		if p.State == domain.ProjectStateOngoing {
			return domain.NewUserError("CANCEL_ONGOING", domain.ErrCancelOngoing,
				"Cannot cancel ongoing rental. Please return equipment first.")
		}
		if err := requireState(p, "cancel", domain.ProjectStateDraft, domain.ProjectStateReserved); err != nil {
			return err
		}
		for i := range p.LineItems {
			if err := s.alloc.Release(ctx, r, p.ID, &p.LineItems[i], actingUser, fmt.Sprintf("Released: %s cancelled", p.Number)); err != nil {
				return err
			}
		}
		s.setState(p, domain.ProjectStateCancelled)
		if err := s.save(ctx, r, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.deps.invalidate(ctx, lineEquipmentIDs(out)...)
	return out, nil
}

func (s *projectService) ResetToDraft(ctx context.Context, id int32, actingUser string) (*domain.Project, error) {
	var out *domain.Project
	err := s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		p, err := loadProject(ctx, r, id, true)
		if err != nil {
			return err
		}
		if err := requireState(p, "reset", domain.ProjectStateReserved); err != nil {
			return err
		}
		for i := range p.LineItems {
			if err := s.alloc.Release(ctx, r, p.ID, &p.LineItems[i], actingUser, fmt.Sprintf("Released: %s reset to draft", p.Number)); err != nil {
				return err
			}
		}
		s.setState(p, domain.ProjectStateDraft)
		if err := s.save(ctx, r, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.deps.invalidate(ctx, lineEquipmentIDs(out)...)
	return out, nil
}

// invoiceLines builds the descriptors handed to the invoicing collaborator.
func invoiceLines(p *domain.Project, includeLateFees bool) []domain.InvoiceLine {
	money := func(v float64) decimal.Decimal { return decimal.NewFromFloat(v).Round(2) }
	one := decimal.NewFromInt(1)

	var lines []domain.InvoiceLine
	for _, li := range p.LineItems {
		lines = append(lines, domain.InvoiceLine{
			Description: fmt.Sprintf("%s - Rental (%d days)", li.EquipmentName, p.DurationDays),
			Quantity:    decimal.NewFromInt(int64(li.Quantity)),
			UnitPrice:   money(li.UnitPrice),
		})
	}
	if includeLateFees && p.LateFee != 0 {
		lines = append(lines, domain.InvoiceLine{
			Description: fmt.Sprintf("Late Fee (%d days overdue)", p.DaysOverdue),
			Quantity:    one,
			UnitPrice:   money(p.LateFee),
		})
	}
	if p.DamageFee != 0 {
		lines = append(lines, domain.InvoiceLine{Description: "Damage/Repair Fee", Quantity: one, UnitPrice: money(p.DamageFee)})
	}
	if p.Discount != 0 {
		lines = append(lines, domain.InvoiceLine{Description: "Discount", Quantity: one, UnitPrice: money(p.Discount).Neg()})
	}
	return lines
}

// CreateInvoice checks and books the invoice under the project row lock, so a concurrent
// request for the same project waits and then sees the reference already set.
func (s *projectService) CreateInvoice(ctx context.Context, id int32) (*domain.Project, error) {
	if s.deps.Invoicing == nil {
		return nil, errors.New("invoicing is not configured")
	}

	var out *domain.Project
	err := s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		p, err := loadProject(ctx, r, id, true)
		if err != nil {
			return err
		}
		if err := checkInvoiceable(p); err != nil {
			return err
		}

		lines := invoiceLines(p, s.deps.Settings.InvoiceIncludeLateFees)
		logger.ExternalServiceCall("invoicing", "CreateInvoice", "projectID", p.ID, "lines", len(lines))
		var ref string
		if book, ok := s.deps.Invoicing.(transactionalInvoicing); ok {
			ref, err = book.CreateInvoiceTx(ctx, r, p.CustomerName, s.deps.today(), p.Number, lines)
		} else {
			ref, err = s.deps.Invoicing.CreateInvoice(ctx, p.CustomerName, s.deps.today(), p.Number, lines)
		}
		logger.ExternalServiceResult("invoicing", "CreateInvoice", err, "reference", ref)
		if err != nil {
			return fmt.Errorf("failed to create invoice: %w", err)
		}

		p.InvoiceRef = &ref
		s.setState(p, domain.ProjectStateInvoiced)
		if err := s.save(ctx, r, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// checkInvoiceable also requires the returned state: invoicing an ongoing project would leave
// its units rented under an invoiced project that can no longer be returned.
func checkInvoiceable(p *domain.Project) error {
	if p.InvoiceRef != nil {
		return domain.NewUserError("INVOICE_EXISTS", domain.ErrInvoiceExists, "Invoice already exists for this project.")
	}
	if len(p.LineItems) == 0 {
		return domain.NewUserError("NO_LINE_ITEMS", domain.ErrNoLineItems, "Cannot create invoice without rental items.")
	}
	return requireState(p, "invoice", domain.ProjectStateReturned)
}

// RefreshOverdue recomputes overdue days and late fees of every ongoing project and returns
// how many changed.
func (s *projectService) RefreshOverdue(ctx context.Context) (int, error) {
	filter := domain.ProjectFilter{States: []domain.ProjectState{domain.ProjectStateOngoing}, PageSize: 200}
	var ids []int32
	for page := int32(1); ; page++ {
		filter.Page = page
		projects, total, err := s.deps.Store.Repos().Projects.List(ctx, filter)
		if err != nil {
			return 0, err
		}
		for _, p := range projects {
			ids = append(ids, p.ID)
		}
		if len(projects) == 0 || int32(len(ids)) >= total {
			break
		}
	}

	changed := 0
	for _, id := range ids {
		updated := false
		err := s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
			p, err := loadProject(ctx, r, id, true)
			if err != nil {
				return err
			}
			if p.State != domain.ProjectStateOngoing {
				return nil
			}
			before := [3]float64{float64(p.DaysOverdue), p.LateFee, p.GrandTotal}
			applyDerived(p, s.deps.today(), s.deps.Settings.Pricing)
			if before == [3]float64{float64(p.DaysOverdue), p.LateFee, p.GrandTotal} {
				return nil
			}
			updated = true
			return r.Projects.Update(ctx, p)
		})
		if err != nil {
			logger.Error("Failed to refresh overdue project", "projectID", id, "error", err)
			continue
		}
		if updated {
			changed++
		}
	}
	return changed, nil
}

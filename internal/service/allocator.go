package service

import (
	"context"
	"fmt"
	"slices"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/logger"
	"equiprent-backend/internal/repository"
)

// Allocator matches line item quantities to concrete units. Every method runs on the
// repositories of the caller's transaction.
type Allocator struct {
	deps Deps
}

func NewAllocator(d Deps) *Allocator {
	return &Allocator{deps: d}
}

// Reserve makes the line item hold exactly Quantity units reserved for the project.
// Units already assigned are kept. The shortfall is taken from available stock in
// sequence order and, when the equipment allows it, auto-created.
func (a *Allocator) Reserve(ctx context.Context, r repository.Repositories, projectID int32, li *domain.LineItem, actingUser string) ([]domain.Unit, error) {
	eq, err := r.Equipment.LockByID(ctx, li.EquipmentID)
	if err != nil {
		return nil, err
	}
	if !eq.HasSerials {
		return nil, nil
	}
	if len(li.UnitIDs) > li.Quantity {
		return nil, domain.NewValidationError("ASSIGNMENT_MISMATCH",
			"Number of assigned serials (%d) must match quantity (%d) for %s.", len(li.UnitIDs), li.Quantity, eq.Name)
	}

	assigned, err := r.Units.LockByIDs(ctx, li.UnitIDs)
	if err != nil {
		return nil, err
	}
	var kept []domain.Unit
	for _, u := range assigned {
		if u.EquipmentID != eq.ID {
			return nil, domain.NewValidationError("WRONG_EQUIPMENT", "Serial %s does not belong to %s.", u.SerialNumber, eq.Name)
		}
		heldHere := u.ProjectID != nil && *u.ProjectID == projectID
		if (u.Status == domain.UnitStatusAvailable && u.Active) || heldHere {
			kept = append(kept, u)
			continue
		}
		// linked while in draft but taken by someone else since
		logger.Info("Dropping unavailable serial from line item", "serial", u.SerialNumber, "status", u.Status, "lineItemID", li.ID)
	}

	shortfall := li.Quantity - len(kept)
	picked, err := r.Units.LockAvailable(ctx, eq.ID, li.UnitIDs, shortfall)
	if err != nil {
		return nil, err
	}
	if missing := shortfall - len(picked); missing > 0 {
		if !eq.AutoGenerateSerials {
			allocations.WithLabelValues("insufficient").Inc()
			return nil, domain.NewUserError("INSUFFICIENT_STOCK", domain.ErrInsufficientStock,
				"Insufficient serials for %s. Need %d, found %d. Please add more serials or enable auto-generation.",
				eq.Name, li.Quantity, len(kept)+len(picked))
		}
		created, err := a.autoCreate(ctx, r, eq, missing)
		if err != nil {
			return nil, err
		}
		picked = append(picked, created...)
	}

	units := append(kept, picked...)
	pid := projectID
	for i := range units {
		u := &units[i]
		if u.Status != domain.UnitStatusAvailable {
			continue
		}
		if err := transitionUnit(ctx, r, u, transition{
			To:         domain.UnitStatusReserved,
			ProjectID:  &pid,
			ActingUser: actingUser,
			Notes:      fmt.Sprintf("Reserved for %s", eq.Name),
		}); err != nil {
			return nil, err
		}
	}

	ids := make([]int32, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	if !slices.Equal(ids, li.UnitIDs) {
		if err := r.LineItems.SetUnits(ctx, li.ID, ids); err != nil {
			return nil, fmt.Errorf("failed to assign serials: %w", err)
		}
		li.UnitIDs = ids
	}
	allocations.WithLabelValues("reserved").Inc()
	return units, nil
}

// autoCreate adds count available units named {code}-{n:04d}, numbering from the current
// unit count + 1 and skipping names already taken.
func (a *Allocator) autoCreate(ctx context.Context, r repository.Repositories, eq *domain.Equipment, count int) ([]domain.Unit, error) {
	existing, err := r.Units.CountByEquipment(ctx, eq.ID)
	if err != nil {
		return nil, err
	}
	var created []domain.Unit
	for n := existing + 1; len(created) < count; n++ {
		serial := fmt.Sprintf("%s-%04d", eq.Code, n)
		taken, err := r.Units.SerialExists(ctx, serial)
		if err != nil {
			return nil, err
		}
		if taken {
			logger.Debug("Skipping taken serial during auto-generation", "serial", serial)
			continue
		}
		u := domain.Unit{
			EquipmentID:     eq.ID,
			SerialNumber:    serial,
			Sequence:        int32(n),
			Status:          domain.UnitStatusAvailable,
			Active:          true,
			IdentifierImage: a.deps.renderIdentifier(serial),
			Notes:           "Auto-generated on reservation",
		}
		if err := r.Units.Create(ctx, &u); err != nil {
			return nil, fmt.Errorf("failed to auto-create serial %s: %w", serial, err)
		}
		created = append(created, u)
	}
	logger.Info("Auto-generated serials", "equipment", eq.Code, "count", len(created))
	return created, nil
}

// Release returns every unit held by the line item for this project to available and
// clears the assignment.
func (a *Allocator) Release(ctx context.Context, r repository.Repositories, projectID int32, li *domain.LineItem, actingUser, notes string) error {
	units, err := r.Units.LockByIDs(ctx, li.UnitIDs)
	if err != nil {
		return err
	}
	for i := range units {
		u := &units[i]
		if u.Status != domain.UnitStatusReserved || u.ProjectID == nil || *u.ProjectID != projectID {
			continue
		}
		if err := transitionUnit(ctx, r, u, transition{
			To:         domain.UnitStatusAvailable,
			ActingUser: actingUser,
			Notes:      notes,
		}); err != nil {
			return err
		}
	}
	if err := r.LineItems.SetUnits(ctx, li.ID, nil); err != nil {
		return fmt.Errorf("failed to clear serial assignment: %w", err)
	}
	li.UnitIDs = nil
	return nil
}

// AutoAssign links or unlinks units so a draft line item follows its quantity. Units stay
// available until the project is reserved. A short stock assigns what exists.
func (a *Allocator) AutoAssign(ctx context.Context, r repository.Repositories, li *domain.LineItem) error {
	eq, err := r.Equipment.GetByID(ctx, li.EquipmentID)
	if err != nil {
		return err
	}
	if !eq.HasSerials {
		return nil
	}

	ids := slices.Clone(li.UnitIDs)
	switch {
	case len(ids) > li.Quantity:
		ids = ids[:li.Quantity]
	case len(ids) < li.Quantity:
		extra, err := r.Units.LockAvailable(ctx, li.EquipmentID, ids, li.Quantity-len(ids))
		if err != nil {
			return err
		}
		for _, u := range extra {
			ids = append(ids, u.ID)
		}
	default:
		return nil
	}
	if err := r.LineItems.SetUnits(ctx, li.ID, ids); err != nil {
		return fmt.Errorf("failed to assign serials: %w", err)
	}
	li.UnitIDs = ids
	return nil
}

package service

import (
	"context"
	"fmt"
	"strings"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/logger"
	"equiprent-backend/internal/repository"
)

type equipmentService struct {
	deps Deps
}

func NewEquipmentService(d Deps) EquipmentService {
	return &equipmentService{deps: d}
}

func (s *equipmentService) CreateEquipment(ctx context.Context, e *domain.Equipment) error {
	logger.EnterMethod("equipmentService.CreateEquipment", "name", e.Name)

	if err := e.Validate(); err != nil {
		logger.ExitMethodWithError("equipmentService.CreateEquipment", err)
		return err
	}
	e.Active = true
	e.AutoGenerateSerials = e.AutoGenerateSerials || s.deps.Settings.AutoGenerateSerialsDefault

	err := s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		if e.CategoryID != nil {
			if _, err := r.Categories.GetByID(ctx, *e.CategoryID); err != nil {
				return err
			}
		}
		if strings.TrimSpace(e.Code) == "" {
			e.Code = "EQ-NEW"
			seq, err := r.Sequences.Next(ctx, "equipment")
			if err != nil {
				logger.Warn("Equipment code sequence unavailable, using placeholder", "error", err)
			} else {
				e.Code = fmt.Sprintf("EQ-%04d", seq)
			}
		}
		return r.Equipment.Create(ctx, e)
	})
	if err != nil {
		logger.ExitMethodWithError("equipmentService.CreateEquipment", err)
		return err
	}
	logger.ExitMethod("equipmentService.CreateEquipment", "equipmentID", e.ID, "code", e.Code)
	return nil
}

func (s *equipmentService) UpdateEquipment(ctx context.Context, in *domain.Equipment) error {
	if err := in.Validate(); err != nil {
		return err
	}
	err := s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		e, err := r.Equipment.LockByID(ctx, in.ID)
		if err != nil {
			return err
		}
		if in.CategoryID != nil {
			if _, err := r.Categories.GetByID(ctx, *in.CategoryID); err != nil {
				return err
			}
		}
		if e.HasSerials && !in.HasSerials {
			counts, err := r.Equipment.StockCounts(ctx, e.ID)
			if err != nil {
				return err
			}
			if counts.Total > 0 {
				return domain.NewValidationError("HAS_SERIALS", "Cannot disable serial tracking for %s while it has serials.", e.Name)
			}
		}
		e.Name = in.Name
		e.Description = in.Description
		e.CategoryID = in.CategoryID
		e.ItemValue = in.ItemValue
		e.DailyRate, e.WeeklyRate, e.MonthlyRate = in.DailyRate, in.WeeklyRate, in.MonthlyRate
		e.HasSerials = in.HasSerials
		e.AutoGenerateSerials = in.AutoGenerateSerials
		e.Active = in.Active
		if err := r.Equipment.Update(ctx, e); err != nil {
			return fmt.Errorf("failed to update equipment: %w", err)
		}
		*in = *e
		return nil
	})
	if err != nil {
		return err
	}
	s.deps.invalidate(ctx, in.ID)
	return nil
}

func (s *equipmentService) GetEquipment(ctx context.Context, id int32) (*domain.Equipment, error) {
	e, err := s.deps.Store.Repos().Equipment.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Stock, err = s.StockCounts(ctx, id); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *equipmentService) ListEquipment(ctx context.Context, filter domain.EquipmentFilter) ([]domain.Equipment, error) {
	items, err := s.deps.Store.Repos().Equipment.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if !items[i].HasSerials {
			continue
		}
		if items[i].Stock, err = s.StockCounts(ctx, items[i].ID); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// StockCounts aggregates unit statuses, served from the availability cache when possible.
func (s *equipmentService) StockCounts(ctx context.Context, equipmentID int32) (domain.StockCounts, error) {
	if s.deps.Cache != nil {
		if c, ok := s.deps.Cache.Get(ctx, equipmentID); ok {
			return c, nil
		}
	}
	c, err := s.deps.Store.Repos().Equipment.StockCounts(ctx, equipmentID)
	if err != nil {
		return domain.StockCounts{}, err
	}
	if s.deps.Cache != nil {
		s.deps.Cache.Set(ctx, equipmentID, c)
	}
	return c, nil
}

// CheckAvailability reports whether quantity units could be reserved right now. Equipment that
// auto-generates serials is always available.
func (s *equipmentService) CheckAvailability(ctx context.Context, equipmentID int32, quantity int) (bool, domain.StockCounts, error) {
	e, err := s.deps.Store.Repos().Equipment.GetByID(ctx, equipmentID)
	if err != nil {
		return false, domain.StockCounts{}, err
	}
	counts, err := s.StockCounts(ctx, equipmentID)
	if err != nil {
		return false, counts, err
	}
	if !e.HasSerials || e.AutoGenerateSerials {
		return e.Active, counts, nil
	}
	return e.Active && counts.Available >= quantity, counts, nil
}

func (s *equipmentService) CreateCategory(ctx context.Context, c *domain.Category) error {
	if strings.TrimSpace(c.Name) == "" {
		return domain.NewValidationError("NAME_REQUIRED", "Category name is required.")
	}
	return s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		if c.ParentID != nil {
			if _, err := r.Categories.GetByID(ctx, *c.ParentID); err != nil {
				return err
			}
		}
		if err := r.Categories.Create(ctx, c); err != nil {
			return fmt.Errorf("failed to create category: %w", err)
		}
		all, err := r.Categories.List(ctx)
		if err != nil {
			return err
		}
		c.FullName = categoryFullName(c.ID, indexCategories(all))
		return nil
	})
}

func (s *equipmentService) UpdateCategory(ctx context.Context, c *domain.Category) error {
	if strings.TrimSpace(c.Name) == "" {
		return domain.NewValidationError("NAME_REQUIRED", "Category name is required.")
	}
	return s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		if _, err := r.Categories.GetByID(ctx, c.ID); err != nil {
			return err
		}
		all, err := r.Categories.List(ctx)
		if err != nil {
			return err
		}
		byID := indexCategories(all)
		for parent := c.ParentID; parent != nil; {
			if *parent == c.ID {
				return domain.NewValidationError("CATEGORY_CYCLE", "You cannot create recursive categories.")
			}
			next, ok := byID[*parent]
			if !ok {
				return domain.NewNotFoundError("category", *parent)
			}
			parent = next.ParentID
		}
		if err := r.Categories.Update(ctx, c); err != nil {
			return fmt.Errorf("failed to update category: %w", err)
		}
		byID[c.ID] = *c
		c.FullName = categoryFullName(c.ID, byID)
		return nil
	})
}

func (s *equipmentService) ListCategories(ctx context.Context) ([]domain.Category, error) {
	all, err := s.deps.Store.Repos().Categories.List(ctx)
	if err != nil {
		return nil, err
	}
	byID := indexCategories(all)
	for i := range all {
		all[i].FullName = categoryFullName(all[i].ID, byID)
	}
	return all, nil
}

func indexCategories(all []domain.Category) map[int32]domain.Category {
	m := make(map[int32]domain.Category, len(all))
	for _, c := range all {
		m[c.ID] = c
	}
	return m
}

// categoryFullName joins the ancestor names as "Parent / Child".
func categoryFullName(id int32, byID map[int32]domain.Category) string {
	var parts []string
	seen := map[int32]bool{}
	for cur, ok := byID[id]; ok && !seen[cur.ID]; {
		seen[cur.ID] = true
		parts = append([]string{cur.Name}, parts...)
		if cur.ParentID == nil {
			break
		}
		cur, ok = byID[*cur.ParentID]
	}
	return strings.Join(parts, " / ")
}

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

const (
	maxBulkQuantity = 1000
	previewCount    = 10
)

type bulkSerialService struct {
	deps Deps
}

func NewBulkSerialService(d Deps) BulkSerialService {
	return &bulkSerialService{deps: d}
}

type bulkPlan struct {
	equipment *domain.Equipment
	serials   []string
	start     int
}

func (s *bulkSerialService) plan(ctx context.Context, req BulkSerialRequest) (*bulkPlan, error) {
	if req.Quantity < 1 || req.Quantity > maxBulkQuantity {
		return nil, domain.NewValidationError("QUANTITY_RANGE", "Quantity must be between 1 and %d.", maxBulkQuantity)
	}
	r := s.deps.Store.Repos()
	eq, err := r.Equipment.GetByID(ctx, req.EquipmentID)
	if err != nil {
		return nil, err
	}
	if !eq.HasSerials {
		return nil, domain.NewValidationError("NO_SERIALS", "%s is not tracked by serial number.", eq.Name)
	}

	prefix := strings.TrimSpace(req.Prefix)
	if prefix == "" {
		prefix = eq.Code
	}
	if prefix == "" {
		prefix = s.deps.Settings.SerialPrefix
	}
	start := req.StartNumber
	if start <= 0 {
		count, err := r.Units.CountByEquipment(ctx, eq.ID)
		if err != nil {
			return nil, err
		}
		start = count + 1
	}

	p := &bulkPlan{equipment: eq, start: start}
	for n := start; n < start+req.Quantity; n++ {
		p.serials = append(p.serials, fmt.Sprintf("%s-%04d", prefix, n))
	}
	return p, nil
}

// Preview returns the first serial names Generate would try.
func (s *bulkSerialService) Preview(ctx context.Context, req BulkSerialRequest) ([]string, error) {
	p, err := s.plan(ctx, req)
	if err != nil {
		return nil, err
	}
	return p.serials[:min(previewCount, len(p.serials))], nil
}

// Generate creates the planned serials in batches. Names already taken are skipped and
// reported, and a failed batch does not undo the batches committed before it.
func (s *bulkSerialService) Generate(ctx context.Context, req BulkSerialRequest) (*BatchResult, error) {
	logger.EnterMethod("bulkSerialService.Generate", "equipmentID", req.EquipmentID, "quantity", req.Quantity)

	p, err := s.plan(ctx, req)
	if err != nil {
		logger.ExitMethodWithError("bulkSerialService.Generate", err)
		return nil, err
	}

	result := &BatchResult{}
	offset := 0
	for batch := range slices.Chunk(p.serials, max(s.deps.Settings.BatchSize, 1)) {
		base := p.start + offset
		offset += len(batch)
		var created []domain.Unit
		var skipped []string
		err := s.deps.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
			created, skipped = nil, nil
			for i, serial := range batch {
				taken, err := r.Units.SerialExists(ctx, serial)
				if err != nil {
					return err
				}
				if taken {
					skipped = append(skipped, serial)
					continue
				}
				u := domain.Unit{
					EquipmentID:     p.equipment.ID,
					SerialNumber:    serial,
					Sequence:        int32(base + i),
					Status:          domain.UnitStatusAvailable,
					Active:          true,
					IdentifierImage: s.deps.renderIdentifier(serial),
				}
				if err := r.Units.Create(ctx, &u); err != nil {
					return fmt.Errorf("failed to create serial %s: %w", serial, err)
				}
				created = append(created, u)
			}
			return nil
		})
		if err != nil {
			logger.Error("Bulk serial batch failed", "equipmentID", p.equipment.ID, "from", batch[0], "error", err)
			for _, serial := range batch {
				result.Failed = append(result.Failed, ItemFailure{Item: serial, Error: err.Error()})
			}
			continue
		}
		result.Skipped = append(result.Skipped, skipped...)
		for _, u := range created {
			result.Succeeded = append(result.Succeeded, u.SerialNumber)
		}
		s.deps.publish(ctx, created...)
	}
	slices.Sort(result.Skipped)

	s.deps.invalidate(ctx, p.equipment.ID)
	logger.ExitMethod("bulkSerialService.Generate", "created", len(result.Succeeded), "skipped", len(result.Skipped), "failed", len(result.Failed))
	return result, nil
}

package jobs

import (
	"context"
	"fmt"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/logger"
	"equiprent-backend/internal/service"
)

const lowStockSubject = "Low stock"

// regenerateMissingIdentifiers renders identifier images for active units that have none.
func (jr *JobRunner) regenerateMissingIdentifiers(ctx context.Context) error {
	result, err := jr.services.Units.RegenerateIdentifiers(ctx, domain.UnitFilter{ActiveOnly: true, MissingImage: true})
	if err != nil {
		return fmt.Errorf("regenerate identifiers: %w", err)
	}
	if len(result.Failed) > 0 {
		logger.Warn("Some identifiers could not be regenerated", "failed", len(result.Failed))
	}
	logger.Info("Regenerated missing identifiers", "count", len(result.Succeeded))
	return nil
}

// warnLowStock schedules one follow-up per day for each serialized equipment
// whose available units fall below the configured threshold. Equipment that
// generates serials on demand never runs out and is skipped.
func (jr *JobRunner) warnLowStock(ctx context.Context) error {
	if jr.settings.LowStockThreshold <= 0 {
		logger.Debug("Low stock warnings disabled")
		return nil
	}
	equipment, err := jr.services.Equipment.ListEquipment(ctx, domain.EquipmentFilter{ActiveOnly: true})
	if err != nil {
		return fmt.Errorf("list equipment: %w", err)
	}

	today := domain.DateOnly(jr.now()).Format("2006-01-02")
	warned := 0
	for _, e := range equipment {
		if !e.HasSerials || e.AutoGenerateSerials || e.Stock.Available >= jr.settings.LowStockThreshold {
			continue
		}
		summary := fmt.Sprintf("%s (%s) has %d unit(s) available on %s.", e.Name, e.Code, e.Stock.Available, today)
		exists, err := jr.hasActivity(ctx, nil, lowStockSubject, summary)
		if err != nil {
			logger.Error("Failed to check existing stock warnings", "equipmentID", e.ID, "error", err)
			continue
		}
		if exists {
			continue
		}
		jr.services.Activities.ScheduleFollowUp(ctx, service.FollowUp{
			Subject:  lowStockSubject,
			Summary:  summary,
			Note:     fmt.Sprintf("Reserved %d, rented %d.", e.Stock.Reserved, e.Stock.Rented),
			Assignee: jr.settings.FollowUpAssignee,
		})
		warned++
	}
	logger.Info("Low stock warnings scheduled", "count", warned)
	return nil
}

package service

import (
	"context"
	"fmt"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/reports"
)

type reportService struct {
	deps Deps
}

func NewReportService(d Deps) ReportService {
	return &reportService{deps: d}
}

// UnitRegister exports every unit of one equipment, or of all equipment when equipmentID is nil.
func (s *reportService) UnitRegister(ctx context.Context, equipmentID *int32) ([]byte, error) {
	r := s.deps.Store.Repos()
	var equipment []domain.Equipment
	if equipmentID != nil {
		e, err := r.Equipment.GetByID(ctx, *equipmentID)
		if err != nil {
			return nil, err
		}
		equipment = []domain.Equipment{*e}
	} else {
		all, err := r.Equipment.List(ctx, domain.EquipmentFilter{})
		if err != nil {
			return nil, err
		}
		equipment = all
	}

	projectNumbers := map[int32]string{}
	var rows []reports.RegisterRow
	for _, e := range equipment {
		id := e.ID
		units, err := r.Units.List(ctx, domain.UnitFilter{EquipmentID: &id})
		if err != nil {
			return nil, err
		}
		for _, u := range units {
			row := reports.RegisterRow{
				Equipment:  e.Name,
				Code:       e.Code,
				Serial:     u.SerialNumber,
				Sequence:   u.Sequence,
				Status:     u.Status.Label(),
				Active:     u.Active,
				PickupDate: u.ActualPickupDate,
				ReturnDate: u.ActualReturnDate,
				Notes:      u.Notes,
			}
			if u.ProjectID != nil {
				number, ok := projectNumbers[*u.ProjectID]
				if !ok {
					p, err := r.Projects.GetByID(ctx, *u.ProjectID)
					if err != nil {
						return nil, err
					}
					number = p.Number
					projectNumbers[*u.ProjectID] = number
				}
				row.Project = number
			}
			rows = append(rows, row)
		}
	}
	return reports.UnitRegisterXLSX(rows)
}

// LabelSheet renders printable labels for the active units of an equipment. Missing images
// are drawn on the fly without being stored.
func (s *reportService) LabelSheet(ctx context.Context, equipmentID int32) ([]byte, error) {
	r := s.deps.Store.Repos()
	e, err := r.Equipment.GetByID(ctx, equipmentID)
	if err != nil {
		return nil, err
	}
	units, err := r.Units.List(ctx, domain.UnitFilter{EquipmentID: &equipmentID, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	labels := make([]reports.Label, 0, len(units))
	for _, u := range units {
		img := u.IdentifierImage
		if len(img) == 0 {
			img = s.deps.renderIdentifier(u.SerialNumber)
		}
		labels = append(labels, reports.Label{Serial: u.SerialNumber, Caption: e.Name, Image: img})
	}
	return reports.LabelSheetPDF(fmt.Sprintf("%s (%s)", e.Name, e.Code), labels)
}

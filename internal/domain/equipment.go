package domain

import (
	"strings"
	"time"
)

// Equipment is a catalog entry that owns zero or more serialized units.
type Equipment struct {
	ID                  int32       `json:"id"`
	Name                string      `json:"name"`
	Code                string      `json:"code"`
	Description         string      `json:"description,omitempty"`
	CategoryID          *int32      `json:"category_id,omitempty"`
	ItemValue           float64     `json:"item_value"`
	DailyRate           float64     `json:"daily_rate"`
	WeeklyRate          float64     `json:"weekly_rate"`
	MonthlyRate         float64     `json:"monthly_rate"`
	HasSerials          bool        `json:"has_serials"`
	AutoGenerateSerials bool        `json:"auto_generate_serials"`
	Active              bool        `json:"active"`
	Stock               StockCounts `json:"stock"`
	CreatedOn           time.Time   `json:"created_on"`
	UpdatedOn           time.Time   `json:"updated_on"`
}

// StockCounts is aggregated from the equipment's units, never stored on its own.
type StockCounts struct {
	Available int `json:"available"`
	Reserved  int `json:"reserved"`
	Rented    int `json:"rented"`
	Total     int `json:"total"`
}

func (e *Equipment) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return NewValidationError("NAME_REQUIRED", "Equipment name is required.")
	}
	if e.DailyRate < 0 || e.WeeklyRate < 0 || e.MonthlyRate < 0 {
		return NewValidationError("NEGATIVE_RATE", "Rental rates cannot be negative.")
	}
	if e.DailyRate == 0 && e.WeeklyRate == 0 && e.MonthlyRate == 0 {
		return NewValidationError("RATE_REQUIRED", "Please set at least one rental rate (Daily, Weekly, or Monthly).")
	}
	return nil
}

type EquipmentFilter struct {
	Search     string
	CategoryID *int32
	ActiveOnly bool
}

// Category groups equipment. Categories nest through ParentID.
type Category struct {
	ID       int32  `json:"id"`
	Name     string `json:"name"`
	ParentID *int32 `json:"parent_id,omitempty"`
	FullName string `json:"full_name"`
}

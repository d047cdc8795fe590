package domain

import "time"

type HistoryStatus string

const (
	HistoryReserved  HistoryStatus = "reserved"
	HistoryRented    HistoryStatus = "rented"
	HistoryReturned  HistoryStatus = "returned"
	HistoryAvailable HistoryStatus = "available"
	HistoryDamaged   HistoryStatus = "damaged"
	HistoryRepairing HistoryStatus = "repairing"
	HistoryRepaired  HistoryStatus = "repaired"
	HistoryDisposed  HistoryStatus = "disposed"
)

// HistoryStatusFor maps a resulting unit status to the audit status recorded for it.
// A unit coming back to available from repair is recorded as repaired.
func HistoryStatusFor(from, to UnitStatus) HistoryStatus {
	if to == UnitStatusAvailable && (from == UnitStatusRepairing || from == UnitStatusDamaged) {
		return HistoryRepaired
	}
	return HistoryStatus(to)
}

type DamageSeverity string

const (
	SeverityMinor    DamageSeverity = "minor"
	SeverityModerate DamageSeverity = "moderate"
	SeveritySevere   DamageSeverity = "severe"
)

// StatusHistoryEntry is an append-only audit record of one unit status change.
type StatusHistoryEntry struct {
	ID                 int32          `json:"id"`
	ProjectID          *int32         `json:"project_id,omitempty"`
	EquipmentID        int32          `json:"equipment_id"`
	UnitID             *int32         `json:"unit_id,omitempty"`
	Quantity           int            `json:"quantity"`
	Status             HistoryStatus  `json:"status"`
	Notes              string         `json:"notes,omitempty"`
	ActingUser         string         `json:"acting_user"`
	PhotoRefs          []string       `json:"photo_refs,omitempty"`
	DamageDescription  string         `json:"damage_description,omitempty"`
	DamageSeverity     DamageSeverity `json:"damage_severity,omitempty"`
	RepairCostEstimate float64        `json:"repair_cost_estimate,omitempty"`
	CreatedOn          time.Time      `json:"created_on"`
}

type ScanType string

const (
	ScanAddToProject ScanType = "add_to_project"
	ScanHandover     ScanType = "handover"
	ScanReturn       ScanType = "return"
	ScanDamaged      ScanType = "damaged"
	ScanRepair       ScanType = "repair"
	ScanVerify       ScanType = "verify"
	ScanOther        ScanType = "other"
)

// ScanLog records one scan of a unit's identifier.
type ScanLog struct {
	ID             int32      `json:"id"`
	UnitID         int32      `json:"unit_id"`
	ScanType       ScanType   `json:"scan_type"`
	ActingUser     string     `json:"acting_user"`
	ProjectID      *int32     `json:"project_id,omitempty"`
	Location       string     `json:"location,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	PreviousStatus UnitStatus `json:"previous_status"`
	NewStatus      UnitStatus `json:"new_status"`
	ScannedAt      time.Time  `json:"scanned_at"`
}

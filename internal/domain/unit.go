package domain

import (
	"fmt"
	"strings"
	"time"
)

type UnitStatus string

const (
	UnitStatusAvailable UnitStatus = "available"
	UnitStatusReserved  UnitStatus = "reserved"
	UnitStatusRented    UnitStatus = "rented"
	UnitStatusReturned  UnitStatus = "returned"
	UnitStatusDamaged   UnitStatus = "damaged"
	UnitStatusRepairing UnitStatus = "repairing"
	UnitStatusDisposed  UnitStatus = "disposed"
)

var unitStatusLabels = map[UnitStatus]string{
	UnitStatusAvailable: "Available",
	UnitStatusReserved:  "Reserved",
	UnitStatusRented:    "Rented",
	UnitStatusReturned:  "Returned",
	UnitStatusDamaged:   "Damaged",
	UnitStatusRepairing: "Under Repair",
	UnitStatusDisposed:  "Disposed",
}

// unitTransitions lists the non-administrative moves. Moving to available is handled
// separately in CanTransition.
var unitTransitions = map[UnitStatus][]UnitStatus{
	UnitStatusAvailable: {UnitStatusReserved},
	UnitStatusReserved:  {UnitStatusRented},
	UnitStatusRented:    {UnitStatusReturned, UnitStatusDamaged, UnitStatusRepairing, UnitStatusDisposed},
	UnitStatusReturned:  {},
	UnitStatusDamaged:   {UnitStatusRepairing, UnitStatusDisposed},
	UnitStatusRepairing: {UnitStatusDisposed},
	UnitStatusDisposed:  {},
}

// Label returns the display label for the status.
func (s UnitStatus) Label() string {
	if l, ok := unitStatusLabels[s]; ok {
		return l
	}
	return string(s)
}

func (s UnitStatus) Valid() bool {
	_, ok := unitStatusLabels[s]
	return ok
}

// RequiresProject reports whether a unit in this status must be linked to a project.
func (s UnitStatus) RequiresProject() bool {
	return s == UnitStatusReserved || s == UnitStatusRented
}

// CanTransition reports whether a unit may move from one status to another.
// Any non-disposed unit may be set back to available by an explicit action.
func CanTransition(from, to UnitStatus) bool {
	if from == to {
		return false
	}
	if to == UnitStatusAvailable {
		return from != UnitStatusDisposed
	}
	for _, allowed := range unitTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Unit is one physical, serialized rental item.
type Unit struct {
	ID               int32      `json:"id"`
	EquipmentID      int32      `json:"equipment_id"`
	SerialNumber     string     `json:"serial_number"`
	Sequence         int32      `json:"sequence"`
	Status           UnitStatus `json:"status"`
	ProjectID        *int32     `json:"project_id,omitempty"`
	Active           bool       `json:"active"`
	ActualPickupDate *time.Time `json:"actual_pickup_date,omitempty"`
	ActualReturnDate *time.Time `json:"actual_return_date,omitempty"`
	IdentifierImage  []byte     `json:"-"`
	Notes            string     `json:"notes,omitempty"`
	CreatedOn        time.Time  `json:"created_on"`
	UpdatedOn        time.Time  `json:"updated_on"`
}

// Validate enforces the status/project link invariant.
func (u *Unit) Validate() error {
	if strings.TrimSpace(u.SerialNumber) == "" {
		return NewValidationError("SERIAL_REQUIRED", "Serial number is required.")
	}
	if !u.Status.Valid() {
		return NewValidationError("INVALID_STATUS", "Serial %s has unknown status %q.", u.SerialNumber, u.Status)
	}
	if u.Status.RequiresProject() && u.ProjectID == nil {
		return NewValidationError("STATUS_PROJECT_MISMATCH",
			"Serial %s is marked as %s but not assigned to any project.", u.SerialNumber, u.Status.Label())
	}
	if !u.Status.RequiresProject() && u.ProjectID != nil {
		return NewValidationError("STATUS_PROJECT_MISMATCH",
			"Serial %s is marked as %s but is still assigned to project %d.", u.SerialNumber, u.Status.Label(), *u.ProjectID)
	}
	return nil
}

// HasImage reports whether an identifier image has been rendered for the unit.
func (u *Unit) HasImage() bool {
	return len(u.IdentifierImage) > 0
}

// IdentifierFilename is the file name used when the identifier image is published.
func (u *Unit) IdentifierFilename() string {
	return IdentifierFilename(u.SerialNumber)
}

func IdentifierFilename(serial string) string {
	r := strings.NewReplacer("/", "-", " ", "_")
	return fmt.Sprintf("QR_%s.png", r.Replace(serial))
}

// RentalDays is the inclusive day count from pickup to return, or to today while still out.
func (u *Unit) RentalDays(today time.Time) int {
	if u.ActualPickupDate == nil {
		return 0
	}
	end := today
	if u.ActualReturnDate != nil {
		end = *u.ActualReturnDate
	}
	days := DaysBetween(*u.ActualPickupDate, end) + 1
	if days < 0 {
		return 0
	}
	return days
}

func (u *Unit) DisplayName(equipmentName string) string {
	if equipmentName == "" {
		return fmt.Sprintf("%s (%s)", u.SerialNumber, u.Status.Label())
	}
	return fmt.Sprintf("[%s] %s (%s)", equipmentName, u.SerialNumber, u.Status.Label())
}

// UnitFilter narrows unit queries. Zero values mean "no constraint".
type UnitFilter struct {
	EquipmentID  *int32
	ProjectID    *int32
	Statuses     []UnitStatus
	ActiveOnly   bool
	MissingImage bool
	Limit        int
}

// UnitAction is an explicit administrative action on a single unit.
type UnitAction string

const (
	UnitActionSetAvailable UnitAction = "set_available"
	UnitActionRelease      UnitAction = "release"
	UnitActionDamaged      UnitAction = "set_damaged"
	UnitActionRepairing    UnitAction = "set_repairing"
	UnitActionDisposed     UnitAction = "set_disposed"
)

// Target returns the status the action moves a unit to.
func (a UnitAction) Target() (UnitStatus, bool) {
	switch a {
	case UnitActionSetAvailable, UnitActionRelease:
		return UnitStatusAvailable, true
	case UnitActionDamaged:
		return UnitStatusDamaged, true
	case UnitActionRepairing:
		return UnitStatusRepairing, true
	case UnitActionDisposed:
		return UnitStatusDisposed, true
	}
	return "", false
}

// DaysBetween returns the number of calendar days from a to b (negative when b is before a).
func DaysBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

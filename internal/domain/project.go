package domain

import (
	"time"
)

type ProjectState string

const (
	ProjectStateDraft     ProjectState = "draft"
	ProjectStateReserved  ProjectState = "reserved"
	ProjectStateOngoing   ProjectState = "ongoing"
	ProjectStateReturned  ProjectState = "returned"
	ProjectStateInvoiced  ProjectState = "invoiced"
	ProjectStateCancelled ProjectState = "cancelled"
)

var projectStateLabels = map[ProjectState]string{
	ProjectStateDraft:     "Draft",
	ProjectStateReserved:  "Reserved",
	ProjectStateOngoing:   "Ongoing",
	ProjectStateReturned:  "Returned",
	ProjectStateInvoiced:  "Invoiced",
	ProjectStateCancelled: "Cancelled",
}

func (s ProjectState) Label() string {
	if l, ok := projectStateLabels[s]; ok {
		return l
	}
	return string(s)
}

// RequiresFullAssignment reports whether line items must have exactly quantity units assigned.
func (s ProjectState) RequiresFullAssignment() bool {
	return s != ProjectStateDraft && s != ProjectStateCancelled
}

type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

// Project is one customer booking over [StartDate, EndDate].
type Project struct {
	ID               int32         `json:"id"`
	Number           string        `json:"number"`
	Reference        string        `json:"reference,omitempty"`
	CustomerName     string        `json:"customer_name"`
	State            ProjectState  `json:"state"`
	StartDate        time.Time     `json:"start_date"`
	EndDate          time.Time     `json:"end_date"`
	ActualReturnDate *time.Time    `json:"actual_return_date,omitempty"`
	DurationDays     int           `json:"duration_days"`
	IsOverdue        bool          `json:"is_overdue"`
	DaysOverdue      int           `json:"days_overdue"`
	TotalAmount      float64       `json:"total_amount"`
	LateFeeEnabled   bool          `json:"late_fee_enabled"`
	LateFee          float64       `json:"late_fee"`
	DamageFee        float64       `json:"damage_fee"`
	HasDamage        bool          `json:"has_damage"`
	Discount         float64       `json:"discount"`
	GrandTotal       float64       `json:"grand_total"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	InvoiceRef       *string       `json:"invoice_ref,omitempty"`
	PickupSignature  string        `json:"pickup_signature,omitempty"`
	PickupSignedAt   *time.Time    `json:"pickup_signed_at,omitempty"`
	ReturnSignature  string        `json:"return_signature,omitempty"`
	ReturnSignedAt   *time.Time    `json:"return_signed_at,omitempty"`
	PhotoRefs        []string      `json:"photo_refs,omitempty"`
	InternalNotes    string        `json:"internal_notes,omitempty"`
	LineItems        []LineItem    `json:"line_items,omitempty"`
	CreatedOn        time.Time     `json:"created_on"`
	UpdatedOn        time.Time     `json:"updated_on"`
}

func (p *Project) Validate() error {
	if p.CustomerName == "" {
		return NewValidationError("CUSTOMER_REQUIRED", "Customer is required.")
	}
	if p.StartDate.IsZero() || p.EndDate.IsZero() {
		return NewValidationError("DATES_REQUIRED", "Start and end dates are required.")
	}
	if DateOnly(p.EndDate).Before(DateOnly(p.StartDate)) {
		return NewValidationError("END_BEFORE_START", "End date must be after start date.")
	}
	if p.Discount < 0 {
		return NewValidationError("NEGATIVE_DISCOUNT", "Discount cannot be negative.")
	}
	return nil
}

// AllUnitIDs returns every unit assigned across the project's line items.
func (p *Project) AllUnitIDs() []int32 {
	var ids []int32
	for _, li := range p.LineItems {
		ids = append(ids, li.UnitIDs...)
	}
	return ids
}

type ProjectFilter struct {
	States   []ProjectState
	Customer string
	Page     int32
	PageSize int32
}

// LineItem requests a quantity of one equipment type within a project.
type LineItem struct {
	ID            int32   `json:"id"`
	ProjectID     int32   `json:"project_id"`
	EquipmentID   int32   `json:"equipment_id"`
	EquipmentName string  `json:"equipment_name"`
	Quantity      int     `json:"quantity"`
	UnitPrice     float64 `json:"unit_price"`
	Subtotal      float64 `json:"subtotal"`
	UnitIDs       []int32 `json:"unit_ids"`
}

func (li *LineItem) Validate() error {
	if li.Quantity <= 0 {
		return NewValidationError("QUANTITY_POSITIVE", "Quantity must be greater than zero.")
	}
	return nil
}

// ValidateAssignment checks the assigned unit count once the project has left draft.
func (li *LineItem) ValidateAssignment(state ProjectState) error {
	if state.RequiresFullAssignment() && len(li.UnitIDs) != li.Quantity {
		return NewValidationError("ASSIGNMENT_MISMATCH",
			"Number of assigned serials (%d) must match quantity (%d) for %s.", len(li.UnitIDs), li.Quantity, li.EquipmentName)
	}
	return nil
}

func (li *LineItem) HasUnit(id int32) bool {
	for _, uid := range li.UnitIDs {
		if uid == id {
			return true
		}
	}
	return false
}

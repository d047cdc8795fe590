package service

import (
	"context"
	"time"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/repository"
)

type EquipmentService interface {
	CreateEquipment(ctx context.Context, e *domain.Equipment) error
	UpdateEquipment(ctx context.Context, e *domain.Equipment) error
	GetEquipment(ctx context.Context, id int32) (*domain.Equipment, error)
	ListEquipment(ctx context.Context, filter domain.EquipmentFilter) ([]domain.Equipment, error)
	StockCounts(ctx context.Context, equipmentID int32) (domain.StockCounts, error)
	CheckAvailability(ctx context.Context, equipmentID int32, quantity int) (bool, domain.StockCounts, error)
	CreateCategory(ctx context.Context, c *domain.Category) error
	UpdateCategory(ctx context.Context, c *domain.Category) error
	ListCategories(ctx context.Context) ([]domain.Category, error)
}

type UnitService interface {
	CreateUnit(ctx context.Context, u *domain.Unit, actingUser string) error
	GetUnit(ctx context.Context, id int32) (*UnitDetail, error)
	RenameUnit(ctx context.Context, id int32, serial string) (*domain.Unit, error)
	ApplyAction(ctx context.Context, id int32, action domain.UnitAction, actingUser, notes string) (*domain.Unit, error)
	Deactivate(ctx context.Context, id int32) error
	DeleteUnit(ctx context.Context, id int32) error
	SmartDelete(ctx context.Context, id int32, confirmed bool) (*DeleteOutcome, error)
	History(ctx context.Context, id int32) ([]domain.StatusHistoryEntry, error)
	RegenerateIdentifiers(ctx context.Context, filter domain.UnitFilter) (*BatchResult, error)
	AuditConsistency(ctx context.Context) ([]ConsistencyIssue, error)
}

type ProjectService interface {
	CreateProject(ctx context.Context, p *domain.Project) error
	UpdateProject(ctx context.Context, p *domain.Project) (*domain.Project, error)
	GetProject(ctx context.Context, id int32) (*domain.Project, error)
	ListProjects(ctx context.Context, filter domain.ProjectFilter) ([]domain.Project, int32, error)
	AddLineItem(ctx context.Context, projectID, equipmentID int32, quantity int) (*domain.LineItem, error)
	UpdateLineQuantity(ctx context.Context, projectID, lineID int32, quantity int) (*domain.LineItem, error)
	RemoveLineItem(ctx context.Context, projectID, lineID int32) error
	SelectUnits(ctx context.Context, projectID, lineID int32, unitIDs []int32) (*domain.LineItem, error)
	Reserve(ctx context.Context, id int32, actingUser string) (*domain.Project, error)
	Start(ctx context.Context, id int32, actingUser, signature string) (*domain.Project, error)
	Pickup(ctx context.Context, id int32, unitIDs []int32, pickupDate time.Time, actingUser string) (*domain.Project, error)
	Cancel(ctx context.Context, id int32, actingUser string) (*domain.Project, error)
	ResetToDraft(ctx context.Context, id int32, actingUser string) (*domain.Project, error)
	CreateInvoice(ctx context.Context, id int32) (*domain.Project, error)
	RefreshOverdue(ctx context.Context) (int, error)
}

type ReturnService interface {
	// Begin opens an assessment with one line per rented unit, all in good condition.
	Begin(ctx context.Context, projectID int32) (*ReturnSession, error)
	Commit(ctx context.Context, session *ReturnSession, actingUser string) (*domain.Project, error)
	PartialReturn(ctx context.Context, projectID int32, lines []ReturnLine, returnDate time.Time, actingUser string) (*domain.Project, error)
}

type ScanService interface {
	LookupSerial(ctx context.Context, serial string) (*UnitDetail, error)
	QuickRent(ctx context.Context, req QuickRentRequest) (*UnitDetail, error)
	QuickReturn(ctx context.Context, req QuickReturnRequest) (*UnitDetail, error)
	RecordScan(ctx context.Context, serial string, scanType domain.ScanType, actingUser, location, notes string) error
}

type BulkSerialService interface {
	Preview(ctx context.Context, req BulkSerialRequest) ([]string, error)
	Generate(ctx context.Context, req BulkSerialRequest) (*BatchResult, error)
}

type ReportService interface {
	UnitRegister(ctx context.Context, equipmentID *int32) ([]byte, error)
	LabelSheet(ctx context.Context, equipmentID int32) ([]byte, error)
}

type AuthService interface {
	IssueAPIKey(ctx context.Context, name, actingUser string) (string, *domain.APIKey, error)
	Authenticate(ctx context.Context, rawKey string) (*domain.APIKey, error)
	ExchangeToken(ctx context.Context, rawKey string) (string, time.Time, error)
}

// IdentifierRenderer draws the scannable image for a serial.
type IdentifierRenderer interface {
	Generate(data string, logo []byte, size int) ([]byte, error)
}

// InvoicingClient books an invoice and returns its reference.
type InvoicingClient interface {
	CreateInvoice(ctx context.Context, customer string, date time.Time, origin string, lines []domain.InvoiceLine) (string, error)
}

type FollowUp struct {
	ProjectID *int32
	Subject   string
	Summary   string
	Note      string
	Assignee  string
}

// ActivityScheduler records follow-up work. Callers do not wait on or inspect the outcome.
type ActivityScheduler interface {
	ScheduleFollowUp(ctx context.Context, f FollowUp)
}

// IdentifierPublisher copies rendered identifier images to object storage.
type IdentifierPublisher interface {
	Publish(ctx context.Context, u *domain.Unit) error
}

// AvailabilityCache caches stock counts per equipment.
type AvailabilityCache interface {
	Get(ctx context.Context, equipmentID int32) (domain.StockCounts, bool)
	Set(ctx context.Context, equipmentID int32, counts domain.StockCounts)
	Invalidate(ctx context.Context, equipmentIDs ...int32)
}

// Deps are the collaborators shared by the rental services. Only Store is required.
type Deps struct {
	Store      repository.Store
	Settings   Settings
	Renderer   IdentifierRenderer
	Logo       []byte
	Invoicing  InvoicingClient
	Activities ActivityScheduler
	Publisher  IdentifierPublisher
	Cache      AvailabilityCache
	Now        func() time.Time
}

func (d Deps) today() time.Time {
	if d.Now != nil {
		return domain.DateOnly(d.Now())
	}
	return domain.DateOnly(time.Now())
}

type UnitDetail struct {
	Unit          domain.Unit      `json:"unit"`
	EquipmentName string           `json:"equipment_name"`
	DisplayName   string           `json:"display_name"`
	StatusLabel   string           `json:"status_label"`
	ProjectNumber string           `json:"project_number,omitempty"`
	RentalDays    int              `json:"rental_days"`
	RentalCharge  float64          `json:"rental_charge"`
	Filename      string           `json:"identifier_filename"`
	RecentScans   []domain.ScanLog `json:"recent_scans,omitempty"`
}

type DeleteOutcome struct {
	Deleted              bool   `json:"deleted"`
	Deactivated          bool   `json:"deactivated"`
	ConfirmationRequired bool   `json:"confirmation_required"`
	Message              string `json:"message"`
}

type ItemFailure struct {
	Item  string `json:"item"`
	Error string `json:"error"`
}

// BatchResult reports a batched operation. Successful batches stay committed when others fail.
type BatchResult struct {
	Succeeded []string      `json:"succeeded"`
	Skipped   []string      `json:"skipped,omitempty"`
	Failed    []ItemFailure `json:"failed,omitempty"`
}

type ConsistencyIssue struct {
	UnitID       int32  `json:"unit_id"`
	SerialNumber string `json:"serial_number"`
	Message      string `json:"message"`
}

type ReturnLine struct {
	UnitID        int32                  `json:"unit_id"`
	SerialNumber  string                 `json:"serial_number"`
	EquipmentName string                 `json:"equipment_name"`
	Condition     domain.ReturnCondition `json:"condition"`
	SuggestedFee  float64                `json:"suggested_fee"`
	// DamageFee overrides the suggestion when set.
	DamageFee   *float64 `json:"damage_fee,omitempty"`
	DamageNotes string   `json:"damage_notes,omitempty"`
	PhotoRefs   []string `json:"photo_refs,omitempty"`
}

type ReturnSession struct {
	ProjectID     int32        `json:"project_id"`
	ProjectNumber string       `json:"project_number"`
	ReturnDate    time.Time    `json:"return_date"`
	Signature     string       `json:"signature,omitempty"`
	Lines         []ReturnLine `json:"lines"`
}

type QuickRentRequest struct {
	Serial     string
	ProjectID  int32
	ActingUser string
	Location   string
}

type QuickReturnRequest struct {
	Serial      string
	Condition   domain.ReturnCondition
	ActingUser  string
	Location    string
	Notes       string
	DamageFee   *float64
	DamageNotes string
}

type BulkSerialRequest struct {
	EquipmentID int32  `json:"equipment_id"`
	Quantity    int    `json:"quantity"`
	Prefix      string `json:"prefix,omitempty"`
	// StartNumber defaults to the equipment's unit count + 1.
	StartNumber int `json:"start_number,omitempty"`
}

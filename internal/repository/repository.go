package repository

import (
	"context"

	"equiprent-backend/internal/domain"
)

type EquipmentRepository interface {
	Create(ctx context.Context, e *domain.Equipment) error
	GetByID(ctx context.Context, id int32) (*domain.Equipment, error)
	// LockByID takes a row lock on the equipment for the rest of the transaction.
	LockByID(ctx context.Context, id int32) (*domain.Equipment, error)
	Update(ctx context.Context, e *domain.Equipment) error
	List(ctx context.Context, filter domain.EquipmentFilter) ([]domain.Equipment, error)
	StockCounts(ctx context.Context, equipmentID int32) (domain.StockCounts, error)
}

type CategoryRepository interface {
	Create(ctx context.Context, c *domain.Category) error
	GetByID(ctx context.Context, id int32) (*domain.Category, error)
	Update(ctx context.Context, c *domain.Category) error
	List(ctx context.Context) ([]domain.Category, error)
}

type UnitRepository interface {
	Create(ctx context.Context, u *domain.Unit) error
	GetByID(ctx context.Context, id int32) (*domain.Unit, error)
	GetBySerial(ctx context.Context, serial string) (*domain.Unit, error)
	Update(ctx context.Context, u *domain.Unit) error
	// UpdateIdentifierImage writes the identifier image only, leaving status and project link untouched.
	UpdateIdentifierImage(ctx context.Context, id int32, img []byte) error
	Delete(ctx context.Context, id int32) error
	List(ctx context.Context, filter domain.UnitFilter) ([]domain.Unit, error)
	ListByIDs(ctx context.Context, ids []int32) ([]domain.Unit, error)
	// LockByIDs locks and returns the given units in sequence order.
	LockByIDs(ctx context.Context, ids []int32) ([]domain.Unit, error)
	// LockAvailable locks up to limit available units of the equipment in sequence order,
	// skipping rows already locked by another transaction.
	LockAvailable(ctx context.Context, equipmentID int32, excludeIDs []int32, limit int) ([]domain.Unit, error)
	SerialExists(ctx context.Context, serial string) (bool, error)
	CountByEquipment(ctx context.Context, equipmentID int32) (int, error)
}

type ProjectRepository interface {
	Create(ctx context.Context, p *domain.Project) error
	GetByID(ctx context.Context, id int32) (*domain.Project, error)
	LockByID(ctx context.Context, id int32) (*domain.Project, error)
	Update(ctx context.Context, p *domain.Project) error
	List(ctx context.Context, filter domain.ProjectFilter) ([]domain.Project, int32, error)
}

type LineItemRepository interface {
	Create(ctx context.Context, li *domain.LineItem) error
	GetByID(ctx context.Context, id int32) (*domain.LineItem, error)
	Update(ctx context.Context, li *domain.LineItem) error
	Delete(ctx context.Context, id int32) error
	ListByProject(ctx context.Context, projectID int32) ([]domain.LineItem, error)
	// SetUnits replaces the assigned unit set of the line item.
	SetUnits(ctx context.Context, lineItemID int32, unitIDs []int32) error
}

type StatusHistoryRepository interface {
	Create(ctx context.Context, e *domain.StatusHistoryEntry) error
	ListByUnit(ctx context.Context, unitID int32) ([]domain.StatusHistoryEntry, error)
	ListByProject(ctx context.Context, projectID int32) ([]domain.StatusHistoryEntry, error)
	CountByUnit(ctx context.Context, unitID int32) (int, error)
}

type ScanLogRepository interface {
	Create(ctx context.Context, s *domain.ScanLog) error
	ListByUnit(ctx context.Context, unitID int32, limit int) ([]domain.ScanLog, error)
}

type SequenceRepository interface {
	// Next returns the next value of the named counter, starting at 1.
	Next(ctx context.Context, code string) (int64, error)
}

type InvoiceRepository interface {
	Create(ctx context.Context, inv *domain.Invoice) error
	GetByReference(ctx context.Context, ref string) (*domain.Invoice, error)
}

type ActivityRepository interface {
	Create(ctx context.Context, a *domain.Activity) error
	List(ctx context.Context, projectID *int32, limit, offset int32) ([]domain.Activity, int32, error)
}

type APIKeyRepository interface {
	Create(ctx context.Context, k *domain.APIKey) error
	GetByPrefix(ctx context.Context, prefix string) (*domain.APIKey, error)
	TouchLastUsed(ctx context.Context, id int32) error
}

// Repositories bundles every repository bound to one executor (a pool or a transaction).
type Repositories struct {
	Equipment  EquipmentRepository
	Categories CategoryRepository
	Units      UnitRepository
	Projects   ProjectRepository
	LineItems  LineItemRepository
	History    StatusHistoryRepository
	ScanLogs   ScanLogRepository
	Sequences  SequenceRepository
	Invoices   InvoiceRepository
	Activities ActivityRepository
	APIKeys    APIKeyRepository
}

// Store hands out repositories and runs units of work atomically.
type Store interface {
	Repos() Repositories
	// WithinTx runs fn inside one transaction. The transaction commits when fn returns nil
	// and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, r Repositories) error) error
}

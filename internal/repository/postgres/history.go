package postgres

import (
	"context"
	"time"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/repository"

	"github.com/lib/pq"
)

const historyColumns = `id, project_id, equipment_id, unit_id, quantity, status, notes, acting_user, photo_refs,
	damage_description, damage_severity, repair_cost_estimate, created_on`

type statusHistoryRepository struct {
	db DBTX
}

func NewStatusHistoryRepository(db DBTX) repository.StatusHistoryRepository {
	return &statusHistoryRepository{db: db}
}

func (r *statusHistoryRepository) Create(ctx context.Context, e *domain.StatusHistoryEntry) error {
	query := `INSERT INTO status_history (project_id, equipment_id, unit_id, quantity, status, notes, acting_user, photo_refs,
	          damage_description, damage_severity, repair_cost_estimate, created_on)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`
	if e.CreatedOn.IsZero() {
		e.CreatedOn = time.Now()
	}
	photos := e.PhotoRefs
	if photos == nil {
		photos = []string{}
	}
	return r.db.QueryRowContext(ctx, query, e.ProjectID, e.EquipmentID, e.UnitID, e.Quantity, e.Status, e.Notes, e.ActingUser,
		pq.Array(photos), e.DamageDescription, e.DamageSeverity, e.RepairCostEstimate, e.CreatedOn).Scan(&e.ID)
}

func (r *statusHistoryRepository) list(ctx context.Context, query string, arg any) ([]domain.StatusHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.StatusHistoryEntry
	for rows.Next() {
		var e domain.StatusHistoryEntry
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.EquipmentID, &e.UnitID, &e.Quantity, &e.Status, &e.Notes, &e.ActingUser,
			pq.Array(&e.PhotoRefs), &e.DamageDescription, &e.DamageSeverity, &e.RepairCostEstimate, &e.CreatedOn); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *statusHistoryRepository) ListByUnit(ctx context.Context, unitID int32) ([]domain.StatusHistoryEntry, error) {
	return r.list(ctx, `SELECT `+historyColumns+` FROM status_history WHERE unit_id = $1 ORDER BY created_on, id`, unitID)
}

func (r *statusHistoryRepository) ListByProject(ctx context.Context, projectID int32) ([]domain.StatusHistoryEntry, error) {
	return r.list(ctx, `SELECT `+historyColumns+` FROM status_history WHERE project_id = $1 ORDER BY created_on, id`, projectID)
}

func (r *statusHistoryRepository) CountByUnit(ctx context.Context, unitID int32) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM status_history WHERE unit_id = $1`, unitID).Scan(&n)
	return n, err
}

type scanLogRepository struct {
	db DBTX
}

func NewScanLogRepository(db DBTX) repository.ScanLogRepository {
	return &scanLogRepository{db: db}
}

func (r *scanLogRepository) Create(ctx context.Context, s *domain.ScanLog) error {
	query := `INSERT INTO scan_logs (unit_id, scan_type, acting_user, project_id, location, notes, previous_status, new_status, scanned_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
	if s.ScannedAt.IsZero() {
		s.ScannedAt = time.Now()
	}
	return r.db.QueryRowContext(ctx, query, s.UnitID, s.ScanType, s.ActingUser, s.ProjectID, s.Location, s.Notes,
		s.PreviousStatus, s.NewStatus, s.ScannedAt).Scan(&s.ID)
}

func (r *scanLogRepository) ListByUnit(ctx context.Context, unitID int32, limit int) ([]domain.ScanLog, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, unit_id, scan_type, acting_user, project_id, location, notes, previous_status, new_status, scanned_at
	          FROM scan_logs WHERE unit_id = $1 ORDER BY scanned_at DESC, id DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, unitID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []domain.ScanLog
	for rows.Next() {
		var s domain.ScanLog
		if err := rows.Scan(&s.ID, &s.UnitID, &s.ScanType, &s.ActingUser, &s.ProjectID, &s.Location, &s.Notes,
			&s.PreviousStatus, &s.NewStatus, &s.ScannedAt); err != nil {
			return nil, err
		}
		logs = append(logs, s)
	}
	return logs, rows.Err()
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/logger"
	"equiprent-backend/internal/repository"

	"github.com/lib/pq"
)

const unitColumns = `id, equipment_id, serial_number, sequence, status, project_id, active, actual_pickup_date,
	actual_return_date, identifier_image, notes, created_on, updated_on`

type unitRepository struct {
	db DBTX
}

func NewUnitRepository(db DBTX) repository.UnitRepository {
	return &unitRepository{db: db}
}

func scanUnit(row rowScanner) (*domain.Unit, error) {
	u := &domain.Unit{}
	err := row.Scan(&u.ID, &u.EquipmentID, &u.SerialNumber, &u.Sequence, &u.Status, &u.ProjectID, &u.Active,
		&u.ActualPickupDate, &u.ActualReturnDate, &u.IdentifierImage, &u.Notes, &u.CreatedOn, &u.UpdatedOn)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (r *unitRepository) collect(ctx context.Context, query string, args ...any) ([]domain.Unit, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []domain.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, *u)
	}
	return units, rows.Err()
}

func (r *unitRepository) Create(ctx context.Context, u *domain.Unit) error {
	query := `INSERT INTO units (equipment_id, serial_number, sequence, status, project_id, active, identifier_image, notes, created_on, updated_on)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`
	now := time.Now()
	u.CreatedOn, u.UpdatedOn = now, now
	err := r.db.QueryRowContext(ctx, query, u.EquipmentID, u.SerialNumber, u.Sequence, u.Status, u.ProjectID, u.Active,
		u.IdentifierImage, u.Notes, now, now).Scan(&u.ID)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return domain.NewValidationError("SERIAL_DUPLICATE", "Serial number %s already exists.", u.SerialNumber)
	}
	return err
}

func (r *unitRepository) GetByID(ctx context.Context, id int32) (*domain.Unit, error) {
	u, err := scanUnit(r.db.QueryRowContext(ctx, `SELECT `+unitColumns+` FROM units WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("serial", id)
	}
	return u, err
}

func (r *unitRepository) GetBySerial(ctx context.Context, serial string) (*domain.Unit, error) {
	u, err := scanUnit(r.db.QueryRowContext(ctx, `SELECT `+unitColumns+` FROM units WHERE serial_number = $1`, serial))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("serial", serial)
	}
	return u, err
}

func (r *unitRepository) Update(ctx context.Context, u *domain.Unit) error {
	query := `UPDATE units SET serial_number=$1, sequence=$2, status=$3, project_id=$4, active=$5, actual_pickup_date=$6,
	          actual_return_date=$7, identifier_image=$8, notes=$9, updated_on=$10 WHERE id=$11`
	u.UpdatedOn = time.Now()
	logger.DatabaseCall("UPDATE", "units", "unit_id", u.ID, "status", u.Status)
	res, err := r.db.ExecContext(ctx, query, u.SerialNumber, u.Sequence, u.Status, u.ProjectID, u.Active, u.ActualPickupDate,
		u.ActualReturnDate, u.IdentifierImage, u.Notes, u.UpdatedOn, u.ID)
	if err != nil {
		logger.DatabaseResult("UPDATE", 0, err)
		return err
	}
	n, _ := res.RowsAffected()
	logger.DatabaseResult("UPDATE", n, nil)
	if n == 0 {
		return domain.NewNotFoundError("serial", u.ID)
	}
	return nil
}

func (r *unitRepository) UpdateIdentifierImage(ctx context.Context, id int32, img []byte) error {
	logger.DatabaseCall("UPDATE", "units", "unit_id", id, "column", "identifier_image")
	res, err := r.db.ExecContext(ctx, `UPDATE units SET identifier_image=$1, updated_on=$2 WHERE id=$3`, img, time.Now(), id)
	if err != nil {
		logger.DatabaseResult("UPDATE", 0, err)
		return err
	}
	n, _ := res.RowsAffected()
	logger.DatabaseResult("UPDATE", n, nil)
	if n == 0 {
		return domain.NewNotFoundError("serial", id)
	}
	return nil
}

func (r *unitRepository) Delete(ctx context.Context, id int32) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM units WHERE id = $1`, id)
	return err
}

func (r *unitRepository) List(ctx context.Context, filter domain.UnitFilter) ([]domain.Unit, error) {
	query := `SELECT ` + unitColumns + ` FROM units WHERE 1=1`
	var args []any
	if filter.EquipmentID != nil {
		args = append(args, *filter.EquipmentID)
		query += fmt.Sprintf(" AND equipment_id = $%d", len(args))
	}
	if filter.ProjectID != nil {
		args = append(args, *filter.ProjectID)
		query += fmt.Sprintf(" AND project_id = $%d", len(args))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, pq.Array(statuses))
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	if filter.ActiveOnly {
		query += " AND active"
	}
	if filter.MissingImage {
		query += " AND identifier_image IS NULL"
	}
	query += " ORDER BY equipment_id, sequence, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return r.collect(ctx, query, args...)
}

func (r *unitRepository) ListByIDs(ctx context.Context, ids []int32) ([]domain.Unit, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.collect(ctx, `SELECT `+unitColumns+` FROM units WHERE id = ANY($1) ORDER BY sequence, id`, pq.Array(ids))
}

func (r *unitRepository) LockByIDs(ctx context.Context, ids []int32) ([]domain.Unit, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.collect(ctx, `SELECT `+unitColumns+` FROM units WHERE id = ANY($1) ORDER BY sequence, id FOR UPDATE`, pq.Array(ids))
}

func (r *unitRepository) LockAvailable(ctx context.Context, equipmentID int32, excludeIDs []int32, limit int) ([]domain.Unit, error) {
	if limit <= 0 {
		return nil, nil
	}
	if excludeIDs == nil {
		excludeIDs = []int32{}
	}
	query := `SELECT ` + unitColumns + ` FROM units
	          WHERE equipment_id = $1 AND status = 'available' AND active AND NOT (id = ANY($2))
	          ORDER BY sequence, id LIMIT $3 FOR UPDATE SKIP LOCKED`
	logger.DatabaseCall("SELECT FOR UPDATE", "units", "equipment_id", equipmentID, "limit", limit)
	units, err := r.collect(ctx, query, equipmentID, pq.Array(excludeIDs), limit)
	logger.DatabaseResult("SELECT FOR UPDATE", int64(len(units)), err)
	return units, err
}

func (r *unitRepository) SerialExists(ctx context.Context, serial string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM units WHERE serial_number = $1)`, serial).Scan(&exists)
	return exists, err
}

func (r *unitRepository) CountByEquipment(ctx context.Context, equipmentID int32) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM units WHERE equipment_id = $1`, equipmentID).Scan(&n)
	return n, err
}

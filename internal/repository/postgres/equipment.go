package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/repository"
)

const equipmentColumns = `id, name, code, description, category_id, item_value, daily_rate, weekly_rate, monthly_rate,
	has_serials, auto_generate_serials, active, created_on, updated_on`

type equipmentRepository struct {
	db DBTX
}

func NewEquipmentRepository(db DBTX) repository.EquipmentRepository {
	return &equipmentRepository{db: db}
}

func scanEquipment(row rowScanner) (*domain.Equipment, error) {
	e := &domain.Equipment{}
	err := row.Scan(&e.ID, &e.Name, &e.Code, &e.Description, &e.CategoryID, &e.ItemValue, &e.DailyRate, &e.WeeklyRate,
		&e.MonthlyRate, &e.HasSerials, &e.AutoGenerateSerials, &e.Active, &e.CreatedOn, &e.UpdatedOn)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *equipmentRepository) Create(ctx context.Context, e *domain.Equipment) error {
	query := `INSERT INTO equipment (name, code, description, category_id, item_value, daily_rate, weekly_rate, monthly_rate,
	          has_serials, auto_generate_serials, active, created_on, updated_on)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`
	now := time.Now()
	e.CreatedOn, e.UpdatedOn = now, now
	return r.db.QueryRowContext(ctx, query, e.Name, e.Code, e.Description, e.CategoryID, e.ItemValue, e.DailyRate, e.WeeklyRate,
		e.MonthlyRate, e.HasSerials, e.AutoGenerateSerials, e.Active, now, now).Scan(&e.ID)
}

func (r *equipmentRepository) GetByID(ctx context.Context, id int32) (*domain.Equipment, error) {
	query := `SELECT ` + equipmentColumns + ` FROM equipment WHERE id = $1`
	e, err := scanEquipment(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("equipment", id)
	}
	return e, err
}

func (r *equipmentRepository) LockByID(ctx context.Context, id int32) (*domain.Equipment, error) {
	query := `SELECT ` + equipmentColumns + ` FROM equipment WHERE id = $1 FOR UPDATE`
	e, err := scanEquipment(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("equipment", id)
	}
	return e, err
}

func (r *equipmentRepository) Update(ctx context.Context, e *domain.Equipment) error {
	query := `UPDATE equipment SET name=$1, description=$2, category_id=$3, item_value=$4, daily_rate=$5, weekly_rate=$6,
	          monthly_rate=$7, has_serials=$8, auto_generate_serials=$9, active=$10, updated_on=$11 WHERE id=$12`
	e.UpdatedOn = time.Now()
	_, err := r.db.ExecContext(ctx, query, e.Name, e.Description, e.CategoryID, e.ItemValue, e.DailyRate, e.WeeklyRate,
		e.MonthlyRate, e.HasSerials, e.AutoGenerateSerials, e.Active, e.UpdatedOn, e.ID)
	return err
}

func (r *equipmentRepository) List(ctx context.Context, filter domain.EquipmentFilter) ([]domain.Equipment, error) {
	query := `SELECT ` + equipmentColumns + ` FROM equipment WHERE 1=1`
	var args []any
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		query += fmt.Sprintf(" AND (name ILIKE $%d OR code ILIKE $%d)", len(args), len(args))
	}
	if filter.CategoryID != nil {
		args = append(args, *filter.CategoryID)
		query += fmt.Sprintf(" AND category_id = $%d", len(args))
	}
	if filter.ActiveOnly {
		query += " AND active"
	}
	query += " ORDER BY name, id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.Equipment
	for rows.Next() {
		e, err := scanEquipment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *e)
	}
	return items, rows.Err()
}

func (r *equipmentRepository) StockCounts(ctx context.Context, equipmentID int32) (domain.StockCounts, error) {
	var c domain.StockCounts
	query := `SELECT
	            COUNT(*) FILTER (WHERE status = 'available'),
	            COUNT(*) FILTER (WHERE status = 'reserved'),
	            COUNT(*) FILTER (WHERE status = 'rented'),
	            COUNT(*)
	          FROM units WHERE equipment_id = $1 AND active`
	err := r.db.QueryRowContext(ctx, query, equipmentID).Scan(&c.Available, &c.Reserved, &c.Rented, &c.Total)
	return c, err
}

type categoryRepository struct {
	db DBTX
}

func NewCategoryRepository(db DBTX) repository.CategoryRepository {
	return &categoryRepository{db: db}
}

func (r *categoryRepository) Create(ctx context.Context, c *domain.Category) error {
	query := `INSERT INTO categories (name, parent_id) VALUES ($1, $2) RETURNING id`
	return r.db.QueryRowContext(ctx, query, c.Name, c.ParentID).Scan(&c.ID)
}

func (r *categoryRepository) GetByID(ctx context.Context, id int32) (*domain.Category, error) {
	c := &domain.Category{}
	query := `SELECT id, name, parent_id FROM categories WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Name, &c.ParentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("category", id)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *categoryRepository) Update(ctx context.Context, c *domain.Category) error {
	_, err := r.db.ExecContext(ctx, `UPDATE categories SET name=$1, parent_id=$2 WHERE id=$3`, c.Name, c.ParentID, c.ID)
	return err
}

func (r *categoryRepository) List(ctx context.Context) ([]domain.Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, parent_id FROM categories ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cats []domain.Category
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.ParentID); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

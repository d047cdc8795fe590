package postgres

import (
	"context"
	"database/sql"
	"errors"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/repository"

	"github.com/lib/pq"
)

const lineItemSelect = `SELECT li.id, li.project_id, li.equipment_id, e.name, li.quantity, li.unit_price, li.subtotal,
	COALESCE(array_agg(liu.unit_id ORDER BY liu.position) FILTER (WHERE liu.unit_id IS NOT NULL), '{}')
	FROM line_items li
	JOIN equipment e ON e.id = li.equipment_id
	LEFT JOIN line_item_units liu ON liu.line_item_id = li.id`

type lineItemRepository struct {
	db DBTX
}

func NewLineItemRepository(db DBTX) repository.LineItemRepository {
	return &lineItemRepository{db: db}
}

func scanLineItem(row rowScanner) (*domain.LineItem, error) {
	li := &domain.LineItem{}
	var unitIDs pq.Int32Array
	err := row.Scan(&li.ID, &li.ProjectID, &li.EquipmentID, &li.EquipmentName, &li.Quantity, &li.UnitPrice, &li.Subtotal, &unitIDs)
	if err != nil {
		return nil, err
	}
	li.UnitIDs = []int32(unitIDs)
	return li, nil
}

func (r *lineItemRepository) Create(ctx context.Context, li *domain.LineItem) error {
	query := `INSERT INTO line_items (project_id, equipment_id, quantity, unit_price, subtotal)
	          VALUES ($1, $2, $3, $4, $5) RETURNING id`
	if err := r.db.QueryRowContext(ctx, query, li.ProjectID, li.EquipmentID, li.Quantity, li.UnitPrice, li.Subtotal).Scan(&li.ID); err != nil {
		return err
	}
	if len(li.UnitIDs) > 0 {
		return r.SetUnits(ctx, li.ID, li.UnitIDs)
	}
	return nil
}

func (r *lineItemRepository) GetByID(ctx context.Context, id int32) (*domain.LineItem, error) {
	li, err := scanLineItem(r.db.QueryRowContext(ctx, lineItemSelect+` WHERE li.id = $1 GROUP BY li.id, e.name`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("line item", id)
	}
	return li, err
}

func (r *lineItemRepository) Update(ctx context.Context, li *domain.LineItem) error {
	query := `UPDATE line_items SET quantity=$1, unit_price=$2, subtotal=$3 WHERE id=$4`
	_, err := r.db.ExecContext(ctx, query, li.Quantity, li.UnitPrice, li.Subtotal, li.ID)
	return err
}

func (r *lineItemRepository) Delete(ctx context.Context, id int32) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM line_items WHERE id = $1`, id)
	return err
}

func (r *lineItemRepository) ListByProject(ctx context.Context, projectID int32) ([]domain.LineItem, error) {
	rows, err := r.db.QueryContext(ctx, lineItemSelect+` WHERE li.project_id = $1 GROUP BY li.id, e.name ORDER BY li.id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.LineItem
	for rows.Next() {
		li, err := scanLineItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *li)
	}
	return items, rows.Err()
}

func (r *lineItemRepository) SetUnits(ctx context.Context, lineItemID int32, unitIDs []int32) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM line_item_units WHERE line_item_id = $1`, lineItemID); err != nil {
		return err
	}
	if len(unitIDs) == 0 {
		return nil
	}
	query := `INSERT INTO line_item_units (line_item_id, unit_id, position)
	          SELECT $1, u.id, u.ord FROM unnest($2::int[]) WITH ORDINALITY AS u(id, ord)`
	_, err := r.db.ExecContext(ctx, query, lineItemID, pq.Array(unitIDs))
	return err
}

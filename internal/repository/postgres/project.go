package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/repository"

	"github.com/lib/pq"
)

const projectColumns = `id, number, reference, customer_name, state, start_date, end_date, actual_return_date,
	duration_days, is_overdue, days_overdue, total_amount, late_fee_enabled, late_fee, damage_fee, has_damage,
	discount, grand_total, payment_status, invoice_ref, pickup_signature, pickup_signed_at, return_signature,
	return_signed_at, photo_refs, internal_notes, created_on, updated_on`

type projectRepository struct {
	db DBTX
}

func NewProjectRepository(db DBTX) repository.ProjectRepository {
	return &projectRepository{db: db}
}

func scanProject(row rowScanner) (*domain.Project, error) {
	p := &domain.Project{}
	err := row.Scan(&p.ID, &p.Number, &p.Reference, &p.CustomerName, &p.State, &p.StartDate, &p.EndDate, &p.ActualReturnDate,
		&p.DurationDays, &p.IsOverdue, &p.DaysOverdue, &p.TotalAmount, &p.LateFeeEnabled, &p.LateFee, &p.DamageFee, &p.HasDamage,
		&p.Discount, &p.GrandTotal, &p.PaymentStatus, &p.InvoiceRef, &p.PickupSignature, &p.PickupSignedAt, &p.ReturnSignature,
		&p.ReturnSignedAt, pq.Array(&p.PhotoRefs), &p.InternalNotes, &p.CreatedOn, &p.UpdatedOn)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *projectRepository) Create(ctx context.Context, p *domain.Project) error {
	query := `INSERT INTO projects (number, reference, customer_name, state, start_date, end_date, duration_days, late_fee_enabled,
	          discount, payment_status, photo_refs, internal_notes, created_on, updated_on)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14) RETURNING id`
	now := time.Now()
	p.CreatedOn, p.UpdatedOn = now, now
	photos := p.PhotoRefs
	if photos == nil {
		photos = []string{}
	}
	return r.db.QueryRowContext(ctx, query, p.Number, p.Reference, p.CustomerName, p.State, p.StartDate, p.EndDate, p.DurationDays,
		p.LateFeeEnabled, p.Discount, p.PaymentStatus, pq.Array(photos), p.InternalNotes, now, now).Scan(&p.ID)
}

func (r *projectRepository) GetByID(ctx context.Context, id int32) (*domain.Project, error) {
	p, err := scanProject(r.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("project", id)
	}
	return p, err
}

func (r *projectRepository) LockByID(ctx context.Context, id int32) (*domain.Project, error) {
	p, err := scanProject(r.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("project", id)
	}
	return p, err
}

func (r *projectRepository) Update(ctx context.Context, p *domain.Project) error {
	query := `UPDATE projects SET reference=$1, customer_name=$2, state=$3, start_date=$4, end_date=$5, actual_return_date=$6,
	          duration_days=$7, is_overdue=$8, days_overdue=$9, total_amount=$10, late_fee_enabled=$11, late_fee=$12,
	          damage_fee=$13, has_damage=$14, discount=$15, grand_total=$16, payment_status=$17, invoice_ref=$18,
	          pickup_signature=$19, pickup_signed_at=$20, return_signature=$21, return_signed_at=$22, photo_refs=$23,
	          internal_notes=$24, updated_on=$25 WHERE id=$26`
	p.UpdatedOn = time.Now()
	photos := p.PhotoRefs
	if photos == nil {
		photos = []string{}
	}
	_, err := r.db.ExecContext(ctx, query, p.Reference, p.CustomerName, p.State, p.StartDate, p.EndDate, p.ActualReturnDate,
		p.DurationDays, p.IsOverdue, p.DaysOverdue, p.TotalAmount, p.LateFeeEnabled, p.LateFee,
		p.DamageFee, p.HasDamage, p.Discount, p.GrandTotal, p.PaymentStatus, p.InvoiceRef,
		p.PickupSignature, p.PickupSignedAt, p.ReturnSignature, p.ReturnSignedAt, pq.Array(photos),
		p.InternalNotes, p.UpdatedOn, p.ID)
	return err
}

func (r *projectRepository) List(ctx context.Context, filter domain.ProjectFilter) ([]domain.Project, int32, error) {
	where := ` FROM projects WHERE 1=1`
	var args []any
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, s := range filter.States {
			states[i] = string(s)
		}
		args = append(args, pq.Array(states))
		where += fmt.Sprintf(" AND state = ANY($%d)", len(args))
	}
	if filter.Customer != "" {
		args = append(args, "%"+filter.Customer+"%")
		where += fmt.Sprintf(" AND customer_name ILIKE $%d", len(args))
	}

	var count int32
	if err := r.db.QueryRowContext(ctx, "SELECT count(*)"+where, args...).Scan(&count); err != nil {
		return nil, 0, err
	}

	page, pageSize := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	query := "SELECT " + projectColumns + where +
		fmt.Sprintf(" ORDER BY start_date DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var projects []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, 0, err
		}
		projects = append(projects, *p)
	}
	return projects, count, rows.Err()
}

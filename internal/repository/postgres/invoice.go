package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/repository"

	"github.com/shopspring/decimal"
)

type invoiceRepository struct {
	db DBTX
}

func NewInvoiceRepository(db DBTX) repository.InvoiceRepository {
	return &invoiceRepository{db: db}
}

// Create stores the invoice header and its lines. Total is recomputed from the lines.
func (r *invoiceRepository) Create(ctx context.Context, inv *domain.Invoice) error {
	total := decimal.Zero
	for _, l := range inv.Lines {
		total = total.Add(l.Amount())
	}
	inv.Total = total.Round(2)
	inv.CreatedOn = time.Now()

	query := `INSERT INTO invoices (reference, customer_name, invoice_date, origin, total, created_on)
	          VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	if err := r.db.QueryRowContext(ctx, query, inv.Reference, inv.CustomerName, inv.InvoiceDate, inv.Origin, inv.Total, inv.CreatedOn).Scan(&inv.ID); err != nil {
		return err
	}

	lineQuery := `INSERT INTO invoice_lines (invoice_id, position, description, quantity, unit_price) VALUES ($1, $2, $3, $4, $5)`
	for i, l := range inv.Lines {
		if _, err := r.db.ExecContext(ctx, lineQuery, inv.ID, i+1, l.Description, l.Quantity, l.UnitPrice); err != nil {
			return err
		}
	}
	return nil
}

func (r *invoiceRepository) GetByReference(ctx context.Context, ref string) (*domain.Invoice, error) {
	inv := &domain.Invoice{}
	query := `SELECT id, reference, customer_name, invoice_date, origin, total, created_on FROM invoices WHERE reference = $1`
	err := r.db.QueryRowContext(ctx, query, ref).Scan(&inv.ID, &inv.Reference, &inv.CustomerName, &inv.InvoiceDate, &inv.Origin, &inv.Total, &inv.CreatedOn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("invoice", ref)
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `SELECT description, quantity, unit_price FROM invoice_lines WHERE invoice_id = $1 ORDER BY position`, inv.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l domain.InvoiceLine
		if err := rows.Scan(&l.Description, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, err
		}
		inv.Lines = append(inv.Lines, l)
	}
	return inv, rows.Err()
}

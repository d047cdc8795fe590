package service

import (
	"context"
	"fmt"
	"time"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/logger"
	"equiprent-backend/internal/repository"
)

// invoiceBook is the in-repo invoicing collaborator. It stores each invoice with its lines
// and numbers it from the "invoice" sequence.
type invoiceBook struct {
	store repository.Store
}

// transactionalInvoicing is implemented by collaborators that can book inside the caller's
// transaction, so the invoice rolls back together with the project update.
type transactionalInvoicing interface {
	CreateInvoiceTx(ctx context.Context, r repository.Repositories, customer string, date time.Time, origin string, lines []domain.InvoiceLine) (string, error)
}

func NewInvoiceBook(store repository.Store) InvoicingClient {
	return &invoiceBook{store: store}
}

func (b *invoiceBook) CreateInvoice(ctx context.Context, customer string, date time.Time, origin string, lines []domain.InvoiceLine) (string, error) {
	var ref string
	err := b.store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		var err error
		ref, err = b.CreateInvoiceTx(ctx, r, customer, date, origin, lines)
		return err
	})
	return ref, err
}

func (b *invoiceBook) CreateInvoiceTx(ctx context.Context, r repository.Repositories, customer string, date time.Time, origin string, lines []domain.InvoiceLine) (string, error) {
	if len(lines) == 0 {
		return "", domain.NewUserError("NO_LINE_ITEMS", domain.ErrNoLineItems, "Cannot create invoice without rental items.")
	}
	inv := &domain.Invoice{
		CustomerName: customer,
		InvoiceDate:  domain.DateOnly(date),
		Origin:       origin,
		Lines:        lines,
	}
	seq, err := r.Sequences.Next(ctx, "invoice")
	if err != nil {
		return "", fmt.Errorf("failed to number invoice: %w", err)
	}
	inv.Reference = fmt.Sprintf("INV/%06d", seq)
	if err := r.Invoices.Create(ctx, inv); err != nil {
		return "", err
	}
	logger.Info("Invoice created", "reference", inv.Reference, "origin", origin, "total", inv.Total.StringFixed(2))
	return inv.Reference, nil
}

// activityLog is the in-repo activity collaborator.
type activityLog struct {
	store repository.Store
}

func NewActivityLog(store repository.Store) ActivityScheduler {
	return &activityLog{store: store}
}

// ScheduleFollowUp stores the activity. Failures are only logged.
func (a *activityLog) ScheduleFollowUp(ctx context.Context, f FollowUp) {
	act := &domain.Activity{
		ProjectID:  f.ProjectID,
		Subject:    f.Subject,
		Summary:    f.Summary,
		Note:       f.Note,
		Assignee:   f.Assignee,
		Attributes: map[string]string{"source": "rental"},
	}
	if err := a.store.Repos().Activities.Create(ctx, act); err != nil {
		logger.Error("Failed to schedule follow-up", "subject", f.Subject, "projectID", f.ProjectID, "error", err)
		return
	}
	logger.Debug("Follow-up scheduled", "activityID", act.ID, "subject", f.Subject)
}

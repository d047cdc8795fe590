package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"equiprent-backend/internal/logger"
	"equiprent-backend/internal/repository"

	_ "github.com/lib/pq"
)

// DBTX is the part of *sql.DB and *sql.Tx the repositories need.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type Store struct {
	db    *sql.DB
	repos repository.Repositories
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:    db,
		repos: newRepositories(db),
	}
}

func newRepositories(db DBTX) repository.Repositories {
	return repository.Repositories{
		Equipment:  NewEquipmentRepository(db),
		Categories: NewCategoryRepository(db),
		Units:      NewUnitRepository(db),
		Projects:   NewProjectRepository(db),
		LineItems:  NewLineItemRepository(db),
		History:    NewStatusHistoryRepository(db),
		ScanLogs:   NewScanLogRepository(db),
		Sequences:  NewSequenceRepository(db),
		Invoices:   NewInvoiceRepository(db),
		Activities: NewActivityRepository(db),
		APIKeys:    NewAPIKeyRepository(db),
	}
}

func (s *Store) Repos() repository.Repositories {
	return s.repos
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, r repository.Repositories) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logger.Error("Failed to roll back transaction", "error", rbErr)
		}
	}()

	if err := fn(ctx, newRepositories(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

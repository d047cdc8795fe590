package postgres

import (
	"context"

	"equiprent-backend/internal/repository"
)

type sequenceRepository struct {
	db DBTX
}

func NewSequenceRepository(db DBTX) repository.SequenceRepository {
	return &sequenceRepository{db: db}
}

func (r *sequenceRepository) Next(ctx context.Context, code string) (int64, error) {
	var v int64
	query := `INSERT INTO sequences (code, value) VALUES ($1, 1)
	          ON CONFLICT (code) DO UPDATE SET value = sequences.value + 1 RETURNING value`
	err := r.db.QueryRowContext(ctx, query, code).Scan(&v)
	return v, err
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/repository"
)

type apiKeyRepository struct {
	db DBTX
}

func NewAPIKeyRepository(db DBTX) repository.APIKeyRepository {
	return &apiKeyRepository{db: db}
}

func (r *apiKeyRepository) Create(ctx context.Context, k *domain.APIKey) error {
	query := `INSERT INTO api_keys (name, prefix, secret_hash, acting_user, active, created_on)
	          VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	k.CreatedOn = time.Now()
	return r.db.QueryRowContext(ctx, query, k.Name, k.Prefix, k.SecretHash, k.ActingUser, k.Active, k.CreatedOn).Scan(&k.ID)
}

func (r *apiKeyRepository) GetByPrefix(ctx context.Context, prefix string) (*domain.APIKey, error) {
	k := &domain.APIKey{}
	query := `SELECT id, name, prefix, secret_hash, acting_user, active, last_used_on, created_on FROM api_keys WHERE prefix = $1`
	err := r.db.QueryRowContext(ctx, query, prefix).Scan(&k.ID, &k.Name, &k.Prefix, &k.SecretHash, &k.ActingUser, &k.Active, &k.LastUsedOn, &k.CreatedOn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("api key", prefix)
	}
	if err != nil {
		return nil, err
	}
	return k, nil
}

func (r *apiKeyRepository) TouchLastUsed(ctx context.Context, id int32) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_on = $1 WHERE id = $2`, time.Now(), id)
	return err
}

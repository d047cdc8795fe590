package service

import (
	"bytes"
	"context"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/logger"
	"equiprent-backend/internal/storage"
)

const identifierKeyPrefix = "identifiers/"

// IdentifierKey is the storage key of a unit's published identifier image.
func IdentifierKey(serial string) string {
	return identifierKeyPrefix + domain.IdentifierFilename(serial)
}

type storagePublisher struct {
	store storage.Storage
}

func NewStoragePublisher(store storage.Storage) IdentifierPublisher {
	return &storagePublisher{store: store}
}

func (p *storagePublisher) Publish(ctx context.Context, u *domain.Unit) error {
	key := IdentifierKey(u.SerialNumber)
	logger.ExternalServiceCall("storage", "PutFile", "key", key, "bytes", len(u.IdentifierImage))
	err := p.store.PutFile(ctx, key, "image/png", bytes.NewReader(u.IdentifierImage))
	logger.ExternalServiceResult("storage", "PutFile", err, "key", key)
	return err
}

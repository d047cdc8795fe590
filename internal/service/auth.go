package service

import (
	"context"
	"strings"
	"time"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/logger"
	"equiprent-backend/internal/security"
)

type authService struct {
	deps   Deps
	tokens security.TokenManager
}

func NewAuthService(d Deps, tokens security.TokenManager) AuthService {
	return &authService{deps: d, tokens: tokens}
}

// IssueAPIKey stores a new key and returns its plaintext. The plaintext is not recoverable later.
func (s *authService) IssueAPIKey(ctx context.Context, name, actingUser string) (string, *domain.APIKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, domain.NewValidationError("NAME_REQUIRED", "API key name is required.")
	}
	if actingUser == "" {
		actingUser = name
	}
	plaintext, prefix, hash, err := security.NewAPIKey()
	if err != nil {
		return "", nil, err
	}
	key := &domain.APIKey{Name: name, Prefix: prefix, SecretHash: hash, ActingUser: actingUser, Active: true}
	if err := s.deps.Store.Repos().APIKeys.Create(ctx, key); err != nil {
		return "", nil, err
	}
	logger.Info("API key issued", "keyID", key.ID, "name", name, "prefix", prefix)
	return plaintext, key, nil
}

func unauthorized(msg string) error {
	return &domain.RentalError{Kind: domain.KindUser, Code: "UNAUTHORIZED", Message: msg, Err: domain.ErrUnauthorized}
}

func (s *authService) Authenticate(ctx context.Context, rawKey string) (*domain.APIKey, error) {
	prefix, secret, err := security.SplitAPIKey(rawKey)
	if err != nil {
		return nil, unauthorized("Invalid API key.")
	}
	r := s.deps.Store.Repos()
	key, err := r.APIKeys.GetByPrefix(ctx, prefix)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, unauthorized("Invalid API key.")
		}
		return nil, err
	}
	if !key.Active || !security.VerifySecret(key.SecretHash, secret) {
		return nil, unauthorized("Invalid API key.")
	}
	if err := r.APIKeys.TouchLastUsed(ctx, key.ID); err != nil {
		logger.Warn("Failed to record API key use", "keyID", key.ID, "error", err)
	}
	return key, nil
}

func (s *authService) ExchangeToken(ctx context.Context, rawKey string) (string, time.Time, error) {
	key, err := s.Authenticate(ctx, rawKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.tokens.GenerateAccessToken(key.ID, key.ActingUser)
}

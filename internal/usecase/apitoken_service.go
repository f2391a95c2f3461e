package usecase

import (
	"context"
	"errors"
	"fmt"

	"challenge_server/internal/domain"
)

// APITokenRepository persists operator API tokens for the admin surface.
type APITokenRepository interface {
	Add(ctx context.Context, token domain.APIToken) error
	SetEnabled(ctx context.Context, tokenID string, enabled bool) error
	Exists(ctx context.Context, tokenID string) (bool, error)
	Enabled(ctx context.Context, tokenID string) (bool, error)
}

// APITokenService gates the admin monitoring surface.
type APITokenService struct {
	tokens APITokenRepository
}

func NewAPITokenService(tokens APITokenRepository) (*APITokenService, error) {
	if tokens == nil {
		return nil, errors.New("token repository required")
	}
	return &APITokenService{tokens: tokens}, nil
}

func (s *APITokenService) Add(ctx context.Context, tokenID string) error {
	if tokenID == "" {
		return errors.New("token id required")
	}

	exists, err := s.tokens.Exists(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("check token existence: %w", err)
	}
	if exists {
		return errors.New("token already exists")
	}

	return s.tokens.Add(ctx, domain.APIToken{TokenID: tokenID, Enabled: true})
}

func (s *APITokenService) SetEnabled(ctx context.Context, tokenID string, enabled bool) error {
	if tokenID == "" {
		return errors.New("token id required")
	}
	return s.tokens.SetEnabled(ctx, tokenID, enabled)
}

func (s *APITokenService) Validate(ctx context.Context, tokenID string) (bool, error) {
	if tokenID == "" {
		return false, nil
	}
	return s.tokens.Enabled(ctx, tokenID)
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"challenge_server/internal/domain"
)

type GormAPITokenRepository struct {
	db *gorm.DB
}

func NewGormAPITokenRepository(db *gorm.DB) (*GormAPITokenRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &GormAPITokenRepository{db: db}, nil
}

func (r *GormAPITokenRepository) Add(ctx context.Context, token domain.APIToken) error {
	model := APITokenModel{
		TokenID: token.TokenID,
		Enabled: token.Enabled,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *GormAPITokenRepository) SetEnabled(ctx context.Context, tokenID string, enabled bool) error {
	result := r.db.WithContext(ctx).
		Model(&APITokenModel{}).
		Where("token_id = ?", tokenID).
		Update("enabled", enabled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("token not found")
	}
	return nil
}

func (r *GormAPITokenRepository) Exists(ctx context.Context, tokenID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&APITokenModel{}).
		Where("token_id = ?", tokenID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormAPITokenRepository) Enabled(ctx context.Context, tokenID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&APITokenModel{}).
		Where("token_id = ? AND enabled = ?", tokenID, true).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

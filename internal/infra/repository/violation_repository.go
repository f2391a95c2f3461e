package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"challenge_server/internal/domain"
)

type GormViolationRepository struct {
	db *gorm.DB
}

func NewGormViolationRepository(db *gorm.DB) (*GormViolationRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &GormViolationRepository{db: db}, nil
}

// Append inserts the violation unless an unresolved entry for the same
// (challenge, type) already exists; concurrent enforcers of the same
// breach therefore produce exactly one row.
func (r *GormViolationRepository) Append(ctx context.Context, v domain.ViolationLog) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&ViolationLogModel{}).
			Where("challenge_id = ? AND violation_type = ? AND resolved = ?", v.ChallengeID, string(v.Type), false).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		model := toViolationModel(v)
		return tx.Create(&model).Error
	})
}

func (r *GormViolationRepository) ListByChallenge(ctx context.Context, challengeID string) ([]domain.ViolationLog, error) {
	var models []ViolationLogModel
	err := r.db.WithContext(ctx).
		Where("challenge_id = ?", challengeID).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}

	violations := make([]domain.ViolationLog, len(models))
	for i, model := range models {
		violations[i] = model.toDomain()
	}

	return violations, nil
}

func (r *GormViolationRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&ViolationLogModel{}).
		Where("created_at >= ?", since).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count violations: %w", err)
	}
	return count, nil
}

func (r *GormViolationRepository) Resolve(ctx context.Context, id int64, by, notes string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&ViolationLogModel{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]interface{}{
			"resolved":    true,
			"resolved_by": by,
			"resolved_at": at,
			"notes":       notes,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrViolationNotFound
	}
	return nil
}

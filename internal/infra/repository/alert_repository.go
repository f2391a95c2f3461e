package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"challenge_server/internal/domain"
)

type GormAlertRepository struct {
	db *gorm.DB
}

func NewGormAlertRepository(db *gorm.DB) (*GormAlertRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &GormAlertRepository{db: db}, nil
}

func (r *GormAlertRepository) Create(ctx context.Context, a domain.MonitoringAlert) error {
	model := toAlertModel(a)
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *GormAlertRepository) List(ctx context.Context, f domain.AlertFilter) ([]domain.MonitoringAlert, error) {
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if f.ChallengeID != "" {
		query = query.Where("challenge_id = ?", f.ChallengeID)
	}
	if f.Level != "" {
		query = query.Where("level = ?", string(f.Level))
	}
	if f.Unacknowledged {
		query = query.Where("acknowledged = ?", false)
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}

	var models []MonitoringAlertModel
	if err := query.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}

	alerts := make([]domain.MonitoringAlert, len(models))
	for i, model := range models {
		alerts[i] = model.toDomain()
	}

	return alerts, nil
}

// Acknowledge flips the flag at most once; a second acknowledgement
// returns the existing record with the original ack metadata.
func (r *GormAlertRepository) Acknowledge(ctx context.Context, id, by string, at time.Time) (domain.MonitoringAlert, error) {
	var out domain.MonitoringAlert

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&MonitoringAlertModel{}).
			Where("id = ? AND acknowledged = ?", id, false).
			Updates(map[string]interface{}{
				"acknowledged": true,
				"ack_by":       by,
				"ack_at":       at,
			})
		if result.Error != nil {
			return result.Error
		}

		var model MonitoringAlertModel
		err := tx.Where("id = ?", id).First(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrAlertNotFound
		}
		if err != nil {
			return err
		}

		out = model.toDomain()
		return nil
	})
	if err != nil {
		return domain.MonitoringAlert{}, err
	}

	return out, nil
}

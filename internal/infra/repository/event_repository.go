package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"challenge_server/internal/domain"
)

type GormEventRepository struct {
	db *gorm.DB
}

func NewGormEventRepository(db *gorm.DB) (*GormEventRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &GormEventRepository{db: db}, nil
}

// Append inserts the event; a duplicate natural-key hash is a no-op so
// retried writers never duplicate the stream.
func (r *GormEventRepository) Append(ctx context.Context, ev domain.MonitoringEvent) error {
	_, err := appendEventTx(r.db.WithContext(ctx), ev)
	return err
}

func (r *GormEventRepository) List(ctx context.Context, f domain.EventFilter) ([]domain.MonitoringEvent, error) {
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if f.ChallengeID != "" {
		query = query.Where("challenge_id = ?", f.ChallengeID)
	}
	if f.Kind != "" {
		query = query.Where("kind = ?", string(f.Kind))
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}

	var models []MonitoringEventModel
	if err := query.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	events := make([]domain.MonitoringEvent, len(models))
	for i, model := range models {
		events[i] = model.toDomain()
	}

	return events, nil
}

func (r *GormEventRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&MonitoringEventModel{}).
		Where("created_at >= ?", since).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

func (r *GormEventRepository) LastSyncAt(ctx context.Context) (*time.Time, error) {
	var model MonitoringEventModel
	err := r.db.WithContext(ctx).
		Where("kind = ?", string(domain.EventSync)).
		Order("created_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last sync event: %w", err)
	}
	return &model.CreatedAt, nil
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"challenge_server/internal/domain"
)

type GormChallengeRepository struct {
	db       *gorm.DB
	programs *GormProgramRepository
}

func NewGormChallengeRepository(db *gorm.DB, programs *GormProgramRepository) (*GormChallengeRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if programs == nil {
		return nil, fmt.Errorf("program repository is required")
	}
	return &GormChallengeRepository{db: db, programs: programs}, nil
}

func (r *GormChallengeRepository) Get(ctx context.Context, id string) (domain.Challenge, error) {
	var model ChallengeModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Challenge{}, domain.ErrChallengeNotFound
	}
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("get challenge: %w", err)
	}

	return r.hydrate(ctx, model)
}

func (r *GormChallengeRepository) GetByLogin(ctx context.Context, platformLogin string) (domain.Challenge, error) {
	var model ChallengeModel
	err := r.db.WithContext(ctx).Where("platform_login = ?", platformLogin).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Challenge{}, domain.ErrChallengeNotFound
	}
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("get challenge by login: %w", err)
	}

	return r.hydrate(ctx, model)
}

func (r *GormChallengeRepository) hydrate(ctx context.Context, model ChallengeModel) (domain.Challenge, error) {
	ch := model.toDomain()

	program, err := r.programs.Get(ctx, model.ProgramID)
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("load program %s: %w", model.ProgramID, err)
	}
	ch.Program = program

	return ch, nil
}

func (r *GormChallengeRepository) ListByStatus(ctx context.Context, statuses []domain.ChallengeStatus, limit, offset int) ([]domain.Challenge, error) {
	var models []ChallengeModel
	query := r.db.WithContext(ctx).
		Where("status IN ?", statusStrings(statuses)).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}

	challenges := make([]domain.Challenge, 0, len(models))
	for _, model := range models {
		ch, err := r.hydrate(ctx, model)
		if err != nil {
			return nil, err
		}
		challenges = append(challenges, ch)
	}

	return challenges, nil
}

func (r *GormChallengeRepository) CountByStatus(ctx context.Context, statuses []domain.ChallengeStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&ChallengeModel{}).
		Where("status IN ?", statusStrings(statuses)).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count challenges: %w", err)
	}
	return count, nil
}

func (r *GormChallengeRepository) Create(ctx context.Context, ch domain.Challenge) error {
	model := toChallengeModel(ch)
	return r.db.WithContext(ctx).Create(&model).Error
}

// SaveSnapshot persists the post-snapshot projections, the whole daily
// history document, and the sync event atomically. The event insert runs
// first: a duplicate natural key means the snapshot was already applied,
// so the projection update is skipped and the delta accumulators cannot
// be folded in twice.
func (r *GormChallengeRepository) SaveSnapshot(ctx context.Context, ch domain.Challenge, day string, agg domain.DailyAggregate, ev domain.MonitoringEvent) (bool, error) {
	history, err := json.Marshal(ch.DailyHistory)
	if err != nil {
		return false, fmt.Errorf("marshal daily history: %w", err)
	}

	var applied bool
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := appendEventTx(tx, ev)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}

		result := tx.Model(&ChallengeModel{}).
			Where("id = ?", ch.ID).
			Updates(map[string]interface{}{
				"current_balance": ch.CurrentBalance,
				"total_profit":    ch.TotalProfit,
				"total_loss":      ch.TotalLoss,
				"max_drawdown":    ch.MaxDrawdown,
				"commission_cum":  ch.CommissionCum,
				"swap_cum":        ch.SwapCum,
				"daily_history":   history,
				"updated_at":      gorm.Expr("CURRENT_TIMESTAMP"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrChallengeNotFound
		}

		applied = true
		return nil
	})
	return applied, err
}

func (r *GormChallengeRepository) CASStatus(ctx context.Context, id string, from, to domain.ChallengeStatus, mut domain.StatusMutation) (bool, error) {
	var won bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		won, err = casStatusTx(tx, id, from, to, mut)
		return err
	})
	return won, err
}

// FailChallenge couples the active->failed CAS with the violation event in
// one transaction; the CAS is the idempotence key for enforcement.
func (r *GormChallengeRepository) FailChallenge(ctx context.Context, id string, mut domain.StatusMutation, ev domain.MonitoringEvent) (bool, error) {
	var won bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		won, err = casStatusTx(tx, id, domain.StatusActive, domain.StatusFailed, mut)
		if err != nil || !won {
			return err
		}
		_, err = appendEventTx(tx, ev)
		return err
	})
	return won, err
}

func (r *GormChallengeRepository) SetDisableAck(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&ChallengeModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"disable_ack": true,
			"updated_at":  gorm.Expr("CURRENT_TIMESTAMP"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrChallengeNotFound
	}
	return nil
}

func casStatusTx(tx *gorm.DB, id string, from, to domain.ChallengeStatus, mut domain.StatusMutation) (bool, error) {
	updates := map[string]interface{}{
		"status":     string(to),
		"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
	}
	if mut.FailureReason != "" {
		updates["failure_reason"] = mut.FailureReason
	}
	if mut.PlatformLogin != "" {
		updates["platform_login"] = mut.PlatformLogin
	}
	if mut.StartDate != nil {
		updates["start_date"] = *mut.StartDate
	}
	if mut.EndDate != nil {
		updates["end_date"] = *mut.EndDate
	}
	if mut.PassedAt != nil {
		updates["passed_at"] = *mut.PassedAt
	}
	if mut.FailedAt != nil {
		updates["failed_at"] = *mut.FailedAt
	}

	result := tx.Model(&ChallengeModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

// appendEventTx is the idempotent event insert shared with the event
// repository: a duplicate natural key leaves the original row untouched.
// It reports whether the event row was actually inserted.
func appendEventTx(tx *gorm.DB, ev domain.MonitoringEvent) (bool, error) {
	model := toEventModel(ev)
	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_hash"}},
		DoNothing: true,
	}).Create(&model)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func statusStrings(statuses []domain.ChallengeStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"challenge_server/internal/domain"
)

var ErrProgramNotFound = errors.New("program not found")

type GormProgramRepository struct {
	db *gorm.DB
}

func NewGormProgramRepository(db *gorm.DB) (*GormProgramRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &GormProgramRepository{db: db}, nil
}

func (r *GormProgramRepository) Get(ctx context.Context, id string) (domain.Program, error) {
	var model ProgramModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Program{}, ErrProgramNotFound
	}
	if err != nil {
		return domain.Program{}, fmt.Errorf("get program: %w", err)
	}
	return model.toDomain(), nil
}

func (r *GormProgramRepository) Create(ctx context.Context, p domain.Program) error {
	model := toProgramModel(p)
	return r.db.WithContext(ctx).Create(&model).Error
}

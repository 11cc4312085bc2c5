package repository

import (
	"context"

	"gorm.io/gorm"

	"withdraw-backend/internal/models"
)

// TransitionRepository audit trail of orchestrator state changes
type TransitionRepository interface {
	Create(ctx context.Context, transition *models.WithdrawalTransition) error
	ListByUser(ctx context.Context, user string, limit int) ([]*models.WithdrawalTransition, error)
}

type transitionRepository struct {
	db *gorm.DB
}

// NewTransitionRepository creates a new TransitionRepository instance
func NewTransitionRepository(db *gorm.DB) TransitionRepository {
	return &transitionRepository{db: db}
}

func (r *transitionRepository) Create(ctx context.Context, transition *models.WithdrawalTransition) error {
	return r.db.WithContext(ctx).Create(transition).Error
}

func (r *transitionRepository) ListByUser(ctx context.Context, user string, limit int) ([]*models.WithdrawalTransition, error) {
	var transitions []*models.WithdrawalTransition
	query := r.db.WithContext(ctx).Where("user_address = ?", user).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&transitions).Error
	if err != nil {
		return nil, err
	}
	return transitions, nil
}

package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"withdraw-backend/internal/models"
)

// gormSessionStore postgres-backed SessionStore
type gormSessionStore struct {
	db *gorm.DB
}

// NewGormSessionStore creates a SessionStore on the withdrawal_sessions table
func NewGormSessionStore(db *gorm.DB) SessionStore {
	return &gormSessionStore{db: db}
}

func (r *gormSessionStore) Get(ctx context.Context, user string) (string, error) {
	var session models.WithdrawalSession
	err := r.db.WithContext(ctx).Where("user_address = ?", user).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", err
	}
	return session.WithdrawalID, nil
}

// Set replaces the whole row
func (r *gormSessionStore) Set(ctx context.Context, user, withdrawalID string) error {
	session := models.WithdrawalSession{
		UserAddress:  user,
		WithdrawalID: withdrawalID,
		UpdatedAt:    time.Now(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_address"}},
		DoUpdates: clause.AssignmentColumns([]string{"withdrawal_id", "updated_at"}),
	}).Create(&session).Error
}

func (r *gormSessionStore) Clear(ctx context.Context, user string) error {
	return r.db.WithContext(ctx).Where("user_address = ?", user).Delete(&models.WithdrawalSession{}).Error
}

func (r *gormSessionStore) Users(ctx context.Context) ([]string, error) {
	var users []string
	err := r.db.WithContext(ctx).Model(&models.WithdrawalSession{}).Order("user_address").Pluck("user_address", &users).Error
	return users, err
}

package services

import (
	"context"

	"github.com/sirupsen/logrus"

	"withdraw-backend/internal/models"
	"withdraw-backend/internal/repository"
)

// TransitionRecorder writes every transition to the audit table
type TransitionRecorder struct {
	repo   repository.TransitionRepository
	logger *logrus.Logger
}

func NewTransitionRecorder(repo repository.TransitionRepository, logger *logrus.Logger) *TransitionRecorder {
	return &TransitionRecorder{repo: repo, logger: logger}
}

// OnTransition persists t; failures are logged and never block the withdrawal.
func (r *TransitionRecorder) OnTransition(ctx context.Context, t models.WithdrawalTransition) {
	if err := r.repo.Create(ctx, &t); err != nil {
		r.logger.WithFields(logrus.Fields{
			"user":  t.UserAddress,
			"from":  t.FromState,
			"to":    t.ToState,
			"trans": t.ID,
		}).WithError(err).Warn("failed to record withdrawal transition")
	}
}

// History most recent transitions of user, newest first
func (r *TransitionRecorder) History(ctx context.Context, user string, limit int) ([]*models.WithdrawalTransition, error) {
	return r.repo.ListByUser(ctx, user, limit)
}

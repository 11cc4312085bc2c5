package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"withdraw-backend/internal/apperror"
	"withdraw-backend/internal/models"
	"withdraw-backend/internal/repository"
)

// SessionReconciler re-attaches users to withdrawals the ledger still holds
// open, after a restart or on a new device. The ledger decides; the persisted
// session is only a hint.
type SessionReconciler struct {
	sessions     repository.SessionStore
	ledger       Ledger
	orchestrator *WithdrawalOrchestrator
	logger       *logrus.Logger
}

// NewSessionReconciler creates a reconciler
func NewSessionReconciler(sessions repository.SessionStore, ledger Ledger, orchestrator *WithdrawalOrchestrator, logger *logrus.Logger) *SessionReconciler {
	return &SessionReconciler{
		sessions:     sessions,
		ledger:       ledger,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// Reconcile resolves user's persisted session against the ledger and resumes
// polling for any record still open. Nothing is signed or relayed.
func (r *SessionReconciler) Reconcile(ctx context.Context, user common.Address) (Snapshot, error) {
	log := r.logger.WithField("user", user.Hex())

	records, listErr := r.ledger.ListByUser(ctx, user)
	if listErr != nil {
		log.WithError(listErr).Warn("failed to list ledger withdrawals during reconcile")
	}

	storedID, err := r.sessions.Get(ctx, user.Hex())
	switch {
	case errors.Is(err, repository.ErrSessionNotFound):
		storedID = ""
	case err != nil:
		log.WithError(err).Warn("failed to read withdrawal session")
		storedID = ""
	}

	if storedID != "" {
		if err := r.reconcileStored(ctx, user, storedID, records); err != nil {
			return r.orchestrator.Status(user), err
		}
	}

	if listErr == nil {
		if open := firstNonTerminal(records); open != nil {
			current := r.orchestrator.Status(user)
			switch {
			case current.State == models.StateAwaitingVerification && current.WithdrawalID != open.ID:
				log.WithFields(logrus.Fields{
					"tracked_id": current.WithdrawalID,
					"ledger_id":  open.ID,
				}).Warn("ledger holds a different open withdrawal than the one tracked")
			default:
				if err := r.resume(ctx, user, *open); err != nil {
					return r.orchestrator.Status(user), err
				}
			}
		}
	}

	return r.orchestrator.Status(user), nil
}

func (r *SessionReconciler) reconcileStored(ctx context.Context, user common.Address, id string, records []models.WithdrawalRecord) error {
	log := r.logger.WithFields(logrus.Fields{
		"user":          user.Hex(),
		"withdrawal_id": id,
	})

	status, err := r.ledger.CheckStatus(ctx, id)
	switch {
	case apperror.Is(err, apperror.ErrCodeNotFound):
		log.Warn("persisted withdrawal unknown to ledger, clearing session")
		return r.clear(ctx, user)
	case err != nil:
		// keep tracking; the poller retries until the ledger answers
		log.WithError(err).Warn("ledger status unavailable, resuming polling")
		return r.resume(ctx, user, models.WithdrawalRecord{
			ID:          id,
			UserAddress: user.Hex(),
			Status:      models.WithdrawalStatusPending,
		})
	case status.IsTerminal():
		log.WithField("status", status).Info("persisted withdrawal already finished, clearing session")
		if !r.orchestrator.Observe(user, id, status) {
			return r.clear(ctx, user)
		}
		return nil
	}

	record := models.WithdrawalRecord{
		ID:          id,
		UserAddress: user.Hex(),
		Status:      status,
	}
	for _, listed := range records {
		if listed.ID == id {
			record = listed
			record.Status = status
			break
		}
	}
	return r.resume(ctx, user, record)
}

func (r *SessionReconciler) resume(ctx context.Context, user common.Address, record models.WithdrawalRecord) error {
	err := r.orchestrator.Resume(ctx, user, record)
	if apperror.Is(err, apperror.ErrCodeSubmissionInProgress) {
		// the running attempt owns the session
		return nil
	}
	return err
}

func (r *SessionReconciler) clear(ctx context.Context, user common.Address) error {
	if err := r.sessions.Clear(ctx, user.Hex()); err != nil {
		return fmt.Errorf("failed to clear withdrawal session: %w", err)
	}
	return nil
}

// ReconcileAll reconciles every user with a persisted session. Used at startup.
func (r *SessionReconciler) ReconcileAll(ctx context.Context) error {
	users, err := r.sessions.Users(ctx)
	if err != nil {
		return fmt.Errorf("failed to list withdrawal sessions: %w", err)
	}

	var errs []error
	resumed := 0
	for _, u := range users {
		if !common.IsHexAddress(u) {
			r.logger.WithField("user", u).Warn("skipping session with invalid address")
			continue
		}
		snapshot, err := r.Reconcile(ctx, common.HexToAddress(u))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u, err))
			continue
		}
		if snapshot.State == models.StateAwaitingVerification {
			resumed++
		}
	}

	r.logger.WithFields(logrus.Fields{
		"sessions": len(users),
		"resumed":  resumed,
	}).Info("withdrawal sessions reconciled")
	return errors.Join(errs...)
}

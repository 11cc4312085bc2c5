package handlers

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"withdraw-backend/internal/apperror"
	"withdraw-backend/internal/dto"
	"withdraw-backend/internal/middleware"
	"withdraw-backend/internal/models"
	"withdraw-backend/internal/services"
)

// Withdrawals orchestrator operations exposed over HTTP
type Withdrawals interface {
	Submit(ctx context.Context, user common.Address, form models.WithdrawalForm) (*services.SubmitResult, error)
	Cancel(ctx context.Context, user common.Address) (services.Snapshot, error)
	Status(user common.Address) services.Snapshot
}

// Reconciler re-attaches a user to an open ledger record
type Reconciler interface {
	Reconcile(ctx context.Context, user common.Address) (services.Snapshot, error)
}

// HistorySource ledger listing
type HistorySource interface {
	ListByUser(ctx context.Context, user common.Address) ([]models.WithdrawalRecord, error)
}

// TransitionHistory audit trail lookup
type TransitionHistory interface {
	History(ctx context.Context, user string, limit int) ([]*models.WithdrawalTransition, error)
}

// WithdrawalHandler HTTP surface of the withdrawal pipeline
type WithdrawalHandler struct {
	withdrawals Withdrawals
	reconciler  Reconciler
	history     HistorySource
	transitions TransitionHistory // optional
	decimals    int32
	logger      *logrus.Logger
}

// NewWithdrawalHandler transitions may be nil when no audit store is configured.
func NewWithdrawalHandler(withdrawals Withdrawals, reconciler Reconciler, history HistorySource, transitions TransitionHistory, decimals int32, logger *logrus.Logger) *WithdrawalHandler {
	return &WithdrawalHandler{
		withdrawals: withdrawals,
		reconciler:  reconciler,
		history:     history,
		transitions: transitions,
		decimals:    decimals,
		logger:      logger,
	}
}

func (h *WithdrawalHandler) user(c *gin.Context) (common.Address, bool) {
	return userFromContext(c)
}

// userFromContext writes a 401 when the request carries no authenticated user.
func userFromContext(c *gin.Context) (common.Address, bool) {
	user, ok := middleware.UserAddress(c)
	if !ok {
		respondWithError(c, apperror.New(apperror.ErrCodeUnauthorized, "authentication required"))
	}
	return user, ok
}

// SubmitWithdrawalHandler runs a withdrawal for the caller
// POST /api/v1/withdrawals
func (h *WithdrawalHandler) SubmitWithdrawalHandler(c *gin.Context) {
	user, ok := h.user(c)
	if !ok {
		return
	}

	var req dto.SubmitWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperror.Wrap(err, apperror.ErrCodeValidation, "invalid request body"))
		return
	}

	amount, err := h.parseAmount(req.Amount)
	if err != nil {
		respondWithError(c, err)
		return
	}

	result, err := h.withdrawals.Submit(c.Request.Context(), user, models.WithdrawalForm{
		Amount:      amount,
		BankDetails: req.BankDetails,
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

// parseAmount human-readable amount to smallest units; rejects precision the
// token cannot represent.
func (h *WithdrawalHandler) parseAmount(value string) (*big.Int, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, fmt.Sprintf("invalid amount %q", value))
	}
	shifted := d.Shift(h.decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, apperror.New(apperror.ErrCodeValidation, fmt.Sprintf("amount has more than %d decimal places", h.decimals))
	}
	return shifted.BigInt(), nil
}

// GetPendingHandler reconciles with the ledger and returns the caller's state
// GET /api/v1/withdrawals/pending
func (h *WithdrawalHandler) GetPendingHandler(c *gin.Context) {
	user, ok := h.user(c)
	if !ok {
		return
	}

	snapshot, err := h.reconciler.Reconcile(c.Request.Context(), user)
	if err != nil {
		h.logger.WithField("user", user.Hex()).WithError(err).Warn("reconcile failed")
		snapshot = h.withdrawals.Status(user)
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    snapshot,
	})
}

// CancelPendingHandler cancels the caller's withdrawal awaiting verification
// POST /api/v1/withdrawals/pending/cancel
func (h *WithdrawalHandler) CancelPendingHandler(c *gin.Context) {
	user, ok := h.user(c)
	if !ok {
		return
	}

	snapshot, err := h.withdrawals.Cancel(c.Request.Context(), user)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    snapshot,
	})
}

// GetHistoryHandler the caller's ledger records
// GET /api/v1/withdrawals/history
func (h *WithdrawalHandler) GetHistoryHandler(c *gin.Context) {
	user, ok := h.user(c)
	if !ok {
		return
	}

	records, err := h.history.ListByUser(c.Request.Context(), user)
	if err != nil {
		respondWithError(c, err)
		return
	}

	items := make([]dto.WithdrawalHistoryItem, 0, len(records))
	for _, r := range records {
		item := dto.WithdrawalHistoryItem{
			ID:          r.ID,
			Amount:      decimal.NewFromBigInt(orZero(r.TokenAmount), -h.decimals).String(),
			BankDetails: r.BankDetails,
			TxHash:      r.TxHash,
			Status:      r.Status,
		}
		if !r.CreatedAt.IsZero() {
			item.CreatedAt = r.CreatedAt.Unix()
		}
		items = append(items, item)
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
		"count":   len(items),
	})
}

// GetTransitionsHandler audit trail of the caller's state changes
// GET /api/v1/withdrawals/transitions?limit=50
func (h *WithdrawalHandler) GetTransitionsHandler(c *gin.Context) {
	user, ok := h.user(c)
	if !ok {
		return
	}
	if h.transitions == nil {
		respondWithError(c, apperror.New(apperror.ErrCodeNotFound, "transition history is not enabled"))
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			respondWithError(c, apperror.New(apperror.ErrCodeValidation, "limit must be between 1 and 500"))
			return
		}
		limit = n
	}

	transitions, err := h.transitions.History(c.Request.Context(), user.Hex(), limit)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    transitions,
		"count":   len(transitions),
	})
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

package dto

import "withdraw-backend/internal/models"

// SubmitWithdrawalRequest body of POST /api/v1/withdrawals
type SubmitWithdrawalRequest struct {
	Amount      string             `json:"amount" binding:"required"` // human-readable token amount, e.g. "12.5"
	BankDetails models.BankDetails `json:"bank_details"`
}

// WithdrawalHistoryItem one ledger record as returned to the user
type WithdrawalHistoryItem struct {
	ID          string                  `json:"id"`
	Amount      string                  `json:"amount"`
	BankDetails models.BankDetails      `json:"bank_details"`
	TxHash      string                  `json:"tx_hash,omitempty"`
	Status      models.WithdrawalStatus `json:"status"`
	CreatedAt   int64                   `json:"created_at,omitempty"`
}

// ErrorResponse body of every failed API call
type ErrorResponse struct {
	Success         bool              `json:"success"`
	Error           string            `json:"error"`
	Message         string            `json:"message"`
	Retryable       bool              `json:"retryable"`
	SupportRequired bool              `json:"support_required"`
	Details         map[string]string `json:"details,omitempty"`
}

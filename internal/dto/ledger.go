package dto

// ==================== Ledger DTOs ====================

// LedgerBankDetails bank details as the ledger stores them
type LedgerBankDetails struct {
	BankName      string `json:"bankName"`
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
}

// CreateWithdrawalRequest POST /create-withdrawal
type CreateWithdrawalRequest struct {
	UserID      string            `json:"userId"`
	USDTAmount  string            `json:"usdtAmount"` // human-readable token amount
	BankDetails LedgerBankDetails `json:"bankDetails"`
	TxHash      string            `json:"txHash"`
}

// CreateWithdrawalResponse also used for the 409 conflict body
type CreateWithdrawalResponse struct {
	TransactionID string `json:"transactionId,omitempty"`
	Error         string `json:"error,omitempty"`
	Message       string `json:"message,omitempty"`
}

// TransactionIDRequest body of check-status and cancel
type TransactionIDRequest struct {
	TransactionID string `json:"transactionId"`
}

// WithdrawalStatusResponse POST /check-withdrawal-status
type WithdrawalStatusResponse struct {
	Status string `json:"status"`
}

// CancelWithdrawalResponse POST /cancel-withdrawal
type CancelWithdrawalResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// LedgerWithdrawal element of GET /withdrawals
type LedgerWithdrawal struct {
	ID          string            `json:"id"`
	UserAddress string            `json:"userAddress"`
	USDTAmount  string            `json:"usdtAmount"`
	BankDetails LedgerBankDetails `json:"bankDetails"`
	TxHash      string            `json:"txHash,omitempty"`
	Status      string            `json:"status"`
	CreatedAt   string            `json:"createdAt"`
}

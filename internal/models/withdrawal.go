package models

import (
	"bytes"
	"encoding/json"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// WithdrawalStatus lifecycle status of a ledger-owned withdrawal record
type WithdrawalStatus string

const (
	WithdrawalStatusPending              WithdrawalStatus = "pending"               // Record created, not yet picked up by admin
	WithdrawalStatusAwaitingVerification WithdrawalStatus = "awaiting_verification" // Waiting for manual admin confirmation
	WithdrawalStatusVerified             WithdrawalStatus = "verified"              // Fiat payout confirmed
	WithdrawalStatusFailed               WithdrawalStatus = "failed"                // Rejected by admin
	WithdrawalStatusCancelled            WithdrawalStatus = "cancelled"             // Cancelled by user, must not be credited
)

// IsTerminal reports whether no further transition is possible.
func (s WithdrawalStatus) IsTerminal() bool {
	switch s {
	case WithdrawalStatusVerified, WithdrawalStatusFailed, WithdrawalStatusCancelled:
		return true
	default:
		return false
	}
}

// IsKnown reports whether s is one of the ledger statuses.
func (s WithdrawalStatus) IsKnown() bool {
	switch s {
	case WithdrawalStatusPending, WithdrawalStatusAwaitingVerification,
		WithdrawalStatusVerified, WithdrawalStatusFailed, WithdrawalStatusCancelled:
		return true
	default:
		return false
	}
}

// State orchestrator state for a single withdrawal attempt
type State string

const (
	StateIdle                 State = "idle"
	StateValidating           State = "validating"
	StateCheckingAllowance    State = "checking_allowance"
	StateSigning              State = "signing"
	StateRelaying             State = "relaying"
	StateConfirmingOnChain    State = "confirming_on_chain"
	StateRecordingInLedger    State = "recording_in_ledger"
	StateAwaitingVerification State = "awaiting_verification"
	StateVerified             State = "verified"
	StateFailed               State = "failed"
	StateCancelled            State = "cancelled"
)

// IsTerminal reports whether the attempt has finished.
func (s State) IsTerminal() bool {
	return s == StateVerified || s == StateFailed || s == StateCancelled
}

// StateForStatus maps a terminal ledger status onto the orchestrator state.
func StateForStatus(status WithdrawalStatus) State {
	switch status {
	case WithdrawalStatusVerified:
		return StateVerified
	case WithdrawalStatusFailed:
		return StateFailed
	case WithdrawalStatusCancelled:
		return StateCancelled
	default:
		return StateAwaitingVerification
	}
}

// BankDetails fixed-shape fiat payout destination
type BankDetails struct {
	BankName      string `json:"bankName"`
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
}

// Canonical returns the deterministic encoding used in the signed message and
// the on-chain call. Characters such as & and < stay literal so the signed
// text matches what a wallet displays.
func (b BankDetails) Canonical() string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// struct field order fixes the key order
	_ = enc.Encode(b)
	return strings.TrimSuffix(buf.String(), "\n")
}

// WithdrawalRequest the message a user authorizes. Built fresh per attempt.
type WithdrawalRequest struct {
	UserAddress common.Address
	TokenAmount *big.Int // smallest token unit
	BankDetails BankDetails
	Deadline    *big.Int // unix seconds
	Nonce       *big.Int // withdrawal contract nonce at signing time
}

// Expired reports whether the deadline is not after now.
func (r *WithdrawalRequest) Expired(now time.Time) bool {
	if r.Deadline == nil {
		return true
	}
	return r.Deadline.Cmp(big.NewInt(now.Unix())) <= 0
}

// SignedAuthorization request plus the wallet's EIP-712 signature
type SignedAuthorization struct {
	Request   WithdrawalRequest
	Signature []byte // 65 bytes, r || s || v with v in {27, 28}
	V         uint8
	R         [32]byte
	S         [32]byte
}

// RelayReceipt result of waiting for the relayed transaction
type RelayReceipt struct {
	TransactionHash    common.Hash
	Confirmed          bool
	BlockConfirmations uint64
	BlockNumber        uint64
}

// WithdrawalRecord client-side copy of the ledger record
type WithdrawalRecord struct {
	ID          string           `json:"id"`
	UserAddress string           `json:"userAddress"`
	TokenAmount *big.Int         `json:"tokenAmount"`
	BankDetails BankDetails      `json:"bankDetails"`
	TxHash      string           `json:"txHash,omitempty"`
	Status      WithdrawalStatus `json:"status"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// WithdrawalForm user input for a new withdrawal
type WithdrawalForm struct {
	Amount      *big.Int
	BankDetails BankDetails
}

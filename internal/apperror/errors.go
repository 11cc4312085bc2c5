package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeValidation           ErrorCode = "VALIDATION_ERROR"
	ErrCodeInsufficientBalance  ErrorCode = "INSUFFICIENT_BALANCE"
	ErrCodeChainRead            ErrorCode = "CHAIN_READ_ERROR"
	ErrCodeApprovalFailed       ErrorCode = "APPROVAL_FAILED"
	ErrCodeConfirmationTimeout  ErrorCode = "CONFIRMATION_TIMEOUT"
	ErrCodeTransactionReverted  ErrorCode = "TRANSACTION_REVERTED"
	ErrCodeSignatureMismatch    ErrorCode = "SIGNATURE_MISMATCH"
	ErrCodeAuthorizationExpired ErrorCode = "AUTHORIZATION_EXPIRED"
	ErrCodeRelayRejected        ErrorCode = "RELAY_REJECTED"
	ErrCodeRelayResponseInvalid ErrorCode = "RELAY_RESPONSE_INVALID"
	ErrCodePendingConflict      ErrorCode = "PENDING_CONFLICT"
	ErrCodeLedgerUnavailable    ErrorCode = "LEDGER_UNAVAILABLE"
	ErrCodeNotCancellable       ErrorCode = "NOT_CANCELLABLE"
	ErrCodeCancelNotApplied     ErrorCode = "CANCEL_NOT_APPLIED"
	ErrCodeSubmissionInProgress ErrorCode = "SUBMISSION_IN_PROGRESS"
	ErrCodeUnauthorized         ErrorCode = "UNAUTHORIZED"
	ErrCodeNotFound             ErrorCode = "NOT_FOUND"
	ErrCodeInternal             ErrorCode = "INTERNAL_ERROR"
)

// AppError coded domain error. Retryable and SupportRequired tell the caller
// whether to try again or escalate.
type AppError struct {
	Code            ErrorCode
	Message         string
	HTTPStatus      int
	Cause           error
	Retryable       bool
	SupportRequired bool
	TxHash          string // set once a transaction exists on chain
	ExistingID      string // conflicting ledger record
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Details non-empty optional fields, for API responses
func (e *AppError) Details() map[string]string {
	details := map[string]string{}
	if e.TxHash != "" {
		details["tx_hash"] = e.TxHash
	}
	if e.ExistingID != "" {
		details["existing_id"] = e.ExistingID
	}
	return details
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Retryable:  codeRetryable(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	appErr := New(code, message)
	appErr.Cause = err
	return appErr
}

// WithTxHash returns e with the on-chain transaction attached.
func (e *AppError) WithTxHash(hash string) *AppError {
	e.TxHash = hash
	return e
}

// WithSupport marks e as needing operator follow-up rather than a retry.
func (e *AppError) WithSupport() *AppError {
	e.SupportRequired = true
	e.Retryable = false
	return e
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodePendingConflict, ErrCodeNotCancellable, ErrCodeSubmissionInProgress:
		return http.StatusConflict
	case ErrCodeInsufficientBalance, ErrCodeTransactionReverted, ErrCodeSignatureMismatch, ErrCodeAuthorizationExpired:
		return http.StatusUnprocessableEntity
	case ErrCodeChainRead, ErrCodeApprovalFailed, ErrCodeRelayRejected, ErrCodeRelayResponseInvalid, ErrCodeCancelNotApplied:
		return http.StatusBadGateway
	case ErrCodeLedgerUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeConfirmationTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func codeRetryable(code ErrorCode) bool {
	switch code {
	case ErrCodeChainRead, ErrCodeApprovalFailed, ErrCodeConfirmationTimeout, ErrCodeTransactionReverted,
		ErrCodeAuthorizationExpired, ErrCodeRelayRejected, ErrCodeLedgerUnavailable,
		ErrCodeCancelNotApplied, ErrCodeSubmissionInProgress:
		return true
	default:
		return false
	}
}

// As extracts the *AppError from err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns err's code, INTERNAL_ERROR for uncoded errors.
func CodeOf(err error) ErrorCode {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

func Is(err error, code ErrorCode) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

func IsValidation(err error) bool {
	return Is(err, ErrCodeValidation)
}

func IsPendingConflict(err error) bool {
	return Is(err, ErrCodePendingConflict)
}

func IsLedgerUnavailable(err error) bool {
	return Is(err, ErrCodeLedgerUnavailable)
}

func IsNotCancellable(err error) bool {
	return Is(err, ErrCodeNotCancellable)
}

// IsSupportRequired reports whether err needs operator follow-up.
func IsSupportRequired(err error) bool {
	appErr, ok := As(err)
	return ok && appErr.SupportRequired
}

// PendingConflict builds the ledger conflict error for an existing record.
func PendingConflict(existingID string) *AppError {
	e := New(ErrCodePendingConflict, "a pending withdrawal already exists")
	e.ExistingID = existingID
	return e
}

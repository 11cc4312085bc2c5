package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"withdraw-backend/internal/apperror"
	"withdraw-backend/internal/config"
	"withdraw-backend/internal/dto"
	"withdraw-backend/internal/metrics"
	"withdraw-backend/internal/models"
)

// LedgerClient backend verification ledger client
type LedgerClient struct {
	baseURL    string
	decimals   int32
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewLedgerClient Create ledger client. decimals scales smallest-unit amounts
// to the ledger's human-readable amounts.
func NewLedgerClient(cfg config.LedgerConfig, decimals int32, logger *logrus.Logger) *LedgerClient {
	timeout := 15 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	return &LedgerClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		decimals:   decimals,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Create records a confirmed withdrawal. A user with a non-terminal record
// gets PENDING_CONFLICT carrying the existing id when the ledger reports it.
func (c *LedgerClient) Create(ctx context.Context, record *models.WithdrawalRecord) (string, error) {
	req := dto.CreateWithdrawalRequest{
		UserID:      record.UserAddress,
		USDTAmount:  FormatTokenAmount(record.TokenAmount, c.decimals),
		BankDetails: dto.LedgerBankDetails(record.BankDetails),
		TxHash:      record.TxHash,
	}

	status, body, err := c.do(ctx, "create", http.MethodPost, "/create-withdrawal", req, nil)
	if err != nil {
		return "", err
	}

	var out dto.CreateWithdrawalResponse
	_ = json.Unmarshal(body, &out)

	switch {
	case status == http.StatusConflict:
		return "", apperror.PendingConflict(out.TransactionID)
	case !success(status):
		return "", apperror.New(apperror.ErrCodeInternal, fmt.Sprintf("ledger rejected withdrawal: status=%d, body=%s", status, ledgerText(out.Error, out.Message, body)))
	case out.TransactionID == "":
		return "", apperror.New(apperror.ErrCodeInternal, "ledger response carried no transactionId")
	}
	return out.TransactionID, nil
}

// CheckStatus current ledger status of a record. No side effects.
func (c *LedgerClient) CheckStatus(ctx context.Context, id string) (models.WithdrawalStatus, error) {
	status, body, err := c.do(ctx, "check_status", http.MethodPost, "/check-withdrawal-status", dto.TransactionIDRequest{TransactionID: id}, nil)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return "", apperror.New(apperror.ErrCodeNotFound, fmt.Sprintf("withdrawal %s not found", id))
	}
	if !success(status) {
		return "", apperror.New(apperror.ErrCodeInternal, fmt.Sprintf("ledger status check failed: status=%d, body=%s", status, string(body)))
	}

	var out dto.WithdrawalStatusResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", apperror.Wrap(err, apperror.ErrCodeLedgerUnavailable, "malformed ledger status response")
	}
	ws := models.WithdrawalStatus(strings.ToLower(out.Status))
	if !ws.IsKnown() {
		return "", apperror.New(apperror.ErrCodeInternal, fmt.Sprintf("ledger returned unknown status %q", out.Status))
	}
	return ws, nil
}

// Cancel marks a record cancelled. A record the ledger refuses to cancel,
// such as an already terminal one, fails with NOT_CANCELLABLE.
func (c *LedgerClient) Cancel(ctx context.Context, id string) error {
	status, body, err := c.do(ctx, "cancel", http.MethodPost, "/cancel-withdrawal", dto.TransactionIDRequest{TransactionID: id}, nil)
	if err != nil {
		return err
	}

	var out dto.CancelWithdrawalResponse
	_ = json.Unmarshal(body, &out)

	switch status {
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return apperror.New(apperror.ErrCodeNotCancellable, ledgerText(out.Error, out.Message, body))
	case http.StatusNotFound:
		return apperror.New(apperror.ErrCodeNotFound, fmt.Sprintf("withdrawal %s not found", id))
	}
	if !success(status) {
		return apperror.New(apperror.ErrCodeInternal, fmt.Sprintf("ledger cancel failed: status=%d, body=%s", status, string(body)))
	}
	if !out.OK {
		return apperror.New(apperror.ErrCodeNotCancellable, ledgerText(out.Error, out.Message, body))
	}
	return nil
}

// ListByUser every ledger record of the user.
func (c *LedgerClient) ListByUser(ctx context.Context, user common.Address) ([]models.WithdrawalRecord, error) {
	headers := map[string]string{"X-User-Address": user.Hex()}
	status, body, err := c.do(ctx, "list", http.MethodGet, "/withdrawals", nil, headers)
	if err != nil {
		return nil, err
	}
	if !success(status) {
		return nil, apperror.New(apperror.ErrCodeInternal, fmt.Sprintf("ledger list failed: status=%d, body=%s", status, string(body)))
	}

	var items []dto.LedgerWithdrawal
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeLedgerUnavailable, "malformed ledger list response")
	}

	records := make([]models.WithdrawalRecord, 0, len(items))
	for _, item := range items {
		amount, err := ParseTokenAmount(item.USDTAmount, c.decimals)
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"withdrawal_id": item.ID,
				"amount":        item.USDTAmount,
			}).Warn("ledger record has unparseable amount")
			amount = new(big.Int)
		}
		createdAt, _ := time.Parse(time.RFC3339, item.CreatedAt)

		userAddress := item.UserAddress
		if userAddress == "" {
			userAddress = user.Hex()
		}
		records = append(records, models.WithdrawalRecord{
			ID:          item.ID,
			UserAddress: userAddress,
			TokenAmount: amount,
			BankDetails: models.BankDetails(item.BankDetails),
			TxHash:      item.TxHash,
			Status:      models.WithdrawalStatus(strings.ToLower(item.Status)),
			CreatedAt:   createdAt,
		})
	}
	return records, nil
}

// FindNonTerminal first pending or awaiting-verification record, nil when none.
func (c *LedgerClient) FindNonTerminal(ctx context.Context, user common.Address) (*models.WithdrawalRecord, error) {
	records, err := c.ListByUser(ctx, user)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Status.IsKnown() && !records[i].Status.IsTerminal() {
			return &records[i], nil
		}
	}
	return nil, nil
}

// do sends one request. Transport failures and 5xx come back as LEDGER_UNAVAILABLE.
func (c *LedgerClient) do(ctx context.Context, op, method, path string, data interface{}, headers map[string]string) (int, []byte, error) {
	var body io.Reader
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode ledger request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create ledger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.LedgerRequests.WithLabelValues(op, "unavailable").Inc()
		if errors.Is(err, context.Canceled) {
			return 0, nil, err
		}
		return 0, nil, apperror.Wrap(err, apperror.ErrCodeLedgerUnavailable, "ledger unreachable")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.LedgerRequests.WithLabelValues(op, "unavailable").Inc()
		return 0, nil, apperror.Wrap(err, apperror.ErrCodeLedgerUnavailable, "failed to read ledger response")
	}

	if resp.StatusCode >= 500 {
		metrics.LedgerRequests.WithLabelValues(op, "unavailable").Inc()
		return 0, nil, apperror.New(apperror.ErrCodeLedgerUnavailable, fmt.Sprintf("ledger returned %d", resp.StatusCode))
	}

	result := "ok"
	if !success(resp.StatusCode) {
		result = fmt.Sprintf("%d", resp.StatusCode)
	}
	metrics.LedgerRequests.WithLabelValues(op, result).Inc()
	return resp.StatusCode, respBody, nil
}

func success(status int) bool {
	return status >= 200 && status < 300
}

func ledgerText(errText, message string, body []byte) string {
	if errText != "" {
		return errText
	}
	if message != "" {
		return message
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return "ledger refused the request"
}

// FormatTokenAmount smallest unit to a human-readable decimal string.
func FormatTokenAmount(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).String()
}

// ParseTokenAmount human-readable decimal string to smallest unit.
func ParseTokenAmount(value string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, err
	}
	return d.Shift(decimals).BigInt(), nil
}

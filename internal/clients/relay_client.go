package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"withdraw-backend/internal/apperror"
	"withdraw-backend/internal/config"
	"withdraw-backend/internal/dto"
	"withdraw-backend/internal/metrics"
	"withdraw-backend/internal/models"
)

const executeMetaWithdrawal = "executeMetaWithdrawal"

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// relay errors that mean the relayer itself cannot pay for gas
var fundExhaustionMarkers = []string{
	"insufficient funds",
	"out of gas funds",
	"balance too low",
}

// RelayClient gas relay client. Submits signed authorizations; confirmation is
// left to the chain gateway.
type RelayClient struct {
	url        string
	apiKey     string
	speed      string
	contract   common.Address
	chainID    int64
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewRelayClient Create relay client
func NewRelayClient(relayCfg config.RelayConfig, chainCfg config.BlockchainConfig, logger *logrus.Logger) *RelayClient {
	timeout := 30 * time.Second
	if relayCfg.Timeout > 0 {
		timeout = time.Duration(relayCfg.Timeout) * time.Second
	}

	return &RelayClient{
		url:        relayCfg.URL,
		apiKey:     relayCfg.APIKey,
		speed:      relayCfg.Speed,
		contract:   common.HexToAddress(chainCfg.WithdrawalContract),
		chainID:    chainCfg.ChainID,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// BuildRequest relay payload for an authorization
func (c *RelayClient) BuildRequest(auth *models.SignedAuthorization) dto.RelayRequest {
	req := auth.Request
	return dto.RelayRequest{
		ContractAddress: c.contract.Hex(),
		FunctionName:    executeMetaWithdrawal,
		Args: []string{
			req.UserAddress.Hex(),
			req.TokenAmount.String(),
			req.BankDetails.Canonical(),
			req.Deadline.String(),
			fmt.Sprintf("%d", auth.V),
			hexutil.Encode(auth.R[:]),
			hexutil.Encode(auth.S[:]),
		},
		UserAddress: req.UserAddress.Hex(),
		Signature:   hexutil.Encode(auth.Signature),
		ChainID:     c.chainID,
		Speed:       c.speed,
	}
}

// Submit posts the authorization and returns the relayed transaction hash.
func (c *RelayClient) Submit(ctx context.Context, auth *models.SignedAuthorization) (common.Hash, error) {
	payload, err := json.Marshal(c.BuildRequest(auth))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode relay request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to create relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Idempotency-Key", uuid.NewString())
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	// once the request is on the wire the relay may already have broadcast
	var written atomic.Bool
	req = req.WithContext(httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				written.Store(true)
			}
		},
	}))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RelaySubmissions.WithLabelValues("transport_error").Inc()
		if written.Load() {
			return common.Hash{}, c.outcomeUnknown(auth, err, "relay connection lost after the withdrawal was sent")
		}
		return common.Hash{}, apperror.Wrap(err, apperror.ErrCodeRelayRejected, "relay unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RelaySubmissions.WithLabelValues("transport_error").Inc()
		return common.Hash{}, c.outcomeUnknown(auth, err, "failed to read relay response")
	}

	var out dto.RelayResponse
	decodeErr := json.Unmarshal(body, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || out.Error != "" {
		metrics.RelaySubmissions.WithLabelValues("rejected").Inc()
		text := out.Error
		if text == "" {
			text = strings.TrimSpace(string(body))
		}
		if text == "" {
			text = http.StatusText(resp.StatusCode)
		}
		c.logger.WithFields(logrus.Fields{
			"user":   auth.Request.UserAddress.Hex(),
			"status": resp.StatusCode,
		}).Warnf("relay rejected submission: %s", text)
		return common.Hash{}, relayRejected(text)
	}

	if decodeErr != nil || !txHashPattern.MatchString(out.Hash) {
		metrics.RelaySubmissions.WithLabelValues("invalid_response").Inc()
		appErr := apperror.New(apperror.ErrCodeRelayResponseInvalid, "relay response carried no transaction hash")
		if decodeErr != nil {
			appErr.Cause = decodeErr
		}
		return common.Hash{}, appErr.WithSupport()
	}

	metrics.RelaySubmissions.WithLabelValues("accepted").Inc()
	return common.HexToHash(out.Hash), nil
}

// outcomeUnknown the relay saw the authorization but its answer was lost.
func (c *RelayClient) outcomeUnknown(auth *models.SignedAuthorization, cause error, message string) *apperror.AppError {
	c.logger.WithFields(logrus.Fields{
		"user":  auth.Request.UserAddress.Hex(),
		"nonce": auth.Request.Nonce.String(),
	}).WithError(cause).Error("relay outcome unknown")
	return apperror.Wrap(cause, apperror.ErrCodeRelayResponseInvalid, message).WithSupport()
}

// relayRejected keeps the relay's text verbatim for diagnosis.
func relayRejected(text string) *apperror.AppError {
	appErr := apperror.New(apperror.ErrCodeRelayRejected, text)
	lower := strings.ToLower(text)
	for _, marker := range fundExhaustionMarkers {
		if strings.Contains(lower, marker) {
			return appErr.WithSupport()
		}
	}
	return appErr
}

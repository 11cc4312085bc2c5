package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"withdraw-backend/internal/config"
	"withdraw-backend/internal/dto"
)

// WalletClient remote custody signer client
type WalletClient struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewWalletClient Create custody signer client
func NewWalletClient(cfg config.WalletConfig) *WalletClient {
	timeout := 30 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	return &WalletClient{
		baseURL:   cfg.ServiceURL,
		authToken: cfg.AuthToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SignTypedData asks the custody signer for an EIP-712 signature.
func (c *WalletClient) SignTypedData(ctx context.Context, account common.Address, typedData apitypes.TypedData) ([]byte, error) {
	var chainID int64
	if typedData.Domain.ChainId != nil {
		chainID = (*big.Int)(typedData.Domain.ChainId).Int64()
	}

	req := dto.SignTypedDataRequest{
		Address:   account.Hex(),
		ChainID:   chainID,
		TypedData: typedData,
	}
	return c.sign(ctx, "/api/v1/sign/typed-data", req)
}

// SignTx signs the transaction digest remotely and applies the signature.
func (c *WalletClient) SignTx(ctx context.Context, account common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signer := types.LatestSignerForChainID(chainID)
	digest := signer.Hash(tx)

	sig, err := c.sign(ctx, "/api/v1/sign/hash", dto.SignHashRequest{
		Address: account.Hex(),
		ChainID: chainID.Int64(),
		Data:    digest.Hex(),
	})
	if err != nil {
		return nil, err
	}

	// transaction signatures carry the raw recovery id
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	signedTx, err := tx.WithSignature(signer, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to apply signature: %w", err)
	}
	return signedTx, nil
}

// HealthCheck custody signer health
func (c *WalletClient) HealthCheck(ctx context.Context) error {
	response, err := c.makeRequest(ctx, http.MethodGet, "/api/v1/health", nil)
	if err != nil {
		return fmt.Errorf("wallet signer health check failed: %w", err)
	}

	var healthResp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(response, &healthResp); err != nil {
		return fmt.Errorf("failed to parse wallet signer health response: %w", err)
	}
	if healthResp.Status != "healthy" {
		return fmt.Errorf("wallet signer status: %s", healthResp.Status)
	}
	return nil
}

func (c *WalletClient) sign(ctx context.Context, path string, data interface{}) ([]byte, error) {
	response, err := c.makeRequest(ctx, http.MethodPost, path, data)
	if err != nil {
		return nil, fmt.Errorf("wallet signer request failed: %w", err)
	}

	var signResp dto.SignResponse
	if err := json.Unmarshal(response, &signResp); err != nil {
		return nil, fmt.Errorf("failed to parse wallet signer response: %w", err)
	}
	if !signResp.Success {
		return nil, fmt.Errorf("wallet signer refused: %s", signResp.Error)
	}

	sig, err := hexutil.Decode(signResp.Signature)
	if err != nil {
		return nil, fmt.Errorf("wallet signer returned malformed signature: %w", err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("wallet signer returned %d-byte signature, want 65", len(sig))
	}
	return sig, nil
}

// makeRequest HTTP request
func (c *WalletClient) makeRequest(ctx context.Context, method, path string, data interface{}) ([]byte, error) {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
		req.Header.Set("X-Service-Name", serviceName)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP request failed: status=%d, body=%s", resp.StatusCode, string(responseBody))
	}

	return responseBody, nil
}

package clients

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"withdraw-backend/internal/config"
	"withdraw-backend/internal/dto"
)

func TestWalletClient_SignTx(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	account := crypto.PubkeyToAddress(key.PublicKey)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sign/hash", r.URL.Path)
		assert.Equal(t, "Bearer signer-token", r.Header.Get("Authorization"))

		var req dto.SignHashRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, account.Hex(), req.Address)
		assert.Equal(t, int64(56), req.ChainID)

		sig, err := crypto.Sign(common.HexToHash(req.Data).Bytes(), key)
		if !assert.NoError(t, err) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		sig[64] += 27 // custody signers answer in the 27/28 form
		json.NewEncoder(w).Encode(dto.SignResponse{Success: true, Signature: hexutil.Encode(sig)})
	}))
	defer server.Close()

	client := NewWalletClient(config.WalletConfig{ServiceURL: server.URL, AuthToken: "signer-token"})
	token := common.HexToAddress("0x55d398326f99059fF775485246999027B3197955")
	tx := types.NewTx(&types.LegacyTx{Nonce: 3, To: &token, Value: big.NewInt(0), Gas: 50000, GasPrice: big.NewInt(1e9)})

	signed, err := client.SignTx(context.Background(), account, tx, big.NewInt(56))
	require.NoError(t, err)

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(56)), signed)
	require.NoError(t, err)
	assert.Equal(t, account, sender)
}

func TestWalletClient_Refused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(dto.SignResponse{Success: false, Error: "account locked"})
	}))
	defer server.Close()

	client := NewWalletClient(config.WalletConfig{ServiceURL: server.URL})
	_, err := client.sign(context.Background(), "/api/v1/sign/hash", dto.SignHashRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account locked")
}

func TestWalletClient_ShortSignature(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(dto.SignResponse{Success: true, Signature: "0x1234"})
	}))
	defer server.Close()

	client := NewWalletClient(config.WalletConfig{ServiceURL: server.URL})
	_, err := client.sign(context.Background(), "/api/v1/sign/hash", dto.SignHashRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2-byte signature")
}

func TestWalletClient_HealthCheck(t *testing.T) {
	status := "healthy"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/health", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	}))
	defer server.Close()

	client := NewWalletClient(config.WalletConfig{ServiceURL: server.URL})
	assert.NoError(t, client.HealthCheck(context.Background()))

	status = "degraded"
	assert.ErrorContains(t, client.HealthCheck(context.Background()), "degraded")
}

func TestWalletClient_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewWalletClient(config.WalletConfig{ServiceURL: server.URL})
	err := client.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=500")
}

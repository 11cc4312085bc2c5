package services

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"withdraw-backend/internal/apperror"
	"withdraw-backend/internal/config"
	"withdraw-backend/internal/models"
)

var testChainConfig = config.BlockchainConfig{
	ChainID:            56,
	TokenContract:      "0x55d398326f99059fF775485246999027B3197955",
	WithdrawalContract: "0x1111111111111111111111111111111111111111",
	TokenDecimals:      18,
	DomainName:         "MetaWithdrawal",
	DomainVersion:      "1",
}

var testBank = models.BankDetails{
	BankName:      "First Bank",
	AccountNumber: "0123456789",
	AccountName:   "Ada Obi",
}

func newTestKeystore(t *testing.T) (*KeyManagementService, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	ks, err := NewKeyManagementService(nil)
	require.NoError(t, err)
	return ks, ks.Add(key)
}

// impostorWallet signs every request with a fixed other account.
type impostorWallet struct {
	inner   *KeyManagementService
	account common.Address
}

func (w *impostorWallet) SignTypedData(ctx context.Context, _ common.Address, typedData apitypes.TypedData) ([]byte, error) {
	return w.inner.SignTypedData(ctx, w.account, typedData)
}

func (w *impostorWallet) SignTx(ctx context.Context, _ common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return w.inner.SignTx(ctx, w.account, tx, chainID)
}

func TestAuthorizationSigner_SignRecovers(t *testing.T) {
	ks, user := newTestKeystore(t)
	signer := NewAuthorizationSigner(ks, testChainConfig, 10*time.Minute)
	now := time.Unix(1_700_000_000, 0)
	signer.now = func() time.Time { return now }

	req := signer.NewRequest(user, big.NewInt(5_000), testBank, big.NewInt(7))
	assert.Equal(t, now.Add(10*time.Minute).Unix(), req.Deadline.Int64())
	assert.False(t, req.Expired(now))
	assert.True(t, req.Expired(now.Add(10*time.Minute)))

	auth, err := signer.Sign(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, auth.Signature, 65)
	assert.Contains(t, []uint8{27, 28}, auth.V)
	assert.Equal(t, auth.Signature[:32], auth.R[:])
	assert.Equal(t, auth.Signature[32:64], auth.S[:])

	recovered, err := signer.Recover(signer.BuildTypedData(req), auth.Signature)
	require.NoError(t, err)
	assert.Equal(t, user, recovered)
}

func TestAuthorizationSigner_DomainBinding(t *testing.T) {
	ks, user := newTestKeystore(t)
	signer := NewAuthorizationSigner(ks, testChainConfig, time.Minute)
	req := signer.NewRequest(user, big.NewInt(1), testBank, big.NewInt(0))
	auth, err := signer.Sign(context.Background(), req)
	require.NoError(t, err)

	otherChain := testChainConfig
	otherChain.ChainID = 1
	other := NewAuthorizationSigner(ks, otherChain, time.Minute)
	recovered, err := other.Recover(other.BuildTypedData(req), auth.Signature)
	require.NoError(t, err)
	assert.NotEqual(t, user, recovered)
}

func TestAuthorizationSigner_Mismatch(t *testing.T) {
	ks, user := newTestKeystore(t)
	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	impostor := ks.Add(otherKey)

	signer := NewAuthorizationSigner(&impostorWallet{inner: ks, account: impostor}, testChainConfig, time.Minute)
	req := signer.NewRequest(user, big.NewInt(1), testBank, big.NewInt(0))

	_, err = signer.Sign(context.Background(), req)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.ErrCodeSignatureMismatch))
	assert.True(t, apperror.IsSupportRequired(err))
}

func TestAuthorizationSigner_UnknownAccount(t *testing.T) {
	ks, _ := newTestKeystore(t)
	signer := NewAuthorizationSigner(ks, testChainConfig, time.Minute)
	req := signer.NewRequest(common.HexToAddress("0x2222222222222222222222222222222222222222"), big.NewInt(1), testBank, big.NewInt(0))

	_, err := signer.Sign(context.Background(), req)
	require.Error(t, err)
	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.True(t, appErr.Retryable)
}

func TestNewRequest_CopiesInputs(t *testing.T) {
	ks, user := newTestKeystore(t)
	signer := NewAuthorizationSigner(ks, testChainConfig, time.Minute)
	amount := big.NewInt(10)
	req := signer.NewRequest(user, amount, testBank, big.NewInt(0))
	amount.SetInt64(99)
	assert.Equal(t, int64(10), req.TokenAmount.Int64())
}

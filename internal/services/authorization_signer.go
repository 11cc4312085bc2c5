package services

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"withdraw-backend/internal/apperror"
	"withdraw-backend/internal/config"
	"withdraw-backend/internal/interfaces"
	"withdraw-backend/internal/models"
)

const metaWithdrawalType = "MetaWithdrawal"

var metaWithdrawalTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	metaWithdrawalType: {
		{Name: "user", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "bankDetails", Type: "string"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
}

// AuthorizationSigner builds domain-bound withdrawal messages and collects the
// user's wallet signature over them.
type AuthorizationSigner struct {
	wallet            interfaces.WalletSigner
	chainID           int64
	verifyingContract common.Address
	domainName        string
	domainVersion     string
	deadlineWindow    time.Duration
	now               func() time.Time
}

// NewAuthorizationSigner Create signer bound to the configured withdrawal contract
func NewAuthorizationSigner(wallet interfaces.WalletSigner, chainCfg config.BlockchainConfig, deadlineWindow time.Duration) *AuthorizationSigner {
	if deadlineWindow <= 0 {
		deadlineWindow = 30 * time.Minute
	}
	return &AuthorizationSigner{
		wallet:            wallet,
		chainID:           chainCfg.ChainID,
		verifyingContract: common.HexToAddress(chainCfg.WithdrawalContract),
		domainName:        chainCfg.DomainName,
		domainVersion:     chainCfg.DomainVersion,
		deadlineWindow:    deadlineWindow,
		now:               time.Now,
	}
}

// NewRequest fresh request for one attempt; the deadline starts now.
func (s *AuthorizationSigner) NewRequest(user common.Address, amount *big.Int, bank models.BankDetails, nonce *big.Int) *models.WithdrawalRequest {
	return &models.WithdrawalRequest{
		UserAddress: user,
		TokenAmount: new(big.Int).Set(amount),
		BankDetails: bank,
		Deadline:    big.NewInt(s.now().Add(s.deadlineWindow).Unix()),
		Nonce:       new(big.Int).Set(nonce),
	}
}

// BuildTypedData EIP-712 payload for req
func (s *AuthorizationSigner) BuildTypedData(req *models.WithdrawalRequest) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       metaWithdrawalTypes,
		PrimaryType: metaWithdrawalType,
		Domain: apitypes.TypedDataDomain{
			Name:              s.domainName,
			Version:           s.domainVersion,
			ChainId:           math.NewHexOrDecimal256(s.chainID),
			VerifyingContract: s.verifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"user":        req.UserAddress.Hex(),
			"amount":      req.TokenAmount.String(),
			"bankDetails": req.BankDetails.Canonical(),
			"nonce":       req.Nonce.String(),
			"deadline":    req.Deadline.String(),
		},
	}
}

// Sign obtains the wallet signature and verifies it recovers to the user
// before anything is sent over the network.
func (s *AuthorizationSigner) Sign(ctx context.Context, req *models.WithdrawalRequest) (*models.SignedAuthorization, error) {
	typedData := s.BuildTypedData(req)

	sig, err := s.wallet.SignTypedData(ctx, req.UserAddress, typedData)
	if err != nil {
		appErr := apperror.Wrap(err, apperror.ErrCodeInternal, "wallet did not sign the withdrawal")
		appErr.Retryable = true
		return nil, appErr
	}
	if len(sig) != 65 {
		return nil, apperror.New(apperror.ErrCodeSignatureMismatch, fmt.Sprintf("wallet returned %d-byte signature", len(sig))).WithSupport()
	}

	recovered, err := s.Recover(typedData, sig)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeSignatureMismatch, "signature does not recover").WithSupport()
	}
	if recovered != req.UserAddress {
		return nil, apperror.New(apperror.ErrCodeSignatureMismatch,
			fmt.Sprintf("signature recovers to %s, expected %s", recovered.Hex(), req.UserAddress.Hex())).WithSupport()
	}

	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] < 27 {
		normalized[64] += 27
	}

	auth := &models.SignedAuthorization{
		Request:   *req,
		Signature: normalized,
		V:         normalized[64],
	}
	copy(auth.R[:], normalized[:32])
	copy(auth.S[:], normalized[32:64])
	return auth, nil
}

// Recover signer address of an EIP-712 signature. v may be 0/1 or 27/28.
func (s *AuthorizationSigner) Recover(typedData apitypes.TypedData, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(sig))
	}
	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash typed data: %w", err)
	}

	raw := make([]byte, 65)
	copy(raw, sig)
	if raw[64] >= 27 {
		raw[64] -= 27
	}
	pub, err := crypto.SigToPub(digest, raw)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

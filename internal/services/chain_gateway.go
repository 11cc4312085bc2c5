package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"withdraw-backend/internal/apperror"
	"withdraw-backend/internal/config"
	"withdraw-backend/internal/interfaces"
	"withdraw-backend/internal/metrics"
	"withdraw-backend/internal/models"
)

const erc20ABIJSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const withdrawalABIJSON = `[
	{"type":"function","name":"nonces","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// default approval gas limit when estimation fails
const fallbackApproveGas = 100000

var (
	erc20ABI      = mustParseABI(erc20ABIJSON)
	withdrawalABI = mustParseABI(withdrawalABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid abi: %v", err))
	}
	return parsed
}

// ChainBackend subset of the RPC client used by the gateway; *ethclient.Client satisfies it.
type ChainBackend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// ChainGateway sole reader of chain state and sender of on-chain transactions
type ChainGateway struct {
	backend  ChainBackend
	wallet   interfaces.WalletSigner
	token    common.Address
	chainID  *big.Int
	gasLimit uint64

	retryAttempts       int
	retryBackoff        time.Duration
	pollInterval        time.Duration
	confirmationTimeout time.Duration

	logger *logrus.Logger
}

// NewChainGateway creates the gateway for the configured token and chain.
func NewChainGateway(backend ChainBackend, wallet interfaces.WalletSigner, cfg *config.Config, logger *logrus.Logger) *ChainGateway {
	return &ChainGateway{
		backend:             backend,
		wallet:              wallet,
		token:               common.HexToAddress(cfg.Blockchain.TokenContract),
		chainID:             big.NewInt(cfg.Blockchain.ChainID),
		gasLimit:            cfg.Blockchain.GasLimit,
		retryAttempts:       cfg.Withdrawal.ReadRetryAttempts,
		retryBackoff:        cfg.Withdrawal.ReadRetryBackoffDuration(),
		pollInterval:        cfg.Withdrawal.ReceiptPollIntervalDuration(),
		confirmationTimeout: cfg.Withdrawal.ConfirmationTimeoutDuration(),
		logger:              logger,
	}
}

// Token configured ERC-20 address
func (g *ChainGateway) Token() common.Address {
	return g.token
}

// Balance ERC-20 balanceOf
func (g *ChainGateway) Balance(ctx context.Context, token, address common.Address) (*big.Int, error) {
	return g.readUint(ctx, erc20ABI, token, "balanceOf", address)
}

// Allowance ERC-20 allowance on the configured token
func (g *ChainGateway) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return g.readUint(ctx, erc20ABI, g.token, "allowance", owner, spender)
}

// Nonce withdrawal contract nonce of user
func (g *ChainGateway) Nonce(ctx context.Context, withdrawalContract, user common.Address) (*big.Int, error) {
	return g.readUint(ctx, withdrawalABI, withdrawalContract, "nonces", user)
}

// readUint calls a single-uint256 view method with bounded retry.
func (g *ChainGateway) readUint(ctx context.Context, contractABI abi.ABI, contract common.Address, method string, args ...interface{}) (*big.Int, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	var value *big.Int
	err = withRetry(ctx, g.retryAttempts, g.retryBackoff, nil, func(attempt int) error {
		if attempt > 1 {
			metrics.ChainReadRetries.WithLabelValues(method).Inc()
		}
		out, err := g.backend.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
		if err != nil {
			return err
		}
		values, err := contractABI.Unpack(method, out)
		if err != nil {
			return err
		}
		v, ok := values[0].(*big.Int)
		if !ok {
			return fmt.Errorf("unexpected %s output type %T", method, values[0])
		}
		value = v
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		metrics.ChainReadFailures.WithLabelValues(method).Inc()
		g.logger.WithFields(logrus.Fields{
			"method":   method,
			"contract": contract.Hex(),
		}).WithError(err).Warn("chain read failed after retries")
		return nil, apperror.Wrap(err, apperror.ErrCodeChainRead, fmt.Sprintf("%s failed after %d attempts", method, g.retryAttempts))
	}
	return value, nil
}

// EnsureAllowance approves amount for spender when the current allowance is
// lower and waits for one confirmation. Returns whether an approval was sent.
func (g *ChainGateway) EnsureAllowance(ctx context.Context, owner, spender common.Address, amount *big.Int) (bool, error) {
	allowance, err := g.Allowance(ctx, owner, spender)
	if err != nil {
		return false, err
	}
	if allowance.Cmp(amount) >= 0 {
		return false, nil
	}

	log := g.logger.WithFields(logrus.Fields{
		"user":      owner.Hex(),
		"spender":   spender.Hex(),
		"amount":    amount.String(),
		"allowance": allowance.String(),
	})
	log.Info("allowance insufficient, sending approval")

	txHash, err := g.sendApproval(ctx, owner, spender, amount)
	if err != nil {
		return false, err
	}

	if _, err := g.AwaitConfirmation(ctx, txHash, 1, g.confirmationTimeout); err != nil {
		if apperror.Is(err, apperror.ErrCodeTransactionReverted) {
			return false, apperror.Wrap(err, apperror.ErrCodeApprovalFailed, "approval transaction failed").WithTxHash(txHash.Hex())
		}
		return false, err
	}

	log.WithField("tx_hash", txHash.Hex()).Info("approval confirmed")
	return true, nil
}

func (g *ChainGateway) sendApproval(ctx context.Context, owner, spender common.Address, amount *big.Int) (common.Hash, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack approve: %w", err)
	}

	nonce, err := g.backend.PendingNonceAt(ctx, owner)
	if err != nil {
		return common.Hash{}, apperror.Wrap(err, apperror.ErrCodeApprovalFailed, "failed to get account nonce")
	}

	gasPrice, err := g.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, apperror.Wrap(err, apperror.ErrCodeApprovalFailed, "failed to get gas price")
	}
	// 20% headroom
	gasPrice = new(big.Int).Div(new(big.Int).Mul(gasPrice, big.NewInt(120)), big.NewInt(100))

	gasLimit := g.gasLimit
	if gasLimit == 0 {
		estimated, err := g.backend.EstimateGas(ctx, ethereum.CallMsg{From: owner, To: &g.token, Data: data})
		if err != nil {
			g.logger.WithError(err).Warn("approve gas estimation failed, using fallback limit")
			estimated = fallbackApproveGas
		}
		gasLimit = estimated
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &g.token,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signedTx, err := g.wallet.SignTx(ctx, owner, tx, g.chainID)
	if err != nil {
		return common.Hash{}, apperror.Wrap(err, apperror.ErrCodeApprovalFailed, "wallet refused to sign approval")
	}
	if err := g.backend.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, apperror.Wrap(err, apperror.ErrCodeApprovalFailed, "failed to broadcast approval")
	}

	metrics.ApprovalsSent.Inc()
	return signedTx.Hash(), nil
}

// AwaitConfirmation polls for the receipt of txHash until it is the given
// number of blocks deep. A reverted receipt fails immediately; running out of
// time fails with CONFIRMATION_TIMEOUT.
func (g *ChainGateway) AwaitConfirmation(ctx context.Context, txHash common.Hash, confirmations uint64, timeout time.Duration) (*models.RelayReceipt, error) {
	if confirmations == 0 {
		confirmations = 1
	}
	if timeout <= 0 {
		timeout = g.confirmationTimeout
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := g.backend.TransactionReceipt(waitCtx, txHash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status == types.ReceiptStatusFailed {
				return nil, apperror.New(apperror.ErrCodeTransactionReverted, "transaction reverted on chain").WithTxHash(txHash.Hex())
			}
			if depth, ok := g.depth(waitCtx, receipt); ok && depth >= confirmations {
				return &models.RelayReceipt{
					TransactionHash:    txHash,
					Confirmed:          true,
					BlockConfirmations: depth,
					BlockNumber:        receipt.BlockNumber.Uint64(),
				}, nil
			}
		case err != nil && !errors.Is(err, ethereum.NotFound) && waitCtx.Err() == nil:
			g.logger.WithField("tx_hash", txHash.Hex()).WithError(err).Debug("receipt lookup failed, still waiting")
		}

		select {
		case <-waitCtx.Done():
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, apperror.New(apperror.ErrCodeConfirmationTimeout, fmt.Sprintf("transaction not confirmed within %s", timeout)).WithTxHash(txHash.Hex())
		case <-ticker.C:
		}
	}
}

func (g *ChainGateway) depth(ctx context.Context, receipt *types.Receipt) (uint64, bool) {
	if receipt.BlockNumber == nil {
		return 0, false
	}
	head, err := g.backend.BlockNumber(ctx)
	if err != nil {
		return 0, false
	}
	mined := receipt.BlockNumber.Uint64()
	if head < mined {
		return 0, false
	}
	return head - mined + 1, true
}

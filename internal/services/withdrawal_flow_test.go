package services

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"withdraw-backend/internal/models"
	"withdraw-backend/internal/repository"
)

// Balance 500, allowance 0, withdraw 100: approve(100) is mined before the
// authorization reaches the relay.
func TestWithdrawalFlow_ApprovesBeforeRelay(t *testing.T) {
	ks, user := newTestKeystore(t)
	cfg := testConfig()
	withdrawalContract := common.HexToAddress(testChainConfig.WithdrawalContract)
	relayed := common.HexToHash(confirmedTx)

	chain := newFakeChain()
	chain.balances[user] = big.NewInt(500)
	chain.nonces[user] = big.NewInt(4)
	chain.addReceipt(relayed, types.ReceiptStatusSuccessful, 100)
	gateway := NewChainGateway(chain, ks, cfg, testLogger())

	var sentBeforeRelay []*types.Transaction
	relay := new(mockRelay)
	relay.On("Submit", mock.Anything, mock.AnythingOfType("*models.SignedAuthorization")).
		Run(func(mock.Arguments) { sentBeforeRelay = chain.Sent() }).
		Return(relayed, nil).Once()

	ledger := new(mockLedger)
	ledger.On("ListByUser", mock.Anything, user).Return([]models.WithdrawalRecord{}, nil).Once()
	ledger.On("Create", mock.Anything, mock.MatchedBy(func(r *models.WithdrawalRecord) bool {
		return r.TokenAmount.Int64() == 100 && r.TxHash == relayed.Hex()
	})).Return("wd-1", nil).Once()
	ledger.On("CheckStatus", mock.Anything, "wd-1").Return(models.WithdrawalStatusPending, nil).Maybe()

	orchestrator, err := NewWithdrawalOrchestrator(cfg, OrchestratorDeps{
		Chain:    gateway,
		Signer:   NewAuthorizationSigner(ks, cfg.Blockchain, cfg.Withdrawal.DeadlineWindowDuration()),
		Relay:    relay,
		Ledger:   ledger,
		Sessions: repository.NewMemorySessionStore(),
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(orchestrator.Shutdown)

	result, err := orchestrator.Submit(context.Background(), user, models.WithdrawalForm{
		Amount:      big.NewInt(100),
		BankDetails: testBank,
	})
	require.NoError(t, err)
	assert.True(t, result.Approved)
	assert.Equal(t, "wd-1", result.WithdrawalID)

	require.Len(t, sentBeforeRelay, 1)
	approval := sentBeforeRelay[0]
	assert.Equal(t, gateway.Token(), *approval.To())
	method, err := erc20ABI.MethodById(approval.Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, "approve", method.Name)
	args, err := method.Inputs.Unpack(approval.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, withdrawalContract, args[0])
	assert.Equal(t, int64(100), args[1].(*big.Int).Int64())

	submitted := relay.Calls[0].Arguments.Get(1).(*models.SignedAuthorization)
	assert.Equal(t, int64(100), submitted.Request.TokenAmount.Int64())
	assert.Equal(t, int64(4), submitted.Request.Nonce.Int64())
	assert.Len(t, chain.Sent(), 1)
	ledger.AssertExpectations(t)
}

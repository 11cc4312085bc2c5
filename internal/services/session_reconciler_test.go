package services

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"withdraw-backend/internal/apperror"
	"withdraw-backend/internal/models"
	"withdraw-backend/internal/repository"
)

func newReconcilerFixture(t *testing.T) (*orchestratorFixture, *SessionReconciler) {
	t.Helper()
	f := newOrchestratorFixture(t)
	return f, NewSessionReconciler(f.sessions, f.ledger, f.orchestrator, testLogger())
}

func TestReconcile_ResumesStoredSessionWithoutSigning(t *testing.T) {
	f, reconciler := newReconcilerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sessions.Set(ctx, f.user.Hex(), "wd-1"))

	f.ledger.On("ListByUser", mock.Anything, f.user).Return([]models.WithdrawalRecord{{
		ID:          "wd-1",
		UserAddress: f.user.Hex(),
		TokenAmount: big.NewInt(500),
		TxHash:      confirmedTx,
		Status:      models.WithdrawalStatusPending,
	}}, nil)
	f.ledger.On("CheckStatus", mock.Anything, "wd-1").Return(models.WithdrawalStatusAwaitingVerification, nil)

	snapshot, err := reconciler.Reconcile(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, models.StateAwaitingVerification, snapshot.State)
	assert.Equal(t, "wd-1", snapshot.WithdrawalID)
	assert.Equal(t, "500", snapshot.Amount)
	assert.Equal(t, confirmedTx, snapshot.TxHash)

	// a second reconcile keeps the same poller
	_, err = reconciler.Reconcile(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, []models.State{models.StateAwaitingVerification}, f.log.States())

	f.chain.AssertNotCalled(t, "Nonce", mock.Anything, mock.Anything, mock.Anything)
	f.relay.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
	f.ledger.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestReconcile_ClearsFinishedSession(t *testing.T) {
	f, reconciler := newReconcilerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sessions.Set(ctx, f.user.Hex(), "wd-1"))

	f.ledger.On("ListByUser", mock.Anything, f.user).Return([]models.WithdrawalRecord{
		{ID: "wd-1", Status: models.WithdrawalStatusVerified},
	}, nil)
	f.ledger.On("CheckStatus", mock.Anything, "wd-1").Return(models.WithdrawalStatusVerified, nil)

	snapshot, err := reconciler.Reconcile(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, models.StateIdle, snapshot.State)

	_, err = f.sessions.Get(ctx, f.user.Hex())
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)
}

func TestReconcile_ClearsUnknownSession(t *testing.T) {
	f, reconciler := newReconcilerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sessions.Set(ctx, f.user.Hex(), "wd-gone"))

	f.ledger.On("ListByUser", mock.Anything, f.user).Return([]models.WithdrawalRecord{}, nil)
	f.ledger.On("CheckStatus", mock.Anything, "wd-gone").Return(models.WithdrawalStatus(""), apperror.New(apperror.ErrCodeNotFound, "not found"))

	snapshot, err := reconciler.Reconcile(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, models.StateIdle, snapshot.State)
	_, err = f.sessions.Get(ctx, f.user.Hex())
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)
}

func TestReconcile_AdoptsOpenLedgerRecord(t *testing.T) {
	f, reconciler := newReconcilerFixture(t)
	ctx := context.Background()

	f.ledger.On("ListByUser", mock.Anything, f.user).Return([]models.WithdrawalRecord{
		{ID: "wd-old", Status: models.WithdrawalStatusCancelled},
		{ID: "wd-2", Status: models.WithdrawalStatusPending, TokenAmount: big.NewInt(900)},
	}, nil)
	f.ledger.On("CheckStatus", mock.Anything, "wd-2").Return(models.WithdrawalStatusPending, nil).Maybe()

	snapshot, err := reconciler.Reconcile(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, models.StateAwaitingVerification, snapshot.State)
	assert.Equal(t, "wd-2", snapshot.WithdrawalID)

	id, err := f.sessions.Get(ctx, f.user.Hex())
	require.NoError(t, err)
	assert.Equal(t, "wd-2", id)
}

func TestReconcile_LedgerDownKeepsStoredSession(t *testing.T) {
	f, reconciler := newReconcilerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sessions.Set(ctx, f.user.Hex(), "wd-1"))

	unavailable := apperror.New(apperror.ErrCodeLedgerUnavailable, "ledger returned 503")
	f.ledger.On("ListByUser", mock.Anything, f.user).Return(nil, unavailable)
	f.ledger.On("CheckStatus", mock.Anything, "wd-1").Return(models.WithdrawalStatus(""), unavailable)

	snapshot, err := reconciler.Reconcile(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, models.StateAwaitingVerification, snapshot.State)
	assert.Equal(t, "wd-1", snapshot.WithdrawalID)

	require.Eventually(t, func() bool {
		return f.orchestrator.Status(f.user).PollErrors > 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, f.orchestrator.Status(f.user).Warning, "still tracking")
}

func TestReconcileAll(t *testing.T) {
	f, reconciler := newReconcilerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sessions.Set(ctx, f.user.Hex(), "wd-1"))
	require.NoError(t, f.sessions.Set(ctx, "not-an-address", "wd-x"))

	f.ledger.On("ListByUser", mock.Anything, f.user).Return([]models.WithdrawalRecord{}, nil)
	f.ledger.On("CheckStatus", mock.Anything, "wd-1").Return(models.WithdrawalStatusPending, nil)

	require.NoError(t, reconciler.ReconcileAll(ctx))
	assert.Equal(t, models.StateAwaitingVerification, f.orchestrator.Status(f.user).State)
}

func TestSessionSweeper_SingleRun(t *testing.T) {
	f, reconciler := newReconcilerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sessions.Set(ctx, f.user.Hex(), "wd-1"))

	f.ledger.On("ListByUser", mock.Anything, f.user).Return([]models.WithdrawalRecord{}, nil)
	f.ledger.On("CheckStatus", mock.Anything, "wd-1").Return(models.WithdrawalStatusCancelled, nil)

	sweeper := NewSessionSweeper(reconciler, 0, testLogger())
	sweeper.Start(ctx)
	sweeper.Start(ctx)
	sweeper.Stop()

	_, err := f.sessions.Get(ctx, f.user.Hex())
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)
}

func TestSessionSweeper_StopWithoutStart(t *testing.T) {
	sweeper := NewSessionSweeper(nil, time.Minute, testLogger())
	sweeper.Stop()
	sweeper.Stop()
}

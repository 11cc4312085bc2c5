package services

import (
	"context"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"withdraw-backend/internal/apperror"
	"withdraw-backend/internal/config"
	"withdraw-backend/internal/metrics"
	"withdraw-backend/internal/models"
	"withdraw-backend/internal/repository"
)

// ChainClient chain operations the orchestrator depends on
type ChainClient interface {
	Balance(ctx context.Context, token, address common.Address) (*big.Int, error)
	EnsureAllowance(ctx context.Context, owner, spender common.Address, amount *big.Int) (bool, error)
	Nonce(ctx context.Context, withdrawalContract, user common.Address) (*big.Int, error)
	AwaitConfirmation(ctx context.Context, txHash common.Hash, confirmations uint64, timeout time.Duration) (*models.RelayReceipt, error)
}

// AuthorizationSigning builds and signs withdrawal requests
type AuthorizationSigning interface {
	NewRequest(user common.Address, amount *big.Int, bank models.BankDetails, nonce *big.Int) *models.WithdrawalRequest
	Sign(ctx context.Context, req *models.WithdrawalRequest) (*models.SignedAuthorization, error)
}

// RelaySubmitter gas relay
type RelaySubmitter interface {
	Submit(ctx context.Context, auth *models.SignedAuthorization) (common.Hash, error)
}

// Ledger backend verification ledger
type Ledger interface {
	StatusChecker
	Create(ctx context.Context, record *models.WithdrawalRecord) (string, error)
	Cancel(ctx context.Context, id string) error
	ListByUser(ctx context.Context, user common.Address) ([]models.WithdrawalRecord, error)
}

// TransitionListener observes every state change. Called synchronously, so
// implementations must not block.
type TransitionListener interface {
	OnTransition(ctx context.Context, transition models.WithdrawalTransition)
}

// Snapshot externally visible state of a user's withdrawal
type Snapshot struct {
	User         string              `json:"user"`
	State        models.State        `json:"state"`
	WithdrawalID string              `json:"withdrawal_id,omitempty"`
	TxHash       string              `json:"tx_hash,omitempty"`
	Amount       string              `json:"amount,omitempty"`
	BankDetails  *models.BankDetails `json:"bank_details,omitempty"`
	Warning      string              `json:"warning,omitempty"`
	PollErrors   int                 `json:"poll_errors,omitempty"`
	LastError    string              `json:"last_error,omitempty"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// SubmitResult outcome of a successful submission
type SubmitResult struct {
	WithdrawalID string       `json:"withdrawal_id"`
	TxHash       string       `json:"tx_hash"`
	BlockNumber  uint64       `json:"block_number"`
	Approved     bool         `json:"approved"` // an approval transaction was sent
	Attached     bool         `json:"attached"` // joined an existing ledger record
	State        models.State `json:"state"`
}

// OrchestratorDeps collaborators of the orchestrator
type OrchestratorDeps struct {
	Chain     ChainClient
	Signer    AuthorizationSigning
	Relay     RelaySubmitter
	Ledger    Ledger
	Sessions  repository.SessionStore
	Listeners []TransitionListener
}

// attempt working data of one submission, built up step by step
type attempt struct {
	user         common.Address
	form         models.WithdrawalForm
	approved     bool
	auth         *models.SignedAuthorization
	txHash       common.Hash
	receipt      *models.RelayReceipt
	withdrawalID string
	attached     bool
}

type step struct {
	state models.State
	run   func(ctx context.Context, a *attempt) error
}

type userSession struct {
	snapshot   Snapshot
	inFlight   bool
	cancelling bool
	poller     *VerificationPoller
}

// WithdrawalOrchestrator sequences chain, signer, relay and ledger for each
// user's withdrawal and tracks it until the ledger reaches a terminal status.
// At most one attempt runs per user.
type WithdrawalOrchestrator struct {
	chain     ChainClient
	signer    AuthorizationSigning
	relay     RelaySubmitter
	ledger    Ledger
	sessions  repository.SessionStore
	listeners []TransitionListener

	token              common.Address
	withdrawalContract common.Address
	minAmount          *big.Int
	accountNumber      *regexp.Regexp

	confirmations       uint64
	confirmationTimeout time.Duration
	pollInterval        time.Duration
	createAttempts      int
	createBackoff       time.Duration

	now    func() time.Time
	logger *logrus.Logger

	// finished sessions stay visible to Status for this long
	retainFinished time.Duration
	lastPrune      time.Time

	baseCtx context.Context
	cancel  context.CancelFunc

	mu    sync.Mutex
	users map[common.Address]*userSession
}

// NewWithdrawalOrchestrator wires the orchestrator from explicit configuration.
func NewWithdrawalOrchestrator(cfg *config.Config, deps OrchestratorDeps, logger *logrus.Logger) (*WithdrawalOrchestrator, error) {
	pattern, err := regexp.Compile(cfg.Withdrawal.AccountNumberPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid account number pattern: %w", err)
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &WithdrawalOrchestrator{
		chain:               deps.Chain,
		signer:              deps.Signer,
		relay:               deps.Relay,
		ledger:              deps.Ledger,
		sessions:            deps.Sessions,
		listeners:           deps.Listeners,
		token:               common.HexToAddress(cfg.Blockchain.TokenContract),
		withdrawalContract:  common.HexToAddress(cfg.Blockchain.WithdrawalContract),
		minAmount:           cfg.Withdrawal.MinAmountValue(),
		accountNumber:       pattern,
		confirmations:       cfg.Withdrawal.Confirmations,
		confirmationTimeout: cfg.Withdrawal.ConfirmationTimeoutDuration(),
		pollInterval:        cfg.Withdrawal.PollIntervalDuration(),
		createAttempts:      cfg.Withdrawal.LedgerCreateAttempts,
		createBackoff:       time.Second,
		now:                 time.Now,
		logger:              logger,
		retainFinished:      15 * time.Minute,
		baseCtx:             baseCtx,
		cancel:              cancel,
		users:               make(map[common.Address]*userSession),
	}, nil
}

func (o *WithdrawalOrchestrator) pipeline() []step {
	return []step{
		{models.StateValidating, o.validate},
		{models.StateValidating, o.preflight},
		{models.StateCheckingAllowance, o.checkAllowance},
		{models.StateSigning, o.sign},
		{models.StateRelaying, o.submitToRelay},
		{models.StateConfirmingOnChain, o.confirm},
		{models.StateRecordingInLedger, o.record},
	}
}

// Submit runs one withdrawal attempt for user up to AwaitingVerification.
func (o *WithdrawalOrchestrator) Submit(ctx context.Context, user common.Address, form models.WithdrawalForm) (*SubmitResult, error) {
	if err := o.acquire(user, false); err != nil {
		metrics.Submissions.WithLabelValues(string(apperror.CodeOf(err))).Inc()
		return nil, err
	}
	defer o.release(user)

	log := o.logger.WithField("user", user.Hex())
	a := &attempt{user: user, form: form}

	current := o.Status(user).State
	for _, st := range o.pipeline() {
		if st.state == models.StateRelaying {
			// from here on chain state may change; finish even if the caller goes away
			ctx = context.WithoutCancel(ctx)
		}
		if st.state != current {
			o.transition(user, st.state, nil, func(s *Snapshot) {
				if st.state == models.StateValidating {
					*s = Snapshot{User: user.Hex(), State: st.state}
				}
			})
			current = st.state
		}

		started := time.Now()
		err := st.run(ctx, a)
		metrics.StepDuration.WithLabelValues(string(st.state)).Observe(time.Since(started).Seconds())
		if err != nil {
			return nil, o.fail(a, st.state, err)
		}
	}

	o.track(user, a.withdrawalID, a.form.Amount, a.form.BankDetails, a.txHash.Hex())

	outcome := "success"
	if a.attached {
		outcome = "attached"
	}
	metrics.Submissions.WithLabelValues(outcome).Inc()
	log.WithFields(logrus.Fields{
		"withdrawal_id": a.withdrawalID,
		"tx_hash":       a.txHash.Hex(),
		"approved":      a.approved,
		"attached":      a.attached,
	}).Info("withdrawal awaiting verification")

	result := &SubmitResult{
		WithdrawalID: a.withdrawalID,
		TxHash:       a.txHash.Hex(),
		Approved:     a.approved,
		Attached:     a.attached,
		State:        models.StateAwaitingVerification,
	}
	if a.receipt != nil {
		result.BlockNumber = a.receipt.BlockNumber
	}
	return result, nil
}

// fail moves the attempt out of the pipeline. Local rejections return to
// Idle; anything later ends in Failed. Nothing has been persisted at this point.
func (o *WithdrawalOrchestrator) fail(a *attempt, state models.State, err error) error {
	target := models.StateFailed
	if apperror.IsValidation(err) || (state == models.StateValidating && apperror.IsPendingConflict(err)) {
		target = models.StateIdle
	}

	fields := logrus.Fields{
		"user":  a.user.Hex(),
		"state": state,
		"code":  apperror.CodeOf(err),
	}
	if a.txHash != (common.Hash{}) {
		fields["tx_hash"] = a.txHash.Hex()
	}
	entry := o.logger.WithFields(fields).WithError(err)
	if apperror.IsSupportRequired(err) {
		entry.Error("withdrawal attempt failed, support required")
	} else {
		entry.Warn("withdrawal attempt failed")
	}

	metrics.Submissions.WithLabelValues(string(apperror.CodeOf(err))).Inc()
	o.transition(a.user, target, err, func(s *Snapshot) {
		s.LastError = err.Error()
	})
	return err
}

func (o *WithdrawalOrchestrator) validate(ctx context.Context, a *attempt) error {
	var problems []string

	amount := a.form.Amount
	if amount == nil || amount.Sign() <= 0 {
		problems = append(problems, "amount must be positive")
	} else if amount.Cmp(o.minAmount) < 0 {
		problems = append(problems, fmt.Sprintf("amount must be at least %s", o.minAmount.String()))
	}

	bank := models.BankDetails{
		BankName:      strings.TrimSpace(a.form.BankDetails.BankName),
		AccountNumber: strings.TrimSpace(a.form.BankDetails.AccountNumber),
		AccountName:   strings.TrimSpace(a.form.BankDetails.AccountName),
	}
	if bank.BankName == "" {
		problems = append(problems, "bank name is required")
	}
	if bank.AccountName == "" {
		problems = append(problems, "account name is required")
	}
	if bank.AccountNumber == "" {
		problems = append(problems, "account number is required")
	} else if !o.accountNumber.MatchString(bank.AccountNumber) {
		problems = append(problems, "account number has an invalid format")
	}

	if len(problems) > 0 {
		return apperror.New(apperror.ErrCodeValidation, strings.Join(problems, "; "))
	}
	a.form.BankDetails = bank
	return nil
}

// preflight requires no open ledger record and enough balance before anything is signed.
func (o *WithdrawalOrchestrator) preflight(ctx context.Context, a *attempt) error {
	records, err := o.ledger.ListByUser(ctx, a.user)
	if err != nil {
		return err
	}
	if open := firstNonTerminal(records); open != nil {
		return apperror.PendingConflict(open.ID)
	}

	balance, err := o.chain.Balance(ctx, o.token, a.user)
	if err != nil {
		return err
	}
	if balance.Cmp(a.form.Amount) < 0 {
		return apperror.New(apperror.ErrCodeInsufficientBalance,
			fmt.Sprintf("balance %s is below the requested %s", balance.String(), a.form.Amount.String()))
	}
	return nil
}

func (o *WithdrawalOrchestrator) checkAllowance(ctx context.Context, a *attempt) error {
	approved, err := o.chain.EnsureAllowance(ctx, a.user, o.withdrawalContract, a.form.Amount)
	if err != nil {
		return err
	}
	a.approved = approved
	return nil
}

// sign reads the contract nonce right before signing so a transaction sent
// in between cannot leave a stale nonce in the authorization.
func (o *WithdrawalOrchestrator) sign(ctx context.Context, a *attempt) error {
	nonce, err := o.chain.Nonce(ctx, o.withdrawalContract, a.user)
	if err != nil {
		return err
	}
	req := o.signer.NewRequest(a.user, a.form.Amount, a.form.BankDetails, nonce)
	auth, err := o.signer.Sign(ctx, req)
	if err != nil {
		return err
	}
	a.auth = auth
	return nil
}

func (o *WithdrawalOrchestrator) submitToRelay(ctx context.Context, a *attempt) error {
	if a.auth.Request.Expired(o.now()) {
		return apperror.New(apperror.ErrCodeAuthorizationExpired,
			fmt.Sprintf("authorization expired at %s", a.auth.Request.Deadline.String()))
	}

	txHash, err := o.relay.Submit(ctx, a.auth)
	if err != nil {
		return err
	}
	a.txHash = txHash
	o.update(a.user, func(s *Snapshot) {
		s.TxHash = txHash.Hex()
	})
	return nil
}

func (o *WithdrawalOrchestrator) confirm(ctx context.Context, a *attempt) error {
	receipt, err := o.chain.AwaitConfirmation(ctx, a.txHash, o.confirmations, o.confirmationTimeout)
	if err != nil {
		if apperror.Is(err, apperror.ErrCodeConfirmationTimeout) {
			return o.unconfirmed(ctx, a, err)
		}
		if appErr, ok := apperror.As(err); ok && appErr.TxHash == "" {
			appErr.TxHash = a.txHash.Hex()
		}
		return err
	}
	a.receipt = receipt
	return nil
}

// unconfirmed handles a relayed transaction that outlived the confirmation
// window. It can still be mined, so the user is sent to support with the hash
// rather than told to retry. The contract nonce tells whether it already ran.
func (o *WithdrawalOrchestrator) unconfirmed(ctx context.Context, a *attempt, cause error) error {
	message := "withdrawal transaction was not confirmed in time and may still be mined"
	log := o.logger.WithFields(logrus.Fields{
		"user":    a.user.Hex(),
		"tx_hash": a.txHash.Hex(),
	})

	nonce, err := o.chain.Nonce(ctx, o.withdrawalContract, a.user)
	switch {
	case err != nil:
		log.WithError(err).Warn("nonce check after confirmation timeout failed")
	case a.auth != nil && a.auth.Request.Nonce != nil && nonce.Cmp(a.auth.Request.Nonce) > 0:
		message = "withdrawal transaction executed on chain but was not confirmed in time"
		log.WithField("nonce", nonce.String()).Warn("relayed withdrawal executed without reaching confirmation depth")
	}

	return apperror.Wrap(cause, apperror.ErrCodeConfirmationTimeout, message).WithSupport().WithTxHash(a.txHash.Hex())
}

// record creates the ledger record for a confirmed transaction. A conflict
// means another session already recorded it, so the attempt attaches to that
// record instead.
func (o *WithdrawalOrchestrator) record(ctx context.Context, a *attempt) error {
	record := &models.WithdrawalRecord{
		UserAddress: a.user.Hex(),
		TokenAmount: a.form.Amount,
		BankDetails: a.form.BankDetails,
		TxHash:      a.txHash.Hex(),
		Status:      models.WithdrawalStatusPending,
	}

	var id string
	err := withRetry(ctx, o.createAttempts, o.createBackoff, apperror.IsLedgerUnavailable, func(int) error {
		var err error
		id, err = o.ledger.Create(ctx, record)
		return err
	})

	if apperror.IsPendingConflict(err) {
		existing := ""
		if appErr, ok := apperror.As(err); ok {
			existing = appErr.ExistingID
		}
		if existing == "" {
			if records, listErr := o.ledger.ListByUser(ctx, a.user); listErr == nil {
				if open := firstNonTerminal(records); open != nil {
					existing = open.ID
				}
			}
		}
		if existing != "" {
			o.logger.WithFields(logrus.Fields{
				"user":          a.user.Hex(),
				"withdrawal_id": existing,
				"tx_hash":       a.txHash.Hex(),
			}).Warn("ledger already holds a pending withdrawal, attaching")
			a.withdrawalID = existing
			a.attached = true
			return nil
		}
	}

	if err != nil {
		return apperror.Wrap(err, apperror.CodeOf(err),
			"withdrawal confirmed on chain but could not be recorded").WithSupport().WithTxHash(a.txHash.Hex())
	}
	a.withdrawalID = id
	return nil
}

// track persists the session pointer and starts polling the record.
func (o *WithdrawalOrchestrator) track(user common.Address, id string, amount *big.Int, bank models.BankDetails, txHash string) {
	if err := o.sessions.Set(o.baseCtx, user.Hex(), id); err != nil {
		// the ledger remains authoritative; reconciliation recovers a lost pointer
		o.logger.WithFields(logrus.Fields{
			"user":          user.Hex(),
			"withdrawal_id": id,
		}).WithError(err).Warn("failed to persist withdrawal session")
	}

	poller := NewVerificationPoller(id, o.pollInterval, o.ledger, PollHandler{
		OnStatus: func(status models.WithdrawalStatus) {
			o.onPollStatus(user, id, status)
		},
		OnError: func(err error, consecutive int) {
			o.onPollError(user, id, err, consecutive)
		},
	})

	snapshot := Snapshot{
		User:         user.Hex(),
		State:        models.StateAwaitingVerification,
		WithdrawalID: id,
		TxHash:       txHash,
	}
	if amount != nil {
		snapshot.Amount = amount.String()
	}
	if bank != (models.BankDetails{}) {
		b := bank
		snapshot.BankDetails = &b
	}

	o.mu.Lock()
	sess := o.session(user)
	if sess.poller != nil {
		sess.poller.Stop()
	}
	sess.poller = poller
	from := sess.snapshot.State
	snapshot.UpdatedAt = o.now()
	sess.snapshot = snapshot
	o.mu.Unlock()

	poller.Start(o.baseCtx)
	o.emit(from, snapshot, nil)
}

func (o *WithdrawalOrchestrator) onPollStatus(user common.Address, id string, status models.WithdrawalStatus) {
	if status.IsTerminal() {
		o.finish(user, id, models.StateForStatus(status))
		return
	}
	o.mu.Lock()
	if sess, ok := o.users[user]; ok && sess.snapshot.WithdrawalID == id && sess.snapshot.PollErrors > 0 {
		sess.snapshot.PollErrors = 0
		sess.snapshot.Warning = ""
	}
	o.mu.Unlock()
}

// onPollError only warns; tracking continues until a terminal status is seen.
func (o *WithdrawalOrchestrator) onPollError(user common.Address, id string, err error, consecutive int) {
	o.mu.Lock()
	if sess, ok := o.users[user]; ok && sess.snapshot.WithdrawalID == id && sess.snapshot.State == models.StateAwaitingVerification {
		sess.snapshot.PollErrors = consecutive
		sess.snapshot.Warning = fmt.Sprintf("verification status unavailable (%d consecutive errors), still tracking", consecutive)
	}
	o.mu.Unlock()

	o.logger.WithFields(logrus.Fields{
		"user":          user.Hex(),
		"withdrawal_id": id,
		"consecutive":   consecutive,
	}).WithError(err).Warn("verification poll failed")
}

// finish moves a tracked withdrawal to a terminal state, stops its poller and
// clears the persisted session. Returns false when id is no longer tracked.
func (o *WithdrawalOrchestrator) finish(user common.Address, id string, state models.State) bool {
	o.mu.Lock()
	sess, ok := o.users[user]
	if !ok || sess.snapshot.WithdrawalID != id || sess.snapshot.State != models.StateAwaitingVerification {
		o.mu.Unlock()
		return false
	}
	if sess.poller != nil {
		sess.poller.Stop()
		sess.poller = nil
	}
	from := sess.snapshot.State
	sess.snapshot.State = state
	sess.snapshot.Warning = ""
	sess.snapshot.PollErrors = 0
	sess.snapshot.UpdatedAt = o.now()
	snapshot := sess.snapshot
	o.mu.Unlock()

	if err := o.sessions.Clear(o.baseCtx, user.Hex()); err != nil {
		o.logger.WithField("user", user.Hex()).WithError(err).Warn("failed to clear withdrawal session")
	}
	o.logger.WithFields(logrus.Fields{
		"user":          user.Hex(),
		"withdrawal_id": id,
		"state":         state,
	}).Info("withdrawal reached terminal state")
	o.emit(from, snapshot, nil)
	return true
}

// Cancel cancels the withdrawal awaiting verification. The on-chain transfer
// is irreversible; only the ledger record is marked cancelled.
func (o *WithdrawalOrchestrator) Cancel(ctx context.Context, user common.Address) (Snapshot, error) {
	o.mu.Lock()
	sess, ok := o.users[user]
	if !ok || sess.snapshot.State != models.StateAwaitingVerification || sess.cancelling {
		state := models.StateIdle
		if ok {
			state = sess.snapshot.State
		}
		o.mu.Unlock()
		return o.Status(user), apperror.New(apperror.ErrCodeNotCancellable,
			fmt.Sprintf("withdrawal in state %s cannot be cancelled", state))
	}
	id := sess.snapshot.WithdrawalID
	sess.cancelling = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		sess.cancelling = false
		o.mu.Unlock()
	}()

	log := o.logger.WithFields(logrus.Fields{
		"user":          user.Hex(),
		"withdrawal_id": id,
	})

	if err := o.ledger.Cancel(ctx, id); err != nil {
		log.WithError(err).Warn("cancel did not take effect")
		if apperror.IsNotCancellable(err) {
			return o.Status(user), err
		}
		return o.Status(user), apperror.Wrap(err, apperror.ErrCodeCancelNotApplied,
			"cancel did not take effect, withdrawal is still awaiting verification")
	}

	o.finish(user, id, models.StateCancelled)
	log.Info("withdrawal cancelled")
	return o.Status(user), nil
}

// Resume tracks an existing non-terminal ledger record without signing or
// relaying anything.
func (o *WithdrawalOrchestrator) Resume(ctx context.Context, user common.Address, record models.WithdrawalRecord) error {
	if record.Status.IsTerminal() {
		return apperror.New(apperror.ErrCodeNotCancellable, fmt.Sprintf("withdrawal %s is already %s", record.ID, record.Status))
	}

	o.mu.Lock()
	sess := o.session(user)
	if sess.snapshot.State == models.StateAwaitingVerification && sess.snapshot.WithdrawalID == record.ID && sess.poller != nil {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	if err := o.acquire(user, true); err != nil {
		return err
	}
	defer o.release(user)

	o.logger.WithFields(logrus.Fields{
		"user":          user.Hex(),
		"withdrawal_id": record.ID,
	}).Info("resuming verification polling")
	o.track(user, record.ID, record.TokenAmount, record.BankDetails, record.TxHash)
	return nil
}

// Observe applies a ledger status seen outside the poller.
func (o *WithdrawalOrchestrator) Observe(user common.Address, id string, status models.WithdrawalStatus) bool {
	if !status.IsTerminal() {
		return false
	}
	return o.finish(user, id, models.StateForStatus(status))
}

// Status current snapshot, Idle for unknown users
func (o *WithdrawalOrchestrator) Status(user common.Address) Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	if sess, ok := o.users[user]; ok {
		return sess.snapshot
	}
	return Snapshot{User: user.Hex(), State: models.StateIdle}
}

// Shutdown stops every poller and waits for them to exit.
func (o *WithdrawalOrchestrator) Shutdown() {
	o.cancel()

	o.mu.Lock()
	pollers := make([]*VerificationPoller, 0, len(o.users))
	for _, sess := range o.users {
		if sess.poller != nil {
			sess.poller.Stop()
			pollers = append(pollers, sess.poller)
		}
	}
	o.mu.Unlock()

	for _, p := range pollers {
		<-p.Done()
	}
	o.logger.WithField("pollers", len(pollers)).Info("withdrawal orchestrator stopped")
}

// acquire reserves the user's single attempt slot.
func (o *WithdrawalOrchestrator) acquire(user common.Address, allowAwaiting bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prune()
	sess := o.session(user)
	if sess.inFlight {
		return apperror.New(apperror.ErrCodeSubmissionInProgress, "a withdrawal is already being processed")
	}
	if !allowAwaiting && sess.snapshot.State == models.StateAwaitingVerification {
		return apperror.PendingConflict(sess.snapshot.WithdrawalID)
	}
	sess.inFlight = true
	return nil
}

func (o *WithdrawalOrchestrator) release(user common.Address) {
	o.mu.Lock()
	if sess, ok := o.users[user]; ok {
		sess.inFlight = false
	}
	o.mu.Unlock()
}

// prune drops idle and finished sessions older than retainFinished, at most
// once per minute. Must be called with o.mu held.
func (o *WithdrawalOrchestrator) prune() {
	now := o.now()
	if now.Sub(o.lastPrune) < time.Minute {
		return
	}
	o.lastPrune = now

	for user, sess := range o.users {
		if sess.inFlight || sess.cancelling || sess.poller != nil {
			continue
		}
		state := sess.snapshot.State
		if state != models.StateIdle && !state.IsTerminal() {
			continue
		}
		if now.Sub(sess.snapshot.UpdatedAt) >= o.retainFinished {
			delete(o.users, user)
		}
	}
}

// session must be called with o.mu held.
func (o *WithdrawalOrchestrator) session(user common.Address) *userSession {
	sess, ok := o.users[user]
	if !ok {
		sess = &userSession{snapshot: Snapshot{User: user.Hex(), State: models.StateIdle}}
		o.users[user] = sess
	}
	return sess
}

func (o *WithdrawalOrchestrator) transition(user common.Address, to models.State, cause error, mutate func(*Snapshot)) {
	o.mu.Lock()
	sess := o.session(user)
	from := sess.snapshot.State
	if mutate != nil {
		mutate(&sess.snapshot)
	}
	sess.snapshot.State = to
	sess.snapshot.UpdatedAt = o.now()
	snapshot := sess.snapshot
	o.mu.Unlock()

	o.emit(from, snapshot, cause)
}

// update changes snapshot fields without a transition.
func (o *WithdrawalOrchestrator) update(user common.Address, mutate func(*Snapshot)) {
	o.mu.Lock()
	mutate(&o.session(user).snapshot)
	o.mu.Unlock()
}

func (o *WithdrawalOrchestrator) emit(from models.State, snapshot Snapshot, cause error) {
	metrics.StateTransitions.WithLabelValues(string(from), string(snapshot.State)).Inc()

	transition := models.WithdrawalTransition{
		ID:           uuid.NewString(),
		UserAddress:  snapshot.User,
		FromState:    from,
		ToState:      snapshot.State,
		WithdrawalID: snapshot.WithdrawalID,
		TxHash:       snapshot.TxHash,
		CreatedAt:    snapshot.UpdatedAt,
	}
	if cause != nil {
		transition.ErrorCode = string(apperror.CodeOf(cause))
		transition.Message = cause.Error()
	}
	for _, l := range o.listeners {
		l.OnTransition(o.baseCtx, transition)
	}
}

func firstNonTerminal(records []models.WithdrawalRecord) *models.WithdrawalRecord {
	for i := range records {
		if records[i].Status.IsKnown() && !records[i].Status.IsTerminal() {
			return &records[i]
		}
	}
	return nil
}

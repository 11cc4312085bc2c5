package services

import (
	"context"
	"sync"
	"time"

	"withdraw-backend/internal/metrics"
	"withdraw-backend/internal/models"
)

// StatusChecker ledger status lookup used by the poller
type StatusChecker interface {
	CheckStatus(ctx context.Context, id string) (models.WithdrawalStatus, error)
}

// PollHandler callbacks of a VerificationPoller. Both run on the poller goroutine.
type PollHandler struct {
	OnStatus func(status models.WithdrawalStatus)
	// OnError receives every failed poll with the count of consecutive failures.
	OnError func(err error, consecutive int)
}

// VerificationPoller checks one withdrawal's ledger status on a fixed interval
// until it is terminal or stopped. Poll errors never end the loop.
type VerificationPoller struct {
	withdrawalID string
	interval     time.Duration
	ledger       StatusChecker
	handler      PollHandler

	stopCh    chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewVerificationPoller creates a stopped poller
func NewVerificationPoller(withdrawalID string, interval time.Duration, ledger StatusChecker, handler PollHandler) *VerificationPoller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &VerificationPoller{
		withdrawalID: withdrawalID,
		interval:     interval,
		ledger:       ledger,
		handler:      handler,
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// WithdrawalID polled record
func (p *VerificationPoller) WithdrawalID() string {
	return p.withdrawalID
}

// Start begins polling; later calls are no-ops.
func (p *VerificationPoller) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		metrics.ActivePollers.Inc()
		go p.loop(ctx)
	})
}

// Stop releases the poller's timer. Safe to call more than once and from the
// handler callbacks.
func (p *VerificationPoller) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
}

// Done is closed once a started poller has exited.
func (p *VerificationPoller) Done() <-chan struct{} {
	return p.done
}

func (p *VerificationPoller) loop(ctx context.Context) {
	defer close(p.done)
	defer metrics.ActivePollers.Dec()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	consecutive := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
		}

		status, err := p.ledger.CheckStatus(ctx, p.withdrawalID)

		// stopped while the request was in flight
		select {
		case <-p.stopCh:
			return
		default:
		}

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			consecutive++
			metrics.PollErrors.Inc()
			if p.handler.OnError != nil {
				p.handler.OnError(err, consecutive)
			}
			continue
		}

		consecutive = 0
		if p.handler.OnStatus != nil {
			p.handler.OnStatus(status)
		}
		if status.IsTerminal() {
			return
		}
	}
}

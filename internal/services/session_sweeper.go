package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// SessionSweeper periodically reconciles every persisted session, so records
// finished by an admin while no poller was running get cleared.
type SessionSweeper struct {
	reconciler *SessionReconciler
	interval   time.Duration
	logger     *logrus.Logger

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
}

func NewSessionSweeper(reconciler *SessionReconciler, interval time.Duration, logger *logrus.Logger) *SessionSweeper {
	return &SessionSweeper{
		reconciler: reconciler,
		interval:   interval,
		logger:     logger,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs one sweep immediately, then one per interval.
func (s *SessionSweeper) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.logger.WithField("interval", s.interval.String()).Info("starting session sweeper")
	go s.loop(ctx)
}

// Stop ends the loop and waits for a running sweep to finish.
func (s *SessionSweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	if s.started.Load() {
		<-s.done
	}
}

func (s *SessionSweeper) loop(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)
	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *SessionSweeper) sweep(ctx context.Context) {
	if err := s.reconciler.ReconcileAll(ctx); err != nil {
		s.logger.WithError(err).Warn("session sweep finished with errors")
	}
}

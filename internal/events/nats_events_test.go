package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"withdraw-backend/internal/models"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	messages []published
	err      error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, published{subject: subject, data: data})
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestTransitionPublisher_OnTransition(t *testing.T) {
	pub := &fakePublisher{}
	p := NewTransitionPublisher(pub, "payments.withdrawal.", quietLogger())

	at := time.Unix(1_700_000_000, 0)
	p.OnTransition(context.Background(), models.WithdrawalTransition{
		ID:          "t1",
		UserAddress: "0xabc",
		FromState:   models.StateConfirmingOnChain,
		ToState:     models.StateFailed,
		TxHash:      "0x01",
		ErrorCode:   "TRANSACTION_REVERTED",
		Message:     "transaction reverted on chain",
		CreatedAt:   at,
	})

	require.Len(t, pub.messages, 1)
	assert.Equal(t, "payments.withdrawal.failed", pub.messages[0].subject)

	var event TransitionEvent
	require.NoError(t, json.Unmarshal(pub.messages[0].data, &event))
	assert.Equal(t, "t1", event.ID)
	assert.Equal(t, models.StateConfirmingOnChain, event.FromState)
	assert.Equal(t, "TRANSACTION_REVERTED", event.ErrorCode)
	assert.Equal(t, at.Unix(), event.Timestamp)
}

func TestTransitionPublisher_DefaultPrefix(t *testing.T) {
	p := NewTransitionPublisher(&fakePublisher{}, "", quietLogger())
	assert.Equal(t, "withdrawal.awaiting_verification", p.Subject(models.StateAwaitingVerification))
}

func TestTransitionPublisher_PublishErrorIsSwallowed(t *testing.T) {
	p := NewTransitionPublisher(&fakePublisher{err: errors.New("nats: connection closed")}, "", quietLogger())
	assert.NotPanics(t, func() {
		p.OnTransition(context.Background(), models.WithdrawalTransition{ToState: models.StateIdle})
	})
}

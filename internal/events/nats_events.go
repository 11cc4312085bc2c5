package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"withdraw-backend/internal/models"
)

// Publisher message bus; *clients.NATSClient satisfies it
type Publisher interface {
	Publish(subject string, data []byte) error
}

// TransitionEvent payload published for every withdrawal state change
type TransitionEvent struct {
	ID           string       `json:"id"`
	UserAddress  string       `json:"user_address"`
	FromState    models.State `json:"from_state"`
	ToState      models.State `json:"to_state"`
	WithdrawalID string       `json:"withdrawal_id,omitempty"`
	TxHash       string       `json:"tx_hash,omitempty"`
	ErrorCode    string       `json:"error_code,omitempty"`
	Message      string       `json:"message,omitempty"`
	Timestamp    int64        `json:"timestamp"`
}

// TransitionPublisher publishes transitions on <prefix>.<state>, e.g.
// withdrawal.awaiting_verification
type TransitionPublisher struct {
	publisher Publisher
	prefix    string
	logger    *logrus.Logger
}

func NewTransitionPublisher(publisher Publisher, prefix string, logger *logrus.Logger) *TransitionPublisher {
	if prefix == "" {
		prefix = "withdrawal"
	}
	return &TransitionPublisher{
		publisher: publisher,
		prefix:    strings.TrimSuffix(prefix, "."),
		logger:    logger,
	}
}

// Subject subject for transitions into state
func (p *TransitionPublisher) Subject(state models.State) string {
	return fmt.Sprintf("%s.%s", p.prefix, state)
}

// OnTransition publishes t. Delivery is best effort.
func (p *TransitionPublisher) OnTransition(ctx context.Context, t models.WithdrawalTransition) {
	event := TransitionEvent{
		ID:           t.ID,
		UserAddress:  t.UserAddress,
		FromState:    t.FromState,
		ToState:      t.ToState,
		WithdrawalID: t.WithdrawalID,
		TxHash:       t.TxHash,
		ErrorCode:    t.ErrorCode,
		Message:      t.Message,
		Timestamp:    t.CreatedAt.Unix(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.WithError(err).Error("failed to marshal transition event")
		return
	}

	subject := p.Subject(t.ToState)
	if err := p.publisher.Publish(subject, data); err != nil {
		p.logger.WithFields(logrus.Fields{
			"subject": subject,
			"user":    t.UserAddress,
		}).WithError(err).Warn("failed to publish transition event")
	}
}

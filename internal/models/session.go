package models

import (
	"time"
)

// WithdrawalSession persisted pointer to the withdrawal a user is waiting on.
// Never a source of truth; only used to re-attach polling after a restart.
type WithdrawalSession struct {
	UserAddress  string    `json:"user_address" gorm:"primaryKey;size:42"`
	WithdrawalID string    `json:"withdrawal_id" gorm:"not null;size:128"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (WithdrawalSession) TableName() string {
	return "withdrawal_sessions"
}

// WithdrawalTransition one orchestrator state change, kept as an audit trail
// and published to listeners
type WithdrawalTransition struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"` // UUID
	UserAddress  string    `json:"user_address" gorm:"not null;index;size:42"`
	FromState    State     `json:"from_state" gorm:"size:32"`
	ToState      State     `json:"to_state" gorm:"not null;size:32"`
	WithdrawalID string    `json:"withdrawal_id,omitempty" gorm:"index;size:128"`
	TxHash       string    `json:"tx_hash,omitempty" gorm:"size:66"`
	ErrorCode    string    `json:"error_code,omitempty" gorm:"size:64"`
	Message      string    `json:"message,omitempty" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at"`
}

func (WithdrawalTransition) TableName() string {
	return "withdrawal_transitions"
}

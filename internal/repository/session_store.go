package repository

import (
	"context"
	"errors"
)

// ErrSessionNotFound no pending withdrawal is tracked for the user
var ErrSessionNotFound = errors.New("session not found")

// SessionStore persisted pending-withdrawal pointer per user.
// Set and Clear are the only mutations.
type SessionStore interface {
	// Get returns the tracked withdrawal id or ErrSessionNotFound.
	Get(ctx context.Context, user string) (string, error)
	Set(ctx context.Context, user, withdrawalID string) error
	Clear(ctx context.Context, user string) error
	// Users every user with a tracked withdrawal.
	Users(ctx context.Context) ([]string, error)
}

package store

import (
	"context"
	"errors"
	"time"

	"dailybugs-backend/internal/steps"
)

// ErrNotFound is returned when a user has no stored access token.
var ErrNotFound = errors.New("not found")

// DefaultDelivery is the method used when a user never picked one.
const DefaultDelivery = "email"

// SessionTTL is how long a browser session stays signed in.
const SessionTTL = 30 * 24 * time.Hour

// Store persists per-user credentials, delivery settings and the workflow
// step log. Keys are GitHub user ids.
type Store interface {
	GetToken(ctx context.Context, userID string) (string, error)
	SetToken(ctx context.Context, userID, token string) error
	DeleteToken(ctx context.Context, userID string) error
	// GetDelivery returns DefaultDelivery when nothing is stored.
	GetDelivery(ctx context.Context, userID string) (string, error)
	// SetDelivery stores method; setting DefaultDelivery removes the entry.
	SetDelivery(ctx context.Context, userID, method string) error
	// ListUsers returns the ids of every user with a stored token, sorted.
	ListUsers(ctx context.Context) ([]string, error)
	steps.Log
	steps.Pruner
}

// Package store defines the persistence interface for the paper-trading
// engine. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. The trade engine and the alert monitor
// are the only writers. Every mutation except TryTriggerAlert is a plain
// overwrite; callers that need serialization provide it themselves.
type Store interface {
	// --- Accounts ---

	// GetOrCreateAccount returns the user's account, creating it with the
	// starting balance on first access. Safe under concurrent first access:
	// at most one account per user is ever created.
	GetOrCreateAccount(ctx context.Context, userID string) (*model.Account, error)

	// SetCash unconditionally overwrites the account balance. The caller is
	// responsible for computing the new value from a freshly read account.
	SetCash(ctx context.Context, userID string, cash decimal.Decimal, updatedAt time.Time) error

	// --- Positions ---

	// GetPosition returns the position for (user, symbol), or ErrNotFound.
	GetPosition(ctx context.Context, userID, symbol string) (*model.Position, error)

	// UpsertPosition fully replaces the position keyed by (user, symbol),
	// creating it if absent.
	UpsertPosition(ctx context.Context, pos *model.Position) error

	// DeletePosition removes the position for (user, symbol).
	DeletePosition(ctx context.Context, userID, symbol string) error

	// ListPositions returns the user's positions, most recently updated first.
	ListPositions(ctx context.Context, userID string) ([]model.Position, error)

	// --- Immutable order log ---

	// RecordOrder appends a trade record. Orders are never updated or deleted.
	RecordOrder(ctx context.Context, order *model.Order) error

	// ListOrders returns the user's most recent orders, newest first.
	// limit <= 0 means no limit.
	ListOrders(ctx context.Context, userID string, limit int) ([]model.Order, error)

	// --- Alerts ---

	// CreateAlert persists a new alert.
	CreateAlert(ctx context.Context, alert *model.Alert) error

	// DeleteAlert removes the user's alert by ID.
	DeleteAlert(ctx context.Context, userID, alertID string) error

	// ListAlerts returns the user's alerts, newest first.
	ListAlerts(ctx context.Context, userID string) ([]model.Alert, error)

	// ListPendingAlerts returns all untriggered alerts across all users.
	ListPendingAlerts(ctx context.Context) ([]model.Alert, error)

	// TryTriggerAlert sets triggered=true and triggeredAt=now only if the
	// alert currently has triggered=false. Returns true iff this call
	// performed the transition, and ErrNotFound if the alert does not
	// exist or belongs to another user. This is the store's one atomic
	// primitive; two concurrent calls on the same alert observe exactly
	// one true.
	TryTriggerAlert(ctx context.Context, alertID, userID string) (bool, error)
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/papertrade/engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot per-user reads (account, position list). Writes go to
// the primary store and invalidate the cache.
//
// Alert reads are never cached: the monitor's pending-alert scan and the
// conditional trigger must always see the primary store.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetOrCreateAccount(ctx context.Context, userID string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(userID)).Bytes()
	if err == nil {
		var acc model.Account
		if json.Unmarshal(data, &acc) == nil {
			return &acc, nil
		}
	}

	acc, err := s.primary.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(acc); err == nil {
		s.rdb.Set(ctx, accountKey(userID), data, s.ttl)
	}
	return acc, nil
}

func (s *CachedStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(userID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.ListPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(userID), data, s.ttl)
	}
	return positions, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SetCash(ctx context.Context, userID string, cash decimal.Decimal, updatedAt time.Time) error {
	if err := s.primary.SetCash(ctx, userID, cash, updatedAt); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(userID))
	return nil
}

func (s *CachedStore) UpsertPosition(ctx context.Context, pos *model.Position) error {
	if err := s.primary.UpsertPosition(ctx, pos); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey(pos.UserID))
	return nil
}

func (s *CachedStore) DeletePosition(ctx context.Context, userID, symbol string) error {
	if err := s.primary.DeletePosition(ctx, userID, symbol); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey(userID))
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetPosition(ctx context.Context, userID, symbol string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, userID, symbol)
}

func (s *CachedStore) RecordOrder(ctx context.Context, order *model.Order) error {
	return s.primary.RecordOrder(ctx, order)
}

func (s *CachedStore) ListOrders(ctx context.Context, userID string, limit int) ([]model.Order, error) {
	return s.primary.ListOrders(ctx, userID, limit)
}

func (s *CachedStore) CreateAlert(ctx context.Context, alert *model.Alert) error {
	return s.primary.CreateAlert(ctx, alert)
}

func (s *CachedStore) DeleteAlert(ctx context.Context, userID, alertID string) error {
	return s.primary.DeleteAlert(ctx, userID, alertID)
}

func (s *CachedStore) ListAlerts(ctx context.Context, userID string) ([]model.Alert, error) {
	return s.primary.ListAlerts(ctx, userID)
}

func (s *CachedStore) ListPendingAlerts(ctx context.Context) ([]model.Alert, error) {
	return s.primary.ListPendingAlerts(ctx)
}

func (s *CachedStore) TryTriggerAlert(ctx context.Context, alertID, userID string) (bool, error) {
	return s.primary.TryTriggerAlert(ctx, alertID, userID)
}

func accountKey(uid string) string   { return fmt.Sprintf("account:%s", uid) }
func positionsKey(uid string) string { return fmt.Sprintf("positions:%s", uid) }

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]*model.Account
	positions map[string]map[string]*model.Position // userID -> symbol -> position
	orders    []model.Order
	alerts    map[string]*model.Alert
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]*model.Account),
		positions: make(map[string]map[string]*model.Position),
		alerts:    make(map[string]*model.Alert),
	}
}

func (s *MemoryStore) GetOrCreateAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acc, ok := s.accounts[userID]; ok {
		cp := *acc
		return &cp, nil
	}

	acc := &model.Account{
		UserID:    userID,
		Cash:      model.StartingCash,
		UpdatedAt: time.Now().UTC(),
	}
	s.accounts[userID] = acc
	cp := *acc
	return &cp, nil
}

func (s *MemoryStore) SetCash(_ context.Context, userID string, cash decimal.Decimal, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[userID]
	if !ok {
		return ErrNotFound
	}
	acc.Cash = cash
	acc.UpdatedAt = updatedAt
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, userID, symbol string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.positions[userID][symbol]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpsertPosition(_ context.Context, pos *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byUser, ok := s.positions[pos.UserID]
	if !ok {
		byUser = make(map[string]*model.Position)
		s.positions[pos.UserID] = byUser
	}
	cp := *pos
	byUser[pos.Symbol] = &cp
	return nil
}

func (s *MemoryStore) DeletePosition(_ context.Context, userID, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.positions[userID], symbol)
	return nil
}

func (s *MemoryStore) ListPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := make([]model.Position, 0, len(s.positions[userID]))
	for _, p := range s.positions[userID] {
		positions = append(positions, *p)
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].UpdatedAt.After(positions[j].UpdatedAt)
	})
	return positions, nil
}

func (s *MemoryStore) RecordOrder(_ context.Context, order *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders = append(s.orders, *order)
	return nil
}

func (s *MemoryStore) ListOrders(_ context.Context, userID string, limit int) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []model.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (s *MemoryStore) CreateAlert(_ context.Context, alert *model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *alert
	s.alerts[alert.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteAlert(_ context.Context, userID, alertID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[alertID]
	if !ok || a.UserID != userID {
		return ErrNotFound
	}
	delete(s.alerts, alertID)
	return nil
}

func (s *MemoryStore) ListAlerts(_ context.Context, userID string) ([]model.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var alerts []model.Alert
	for _, a := range s.alerts {
		if a.UserID == userID {
			alerts = append(alerts, *a)
		}
	}
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
	return alerts, nil
}

func (s *MemoryStore) ListPendingAlerts(_ context.Context) ([]model.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var alerts []model.Alert
	for _, a := range s.alerts {
		if !a.Triggered {
			alerts = append(alerts, *a)
		}
	}
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
	return alerts, nil
}

func (s *MemoryStore) TryTriggerAlert(_ context.Context, alertID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[alertID]
	if !ok || a.UserID != userID {
		return false, ErrNotFound
	}
	if a.Triggered {
		return false, nil
	}
	now := time.Now().UTC()
	a.Triggered = true
	a.TriggeredAt = &now
	return true, nil
}

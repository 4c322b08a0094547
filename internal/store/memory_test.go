package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade/engine/internal/model"
	"github.com/papertrade/engine/internal/store"
)

func TestGetOrCreateAccount(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	acc, err := ms.GetOrCreateAccount(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, acc.Cash.Equal(model.StartingCash), "new account starts with %s", model.StartingCash)

	// Second access returns the same account, not a fresh one.
	require.NoError(t, ms.SetCash(ctx, "u1", decimal.NewFromInt(1), time.Now().UTC()))
	again, err := ms.GetOrCreateAccount(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, again.Cash.Equal(decimal.NewFromInt(1)))
}

func TestGetOrCreateAccountConcurrentFirstAccess(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	accounts := make([]*model.Account, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			acc, err := ms.GetOrCreateAccount(ctx, "u1")
			assert.NoError(t, err)
			accounts[i] = acc
		}(i)
	}
	wg.Wait()

	for _, acc := range accounts {
		assert.True(t, acc.Cash.Equal(model.StartingCash), "no caller may observe a double-credited account")
	}
}

func TestSetCashUnknownUser(t *testing.T) {
	ms := store.NewMemoryStore()
	err := ms.SetCash(context.Background(), "ghost", decimal.NewFromInt(5), time.Now().UTC())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPositionLifecycle(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	_, err := ms.GetPosition(ctx, "u1", "AAPL")
	assert.ErrorIs(t, err, store.ErrNotFound)

	pos := &model.Position{
		UserID:    "u1",
		Symbol:    "AAPL",
		Qty:       10,
		AvgPrice:  decimal.NewFromInt(150),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, ms.UpsertPosition(ctx, pos))

	got, err := ms.GetPosition(ctx, "u1", "AAPL")
	require.NoError(t, err)
	assert.EqualValues(t, 10, got.Qty)

	// Upsert fully replaces.
	pos.Qty = 4
	require.NoError(t, ms.UpsertPosition(ctx, pos))
	got, err = ms.GetPosition(ctx, "u1", "AAPL")
	require.NoError(t, err)
	assert.EqualValues(t, 4, got.Qty)

	require.NoError(t, ms.DeletePosition(ctx, "u1", "AAPL"))
	_, err = ms.GetPosition(ctx, "u1", "AAPL")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListPositionsRecencyOrder(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	base := time.Now().UTC()
	for i, sym := range []string{"AAPL", "TSLA", "NVDA"} {
		require.NoError(t, ms.UpsertPosition(ctx, &model.Position{
			UserID:    "u1",
			Symbol:    sym,
			Qty:       1,
			AvgPrice:  decimal.NewFromInt(10),
			UpdatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	positions, err := ms.ListPositions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, positions, 3)
	assert.Equal(t, "NVDA", positions[0].Symbol, "most recently updated first")
	assert.Equal(t, "AAPL", positions[2].Symbol)
}

func TestListOrdersLimitAndOrder(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, ms.RecordOrder(ctx, &model.Order{
			ID:        uuid.New().String(),
			UserID:    "u1",
			Symbol:    "AAPL",
			Side:      model.SideBuy,
			Qty:       int64(i + 1),
			Price:     decimal.NewFromInt(100),
			Total:     decimal.NewFromInt(100 * int64(i+1)),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	orders, err := ms.ListOrders(ctx, "u1", 3)
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.EqualValues(t, 5, orders[0].Qty, "newest order first")

	all, err := ms.ListOrders(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func seedAlert(t *testing.T, ms *store.MemoryStore, userID string) *model.Alert {
	t.Helper()
	a := &model.Alert{
		ID:          uuid.New().String(),
		UserID:      userID,
		Symbol:      "TSLA",
		Condition:   model.CondBelow,
		TargetPrice: decimal.NewFromInt(100),
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, ms.CreateAlert(context.Background(), a))
	return a
}

func TestTryTriggerAlertOnce(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	a := seedAlert(t, ms, "u1")

	flipped, err := ms.TryTriggerAlert(ctx, a.ID, "u1")
	require.NoError(t, err)
	assert.True(t, flipped)

	flipped, err = ms.TryTriggerAlert(ctx, a.ID, "u1")
	require.NoError(t, err)
	assert.False(t, flipped, "second trigger must observe already-triggered")

	_, err = ms.TryTriggerAlert(ctx, a.ID, "someone-else")
	assert.ErrorIs(t, err, store.ErrNotFound, "alerts are owner-scoped")
}

func TestTryTriggerAlertConcurrent(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	a := seedAlert(t, ms, "u1")

	const n = 50
	results := make(chan bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			flipped, err := ms.TryTriggerAlert(ctx, a.ID, "u1")
			assert.NoError(t, err)
			results <- flipped
		}()
	}
	wg.Wait()
	close(results)

	won := 0
	for flipped := range results {
		if flipped {
			won++
		}
	}
	assert.Equal(t, 1, won, "exactly one caller performs the false-to-true transition")

	alerts, err := ms.ListAlerts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].Triggered)
}

func TestListPendingAlerts(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	a1 := seedAlert(t, ms, "u1")
	seedAlert(t, ms, "u2")

	pending, err := ms.ListPendingAlerts(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2, "pending scan spans all users")

	_, err = ms.TryTriggerAlert(ctx, a1.ID, "u1")
	require.NoError(t, err)

	pending, err = ms.ListPendingAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "u2", pending[0].UserID)
}

func TestDeleteAlert(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	a := seedAlert(t, ms, "u1")

	assert.ErrorIs(t, ms.DeleteAlert(ctx, "u2", a.ID), store.ErrNotFound)
	require.NoError(t, ms.DeleteAlert(ctx, "u1", a.ID))

	alerts, err := ms.ListAlerts(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

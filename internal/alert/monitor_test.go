package alert_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade/engine/internal/alert"
	"github.com/papertrade/engine/internal/bus"
	"github.com/papertrade/engine/internal/model"
	"github.com/papertrade/engine/internal/quote"
	"github.com/papertrade/engine/internal/store"
)

// countingQuotes records how many times each symbol was fetched.
type countingQuotes struct {
	prices map[string]decimal.Decimal
	errs   map[string]error
	calls  map[string]int
}

func newCountingQuotes() *countingQuotes {
	return &countingQuotes{
		prices: make(map[string]decimal.Decimal),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (c *countingQuotes) Quote(_ context.Context, symbol string) (*quote.Quote, error) {
	c.calls[symbol]++
	if err := c.errs[symbol]; err != nil {
		return nil, err
	}
	return quote.NewQuote(c.prices[symbol]), nil
}

func (c *countingQuotes) Search(_ context.Context, _ string) (*quote.SearchResult, error) {
	return &quote.SearchResult{}, nil
}

func (c *countingQuotes) total() int {
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

func seedAlert(t *testing.T, ms *store.MemoryStore, userID, symbol, condition string, target float64) *model.Alert {
	t.Helper()
	a := &model.Alert{
		ID:          uuid.New().String(),
		UserID:      userID,
		Symbol:      symbol,
		Condition:   condition,
		TargetPrice: decimal.NewFromFloat(target),
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, ms.CreateAlert(context.Background(), a))
	return a
}

func alertByID(t *testing.T, ms *store.MemoryStore, userID, id string) model.Alert {
	t.Helper()
	alerts, err := ms.ListAlerts(context.Background(), userID)
	require.NoError(t, err)
	for _, a := range alerts {
		if a.ID == id {
			return a
		}
	}
	t.Fatalf("alert %s not found", id)
	return model.Alert{}
}

func TestTickTriggersOnConditions(t *testing.T) {
	ms := store.NewMemoryStore()
	fq := newCountingQuotes()
	m := alert.NewMonitor(ms, fq, nil)
	ctx := context.Background()

	fq.prices["TSLA"] = decimal.NewFromInt(95)
	fq.prices["AAPL"] = decimal.NewFromInt(200)

	below := seedAlert(t, ms, "u1", "TSLA", model.CondBelow, 100) // 95 <= 100: hit
	above := seedAlert(t, ms, "u1", "AAPL", model.CondAbove, 150) // 200 >= 150: hit
	miss := seedAlert(t, ms, "u1", "TSLA", model.CondAbove, 100)  // 95 < 100: miss

	require.NoError(t, m.Tick(ctx))

	got := alertByID(t, ms, "u1", below.ID)
	assert.True(t, got.Triggered)
	assert.NotNil(t, got.TriggeredAt)

	assert.True(t, alertByID(t, ms, "u1", above.ID).Triggered)
	assert.False(t, alertByID(t, ms, "u1", miss.ID).Triggered)
}

func TestTickTriggersOnExactTarget(t *testing.T) {
	ms := store.NewMemoryStore()
	fq := newCountingQuotes()
	m := alert.NewMonitor(ms, fq, nil)

	fq.prices["NVDA"] = decimal.NewFromInt(500)

	above := seedAlert(t, ms, "u1", "NVDA", model.CondAbove, 500) // price == target
	below := seedAlert(t, ms, "u2", "NVDA", model.CondBelow, 500)

	require.NoError(t, m.Tick(context.Background()))

	assert.True(t, alertByID(t, ms, "u1", above.ID).Triggered, "above fires on price >= target")
	assert.True(t, alertByID(t, ms, "u2", below.ID).Triggered, "below fires on price <= target")
}

func TestTickBatchesQuotesPerSymbol(t *testing.T) {
	ms := store.NewMemoryStore()
	fq := newCountingQuotes()
	m := alert.NewMonitor(ms, fq, nil)

	fq.prices["TSLA"] = decimal.NewFromInt(95)
	fq.prices["AAPL"] = decimal.NewFromInt(200)

	// 7 alerts across 2 distinct symbols, several users.
	for i := 0; i < 4; i++ {
		seedAlert(t, ms, "u1", "TSLA", model.CondBelow, 100)
	}
	seedAlert(t, ms, "u2", "TSLA", model.CondBelow, 90)
	seedAlert(t, ms, "u2", "AAPL", model.CondAbove, 150)
	seedAlert(t, ms, "u3", "AAPL", model.CondAbove, 300)

	require.NoError(t, m.Tick(context.Background()))

	assert.Equal(t, 2, fq.total(), "one quote fetch per distinct symbol, not per alert")
	assert.Equal(t, 1, fq.calls["TSLA"])
	assert.Equal(t, 1, fq.calls["AAPL"])
}

func TestTickSkipsSymbolOnUpstreamError(t *testing.T) {
	ms := store.NewMemoryStore()
	fq := newCountingQuotes()
	m := alert.NewMonitor(ms, fq, nil)
	ctx := context.Background()

	fq.errs["TSLA"] = quote.ErrUpstream
	fq.prices["AAPL"] = decimal.NewFromInt(200)

	pending := seedAlert(t, ms, "u1", "TSLA", model.CondBelow, 100)
	hit := seedAlert(t, ms, "u1", "AAPL", model.CondAbove, 150)

	require.NoError(t, m.Tick(ctx))

	assert.False(t, alertByID(t, ms, "u1", pending.ID).Triggered, "alert stays pending on provider failure")
	assert.True(t, alertByID(t, ms, "u1", hit.ID).Triggered, "other symbols unaffected")

	// Provider recovers: the pending alert fires on the next tick.
	delete(fq.errs, "TSLA")
	fq.prices["TSLA"] = decimal.NewFromInt(95)
	require.NoError(t, m.Tick(ctx))
	assert.True(t, alertByID(t, ms, "u1", pending.ID).Triggered)
}

func TestTickIgnoresInvalidPrice(t *testing.T) {
	ms := store.NewMemoryStore()
	fq := newCountingQuotes()
	m := alert.NewMonitor(ms, fq, nil)

	fq.prices["JUNK"] = decimal.Zero // invalid quote

	a := seedAlert(t, ms, "u1", "JUNK", model.CondBelow, 100)

	require.NoError(t, m.Tick(context.Background()))
	assert.False(t, alertByID(t, ms, "u1", a.ID).Triggered, "non-positive price never triggers")
}

func TestTickPublishesOneEventPerTick(t *testing.T) {
	ms := store.NewMemoryStore()
	fq := newCountingQuotes()
	events := bus.New()
	m := alert.NewMonitor(ms, fq, events)

	sub := events.Subscribe()
	defer sub.Close()

	fq.prices["TSLA"] = decimal.NewFromInt(95)
	for i := 0; i < 4; i++ {
		seedAlert(t, ms, "u1", "TSLA", model.CondBelow, 100)
	}

	require.NoError(t, m.Tick(context.Background()))

	assert.Equal(t, bus.EventAlertsUpdated, <-sub.Events())
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected second event %q: alertsUpdated is batched per tick", ev)
	default:
	}

	// A tick with nothing newly triggered publishes nothing.
	require.NoError(t, m.Tick(context.Background()))
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %q on quiet tick", ev)
	default:
	}
}

func TestTriggeredAlertNeverRefires(t *testing.T) {
	ms := store.NewMemoryStore()
	fq := newCountingQuotes()
	m := alert.NewMonitor(ms, fq, nil)
	ctx := context.Background()

	fq.prices["TSLA"] = decimal.NewFromInt(95)
	a := seedAlert(t, ms, "u1", "TSLA", model.CondBelow, 100)

	require.NoError(t, m.Tick(ctx))
	first := alertByID(t, ms, "u1", a.ID)
	require.True(t, first.Triggered)

	require.NoError(t, m.Tick(ctx))
	second := alertByID(t, ms, "u1", a.ID)
	assert.Equal(t, first.TriggeredAt.UnixNano(), second.TriggeredAt.UnixNano(),
		"triggeredAt must not move on later ticks")

	// Once all alerts are triggered there is nothing to scan, so no fetches.
	before := fq.total()
	require.NoError(t, m.Tick(ctx))
	assert.Equal(t, before, fq.total())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ms := store.NewMemoryStore()
	m := alert.NewMonitor(ms, newCountingQuotes(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop on context cancel")
	}
}

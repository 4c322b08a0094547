// Package trade implements trade execution against the ledger store: buy and
// sell with quote lookups, cash settlement, position averaging, and the
// immutable order log, plus the HTTP handlers in front of it.
//
// All monetary values use shopspring/decimal, never float64.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/papertrade/engine/internal/bus"
	"github.com/papertrade/engine/internal/metrics"
	"github.com/papertrade/engine/internal/model"
	"github.com/papertrade/engine/internal/quote"
	"github.com/papertrade/engine/internal/store"
)

// Business-rule rejections. None of these mutate any state.
var (
	ErrInvalidSymbol      = errors.New("trade: missing symbol")
	ErrInvalidQty         = errors.New("trade: quantity must be a positive integer")
	ErrInvalidAmount      = errors.New("trade: amount must be positive")
	ErrQuoteUnavailable   = errors.New("trade: quote unavailable")
	ErrInsufficientFunds  = errors.New("trade: not enough cash")
	ErrNoPosition         = errors.New("trade: no position to sell")
	ErrInsufficientShares = errors.New("trade: not enough shares")
)

// Receipt summarizes one executed trade or deposit.
type Receipt struct {
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Qty       int64           `json:"qty"`
	FillPrice decimal.Decimal `json:"fill_price"`
	Total     decimal.Decimal `json:"total"` // cost for buys, proceeds for sells
	NewCash   decimal.Decimal `json:"new_cash"`
	Position  *model.Position `json:"position,omitempty"` // nil once a sell closes the position
}

// Engine validates and applies trades. All mutations for one user are
// serialized through a per-user lock: two concurrent requests from the same
// user cannot interleave their cash/position read-modify-write cycles.
// Operations on different users proceed in parallel.
type Engine struct {
	store  store.Store
	quotes quote.Source
	events *bus.Bus

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates a trade engine. events may be nil when no live clients
// need notifications (tests).
func NewEngine(st store.Store, quotes quote.Source, events *bus.Bus) *Engine {
	return &Engine{
		store:  st,
		quotes: quotes,
		events: events,
		locks:  make(map[string]*sync.Mutex),
	}
}

// userLock returns the mutex serializing all mutations for one user.
// Locks are never reclaimed; the per-user footprint is one mutex.
func (e *Engine) userLock(userID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[userID] = l
	}
	return l
}

func (e *Engine) publish(events ...string) {
	if e.events == nil {
		return
	}
	for _, ev := range events {
		e.events.Publish(ev)
	}
}

// fetchPrice resolves a usable fill price or fails with ErrQuoteUnavailable.
func (e *Engine) fetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	q, err := e.quotes.Quote(ctx, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}
	if !q.Valid() {
		return decimal.Zero, ErrQuoteUnavailable
	}
	return q.Current, nil
}

func validate(symbol string, qty int64) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return "", ErrInvalidSymbol
	}
	if qty <= 0 {
		return "", ErrInvalidQty
	}
	return sym, nil
}

// Buy executes a market buy: price*qty is debited from the account and the
// position re-averaged. Cash is debited before the position write so a
// partial store failure can never create shares the user did not pay for.
func (e *Engine) Buy(ctx context.Context, userID, symbol string, qty int64) (*Receipt, error) {
	start := time.Now()

	sym, err := validate(symbol, qty)
	if err != nil {
		metrics.TradeRejections.WithLabelValues("validation").Inc()
		return nil, err
	}

	price, err := e.fetchPrice(ctx, sym)
	if err != nil {
		metrics.TradeRejections.WithLabelValues("quote").Inc()
		return nil, err
	}
	total := price.Mul(decimal.NewFromInt(qty))

	l := e.userLock(userID)
	l.Lock()
	defer l.Unlock()

	acc, err := e.store.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if acc.Cash.LessThan(total) {
		metrics.TradeRejections.WithLabelValues("funds").Inc()
		return nil, ErrInsufficientFunds
	}

	now := time.Now().UTC()

	newPos := &model.Position{
		UserID:    userID,
		Symbol:    sym,
		Qty:       qty,
		AvgPrice:  price,
		UpdatedAt: now,
	}
	if existing, err := e.store.GetPosition(ctx, userID, sym); err == nil {
		// Volume-weighted re-average across the old basis and this fill.
		newQty := existing.Qty + qty
		oldCost := existing.AvgPrice.Mul(decimal.NewFromInt(existing.Qty))
		newPos.Qty = newQty
		newPos.AvgPrice = oldCost.Add(total).Div(decimal.NewFromInt(newQty))
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load position: %w", err)
	}

	newCash := acc.Cash.Sub(total)
	if err := e.store.SetCash(ctx, userID, newCash, now); err != nil {
		return nil, fmt.Errorf("debit cash: %w", err)
	}
	if err := e.store.UpsertPosition(ctx, newPos); err != nil {
		// Cash was debited but the position write failed; the ledger is
		// inconsistent until the user retries. Logged loudly.
		slog.Error("position write failed after cash debit",
			"user", userID, "symbol", sym, "err", err)
		return nil, fmt.Errorf("write position: %w", err)
	}

	e.recordOrder(ctx, userID, sym, model.SideBuy, qty, price, total, now)

	metrics.TradesTotal.WithLabelValues(model.SideBuy).Inc()
	metrics.TradeLatency.WithLabelValues(model.SideBuy).Observe(time.Since(start).Seconds())

	slog.Info("buy executed",
		"user", userID, "symbol", sym, "qty", qty,
		"fill_price", price.String(), "cost", total.String(), "new_cash", newCash.String())

	e.publish(bus.EventCashUpdated, bus.EventPositionUpdated, bus.EventOrdersUpdated)

	return &Receipt{
		Symbol:    sym,
		Side:      model.SideBuy,
		Qty:       qty,
		FillPrice: price,
		Total:     total,
		NewCash:   newCash,
		Position:  newPos,
	}, nil
}

// Sell executes a market sell: the position is reduced (deleted at zero,
// average price untouched) and price*qty credited to the account. The
// position is reduced before the credit so a partial store failure can never
// create cash the user did not earn.
func (e *Engine) Sell(ctx context.Context, userID, symbol string, qty int64) (*Receipt, error) {
	start := time.Now()

	sym, err := validate(symbol, qty)
	if err != nil {
		metrics.TradeRejections.WithLabelValues("validation").Inc()
		return nil, err
	}

	price, err := e.fetchPrice(ctx, sym)
	if err != nil {
		metrics.TradeRejections.WithLabelValues("quote").Inc()
		return nil, err
	}
	proceeds := price.Mul(decimal.NewFromInt(qty))

	l := e.userLock(userID)
	l.Lock()
	defer l.Unlock()

	pos, err := e.store.GetPosition(ctx, userID, sym)
	if errors.Is(err, store.ErrNotFound) {
		metrics.TradeRejections.WithLabelValues("no_position").Inc()
		return nil, ErrNoPosition
	}
	if err != nil {
		return nil, fmt.Errorf("load position: %w", err)
	}
	if qty > pos.Qty {
		metrics.TradeRejections.WithLabelValues("shares").Inc()
		return nil, ErrInsufficientShares
	}

	acc, err := e.store.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}

	now := time.Now().UTC()

	var remaining *model.Position
	if qty == pos.Qty {
		if err := e.store.DeletePosition(ctx, userID, sym); err != nil {
			return nil, fmt.Errorf("delete position: %w", err)
		}
	} else {
		pos.Qty -= qty
		pos.UpdatedAt = now
		if err := e.store.UpsertPosition(ctx, pos); err != nil {
			return nil, fmt.Errorf("write position: %w", err)
		}
		remaining = pos
	}

	newCash := acc.Cash.Add(proceeds)
	if err := e.store.SetCash(ctx, userID, newCash, now); err != nil {
		// Shares are gone but the credit failed; the ledger is inconsistent
		// until corrected. Logged loudly.
		slog.Error("cash credit failed after position reduction",
			"user", userID, "symbol", sym, "err", err)
		return nil, fmt.Errorf("credit cash: %w", err)
	}

	e.recordOrder(ctx, userID, sym, model.SideSell, qty, price, proceeds, now)

	metrics.TradesTotal.WithLabelValues(model.SideSell).Inc()
	metrics.TradeLatency.WithLabelValues(model.SideSell).Observe(time.Since(start).Seconds())

	slog.Info("sell executed",
		"user", userID, "symbol", sym, "qty", qty,
		"fill_price", price.String(), "proceeds", proceeds.String(), "new_cash", newCash.String())

	e.publish(bus.EventCashUpdated, bus.EventPositionUpdated, bus.EventOrdersUpdated)

	return &Receipt{
		Symbol:    sym,
		Side:      model.SideSell,
		Qty:       qty,
		FillPrice: price,
		Total:     proceeds,
		NewCash:   newCash,
		Position:  remaining,
	}, nil
}

// Deposit credits virtual cash to the account.
func (e *Engine) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (*model.Account, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	l := e.userLock(userID)
	l.Lock()
	defer l.Unlock()

	acc, err := e.store.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}

	acc.Cash = acc.Cash.Add(amount)
	acc.UpdatedAt = time.Now().UTC()
	if err := e.store.SetCash(ctx, userID, acc.Cash, acc.UpdatedAt); err != nil {
		return nil, fmt.Errorf("credit cash: %w", err)
	}

	slog.Info("deposit", "user", userID, "amount", amount.String(), "new_cash", acc.Cash.String())
	e.publish(bus.EventCashUpdated)

	return acc, nil
}

// recordOrder appends to the immutable trade log. Settlement has already
// happened; a failure here loses history, not money, so it is logged and
// not rolled back.
func (e *Engine) recordOrder(ctx context.Context, userID, symbol, side string, qty int64, price, total decimal.Decimal, now time.Time) {
	order := &model.Order{
		ID:        uuid.New().String(),
		UserID:    userID,
		Symbol:    symbol,
		Side:      side,
		Qty:       qty,
		Price:     price,
		Total:     total,
		CreatedAt: now,
	}
	if err := e.store.RecordOrder(ctx, order); err != nil {
		slog.Error("order log append failed", "user", userID, "symbol", symbol, "err", err)
	}
}

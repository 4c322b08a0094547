package trade

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/papertrade/engine/internal/model"
)

// Holding is one position marked to market.
type Holding struct {
	model.Position
	LastPrice     decimal.Decimal `json:"last_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// Portfolio aggregates the user's cash and marked-to-market holdings.
type Portfolio struct {
	UserID     string          `json:"user_id"`
	Cash       decimal.Decimal `json:"cash"`
	Holdings   []Holding       `json:"holdings"`
	TotalValue decimal.Decimal `json:"total_value"` // cash + market value of holdings
	TotalPnL   decimal.Decimal `json:"total_pnl"`
}

// Portfolio returns the user's account and positions with current-price
// marks. A symbol whose quote is unavailable this call is marked at its
// average cost (zero unrealized P&L) rather than failing the whole view.
func (e *Engine) Portfolio(ctx context.Context, userID string) (*Portfolio, error) {
	acc, err := e.store.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}

	positions, err := e.store.ListPositions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}

	p := &Portfolio{
		UserID:     userID,
		Cash:       acc.Cash,
		Holdings:   make([]Holding, 0, len(positions)),
		TotalValue: acc.Cash,
	}

	for _, pos := range positions {
		mark := pos.AvgPrice
		if q, err := e.quotes.Quote(ctx, pos.Symbol); err == nil && q.Valid() {
			mark = q.Current
		}

		qty := decimal.NewFromInt(pos.Qty)
		value := mark.Mul(qty)
		pnl := value.Sub(pos.AvgPrice.Mul(qty))

		p.Holdings = append(p.Holdings, Holding{
			Position:      pos,
			LastPrice:     mark,
			MarketValue:   value,
			UnrealizedPnL: pnl,
		})
		p.TotalValue = p.TotalValue.Add(value)
		p.TotalPnL = p.TotalPnL.Add(pnl)
	}

	return p, nil
}

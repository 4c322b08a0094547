// Package model defines the core domain types shared across the paper-trading
// engine. All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Alert conditions.
const (
	CondAbove = "above"
	CondBelow = "below"
)

// StartingCash is the balance an account is created with on first access.
var StartingCash = decimal.NewFromInt(10000)

// Account holds a user's virtual cash balance. Created lazily with
// StartingCash, mutated only by deposits and trade settlement, never deleted.
// Invariant: Cash >= 0 after every committed operation.
type Account struct {
	UserID    string          `json:"user_id" db:"user_id"`
	Cash      decimal.Decimal `json:"cash" db:"cash"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Position is a user's current holding in one symbol. A position exists only
// while Qty > 0; selling down to zero deletes the record.
type Position struct {
	UserID    string          `json:"user_id" db:"user_id"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Qty       int64           `json:"qty" db:"qty"`
	AvgPrice  decimal.Decimal `json:"avg_price" db:"avg_price"` // volume-weighted acquisition cost
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Order is an immutable record of an executed trade. Once created, orders are
// never modified or deleted; they exist for history display only.
type Order struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Side      string          `json:"side" db:"side"` // "buy" or "sell"
	Qty       int64           `json:"qty" db:"qty"`
	Price     decimal.Decimal `json:"price" db:"price"` // fill price
	Total     decimal.Decimal `json:"total" db:"total"` // qty * price
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Alert is a user-defined price rule that fires at most once. The Triggered
// flag transitions from false to true exactly once (conditional update in the store)
// and is never reset.
type Alert struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	Condition   string          `json:"condition" db:"condition"` // "above" or "below"
	TargetPrice decimal.Decimal `json:"target_price" db:"target_price"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	Triggered   bool            `json:"triggered" db:"triggered"`
	TriggeredAt *time.Time      `json:"triggered_at,omitempty" db:"triggered_at"`
}

// Hit reports whether price satisfies the alert's condition. Above fires on
// price >= target, below on price <= target.
func (a *Alert) Hit(price decimal.Decimal) bool {
	switch a.Condition {
	case CondAbove:
		return price.GreaterThanOrEqual(a.TargetPrice)
	case CondBelow:
		return price.LessThanOrEqual(a.TargetPrice)
	}
	return false
}

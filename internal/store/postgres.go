package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/papertrade/engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// GetOrCreateAccount inserts the account with the starting balance if absent
// and reads it back. ON CONFLICT DO NOTHING makes concurrent first access
// safe: exactly one row exists per user afterwards.
func (s *PostgresStore) GetOrCreateAccount(ctx context.Context, userID string) (*model.Account, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (user_id, cash, updated_at)
		 VALUES ($1, $2::NUMERIC, $3)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, model.StartingCash.String(), time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("create account %s: %w", userID, err)
	}

	var acc model.Account
	var cash string
	err = s.pool.QueryRow(ctx,
		`SELECT user_id, cash::TEXT, updated_at FROM accounts WHERE user_id = $1`, userID).
		Scan(&acc.UserID, &cash, &acc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", userID, err)
	}
	acc.Cash, _ = decimal.NewFromString(cash)
	return &acc, nil
}

func (s *PostgresStore) SetCash(ctx context.Context, userID string, cash decimal.Decimal, updatedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET cash = $2::NUMERIC, updated_at = $3 WHERE user_id = $1`,
		userID, cash.String(), updatedAt,
	)
	if err != nil {
		return fmt.Errorf("set cash %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, userID, symbol string) (*model.Position, error) {
	var p model.Position
	var avg string
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, symbol, qty, avg_price::TEXT, updated_at
		 FROM positions WHERE user_id = $1 AND symbol = $2`, userID, symbol).
		Scan(&p.UserID, &p.Symbol, &p.Qty, &avg, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s: %w", userID, symbol, err)
	}
	p.AvgPrice, _ = decimal.NewFromString(avg)
	return &p, nil
}

func (s *PostgresStore) UpsertPosition(ctx context.Context, pos *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (user_id, symbol, qty, avg_price, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5)
		 ON CONFLICT (user_id, symbol) DO UPDATE
		 SET qty = EXCLUDED.qty, avg_price = EXCLUDED.avg_price, updated_at = EXCLUDED.updated_at`,
		pos.UserID, pos.Symbol, pos.Qty, pos.AvgPrice.String(), pos.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert position %s/%s: %w", pos.UserID, pos.Symbol, err)
	}
	return nil
}

func (s *PostgresStore) DeletePosition(ctx context.Context, userID, symbol string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM positions WHERE user_id = $1 AND symbol = $2`, userID, symbol)
	if err != nil {
		return fmt.Errorf("delete position %s/%s: %w", userID, symbol, err)
	}
	return nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, symbol, qty, avg_price::TEXT, updated_at
		 FROM positions WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var avg string
		if err := rows.Scan(&p.UserID, &p.Symbol, &p.Qty, &avg, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.AvgPrice, _ = decimal.NewFromString(avg)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) RecordOrder(ctx context.Context, o *model.Order) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, user_id, symbol, side, qty, price, total, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8)`,
		o.ID, o.UserID, o.Symbol, o.Side, o.Qty,
		o.Price.String(), o.Total.String(), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record order %s: %w", o.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListOrders(ctx context.Context, userID string, limit int) ([]model.Order, error) {
	q := `SELECT id, user_id, symbol, side, qty, price::TEXT, total::TEXT, created_at
	      FROM orders WHERE user_id = $1 ORDER BY created_at DESC`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		var price, total string
		if err := rows.Scan(&o.ID, &o.UserID, &o.Symbol, &o.Side, &o.Qty,
			&price, &total, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Price, _ = decimal.NewFromString(price)
		o.Total, _ = decimal.NewFromString(total)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) CreateAlert(ctx context.Context, a *model.Alert) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO alerts (id, user_id, symbol, condition, target_price, created_at, triggered, triggered_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8)`,
		a.ID, a.UserID, a.Symbol, a.Condition, a.TargetPrice.String(),
		a.CreatedAt, a.Triggered, a.TriggeredAt,
	)
	if err != nil {
		return fmt.Errorf("create alert %s: %w", a.ID, err)
	}
	return nil
}

func (s *PostgresStore) DeleteAlert(ctx context.Context, userID, alertID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM alerts WHERE id = $1 AND user_id = $2`, alertID, userID)
	if err != nil {
		return fmt.Errorf("delete alert %s: %w", alertID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListAlerts(ctx context.Context, userID string) ([]model.Alert, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, symbol, condition, target_price::TEXT, created_at, triggered, triggered_at
		 FROM alerts WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAlerts(rows)
}

func (s *PostgresStore) ListPendingAlerts(ctx context.Context) ([]model.Alert, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, symbol, condition, target_price::TEXT, created_at, triggered, triggered_at
		 FROM alerts WHERE triggered = FALSE ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// TryTriggerAlert relies on the WHERE triggered = FALSE predicate for
// atomicity: of any number of racing callers, exactly one update matches.
func (s *PostgresStore) TryTriggerAlert(ctx context.Context, alertID, userID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET triggered = TRUE, triggered_at = $3
		 WHERE id = $1 AND user_id = $2 AND triggered = FALSE`,
		alertID, userID, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("trigger alert %s: %w", alertID, err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// No row matched: either already triggered (fine) or not this user's
	// alert at all.
	var triggered bool
	err = s.pool.QueryRow(ctx,
		`SELECT triggered FROM alerts WHERE id = $1 AND user_id = $2`, alertID, userID).
		Scan(&triggered)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("trigger alert %s: %w", alertID, err)
	}
	return false, nil
}

func scanAlerts(rows pgx.Rows) ([]model.Alert, error) {
	var alerts []model.Alert
	for rows.Next() {
		var a model.Alert
		var target string
		if err := rows.Scan(&a.ID, &a.UserID, &a.Symbol, &a.Condition,
			&target, &a.CreatedAt, &a.Triggered, &a.TriggeredAt); err != nil {
			return nil, err
		}
		a.TargetPrice, _ = decimal.NewFromString(target)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

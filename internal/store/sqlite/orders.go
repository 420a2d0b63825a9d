package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cryptotrader/internal/model"
)

// SaveOrder upserts an order. The first insert fixes its position in LoadOrders.
func (s *Store) SaveOrder(ctx context.Context, o model.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, seq, symbol, side, quantity, price, status, created_at, updated_at)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM orders), ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			symbol = excluded.symbol,
			side = excluded.side,
			quantity = excluded.quantity,
			price = excluded.price,
			status = excluded.status,
			updated_at = excluded.updated_at
	`, o.ID, o.Symbol, string(o.Side), o.Quantity.String(), o.Price.String(), string(o.Status),
		o.CreatedAt.UnixNano(), o.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite save order: %w", err)
	}
	return nil
}

// LoadOrders returns every order in first-insert order.
func (s *Store) LoadOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, side, quantity, price, status, created_at, updated_at
		FROM orders ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query orders: %w", err)
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		var (
			o            model.Order
			side, status string
			qty, price   string
			created, upd int64
		)
		if err := rows.Scan(&o.ID, &o.Symbol, &side, &qty, &price, &status, &created, &upd); err != nil {
			return nil, fmt.Errorf("sqlite scan order: %w", err)
		}
		if o.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("order %s quantity: %w", o.ID, err)
		}
		if o.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("order %s price: %w", o.ID, err)
		}
		o.Side = model.Side(side)
		o.Status = model.OrderStatus(status)
		o.CreatedAt = time.Unix(0, created).UTC()
		o.UpdatedAt = time.Unix(0, upd).UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	errorsmod "cosmossdk.io/errors"

	obtypes "github.com/openpredict/predex/x/orderbook/types"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UpsertOrder writes an order row. On re-processing only remaining, status
// and updated_at change; the immutable fields keep their first-write values.
func (s *Store) UpsertOrder(ctx context.Context, o *obtypes.Order) error {
	return upsertOrder(ctx, s.db, o)
}

func upsertOrder(ctx context.Context, ex execer, o *obtypes.Order) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO orders (
			id, market_id, outcome_index, side, type, price, quantity,
			remaining, status, user_id, agent_id, envelope, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			remaining  = excluded.remaining,
			status     = excluded.status,
			updated_at = excluded.updated_at
	`,
		o.ID, o.MarketID, o.OutcomeIndex, o.Side.String(), o.Type.String(),
		o.Price.String(), o.Quantity.String(), o.Remaining.String(),
		o.Status.String(), o.UserID, o.AgentID, string(o.Envelope),
		encodeTime(o.CreatedAt), encodeTime(o.UpdatedAt),
	)
	return err
}

// GetOrder loads one order by id.
func (s *Store) GetOrder(ctx context.Context, id string) (*obtypes.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, market_id, outcome_index, side, type, price, quantity,
		       remaining, status, user_id, agent_id, envelope, created_at, updated_at
		  FROM orders WHERE id = ?
	`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errorsmod.Wrapf(ErrNotFound, "order %s", id)
	}
	return o, err
}

// ListOrdersByMarket returns a market's orders, newest first.
func (s *Store) ListOrdersByMarket(ctx context.Context, marketID string, limit int) ([]*obtypes.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, outcome_index, side, type, price, quantity,
		       remaining, status, user_id, agent_id, envelope, created_at, updated_at
		  FROM orders WHERE market_id = ? ORDER BY created_at DESC LIMIT ?
	`, marketID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*obtypes.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrder(row rowScanner) (*obtypes.Order, error) {
	var (
		o         obtypes.Order
		side      string
		typ       string
		price     string
		quantity  string
		remaining string
		status    string
		envelope  string
		createdAt string
		updatedAt string
	)
	err := row.Scan(
		&o.ID, &o.MarketID, &o.OutcomeIndex, &side, &typ, &price, &quantity,
		&remaining, &status, &o.UserID, &o.AgentID, &envelope, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if v, ok := obtypes.SideFromString(side); ok {
		o.Side = v
	}
	if v, ok := obtypes.OrderTypeFromString(typ); ok {
		o.Type = v
	}
	if v, ok := obtypes.OrderStatusFromString(status); ok {
		o.Status = v
	}
	o.Price = decodeDec(price)
	o.Quantity = decodeDec(quantity)
	o.Remaining = decodeDec(remaining)
	if envelope != "" {
		o.Envelope = json.RawMessage(envelope)
	}
	o.CreatedAt = decodeTime(createdAt)
	o.UpdatedAt = decodeTime(updatedAt)
	return &o, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	errorsmod "cosmossdk.io/errors"

	"github.com/openpredict/predex/pkg/num"
	obtypes "github.com/openpredict/predex/x/orderbook/types"
)

// BatchResult reports what one persistence job actually changed.
type BatchResult struct {
	MarketID    string
	Inserted    int
	VolumeDelta num.Dec
	Volume      num.Dec
}

// ApplyTradeBatch persists one matching result in a single transaction:
// upsert the order, insert the trades skipping duplicate ids, and bump the
// market volume by the notional of the rows that were actually inserted.
// Replaying the same job changes nothing: the duplicate inserts affect zero
// rows so the increment is skipped. The increment itself is one SQL
// statement (dec_add), never a read-modify-write through memory.
func (s *Store) ApplyTradeBatch(ctx context.Context, order *obtypes.Order, trades []*obtypes.Trade) (*BatchResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errorsmod.Wrap(ErrTx, err.Error())
	}
	defer tx.Rollback()

	res := &BatchResult{
		VolumeDelta: num.ZeroDec(),
		Volume:      num.ZeroDec(),
	}
	if order != nil {
		if err := upsertOrder(ctx, tx, order); err != nil {
			return nil, err
		}
		res.MarketID = order.MarketID
	}

	for _, tr := range trades {
		res.MarketID = tr.MarketID
		r, err := tx.ExecContext(ctx, `
			INSERT INTO trades (
				id, market_id, outcome_index, price, quantity, side,
				maker_order_id, taker_order_id,
				taker_user_id, taker_agent_id, maker_user_id, maker_agent_id,
				executed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`,
			tr.ID, tr.MarketID, tr.OutcomeIndex, tr.Price.String(), tr.Quantity.String(),
			tr.Side.String(), tr.MakerOrderID, tr.TakerOrderID,
			tr.TakerUserID, tr.TakerAgentID, tr.MakerUserID, tr.MakerAgentID,
			encodeTime(tr.ExecutedAt),
		)
		if err != nil {
			return nil, err
		}
		n, err := r.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n > 0 {
			res.Inserted++
			res.VolumeDelta = res.VolumeDelta.Add(tr.Notional())
		}
	}

	if res.Inserted > 0 {
		r, err := tx.ExecContext(ctx, `
			UPDATE markets SET volume = dec_add(volume, ?), updated_at = ? WHERE id = ?
		`, res.VolumeDelta.String(), encodeTime(time.Now()), res.MarketID)
		if err != nil {
			return nil, err
		}
		n, err := r.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, errorsmod.Wrapf(ErrNotFound, "market %s", res.MarketID)
		}
	}

	if res.MarketID != "" {
		var vol string
		err := tx.QueryRowContext(ctx, `SELECT volume FROM markets WHERE id = ?`, res.MarketID).Scan(&vol)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// Order-only job for a market row that does not exist yet.
		case err != nil:
			return nil, err
		default:
			res.Volume = decodeDec(vol)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errorsmod.Wrap(ErrTx, err.Error())
	}
	return res, nil
}

// ListTradesByMarket returns a market's trades, newest first.
func (s *Store) ListTradesByMarket(ctx context.Context, marketID string, limit int) ([]*obtypes.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, outcome_index, price, quantity, side,
		       maker_order_id, taker_order_id,
		       taker_user_id, taker_agent_id, maker_user_id, maker_agent_id,
		       executed_at
		  FROM trades WHERE market_id = ? ORDER BY executed_at DESC LIMIT ?
	`, marketID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*obtypes.Trade
	for rows.Next() {
		tr, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func scanTrade(row rowScanner) (*obtypes.Trade, error) {
	var (
		tr         obtypes.Trade
		price      string
		quantity   string
		side       string
		executedAt string
	)
	err := row.Scan(
		&tr.ID, &tr.MarketID, &tr.OutcomeIndex, &price, &quantity, &side,
		&tr.MakerOrderID, &tr.TakerOrderID,
		&tr.TakerUserID, &tr.TakerAgentID, &tr.MakerUserID, &tr.MakerAgentID,
		&executedAt,
	)
	if err != nil {
		return nil, err
	}
	if v, ok := obtypes.SideFromString(side); ok {
		tr.Side = v
	}
	tr.Price = decodeDec(price)
	tr.Quantity = decodeDec(quantity)
	tr.ExecutedAt = decodeTime(executedAt)
	return &tr, nil
}

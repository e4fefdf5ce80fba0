package store

import (
	"context"

	"github.com/openpredict/predex/pkg/num"
	markettypes "github.com/openpredict/predex/x/market/types"
)

// UpsertPosition writes a position keyed by (market, outcome, owner); an
// existing row keeps its id and first-write timestamps.
func (s *Store) UpsertPosition(ctx context.Context, p *markettypes.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (
			id, market_id, outcome_index, owner, side, collateral, status,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(market_id, outcome_index, owner) DO UPDATE SET
			side       = excluded.side,
			collateral = excluded.collateral,
			status     = excluded.status,
			updated_at = excluded.updated_at
	`,
		p.ID, p.MarketID, p.OutcomeIndex, p.Owner, p.Side.String(),
		p.Collateral.String(), p.Status.String(),
		encodeTime(p.CreatedAt), encodeTime(p.UpdatedAt),
	)
	return err
}

// ListPositions returns a market's positions.
func (s *Store) ListPositions(ctx context.Context, marketID string) ([]*markettypes.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, outcome_index, owner, side, collateral, status,
		       created_at, updated_at
		  FROM positions WHERE market_id = ? ORDER BY created_at
	`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*markettypes.Position
	for rows.Next() {
		var (
			p          markettypes.Position
			side       string
			collateral string
			status     string
			createdAt  string
			updatedAt  string
		)
		if err := rows.Scan(
			&p.ID, &p.MarketID, &p.OutcomeIndex, &p.Owner, &side, &collateral,
			&status, &createdAt, &updatedAt,
		); err != nil {
			return nil, err
		}
		if v, ok := markettypes.PositionSideFromString(side); ok {
			p.Side = v
		}
		if v, ok := markettypes.PositionStatusFromString(status); ok {
			p.Status = v
		}
		p.Collateral = decodeDec(collateral)
		p.CreatedAt = decodeTime(createdAt)
		p.UpdatedAt = decodeTime(updatedAt)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// OutcomeQuantities derives the outstanding quantity vector for a market:
// per outcome, long collateral minus short collateral over OPEN positions.
// Outcomes without positions stay zero; the vector length is n.
func (s *Store) OutcomeQuantities(ctx context.Context, marketID string, n int) ([]num.Dec, error) {
	q := make([]num.Dec, n)
	for i := range q {
		q[i] = num.ZeroDec()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome_index, side, collateral
		  FROM positions
		 WHERE market_id = ? AND status = 'OPEN'
	`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			idx        int
			side       string
			collateral string
		)
		if err := rows.Scan(&idx, &side, &collateral); err != nil {
			return nil, err
		}
		if idx < 0 || idx >= n {
			continue
		}
		c := decodeDec(collateral)
		if side == markettypes.PositionShort.String() {
			q[idx] = q[idx].Sub(c)
		} else {
			q[idx] = q[idx].Add(c)
		}
	}
	return q, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	errorsmod "cosmossdk.io/errors"

	markettypes "github.com/openpredict/predex/x/market/types"
)

// CreateMarket inserts a new market row. A duplicate id yields ErrConflict.
func (s *Store) CreateMarket(ctx context.Context, m *markettypes.Market) error {
	outcomes, err := json.Marshal(m.Outcomes)
	if err != nil {
		return err
	}
	positionIDs, err := json.Marshal(m.PositionIDs)
	if err != nil {
		return err
	}
	resolution := ""
	if !m.ResolutionTime.IsZero() {
		resolution = encodeTime(m.ResolutionTime)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO markets (
			id, name, creator, collateral_id, outcomes, resolution_time,
			status, volume, liquidity_b, condition_id, position_ids,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, m.Name, m.Creator, m.CollateralID, string(outcomes), resolution,
		m.Status.String(), m.Volume.String(), m.LiquidityB.String(),
		m.ConditionID, string(positionIDs),
		encodeTime(m.CreatedAt), encodeTime(m.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return errorsmod.Wrapf(ErrConflict, "market %s", m.ID)
	}
	return err
}

// GetMarket loads one market by id.
func (s *Store) GetMarket(ctx context.Context, id string) (*markettypes.Market, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, creator, collateral_id, outcomes, resolution_time,
		       status, volume, liquidity_b, condition_id, position_ids,
		       created_at, updated_at
		  FROM markets WHERE id = ?
	`, id)
	m, err := scanMarket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errorsmod.Wrapf(ErrNotFound, "market %s", id)
	}
	return m, err
}

// ListMarkets returns all markets, newest first.
func (s *Store) ListMarkets(ctx context.Context) ([]*markettypes.Market, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, creator, collateral_id, outcomes, resolution_time,
		       status, volume, liquidity_b, condition_id, position_ids,
		       created_at, updated_at
		  FROM markets ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*markettypes.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMarketStatus transitions a market's lifecycle state.
func (s *Store) UpdateMarketStatus(ctx context.Context, id string, status markettypes.MarketStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE markets SET status = ?, updated_at = ? WHERE id = ?
	`, status.String(), encodeTime(time.Now()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errorsmod.Wrapf(ErrNotFound, "market %s", id)
	}
	return nil
}

// DeleteMarket removes a market row. Callers gate on lifecycle state; the
// store only reports existence.
func (s *Store) DeleteMarket(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM markets WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errorsmod.Wrapf(ErrNotFound, "market %s", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMarket(row rowScanner) (*markettypes.Market, error) {
	var (
		m           markettypes.Market
		outcomes    string
		positionIDs string
		resolution  string
		status      string
		volume      string
		liquidityB  string
		createdAt   string
		updatedAt   string
	)
	err := row.Scan(
		&m.ID, &m.Name, &m.Creator, &m.CollateralID, &outcomes, &resolution,
		&status, &volume, &liquidityB, &m.ConditionID, &positionIDs,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(outcomes), &m.Outcomes); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(positionIDs), &m.PositionIDs); err != nil {
		return nil, err
	}
	if st, ok := markettypes.MarketStatusFromString(status); ok {
		m.Status = st
	}
	m.Volume = decodeDec(volume)
	m.LiquidityB = decodeDec(liquidityB)
	m.ResolutionTime = decodeTime(resolution)
	m.CreatedAt = decodeTime(createdAt)
	m.UpdatedAt = decodeTime(updatedAt)
	return &m, nil
}

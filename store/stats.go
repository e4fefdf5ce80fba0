package store

import (
	"context"
	"strings"
	"time"

	"github.com/openpredict/predex/pkg/num"
)

// StatsRow is the persisted half of a market's stats; live depth comes from
// the in-memory book registry.
type StatsRow struct {
	MarketID       string
	Volume         num.Dec
	TradeCount     int64
	LastTradeAt    *time.Time
	UniqueTraders  int64
	DistinctAgents int64
	NewsCount      int64
}

// MarketStatsBatch aggregates persisted stats for a set of market ids with a
// fixed number of grouped queries, independent of len(ids).
func (s *Store) MarketStatsBatch(ctx context.Context, ids []string) (map[string]*StatsRow, error) {
	out := make(map[string]*StatsRow, len(ids))
	for _, id := range ids {
		out[id] = &StatsRow{MarketID: id, Volume: num.ZeroDec()}
	}
	if len(ids) == 0 {
		return out, nil
	}

	ph := placeholders(len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, volume FROM markets WHERE id IN (`+ph+`)`, args...)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id, volume string
		if err := rows.Scan(&id, &volume); err != nil {
			rows.Close()
			return nil, err
		}
		if r, ok := out[id]; ok {
			r.Volume = decodeDec(volume)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT market_id, COUNT(*), MAX(executed_at)
		  FROM trades WHERE market_id IN (`+ph+`) GROUP BY market_id
	`, args...)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var (
			id    string
			count int64
			last  string
		)
		if err := rows.Scan(&id, &count, &last); err != nil {
			rows.Close()
			return nil, err
		}
		if r, ok := out[id]; ok {
			r.TradeCount = count
			if t := decodeTime(last); !t.IsZero() {
				r.LastTradeAt = &t
			}
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	doubled := append(append([]any{}, args...), args...)

	rows, err = s.db.QueryContext(ctx, `
		SELECT market_id, COUNT(DISTINCT owner) FROM (
			SELECT market_id, taker_user_id AS owner FROM trades
			 WHERE market_id IN (`+ph+`) AND taker_user_id != ''
			UNION
			SELECT market_id, maker_user_id FROM trades
			 WHERE market_id IN (`+ph+`) AND maker_user_id != ''
		) GROUP BY market_id
	`, doubled...)
	if err != nil {
		return nil, err
	}
	if err := scanCounts(rows, out, func(r *StatsRow, n int64) { r.UniqueTraders = n }); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT market_id, COUNT(DISTINCT agent) FROM (
			SELECT market_id, taker_agent_id AS agent FROM trades
			 WHERE market_id IN (`+ph+`) AND taker_agent_id != ''
			UNION
			SELECT market_id, maker_agent_id FROM trades
			 WHERE market_id IN (`+ph+`) AND maker_agent_id != ''
		) GROUP BY market_id
	`, doubled...)
	if err != nil {
		return nil, err
	}
	if err := scanCounts(rows, out, func(r *StatsRow, n int64) { r.DistinctAgents = n }); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT market_id, COUNT(*) FROM news_items
		 WHERE market_id IN (`+ph+`) GROUP BY market_id
	`, args...)
	if err != nil {
		return nil, err
	}
	if err := scanCounts(rows, out, func(r *StatsRow, n int64) { r.NewsCount = n }); err != nil {
		return nil, err
	}

	return out, nil
}

type countRows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}

func scanCounts(rows countRows, out map[string]*StatsRow, set func(*StatsRow, int64)) error {
	defer rows.Close()
	for rows.Next() {
		var (
			id string
			n  int64
		)
		if err := rows.Scan(&id, &n); err != nil {
			return err
		}
		if r, ok := out[id]; ok {
			set(r, n)
		}
	}
	return rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

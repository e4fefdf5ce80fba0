package keeper

import (
	"context"

	"github.com/openpredict/predex/x/market/types"
)

// Stats merges persisted aggregates with live book depth for the requested
// markets. Every requested id gets an entry; unknown markets come back as
// zero rows so dashboards can render uniform lists.
func (k *Keeper) Stats(ctx context.Context, ids []string) (map[string]*types.MarketStats, error) {
	rows, err := k.store.MarketStatsBatch(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*types.MarketStats, len(ids))
	for _, id := range ids {
		row := rows[id]
		depth := k.books.MarketDepth(id)
		out[id] = &types.MarketStats{
			MarketID:       id,
			Volume:         row.Volume,
			TradeCount:     row.TradeCount,
			LastTradeAt:    row.LastTradeAt,
			UniqueTraders:  row.UniqueTraders,
			DistinctAgents: row.DistinctAgents,
			NewsCount:      row.NewsCount,
			ActiveOrders:   depth.ActiveOrders,
			BidLiquidity:   depth.BidLiquidity,
			AskLiquidity:   depth.AskLiquidity,
		}
	}
	return out, nil
}

// MarketStats returns the merged aggregate for a single market, failing if
// the market does not exist.
func (k *Keeper) MarketStats(ctx context.Context, id string) (*types.MarketStats, error) {
	if _, err := k.GetMarket(ctx, id); err != nil {
		return nil, err
	}
	stats, err := k.Stats(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	return stats[id], nil
}

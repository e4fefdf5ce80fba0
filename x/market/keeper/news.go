package keeper

import (
	"context"

	"github.com/openpredict/predex/store"
	exchangetypes "github.com/openpredict/predex/x/exchange/types"
)

// AddNews attaches a headline to a market and announces the change. The
// aggregate news count surfaces through Stats.
func (k *Keeper) AddNews(ctx context.Context, item *store.NewsItem) (*store.NewsItem, error) {
	if item.Title == "" {
		return nil, exchangetypes.ErrInvalidInput.Wrap("news title required")
	}
	if _, err := k.GetMarket(ctx, item.MarketID); err != nil {
		return nil, err
	}
	id, err := k.store.InsertNews(ctx, item)
	if err != nil {
		return nil, err
	}
	item.ID = id
	k.publish(ctx, exchangetypes.MarketUpdatedEvent(item.MarketID, exchangetypes.ReasonUpdated, item))
	return item, nil
}

// ListNews returns a market's headlines, newest first.
func (k *Keeper) ListNews(ctx context.Context, marketID string, limit int) ([]*store.NewsItem, error) {
	if _, err := k.GetMarket(ctx, marketID); err != nil {
		return nil, err
	}
	return k.store.ListNews(ctx, marketID, limit)
}

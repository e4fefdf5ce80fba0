package keeper

import (
	"context"

	"github.com/google/uuid"

	exchangetypes "github.com/openpredict/predex/x/exchange/types"
	"github.com/openpredict/predex/x/market/types"
)

// UpsertPosition records one owner's exposure to an outcome. OPEN positions
// feed the quantity vector the quote endpoints price against.
func (k *Keeper) UpsertPosition(ctx context.Context, p *types.Position) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := p.Validate(); err != nil {
		return err
	}
	m, err := k.GetMarket(ctx, p.MarketID)
	if err != nil {
		return err
	}
	if err := m.CheckOutcome(p.OutcomeIndex); err != nil {
		return err
	}

	if err := k.store.UpsertPosition(ctx, p); err != nil {
		return err
	}
	k.publish(ctx, exchangetypes.MarketUpdatedEvent(p.MarketID, exchangetypes.ReasonPosition, p))
	return nil
}

// ListPositions returns every position on a market.
func (k *Keeper) ListPositions(ctx context.Context, marketID string) ([]*types.Position, error) {
	return k.store.ListPositions(ctx, marketID)
}

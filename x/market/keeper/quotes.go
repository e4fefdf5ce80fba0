package keeper

import (
	"context"

	errorsmod "cosmossdk.io/errors"

	"github.com/openpredict/predex/metrics"
	"github.com/openpredict/predex/pkg/num"
	exchangetypes "github.com/openpredict/predex/x/exchange/types"
	"github.com/openpredict/predex/x/lmsr"
	obtypes "github.com/openpredict/predex/x/orderbook/types"
)

// QuoteResult prices a hypothetical single-outcome trade against the cost
// function, without touching books or positions.
type QuoteResult struct {
	MarketID     string       `json:"marketId"`
	OutcomeIndex int          `json:"outcomeIndex"`
	Side         obtypes.Side `json:"side"`
	Quantity     num.Dec      `json:"quantity"`
	InstantPrice num.Dec      `json:"instantPrice"`
	TradeCost    num.Dec      `json:"tradeCost"`
}

// Quote prices buying (BID) or selling (ASK) quantity shares of one outcome
// at the current outstanding quantities. Quotes are read-only and are served
// regardless of market status.
func (k *Keeper) Quote(ctx context.Context, marketID string, outcome int, side obtypes.Side, quantity num.Dec) (*QuoteResult, error) {
	m, err := k.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if err := m.CheckOutcome(outcome); err != nil {
		return nil, err
	}

	q, err := k.store.OutcomeQuantities(ctx, marketID, m.OutcomeCount())
	if err != nil {
		return nil, err
	}

	var quote lmsr.Quote
	switch side {
	case obtypes.SideBid:
		quote, err = lmsr.QuoteBuy(q, m.LiquidityB, outcome, quantity)
	case obtypes.SideAsk:
		quote, err = lmsr.QuoteSell(q, m.LiquidityB, outcome, quantity)
	default:
		return nil, exchangetypes.ErrInvalidInput.Wrapf("side %q", side)
	}
	if err != nil {
		return nil, err
	}

	metrics.GetCollector().RecordQuote(marketID, side.String())
	return &QuoteResult{
		MarketID:     marketID,
		OutcomeIndex: outcome,
		Side:         side,
		Quantity:     quantity,
		InstantPrice: quote.InstantPrice,
		TradeCost:    quote.TradeCost,
	}, nil
}

// Prices returns the instantaneous cost function price of every outcome.
// The vector sums to one.
func (k *Keeper) Prices(ctx context.Context, marketID string) ([]num.Dec, error) {
	m, err := k.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	q, err := k.store.OutcomeQuantities(ctx, marketID, m.OutcomeCount())
	if err != nil {
		return nil, err
	}
	return lmsr.Prices(q, m.LiquidityB)
}

// QuoteLeg is one direction of an outcome quote: the instant price after the
// hypothetical trade and what it would cost.
type QuoteLeg struct {
	InstantPrice num.Dec `json:"instantPrice"`
	TradeCost    num.Dec `json:"tradeCost"`
}

// OutcomeQuote carries the marginal price of one outcome together with both
// quote legs at the sheet's quantity. Sell is nil when the outstanding
// quantity cannot cover it.
type OutcomeQuote struct {
	OutcomeIndex int       `json:"outcomeIndex"`
	Price        num.Dec   `json:"price"`
	Buy          QuoteLeg  `json:"buy"`
	Sell         *QuoteLeg `json:"sell,omitempty"`
}

// PriceSheet is the full pricing view of a market at one quote size.
type PriceSheet struct {
	MarketID      string         `json:"marketId"`
	QuoteQuantity num.Dec        `json:"quoteQuantity"`
	Prices        []num.Dec      `json:"prices"`
	Outcomes      []OutcomeQuote `json:"outcomes"`
}

// PriceSheet prices every outcome in one pass: the marginal price vector
// plus the cost of buying or selling quantity shares of each outcome. An
// unfillable sell leg is omitted instead of failing the sheet.
func (k *Keeper) PriceSheet(ctx context.Context, marketID string, quantity num.Dec) (*PriceSheet, error) {
	if !quantity.IsPositive() {
		return nil, exchangetypes.ErrInvalidInput.Wrapf("quote quantity %s must be positive", quantity)
	}
	m, err := k.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	q, err := k.store.OutcomeQuantities(ctx, marketID, m.OutcomeCount())
	if err != nil {
		return nil, err
	}
	prices, err := lmsr.Prices(q, m.LiquidityB)
	if err != nil {
		return nil, err
	}

	sheet := &PriceSheet{
		MarketID:      marketID,
		QuoteQuantity: quantity,
		Prices:        prices,
		Outcomes:      make([]OutcomeQuote, len(prices)),
	}
	for i := range prices {
		buy, err := lmsr.QuoteBuy(q, m.LiquidityB, i, quantity)
		if err != nil {
			return nil, err
		}
		entry := OutcomeQuote{
			OutcomeIndex: i,
			Price:        prices[i],
			Buy:          QuoteLeg{InstantPrice: buy.InstantPrice, TradeCost: buy.TradeCost},
		}
		sell, err := lmsr.QuoteSell(q, m.LiquidityB, i, quantity)
		switch {
		case err == nil:
			entry.Sell = &QuoteLeg{InstantPrice: sell.InstantPrice, TradeCost: sell.TradeCost}
		case !errorsmod.IsOf(err, lmsr.ErrInsufficientOutstanding):
			return nil, err
		}
		sheet.Outcomes[i] = entry
	}
	return sheet, nil
}

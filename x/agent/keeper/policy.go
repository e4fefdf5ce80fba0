package keeper

import (
	"context"
	"fmt"
	"time"

	"github.com/openpredict/predex/pkg/num"
	"github.com/openpredict/predex/x/agent/types"
)

// BandPolicy is the built-in mean-reversion policy: buy the cheapest outcome
// when its price falls below Low, sell the dearest when it rises above High,
// otherwise skip. Deployments with their own strategy plug a different
// implementation into the scheduler.
type BandPolicy struct {
	// Low and High bound the band. Prices inside it produce a skip.
	Low  num.Dec
	High num.Dec

	// Quantity is the fixed order size for every buy and sell.
	Quantity num.Dec

	// FollowUp rebooks the evaluation after each decision. Zero books no
	// follow-up, leaving the cadence to explicit schedules.
	FollowUp time.Duration
}

// DefaultBandPolicy trades a 10-share clip outside the [0.05, 0.95] band,
// re-evaluating every 30 seconds.
func DefaultBandPolicy() BandPolicy {
	return BandPolicy{
		Low:      num.NewDecWithPrec(5, 2),
		High:     num.NewDecWithPrec(95, 2),
		Quantity: num.NewDec(10),
		FollowUp: 30 * time.Second,
	}
}

// Decide implements types.Policy.
func (p BandPolicy) Decide(ctx context.Context, job types.Job, view types.MarketView) (types.Decision, error) {
	if err := ctx.Err(); err != nil {
		return types.Decision{}, err
	}
	if len(view.Prices) == 0 {
		return types.Decision{}, types.ErrInvalidDecision.Wrapf("market %s has no prices", job.MarketID)
	}

	followUp := p.FollowUp.Milliseconds()

	cheapest, dearest := 0, 0
	for i, price := range view.Prices {
		if price.LT(view.Prices[cheapest]) {
			cheapest = i
		}
		if price.GT(view.Prices[dearest]) {
			dearest = i
		}
	}

	switch {
	case view.Prices[cheapest].LT(p.Low):
		return types.Decision{
			Action:           types.ActionBuy,
			OutcomeIndex:     cheapest,
			Quantity:         p.Quantity,
			Comment:          fmt.Sprintf("price %s below %s", view.Prices[cheapest], p.Low),
			NextFollowUpInMs: followUp,
		}, nil
	case view.Prices[dearest].GT(p.High):
		return types.Decision{
			Action:           types.ActionSell,
			OutcomeIndex:     dearest,
			Quantity:         p.Quantity,
			Comment:          fmt.Sprintf("price %s above %s", view.Prices[dearest], p.High),
			NextFollowUpInMs: followUp,
		}, nil
	default:
		return types.Decision{Action: types.ActionSkip, NextFollowUpInMs: followUp}, nil
	}
}

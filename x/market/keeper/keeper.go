// Package keeper manages the market registry: lifecycle transitions, cost
// function quotes, merged stats, positions and news. It is the read side the
// exchange consults before admitting orders.
package keeper

import (
	"context"
	"time"

	"cosmossdk.io/log"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/openpredict/predex/metrics"
	"github.com/openpredict/predex/pkg/num"
	"github.com/openpredict/predex/store"
	exchangetypes "github.com/openpredict/predex/x/exchange/types"
	"github.com/openpredict/predex/x/market/types"
	obkeeper "github.com/openpredict/predex/x/orderbook/keeper"
)

// marketCacheTTL bounds how stale a cached market row may get. Local writes
// refresh the entry immediately; the TTL only covers rows changed by another
// process, e.g. volume bumped by the settlement worker.
const marketCacheTTL = 2 * time.Second

// Keeper owns market lifecycle and the read-side views over them.
type Keeper struct {
	store     *store.Store
	books     *obkeeper.Registry
	publisher exchangetypes.Publisher
	cache     *gocache.Cache
	defaultB  num.Dec
	logger    log.Logger
}

// NewKeeper wires the registry against its store, the live books and the
// event publisher. defaultB seeds LiquidityB on markets created without one;
// non-positive values fall back to 100 per outcome convention.
func NewKeeper(st *store.Store, books *obkeeper.Registry, publisher exchangetypes.Publisher, defaultB num.Dec, logger log.Logger) *Keeper {
	if !defaultB.IsPositive() {
		defaultB = num.NewDec(100)
	}
	return &Keeper{
		store:     st,
		books:     books,
		publisher: publisher,
		cache:     gocache.New(marketCacheTTL, 10*marketCacheTTL),
		defaultB:  defaultB,
		logger:    logger.With("module", "x/market"),
	}
}

// CreateParams carries the client-supplied fields of a new market.
type CreateParams struct {
	ID             string    `json:"id,omitempty"`
	Name           string    `json:"name"`
	Creator        string    `json:"creator,omitempty"`
	CollateralID   string    `json:"collateralTokenId,omitempty"`
	Outcomes       []string  `json:"outcomes"`
	ResolutionTime time.Time `json:"resolutionTime,omitempty"`
	LiquidityB     num.Dec   `json:"liquidityParameter,omitempty"`
	ConditionID    string    `json:"conditionId,omitempty"`
	PositionIDs    []string  `json:"outcomePositionIds,omitempty"`
}

// CreateMarket registers a new DRAFT market and announces it. A zero
// liquidity parameter takes the keeper default.
func (k *Keeper) CreateMarket(ctx context.Context, p CreateParams) (*types.Market, error) {
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	b := p.LiquidityB
	if b.IsZero() {
		b = k.defaultB
	}

	m := types.NewMarket(id, p.Name, p.Creator, p.Outcomes, b)
	m.CollateralID = p.CollateralID
	m.ResolutionTime = p.ResolutionTime
	m.ConditionID = p.ConditionID
	m.PositionIDs = p.PositionIDs
	if err := m.Validate(); err != nil {
		return nil, err
	}

	if err := k.store.CreateMarket(ctx, m); err != nil {
		return nil, err
	}
	k.cache.Set(m.ID, m, gocache.DefaultExpiration)
	k.publish(ctx, exchangetypes.MarketUpdatedEvent(m.ID, exchangetypes.ReasonCreated, m))
	k.logger.Info("market created",
		"market_id", m.ID,
		"outcomes", len(m.Outcomes),
		"liquidity_b", m.LiquidityB.String(),
	)
	return m, nil
}

// GetMarket returns one market, serving repeat lookups from a short-lived
// cache. It satisfies the market source the exchange admits orders through.
func (k *Keeper) GetMarket(ctx context.Context, id string) (*types.Market, error) {
	if v, ok := k.cache.Get(id); ok {
		return v.(*types.Market), nil
	}
	m, err := k.store.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	k.cache.Set(id, m, gocache.DefaultExpiration)
	return m, nil
}

// ListMarkets returns every market, newest first.
func (k *Keeper) ListMarkets(ctx context.Context) ([]*types.Market, error) {
	return k.store.ListMarkets(ctx)
}

// transitions lists the status changes a market may take. CLOSED is
// terminal.
var transitions = map[types.MarketStatus][]types.MarketStatus{
	types.MarketStatusDraft:     {types.MarketStatusOpen, types.MarketStatusClosed},
	types.MarketStatusOpen:      {types.MarketStatusResolving, types.MarketStatusClosed},
	types.MarketStatusResolving: {types.MarketStatusOpen, types.MarketStatusDisputed, types.MarketStatusClosed},
	types.MarketStatusDisputed:  {types.MarketStatusResolving, types.MarketStatusClosed},
}

func canTransition(from, to types.MarketStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SetStatus moves a market through its lifecycle. Repeating the current
// status is a no-op; anything outside the transition table is rejected.
func (k *Keeper) SetStatus(ctx context.Context, id string, to types.MarketStatus) (*types.Market, error) {
	m, err := k.store.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status == to {
		return m, nil
	}
	if !canTransition(m.Status, to) {
		return nil, types.ErrInvalidStatus.Wrapf("%s to %s", m.Status, to)
	}

	if err := k.store.UpdateMarketStatus(ctx, id, to); err != nil {
		return nil, err
	}
	m.Status = to
	m.UpdatedAt = time.Now().UTC()
	k.cache.Set(id, m, gocache.DefaultExpiration)
	k.publish(ctx, exchangetypes.MarketUpdatedEvent(id, exchangetypes.ReasonUpdated, m))
	k.refreshOpenGauge(ctx)
	k.logger.Info("market status changed", "market_id", id, "status", to.String())
	return m, nil
}

// OpenMarket transitions a DRAFT market to OPEN.
func (k *Keeper) OpenMarket(ctx context.Context, id string) (*types.Market, error) {
	return k.SetStatus(ctx, id, types.MarketStatusOpen)
}

// DeleteMarket removes a market that never went live. Anything past DRAFT
// has history and must be CLOSED instead.
func (k *Keeper) DeleteMarket(ctx context.Context, id string) error {
	m, err := k.store.GetMarket(ctx, id)
	if err != nil {
		return err
	}
	if m.Status != types.MarketStatusDraft {
		return types.ErrInvalidStatus.Wrapf("delete requires DRAFT, market is %s", m.Status)
	}
	if err := k.store.DeleteMarket(ctx, id); err != nil {
		return err
	}
	k.cache.Delete(id)
	k.publish(ctx, exchangetypes.MarketUpdatedEvent(id, exchangetypes.ReasonDeleted, nil))
	k.logger.Info("market deleted", "market_id", id)
	return nil
}

// publish fans a market event to the firehose room and the market's own
// room.
func (k *Keeper) publish(ctx context.Context, ev exchangetypes.Event) {
	if k.publisher == nil {
		return
	}
	k.publisher.Publish(ctx, exchangetypes.TopicMarkets, ev)
	if ev.MarketID != "" {
		k.publisher.Publish(ctx, exchangetypes.TopicMarket(ev.MarketID), ev)
	}
}

func (k *Keeper) refreshOpenGauge(ctx context.Context) {
	ms, err := k.store.ListMarkets(ctx)
	if err != nil {
		return
	}
	open := 0
	for _, m := range ms {
		if m.CanTrade() {
			open++
		}
	}
	metrics.GetCollector().SetMarketsOpen(open)
}

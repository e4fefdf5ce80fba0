package keeper

import (
	"fmt"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/log"

	"github.com/openpredict/predex/pkg/num"
	"github.com/openpredict/predex/x/orderbook/types"
)

// Engine runs price-time-priority matching against the registry's books.
// It performs no I/O. Mutating calls for the same (market, outcome) key must
// be serialised by the caller; the engine only takes the book lock so that
// concurrent depth readers see consistent state.
type Engine struct {
	registry *Registry
	logger   log.Logger
}

// NewEngine creates a matching engine over the given registry.
func NewEngine(registry *Registry, logger log.Logger) *Engine {
	return &Engine{
		registry: registry,
		logger:   logger.With("module", "x/orderbook"),
	}
}

// Registry returns the engine's book registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Process runs one order through its book. It returns the mutated order in
// its final status, the trades in execution sequence and the post-call depth
// snapshot. The result is self-contained; callers never need a second read
// to know the book state their order left behind.
func (e *Engine) Process(order *types.Order) *types.ProcessResult {
	book := e.registry.GetOrCreate(order.MarketID, order.OutcomeIndex)
	book.Lock()
	defer book.Unlock()

	if reason := validateOrder(order); reason != "" {
		order.Reject()
		return &types.ProcessResult{
			Order:        order,
			Trades:       []*types.Trade{},
			Snapshot:     snapshotLocked(book),
			RejectReason: reason,
		}
	}

	order.Seq = book.NextArrival()
	trades := e.match(book, order)

	reason := ""
	if order.Remaining.IsPositive() {
		switch order.Type {
		case types.OrderTypeLimit:
			if len(trades) == 0 {
				order.Rest()
			}
			book.Add(order)
		case types.OrderTypeIOC:
			order.Cancel()
		case types.OrderTypeMarket:
			if len(trades) == 0 {
				order.Reject()
				reason = types.RejectNoLiquidity
			} else {
				order.Cancel()
			}
		}
	}

	if len(trades) > 0 {
		e.logger.Info("order matched",
			"order_id", order.ID,
			"market_id", order.MarketID,
			"outcome", order.OutcomeIndex,
			"trades", len(trades),
			"status", order.Status.String(),
		)
	}

	return &types.ProcessResult{
		Order:        order,
		Trades:       trades,
		Snapshot:     snapshotLocked(book),
		RejectReason: reason,
	}
}

// Cancel removes a resting order and returns the post-cancel snapshot. When
// a caller identity is given it must match the order's owner exactly; empty
// caller fields skip the ownership check for administrative cancels.
func (e *Engine) Cancel(marketID string, outcome int, orderID, callerUser, callerAgent string) (*types.ProcessResult, error) {
	book, ok := e.registry.Get(marketID, outcome)
	if !ok {
		return nil, errorsmod.Wrapf(types.ErrOrderNotFound, "order %s", orderID)
	}
	book.Lock()
	defer book.Unlock()

	order := book.Lookup(orderID)
	if order == nil {
		return nil, errorsmod.Wrapf(types.ErrOrderNotFound, "order %s", orderID)
	}
	if callerUser != "" || callerAgent != "" {
		if order.UserID != callerUser || order.AgentID != callerAgent {
			return nil, errorsmod.Wrapf(types.ErrUnauthorized, "order %s", orderID)
		}
	}

	book.Remove(order)
	order.Cancel()

	e.logger.Info("order cancelled",
		"order_id", order.ID,
		"market_id", marketID,
		"outcome", outcome,
	)

	return &types.ProcessResult{
		Order:    order,
		Trades:   []*types.Trade{},
		Snapshot: snapshotLocked(book),
	}, nil
}

// validateOrder returns the reject reason for an order that must not touch
// the book, or "" when the order is admissible.
func validateOrder(order *types.Order) string {
	if !order.Quantity.IsPositive() {
		return types.RejectQuantityNotPositive
	}
	if order.Type != types.OrderTypeMarket && !order.Price.IsPositive() {
		return types.RejectPriceNotPositive
	}
	return ""
}

// match sweeps the opposite ladder best-first, filling FIFO within each
// level, until the taker is satisfied, the book is exhausted, or the price
// bound stops crossing.
func (e *Engine) match(book Book, taker *types.Order) []*types.Trade {
	trades := make([]*types.Trade, 0, 4)
	for taker.Remaining.IsPositive() {
		level := oppositeBest(book, taker.Side)
		if level == nil {
			break
		}
		if taker.Type != types.OrderTypeMarket && !crosses(taker.Side, taker.Price, level.Price) {
			break
		}

		maker := level.Head()
		fill := num.MinDec(taker.Remaining, maker.Remaining)
		maker.Fill(fill)
		taker.Fill(fill)
		level.Reduce(fill)
		trades = append(trades, newTrade(book, taker, maker, level.Price, fill))

		if maker.IsFilled() {
			book.Remove(maker)
		}
	}
	return trades
}

// crosses reports whether a taker bound by takerPrice executes against a
// maker level at makerPrice. Executions always happen at the maker's price.
func crosses(side types.Side, takerPrice, makerPrice num.Dec) bool {
	if side == types.SideBid {
		return makerPrice.LTE(takerPrice)
	}
	return makerPrice.GTE(takerPrice)
}

func oppositeBest(book Book, side types.Side) *PriceLevel {
	if side == types.SideBid {
		return book.BestAsk()
	}
	return book.BestBid()
}

func newTrade(book Book, taker, maker *types.Order, price, qty num.Dec) *types.Trade {
	now := time.Now().UTC()
	key := book.Key()
	return &types.Trade{
		ID:           fmt.Sprintf("T-%s-%d-%d-%d", key.MarketID, key.Outcome, book.NextTrade(), now.UnixNano()),
		MarketID:     key.MarketID,
		OutcomeIndex: key.Outcome,
		Price:        price,
		Quantity:     qty,
		MakerOrderID: maker.ID,
		TakerOrderID: taker.ID,
		Side:         taker.Side,
		TakerUserID:  taker.UserID,
		TakerAgentID: taker.AgentID,
		MakerUserID:  maker.UserID,
		MakerAgentID: maker.AgentID,
		ExecutedAt:   now,
	}
}

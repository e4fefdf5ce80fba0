package keeper

import (
	"sync"
	"time"

	"github.com/openpredict/predex/pkg/num"
	"github.com/openpredict/predex/x/orderbook/types"
)

// BookKey identifies one order book. Every (market, outcome) pair owns an
// independent ladder pair.
type BookKey struct {
	MarketID string
	Outcome  int
}

// Book is one side-pair of price ladders plus the per-book counters. The
// ladder structure itself is pluggable; see the skiplist and btree
// implementations.
//
// Books are not self-synchronising for matching: the exchange serialises all
// mutations per key, so Add/Remove/fills happen on a single goroutine at a
// time. The embedded RWMutex only shields concurrent readers (depth and
// stats queries) from torn state; mutators take the write lock for the whole
// operation, readers take the read lock.
type Book interface {
	Key() BookKey

	Lock()
	Unlock()
	RLock()
	RUnlock()

	// Add rests an order on its side ladder. Caller holds the write lock.
	Add(order *types.Order)
	// Remove takes a resting order off its ladder and returns it, or nil
	// when it is not resting here. Caller holds the write lock.
	Remove(order *types.Order) *types.Order
	// Lookup finds a resting order by id. Caller holds a lock.
	Lookup(orderID string) *types.Order

	// BestBid returns the highest-price bid level, nil when empty.
	BestBid() *PriceLevel
	// BestAsk returns the lowest-price ask level, nil when empty.
	BestAsk() *PriceLevel

	// IterateBids walks bid levels from best (highest) downwards until fn
	// returns false.
	IterateBids(fn func(*PriceLevel) bool)
	// IterateAsks walks ask levels from best (lowest) upwards until fn
	// returns false.
	IterateAsks(fn func(*PriceLevel) bool)

	// Depth returns the number of bid and ask price levels.
	Depth() (bids, asks int)

	// NextArrival hands out the next arrival sequence number. Caller holds
	// the write lock.
	NextArrival() uint64
	// NextTrade hands out the next trade sequence number. Caller holds the
	// write lock.
	NextTrade() uint64

	// Clear drops every resting order.
	Clear()
}

// bookBase carries the state every ladder backend shares.
type bookBase struct {
	mu       sync.RWMutex
	key      BookKey
	resting  map[string]*types.Order
	arrivals uint64
	trades   uint64
}

func newBookBase(key BookKey) bookBase {
	return bookBase{
		key:     key,
		resting: make(map[string]*types.Order),
	}
}

func (b *bookBase) Key() BookKey { return b.key }

func (b *bookBase) Lock()    { b.mu.Lock() }
func (b *bookBase) Unlock()  { b.mu.Unlock() }
func (b *bookBase) RLock()   { b.mu.RLock() }
func (b *bookBase) RUnlock() { b.mu.RUnlock() }

func (b *bookBase) Lookup(orderID string) *types.Order {
	return b.resting[orderID]
}

func (b *bookBase) NextArrival() uint64 {
	b.arrivals++
	return b.arrivals
}

func (b *bookBase) NextTrade() uint64 {
	b.trades++
	return b.trades
}

// DepthTotals aggregates resting liquidity across the books of a market.
type DepthTotals struct {
	ActiveOrders int
	BidLiquidity num.Dec
	AskLiquidity num.Dec
}

// snapshotLocked builds a full-depth snapshot. Caller holds at least the
// read lock.
func snapshotLocked(b Book) *types.Snapshot {
	key := b.Key()
	snap := &types.Snapshot{
		MarketID:     key.MarketID,
		OutcomeIndex: key.Outcome,
		Bids:         make([]types.BookLevel, 0, 8),
		Asks:         make([]types.BookLevel, 0, 8),
		Timestamp:    time.Now().UTC(),
	}
	b.IterateBids(func(pl *PriceLevel) bool {
		snap.Bids = append(snap.Bids, types.BookLevel{
			Price:    pl.Price,
			Quantity: pl.Quantity,
			Orders:   pl.Len(),
		})
		return true
	})
	b.IterateAsks(func(pl *PriceLevel) bool {
		snap.Asks = append(snap.Asks, types.BookLevel{
			Price:    pl.Price,
			Quantity: pl.Quantity,
			Orders:   pl.Len(),
		})
		return true
	})
	return snap
}

// depthTotalsLocked sums resting order counts and notional per side. Caller
// holds at least the read lock.
func depthTotalsLocked(b Book) DepthTotals {
	totals := DepthTotals{
		BidLiquidity: num.ZeroDec(),
		AskLiquidity: num.ZeroDec(),
	}
	b.IterateBids(func(pl *PriceLevel) bool {
		totals.ActiveOrders += pl.Len()
		totals.BidLiquidity = totals.BidLiquidity.Add(pl.Price.Mul(pl.Quantity))
		return true
	})
	b.IterateAsks(func(pl *PriceLevel) bool {
		totals.ActiveOrders += pl.Len()
		totals.AskLiquidity = totals.AskLiquidity.Add(pl.Price.Mul(pl.Quantity))
		return true
	})
	return totals
}

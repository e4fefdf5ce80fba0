package keeper

import (
	"github.com/huandu/skiplist"

	"github.com/openpredict/predex/pkg/num"
	"github.com/openpredict/predex/x/orderbook/types"
)

// priceAsc orders ask ladders from lowest price to highest.
type priceAsc struct{}

func (priceAsc) Compare(lhs, rhs interface{}) int {
	return lhs.(num.Dec).Cmp(rhs.(num.Dec))
}

func (priceAsc) CalcScore(key interface{}) float64 {
	return key.(num.Dec).Float64()
}

// priceDesc orders bid ladders from highest price to lowest.
type priceDesc struct{}

func (priceDesc) Compare(lhs, rhs interface{}) int {
	return rhs.(num.Dec).Cmp(lhs.(num.Dec))
}

func (priceDesc) CalcScore(key interface{}) float64 {
	return -key.(num.Dec).Float64()
}

// SkipListBook keeps each side in a skip list keyed by price, best price at
// the front. Expected O(log n) level lookup and O(1) best-level access.
type SkipListBook struct {
	bookBase
	bids *skiplist.SkipList
	asks *skiplist.SkipList
}

var _ Book = (*SkipListBook)(nil)

// NewSkipListBook creates an empty skip-list backed book.
func NewSkipListBook(key BookKey) *SkipListBook {
	return &SkipListBook{
		bookBase: newBookBase(key),
		bids:     skiplist.New(priceDesc{}),
		asks:     skiplist.New(priceAsc{}),
	}
}

func (b *SkipListBook) ladder(side types.Side) *skiplist.SkipList {
	if side == types.SideBid {
		return b.bids
	}
	return b.asks
}

func (b *SkipListBook) Add(order *types.Order) {
	list := b.ladder(order.Side)
	var level *PriceLevel
	if elem := list.Get(order.Price); elem != nil {
		level = elem.Value.(*PriceLevel)
	} else {
		level = NewPriceLevel(order.Price)
		list.Set(order.Price, level)
	}
	level.Append(order)
	b.resting[order.ID] = order
}

func (b *SkipListBook) Remove(order *types.Order) *types.Order {
	list := b.ladder(order.Side)
	elem := list.Get(order.Price)
	if elem == nil {
		return nil
	}
	level := elem.Value.(*PriceLevel)
	removed := level.Remove(order.ID)
	if removed == nil {
		return nil
	}
	if level.IsEmpty() {
		list.Remove(order.Price)
	}
	delete(b.resting, order.ID)
	return removed
}

func (b *SkipListBook) BestBid() *PriceLevel {
	if elem := b.bids.Front(); elem != nil {
		return elem.Value.(*PriceLevel)
	}
	return nil
}

func (b *SkipListBook) BestAsk() *PriceLevel {
	if elem := b.asks.Front(); elem != nil {
		return elem.Value.(*PriceLevel)
	}
	return nil
}

func (b *SkipListBook) IterateBids(fn func(*PriceLevel) bool) {
	for elem := b.bids.Front(); elem != nil; elem = elem.Next() {
		if !fn(elem.Value.(*PriceLevel)) {
			return
		}
	}
}

func (b *SkipListBook) IterateAsks(fn func(*PriceLevel) bool) {
	for elem := b.asks.Front(); elem != nil; elem = elem.Next() {
		if !fn(elem.Value.(*PriceLevel)) {
			return
		}
	}
}

func (b *SkipListBook) Depth() (int, int) {
	return b.bids.Len(), b.asks.Len()
}

func (b *SkipListBook) Clear() {
	b.bids = skiplist.New(priceDesc{})
	b.asks = skiplist.New(priceAsc{})
	b.resting = make(map[string]*types.Order)
}

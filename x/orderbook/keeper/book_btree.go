package keeper

import (
	"github.com/google/btree"

	"github.com/openpredict/predex/pkg/num"
	"github.com/openpredict/predex/x/orderbook/types"
)

const btreeDegree = 32

// priceLevelItem wraps a level for btree storage. The desc flag bakes the
// side's ordering into Less so Min is always the best price and Ascend
// always walks best-first.
type priceLevelItem struct {
	price num.Dec
	level *PriceLevel
	desc  bool
}

func (i *priceLevelItem) Less(than btree.Item) bool {
	other := than.(*priceLevelItem)
	if i.desc {
		return i.price.GT(other.price)
	}
	return i.price.LT(other.price)
}

type btreeSide struct {
	tree *btree.BTree
	desc bool
}

func newBtreeSide(desc bool) *btreeSide {
	return &btreeSide{tree: btree.New(btreeDegree), desc: desc}
}

func (s *btreeSide) get(price num.Dec) *PriceLevel {
	item := s.tree.Get(&priceLevelItem{price: price, desc: s.desc})
	if item == nil {
		return nil
	}
	return item.(*priceLevelItem).level
}

func (s *btreeSide) set(level *PriceLevel) {
	s.tree.ReplaceOrInsert(&priceLevelItem{price: level.Price, level: level, desc: s.desc})
}

func (s *btreeSide) remove(price num.Dec) {
	s.tree.Delete(&priceLevelItem{price: price, desc: s.desc})
}

func (s *btreeSide) best() *PriceLevel {
	item := s.tree.Min()
	if item == nil {
		return nil
	}
	return item.(*priceLevelItem).level
}

func (s *btreeSide) iterate(fn func(*PriceLevel) bool) {
	s.tree.Ascend(func(item btree.Item) bool {
		return fn(item.(*priceLevelItem).level)
	})
}

// BTreeBook keeps each side in a B-tree keyed by price. Better cache
// locality than the skip list on deep books.
type BTreeBook struct {
	bookBase
	bids *btreeSide
	asks *btreeSide
}

var _ Book = (*BTreeBook)(nil)

// NewBTreeBook creates an empty btree backed book.
func NewBTreeBook(key BookKey) *BTreeBook {
	return &BTreeBook{
		bookBase: newBookBase(key),
		bids:     newBtreeSide(true),
		asks:     newBtreeSide(false),
	}
}

func (b *BTreeBook) side(side types.Side) *btreeSide {
	if side == types.SideBid {
		return b.bids
	}
	return b.asks
}

func (b *BTreeBook) Add(order *types.Order) {
	s := b.side(order.Side)
	level := s.get(order.Price)
	if level == nil {
		level = NewPriceLevel(order.Price)
		s.set(level)
	}
	level.Append(order)
	b.resting[order.ID] = order
}

func (b *BTreeBook) Remove(order *types.Order) *types.Order {
	s := b.side(order.Side)
	level := s.get(order.Price)
	if level == nil {
		return nil
	}
	removed := level.Remove(order.ID)
	if removed == nil {
		return nil
	}
	if level.IsEmpty() {
		s.remove(order.Price)
	}
	delete(b.resting, order.ID)
	return removed
}

func (b *BTreeBook) BestBid() *PriceLevel { return b.bids.best() }

func (b *BTreeBook) BestAsk() *PriceLevel { return b.asks.best() }

func (b *BTreeBook) IterateBids(fn func(*PriceLevel) bool) { b.bids.iterate(fn) }

func (b *BTreeBook) IterateAsks(fn func(*PriceLevel) bool) { b.asks.iterate(fn) }

func (b *BTreeBook) Depth() (int, int) {
	return b.bids.tree.Len(), b.asks.tree.Len()
}

func (b *BTreeBook) Clear() {
	b.bids = newBtreeSide(true)
	b.asks = newBtreeSide(false)
	b.resting = make(map[string]*types.Order)
}

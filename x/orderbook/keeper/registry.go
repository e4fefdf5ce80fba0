package keeper

import (
	"sync"

	errorsmod "cosmossdk.io/errors"

	"github.com/openpredict/predex/pkg/num"
	"github.com/openpredict/predex/x/orderbook/types"
)

// LadderBackend selects the data structure backing each book side.
type LadderBackend string

const (
	BackendSkipList LadderBackend = "skiplist"
	BackendBTree    LadderBackend = "btree"
)

// Registry owns every in-memory book, keyed by (market, outcome). Books are
// created lazily on first touch and live until the process exits; restarts
// begin with empty books and rebuild from incoming flow.
type Registry struct {
	mu      sync.RWMutex
	books   map[BookKey]Book
	backend LadderBackend
}

// NewRegistry creates a registry producing books with the given backend.
func NewRegistry(backend LadderBackend) (*Registry, error) {
	switch backend {
	case BackendSkipList, BackendBTree:
	default:
		return nil, errorsmod.Wrapf(types.ErrUnknownLadderBackend, "%q", backend)
	}
	return &Registry{
		books:   make(map[BookKey]Book),
		backend: backend,
	}, nil
}

func (r *Registry) newBook(key BookKey) Book {
	if r.backend == BackendBTree {
		return NewBTreeBook(key)
	}
	return NewSkipListBook(key)
}

// GetOrCreate returns the book for the key, creating it on first use.
func (r *Registry) GetOrCreate(marketID string, outcome int) Book {
	key := BookKey{MarketID: marketID, Outcome: outcome}

	r.mu.RLock()
	book, ok := r.books[key]
	r.mu.RUnlock()
	if ok {
		return book
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if book, ok := r.books[key]; ok {
		return book
	}
	book = r.newBook(key)
	r.books[key] = book
	return book
}

// Get returns the book for the key if it exists.
func (r *Registry) Get(marketID string, outcome int) (Book, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	book, ok := r.books[BookKey{MarketID: marketID, Outcome: outcome}]
	return book, ok
}

// Len returns the number of live books.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.books)
}

// Snapshot returns the current depth snapshot for one book, or false when
// no book exists for the key yet.
func (r *Registry) Snapshot(marketID string, outcome int) (*types.Snapshot, bool) {
	book, ok := r.Get(marketID, outcome)
	if !ok {
		return nil, false
	}
	book.RLock()
	defer book.RUnlock()
	return snapshotLocked(book), true
}

// MarketDepth sums resting order counts and notional liquidity over every
// outcome book of a market. Reads run concurrently with matching under the
// books' read locks.
func (r *Registry) MarketDepth(marketID string) DepthTotals {
	r.mu.RLock()
	books := make([]Book, 0, 4)
	for key, book := range r.books {
		if key.MarketID == marketID {
			books = append(books, book)
		}
	}
	r.mu.RUnlock()

	totals := DepthTotals{
		BidLiquidity: num.ZeroDec(),
		AskLiquidity: num.ZeroDec(),
	}
	for _, book := range books {
		book.RLock()
		t := depthTotalsLocked(book)
		book.RUnlock()
		totals.ActiveOrders += t.ActiveOrders
		totals.BidLiquidity = totals.BidLiquidity.Add(t.BidLiquidity)
		totals.AskLiquidity = totals.AskLiquidity.Add(t.AskLiquidity)
	}
	return totals
}

package keeper

import (
	"github.com/openpredict/predex/pkg/num"
	"github.com/openpredict/predex/x/orderbook/types"
)

// PriceLevel holds the resting orders of one price in FIFO order together
// with their aggregate remaining quantity.
type PriceLevel struct {
	Price    num.Dec
	Quantity num.Dec
	Orders   []*types.Order
}

// NewPriceLevel creates an empty level at the given price.
func NewPriceLevel(price num.Dec) *PriceLevel {
	return &PriceLevel{
		Price:    price,
		Quantity: num.ZeroDec(),
		Orders:   make([]*types.Order, 0, 4),
	}
}

// Append adds an order to the tail of the queue (time-priority tail).
func (pl *PriceLevel) Append(order *types.Order) {
	pl.Orders = append(pl.Orders, order)
	pl.Quantity = pl.Quantity.Add(order.Remaining)
}

// Head returns the oldest order at this level, or nil when empty.
func (pl *PriceLevel) Head() *types.Order {
	if len(pl.Orders) == 0 {
		return nil
	}
	return pl.Orders[0]
}

// Remove deletes an order by id, preserving the FIFO order of the rest,
// and returns it.
func (pl *PriceLevel) Remove(orderID string) *types.Order {
	for i, o := range pl.Orders {
		if o.ID == orderID {
			pl.Orders = append(pl.Orders[:i], pl.Orders[i+1:]...)
			pl.Quantity = pl.Quantity.Sub(o.Remaining)
			return o
		}
	}
	return nil
}

// Reduce lowers the aggregate quantity after a partial fill of one of the
// level's orders.
func (pl *PriceLevel) Reduce(qty num.Dec) {
	pl.Quantity = pl.Quantity.Sub(qty)
}

// IsEmpty reports whether no orders rest at this level.
func (pl *PriceLevel) IsEmpty() bool {
	return len(pl.Orders) == 0
}

// Len returns the number of resting orders.
func (pl *PriceLevel) Len() int {
	return len(pl.Orders)
}

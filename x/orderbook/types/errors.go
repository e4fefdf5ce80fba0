package types

import (
	"cosmossdk.io/errors"
)

// Module error codes
var (
	ErrOrderNotFound        = errors.Register("orderbook", 1, "order not found")
	ErrInvalidPrice         = errors.Register("orderbook", 2, "invalid price")
	ErrInvalidQuantity      = errors.Register("orderbook", 3, "invalid quantity")
	ErrInvalidSide          = errors.Register("orderbook", 4, "invalid order side")
	ErrInvalidOrderType     = errors.Register("orderbook", 5, "invalid order type")
	ErrInvalidStatus        = errors.Register("orderbook", 6, "invalid order status")
	ErrOrderNotResting      = errors.Register("orderbook", 7, "order is not resting in the book")
	ErrOrderTerminal        = errors.Register("orderbook", 8, "order already in a terminal state")
	ErrUnauthorized         = errors.Register("orderbook", 9, "order belongs to a different owner")
	ErrInvalidOutcomeIndex  = errors.Register("orderbook", 10, "outcome index out of range")
	ErrUnknownLadderBackend = errors.Register("orderbook", 11, "unknown ladder backend")
)

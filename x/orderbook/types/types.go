// Package types defines the order, trade and snapshot types shared by the
// matching engine and everything downstream of it. Enums marshal to their
// wire identifiers; all monetary fields are fixed-precision decimals.
package types

import (
	"encoding/json"
	"time"

	"github.com/openpredict/predex/pkg/num"
)

// Side is the direction of an order.
type Side int

const (
	SideUnspecified Side = iota
	SideBid
	SideAsk
)

func (s Side) String() string {
	switch s {
	case SideBid:
		return "BID"
	case SideAsk:
		return "ASK"
	default:
		return "UNSPECIFIED"
	}
}

// Opposite returns the side an incoming order matches against.
func (s Side) Opposite() Side {
	switch s {
	case SideBid:
		return SideAsk
	case SideAsk:
		return SideBid
	default:
		return SideUnspecified
	}
}

// SideFromString parses a wire identifier.
func SideFromString(s string) (Side, bool) {
	switch s {
	case "BID":
		return SideBid, true
	case "ASK":
		return SideAsk, true
	default:
		return SideUnspecified, false
	}
}

func (s Side) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *Side) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, ok := SideFromString(raw)
	if !ok {
		return ErrInvalidSide.Wrapf("%q", raw)
	}
	*s = parsed
	return nil
}

// OrderType determines how unfilled remainder is handled.
type OrderType int

const (
	OrderTypeUnspecified OrderType = iota
	OrderTypeLimit
	OrderTypeMarket
	OrderTypeIOC
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "LIMIT"
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeIOC:
		return "IOC"
	default:
		return "UNSPECIFIED"
	}
}

// OrderTypeFromString parses a wire identifier.
func OrderTypeFromString(s string) (OrderType, bool) {
	switch s {
	case "LIMIT":
		return OrderTypeLimit, true
	case "MARKET":
		return OrderTypeMarket, true
	case "IOC":
		return OrderTypeIOC, true
	default:
		return OrderTypeUnspecified, false
	}
}

func (t OrderType) MarshalJSON() ([]byte, error) { return json.Marshal(t.String()) }

func (t *OrderType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, ok := OrderTypeFromString(raw)
	if !ok {
		return ErrInvalidOrderType.Wrapf("%q", raw)
	}
	*t = parsed
	return nil
}

// OrderStatus is the lifecycle state of an order. LIVE and PARTIALLY_FILLED
// are the only states in which an order rests in a ladder; FILLED, CANCELLED
// and REJECTED are terminal and immutable.
type OrderStatus int

const (
	OrderStatusPending OrderStatus = iota
	OrderStatusLive
	OrderStatusPartiallyFilled
	OrderStatusFilled
	OrderStatusCancelled
	OrderStatusRejected
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusPending:
		return "PENDING"
	case OrderStatusLive:
		return "LIVE"
	case OrderStatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCancelled:
		return "CANCELLED"
	case OrderStatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// OrderStatusFromString parses a wire identifier.
func OrderStatusFromString(s string) (OrderStatus, bool) {
	switch s {
	case "PENDING":
		return OrderStatusPending, true
	case "LIVE":
		return OrderStatusLive, true
	case "PARTIALLY_FILLED":
		return OrderStatusPartiallyFilled, true
	case "FILLED":
		return OrderStatusFilled, true
	case "CANCELLED":
		return OrderStatusCancelled, true
	case "REJECTED":
		return OrderStatusRejected, true
	default:
		return OrderStatusPending, false
	}
}

// IsTerminal reports whether the status can never change again.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

func (s OrderStatus) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *OrderStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, ok := OrderStatusFromString(raw)
	if !ok {
		return ErrInvalidStatus.Wrapf("%q", raw)
	}
	*s = parsed
	return nil
}

// Order is an intent to trade one outcome of one market.
type Order struct {
	ID           string          `json:"id"`
	MarketID     string          `json:"marketId"`
	OutcomeIndex int             `json:"outcomeIndex"`
	Side         Side            `json:"side"`
	Type         OrderType       `json:"type"`
	Price        num.Dec         `json:"price"`
	Quantity     num.Dec         `json:"quantity"`
	Remaining    num.Dec         `json:"remainingQty"`
	Status       OrderStatus     `json:"status"`
	UserID       string          `json:"userId,omitempty"`
	AgentID      string          `json:"agentId,omitempty"`
	Envelope     json.RawMessage `json:"settlementEnvelope,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`

	// Seq is the arrival number assigned by the book; it breaks price ties
	// FIFO and never leaves the process.
	Seq uint64 `json:"-"`
}

// NewOrder returns a PENDING order with remaining == quantity.
func NewOrder(id, marketID string, outcome int, side Side, typ OrderType, price, quantity num.Dec) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:           id,
		MarketID:     marketID,
		OutcomeIndex: outcome,
		Side:         side,
		Type:         typ,
		Price:        price,
		Quantity:     quantity,
		Remaining:    quantity,
		Status:       OrderStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Filled returns quantity - remaining.
func (o *Order) Filled() num.Dec { return o.Quantity.Sub(o.Remaining) }

// IsFilled reports whether nothing remains.
func (o *Order) IsFilled() bool { return o.Remaining.IsZero() }

// IsResting reports whether the order currently lives in a ladder.
func (o *Order) IsResting() bool {
	return o.Status == OrderStatusLive || o.Status == OrderStatusPartiallyFilled
}

// Fill consumes qty from the remaining quantity and advances the status.
func (o *Order) Fill(qty num.Dec) {
	o.Remaining = o.Remaining.Sub(qty)
	if o.Remaining.IsZero() {
		o.Status = OrderStatusFilled
	} else {
		o.Status = OrderStatusPartiallyFilled
	}
	o.UpdatedAt = time.Now().UTC()
}

// Rest marks an untouched order LIVE as it enters a ladder.
func (o *Order) Rest() {
	o.Status = OrderStatusLive
	o.UpdatedAt = time.Now().UTC()
}

// Cancel marks the order CANCELLED.
func (o *Order) Cancel() {
	o.Status = OrderStatusCancelled
	o.UpdatedAt = time.Now().UTC()
}

// Reject marks the order REJECTED.
func (o *Order) Reject() {
	o.Status = OrderStatusRejected
	o.UpdatedAt = time.Now().UTC()
}

// Owner returns the user or agent reference, agents marked distinctly.
func (o *Order) Owner() (id string, isAgent bool) {
	if o.AgentID != "" {
		return o.AgentID, true
	}
	return o.UserID, false
}

// Trade is one maker/taker fill at the maker's price.
type Trade struct {
	ID           string    `json:"id"`
	MarketID     string    `json:"marketId"`
	OutcomeIndex int       `json:"outcomeIndex"`
	Price        num.Dec   `json:"price"`
	Quantity     num.Dec   `json:"quantity"`
	MakerOrderID string    `json:"makerOrderId"`
	TakerOrderID string    `json:"takerOrderId"`
	Side         Side      `json:"side"`
	TakerUserID  string    `json:"takerUserId,omitempty"`
	TakerAgentID string    `json:"takerAgentId,omitempty"`
	MakerUserID  string    `json:"makerUserId,omitempty"`
	MakerAgentID string    `json:"makerAgentId,omitempty"`
	ExecutedAt   time.Time `json:"executedAt"`
}

// Notional returns price * quantity, the trade's contribution to volume.
func (t *Trade) Notional() num.Dec { return t.Price.Mul(t.Quantity) }

// BookLevel is one aggregated price level of a snapshot.
type BookLevel struct {
	Price    num.Dec `json:"price"`
	Quantity num.Dec `json:"quantity"`
	Orders   int     `json:"orders"`
}

// Snapshot is the aggregated view of one book after a mutating call.
// Bids are sorted by price descending, asks ascending.
type Snapshot struct {
	MarketID     string      `json:"marketId"`
	OutcomeIndex int         `json:"outcomeIndex"`
	Bids         []BookLevel `json:"bids"`
	Asks         []BookLevel `json:"asks"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Reject reasons carried on REJECTED results. The API layer maps them to
// error kinds.
const (
	RejectQuantityNotPositive = "quantity must be positive"
	RejectPriceNotPositive    = "limit order requires a positive price"
	RejectNoLiquidity         = "insufficient liquidity"
)

// ProcessResult is the outcome of running one order through the book.
type ProcessResult struct {
	Order        *Order    `json:"order"`
	Trades       []*Trade  `json:"trades"`
	Snapshot     *Snapshot `json:"snapshot"`
	RejectReason string    `json:"rejectReason,omitempty"`
}

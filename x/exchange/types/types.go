package types

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/openpredict/predex/pkg/num"
	obtypes "github.com/openpredict/predex/x/orderbook/types"
)

// OrderInput is the submission payload. REST, websocket, and agent
// submissions all reduce to this shape before entering the pipeline.
type OrderInput struct {
	ID           string            `json:"id,omitempty"`
	MarketID     string            `json:"marketId"`
	OutcomeIndex int               `json:"outcomeIndex"`
	Side         obtypes.Side      `json:"side"`
	Type         obtypes.OrderType `json:"type"`
	Price        num.Dec           `json:"price,omitempty"`
	Quantity     num.Dec           `json:"quantity"`
	UserID       string            `json:"userId,omitempty"`
	AgentID      string            `json:"agentId,omitempty"`
	Envelope     json.RawMessage   `json:"settlementEnvelope,omitempty"`
}

// Validate checks the fields that must hold before the input can become an
// order. Price and quantity bounds are judged by the matching engine, which
// answers with a REJECTED result instead of an error.
func (in OrderInput) Validate() error {
	if in.MarketID == "" {
		return ErrInvalidInput.Wrap("marketId is required")
	}
	if in.OutcomeIndex < 0 {
		return ErrInvalidInput.Wrapf("outcomeIndex %d", in.OutcomeIndex)
	}
	if in.Side != obtypes.SideBid && in.Side != obtypes.SideAsk {
		return ErrInvalidInput.Wrap("side must be BID or ASK")
	}
	switch in.Type {
	case obtypes.OrderTypeLimit, obtypes.OrderTypeMarket, obtypes.OrderTypeIOC:
	default:
		return ErrInvalidInput.Wrap("type must be LIMIT, MARKET or IOC")
	}
	return nil
}

// ToOrder builds the order handed to the matching engine, assigning an id
// when the caller supplied none.
func (in OrderInput) ToOrder() *obtypes.Order {
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	order := obtypes.NewOrder(id, in.MarketID, in.OutcomeIndex, in.Side, in.Type, in.Price, in.Quantity)
	order.UserID = in.UserID
	order.AgentID = in.AgentID
	order.Envelope = in.Envelope
	return order
}

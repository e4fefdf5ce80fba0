package types

import (
	"encoding/json"
	"time"

	"github.com/openpredict/predex/pkg/num"
	obtypes "github.com/openpredict/predex/x/orderbook/types"
)

// Subscription topics. Market and agent topics are parameterised; the rest
// are fixed rooms.
const (
	TopicMarkets   = "markets"
	TopicPriceFeed = "price_feed"
	// TopicBroadcast is the broker channel peers re-broadcast from; clients
	// cannot subscribe to it directly.
	TopicBroadcast = "ws:broadcast"
)

func TopicMarket(id string) string { return "market:" + id }
func TopicAgent(id string) string  { return "agent:" + id }

// Event types fanned out to subscribers.
const (
	EventOrderBookUpdate = "ORDER_BOOK_UPDATE"
	EventTradeExecuted   = "TRADE_EXECUTED"
	EventMarketUpdated   = "MARKET_UPDATED"
	EventAgentUpdated    = "AGENT_UPDATED"
	EventPriceUpdate     = "PRICE_UPDATE"
	EventError           = "ERROR"
)

// MARKET_UPDATED reasons.
const (
	ReasonCreated   = "created"
	ReasonUpdated   = "updated"
	ReasonDeleted   = "deleted"
	ReasonStats     = "stats"
	ReasonPosition  = "position"
	ReasonOrderbook = "orderbook"
)

// Event is the envelope delivered to websocket subscribers and relayed
// across instances on the broadcast channel.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	MarketID  string          `json:"marketId,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent marshals payload into an envelope. Payloads are plain data
// structs, so marshalling cannot fail.
func NewEvent(typ, topic string, payload interface{}) Event {
	data, _ := json.Marshal(payload)
	return Event{Type: typ, Topic: topic, Payload: data, Timestamp: time.Now().UTC()}
}

// OrderBookUpdateEvent carries a full-depth snapshot for one outcome book.
func OrderBookUpdateEvent(s *obtypes.Snapshot) Event {
	ev := NewEvent(EventOrderBookUpdate, TopicMarket(s.MarketID), s)
	ev.MarketID = s.MarketID
	return ev
}

// TradeExecutedEvent carries one executed trade.
func TradeExecutedEvent(t *obtypes.Trade) Event {
	ev := NewEvent(EventTradeExecuted, TopicMarket(t.MarketID), t)
	ev.MarketID = t.MarketID
	return ev
}

// PriceUpdate is the price_feed payload derived from an executed trade.
type PriceUpdate struct {
	MarketID     string    `json:"marketId"`
	OutcomeIndex int       `json:"outcomeIndex"`
	Price        num.Dec   `json:"price"`
	Quantity     num.Dec   `json:"quantity"`
	ExecutedAt   time.Time `json:"executedAt"`
}

// PriceUpdateEvent publishes a trade's price to the price_feed room.
func PriceUpdateEvent(t *obtypes.Trade) Event {
	ev := NewEvent(EventPriceUpdate, TopicPriceFeed, PriceUpdate{
		MarketID:     t.MarketID,
		OutcomeIndex: t.OutcomeIndex,
		Price:        t.Price,
		Quantity:     t.Quantity,
		ExecutedAt:   t.ExecutedAt,
	})
	ev.MarketID = t.MarketID
	return ev
}

// MarketUpdatedEvent signals a market lifecycle or stats change. Payload may
// be nil for deletions.
func MarketUpdatedEvent(marketID, reason string, payload interface{}) Event {
	ev := NewEvent(EventMarketUpdated, TopicMarket(marketID), payload)
	ev.MarketID = marketID
	ev.Reason = reason
	return ev
}

// AgentUpdatedEvent signals agent activity on the agent's own room.
func AgentUpdatedEvent(agentID string, payload interface{}) Event {
	return NewEvent(EventAgentUpdated, TopicAgent(agentID), payload)
}

// ErrorEvent answers a malformed or unreadable client frame.
func ErrorEvent(message string) Event {
	return NewEvent(EventError, "", map[string]string{"message": message})
}

// Package types defines prediction markets, positions and the read-side
// stats view.
package types

import (
	"encoding/json"
	"time"

	"github.com/openpredict/predex/pkg/num"
)

// MarketStatus is the lifecycle state of a market. Orders are accepted only
// while OPEN.
type MarketStatus int

const (
	MarketStatusDraft MarketStatus = iota
	MarketStatusOpen
	MarketStatusResolving
	MarketStatusClosed
	MarketStatusDisputed
)

func (s MarketStatus) String() string {
	switch s {
	case MarketStatusDraft:
		return "DRAFT"
	case MarketStatusOpen:
		return "OPEN"
	case MarketStatusResolving:
		return "RESOLVING"
	case MarketStatusClosed:
		return "CLOSED"
	case MarketStatusDisputed:
		return "DISPUTED"
	default:
		return "UNKNOWN"
	}
}

// MarketStatusFromString parses a wire identifier.
func MarketStatusFromString(s string) (MarketStatus, bool) {
	switch s {
	case "DRAFT":
		return MarketStatusDraft, true
	case "OPEN":
		return MarketStatusOpen, true
	case "RESOLVING":
		return MarketStatusResolving, true
	case "CLOSED":
		return MarketStatusClosed, true
	case "DISPUTED":
		return MarketStatusDisputed, true
	default:
		return MarketStatusDraft, false
	}
}

func (s MarketStatus) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *MarketStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, ok := MarketStatusFromString(raw)
	if !ok {
		return ErrInvalidMarket.Wrapf("status %q", raw)
	}
	*s = parsed
	return nil
}

// MinOutcomes and MaxOutcomes bound the outcome label list.
const (
	MinOutcomes = 2
	MaxOutcomes = 255
)

// Market is one tradable prediction market with an LMSR liquidity parameter.
type Market struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Creator        string       `json:"creator,omitempty"`
	CollateralID   string       `json:"collateralTokenId,omitempty"`
	Outcomes       []string     `json:"outcomes"`
	ResolutionTime time.Time    `json:"resolutionTime,omitempty"`
	Status         MarketStatus `json:"status"`
	Volume         num.Dec      `json:"volume"`
	LiquidityB     num.Dec      `json:"liquidityParameter"`

	// On-chain references, empty when the market is off-chain only.
	ConditionID string   `json:"conditionId,omitempty"`
	PositionIDs []string `json:"outcomePositionIds,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewMarket returns a DRAFT market with zero volume.
func NewMarket(id, name, creator string, outcomes []string, b num.Dec) *Market {
	now := time.Now().UTC()
	return &Market{
		ID:         id,
		Name:       name,
		Creator:    creator,
		Outcomes:   outcomes,
		Status:     MarketStatusDraft,
		Volume:     num.ZeroDec(),
		LiquidityB: b,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Validate checks the structural invariants.
func (m *Market) Validate() error {
	if m.ID == "" {
		return ErrInvalidMarket.Wrap("empty id")
	}
	if m.Name == "" {
		return ErrInvalidMarket.Wrap("empty name")
	}
	if len(m.Outcomes) < MinOutcomes || len(m.Outcomes) > MaxOutcomes {
		return ErrInvalidMarket.Wrapf("outcome count %d outside [%d, %d]", len(m.Outcomes), MinOutcomes, MaxOutcomes)
	}
	if !m.LiquidityB.IsPositive() {
		return ErrInvalidMarket.Wrapf("liquidity parameter %s must be positive", m.LiquidityB)
	}
	if len(m.PositionIDs) > 0 && len(m.PositionIDs) != len(m.Outcomes) {
		return ErrInvalidMarket.Wrapf("%d position ids for %d outcomes", len(m.PositionIDs), len(m.Outcomes))
	}
	return nil
}

// CanTrade reports whether orders may be submitted.
func (m *Market) CanTrade() bool { return m.Status == MarketStatusOpen }

// OutcomeCount returns the number of outcomes.
func (m *Market) OutcomeCount() int { return len(m.Outcomes) }

// CheckOutcome validates an outcome index against the market.
func (m *Market) CheckOutcome(index int) error {
	if index < 0 || index >= len(m.Outcomes) {
		return ErrInvalidOutcome.Wrapf("index %d outside [0, %d)", index, len(m.Outcomes))
	}
	return nil
}

// PositionSide is the direction of an open position.
type PositionSide int

const (
	PositionLong PositionSide = iota
	PositionShort
)

func (s PositionSide) String() string {
	if s == PositionShort {
		return "SHORT"
	}
	return "LONG"
}

// PositionSideFromString parses a wire identifier.
func PositionSideFromString(s string) (PositionSide, bool) {
	switch s {
	case "LONG":
		return PositionLong, true
	case "SHORT":
		return PositionShort, true
	default:
		return PositionLong, false
	}
}

func (s PositionSide) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *PositionSide) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, ok := PositionSideFromString(raw)
	if !ok {
		return ErrInvalidPosition.Wrapf("side %q", raw)
	}
	*s = parsed
	return nil
}

// PositionStatus is the lifecycle state of a position. Only OPEN positions
// contribute to the outstanding quantity vector.
type PositionStatus int

const (
	PositionOpen PositionStatus = iota
	PositionClosed
	PositionLiquidated
)

func (s PositionStatus) String() string {
	switch s {
	case PositionClosed:
		return "CLOSED"
	case PositionLiquidated:
		return "LIQUIDATED"
	default:
		return "OPEN"
	}
}

// PositionStatusFromString parses a wire identifier.
func PositionStatusFromString(s string) (PositionStatus, bool) {
	switch s {
	case "OPEN":
		return PositionOpen, true
	case "CLOSED":
		return PositionClosed, true
	case "LIQUIDATED":
		return PositionLiquidated, true
	default:
		return PositionOpen, false
	}
}

func (s PositionStatus) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *PositionStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, ok := PositionStatusFromString(raw)
	if !ok {
		return ErrInvalidPosition.Wrapf("status %q", raw)
	}
	*s = parsed
	return nil
}

// Position is one owner's exposure to one outcome.
type Position struct {
	ID           string         `json:"id"`
	MarketID     string         `json:"marketId"`
	OutcomeIndex int            `json:"outcomeIndex"`
	Owner        string         `json:"owner"`
	Side         PositionSide   `json:"side"`
	Collateral   num.Dec        `json:"collateral"`
	Status       PositionStatus `json:"status"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// Validate checks the structural invariants.
func (p *Position) Validate() error {
	if p.ID == "" {
		return ErrInvalidPosition.Wrap("empty id")
	}
	if p.MarketID == "" {
		return ErrInvalidPosition.Wrap("empty market id")
	}
	if p.OutcomeIndex < 0 {
		return ErrInvalidPosition.Wrapf("negative outcome index %d", p.OutcomeIndex)
	}
	if p.Owner == "" {
		return ErrInvalidPosition.Wrap("empty owner")
	}
	if p.Collateral.IsNegative() {
		return ErrInvalidPosition.Wrapf("negative collateral %s", p.Collateral)
	}
	return nil
}

// Signed returns the position's contribution to the outstanding quantity of
// its outcome: long collateral counts positive, short negative.
func (p *Position) Signed() num.Dec {
	if p.Side == PositionShort {
		return p.Collateral.Neg()
	}
	return p.Collateral
}

// MarketStats is the read-side aggregate for one market: persisted figures
// from the store plus live depth from the in-memory books.
type MarketStats struct {
	MarketID       string     `json:"marketId"`
	Volume         num.Dec    `json:"volume"`
	TradeCount     int64      `json:"tradeCount"`
	LastTradeAt    *time.Time `json:"lastTradeAt,omitempty"`
	UniqueTraders  int64      `json:"uniqueTraders"`
	DistinctAgents int64      `json:"distinctAgents"`
	NewsCount      int64      `json:"newsCount"`
	ActiveOrders   int        `json:"activeOrders"`
	BidLiquidity   num.Dec    `json:"bidLiquidity"`
	AskLiquidity   num.Dec    `json:"askLiquidity"`
}

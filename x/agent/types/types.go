// Package types defines scheduled agent jobs and the policy contract that
// turns them into trading decisions.
package types

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openpredict/predex/pkg/num"
	markettypes "github.com/openpredict/predex/x/market/types"
)

// Actions a policy may return.
const (
	ActionSkip = "skip"
	ActionBuy  = "buy"
	ActionSell = "sell"
)

// Job is one scheduled evaluation of an agent against a market. Retries
// counts failed runs so a rebooked job backs off progressively.
type Job struct {
	AgentID     string    `json:"agentId"`
	MarketID    string    `json:"marketId"`
	ScheduledAt time.Time `json:"scheduledAt,omitempty"`
	Retries     int       `json:"retries,omitempty"`
}

// Validate checks the structural invariants.
func (j *Job) Validate() error {
	if j.AgentID == "" {
		return ErrInvalidJob.Wrap("empty agent id")
	}
	if j.MarketID == "" {
		return ErrInvalidJob.Wrap("empty market id")
	}
	return nil
}

// Marshal encodes the job for the schedule queue.
func (j *Job) Marshal() ([]byte, error) { return json.Marshal(j) }

// UnmarshalJob decodes and validates a queued payload.
func UnmarshalJob(payload []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(payload, &j); err != nil {
		return nil, ErrInvalidJob.Wrapf("decode: %v", err)
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return &j, nil
}

// MarketView is the data a policy decides on: the market row and the current
// cost-function prices per outcome.
type MarketView struct {
	Market *markettypes.Market
	Prices []num.Dec
}

// Decision is a policy's answer for one job. OutcomeIndex and Quantity are
// required for buy and sell; NextFollowUpInMs > 0 rebooks the evaluation.
type Decision struct {
	Action           string  `json:"action"`
	OutcomeIndex     int     `json:"outcomeIndex,omitempty"`
	Quantity         num.Dec `json:"quantity,omitempty"`
	Comment          string  `json:"comment,omitempty"`
	NextFollowUpInMs int64   `json:"nextFollowUpInMs,omitempty"`
}

// Validate checks the decision is actionable.
func (d *Decision) Validate() error {
	switch d.Action {
	case ActionSkip:
		return nil
	case ActionBuy, ActionSell:
		if d.OutcomeIndex < 0 {
			return ErrInvalidDecision.Wrapf("negative outcome index %d", d.OutcomeIndex)
		}
		if !d.Quantity.IsPositive() {
			return ErrInvalidDecision.Wrapf("quantity %s must be positive", d.Quantity)
		}
		return nil
	default:
		return ErrInvalidDecision.Wrapf("action %q", d.Action)
	}
}

// Policy decides what an agent does when its schedule fires. Implementations
// must honour ctx: evaluations are cancelled on shutdown.
type Policy interface {
	Decide(ctx context.Context, job Job, view MarketView) (Decision, error)
}

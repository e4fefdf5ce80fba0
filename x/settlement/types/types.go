package types

import (
	"encoding/json"

	errorsmod "cosmossdk.io/errors"

	obtypes "github.com/openpredict/predex/x/orderbook/types"
)

// Queue names on the broker. The dead-letter stream derives from StreamJobs.
const (
	StreamJobs = "settlement:jobs"
	Group      = "settlement"
)

var ErrInvalidJob = errorsmod.Register("settlement", 2, "invalid settlement job")

// Job is one persistence unit: the post-matching state of an order and the
// trades it produced. Every job touches exactly one market. Cancellations
// carry the order alone.
type Job struct {
	Order  *obtypes.Order   `json:"order,omitempty"`
	Trades []*obtypes.Trade `json:"trades,omitempty"`
}

func NewJob(order *obtypes.Order, trades []*obtypes.Trade) Job {
	return Job{Order: order, Trades: trades}
}

// MarketID returns the market this job settles into.
func (j Job) MarketID() string {
	if j.Order != nil {
		return j.Order.MarketID
	}
	if len(j.Trades) > 0 {
		return j.Trades[0].MarketID
	}
	return ""
}

// Validate rejects empty jobs and jobs spanning more than one market.
func (j Job) Validate() error {
	if j.Order == nil && len(j.Trades) == 0 {
		return ErrInvalidJob.Wrap("neither order nor trades")
	}
	market := j.MarketID()
	for _, tr := range j.Trades {
		if tr.MarketID != market {
			return ErrInvalidJob.Wrapf("trade %s belongs to market %s, job to %s", tr.ID, tr.MarketID, market)
		}
	}
	return nil
}

// Marshal encodes the job for the queue.
func (j Job) Marshal() ([]byte, error) {
	return json.Marshal(j)
}

// UnmarshalJob decodes and validates a queued job.
func UnmarshalJob(data []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return Job{}, ErrInvalidJob.Wrapf("decode: %v", err)
	}
	if err := j.Validate(); err != nil {
		return Job{}, err
	}
	return j, nil
}

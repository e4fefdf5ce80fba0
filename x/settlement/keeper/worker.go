// Package keeper runs the settlement worker: it drains the persistence queue,
// applies each job to the store in one transaction and announces the
// refreshed aggregates. Replayed deliveries are absorbed by the store's
// duplicate-skipping writes, so the worker never tracks seen ids itself.
package keeper

import (
	"context"
	"errors"

	"cosmossdk.io/log"

	"github.com/openpredict/predex/broker"
	"github.com/openpredict/predex/metrics"
	"github.com/openpredict/predex/pkg/num"
	"github.com/openpredict/predex/store"
	exchangetypes "github.com/openpredict/predex/x/exchange/types"
	"github.com/openpredict/predex/x/settlement/types"
)

// StatsUpdate is the payload of the MARKET_UPDATED(stats) event emitted after
// each committed job.
type StatsUpdate struct {
	MarketID    string  `json:"marketId"`
	Volume      num.Dec `json:"volume"`
	VolumeDelta num.Dec `json:"volumeDelta"`
	Inserted    int     `json:"insertedTrades"`
}

// Worker consumes settlement jobs from the broker stream and writes them to
// the store. Multiple workers may share the consumer group; each job still
// commits exactly once thanks to the idempotent batch write.
type Worker struct {
	store     *store.Store
	queue     *broker.StreamQueue
	publisher exchangetypes.Publisher
	logger    log.Logger
}

// NewWorker builds a worker bound to the settlement stream. consumer names
// this instance within the group so stalled deliveries can be claimed by a
// peer.
func NewWorker(st *store.Store, b *broker.Broker, publisher exchangetypes.Publisher, consumer string, logger log.Logger) *Worker {
	w := &Worker{
		store:     st,
		publisher: publisher,
		logger:    logger.With("module", "x/settlement"),
	}
	w.queue = broker.NewStreamQueue(b, broker.QueueConfig{
		Stream:   types.StreamJobs,
		Group:    types.Group,
		Consumer: consumer,
	}, logger)
	w.queue.OnDeadLetter(w.recordDeadLetter)
	return w
}

// Queue exposes the stream queue so producers enqueue against the same
// stream and group configuration.
func (w *Worker) Queue() *broker.StreamQueue { return w.queue }

// Run consumes jobs until ctx is cancelled. Cancellation is a clean drain,
// not an error: in-flight handlers finish and unacknowledged entries stay
// pending for the next start.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("settlement worker started", "stream", types.StreamJobs, "group", types.Group)
	err := w.queue.Consume(ctx, w.handle)
	if errors.Is(err, context.Canceled) {
		w.logger.Info("settlement worker drained")
		return nil
	}
	return err
}

func (w *Worker) handle(ctx context.Context, id string, payload []byte) error {
	timer := metrics.NewTimer()

	job, err := types.UnmarshalJob(payload)
	if err != nil {
		// Redelivery cannot fix a malformed payload. Park it and ack so the
		// stream keeps moving.
		w.logger.Error("malformed settlement job", "id", id, "err", err)
		w.parkPoison(ctx, payload, err)
		metrics.GetCollector().RecordSettlementJob("invalid", timer.ElapsedMs())
		return nil
	}

	res, err := w.store.ApplyTradeBatch(ctx, job.Order, job.Trades)
	if err != nil {
		metrics.GetCollector().RecordSettlementJob("error", timer.ElapsedMs())
		return err
	}

	w.publishStats(ctx, res)
	metrics.GetCollector().RecordSettlementJob("ok", timer.ElapsedMs())
	w.logger.Info("settlement job applied",
		"id", id,
		"market_id", res.MarketID,
		"inserted", res.Inserted,
		"volume", res.Volume.String(),
	)
	return nil
}

func (w *Worker) publishStats(ctx context.Context, res *store.BatchResult) {
	if w.publisher == nil || res.MarketID == "" {
		return
	}
	ev := exchangetypes.MarketUpdatedEvent(res.MarketID, exchangetypes.ReasonStats, StatsUpdate{
		MarketID:    res.MarketID,
		Volume:      res.Volume,
		VolumeDelta: res.VolumeDelta,
		Inserted:    res.Inserted,
	})
	w.publisher.Publish(ctx, exchangetypes.TopicMarkets, ev)
	w.publisher.Publish(ctx, exchangetypes.TopicMarket(res.MarketID), ev)
}

func (w *Worker) parkPoison(ctx context.Context, payload []byte, cause error) {
	if err := w.store.InsertDeadLetter(ctx, types.StreamJobs, payload, "malformed: "+cause.Error()); err != nil {
		w.logger.Error("park malformed job", "err", err)
		return
	}
	metrics.GetCollector().RecordDeadLetter(types.StreamJobs)
}

// recordDeadLetter mirrors delivery-exhausted entries into the store so
// operators can inspect and replay them after the stream copy expires.
func (w *Worker) recordDeadLetter(ctx context.Context, id string, payload []byte, reason string) {
	if err := w.store.InsertDeadLetter(ctx, types.StreamJobs, payload, reason); err != nil {
		w.logger.Error("record dead letter", "id", id, "err", err)
		return
	}
	metrics.GetCollector().RecordDeadLetter(types.StreamJobs)
}

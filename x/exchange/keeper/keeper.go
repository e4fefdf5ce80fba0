package keeper

import (
	"context"
	"sync"
	"time"

	"cosmossdk.io/log"

	"github.com/openpredict/predex/metrics"
	"github.com/openpredict/predex/x/exchange/types"
	markettypes "github.com/openpredict/predex/x/market/types"
	obkeeper "github.com/openpredict/predex/x/orderbook/keeper"
	obtypes "github.com/openpredict/predex/x/orderbook/types"
	settlementtypes "github.com/openpredict/predex/x/settlement/types"
)

// RetryConfig bounds the asynchronous settlement enqueue.
type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
	Timeout   time.Duration // per attempt
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 5, BaseDelay: 100 * time.Millisecond, Timeout: 5 * time.Second}
}

// Keeper runs the submission pipeline: admission checks, the per-book FIFO
// turn, matching, asynchronous persistence hand-off, and event publishing.
type Keeper struct {
	engine      *obkeeper.Engine
	markets     types.MarketSource
	queue       types.Enqueuer
	publisher   types.Publisher
	deadLetters types.DeadLetterSink
	serializer  *Serializer
	retry       RetryConfig
	logger      log.Logger
	inflight    sync.WaitGroup
}

func NewKeeper(
	engine *obkeeper.Engine,
	markets types.MarketSource,
	queue types.Enqueuer,
	publisher types.Publisher,
	deadLetters types.DeadLetterSink,
	retry RetryConfig,
	logger log.Logger,
) *Keeper {
	if retry.Attempts <= 0 {
		retry = DefaultRetryConfig()
	}
	return &Keeper{
		engine:      engine,
		markets:     markets,
		queue:       queue,
		publisher:   publisher,
		deadLetters: deadLetters,
		serializer:  NewSerializer(),
		retry:       retry,
		logger:      logger.With("module", "x/exchange"),
	}
}

// Submit runs one order through the pipeline and returns the full matching
// result synchronously. Persistence is handed off asynchronously; events are
// published before returning. A context that ends while the order is still
// queued returns ErrCancelled with the book untouched.
func (k *Keeper) Submit(ctx context.Context, input types.OrderInput) (*obtypes.ProcessResult, error) {
	timer := metrics.NewTimer()

	if err := input.Validate(); err != nil {
		return nil, err
	}
	market, err := k.markets.GetMarket(ctx, input.MarketID)
	if err != nil {
		return nil, err
	}
	if !market.CanTrade() {
		return nil, markettypes.ErrMarketNotOpen.Wrapf("market %s is %s", market.ID, market.Status)
	}
	if err := market.CheckOutcome(input.OutcomeIndex); err != nil {
		return nil, err
	}

	order := input.ToOrder()
	var result *obtypes.ProcessResult
	err = k.serializer.Run(ctx, LaneKey(order.MarketID, order.OutcomeIndex), func() {
		result = k.engine.Process(order)
	})
	if err != nil {
		return nil, err
	}

	if result.Order.Status != obtypes.OrderStatusRejected {
		k.enqueueAsync(settlementtypes.NewJob(result.Order, result.Trades))
		k.publishResult(ctx, result)
	}

	c := metrics.GetCollector()
	c.RecordOrder(order.MarketID, order.Side.String(), order.Type.String(), result.Order.Status.String())
	c.RecordOrderLatency(order.MarketID, order.Type.String(), timer.ElapsedMs())
	return result, nil
}

// Cancel removes a resting order through the same FIFO lane as submissions,
// persists the cancelled state, and publishes the new snapshot.
func (k *Keeper) Cancel(ctx context.Context, marketID string, outcome int, orderID, userID, agentID string) (*obtypes.ProcessResult, error) {
	var (
		result *obtypes.ProcessResult
		cerr   error
	)
	err := k.serializer.Run(ctx, LaneKey(marketID, outcome), func() {
		result, cerr = k.engine.Cancel(marketID, outcome, orderID, userID, agentID)
	})
	if err != nil {
		return nil, err
	}
	if cerr != nil {
		return nil, cerr
	}

	k.enqueueAsync(settlementtypes.NewJob(result.Order, nil))
	k.publishResult(ctx, result)
	return result, nil
}

// Snapshot returns the current depth for one outcome book; a book that has
// never traded is reported empty rather than missing.
func (k *Keeper) Snapshot(marketID string, outcome int) *obtypes.Snapshot {
	if snap, ok := k.engine.Registry().Snapshot(marketID, outcome); ok {
		return snap
	}
	return &obtypes.Snapshot{
		MarketID:     marketID,
		OutcomeIndex: outcome,
		Bids:         []obtypes.BookLevel{},
		Asks:         []obtypes.BookLevel{},
		Timestamp:    time.Now().UTC(),
	}
}

// Close stops accepting submissions, lets queued turns finish, and waits for
// in-flight persistence hand-offs.
func (k *Keeper) Close() {
	k.serializer.Close()
	k.inflight.Wait()
}

func (k *Keeper) publishResult(ctx context.Context, result *obtypes.ProcessResult) {
	if result.Snapshot != nil {
		k.publisher.Publish(ctx, types.TopicMarket(result.Snapshot.MarketID), types.OrderBookUpdateEvent(result.Snapshot))
	}
	for _, tr := range result.Trades {
		k.publisher.Publish(ctx, types.TopicMarket(tr.MarketID), types.TradeExecutedEvent(tr))
		k.publisher.Publish(ctx, types.TopicPriceFeed, types.PriceUpdateEvent(tr))
		metrics.GetCollector().RecordTrade(tr.MarketID, tr.Notional().Float64())
	}
}

// enqueueAsync hands the job to the settlement queue without blocking the
// submitter. Failures retry with exponential back-off; exhausting the budget
// raises the alarm metric and records the job in the dead-letter table.
func (k *Keeper) enqueueAsync(job settlementtypes.Job) {
	payload, err := job.Marshal()
	if err != nil {
		k.logger.Error("marshal settlement job", "market_id", job.MarketID(), "err", err)
		return
	}

	k.inflight.Add(1)
	go func() {
		defer k.inflight.Done()
		delay := k.retry.BaseDelay
		for attempt := 1; ; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), k.retry.Timeout)
			_, err := k.queue.Enqueue(ctx, payload)
			cancel()
			if err == nil {
				return
			}
			if attempt >= k.retry.Attempts {
				metrics.GetCollector().RecordEnqueueFailure()
				k.logger.Error("settlement enqueue exhausted retries",
					"market_id", job.MarketID(), "attempts", attempt, "err", err)
				k.recordDeadLetter(payload, err)
				return
			}
			metrics.GetCollector().RecordEnqueueRetry()
			k.logger.Warn("settlement enqueue failed, retrying",
				"market_id", job.MarketID(), "attempt", attempt, "delay", delay, "err", err)
			time.Sleep(delay)
			delay *= 2
		}
	}()
}

func (k *Keeper) recordDeadLetter(payload []byte, cause error) {
	if k.deadLetters == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), k.retry.Timeout)
	defer cancel()
	if err := k.deadLetters.InsertDeadLetter(ctx, settlementtypes.StreamJobs, payload, cause.Error()); err != nil {
		k.logger.Error("record dead letter", "err", err)
		return
	}
	metrics.GetCollector().RecordDeadLetter(settlementtypes.StreamJobs)
}

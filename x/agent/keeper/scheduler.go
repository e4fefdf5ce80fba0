// Package keeper runs the agent scheduler: a polling loop over a delayed
// queue that evaluates agents against markets and routes their decisions to
// the exchange as market orders.
package keeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cosmossdk.io/log"
	"golang.org/x/sync/semaphore"

	"github.com/openpredict/predex/broker"
	"github.com/openpredict/predex/metrics"
	"github.com/openpredict/predex/pkg/num"
	"github.com/openpredict/predex/x/agent/types"
	exchangetypes "github.com/openpredict/predex/x/exchange/types"
	markettypes "github.com/openpredict/predex/x/market/types"
	obtypes "github.com/openpredict/predex/x/orderbook/types"
)

// QueueName prefixes the redis keys holding pending schedules.
const QueueName = "agent:schedule"

// ScheduleStore holds pending evaluations until they fall due. Satisfied by
// broker.DelayedQueue.
type ScheduleStore interface {
	Schedule(ctx context.Context, key string, payload []byte, runAt time.Time) error
	Cancel(ctx context.Context, key string) error
	PopDue(ctx context.Context, now time.Time, limit int) ([]broker.DelayedJob, error)
	Len(ctx context.Context) (int64, error)
}

// Trader submits agent orders. Satisfied by the exchange keeper.
type Trader interface {
	Submit(ctx context.Context, input exchangetypes.OrderInput) (*obtypes.ProcessResult, error)
}

// MarketData resolves the view handed to policies. Satisfied by the market
// keeper.
type MarketData interface {
	GetMarket(ctx context.Context, id string) (*markettypes.Market, error)
	Prices(ctx context.Context, marketID string) ([]num.Dec, error)
}

// Config tunes the scheduler loop.
type Config struct {
	PollInterval   time.Duration
	Batch          int
	Workers        int64
	RetryAttempts  int           // evaluation runs per job before the chain ends
	RetryBase      time.Duration // first retry delay, doubled per failed run
	TradingEnabled bool
}

// Scheduler pops due jobs and evaluates them on a bounded worker pool. A
// recurring schedule is keyed by the agent-market pair, so rebooking the pair
// replaces the previous run time instead of stacking evaluations.
type Scheduler struct {
	queue     ScheduleStore
	markets   MarketData
	trader    Trader
	policy    types.Policy
	publisher exchangetypes.Publisher
	cfg       Config
	logger    log.Logger

	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func NewScheduler(queue ScheduleStore, markets MarketData, trader Trader, policy types.Policy, publisher exchangetypes.Publisher, cfg Config, logger log.Logger) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 32
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 5
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	return &Scheduler{
		queue:     queue,
		markets:   markets,
		trader:    trader,
		policy:    policy,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.With("module", "x/agent"),
		sem:       semaphore.NewWeighted(cfg.Workers),
	}
}

func scheduleKey(agentID, marketID string) string {
	return agentID + "-" + marketID
}

// Schedule books (or rebooks) the agent's next evaluation of a market.
func (s *Scheduler) Schedule(ctx context.Context, agentID, marketID string, delay time.Duration) error {
	job := types.Job{AgentID: agentID, MarketID: marketID, ScheduledAt: time.Now().UTC().Add(delay)}
	if err := job.Validate(); err != nil {
		return err
	}
	payload, err := job.Marshal()
	if err != nil {
		return err
	}
	return s.queue.Schedule(ctx, scheduleKey(agentID, marketID), payload, job.ScheduledAt)
}

// ScheduleOnce books an extra evaluation without displacing the pair's
// recurring schedule.
func (s *Scheduler) ScheduleOnce(ctx context.Context, agentID, marketID string, delay time.Duration) error {
	job := types.Job{AgentID: agentID, MarketID: marketID, ScheduledAt: time.Now().UTC().Add(delay)}
	if err := job.Validate(); err != nil {
		return err
	}
	payload, err := job.Marshal()
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s:%d", scheduleKey(agentID, marketID), time.Now().UnixNano())
	return s.queue.Schedule(ctx, key, payload, job.ScheduledAt)
}

// Unschedule drops the pair's pending evaluation. Unknown pairs are a no-op.
func (s *Scheduler) Unschedule(ctx context.Context, agentID, marketID string) error {
	return s.queue.Cancel(ctx, scheduleKey(agentID, marketID))
}

// Pending reports how many evaluations are booked.
func (s *Scheduler) Pending(ctx context.Context) (int64, error) {
	return s.queue.Len(ctx)
}

// Run polls for due jobs until ctx is cancelled. Each job runs on the worker
// pool; cancellation stops dispatch, rebooks any popped-but-unstarted jobs
// and waits for in-flight evaluations to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("agent scheduler started",
		"poll", s.cfg.PollInterval.String(),
		"workers", s.cfg.Workers,
		"trading_enabled", s.cfg.TradingEnabled,
	)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("agent scheduler drained")
			return nil
		case <-ticker.C:
		}

		jobs, err := s.queue.PopDue(ctx, time.Now(), s.cfg.Batch)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("pop due jobs", "err", err)
			}
			continue
		}

		for i, dj := range jobs {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				s.rebook(jobs[i:])
				break
			}
			s.wg.Add(1)
			go func(dj broker.DelayedJob) {
				defer s.wg.Done()
				defer s.sem.Release(1)
				s.runJob(ctx, dj)
			}(dj)
		}
	}
}

// rebook returns popped jobs to the queue when shutdown interrupts a batch.
// PopDue removed them, so dropping them here would lose the schedules.
func (s *Scheduler) rebook(jobs []broker.DelayedJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, dj := range jobs {
		if err := s.queue.Schedule(ctx, dj.Key, dj.Payload, time.Now()); err != nil {
			s.logger.Error("rebook job", "key", dj.Key, "err", err)
		}
	}
}

// retry rebooks a failed evaluation under its original key with exponential
// back-off, carrying the run count in the payload. Exhausting the budget ends
// the chain. Returns the metric status of the run.
func (s *Scheduler) retry(ctx context.Context, key string, job *types.Job, cause error, logger log.Logger) string {
	attempt := job.Retries + 1
	if attempt >= s.cfg.RetryAttempts {
		logger.Error("agent evaluation exhausted retries", "attempts", attempt, "err", cause)
		return "failed"
	}
	delay := s.cfg.RetryBase << (attempt - 1)
	job.Retries = attempt
	job.ScheduledAt = time.Now().UTC().Add(delay)
	payload, err := job.Marshal()
	if err != nil {
		logger.Error("marshal retry job", "err", err)
		return "failed"
	}
	if err := s.queue.Schedule(ctx, key, payload, job.ScheduledAt); err != nil {
		logger.Error("rebook failed evaluation", "err", err)
		return "failed"
	}
	logger.Warn("agent evaluation failed, retrying",
		"attempt", attempt, "delay", delay.String(), "err", cause)
	return "retry"
}

func (s *Scheduler) runJob(ctx context.Context, dj broker.DelayedJob) {
	timer := metrics.NewTimer()

	job, err := types.UnmarshalJob(dj.Payload)
	if err != nil {
		s.logger.Error("malformed agent job dropped", "key", dj.Key, "err", err)
		metrics.GetCollector().RecordAgentJob("invalid", timer.ElapsedMs())
		return
	}
	logger := s.logger.With("agent_id", job.AgentID, "market_id", job.MarketID)

	decision, err := s.decide(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown interrupted the evaluation. Put the job back untouched
			// so the schedule survives the restart.
			s.rebook([]broker.DelayedJob{dj})
			metrics.GetCollector().RecordAgentJob("cancelled", timer.ElapsedMs())
			return
		}
		status := s.retry(ctx, dj.Key, job, err, logger)
		metrics.GetCollector().RecordAgentJob(status, timer.ElapsedMs())
		return
	}
	if err := decision.Validate(); err != nil {
		logger.Error("agent decision rejected", "err", err)
		metrics.GetCollector().RecordAgentJob("invalid", timer.ElapsedMs())
		return
	}

	action := decision.Action
	switch decision.Action {
	case types.ActionSkip:
		logger.Debug("agent skipped", "comment", decision.Comment)
	case types.ActionBuy, types.ActionSell:
		if !s.cfg.TradingEnabled {
			logger.Info("agent trading disabled, decision dropped",
				"action", decision.Action,
				"outcome", decision.OutcomeIndex,
				"quantity", decision.Quantity.String(),
			)
			action = "disabled"
			break
		}
		s.execute(ctx, job, decision, logger)
	}

	if decision.NextFollowUpInMs > 0 {
		delay := time.Duration(decision.NextFollowUpInMs) * time.Millisecond
		if err := s.Schedule(ctx, job.AgentID, job.MarketID, delay); err != nil {
			logger.Error("schedule follow-up", "err", err)
		}
	}
	metrics.GetCollector().RecordAgentJob(action, timer.ElapsedMs())
}

func (s *Scheduler) decide(ctx context.Context, job *types.Job) (types.Decision, error) {
	if s.policy == nil {
		return types.Decision{Action: types.ActionSkip}, nil
	}
	m, err := s.markets.GetMarket(ctx, job.MarketID)
	if err != nil {
		return types.Decision{}, err
	}
	prices, err := s.markets.Prices(ctx, job.MarketID)
	if err != nil {
		return types.Decision{}, err
	}
	return s.policy.Decide(ctx, *job, types.MarketView{Market: m, Prices: prices})
}

// Activity reports one executed decision on the agent's room.
type Activity struct {
	AgentID      string  `json:"agentId"`
	MarketID     string  `json:"marketId"`
	Action       string  `json:"action"`
	OutcomeIndex int     `json:"outcomeIndex"`
	Quantity     num.Dec `json:"quantity"`
	OrderID      string  `json:"orderId,omitempty"`
	OrderStatus  string  `json:"orderStatus,omitempty"`
	RejectReason string  `json:"rejectReason,omitempty"`
	Comment      string  `json:"comment,omitempty"`
}

func (s *Scheduler) execute(ctx context.Context, job *types.Job, d types.Decision, logger log.Logger) {
	side := obtypes.SideBid
	if d.Action == types.ActionSell {
		side = obtypes.SideAsk
	}
	result, err := s.trader.Submit(ctx, exchangetypes.OrderInput{
		MarketID:     job.MarketID,
		OutcomeIndex: d.OutcomeIndex,
		Side:         side,
		Type:         obtypes.OrderTypeMarket,
		Quantity:     d.Quantity,
		AgentID:      job.AgentID,
	})
	if err != nil {
		logger.Error("agent order not accepted", "action", d.Action, "err", err)
		return
	}

	if s.publisher != nil {
		s.publisher.Publish(ctx, exchangetypes.TopicAgent(job.AgentID),
			exchangetypes.AgentUpdatedEvent(job.AgentID, Activity{
				AgentID:      job.AgentID,
				MarketID:     job.MarketID,
				Action:       d.Action,
				OutcomeIndex: d.OutcomeIndex,
				Quantity:     d.Quantity,
				OrderID:      result.Order.ID,
				OrderStatus:  result.Order.Status.String(),
				RejectReason: result.RejectReason,
				Comment:      d.Comment,
			}))
	}
	logger.Info("agent order submitted",
		"action", d.Action,
		"order_id", result.Order.ID,
		"status", result.Order.Status.String(),
		"trades", len(result.Trades),
	)
}

package keeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cosmossdk.io/log"

	"github.com/openpredict/predex/broker"
	"github.com/openpredict/predex/pkg/num"
	"github.com/openpredict/predex/x/agent/types"
	exchangetypes "github.com/openpredict/predex/x/exchange/types"
	markettypes "github.com/openpredict/predex/x/market/types"
	obtypes "github.com/openpredict/predex/x/orderbook/types"
)

func dec(s string) num.Dec { return num.MustNewDecFromStr(s) }

type memEntry struct {
	payload []byte
	runAt   time.Time
}

// memSchedule is an in-memory ScheduleStore with the same replace-on-key
// semantics as the redis-backed queue.
type memSchedule struct {
	mu      sync.Mutex
	entries map[string]memEntry
}

func newMemSchedule() *memSchedule {
	return &memSchedule{entries: make(map[string]memEntry)}
}

func (m *memSchedule) Schedule(_ context.Context, key string, payload []byte, runAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memEntry{payload: payload, runAt: runAt}
	return nil
}

func (m *memSchedule) Cancel(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *memSchedule) PopDue(_ context.Context, now time.Time, limit int) ([]broker.DelayedJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []broker.DelayedJob
	for key, e := range m.entries {
		if len(out) >= limit {
			break
		}
		if !e.runAt.After(now) {
			out = append(out, broker.DelayedJob{Key: key, Payload: e.payload})
			delete(m.entries, key)
		}
	}
	return out, nil
}

func (m *memSchedule) Len(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.entries)), nil
}

func (m *memSchedule) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *memSchedule) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok
}

type fakeMarkets struct {
	market *markettypes.Market
}

func (f *fakeMarkets) GetMarket(_ context.Context, id string) (*markettypes.Market, error) {
	if f.market != nil && f.market.ID == id {
		return f.market, nil
	}
	return nil, markettypes.ErrMarketNotFound.Wrapf("market %s", id)
}

func (f *fakeMarkets) Prices(context.Context, string) ([]num.Dec, error) {
	return []num.Dec{dec("0.5"), dec("0.5")}, nil
}

type fakeTrader struct {
	mu     sync.Mutex
	inputs []exchangetypes.OrderInput
}

func (f *fakeTrader) Submit(_ context.Context, input exchangetypes.OrderInput) (*obtypes.ProcessResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, input)
	o := obtypes.NewOrder("ord-agent", input.MarketID, input.OutcomeIndex, input.Side, input.Type,
		num.ZeroDec(), input.Quantity)
	o.AgentID = input.AgentID
	o.Status = obtypes.OrderStatusFilled
	return &obtypes.ProcessResult{Order: o}, nil
}

func (f *fakeTrader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

func (f *fakeTrader) last() exchangetypes.OrderInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inputs[len(f.inputs)-1]
}

type published struct {
	topic string
	ev    exchangetypes.Event
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *fakePublisher) Publish(_ context.Context, topic string, ev exchangetypes.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{topic: topic, ev: ev})
}

func (p *fakePublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.topic
	}
	return out
}

type policyFunc func(ctx context.Context, job types.Job, view types.MarketView) (types.Decision, error)

func (f policyFunc) Decide(ctx context.Context, job types.Job, view types.MarketView) (types.Decision, error) {
	return f(ctx, job, view)
}

func newTestScheduler(policy types.Policy, enabled bool) (*Scheduler, *memSchedule, *fakeTrader, *fakePublisher) {
	store := newMemSchedule()
	market := markettypes.NewMarket("mkt-1", "Will it rain tomorrow?", "user-1",
		[]string{"YES", "NO"}, num.NewDec(100))
	market.Status = markettypes.MarketStatusOpen
	trader := &fakeTrader{}
	pub := &fakePublisher{}
	s := NewScheduler(store, &fakeMarkets{market: market}, trader, policy, pub, Config{
		PollInterval:   5 * time.Millisecond,
		Workers:        2,
		RetryAttempts:  3,
		RetryBase:      time.Millisecond,
		TradingEnabled: enabled,
	}, log.NewNopLogger())
	return s, store, trader, pub
}

// startScheduler runs the loop and returns a stop func that asserts a clean
// drain.
func startScheduler(t *testing.T, s *Scheduler) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("scheduler run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("scheduler did not drain")
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestScheduleReplacesPair(t *testing.T) {
	s, store, _, _ := newTestScheduler(nil, false)
	ctx := context.Background()

	if err := s.Schedule(ctx, "agent-1", "mkt-1", time.Hour); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.Schedule(ctx, "agent-1", "mkt-1", 2*time.Hour); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if store.size() != 1 {
		t.Errorf("expected pair schedule to replace, got %d entries", store.size())
	}

	if err := s.ScheduleOnce(ctx, "agent-1", "mkt-1", time.Hour); err != nil {
		t.Fatalf("schedule once: %v", err)
	}
	if err := s.ScheduleOnce(ctx, "agent-1", "mkt-1", time.Hour); err != nil {
		t.Fatalf("second schedule once: %v", err)
	}
	if store.size() != 3 {
		t.Errorf("expected one-shots to stack, got %d entries", store.size())
	}

	if err := s.Unschedule(ctx, "agent-1", "mkt-1"); err != nil {
		t.Fatalf("unschedule: %v", err)
	}
	if store.has(scheduleKey("agent-1", "mkt-1")) {
		t.Error("expected pair schedule removed")
	}
	n, err := s.Pending(ctx)
	if err != nil || n != 2 {
		t.Errorf("expected 2 pending one-shots, got %d (%v)", n, err)
	}

	if err := s.Schedule(ctx, "", "mkt-1", time.Hour); !errors.Is(err, types.ErrInvalidJob) {
		t.Errorf("expected ErrInvalidJob, got %v", err)
	}
}

func TestRunExecutesBuyDecision(t *testing.T) {
	policy := policyFunc(func(_ context.Context, job types.Job, view types.MarketView) (types.Decision, error) {
		if view.Market == nil || len(view.Prices) != 2 {
			t.Errorf("policy got incomplete view: %+v", view)
		}
		return types.Decision{Action: types.ActionBuy, OutcomeIndex: 1, Quantity: dec("3")}, nil
	})
	s, _, trader, pub := newTestScheduler(policy, true)
	stop := startScheduler(t, s)
	defer stop()

	if err := s.Schedule(context.Background(), "agent-1", "mkt-1", 0); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitFor(t, "order submitted", func() bool { return trader.count() == 1 })

	input := trader.last()
	if input.Side != obtypes.SideBid {
		t.Errorf("expected BID, got %v", input.Side)
	}
	if input.Type != obtypes.OrderTypeMarket {
		t.Errorf("expected MARKET order, got %v", input.Type)
	}
	if input.AgentID != "agent-1" || input.UserID != "" {
		t.Errorf("expected agent attribution, got agent=%q user=%q", input.AgentID, input.UserID)
	}
	if input.OutcomeIndex != 1 || !input.Quantity.Equal(dec("3")) {
		t.Errorf("unexpected order: outcome=%d qty=%s", input.OutcomeIndex, input.Quantity)
	}

	waitFor(t, "agent event", func() bool { return len(pub.topics()) == 1 })
	if got := pub.topics()[0]; got != exchangetypes.TopicAgent("agent-1") {
		t.Errorf("expected agent room, got %q", got)
	}
}

func TestRunSellMapsToAsk(t *testing.T) {
	policy := policyFunc(func(context.Context, types.Job, types.MarketView) (types.Decision, error) {
		return types.Decision{Action: types.ActionSell, OutcomeIndex: 0, Quantity: dec("2")}, nil
	})
	s, _, trader, _ := newTestScheduler(policy, true)
	stop := startScheduler(t, s)
	defer stop()

	if err := s.Schedule(context.Background(), "agent-1", "mkt-1", 0); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitFor(t, "order submitted", func() bool { return trader.count() == 1 })
	if input := trader.last(); input.Side != obtypes.SideAsk {
		t.Errorf("expected ASK, got %v", input.Side)
	}
}

// TestTradingDisabledDropsDecision leaves the gate off: the decision is
// logged and dropped but the follow-up still books.
func TestTradingDisabledDropsDecision(t *testing.T) {
	policy := policyFunc(func(context.Context, types.Job, types.MarketView) (types.Decision, error) {
		return types.Decision{
			Action: types.ActionBuy, OutcomeIndex: 0, Quantity: dec("1"),
			NextFollowUpInMs: 3_600_000,
		}, nil
	})
	s, store, trader, _ := newTestScheduler(policy, false)
	stop := startScheduler(t, s)
	defer stop()

	if err := s.Schedule(context.Background(), "agent-1", "mkt-1", 0); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitFor(t, "follow-up booked", func() bool { return store.has(scheduleKey("agent-1", "mkt-1")) })
	if trader.count() != 0 {
		t.Errorf("expected no orders with trading disabled, got %d", trader.count())
	}
}

func TestSkipDecisionBooksFollowUp(t *testing.T) {
	policy := policyFunc(func(context.Context, types.Job, types.MarketView) (types.Decision, error) {
		return types.Decision{Action: types.ActionSkip, NextFollowUpInMs: 3_600_000}, nil
	})
	s, store, trader, _ := newTestScheduler(policy, true)
	stop := startScheduler(t, s)
	defer stop()

	if err := s.Schedule(context.Background(), "agent-1", "mkt-1", 0); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitFor(t, "follow-up booked", func() bool { return store.has(scheduleKey("agent-1", "mkt-1")) })
	if trader.count() != 0 {
		t.Errorf("skip must not trade, got %d orders", trader.count())
	}
}

// TestPolicyErrorRetriesThenRecovers fails the first two evaluations and
// expects the job to rebook itself with a growing retry count until the
// policy answers, keeping the chain alive.
func TestPolicyErrorRetriesThenRecovers(t *testing.T) {
	var (
		mu      sync.Mutex
		retries []int
	)
	policy := policyFunc(func(_ context.Context, job types.Job, _ types.MarketView) (types.Decision, error) {
		mu.Lock()
		retries = append(retries, job.Retries)
		n := len(retries)
		mu.Unlock()
		if n < 3 {
			return types.Decision{}, errors.New("model unavailable")
		}
		return types.Decision{Action: types.ActionSkip, NextFollowUpInMs: 3_600_000}, nil
	})
	s, store, trader, _ := newTestScheduler(policy, true)
	stop := startScheduler(t, s)
	defer stop()

	if err := s.Schedule(context.Background(), "agent-1", "mkt-1", 0); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitFor(t, "recovery and follow-up", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(retries) == 3 && store.has(scheduleKey("agent-1", "mkt-1"))
	})

	mu.Lock()
	for i, got := range retries {
		if got != i {
			t.Errorf("run %d saw retry count %d, want %d", i+1, got, i)
		}
	}
	mu.Unlock()
	if trader.count() != 0 {
		t.Errorf("skip after retries must not trade, got %d orders", trader.count())
	}
}

// TestPolicyErrorExhaustsRetries keeps failing: the job runs once per
// configured attempt and then the chain ends.
func TestPolicyErrorExhaustsRetries(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	policy := policyFunc(func(context.Context, types.Job, types.MarketView) (types.Decision, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return types.Decision{}, errors.New("model unavailable")
	})
	s, store, trader, _ := newTestScheduler(policy, true)
	stop := startScheduler(t, s)
	defer stop()

	if err := s.Schedule(context.Background(), "agent-1", "mkt-1", 0); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitFor(t, "retries exhausted", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 3
	})
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	if calls != 3 {
		t.Errorf("expected exactly 3 evaluation runs, got %d", calls)
	}
	mu.Unlock()
	if trader.count() != 0 {
		t.Errorf("expected no orders after policy errors, got %d", trader.count())
	}
	if store.size() != 0 {
		t.Errorf("expected no rebooking after exhaustion, got %d entries", store.size())
	}
}

// TestShutdownRebooksInFlightEvaluation cancels the scheduler while a policy
// call is blocked and expects the schedule back in the queue untouched.
func TestShutdownRebooksInFlightEvaluation(t *testing.T) {
	started := make(chan struct{})
	policy := policyFunc(func(ctx context.Context, _ types.Job, _ types.MarketView) (types.Decision, error) {
		close(started)
		<-ctx.Done()
		return types.Decision{}, ctx.Err()
	})
	s, store, trader, _ := newTestScheduler(policy, true)
	stop := startScheduler(t, s)

	if err := s.Schedule(context.Background(), "agent-1", "mkt-1", 0); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("evaluation never started")
	}
	stop()

	if !store.has(scheduleKey("agent-1", "mkt-1")) {
		t.Error("expected interrupted evaluation rebooked for restart")
	}
	if trader.count() != 0 {
		t.Errorf("expected no orders, got %d", trader.count())
	}
}

func TestInvalidDecisionDropped(t *testing.T) {
	policy := policyFunc(func(context.Context, types.Job, types.MarketView) (types.Decision, error) {
		// Missing quantity; follow-up must not book either.
		return types.Decision{Action: types.ActionBuy, OutcomeIndex: 0, NextFollowUpInMs: 3_600_000}, nil
	})
	s, store, trader, _ := newTestScheduler(policy, true)
	stop := startScheduler(t, s)
	defer stop()

	if err := s.Schedule(context.Background(), "agent-1", "mkt-1", 0); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitFor(t, "job consumed", func() bool { return store.size() == 0 })
	time.Sleep(50 * time.Millisecond)
	if trader.count() != 0 || store.size() != 0 {
		t.Errorf("invalid decision must be dropped: orders=%d entries=%d", trader.count(), store.size())
	}
}

func TestMalformedJobDropped(t *testing.T) {
	s, store, trader, _ := newTestScheduler(nil, true)
	if err := store.Schedule(context.Background(), "junk", []byte("{"), time.Now()); err != nil {
		t.Fatalf("seed junk: %v", err)
	}
	stop := startScheduler(t, s)
	defer stop()

	waitFor(t, "junk consumed", func() bool { return store.size() == 0 })
	time.Sleep(50 * time.Millisecond)
	if trader.count() != 0 {
		t.Errorf("expected no orders from junk payload, got %d", trader.count())
	}
}

// TestWorkerPoolBounded floods the queue and expects concurrent evaluations
// to stay within the configured cap.
func TestWorkerPoolBounded(t *testing.T) {
	var (
		mu       sync.Mutex
		inflight int
		maxSeen  int
		ran      int
	)
	gate := make(chan struct{})
	policy := policyFunc(func(ctx context.Context, _ types.Job, _ types.MarketView) (types.Decision, error) {
		mu.Lock()
		inflight++
		if inflight > maxSeen {
			maxSeen = inflight
		}
		mu.Unlock()

		select {
		case <-gate:
		case <-ctx.Done():
		}

		mu.Lock()
		inflight--
		ran++
		mu.Unlock()
		return types.Decision{Action: types.ActionSkip}, nil
	})
	s, store, _, _ := newTestScheduler(policy, true)
	stop := startScheduler(t, s)
	defer stop()

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		if err := s.ScheduleOnce(ctx, "agent-1", "mkt-1", 0); err != nil {
			t.Fatalf("schedule once %d: %v", i, err)
		}
	}

	waitFor(t, "pool saturated", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return inflight == 2
	})
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	if inflight != 2 {
		t.Errorf("expected 2 in-flight evaluations, got %d", inflight)
	}
	mu.Unlock()

	close(gate)
	waitFor(t, "all jobs ran", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ran == 6 && store.size() == 0
	})
	mu.Lock()
	if maxSeen > 2 {
		t.Errorf("worker cap exceeded: saw %d concurrent evaluations", maxSeen)
	}
	mu.Unlock()
}

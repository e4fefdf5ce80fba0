package keeper

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"cosmossdk.io/log"

	"github.com/openpredict/predex/pkg/num"
	"github.com/openpredict/predex/x/exchange/types"
	markettypes "github.com/openpredict/predex/x/market/types"
	obkeeper "github.com/openpredict/predex/x/orderbook/keeper"
	obtypes "github.com/openpredict/predex/x/orderbook/types"
	settlementtypes "github.com/openpredict/predex/x/settlement/types"
)

type fakeMarkets struct {
	markets map[string]*markettypes.Market
}

func (f *fakeMarkets) GetMarket(_ context.Context, id string) (*markettypes.Market, error) {
	m, ok := f.markets[id]
	if !ok {
		return nil, markettypes.ErrMarketNotFound.Wrapf("market %s", id)
	}
	return m, nil
}

type fakeQueue struct {
	mu       sync.Mutex
	payloads [][]byte
	attempts int
	failures int // first N attempts fail
}

func (f *fakeQueue) Enqueue(_ context.Context, payload []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.failures {
		return "", errors.New("broker down")
	}
	f.payloads = append(f.payloads, payload)
	return "1-1", nil
}

func (f *fakeQueue) jobs(t *testing.T) []settlementtypes.Job {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]settlementtypes.Job, 0, len(f.payloads))
	for _, p := range f.payloads {
		job, err := settlementtypes.UnmarshalJob(p)
		if err != nil {
			t.Fatalf("unmarshal queued job: %v", err)
		}
		out = append(out, job)
	}
	return out
}

type published struct {
	topic string
	ev    types.Event
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
}

func (f *fakePublisher) Publish(_ context.Context, topic string, ev types.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, published{topic: topic, ev: ev})
}

func (f *fakePublisher) byType(typ string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, p := range f.events {
		if p.ev.Type == typ {
			out = append(out, p)
		}
	}
	return out
}

type fakeDeadLetters struct {
	mu      sync.Mutex
	queues  []string
	reasons []string
}

func (f *fakeDeadLetters) InsertDeadLetter(_ context.Context, queue string, _ []byte, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues = append(f.queues, queue)
	f.reasons = append(f.reasons, reason)
	return nil
}

type testExchange struct {
	keeper  *Keeper
	queue   *fakeQueue
	pub     *fakePublisher
	dead    *fakeDeadLetters
	markets *fakeMarkets
}

func openMarket(id string) *markettypes.Market {
	m := markettypes.NewMarket(id, "Test market", "creator-1", []string{"YES", "NO"}, num.NewDec(100))
	m.Status = markettypes.MarketStatusOpen
	return m
}

func newTestExchange(t *testing.T) *testExchange {
	t.Helper()
	registry, err := obkeeper.NewRegistry(obkeeper.BackendSkipList)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	engine := obkeeper.NewEngine(registry, log.NewNopLogger())

	draft := markettypes.NewMarket("mkt-draft", "Draft market", "creator-1", []string{"YES", "NO"}, num.NewDec(100))
	markets := &fakeMarkets{markets: map[string]*markettypes.Market{
		"mkt-1":     openMarket("mkt-1"),
		"mkt-draft": draft,
	}}

	queue := &fakeQueue{}
	pub := &fakePublisher{}
	dead := &fakeDeadLetters{}
	retry := RetryConfig{Attempts: 3, BaseDelay: time.Millisecond, Timeout: time.Second}

	return &testExchange{
		keeper:  NewKeeper(engine, markets, queue, pub, dead, retry, log.NewNopLogger()),
		queue:   queue,
		pub:     pub,
		dead:    dead,
		markets: markets,
	}
}

func limitInput(id string, side obtypes.Side, price, qty string) types.OrderInput {
	return types.OrderInput{
		ID:       id,
		MarketID: "mkt-1",
		Side:     side,
		Type:     obtypes.OrderTypeLimit,
		Price:    num.MustNewDecFromStr(price),
		Quantity: num.MustNewDecFromStr(qty),
		UserID:   "user-" + id,
	}
}

func TestSubmitMatchesAndPublishes(t *testing.T) {
	ex := newTestExchange(t)

	ask, err := ex.keeper.Submit(context.Background(), limitInput("A", obtypes.SideAsk, "0.60", "10"))
	if err != nil {
		t.Fatalf("submit ask: %v", err)
	}
	if ask.Order.Status != obtypes.OrderStatusLive {
		t.Errorf("ask status = %v, want LIVE", ask.Order.Status)
	}

	bid, err := ex.keeper.Submit(context.Background(), limitInput("B", obtypes.SideBid, "0.60", "10"))
	if err != nil {
		t.Fatalf("submit bid: %v", err)
	}
	if bid.Order.Status != obtypes.OrderStatusFilled {
		t.Errorf("bid status = %v, want FILLED", bid.Order.Status)
	}
	if len(bid.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(bid.Trades))
	}

	ex.keeper.Close() // drains async enqueues

	jobs := ex.queue.jobs(t)
	if len(jobs) != 2 {
		t.Fatalf("queued jobs = %d, want 2", len(jobs))
	}
	if jobs[0].Order.ID != "A" || len(jobs[0].Trades) != 0 {
		t.Errorf("job 0 = order %s with %d trades, want resting A with 0", jobs[0].Order.ID, len(jobs[0].Trades))
	}
	if jobs[1].Order.ID != "B" || len(jobs[1].Trades) != 1 {
		t.Errorf("job 1 = order %s with %d trades, want B with 1", jobs[1].Order.ID, len(jobs[1].Trades))
	}

	if got := len(ex.pub.byType(types.EventOrderBookUpdate)); got != 2 {
		t.Errorf("ORDER_BOOK_UPDATE events = %d, want 2", got)
	}
	trades := ex.pub.byType(types.EventTradeExecuted)
	if len(trades) != 1 {
		t.Fatalf("TRADE_EXECUTED events = %d, want 1", len(trades))
	}
	if trades[0].topic != "market:mkt-1" {
		t.Errorf("trade topic = %q, want market:mkt-1", trades[0].topic)
	}
	feed := ex.pub.byType(types.EventPriceUpdate)
	if len(feed) != 1 {
		t.Fatalf("PRICE_UPDATE events = %d, want 1", len(feed))
	}
	if feed[0].topic != types.TopicPriceFeed {
		t.Errorf("price update topic = %q, want %q", feed[0].topic, types.TopicPriceFeed)
	}
	var update types.PriceUpdate
	if err := json.Unmarshal(feed[0].ev.Payload, &update); err != nil {
		t.Fatalf("decode price update: %v", err)
	}
	if update.Price.String() != "0.6" {
		t.Errorf("price update price = %s, want 0.6", update.Price)
	}
}

func TestSubmitRejectedSkipsPersistenceAndEvents(t *testing.T) {
	ex := newTestExchange(t)

	res, err := ex.keeper.Submit(context.Background(), limitInput("A", obtypes.SideBid, "0.60", "0"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Order.Status != obtypes.OrderStatusRejected {
		t.Fatalf("status = %v, want REJECTED", res.Order.Status)
	}
	if res.RejectReason != obtypes.RejectQuantityNotPositive {
		t.Errorf("reason = %q, want %q", res.RejectReason, obtypes.RejectQuantityNotPositive)
	}

	ex.keeper.Close()
	if n := len(ex.queue.jobs(t)); n != 0 {
		t.Errorf("queued jobs = %d, want 0 for a rejected order", n)
	}
	if n := len(ex.pub.events); n != 0 {
		t.Errorf("published events = %d, want 0 for a rejected order", n)
	}
}

func TestSubmitAdmissionErrors(t *testing.T) {
	ex := newTestExchange(t)
	defer ex.keeper.Close()

	cases := []struct {
		name string
		in   types.OrderInput
		want types.Kind
	}{
		{
			name: "unknown market",
			in: types.OrderInput{
				MarketID: "mkt-missing", Side: obtypes.SideBid,
				Type: obtypes.OrderTypeLimit,
				Price: num.NewDec(1), Quantity: num.NewDec(1),
			},
			want: types.KindNotFound,
		},
		{
			name: "draft market",
			in: types.OrderInput{
				MarketID: "mkt-draft", Side: obtypes.SideBid,
				Type: obtypes.OrderTypeLimit,
				Price: num.NewDec(1), Quantity: num.NewDec(1),
			},
			want: types.KindValidation,
		},
		{
			name: "outcome out of range",
			in: types.OrderInput{
				MarketID: "mkt-1", OutcomeIndex: 2, Side: obtypes.SideBid,
				Type: obtypes.OrderTypeLimit,
				Price: num.NewDec(1), Quantity: num.NewDec(1),
			},
			want: types.KindValidation,
		},
		{
			name: "missing market id",
			in: types.OrderInput{
				Side: obtypes.SideBid, Type: obtypes.OrderTypeLimit,
				Price: num.NewDec(1), Quantity: num.NewDec(1),
			},
			want: types.KindValidation,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ex.keeper.Submit(context.Background(), tc.in)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := types.KindOf(err); got != tc.want {
				t.Errorf("kind = %s, want %s (err %v)", got, tc.want, err)
			}
		})
	}
}

func TestCancelPersistsAndPublishes(t *testing.T) {
	ex := newTestExchange(t)

	if _, err := ex.keeper.Submit(context.Background(), limitInput("A", obtypes.SideAsk, "0.70", "4")); err != nil {
		t.Fatalf("submit: %v", err)
	}

	res, err := ex.keeper.Cancel(context.Background(), "mkt-1", 0, "A", "user-A", "")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Order.Status != obtypes.OrderStatusCancelled {
		t.Errorf("status = %v, want CANCELLED", res.Order.Status)
	}
	if len(res.Snapshot.Asks) != 0 {
		t.Errorf("asks after cancel = %d levels, want 0", len(res.Snapshot.Asks))
	}

	ex.keeper.Close()
	jobs := ex.queue.jobs(t)
	if len(jobs) != 2 {
		t.Fatalf("queued jobs = %d, want 2 (submit + cancel)", len(jobs))
	}
	last := jobs[1]
	if last.Order.Status != obtypes.OrderStatusCancelled || len(last.Trades) != 0 {
		t.Errorf("cancel job = status %v with %d trades, want CANCELLED with 0", last.Order.Status, len(last.Trades))
	}
}

func TestCancelWrongOwner(t *testing.T) {
	ex := newTestExchange(t)
	defer ex.keeper.Close()

	if _, err := ex.keeper.Submit(context.Background(), limitInput("A", obtypes.SideAsk, "0.70", "4")); err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err := ex.keeper.Cancel(context.Background(), "mkt-1", 0, "A", "someone-else", "")
	if !errors.Is(err, obtypes.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if got := types.KindOf(err); got != types.KindValidation {
		t.Errorf("kind = %s, want VALIDATION", got)
	}
}

func TestSubmitCancelledWhileQueued(t *testing.T) {
	ex := newTestExchange(t)

	// Hold the lane so the submission below stays queued.
	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ex.keeper.serializer.Run(context.Background(), LaneKey("mkt-1", 0), func() {
			close(started)
			<-release
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := ex.keeper.Submit(ctx, limitInput("A", obtypes.SideBid, "0.60", "10"))
		errCh <- err
	}()
	waitPending(t, ex.keeper.serializer, LaneKey("mkt-1", 0), 1)

	cancel()
	err := <-errCh
	if !errors.Is(err, types.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if got := types.KindOf(err); got != types.KindCancelled {
		t.Errorf("kind = %s, want CANCELLED", got)
	}

	close(release)
	wg.Wait()
	ex.keeper.Close()

	if n := len(ex.queue.jobs(t)); n != 0 {
		t.Errorf("queued jobs = %d, want 0 for a cancelled submission", n)
	}
	snap := ex.keeper.Snapshot("mkt-1", 0)
	if len(snap.Bids) != 0 || len(snap.Asks) != 0 {
		t.Errorf("book not empty after cancelled submission: %d bids, %d asks", len(snap.Bids), len(snap.Asks))
	}
}

func TestEnqueueRetriesThenSucceeds(t *testing.T) {
	ex := newTestExchange(t)
	ex.queue.failures = 2 // first two attempts fail

	if _, err := ex.keeper.Submit(context.Background(), limitInput("A", obtypes.SideAsk, "0.70", "4")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	ex.keeper.Close()

	if ex.queue.attempts != 3 {
		t.Errorf("enqueue attempts = %d, want 3", ex.queue.attempts)
	}
	if n := len(ex.queue.jobs(t)); n != 1 {
		t.Errorf("queued jobs = %d, want 1", n)
	}
	if n := len(ex.dead.queues); n != 0 {
		t.Errorf("dead letters = %d, want 0", n)
	}
}

func TestEnqueueExhaustionDeadLetters(t *testing.T) {
	ex := newTestExchange(t)
	ex.queue.failures = 100 // never succeeds within the 3-attempt budget

	if _, err := ex.keeper.Submit(context.Background(), limitInput("A", obtypes.SideAsk, "0.70", "4")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	ex.keeper.Close()

	if ex.queue.attempts != 3 {
		t.Errorf("enqueue attempts = %d, want 3", ex.queue.attempts)
	}
	if len(ex.dead.queues) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(ex.dead.queues))
	}
	if ex.dead.queues[0] != settlementtypes.StreamJobs {
		t.Errorf("dead letter queue = %q, want %q", ex.dead.queues[0], settlementtypes.StreamJobs)
	}
}

func TestSnapshotColdStartIsEmpty(t *testing.T) {
	ex := newTestExchange(t)
	defer ex.keeper.Close()

	snap := ex.keeper.Snapshot("mkt-1", 1)
	if snap.MarketID != "mkt-1" || snap.OutcomeIndex != 1 {
		t.Errorf("snapshot identity = %s/%d, want mkt-1/1", snap.MarketID, snap.OutcomeIndex)
	}
	if len(snap.Bids) != 0 || len(snap.Asks) != 0 {
		t.Errorf("cold book not empty: %d bids, %d asks", len(snap.Bids), len(snap.Asks))
	}
}

func TestSubmitAfterCloseRejected(t *testing.T) {
	ex := newTestExchange(t)
	ex.keeper.Close()

	_, err := ex.keeper.Submit(context.Background(), limitInput("A", obtypes.SideBid, "0.60", "10"))
	if !errors.Is(err, types.ErrShuttingDown) {
		t.Errorf("err = %v, want ErrShuttingDown", err)
	}
}

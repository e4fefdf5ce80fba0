package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"cosmossdk.io/log"
	"github.com/redis/go-redis/v9"
)

// testBroker connects to a local Redis or skips the test. Integration
// coverage here runs only where a broker is available; the pure helpers
// below are always exercised.
func testBroker(t *testing.T) *Broker {
	t.Helper()
	b, err := New("redis://127.0.0.1:6379/9", log.NewNopLogger())
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestIsBusyGroup(t *testing.T) {
	if !isBusyGroup(errors.New("BUSYGROUP Consumer Group name already exists")) {
		t.Error("isBusyGroup = false for BUSYGROUP error, want true")
	}
	if isBusyGroup(errors.New("NOGROUP No such consumer group")) {
		t.Error("isBusyGroup = true for NOGROUP error, want false")
	}
	if isBusyGroup(nil) {
		t.Error("isBusyGroup = true for nil, want false")
	}
}

func TestQueueConfigDefaults(t *testing.T) {
	q := NewStreamQueue(&Broker{}, QueueConfig{Stream: "jobs", Group: "g", Consumer: "c"}, log.NewNopLogger())

	if q.cfg.Batch != 64 {
		t.Errorf("Batch = %d, want 64", q.cfg.Batch)
	}
	if q.cfg.Block != time.Second {
		t.Errorf("Block = %v, want 1s", q.cfg.Block)
	}
	if q.cfg.MinIdle != 30*time.Second {
		t.Errorf("MinIdle = %v, want 30s", q.cfg.MinIdle)
	}
	if q.cfg.MaxDeliveries != 5 {
		t.Errorf("MaxDeliveries = %d, want 5", q.cfg.MaxDeliveries)
	}
	if q.cfg.DeadStream != "jobs:dead" {
		t.Errorf("DeadStream = %q, want %q", q.cfg.DeadStream, "jobs:dead")
	}
}

func TestPayloadOf(t *testing.T) {
	msg := redis.XMessage{Values: map[string]interface{}{fieldPayload: "abc"}}
	if got := payloadOf(msg); string(got) != "abc" {
		t.Errorf("payloadOf = %q, want %q", got, "abc")
	}
	if got := payloadOf(redis.XMessage{Values: map[string]interface{}{}}); got != nil {
		t.Errorf("payloadOf with missing field = %q, want nil", got)
	}
}

func TestPubSubRoundTrip(t *testing.T) {
	b := testBroker(t)
	ctx := context.Background()
	channel := fmt.Sprintf("predex:test:chan:%d", time.Now().UnixNano())

	sub := b.Subscribe(ctx, channel)
	defer sub.Close()

	// Publish on a ticker until delivery: the SUBSCRIBE may still be in
	// flight when the first publish lands.
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case msg := <-sub.Messages():
			if msg.Channel != channel {
				t.Errorf("channel = %q, want %q", msg.Channel, channel)
			}
			if string(msg.Payload) != "hello" {
				t.Errorf("payload = %q, want %q", msg.Payload, "hello")
			}
			return
		case <-tick.C:
			if err := b.Publish(ctx, channel, []byte("hello")); err != nil {
				t.Fatalf("publish: %v", err)
			}
		case <-deadline:
			t.Fatal("timed out waiting for delivery")
		}
	}
}

func TestStreamQueueDeliversInOrder(t *testing.T) {
	b := testBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewStreamQueue(b, QueueConfig{
		Stream:   fmt.Sprintf("predex:test:jobs:%d", time.Now().UnixNano()),
		Group:    "workers",
		Consumer: "w1",
		Block:    50 * time.Millisecond,
	}, log.NewNopLogger())
	t.Cleanup(func() {
		b.Client().Del(context.Background(), q.cfg.Stream, q.cfg.DeadStream)
	})

	got := make(chan string, 2)
	go q.Consume(ctx, func(_ context.Context, _ string, payload []byte) error {
		got <- string(payload)
		return nil
	})

	if _, err := q.Enqueue(ctx, []byte("first")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Enqueue(ctx, []byte("second")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	for _, want := range []string{"first", "second"} {
		select {
		case p := <-got:
			if p != want {
				t.Errorf("payload = %q, want %q", p, want)
			}
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for job")
		}
	}

	waitFor(t, "pending entries to be acknowledged", func() bool {
		p, err := b.Client().XPending(context.Background(), q.cfg.Stream, "workers").Result()
		return err == nil && p.Count == 0
	})
}

func TestStreamQueueDeadLetters(t *testing.T) {
	b := testBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewStreamQueue(b, QueueConfig{
		Stream:        fmt.Sprintf("predex:test:poison:%d", time.Now().UnixNano()),
		Group:         "workers",
		Consumer:      "w1",
		Block:         50 * time.Millisecond,
		MinIdle:       100 * time.Millisecond,
		MaxDeliveries: 1,
	}, log.NewNopLogger())
	t.Cleanup(func() {
		b.Client().Del(context.Background(), q.cfg.Stream, q.cfg.DeadStream)
	})

	dead := make(chan string, 1)
	q.OnDeadLetter(func(_ context.Context, _ string, payload []byte, _ string) {
		dead <- string(payload)
	})

	go q.Consume(ctx, func(context.Context, string, []byte) error {
		return errors.New("store down")
	})

	if _, err := q.Enqueue(ctx, []byte("poison")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case p := <-dead:
		if p != "poison" {
			t.Errorf("dead payload = %q, want %q", p, "poison")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for dead letter")
	}

	n, err := b.Client().XLen(context.Background(), q.cfg.DeadStream).Result()
	if err != nil {
		t.Fatalf("xlen dead stream: %v", err)
	}
	if n != 1 {
		t.Errorf("dead stream len = %d, want 1", n)
	}
}

func TestDelayedQueueReplaceAndPop(t *testing.T) {
	b := testBroker(t)
	ctx := context.Background()

	d := NewDelayedQueue(b, fmt.Sprintf("predex:test:delayed:%d", time.Now().UnixNano()))
	t.Cleanup(func() {
		b.Client().Del(context.Background(), d.setKey, d.hashKey)
	})

	now := time.Now()
	if err := d.Schedule(ctx, "agent-1-mkt-1", []byte("v1"), now.Add(time.Hour)); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	jobs, err := d.PopDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("pop due: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("due jobs before run time = %d, want 0", len(jobs))
	}

	// Same key again: run time and payload are replaced, nothing duplicated.
	if err := d.Schedule(ctx, "agent-1-mkt-1", []byte("v2"), now.Add(-time.Second)); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if n, err := d.Len(ctx); err != nil || n != 1 {
		t.Fatalf("len = %d (err %v), want 1", n, err)
	}

	jobs, err = d.PopDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("pop due: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("due jobs = %d, want 1", len(jobs))
	}
	if jobs[0].Key != "agent-1-mkt-1" {
		t.Errorf("key = %q, want %q", jobs[0].Key, "agent-1-mkt-1")
	}
	if string(jobs[0].Payload) != "v2" {
		t.Errorf("payload = %q, want %q", jobs[0].Payload, "v2")
	}

	if n, err := d.Len(ctx); err != nil || n != 0 {
		t.Errorf("len after pop = %d (err %v), want 0", n, err)
	}
}

func TestDelayedQueueCancel(t *testing.T) {
	b := testBroker(t)
	ctx := context.Background()

	d := NewDelayedQueue(b, fmt.Sprintf("predex:test:cancel:%d", time.Now().UnixNano()))
	t.Cleanup(func() {
		b.Client().Del(context.Background(), d.setKey, d.hashKey)
	})

	if err := d.Schedule(ctx, "agent-2-mkt-9", []byte("x"), time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := d.Cancel(ctx, "agent-2-mkt-9"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	jobs, err := d.PopDue(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("pop due: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("jobs after cancel = %d, want 0", len(jobs))
	}
}

package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/log"
	"github.com/redis/go-redis/v9"
)

const fieldPayload = "payload"

// Handler processes one queued job. Returning an error leaves the entry
// pending so the reclaim pass redelivers it later.
type Handler func(ctx context.Context, id string, payload []byte) error

// DeadLetterFunc is invoked when an entry exhausts its delivery budget,
// after it has been copied to the dead-letter stream.
type DeadLetterFunc func(ctx context.Context, id string, payload []byte, reason string)

// QueueConfig names the stream and tunes the consumer loop. Zero values fall
// back to the defaults in NewStreamQueue.
type QueueConfig struct {
	Stream        string
	Group         string
	Consumer      string
	Batch         int64         // max entries per read
	Block         time.Duration // XREADGROUP block interval
	MinIdle       time.Duration // pending age before another consumer may claim
	MaxDeliveries int64         // delivery attempts before dead-lettering
	DeadStream    string        // defaults to Stream + ":dead"
}

// StreamQueue is an at-least-once job queue on a Redis stream with one
// consumer group. Unacknowledged entries are reclaimed after MinIdle and
// dead-lettered once MaxDeliveries is exhausted.
type StreamQueue struct {
	client *redis.Client
	cfg    QueueConfig
	logger log.Logger
	onDead DeadLetterFunc
}

func NewStreamQueue(b *Broker, cfg QueueConfig, logger log.Logger) *StreamQueue {
	if cfg.Batch <= 0 {
		cfg.Batch = 64
	}
	if cfg.Block <= 0 {
		cfg.Block = time.Second
	}
	if cfg.MinIdle <= 0 {
		cfg.MinIdle = 30 * time.Second
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	if cfg.DeadStream == "" {
		cfg.DeadStream = cfg.Stream + ":dead"
	}
	return &StreamQueue{
		client: b.Client(),
		cfg:    cfg,
		logger: logger.With("module", "broker", "stream", cfg.Stream),
	}
}

// OnDeadLetter registers a hook called for every dead-lettered entry. Must be
// set before Consume starts.
func (q *StreamQueue) OnDeadLetter(fn DeadLetterFunc) { q.onDead = fn }

// Enqueue appends a job and returns its stream id.
func (q *StreamQueue) Enqueue(ctx context.Context, payload []byte) (string, error) {
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]interface{}{fieldPayload: payload},
	}).Result()
	if err != nil {
		return "", errorsmod.Wrapf(ErrUnavailable, "xadd %s: %v", q.cfg.Stream, err)
	}
	return id, nil
}

// EnsureGroup creates the consumer group from the start of the stream,
// creating the stream itself if needed. An existing group is not an error.
func (q *StreamQueue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return errorsmod.Wrapf(ErrUnavailable, "create group %s: %v", q.cfg.Group, err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

// Consume reads jobs until ctx is cancelled. Successful jobs are
// acknowledged; failed ones stay pending and are retried by the periodic
// reclaim pass, which also claims entries abandoned by dead consumers.
func (q *StreamQueue) Consume(ctx context.Context, handler Handler) error {
	if err := q.EnsureGroup(ctx); err != nil {
		return err
	}

	reclaim := time.NewTicker(q.cfg.MinIdle)
	defer reclaim.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reclaim.C:
			if err := q.reclaimStale(ctx, handler); err != nil && ctx.Err() == nil {
				q.logger.Error("reclaim pending entries", "err", err)
			}
			continue
		default:
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			Streams:  []string{q.cfg.Stream, ">"},
			Count:    q.cfg.Batch,
			Block:    q.cfg.Block,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.logger.Error("read stream", "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(q.cfg.Block):
			}
			continue
		}

		for _, st := range streams {
			for _, msg := range st.Messages {
				q.dispatch(ctx, msg, handler)
			}
		}
	}
}

func (q *StreamQueue) dispatch(ctx context.Context, msg redis.XMessage, handler Handler) {
	if err := handler(ctx, msg.ID, payloadOf(msg)); err != nil {
		q.logger.Error("job failed, left pending", "id", msg.ID, "err", err)
		return
	}
	if err := q.client.XAck(ctx, q.cfg.Stream, q.cfg.Group, msg.ID).Err(); err != nil {
		q.logger.Error("ack job", "id", msg.ID, "err", err)
	}
}

// reclaimStale claims pending entries older than MinIdle for this consumer
// and re-runs them. Entries whose delivery count already reached the budget
// are moved to the dead-letter stream instead.
func (q *StreamQueue) reclaimStale(ctx context.Context, handler Handler) error {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.cfg.Stream,
		Group:  q.cfg.Group,
		Start:  "-",
		End:    "+",
		Count:  q.cfg.Batch,
	}).Result()
	if err != nil {
		return err
	}

	var retry, bury []string
	deliveries := make(map[string]int64, len(pending))
	for _, p := range pending {
		if p.Idle < q.cfg.MinIdle {
			continue
		}
		deliveries[p.ID] = p.RetryCount
		if p.RetryCount >= q.cfg.MaxDeliveries {
			bury = append(bury, p.ID)
		} else {
			retry = append(retry, p.ID)
		}
	}

	if len(bury) > 0 {
		claimed, err := q.claim(ctx, bury)
		if err != nil {
			return err
		}
		for _, msg := range claimed {
			q.deadLetter(ctx, msg, deliveries[msg.ID])
		}
	}

	if len(retry) == 0 {
		return nil
	}
	claimed, err := q.claim(ctx, retry)
	if err != nil {
		return err
	}
	for _, msg := range claimed {
		q.dispatch(ctx, msg, handler)
	}
	return nil
}

func (q *StreamQueue) claim(ctx context.Context, ids []string) ([]redis.XMessage, error) {
	return q.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   q.cfg.Stream,
		Group:    q.cfg.Group,
		Consumer: q.cfg.Consumer,
		MinIdle:  q.cfg.MinIdle,
		Messages: ids,
	}).Result()
}

func (q *StreamQueue) deadLetter(ctx context.Context, msg redis.XMessage, deliveries int64) {
	payload := payloadOf(msg)
	reason := fmt.Sprintf("delivery budget exhausted after %d attempts", deliveries)

	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.DeadStream,
		Values: map[string]interface{}{
			fieldPayload: payload,
			"origin":     q.cfg.Stream,
			"source_id":  msg.ID,
			"deliveries": deliveries,
		},
	}).Err()
	if err != nil {
		q.logger.Error("append dead letter", "id", msg.ID, "err", err)
		return // keep the entry pending rather than lose it
	}

	if q.onDead != nil {
		q.onDead(ctx, msg.ID, payload, reason)
	}
	if err := q.client.XAck(ctx, q.cfg.Stream, q.cfg.Group, msg.ID).Err(); err != nil {
		q.logger.Error("ack dead-lettered job", "id", msg.ID, "err", err)
	}
	q.logger.Error("job dead-lettered", "id", msg.ID, "deliveries", deliveries)
}

func payloadOf(msg redis.XMessage) []byte {
	if v, ok := msg.Values[fieldPayload]; ok {
		if s, ok := v.(string); ok {
			return []byte(s)
		}
	}
	return nil
}

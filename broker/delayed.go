package broker

import (
	"context"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/redis/go-redis/v9"
)

// DelayedJob is a due entry popped from a DelayedQueue.
type DelayedJob struct {
	Key     string
	Payload []byte
}

// DelayedQueue holds jobs until their run time in a sorted set scored by
// unix milliseconds, with payloads in a sibling hash. Scheduling an existing
// key replaces both its payload and its run time.
type DelayedQueue struct {
	client  *redis.Client
	setKey  string
	hashKey string
}

func NewDelayedQueue(b *Broker, name string) *DelayedQueue {
	return &DelayedQueue{
		client:  b.Client(),
		setKey:  name + ":due",
		hashKey: name + ":payload",
	}
}

// Schedule stores the job under key to run at runAt. An existing schedule
// for the same key is overwritten.
func (d *DelayedQueue) Schedule(ctx context.Context, key string, payload []byte, runAt time.Time) error {
	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, d.setKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: key})
		pipe.HSet(ctx, d.hashKey, key, payload)
		return nil
	})
	if err != nil {
		return errorsmod.Wrapf(ErrUnavailable, "schedule %s: %v", key, err)
	}
	return nil
}

// Cancel drops a pending schedule. Cancelling an unknown key is a no-op.
func (d *DelayedQueue) Cancel(ctx context.Context, key string) error {
	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, d.setKey, key)
		pipe.HDel(ctx, d.hashKey, key)
		return nil
	})
	if err != nil {
		return errorsmod.Wrapf(ErrUnavailable, "cancel %s: %v", key, err)
	}
	return nil
}

// popDueScript atomically removes and returns up to ARGV[2] members due at
// or before ARGV[1], paired with their payloads. Atomicity keeps a job on
// exactly one worker when several poll the same queue.
var popDueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local out = {}
for _, member in ipairs(due) do
	out[#out+1] = member
	out[#out+1] = redis.call('HGET', KEYS[2], member) or ''
	redis.call('ZREM', KEYS[1], member)
	redis.call('HDEL', KEYS[2], member)
end
return out
`)

// PopDue removes and returns up to limit jobs due at or before now.
func (d *DelayedQueue) PopDue(ctx context.Context, now time.Time, limit int) ([]DelayedJob, error) {
	res, err := popDueScript.Run(ctx, d.client,
		[]string{d.setKey, d.hashKey}, now.UnixMilli(), limit).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, errorsmod.Wrapf(ErrUnavailable, "pop due: %v", err)
	}

	raw, ok := res.([]interface{})
	if !ok || len(raw) == 0 {
		return nil, nil
	}
	jobs := make([]DelayedJob, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		key, _ := raw[i].(string)
		payload, _ := raw[i+1].(string)
		jobs = append(jobs, DelayedJob{Key: key, Payload: []byte(payload)})
	}
	return jobs, nil
}

// Len reports the number of pending schedules.
func (d *DelayedQueue) Len(ctx context.Context) (int64, error) {
	n, err := d.client.ZCard(ctx, d.setKey).Result()
	if err != nil {
		return 0, errorsmod.Wrapf(ErrUnavailable, "len: %v", err)
	}
	return n, nil
}

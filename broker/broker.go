// Package broker wraps the shared Redis client behind the three transport
// primitives the exchange needs: pub/sub channels for cross-instance socket
// fan-out, consumer-group streams for durable job queues, and a sorted-set
// delayed queue for agent schedules.
package broker

import (
	"context"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/log"
	"github.com/redis/go-redis/v9"
)

const dialTimeout = 5 * time.Second

// Broker owns a single Redis connection pool for the process. Queues and
// subscriptions created from it share the pool.
type Broker struct {
	client *redis.Client
	logger log.Logger
}

// New connects to the broker at url (redis://host:port/db) and verifies the
// connection with a ping before returning.
func New(url string, logger log.Logger) (*Broker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errorsmod.Wrapf(ErrUnavailable, "parse url: %v", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errorsmod.Wrapf(ErrUnavailable, "ping %s: %v", opts.Addr, err)
	}

	logger = logger.With("module", "broker")
	logger.Info("broker connected", "addr", opts.Addr, "db", opts.DB)

	return &Broker{client: client, logger: logger}, nil
}

// Client exposes the underlying connection for queue constructors and tests.
func (b *Broker) Client() *redis.Client { return b.client }

func (b *Broker) Close() error { return b.client.Close() }

package types

import (
	"context"

	markettypes "github.com/openpredict/predex/x/market/types"
)

// Publisher fans an event out to local subscribers first and then to the
// cross-instance broker channel. Delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, topic string, ev Event)
}

// Enqueuer appends a settlement job to the durable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload []byte) (string, error)
}

// MarketSource resolves markets for admission checks.
type MarketSource interface {
	GetMarket(ctx context.Context, id string) (*markettypes.Market, error)
}

// DeadLetterSink records jobs that could not even be enqueued, so outages
// of the broker remain inspectable after the fact.
type DeadLetterSink interface {
	InsertDeadLetter(ctx context.Context, queue string, payload []byte, reason string) error
}

package broker

import (
	"context"

	errorsmod "cosmossdk.io/errors"
	"github.com/redis/go-redis/v9"
)

// Message is one pub/sub delivery.
type Message struct {
	Channel string
	Payload []byte
}

// Publish sends payload to every subscriber of channel. Fire-and-forget:
// there is no delivery guarantee beyond what Redis pub/sub provides.
func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return errorsmod.Wrapf(ErrUnavailable, "publish %s: %v", channel, err)
	}
	return nil
}

// Subscription forwards pub/sub deliveries until Close is called; Messages
// is closed once the underlying subscription ends.
type Subscription struct {
	ps  *redis.PubSub
	out chan Message
}

// Subscribe opens a subscription on the given channels and starts forwarding
// deliveries. The caller owns the subscription and must Close it.
func (b *Broker) Subscribe(ctx context.Context, channels ...string) *Subscription {
	sub := &Subscription{
		ps:  b.client.Subscribe(ctx, channels...),
		out: make(chan Message, 64),
	}
	go sub.forward()
	return sub
}

func (s *Subscription) forward() {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		s.out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}
	}
}

func (s *Subscription) Messages() <-chan Message { return s.out }

func (s *Subscription) Close() error { return s.ps.Close() }

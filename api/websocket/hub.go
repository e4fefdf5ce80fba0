// Package websocket fans exchange events out to subscribed clients. Each
// client joins topic rooms; publishes go to local rooms synchronously and are
// relayed through the broker broadcast channel so peers behind other
// instances see the same stream.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"cosmossdk.io/log"
	"github.com/google/uuid"

	"github.com/openpredict/predex/broker"
	"github.com/openpredict/predex/metrics"
	exchangetypes "github.com/openpredict/predex/x/exchange/types"
)

// Config tunes the hub. Zero values fall back to defaults.
type Config struct {
	// HeartbeatInterval is the ping cadence. A client that misses two
	// consecutive pongs is considered gone.
	HeartbeatInterval time.Duration

	// SendBuffer is the per-client outbound queue length. A client whose
	// queue is full when an event arrives is dropped as a slow consumer.
	SendBuffer int

	// MaxSubscriptions caps the topic rooms one client may join.
	MaxSubscriptions int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		SendBuffer:        64,
		MaxSubscriptions:  64,
	}
}

var errSubscriptionLimit = errors.New("subscription limit reached")

// relayEnvelope wraps a published event on the broadcast channel. InstanceID
// lets the publishing hub ignore its own echo.
type relayEnvelope struct {
	InstanceID string          `json:"instanceId"`
	Topic      string          `json:"topic"`
	Type       string          `json:"type"`
	Event      json.RawMessage `json:"event"`
}

// Hub tracks connected clients and their topic rooms.
//
// With a nil broker the hub serves a single instance and skips the relay;
// everything else behaves the same.
type Hub struct {
	cfg        Config
	broker     *broker.Broker
	instanceID string
	logger     log.Logger

	// mu guards clients, rooms, closed and every Client.topics map. Sends
	// on a client's queue happen only while mu is held, so a queue is never
	// closed mid-send.
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	closed  bool
}

// NewHub creates a hub. b may be nil for single-instance deployments.
func NewHub(cfg Config, b *broker.Broker, logger log.Logger) *Hub {
	def := DefaultConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.MaxSubscriptions <= 0 {
		cfg.MaxSubscriptions = def.MaxSubscriptions
	}
	return &Hub{
		cfg:        cfg,
		broker:     b,
		instanceID: uuid.NewString(),
		logger:     logger.With("module", "api/websocket"),
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
	}
}

// Run consumes the cross-instance relay until ctx is cancelled, then closes
// every client connection. The read pumps unwind the registrations.
func (h *Hub) Run(ctx context.Context) error {
	if h.broker != nil {
		sub := h.broker.Subscribe(ctx, exchangetypes.TopicBroadcast)
		defer sub.Close()
		go h.consumeRelay(sub)
	}
	<-ctx.Done()
	h.closeAll()
	h.logger.Info("websocket hub stopped")
	return nil
}

// Publish implements the exchange Publisher port. Local rooms are served
// before the relay so co-located subscribers never wait on the broker.
func (h *Hub) Publish(ctx context.Context, topic string, ev exchangetypes.Event) {
	ev.Topic = topic
	data, _ := json.Marshal(ev)
	h.deliverLocal(topic, ev.Type, data)

	if h.broker == nil {
		return
	}
	env, _ := json.Marshal(relayEnvelope{
		InstanceID: h.instanceID,
		Topic:      topic,
		Type:       ev.Type,
		Event:      data,
	})
	if err := h.broker.Publish(ctx, exchangetypes.TopicBroadcast, env); err != nil {
		h.logger.Error("relay publish failed", "topic", topic, "err", err)
	}
}

func (h *Hub) consumeRelay(sub *broker.Subscription) {
	for msg := range sub.Messages() {
		var env relayEnvelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			h.logger.Error("malformed relay envelope", "err", err)
			continue
		}
		if env.InstanceID == h.instanceID {
			continue
		}
		h.deliverLocal(env.Topic, env.Type, env.Event)
	}
}

// deliverLocal enqueues data for every member of the topic room. Members
// whose queue is full are dropped: a reader that cannot keep up with the
// event stream only gets staler the longer it stays connected.
func (h *Hub) deliverLocal(topic, eventType string, data []byte) {
	col := metrics.GetCollector()

	h.mu.RLock()
	var slow []*Client
	for c := range h.rooms[topic] {
		select {
		case c.send <- data:
			col.RecordWSMessage(eventType)
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		col.RecordWSDrop()
		h.logger.Info("dropping slow websocket client", "client", c.id, "topic", topic)
		h.removeClient(c)
		c.conn.Close()
	}
}

// enqueue delivers one event to a single client if it is still registered.
// Used for control acknowledgements and error frames.
func (h *Hub) enqueue(c *Client, ev exchangetypes.Event) {
	data, _ := json.Marshal(ev)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
		metrics.GetCollector().RecordWSMessage(ev.Type)
	default:
		// The fan-out path is already dropping this client.
	}
}

func (h *Hub) addClient(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	metrics.GetCollector().RecordWSConnection(1)
	return true
}

// removeClient deregisters c and closes its send queue. Idempotent: the
// slow-consumer path and the read pump both call it.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	col := metrics.GetCollector()
	for topic := range c.topics {
		h.leaveRoom(c, topic)
		col.RecordWSSubscription(topic, -1)
	}
	close(c.send)
	col.RecordWSConnection(-1)
}

func (h *Hub) subscribe(c *Client, topic string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return nil
	}
	if c.topics[topic] {
		return nil
	}
	if len(c.topics) >= h.cfg.MaxSubscriptions {
		return errSubscriptionLimit
	}
	c.topics[topic] = true
	room := h.rooms[topic]
	if room == nil {
		room = make(map[*Client]struct{})
		h.rooms[topic] = room
	}
	room[c] = struct{}{}
	metrics.GetCollector().RecordWSSubscription(topic, 1)
	return nil
}

func (h *Hub) unsubscribe(c *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !c.topics[topic] {
		return
	}
	delete(c.topics, topic)
	h.leaveRoom(c, topic)
	metrics.GetCollector().RecordWSSubscription(topic, -1)
}

// leaveRoom must be called with mu held.
func (h *Hub) leaveRoom(c *Client, topic string) {
	room := h.rooms[topic]
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, topic)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
}

// Rooms reports the current subscriber count per topic, for diagnostics.
func (h *Hub) Rooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]int, len(h.rooms))
	for topic, room := range h.rooms {
		out[topic] = len(room)
	}
	return out
}

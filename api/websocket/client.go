package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	exchangetypes "github.com/openpredict/predex/x/exchange/types"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum frame size accepted from a peer. Control frames are tiny.
	maxMessageSize = 4096
)

// Control frames accepted from clients.
const (
	frameSubscribe   = "SUBSCRIBE"
	frameUnsubscribe = "UNSUBSCRIBE"
	framePing        = "PING"
	framePong        = "PONG"
)

// Acknowledgement event types sent back on the same socket.
const (
	eventSubscribed   = "SUBSCRIBED"
	eventUnsubscribed = "UNSUBSCRIBED"
	eventPong         = "PONG"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced at the edge proxy.
		return true
	},
}

// clientFrame is the only inbound shape; the room rides in the payload.
// Anything else gets an ERROR event back and the connection stays up.
type clientFrame struct {
	Type    string `json:"type"`
	Payload struct {
		Room string `json:"room"`
	} `json:"payload,omitempty"`
}

// Client is one websocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	id   string

	// send carries marshalled event envelopes to the write pump. Closed by
	// the hub when the client is removed.
	send chan []byte

	// topics is guarded by hub.mu.
	topics map[string]bool
}

// ServeWS upgrades an HTTP request and registers the connection with the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := &Client{
		hub:    h,
		conn:   conn,
		id:     uuid.NewString(),
		send:   make(chan []byte, h.cfg.SendBuffer),
		topics: make(map[string]bool),
	}
	if !h.addClient(c) {
		conn.Close()
		return
	}
	h.logger.Debug("websocket client connected", "client", c.id, "remote", r.RemoteAddr)

	go c.writePump()
	go c.readPump()
}

// readPump consumes control frames until the connection dies, then unwinds
// the registration. Read deadlines ride on the heartbeat: two missed pongs
// and the read fails.
func (c *Client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
		c.hub.logger.Debug("websocket client disconnected", "client", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.refreshReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.refreshReadDeadline()
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.hub.logger.Debug("websocket read failed", "client", c.id, "err", err)
			}
			return
		}
		c.handleFrame(raw)
	}
}

// refreshReadDeadline extends the liveness window. Protocol pongs and
// client-level pings count equally.
func (c *Client) refreshReadDeadline() {
	c.conn.SetReadDeadline(time.Now().Add(2 * c.hub.cfg.HeartbeatInterval))
}

func (c *Client) handleFrame(raw []byte) {
	var f clientFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.hub.enqueue(c, exchangetypes.ErrorEvent("malformed frame"))
		return
	}

	room := f.Payload.Room
	switch f.Type {
	case frameSubscribe:
		if !validTopic(room) {
			c.hub.enqueue(c, exchangetypes.ErrorEvent(fmt.Sprintf("unknown topic %q", room)))
			return
		}
		if err := c.hub.subscribe(c, room); err != nil {
			c.hub.enqueue(c, exchangetypes.ErrorEvent(err.Error()))
			return
		}
		c.hub.enqueue(c, ack(eventSubscribed, room))
	case frameUnsubscribe:
		c.hub.unsubscribe(c, room)
		c.hub.enqueue(c, ack(eventUnsubscribed, room))
	case framePing:
		c.refreshReadDeadline()
		c.hub.enqueue(c, ack(eventPong, ""))
	case framePong:
		c.refreshReadDeadline()
	default:
		c.hub.enqueue(c, exchangetypes.ErrorEvent(fmt.Sprintf("unknown frame type %q", f.Type)))
	}
}

// writePump flushes the send queue and keeps the heartbeat going. One frame
// per event so clients can parse each message on its own.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func ack(typ, topic string) exchangetypes.Event {
	return exchangetypes.Event{Type: typ, Topic: topic, Timestamp: time.Now().UTC()}
}

// validTopic accepts the fixed rooms and the parameterised market and agent
// rooms. The broadcast channel is broker-internal and never subscribable.
func validTopic(topic string) bool {
	switch topic {
	case exchangetypes.TopicMarkets, exchangetypes.TopicPriceFeed:
		return true
	}
	if id, ok := strings.CutPrefix(topic, "market:"); ok {
		return id != ""
	}
	if id, ok := strings.CutPrefix(topic, "agent:"); ok {
		return id != ""
	}
	return false
}

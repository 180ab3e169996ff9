package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 64
)

// Envelope wraps an outgoing event with the topic it was published on,
// letting a client multiplex several subscriptions over one connection.
type Envelope struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// wsClient is one websocket subscriber. Slow clients get events dropped
// rather than blocking the fan-out path.
type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	topics []string
}

// Hub bridges Redis pub/sub channels to websocket subscribers.
// Topics follow the {targetType}_{targetId} convention for content
// updates and user_{recipientId} for notifications.
type Hub struct {
	client   *redis.Client
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	topics map[string]map[*wsClient]struct{}
	pubsub *redis.PubSub
}

// NewHub creates a new realtime hub. The Redis subscription is opened
// here, not in Run, so a client registering before Run starts still
// gets its topics subscribed.
func NewHub(client *redis.Client) *Hub {
	return &Hub{
		client: client,
		pubsub: client.Subscribe(context.Background()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		topics: make(map[string]map[*wsClient]struct{}),
	}
}

// Run consumes the Redis subscription and fans messages out to local
// subscribers. Blocks until the context is cancelled; call in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	defer h.pubsub.Close()

	ch := h.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			topic := strings.TrimPrefix(msg.Channel, channelPrefix)
			h.dispatch(topic, []byte(msg.Payload))
		}
	}
}

// dispatch delivers one payload to every subscriber of the topic.
func (h *Hub) dispatch(topic string, payload []byte) {
	envelope, err := json.Marshal(Envelope{Topic: topic, Data: payload})
	if err != nil {
		slog.Error("realtime envelope marshal failed", "topic", topic, "error", err)
		return
	}

	h.mu.RLock()
	subscribers := h.topics[topic]
	for c := range subscribers {
		select {
		case c.send <- envelope:
		default:
			// Slow consumer: dropping is preferable to backpressuring
			// the hub. The next coalesced snapshot supersedes this one.
		}
	}
	h.mu.RUnlock()
}

// HandleWS handles GET /ws?topics=post_123,user_42. It upgrades the
// connection and subscribes it to the requested topics.
func (h *Hub) HandleWS(c *gin.Context) {
	raw := c.Query("topics")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "topics query parameter is required"})
		return
	}

	topics := make([]string, 0, 4)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		topics: topics,
	}
	h.register(client)

	go h.writePump(client)
	go h.readPump(client)
}

// register adds the client to its topics, subscribing the Redis side
// for any topic gaining its first local subscriber.
func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	newChannels := make([]string, 0, len(c.topics))
	for _, topic := range c.topics {
		if h.topics[topic] == nil {
			h.topics[topic] = make(map[*wsClient]struct{})
			newChannels = append(newChannels, channelFor(topic))
		}
		h.topics[topic][c] = struct{}{}
	}

	if len(newChannels) > 0 {
		if err := h.pubsub.Subscribe(context.Background(), newChannels...); err != nil {
			slog.Error("redis subscribe failed", "channels", newChannels, "error", err)
		}
	}
}

// unregister removes the client, unsubscribing Redis channels that lost
// their last local subscriber.
func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	emptyChannels := make([]string, 0, len(c.topics))
	for _, topic := range c.topics {
		subscribers := h.topics[topic]
		if subscribers == nil {
			continue
		}
		delete(subscribers, c)
		if len(subscribers) == 0 {
			delete(h.topics, topic)
			emptyChannels = append(emptyChannels, channelFor(topic))
		}
	}

	if len(emptyChannels) > 0 {
		if err := h.pubsub.Unsubscribe(context.Background(), emptyChannels...); err != nil {
			slog.Error("redis unsubscribe failed", "channels", emptyChannels, "error", err)
		}
	}

	close(c.send)
}

// writePump drains the client's send channel onto the wire.
func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

// readPump discards inbound frames and detects disconnects.
func (h *Hub) readPump(c *wsClient) {
	defer h.unregister(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

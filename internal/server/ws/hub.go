// Package ws streams signal bus traffic (order book snapshots and order
// transitions) to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/limitdesk/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	// maxSubscriptions bounds the channels one client may hold.
	maxSubscriptions = 64
)

// DefaultChannels are subscribed for a client that connects without a
// ?channels= list.
var DefaultChannels = []string{domain.ChannelBookPattern, domain.ChannelOrder}

// allowed reports whether a client may subscribe to channel. Book channels
// may use glob patterns, e.g. ch:book:1:demo:*.
func allowed(channel string) bool {
	return channel == domain.ChannelOrder ||
		(strings.HasPrefix(channel, domain.ChannelBookPrefix) && len(channel) > len(domain.ChannelBookPrefix))
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool // subscribed channels
	mu   sync.Mutex

	// sendMu orders replies against close; hub fan-out is ordered by the
	// hub lock instead.
	sendMu sync.Mutex
	closed bool
}

// subscribeMsg is the JSON message a client sends to manage channels.
type subscribeMsg struct {
	Action   string   `json:"action"`   // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // channel names or book patterns
}

// envelope wraps every frame sent to clients.
type envelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// topic is one shared bus subscription fanned out to every client holding
// the same channel name.
type topic struct {
	cancel  context.CancelFunc
	clients map[*client]struct{}
}

// Hub bridges the signal bus to connected WebSocket clients. Bus
// subscriptions are opened on first use of a channel and closed when its
// last client leaves.
type Hub struct {
	bus       domain.SignalBus
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	startedAt time.Time

	mu      sync.Mutex
	clients map[*client]struct{}
	topics  map[string]*topic
	closed  bool
}

// NewHub creates a hub reading from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		bus:       bus,
		logger:    logger.With(slog.String("component", "ws_hub")),
		ctx:       ctx,
		cancel:    cancel,
		startedAt: time.Now().UTC(),
		clients:   make(map[*client]struct{}),
		topics:    make(map[string]*topic),
	}
}

// Run blocks until ctx is cancelled, then closes every bus subscription and
// client connection.
func (h *Hub) Run(ctx context.Context) error {
	<-ctx.Done()
	h.cancel()

	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = map[*client]struct{}{}
	h.topics = map[string]*topic{}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	return nil
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws?channels=ch:book:1:demo:*,ch:order
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	channels := DefaultChannels
	if v := r.URL.Query().Get("channels"); v != "" {
		channels = strings.Split(v, ",")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Origins are enforced by the CORS layer in front of the router.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}
	if !h.register(c) {
		conn.Close()
		return
	}

	c.sendStatus()
	for _, ch := range channels {
		c.subscribe(strings.TrimSpace(ch))
	}

	// Start read and write pumps in separate goroutines.
	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Info("ws: client connected", slog.Int("total_clients", len(h.clients)))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for name, t := range h.topics {
		delete(t.clients, c)
		if len(t.clients) == 0 {
			t.cancel()
			delete(h.topics, name)
		}
	}
	total := len(h.clients)
	h.mu.Unlock()

	c.close()
	h.logger.Info("ws: client disconnected", slog.Int("total_clients", total))
}

// join adds c to channel's topic, opening the bus subscription if this is
// its first client.
func (h *Hub) join(c *client, channel string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return context.Canceled
	}
	if t, ok := h.topics[channel]; ok {
		t.clients[c] = struct{}{}
		return nil
	}

	ctx, cancel := context.WithCancel(h.ctx)
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		cancel()
		return err
	}
	t := &topic{cancel: cancel, clients: map[*client]struct{}{c: {}}}
	h.topics[channel] = t
	go h.pump(channel, t, msgs)
	h.logger.Debug("ws: subscribed to channel", slog.String("channel", channel))
	return nil
}

func (h *Hub) leave(c *client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[channel]
	if !ok {
		return
	}
	delete(t.clients, c)
	if len(t.clients) == 0 {
		t.cancel()
		delete(h.topics, channel)
	}
}

// pump forwards one bus subscription to the clients of its topic.
func (h *Hub) pump(channel string, t *topic, msgs <-chan []byte) {
	for data := range msgs {
		frame, err := json.Marshal(envelope{Type: "message", Channel: channel, Payload: json.RawMessage(data)})
		if err != nil {
			h.logger.Warn("ws: dropping malformed payload",
				slog.String("channel", channel),
				slog.String("error", err.Error()),
			)
			continue
		}
		h.mu.Lock()
		// A topic replaced after its last client left must not feed the
		// new one.
		if h.topics[channel] == t {
			for c := range t.clients {
				select {
				case c.send <- frame:
				default:
					// Client's send buffer is full; drop the message.
					h.logger.Warn("ws: dropping message for slow client", slog.String("channel", channel))
				}
			}
		}
		h.mu.Unlock()
	}
}

func (c *client) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) reply(env envelope) {
	msg, err := json.Marshal(env)
	if err != nil {
		return
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) subscribe(channel string) {
	if !allowed(channel) {
		c.reply(envelope{Type: "error", Channel: channel, Error: "unknown channel"})
		return
	}
	c.mu.Lock()
	if c.subs[channel] {
		c.mu.Unlock()
		return
	}
	if len(c.subs) >= maxSubscriptions {
		c.mu.Unlock()
		c.reply(envelope{Type: "error", Channel: channel, Error: "too many subscriptions"})
		return
	}
	c.subs[channel] = true
	c.mu.Unlock()

	if err := c.hub.join(c, channel); err != nil {
		c.mu.Lock()
		delete(c.subs, channel)
		c.mu.Unlock()
		c.hub.logger.Warn("ws: subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		c.reply(envelope{Type: "error", Channel: channel, Error: "subscribe failed"})
		return
	}
	c.reply(envelope{Type: "subscribed", Channel: channel})
}

func (c *client) unsubscribe(channel string) {
	c.mu.Lock()
	had := c.subs[channel]
	delete(c.subs, channel)
	c.mu.Unlock()
	if had {
		c.hub.leave(c, channel)
	}
	c.reply(envelope{Type: "unsubscribed", Channel: channel})
}

// readPump reads messages from the WebSocket connection. It handles
// subscription management requests (JSON text frames) from the client.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var msg subscribeMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			c.reply(envelope{Type: "error", Error: "malformed message"})
			continue
		}
		switch msg.Action {
		case "subscribe":
			for _, ch := range msg.Channels {
				c.subscribe(ch)
			}
		case "unsubscribe":
			for _, ch := range msg.Channels {
				c.unsubscribe(ch)
			}
		default:
			c.reply(envelope{Type: "error", Error: "action must be subscribe or unsubscribe"})
		}
	}
}

// sendStatus pushes a small JSON envelope so clients can immediately mark
// the connection as healthy even when no market events are flowing yet.
func (c *client) sendStatus() {
	payload, err := json.Marshal(map[string]any{
		"uptime_seconds": int64(time.Since(c.hub.startedAt).Seconds()),
		"clients":        c.hub.ClientCount(),
	})
	if err != nil {
		return
	}
	c.reply(envelope{Type: "status", Payload: payload})
}

// writePump pumps messages from the hub to the WebSocket connection as
// text frames, with periodic ping frames for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

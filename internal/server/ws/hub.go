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

	"github.com/carbex/carbex/internal/domain"
	"github.com/carbex/carbex/internal/metrics"
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
)

// publicChannels are the bus channels relayed to browser clients. Ops
// events stay internal.
var publicChannels = []string{
	domain.Channel(domain.ChannelBook, domain.CertificateEUA),
	domain.Channel(domain.ChannelBook, domain.CertificateCEA),
	domain.Channel(domain.ChannelTrades, domain.CertificateEUA),
	domain.Channel(domain.ChannelTrades, domain.CertificateCEA),
	domain.ChannelPrices,
}

// upgrader configures the WebSocket upgrade parameters. Origin policy
// is enforced by the CORS layer for the REST API; the hub carries no
// credentials, so all origins may subscribe to the public feeds.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool // subscribed channels
	mu   sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to manage its
// channel set: {"action":"subscribe","channels":["book:EUA","trades:*"]}.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// envelope is the frame pushed to clients: the bus channel a payload
// arrived on plus the payload itself.
type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// Hub manages connected WebSocket clients and broadcasts market
// events from the Redis signal bus to subscribed clients. Multiple
// API replicas each run a hub against the same bus, so every client
// sees the same stream regardless of which replica it landed on.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger
}

// broadcastMsg carries a frame along with its source channel so the
// hub routes it only to clients subscribed to that channel.
type broadcastMsg struct {
	channel string
	data    []byte
}

// NewHub creates a WebSocket hub bridging the signal bus to connected
// clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		logger:     logger,
	}
}

// Run starts the hub's main event loop. It should be called in a
// goroutine; the loop exits when the context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	go h.relay(ctx)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			metrics.WSConnections.Inc()
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				metrics.WSConnections.Dec()
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.channel) {
					select {
					case c.send <- msg.data:
					default:
						// Client's send buffer is full; drop the message.
						h.logger.Warn("ws: dropping message for slow client")
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// relay subscribes to the public bus channels and forwards every
// message to the broadcast loop wrapped in a channel envelope.
func (h *Hub) relay(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, publicChannels...)
	if err != nil {
		h.logger.Error("ws: bus subscribe failed",
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Info("ws: relaying bus channels",
		slog.Int("channels", len(publicChannels)),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: bus subscription closed")
				return
			}
			frame, err := json.Marshal(envelope{
				Channel: m.Channel,
				Data:    json.RawMessage(m.Payload),
			})
			if err != nil {
				continue
			}
			h.broadcast <- broadcastMsg{
				channel: m.Channel,
				data:    frame,
			}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and
// registers the client with the hub. Clients start subscribed to
// everything and narrow their set with subscribe messages.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{"*": true},
	}

	h.register <- c
	c.sendHello()

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads messages from the WebSocket connection. It handles
// subscription management requests (JSON text frames) from the client.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
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

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription processes subscribe/unsubscribe requests. The
// first explicit subscribe replaces the connect-time wildcard, so a
// client that asks for book:EUA gets only book:EUA.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		delete(c.subs, "*")
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// sendHello pushes a small envelope on connect so clients can mark
// the stream healthy before the first market event arrives.
func (c *client) sendHello() {
	data, err := json.Marshal(map[string]any{
		"connected":   true,
		"server_time": time.Now().UTC().Format(time.RFC3339),
		"channels":    publicChannels,
	})
	if err != nil {
		return
	}
	frame, err := json.Marshal(envelope{Channel: "system", Data: data})
	if err != nil {
		return
	}

	select {
	case c.send <- frame:
	default:
	}
}

// isSubscribed checks whether the client is subscribed to the given
// channel, honouring trailing-star wildcards ("book:*", "*").
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[channel] {
		return true
	}

	for sub := range c.subs {
		if strings.HasSuffix(sub, "*") && strings.HasPrefix(channel, strings.TrimSuffix(sub, "*")) {
			return true
		}
	}

	return false
}

// writePump pumps messages from the hub to the WebSocket connection
// as JSON text frames, with periodic pings for keepalive.
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

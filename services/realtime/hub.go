// Package realtime pushes live prices and alerts to WebSocket clients.
package realtime

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"etf_dashboard/logger"
	"etf_dashboard/metrics"
	"etf_dashboard/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxClients = 100
	WriteTimeout      = 10 * time.Second
	PongTimeout       = 60 * time.Second
	PingInterval      = 30 * time.Second
	SendBufferSize    = 256
	MaxSubscriptions  = 50
	maxMessageSize    = 4096
)

// Message types
const (
	TypePrice      = "price"
	TypeAlert      = "alert"
	TypeSubscribed = "subscribed"
	TypeError      = "error"
)

// Message is the envelope of every server push.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
	Time string `json:"time"`
}

// command is a client request.
type command struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// Client is one WebSocket connection and its subscriptions.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	subscribed map[string]bool
	mu         sync.RWMutex
}

func (c *Client) isSubscribed(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscribed[symbol]
}

func (c *Client) symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subscribed))
	for s := range c.subscribed {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

type outbound struct {
	symbol string // empty goes to every client
	data   []byte
}

// Hub tracks clients and fans messages out to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	shutdown   chan struct{}
	closeOnce  sync.Once
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	maxClients int
	log        zerolog.Logger
	now        func() time.Time
}

// NewHub starts the hub loop.
func NewHub(maxClients int) *Hub {
	if maxClients <= 0 {
		maxClients = DefaultMaxClients
	}
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, SendBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		shutdown:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		maxClients: maxClients,
		log:        logger.With("realtime"),
		now:        time.Now,
	}
	go h.run()
	return h
}

// Shutdown closes every connection and stops the hub loop.
func (h *Hub) Shutdown() {
	h.closeOnce.Do(func() {
		close(h.shutdown)

		h.mu.Lock()
		for client := range h.clients {
			close(client.send)
			client.conn.Close()
		}
		h.clients = make(map[*Client]bool)
		h.mu.Unlock()
		metrics.SetWSClients(0)

		h.log.Info().Msg("Realtime hub shut down")
	})
}

func (h *Hub) run() {
	for {
		select {
		case <-h.shutdown:
			return

		case client := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= h.maxClients {
				h.mu.Unlock()
				client.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server at capacity"),
					time.Now().Add(WriteTimeout))
				client.conn.Close()
				h.log.Warn().Int("max_clients", h.maxClients).Msg("WebSocket client rejected, hub at capacity")
				continue
			}
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			metrics.SetWSClients(count)
			h.log.Debug().Int("clients", count).Msg("WebSocket client connected")

			go client.writePump()
			go client.readPump()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			metrics.SetWSClients(count)
			h.log.Debug().Int("clients", count).Msg("WebSocket client disconnected")

		case msg := <-h.broadcast:
			h.mu.Lock()
			var dead []*Client
			for client := range h.clients {
				if msg.symbol != "" && !client.isSubscribed(msg.symbol) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					dead = append(dead, client)
				}
			}
			for _, client := range dead {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			if len(dead) > 0 {
				metrics.SetWSClients(count)
				h.log.Warn().Int("dropped", len(dead)).Msg("Dropped slow WebSocket clients")
			}
		}
	}
}

func (h *Hub) encode(msgType string, data any) ([]byte, error) {
	return json.Marshal(Message{Type: msgType, Data: data, Time: h.now().UTC().Format(time.RFC3339)})
}

// Publish sends a message to clients subscribed to symbol.
func (h *Hub) Publish(symbol, msgType string, data any) {
	h.enqueue(models.NormalizeSymbol(symbol), msgType, data)
}

// Broadcast sends a message to every client.
func (h *Hub) Broadcast(msgType string, data any) {
	h.enqueue("", msgType, data)
}

func (h *Hub) enqueue(symbol, msgType string, data any) {
	payload, err := h.encode(msgType, data)
	if err != nil {
		h.log.Error().Err(err).Str("type", msgType).Msg("Failed to encode message")
		return
	}
	select {
	case h.broadcast <- outbound{symbol: symbol, data: payload}:
	case <-h.shutdown:
	}
}

// sendTo queues a message for one client unless it has been removed.
func (h *Hub) sendTo(c *Client, msgType string, data any) {
	payload, err := h.encode(msgType, data)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscriptions returns the sorted union of symbols clients subscribe to.
func (h *Hub) Subscriptions() []string {
	h.mu.RLock()
	set := map[string]bool{}
	for client := range h.clients {
		for _, s := range client.symbols() {
			set[s] = true
		}
	}
	h.mu.RUnlock()

	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// HandleWebSocket upgrades the request and registers the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.shutdown:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}
	if h.ClientCount() >= h.maxClients {
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &Client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, SendBufferSize),
		subscribed: make(map[string]bool),
	}
	select {
	case h.register <- client:
	case <-h.shutdown:
		conn.Close()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	h := c.hub
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.shutdown:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(PongTimeout))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			h.sendTo(c, TypeError, map[string]string{"message": "invalid JSON"})
			continue
		}
		c.handle(cmd)
	}
}

func (c *Client) handle(cmd command) {
	h := c.hub
	var invalid []string

	switch cmd.Action {
	case "subscribe":
		c.mu.Lock()
		for _, raw := range cmd.Symbols {
			sym := models.NormalizeSymbol(raw)
			if !models.ValidTicker(sym) {
				invalid = append(invalid, raw)
				continue
			}
			if !c.subscribed[sym] && len(c.subscribed) >= MaxSubscriptions {
				invalid = append(invalid, raw)
				continue
			}
			c.subscribed[sym] = true
		}
		c.mu.Unlock()
	case "unsubscribe":
		c.mu.Lock()
		for _, raw := range cmd.Symbols {
			delete(c.subscribed, models.NormalizeSymbol(raw))
		}
		c.mu.Unlock()
	default:
		h.sendTo(c, TypeError, map[string]string{"message": "unknown action " + cmd.Action})
		return
	}

	if len(invalid) > 0 {
		h.sendTo(c, TypeError, map[string]any{"message": "rejected symbols", "symbols": invalid})
	}
	h.sendTo(c, TypeSubscribed, map[string]any{"symbols": c.symbols()})
}

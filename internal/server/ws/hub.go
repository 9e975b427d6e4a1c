// Package ws bridges auction room events from the signal bus to WebSocket
// observers. A client joins one or more auction rooms and receives that
// auction's events as JSON text frames. Delivery is best-effort at-most-once:
// a slow client drops messages, and the join snapshot is how clients resync.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gavelhq/gavel/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 1024

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins. In production, restrict this to known origins.
		return true
	},
}

// StateReader supplies the authoritative snapshot sent on join, so a client
// entering or rejoining a room starts from current state rather than
// replaying missed events.
type StateReader interface {
	ReadState(ctx context.Context, auctionID string) (domain.AuctionState, error)
}

// client represents a single WebSocket connection and its room memberships.
type client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	rooms map[string]bool
	mu    sync.RWMutex
}

// controlMsg is the JSON message a client sends to manage room membership.
type controlMsg struct {
	Action    string `json:"action"` // "join_auction" or "leave_auction"
	AuctionID string `json:"auction_id"`
}

// Hub manages connected WebSocket clients and routes auction events from the
// signal bus to the members of each auction's room.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan domain.Event
	register   chan *client
	unregister chan *client
	done       chan struct{} // closed when Run exits; unblocks pump goroutines
	bus        domain.SignalBus
	states     StateReader
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a hub bridging the signal bus to WebSocket rooms.
func NewHub(bus domain.SignalBus, states StateReader, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan domain.Event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		states:     states,
		logger:     logger.With(slog.String("component", "ws")),
	}
}

// Run starts the hub's main event loop. It should be called in a goroutine;
// it exits when the provided context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	go h.consumeEvents(ctx)

	for {
		select {
		case <-ctx.Done():
			// Closing done first unblocks any pump goroutine parked on
			// register/unregister. Send channels are never closed here;
			// closing the connections makes both pumps exit on their own,
			// which avoids racing a concurrent snapshot send.
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				c.conn.Close()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", h.clientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", h.clientCount()))

		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if !c.inRoom(ev.AuctionID) {
					continue
				}
				select {
				case c.send <- data:
				default:
					// Send buffer full; the client resyncs from the next
					// join snapshot or state read.
					h.logger.Warn("dropping event for slow client",
						slog.String("auction_id", ev.AuctionID),
					)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// consumeEvents holds one pattern subscription covering every auction room
// and feeds the envelopes into the broadcast loop.
func (h *Hub) consumeEvents(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, domain.EventChannelPattern)
	if err != nil {
		h.logger.Error("event subscription failed", slog.String("error", err.Error()))
		return
	}
	h.logger.Info("subscribed to auction events")

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("event subscription closed")
				return
			}
			var ev domain.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				h.logger.Warn("malformed event dropped", slog.String("error", err.Error()))
				continue
			}
			select {
			case h.broadcast <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. The client starts with no room memberships.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		rooms: make(map[string]bool),
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads room management frames from the connection.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
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
				c.hub.logger.Warn("unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		var msg controlMsg
		if err := json.Unmarshal(message, &msg); err != nil || msg.AuctionID == "" {
			continue
		}
		c.handleControl(msg)
	}
}

// handleControl processes join/leave requests. Joining an already-joined
// room just resends the snapshot; leaving an unjoined room is a no-op.
func (c *client) handleControl(msg controlMsg) {
	switch msg.Action {
	case "join_auction":
		c.mu.Lock()
		c.rooms[msg.AuctionID] = true
		c.mu.Unlock()
		c.sendSnapshot(msg.AuctionID)
	case "leave_auction":
		c.mu.Lock()
		delete(c.rooms, msg.AuctionID)
		c.mu.Unlock()
	}
}

// sendSnapshot pushes the auction's current state so the joining client has a
// consistent starting point before live events arrive.
func (c *client) sendSnapshot(auctionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	state, err := c.hub.states.ReadState(ctx, auctionID)
	if err != nil {
		c.hub.logger.Warn("join snapshot failed",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
		return
	}

	msg, err := json.Marshal(map[string]any{
		"type":       "auction_state",
		"auction_id": auctionID,
		"payload":    state,
	})
	if err != nil {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

// inRoom checks whether the client has joined the given auction's room.
func (c *client) inRoom(auctionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rooms[auctionID]
}

// writePump pumps messages from the hub to the WebSocket connection as JSON
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

		case <-c.hub.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

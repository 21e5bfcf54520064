package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"callcenter/internal/events"
	"callcenter/internal/metrics"

	"github.com/rs/zerolog"
)

// Frame is the wire envelope in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   *int64          `json:"ack,omitempty"`
}

type outbound struct {
	socketID string
	payload  []byte
}

// Hub owns the local connections. Broadcast and direct realtime events from
// the bus are fanned out to them; direct events for sockets owned by another
// process are dropped here.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	outbound   chan outbound
	done       chan struct{}
	buffer     int
	logger     *zerolog.Logger

	mu sync.RWMutex
}

// NewHub sizes each connection's send queue and the hub's outbound queue by
// sendBuffer; zero or less uses 256.
func NewHub(bus *events.EventBus, sendBuffer int, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	h := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		outbound:   make(chan outbound, sendBuffer),
		done:       make(chan struct{}),
		buffer:     sendBuffer,
		logger:     logger,
	}
	if bus != nil {
		bus.Subscribe(events.EventBroadcast, h.fromBus)
		bus.Subscribe(events.EventDirect, h.fromBus)
	}
	return h
}

// Run processes registrations and outbound frames until ctx is done, then
// closes every connection.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info().Msg("Realtime hub started")
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.shutdown()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.ID] = c
			h.mu.Unlock()
			metrics.ConnectionOpened()
		case c := <-h.unregister:
			h.remove(c)
		case msg := <-h.outbound:
			h.deliver(msg)
		}
	}
}

// Register adds c to the hub. It reports false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Count reports the number of local connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) fromBus(event *events.Event) error {
	msg, err := events.DecodeRealtime(event)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(Frame{Event: msg.Event, Data: msg.Data})
	if err != nil {
		return err
	}
	select {
	case h.outbound <- outbound{socketID: msg.SocketID, payload: payload}:
	default:
		h.logger.Warn().Str("event", msg.Event).Msg("Realtime outbound queue full, event dropped")
	}
	return nil
}

func (h *Hub) deliver(msg outbound) {
	if msg.socketID != "" {
		h.mu.RLock()
		c, ok := h.clients[msg.socketID]
		h.mu.RUnlock()
		if ok {
			h.enqueue(c, msg.payload)
		}
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.enqueue(c, msg.payload)
	}
}

// enqueue drops the connection when its buffer is full.
func (h *Hub) enqueue(c *Client, payload []byte) {
	if c.trySend(payload) {
		return
	}
	h.logger.Warn().Str("socket_id", c.ID).Int64("user_id", c.UserID).Msg("Slow realtime consumer dropped")
	h.remove(c)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	current, ok := h.clients[c.ID]
	if ok && current == c {
		delete(h.clients, c.ID)
	}
	h.mu.Unlock()
	if ok && current == c {
		c.close()
		metrics.ConnectionClosed()
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
		metrics.ConnectionClosed()
	}
	h.logger.Info().Int("connections", len(clients)).Msg("Realtime hub stopped")
}

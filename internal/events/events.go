package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Realtime fan-out topics on the bus.
const (
	// EventBroadcast goes to every connected socket.
	EventBroadcast = "realtime.broadcast"
	// EventDirect goes to a single socket by connection id.
	EventDirect = "realtime.direct"
)

// Client-facing realtime event names.
const (
	PresenceUpdate = "presence:update"
	CallStatus     = "call:status"
	IncomingInvite = "incoming-invite"
)

// RealtimeMessage is the payload of EventBroadcast and EventDirect events.
type RealtimeMessage struct {
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data,omitempty"`
	SocketID string          `json:"socketId,omitempty"`
}

// PresencePayload is the body of presence:update.
type PresencePayload struct {
	UserID int64  `json:"userId"`
	Status string `json:"status"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
	// Origin is set when the event arrived from another process.
	Origin string
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers synchronously, in registration order.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

// NewRealtimeMessage encodes data for a realtime event.
func NewRealtimeMessage(event string, data interface{}) (RealtimeMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return RealtimeMessage{}, err
	}
	return RealtimeMessage{Event: event, Data: raw}, nil
}

// Publisher is satisfied by *EventBus and domain.EventPublisher.
type Publisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Broadcast emits event to every socket across all processes.
func Broadcast(pub Publisher, event string, data interface{}) error {
	msg, err := NewRealtimeMessage(event, data)
	if err != nil {
		return err
	}
	return pub.PublishJSON(EventBroadcast, msg)
}

// EmitTo emits event to a single socket, wherever it is connected.
func EmitTo(pub Publisher, socketID, event string, data interface{}) error {
	msg, err := NewRealtimeMessage(event, data)
	if err != nil {
		return err
	}
	msg.SocketID = socketID
	return pub.PublishJSON(EventDirect, msg)
}

// DecodeRealtime unpacks the payload of a realtime bus event.
func DecodeRealtime(event *Event) (RealtimeMessage, error) {
	var msg RealtimeMessage
	err := json.Unmarshal(event.Payload, &msg)
	return msg, err
}

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultChannel carries realtime events between processes.
const DefaultChannel = "callcenter:realtime"

const (
	outboxSize     = 256
	publishTimeout = 2 * time.Second
)

type wireEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Origin  string          `json:"origin"`
}

// RedisBridge mirrors local realtime events to Redis pub/sub and
// republishes events from other processes on the local bus. Local events
// are queued and published by Run, never on the publisher's goroutine.
type RedisBridge struct {
	client  *redis.Client
	bus     *EventBus
	channel string
	nodeID  string
	logger  *zerolog.Logger
	ready   chan struct{}
	outbox  chan []byte
	up      atomic.Bool
}

func NewRedisBridge(client *redis.Client, bus *EventBus, nodeID string, logger *zerolog.Logger) *RedisBridge {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	b := &RedisBridge{
		client:  client,
		bus:     bus,
		channel: DefaultChannel,
		nodeID:  nodeID,
		logger:  logger,
		ready:   make(chan struct{}),
		outbox:  make(chan []byte, outboxSize),
	}
	bus.Subscribe(EventBroadcast, b.forward)
	bus.Subscribe(EventDirect, b.forward)
	return b
}

// Ready is closed once the Redis subscription is active.
func (b *RedisBridge) Ready() <-chan struct{} { return b.ready }

// forward queues a local event for Redis. Events are dropped while the
// subscription is down or the queue is full; they still reach local sockets.
func (b *RedisBridge) forward(event *Event) error {
	if event.Origin != "" || !b.up.Load() {
		return nil
	}
	raw, err := json.Marshal(wireEvent{Type: event.Type, Payload: event.Payload, Origin: b.nodeID})
	if err != nil {
		return err
	}
	select {
	case b.outbox <- raw:
	default:
		b.logger.Warn().Str("type", event.Type).Msg("Realtime bridge queue full, event stays local")
	}
	return nil
}

func (b *RedisBridge) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-b.outbox:
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			if err := b.client.Publish(pctx, b.channel, raw).Err(); err != nil {
				b.logger.Warn().Err(err).Msg("Failed to publish realtime event to redis")
			}
			cancel()
		}
	}
}

// Run consumes the channel until ctx is canceled.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.up.Store(true)
	defer b.up.Store(false)
	close(b.ready)
	b.logger.Info().Str("channel", b.channel).Str("node", b.nodeID).Msg("Realtime bridge subscribed")

	pubCtx, stopPub := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.publishLoop(pubCtx)
	}()
	defer wg.Wait()
	defer stopPub()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev wireEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn().Err(err).Msg("Dropping malformed realtime event")
				continue
			}
			if ev.Origin == b.nodeID {
				continue
			}
			b.bus.Publish(&Event{Type: ev.Type, Payload: ev.Payload, Origin: ev.Origin})
		}
	}
}

package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	bus.Subscribe("test_event", func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	require.NoError(t, bus.PublishJSON("test_event", map[string]string{"foo": "bar"}))
	assert.Equal(t, 1, callCount)
	assert.Equal(t, "test_event", received.Type)
	assert.False(t, received.CreatedAt.IsZero())

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(received.Payload, &decoded))
	assert.Equal(t, "bar", decoded["foo"])
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var order []int

	bus.Subscribe("event", func(_ *Event) error { order = append(order, 1); return nil })
	bus.Subscribe("event", func(_ *Event) error { order = append(order, 2); return nil })

	bus.Publish(&Event{Type: "event"})
	assert.Equal(t, []int{1, 2}, order)
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	bus.Publish(&Event{Type: "unknown"})
	assert.NoError(t, bus.PublishJSON("unknown", nil))

	var nilBus *EventBus
	assert.NoError(t, nilBus.PublishJSON("x", 1))
}

func TestBroadcastAndEmitTo(t *testing.T) {
	bus := NewEventBus()
	var got []RealtimeMessage
	collect := func(event *Event) error {
		msg, err := DecodeRealtime(event)
		require.NoError(t, err)
		got = append(got, msg)
		return nil
	}
	bus.Subscribe(EventBroadcast, collect)
	bus.Subscribe(EventDirect, collect)

	require.NoError(t, Broadcast(bus, PresenceUpdate, PresencePayload{UserID: 3, Status: "online"}))
	require.NoError(t, EmitTo(bus, "sock-1", IncomingInvite, map[string]string{"conference": "conf-1"}))

	require.Len(t, got, 2)
	assert.Equal(t, PresenceUpdate, got[0].Event)
	assert.Empty(t, got[0].SocketID)
	assert.JSONEq(t, `{"userId":3,"status":"online"}`, string(got[0].Data))

	assert.Equal(t, IncomingInvite, got[1].Event)
	assert.Equal(t, "sock-1", got[1].SocketID)
}

func TestNewRealtimeMessageRejectsUnencodable(t *testing.T) {
	_, err := NewRealtimeMessage("x", make(chan int))
	assert.Error(t, err)
}

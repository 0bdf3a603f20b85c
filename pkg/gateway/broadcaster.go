package gateway

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// EventBroadcaster delivers server events to clients. Every message gets a
// gateway-wide sequence number.
type EventBroadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger
	seq     uint64
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		clients: clients,
		logger:  logger,
	}
}

// Broadcast sends a lifecycle event to all authenticated clients
func (b *EventBroadcaster) Broadcast(event string, data interface{}) {
	b.BroadcastTyped(EventMessage{
		Event:  event,
		Stream: StreamTypeLifecycle,
		Data:   data,
	})
}

// BroadcastTyped sends a typed stream event to all authenticated clients
func (b *EventBroadcaster) BroadcastTyped(msg EventMessage) {
	data, err := b.encode(&msg)
	if err != nil {
		return
	}

	clients := b.clients.Authenticated()
	if len(clients) == 0 {
		b.logger.Debug().
			Str("event", msg.Event).
			Int64("seq", msg.Seq).
			Msg("No authenticated clients to broadcast to")
		return
	}

	failed := 0
	for _, client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			b.logger.Warn().
				Err(err).
				Str("clientId", client.ID).
				Str("event", msg.Event).
				Int64("seq", msg.Seq).
				Msg("Failed to broadcast to client")
			failed++
		}
	}

	b.logger.Debug().
		Str("event", msg.Event).
		Str("stream", string(msg.Stream)).
		Int64("seq", msg.Seq).
		Int("success", len(clients)-failed).
		Int("failed", failed).
		Msg("Event broadcast complete")
}

// SendTo sends an event to one client
func (b *EventBroadcaster) SendTo(clientID string, msg EventMessage) error {
	client, ok := b.clients.Get(clientID)
	if !ok {
		return fmt.Errorf("client %s is not connected", clientID)
	}

	data, err := b.encode(&msg)
	if err != nil {
		return err
	}
	return client.WriteMessage(websocket.TextMessage, data)
}

func (b *EventBroadcaster) encode(msg *EventMessage) ([]byte, error) {
	msg.Type = "event"
	if msg.Seq == 0 {
		msg.Seq = int64(atomic.AddUint64(&b.seq, 1))
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().
			Err(err).
			Str("event", msg.Event).
			Str("stream", string(msg.Stream)).
			Int64("seq", msg.Seq).
			Msg("Failed to marshal event")
		return nil, err
	}
	return data, nil
}

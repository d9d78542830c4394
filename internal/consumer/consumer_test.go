package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/ChatEngine/internal/events"
	"github.com/Gopher0727/ChatEngine/internal/pkg/kafka"
)

type broadcast struct {
	room, event string
	payload     any
}

type fakeBroadcaster struct {
	sent []broadcast
}

func (b *fakeBroadcaster) Broadcast(room, event string, payload any) {
	b.sent = append(b.sent, broadcast{room, event, payload})
}

func TestNotificationConsumer_Handle(t *testing.T) {
	bus := &fakeBroadcaster{}
	c := NewNotificationConsumer(bus, nil)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	value, err := kafka.EncodeEnvelope(kafka.Envelope{
		RecipientID: 12,
		Kind:        events.KindReaction,
		Payload:     map[string]any{"emoji": "🔥"},
		CreatedAt:   at,
	})
	require.NoError(t, err)

	require.NoError(t, c.Handle(context.Background(), &sarama.ConsumerMessage{Value: value}))
	require.Len(t, bus.sent, 1)
	got := bus.sent[0]
	assert.Equal(t, "user:12", got.room)
	assert.Equal(t, events.Notification, got.event)
	assert.Equal(t, events.NotificationPayload{
		Kind:      events.KindReaction,
		Payload:   map[string]any{"emoji": "🔥"},
		CreatedAt: at,
	}, got.payload)
}

func TestNotificationConsumer_Malformed(t *testing.T) {
	bus := &fakeBroadcaster{}
	c := NewNotificationConsumer(bus, nil)

	err := c.Handle(context.Background(), &sarama.ConsumerMessage{Value: []byte("garbage\xff")})
	assert.ErrorIs(t, err, kafka.ErrMalformedEnvelope)
	assert.Empty(t, bus.sent)
}

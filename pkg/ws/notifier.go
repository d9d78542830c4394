package ws

import (
	"context"
	"time"

	"github.com/Gopher0727/ChatEngine/internal/events"
)

// HubNotifier 不经过 Kafka，直接把通知推送到接收者的房间
// Kafka 不可用时作为降级方案使用
type HubNotifier struct {
	hub *Hub
	now func() time.Time
}

func NewHubNotifier(hub *Hub) *HubNotifier {
	return &HubNotifier{hub: hub, now: time.Now}
}

func (n *HubNotifier) Notify(_ context.Context, recipientID uint, kind string, payload any) error {
	n.hub.Broadcast(events.UserRoom(recipientID), events.Notification, events.NotificationPayload{
		Kind:      kind,
		Payload:   payload,
		CreatedAt: n.now().UTC(),
	})
	return nil
}

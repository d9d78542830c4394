package consumer

import (
	"context"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/Gopher0727/ChatEngine/internal/events"
	"github.com/Gopher0727/ChatEngine/internal/pkg/kafka"
	"github.com/Gopher0727/ChatEngine/internal/services"
	logger "github.com/Gopher0727/ChatEngine/middleware/log"
)

// NotificationConsumer 把 Kafka 中的通知推送到接收者的房间
type NotificationConsumer struct {
	broadcaster services.Broadcaster
	logger      *logger.Logger
}

func NewNotificationConsumer(broadcaster services.Broadcaster, l *logger.Logger) *NotificationConsumer {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &NotificationConsumer{broadcaster: broadcaster, logger: l}
}

// Handle 实现 kafka.MessageHandler
// 无法解析的记录返回 kafka.ErrMalformedEnvelope，直接进入死信队列
func (c *NotificationConsumer) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	env, err := kafka.DecodeEnvelope(message.Value)
	if err != nil {
		return err
	}

	c.broadcaster.Broadcast(events.UserRoom(env.RecipientID), events.Notification, events.NotificationPayload{
		Kind:      env.Kind,
		Payload:   env.Payload,
		CreatedAt: env.CreatedAt,
	})
	c.logger.DebugContext(ctx, "notification delivered",
		zap.Uint("user_id", env.RecipientID),
		zap.String("kind", env.Kind),
		zap.Int64("offset", message.Offset),
	)
	return nil
}

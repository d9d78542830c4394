package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/Gopher0727/ChatEngine/config"
	logger "github.com/Gopher0727/ChatEngine/middleware/log"
)

// Headers attached to records moved to the dead letter queue.
const (
	HeaderError         = "x-error"
	HeaderOriginalTopic = "x-original-topic"
)

// MessageHandler processes one record. Returning an error triggers retries
// and, once they are exhausted, the DLQ.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// Consumer runs a consumer group loop over a set of topics.
type Consumer struct {
	group   sarama.ConsumerGroup
	config  *config.KafkaConfig
	handler MessageHandler
	dlq     *Producer
	topics  []string
	logger  *logger.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewConsumer joins cfg.ConsumerGroup. Failed records are forwarded to
// cfg.Topics.DLQ through dlq.
func NewConsumer(cfg *config.KafkaConfig, topics []string, handler MessageHandler, dlq *Producer, l *logger.Logger) (*Consumer, error) {
	saramaConfig := newSaramaConfig()
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer group: %w", err)
	}
	return newConsumer(group, cfg, topics, handler, dlq, l), nil
}

func newConsumer(group sarama.ConsumerGroup, cfg *config.KafkaConfig, topics []string, handler MessageHandler, dlq *Producer, l *logger.Logger) *Consumer {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &Consumer{
		group:   group,
		config:  cfg,
		handler: handler,
		dlq:     dlq,
		topics:  topics,
		logger:  l,
	}
}

// Run consumes until ctx is cancelled. Rebalances restart the session loop.
func (c *Consumer) Run(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	defer c.wg.Done()

	go func() {
		for err := range c.group.Errors() {
			c.logger.Warn("kafka consumer error", zap.Error(err))
		}
	}()

	handler := &groupHandler{consumer: c}
	for {
		if err := c.group.Consume(ctx, c.topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.Error("kafka consume failed", zap.Strings("topics", c.topics), zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Stop cancels Run, waits for it and closes the group.
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer group: %w", err)
	}
	return nil
}

type groupHandler struct {
	consumer *Consumer
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.consumer.process(session.Context(), message)
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// process runs the handler with retries and parks the record in the DLQ
// when it keeps failing. The offset is committed either way.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) {
	err := c.handleWithRetry(ctx, message)
	if err == nil || ctx.Err() != nil {
		return
	}
	if dlqErr := c.sendToDLQ(ctx, message, err); dlqErr != nil {
		c.logger.Error("failed to send message to DLQ",
			zap.String("topic", message.Topic),
			zap.Int32("partition", message.Partition),
			zap.Int64("offset", message.Offset),
			zap.Error(dlqErr),
		)
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	maxRetries := c.config.Consumer.MaxRetries
	backoff := time.Duration(c.config.Consumer.RetryBackoffMs) * time.Millisecond

	var err error
	for attempt := 0; ; attempt++ {
		err = c.handler(ctx, message)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrMalformedEnvelope) || attempt >= maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func (c *Consumer) sendToDLQ(ctx context.Context, message *sarama.ConsumerMessage, cause error) error {
	if c.dlq == nil || c.config.Topics.DLQ == "" {
		return fmt.Errorf("no DLQ configured: %w", cause)
	}
	msg := &sarama.ProducerMessage{
		Topic: c.config.Topics.DLQ,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderError), Value: []byte(cause.Error())},
			{Key: []byte(HeaderOriginalTopic), Value: []byte(message.Topic)},
		},
	}
	if _, _, err := c.dlq.Send(ctx, msg); err != nil {
		return err
	}
	c.logger.Warn("message moved to DLQ",
		zap.String("topic", message.Topic),
		zap.Int32("partition", message.Partition),
		zap.Int64("offset", message.Offset),
		zap.Error(cause),
	)
	return nil
}

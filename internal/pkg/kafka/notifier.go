package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrMalformedEnvelope marks records that will never decode; the consumer
// sends them to the DLQ without retrying.
var ErrMalformedEnvelope = errors.New("kafka: malformed notification envelope")

// Envelope is a notification addressed to one user.
type Envelope struct {
	RecipientID uint
	Kind        string
	Payload     any
	CreatedAt   time.Time
}

// EncodeEnvelope serializes e as a protobuf Struct. The payload goes through
// JSON first so any json-tagged value is accepted.
func EncodeEnvelope(e Envelope) ([]byte, error) {
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification payload: %w", err)
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to encode notification payload: %w", err)
	}

	s, err := structpb.NewStruct(map[string]any{
		"recipient_id": float64(e.RecipientID),
		"kind":         e.Kind,
		"payload":      payload,
		"created_at":   e.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build notification envelope: %w", err)
	}
	return proto.Marshal(s)
}

// DecodeEnvelope is the inverse of EncodeEnvelope. Payload comes back as
// the generic JSON shape (map[string]any, []any, float64, ...).
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	fields := s.GetFields()

	recipient := fields["recipient_id"].GetNumberValue()
	kind := fields["kind"].GetStringValue()
	if recipient < 1 || kind == "" {
		return nil, fmt.Errorf("%w: missing recipient or kind", ErrMalformedEnvelope)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("%w: bad created_at: %v", ErrMalformedEnvelope, err)
	}

	var payload any
	if v, ok := fields["payload"]; ok {
		payload = v.AsInterface()
	}
	return &Envelope{
		RecipientID: uint(recipient),
		Kind:        kind,
		Payload:     payload,
		CreatedAt:   createdAt,
	}, nil
}

// Notifier publishes notifications to a topic, keyed by recipient so one
// user's notifications stay ordered within a partition.
type Notifier struct {
	producer *Producer
	topic    string
	retries  int
	now      func() time.Time
}

func NewNotifier(producer *Producer, topic string) *Notifier {
	return &Notifier{
		producer: producer,
		topic:    topic,
		retries:  producer.config.Producer.MaxRetries,
		now:      time.Now,
	}
}

func (n *Notifier) Notify(ctx context.Context, recipientID uint, kind string, payload any) error {
	value, err := EncodeEnvelope(Envelope{
		RecipientID: recipientID,
		Kind:        kind,
		Payload:     payload,
		CreatedAt:   n.now(),
	})
	if err != nil {
		return err
	}
	key := []byte(strconv.FormatUint(uint64(recipientID), 10))
	_, _, err = n.producer.ProduceWithRetry(ctx, n.topic, key, value, n.retries)
	return err
}

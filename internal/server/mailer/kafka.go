package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaMailer publishes JSON mail jobs keyed by recipient, so jobs for one
// address stay ordered on one partition.
type KafkaMailer struct {
	w       messageWriter
	timeout time.Duration
}

func NewKafkaMailer(brokers []string, topic string) *KafkaMailer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
	return &KafkaMailer{w: w, timeout: 5 * time.Second}
}

func (m *KafkaMailer) Send(ctx context.Context, msg Message) error {
	if msg.QueuedAt.IsZero() {
		msg.QueuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("kafka: json.Marshal failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.w.WriteMessages(ctx, kafka.Message{Key: []byte(msg.To), Value: data}); err != nil {
		return fmt.Errorf("kafka: write failed: %w", err)
	}
	return nil
}

func (m *KafkaMailer) Close() error {
	return m.w.Close()
}

// Package publisher forwards stored events to the downstream analytics
// stream.
package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/iamgideonidoko/nudge/internal/config"
	"github.com/iamgideonidoko/nudge/internal/models"
)

type Publisher interface {
	Publish(ctx context.Context, e *models.Event) error
	Close() error
}

// New returns a Kafka publisher when brokers are configured, else Nop.
func New(cfg config.KafkaConfig) Publisher {
	if !cfg.Enabled() {
		return Nop{}
	}
	return NewKafka(cfg.Brokers, cfg.EventsTopic)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Kafka struct {
	writer messageWriter
}

func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchSize:              100,
			BatchTimeout:           100 * time.Millisecond,
			Async:                  true,
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish enqueues e keyed by website id, so one website's events stay
// ordered within a partition.
func (k *Kafka) Publish(ctx context.Context, e *models.Event) error {
	msg, err := Message(e)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, msg)
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

// Message encodes e as it appears on the stream.
func Message(e *models.Event) (kafka.Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(e.WebsiteID.String()),
		Value: data,
		Time:  e.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}, nil
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, *models.Event) error { return nil }

func (Nop) Close() error { return nil }

package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-lifecycle/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer publishes driver location samples and ride status changes.
// Both are keyed so a partition sees one driver or one ride in order.
type KafkaProducer struct {
	writer        messageWriter
	locationTopic string
	statusTopic   string
	timeout       time.Duration
}

func NewKafkaProducer(brokers []string, locationTopic, statusTopic string) *KafkaProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaProducer{writer: w, locationTopic: locationTopic, statusTopic: statusTopic, timeout: 2 * time.Second}
}

func (k *KafkaProducer) PublishLocation(ctx context.Context, s models.DriverLocationSample) error {
	return k.write(ctx, k.locationTopic, s.DriverID, s)
}

// PublishStatusChange satisfies storage.StatusPublisher.
func (k *KafkaProducer) PublishStatusChange(ctx context.Context, c models.StatusChange) error {
	return k.write(ctx, k.statusTopic, c.RideID, c)
}

func (k *KafkaProducer) write(ctx context.Context, topic, key string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Key: []byte(key), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

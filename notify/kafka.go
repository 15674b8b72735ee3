package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"brassradar/models"
)

// Kafka produces alerts as JSON records to a topic.
type Kafka struct {
	producer *kafka.Producer
	topic    string
}

func NewKafka(broker, topic string) (*Kafka, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": broker,
		"acks":              "all",
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Kafka{producer: producer, topic: topic}, nil
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Deliver(ctx context.Context, msg models.Notification) error {
	value, err := json.Marshal(notificationMessage{Notification: msg, Timestamp: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	delivery := make(chan kafka.Event, 1)
	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &k.topic, Partition: kafka.PartitionAny},
		Value:          value,
	}, delivery)
	if err != nil {
		return fmt.Errorf("produce: %w", err)
	}

	select {
	case ev := <-delivery:
		if m, ok := ev.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			return fmt.Errorf("delivery: %w", m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *Kafka) Close() error {
	k.producer.Flush(5000)
	k.producer.Close()
	return nil
}

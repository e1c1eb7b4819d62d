package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/example/fleet-dispatch/internal/models"
	"github.com/segmentio/kafka-go"
)

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaProducer{writer: w}
}

// PublishLocation publishes an operator location update keyed by operator ID
// so the consumer sees per-operator ordering.
func (k *KafkaProducer) PublishLocation(op models.Operator) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(op)
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(op.ID), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

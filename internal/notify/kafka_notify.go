package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaNotifier publishes every emitted event to a Kafka topic for
// downstream consumers (audit, analytics, out-of-process delivery).
type KafkaNotifier struct {
	writer *kafka.Writer
}

func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaNotifier{writer: w}
}

type kafkaEvent struct {
	Event    Event    `json:"event"`
	Audience Audience `json:"audience"`
	Payload  any      `json:"payload"`
	At       string   `json:"at"`
}

func (k *KafkaNotifier) Emit(ctx context.Context, event Event, audience Audience, payload any) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(kafkaEvent{Event: event, Audience: audience, Payload: payload, At: time.Now().UTC().Format(time.RFC3339)})
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(event), Value: b})
}

func (k *KafkaNotifier) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

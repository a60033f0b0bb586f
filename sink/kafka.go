package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
)

// KafkaConfig configures the message-broker topic sink.
type KafkaConfig struct {
	// Brokers is the bootstrap broker list.
	Brokers []string
	// Topic is the destination topic. Derive it with TopicName when the
	// per-service convention applies.
	Topic string
	// Timeout bounds a single produce call.
	Timeout time.Duration
}

// Kafka publishes payloads to a broker topic using a synchronous producer,
// so a Transmit error reliably means the batch did not reach the broker.
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafka connects a synchronous producer to the given brokers.
func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka sink: no topic configured")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true
	sc.Producer.Timeout = cfg.Timeout
	sc.Net.DialTimeout = cfg.Timeout

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("kafka sink: create producer: %w", err)
	}
	return &Kafka{producer: producer, topic: cfg.Topic}, nil
}

// newKafkaWithProducer wires an existing producer; used by tests.
func newKafkaWithProducer(p sarama.SyncProducer, topic string) *Kafka {
	return &Kafka{producer: p, topic: topic}
}

// Transmit publishes one payload to the topic. The correlation id and
// content type travel as record headers so consumers can dispatch without
// decoding the body.
func (k *Kafka) Transmit(_ context.Context, payload []byte, correlationID string) error {
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("CorrelationId"), Value: []byte(correlationID)},
			{Key: []byte("ContentType"), Value: []byte(ContentType)},
		},
	}
	if _, _, err := k.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka sink: send: %w", err)
	}
	return nil
}

// Close shuts down the producer.
func (k *Kafka) Close() error {
	return k.producer.Close()
}

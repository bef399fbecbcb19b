package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer is the slice of *kgo.Client the Kafka sink needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaSink publishes entries as JSON to a topic, keyed by target id so every
// event about one resource lands on the same partition.
type KafkaSink struct {
	producer Producer
	topic    string
}

// NewKafkaSink returns a sink producing to topic.
func NewKafkaSink(producer Producer, topic string) (*KafkaSink, error) {
	if producer == nil {
		return nil, errors.New("audit: kafka producer is required")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("audit: kafka topic is required")
	}
	return &KafkaSink{producer: producer, topic: topic}, nil
}

// NewKafkaClient dials brokers for the audit producer.
func NewKafkaClient(brokers []string, clientID string) (*kgo.Client, error) {
	if len(brokers) == 0 {
		return nil, errors.New("audit: at least one kafka broker is required")
	}
	return kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
}

// Write produces entry synchronously.
func (s *KafkaSink) Write(ctx context.Context, entry Entry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: encode entry: %w", err)
	}
	rec := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(entry.TargetType + ":" + entry.TargetID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(entry.Action)},
		},
	}
	if err := s.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("audit: produce to %s: %w", s.topic, err)
	}
	return nil
}

package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is one record destined for a topic.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
}

// Producer wraps the franz-go client with the small surface the audit
// publisher needs.
type Producer struct {
	client *kgo.Client
	logger *slog.Logger
}

// NewProducer connects to the given comma-separated brokers.
func NewProducer(brokers string, logger *slog.Logger) (*Producer, error) {
	if brokers == "" {
		return nil, fmt.Errorf("kafka brokers not configured")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(strings.Split(brokers, ",")...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Producer{client: client, logger: logger}, nil
}

// ProduceAsync buffers the message for background delivery. Delivery failures
// are logged, not surfaced; audit publishing never blocks identity operations.
func (p *Producer) ProduceAsync(msg Message) error {
	record := &kgo.Record{Topic: msg.Topic, Key: msg.Key, Value: msg.Value}
	p.client.Produce(context.Background(), record, func(r *kgo.Record, err error) {
		if err != nil && p.logger != nil {
			p.logger.Error("kafka delivery failed", "topic", r.Topic, "error", err)
		}
	})
	return nil
}

// Close flushes buffered records and shuts the client down.
func (p *Producer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil && p.logger != nil {
		p.logger.Warn("kafka producer closed with unflushed messages", "error", err)
	}
	p.client.Close()
	return nil
}

// Healthy reports broker connectivity.
func (p *Producer) Healthy(ctx context.Context) bool {
	return p.client.Ping(ctx) == nil
}

// Package audit records an append-only trail of identity operations. Events
// fan out to a sink (kafka in production, memory in tests); the trail is
// advisory and never blocks the operation that emitted it.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"anchorid/internal/platform/kafka"
)

// Event captures one identity operation.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	DID       string    `json:"did"`
	Actor     string    `json:"actor,omitempty"`
	Action    string    `json:"action"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
}

// Sink consumes emitted events.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Publisher stamps and forwards events. Sink failures are logged and
// swallowed; losing an audit line must not fail a user operation.
type Publisher struct {
	sink   Sink
	logger *slog.Logger
}

// NewPublisher creates a publisher over the given sink.
func NewPublisher(sink Sink, logger *slog.Logger) *Publisher {
	return &Publisher{sink: sink, logger: logger}
}

// Emit records the event, stamping the time when unset.
func (p *Publisher) Emit(ctx context.Context, event Event) {
	if p == nil || p.sink == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := p.sink.Append(ctx, event); err != nil {
		p.logger.ErrorContext(ctx, "audit append failed", "did", event.DID, "action", event.Action, "error", err)
	}
}

// KafkaSink publishes events to a topic, keyed by DID so one identity's trail
// stays ordered within a partition.
type KafkaSink struct {
	producer *kafka.Producer
	topic    string
}

// NewKafkaSink creates a sink over an established producer.
func NewKafkaSink(producer *kafka.Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Append(_ context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.producer.ProduceAsync(kafka.Message{
		Topic: s.topic,
		Key:   []byte(event.DID),
		Value: payload,
	})
}

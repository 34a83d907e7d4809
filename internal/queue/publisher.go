package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"storefront/internal/domain"
)

// DispatchFunc is the synchronous fallback invoked when no queue is
// configured.
type DispatchFunc func(ctx context.Context, event *domain.Event) error

// Publisher hands a verified event to the queue keyed by the event ID, which
// acts as the deduplication key. With no producer configured it degrades to
// dispatching inline within the webhook request; correctness is preserved
// (the idempotency store still guards effects) at the cost of ack latency.
type Publisher struct {
	producer Producer
	topic    string
	fallback DispatchFunc
	logger   *zap.Logger
}

func NewPublisher(producer Producer, topic string, fallback DispatchFunc, logger *zap.Logger) *Publisher {
	return &Publisher{
		producer: producer,
		topic:    topic,
		fallback: fallback,
		logger:   logger,
	}
}

func (p *Publisher) Publish(ctx context.Context, event *domain.Event) error {
	if p.producer == nil {
		p.logger.Warn("Queue is not configured, dispatching event inline (degraded mode)",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
		)
		if err := p.fallback(ctx, event); err != nil {
			return fmt.Errorf("inline dispatch failed for event %s: %w", event.ID, err)
		}
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
	}

	if err := p.producer.Produce(ctx, event.ID, p.topic, body); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.ID, err)
	}

	p.logger.Info("Event published to queue",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("topic", p.topic),
	)
	return nil
}

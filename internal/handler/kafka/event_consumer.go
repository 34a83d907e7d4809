package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"storefront/internal/dispatch"
	"storefront/internal/domain"
	"storefront/internal/queue"
)

// EventMessageHandler consumes queued provider events and runs the
// dispatcher. Undecodable messages are dropped after logging (they would
// poison the partition otherwise); handler errors propagate so the offset
// stays uncommitted and the event is redelivered.
func EventMessageHandler(dispatcher *dispatch.Dispatcher, logger *zap.Logger) queue.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		var event domain.Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Error("Failed to unmarshal queued event, dropping message",
				zap.Error(err),
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
			)
			return nil
		}

		outcome, err := dispatcher.Dispatch(ctx, &event)
		if err != nil {
			logger.Error("Failed to dispatch queued event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.Error(err),
			)
			return fmt.Errorf("failed to dispatch event %s: %w", event.ID, err)
		}

		logger.Info("Queued event dispatched",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.String("outcome", string(outcome)),
		)
		return nil
	}
}

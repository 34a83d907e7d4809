package event_repo

import (
	"context"

	"storefront/internal/domain"
)

type ProcessedEventRepository interface {
	// Claim atomically records the event ID (insert-if-absent). Returns
	// false when another delivery already holds or processed it; the caller
	// must then exit without applying effects.
	Claim(ctx context.Context, q domain.Querier, record *domain.ProcessedEventRecord) (bool, error)
	UpdateOutcome(ctx context.Context, q domain.Querier, eventID string, outcome domain.EventOutcome) error
	Get(ctx context.Context, q domain.Querier, eventID string) (*domain.ProcessedEventRecord, error)
}

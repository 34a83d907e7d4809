package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/domain"
)

type ProcessedEventRepository struct{}

func NewProcessedEventRepository() *ProcessedEventRepository {
	return &ProcessedEventRepository{}
}

// Claim relies on the primary key on event_id: a concurrent claim for the
// same ID blocks until the winner commits, then reports zero rows affected,
// so the loser observes the duplicate and backs off.
func (r *ProcessedEventRepository) Claim(ctx context.Context, q domain.Querier, record *domain.ProcessedEventRecord) (bool, error) {
	query := `
		INSERT INTO processed_events (event_id, outcome, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING
	`
	res, err := q.ExecContext(ctx, query, record.EventID, string(record.Outcome), record.ProcessedAt)
	if err != nil {
		return false, fmt.Errorf("failed to claim event %s: %w", record.EventID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected for event claim: %w", err)
	}
	return rowsAffected == 1, nil
}

func (r *ProcessedEventRepository) UpdateOutcome(ctx context.Context, q domain.Querier, eventID string, outcome domain.EventOutcome) error {
	res, err := q.ExecContext(ctx, `UPDATE processed_events SET outcome = $1 WHERE event_id = $2`, string(outcome), eventID)
	if err != nil {
		return fmt.Errorf("failed to update outcome for event %s: %w", eventID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for outcome update: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("processed event %s not found for outcome update", eventID)
	}
	return nil
}

func (r *ProcessedEventRepository) Get(ctx context.Context, q domain.Querier, eventID string) (*domain.ProcessedEventRecord, error) {
	record := &domain.ProcessedEventRecord{}
	err := q.QueryRowContext(ctx,
		`SELECT event_id, outcome, processed_at FROM processed_events WHERE event_id = $1`, eventID,
	).Scan(&record.EventID, &record.Outcome, &record.ProcessedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get processed event %s: %w", eventID, err)
	}
	return record, nil
}

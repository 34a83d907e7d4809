package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/domain"
)

type MerchantRepository struct{}

func NewMerchantRepository() *MerchantRepository {
	return &MerchantRepository{}
}

// Upsert is keyed by the provider account ID; account.updated events may
// arrive in any order relative to the rest of the pipeline.
func (r *MerchantRepository) Upsert(ctx context.Context, q domain.Querier, merchant *domain.Merchant) error {
	query := `
		INSERT INTO merchants (account_id, charges_enabled, payouts_enabled, details_submitted, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id) DO UPDATE SET
			charges_enabled = EXCLUDED.charges_enabled,
			payouts_enabled = EXCLUDED.payouts_enabled,
			details_submitted = EXCLUDED.details_submitted,
			updated_at = EXCLUDED.updated_at
	`
	_, err := q.ExecContext(ctx, query,
		merchant.AccountID,
		merchant.ChargesEnabled,
		merchant.PayoutsEnabled,
		merchant.DetailsSubmitted,
		merchant.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert merchant %s: %w", merchant.AccountID, err)
	}
	return nil
}

func (r *MerchantRepository) Get(ctx context.Context, q domain.Querier, accountID string) (*domain.Merchant, error) {
	merchant := &domain.Merchant{}
	err := q.QueryRowContext(ctx,
		`SELECT account_id, charges_enabled, payouts_enabled, details_submitted, updated_at FROM merchants WHERE account_id = $1`,
		accountID,
	).Scan(&merchant.AccountID, &merchant.ChargesEnabled, &merchant.PayoutsEnabled, &merchant.DetailsSubmitted, &merchant.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get merchant %s: %w", accountID, err)
	}
	return merchant, nil
}

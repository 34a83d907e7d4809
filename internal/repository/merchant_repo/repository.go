package merchant_repo

import (
	"context"

	"storefront/internal/domain"
)

type MerchantRepository interface {
	Upsert(ctx context.Context, q domain.Querier, merchant *domain.Merchant) error
	Get(ctx context.Context, q domain.Querier, accountID string) (*domain.Merchant, error)
}

package order_repo

import (
	"context"

	"storefront/internal/domain"
)

type OrderRepository interface {
	// InsertIfAbsent creates the order unless one already exists for its
	// checkout session. Returns false when the session is already taken.
	InsertIfAbsent(ctx context.Context, q domain.Querier, order *domain.Order) (bool, error)
	GetByID(ctx context.Context, q domain.Querier, id string) (*domain.Order, error)
	GetBySession(ctx context.Context, q domain.Querier, sessionID string) (*domain.Order, error)
	// Update persists the order only when the stored status still equals
	// expected (optimistic guard against lost updates from concurrent
	// handlers). Returns false when the guard did not match.
	Update(ctx context.Context, q domain.Querier, order *domain.Order, expected domain.OrderStatus) (bool, error)
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"storefront/internal/domain"
)

type OrderRepository struct{}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{}
}

const orderColumns = `id, session_id, customer_email, customer_name, package_tier, amount_total, status, metadata, created_at, updated_at`

func (r *OrderRepository) InsertIfAbsent(ctx context.Context, q domain.Querier, order *domain.Order) (bool, error) {
	metadata, err := json.Marshal(order.Metadata)
	if err != nil {
		return false, fmt.Errorf("failed to marshal order metadata: %w", err)
	}

	query := `
		INSERT INTO orders (id, session_id, customer_email, customer_name, package_tier, amount_total, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (session_id) DO NOTHING
	`
	res, err := q.ExecContext(ctx, query,
		order.ID,
		order.SessionID,
		order.CustomerEmail,
		order.CustomerName,
		string(order.Tier),
		order.AmountTotal,
		string(order.Status),
		metadata,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert order: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected for order insert: %w", err)
	}
	return rowsAffected == 1, nil
}

func (r *OrderRepository) GetByID(ctx context.Context, q domain.Querier, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return scanOrder(q.QueryRowContext(ctx, query, id))
}

func (r *OrderRepository) GetBySession(ctx context.Context, q domain.Querier, sessionID string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE session_id = $1`
	return scanOrder(q.QueryRowContext(ctx, query, sessionID))
}

func (r *OrderRepository) Update(ctx context.Context, q domain.Querier, order *domain.Order, expected domain.OrderStatus) (bool, error) {
	metadata, err := json.Marshal(order.Metadata)
	if err != nil {
		return false, fmt.Errorf("failed to marshal order metadata: %w", err)
	}

	query := `
		UPDATE orders
		SET customer_email = $1, customer_name = $2, package_tier = $3, amount_total = $4, status = $5, metadata = $6, updated_at = $7
		WHERE id = $8 AND status = $9
	`
	res, err := q.ExecContext(ctx, query,
		order.CustomerEmail,
		order.CustomerName,
		string(order.Tier),
		order.AmountTotal,
		string(order.Status),
		metadata,
		order.UpdatedAt,
		order.ID,
		string(expected),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update order %s: %w", order.ID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected for order update: %w", err)
	}
	return rowsAffected == 1, nil
}

func scanOrder(row *sql.Row) (*domain.Order, error) {
	order := &domain.Order{}
	var metadata []byte
	err := row.Scan(
		&order.ID,
		&order.SessionID,
		&order.CustomerEmail,
		&order.CustomerName,
		&order.Tier,
		&order.AmountTotal,
		&order.Status,
		&metadata,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &order.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal order metadata: %w", err)
		}
	}
	if order.Metadata == nil {
		order.Metadata = map[string]string{}
	}
	return order, nil
}

package domain

import (
	"errors"
	"time"
)

type OrderStatus string

const (
	OrderStatusCreated    OrderStatus = "CREATED"
	OrderStatusPaid       OrderStatus = "PAID"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusFailed     OrderStatus = "FAILED"
)

type PackageTier string

const (
	TierLite    PackageTier = "lite"
	TierGrowth  PackageTier = "growth"
	TierPartner PackageTier = "partner"
)

var (
	ErrInvalidOrder      = errors.New("invalid order data")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrOrderNotFound     = errors.New("order not found")
)

// Order is a customer purchase. One order maps to exactly one checkout
// session; SessionID is unique in the store. Status changes only through
// the Mark*/Begin* transition methods.
type Order struct {
	ID            string
	SessionID     string
	CustomerEmail string
	CustomerName  string
	Tier          PackageTier
	AmountTotal   int64
	Status        OrderStatus
	Metadata      map[string]string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NewOrder(id, sessionID string, tier PackageTier) (*Order, error) {
	if id == "" || sessionID == "" {
		return nil, ErrInvalidOrder
	}
	now := time.Now().UTC()
	return &Order{
		ID:        id,
		SessionID: sessionID,
		Tier:      tier,
		Status:    OrderStatusCreated,
		Metadata:  map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func ValidTier(t PackageTier) bool {
	switch t {
	case TierLite, TierGrowth, TierPartner:
		return true
	}
	return false
}

// MarkPaid transitions CREATED -> PAID. Any later status is rejected so a
// duplicate or out-of-order payment event cannot regress the order.
func (o *Order) MarkPaid() error {
	if o.Status != OrderStatusCreated {
		return ErrInvalidTransition
	}
	o.Status = OrderStatusPaid
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// BeginDelivery transitions PAID -> PROCESSING. A FAILED order may re-enter
// PROCESSING so delivery can be retried.
func (o *Order) BeginDelivery() error {
	if o.Status != OrderStatusPaid && o.Status != OrderStatusFailed {
		return ErrInvalidTransition
	}
	o.Status = OrderStatusProcessing
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (o *Order) MarkDelivered() error {
	if o.Status != OrderStatusProcessing {
		return ErrInvalidTransition
	}
	o.Status = OrderStatusDelivered
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkFailed is reachable from any non-terminal state. The order is kept
// with the cause recorded in metadata so it can be redelivered later.
func (o *Order) MarkFailed(reason string) error {
	if o.Status == OrderStatusDelivered {
		return ErrInvalidTransition
	}
	o.Status = OrderStatusFailed
	if o.Metadata == nil {
		o.Metadata = map[string]string{}
	}
	o.Metadata["failure_reason"] = reason
	o.UpdatedAt = time.Now().UTC()
	return nil
}

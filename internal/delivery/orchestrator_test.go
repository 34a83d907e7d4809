package delivery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storefront/internal/domain"
)

type fakeOrderStore struct {
	order   *domain.Order
	updates int
}

func (f *fakeOrderStore) Update(ctx context.Context, q domain.Querier, order *domain.Order, expected domain.OrderStatus) (bool, error) {
	if f.order != nil && f.order.Status != expected {
		return false, nil
	}
	clone := *order
	f.order = &clone
	f.updates++
	return true, nil
}

func paidOrder(t *testing.T) *domain.Order {
	t.Helper()
	order, err := domain.NewOrder("ord-1", "cs_1", domain.TierLite)
	require.NoError(t, err)
	require.NoError(t, order.MarkPaid())
	return order
}

func countingTask(name string, counter *atomic.Int32, err error) Task {
	return Task{
		Name: name,
		Run: func(ctx context.Context, order *domain.Order) error {
			counter.Add(1)
			return err
		},
	}
}

func TestDeliver_AllTasksSucceed(t *testing.T) {
	var a, b atomic.Int32
	order := paidOrder(t)
	stored := *order
	store := &fakeOrderStore{order: &stored}

	o := NewOrchestrator(nil, store, []Task{
		countingTask("kickoff_email", &a, nil),
		countingTask("welcome_packet", &b, nil),
	}, zap.NewNop())

	result, err := o.Deliver(context.Background(), order)
	require.NoError(t, err)
	assert.True(t, result.AllDelivered())
	assert.Equal(t, []string{"kickoff_email", "welcome_packet"}, result.Delivered)
	assert.Equal(t, domain.OrderStatusDelivered, order.Status)
	assert.Equal(t, "true", order.Metadata["delivered_kickoff_email"])
	assert.Equal(t, int32(1), a.Load())
	assert.Equal(t, int32(1), b.Load())
}

func TestDeliver_PartialFailureThenRetryOnlyFailedTask(t *testing.T) {
	var a, b atomic.Int32
	var cRuns atomic.Int32
	cShouldFail := true
	order := paidOrder(t)
	stored := *order
	store := &fakeOrderStore{order: &stored}

	taskC := Task{
		Name: "c",
		Run: func(ctx context.Context, order *domain.Order) error {
			cRuns.Add(1)
			if cShouldFail {
				return errors.New("document generation timed out")
			}
			return nil
		},
	}

	o := NewOrchestrator(nil, store, []Task{
		countingTask("a", &a, nil),
		countingTask("b", &b, nil),
		taskC,
	}, zap.NewNop())

	result, err := o.Deliver(context.Background(), order)
	require.NoError(t, err)
	assert.False(t, result.AllDelivered())
	assert.Equal(t, []string{"a", "b"}, result.Delivered)
	assert.Equal(t, map[string]string{"c": "document generation timed out"}, result.Failed)
	assert.Equal(t, domain.OrderStatusFailed, order.Status)
	assert.Contains(t, order.Metadata["delivery_failed"], `"c"`)

	// Retry: only the failed task fires again.
	cShouldFail = false
	result, err = o.Deliver(context.Background(), order)
	require.NoError(t, err)
	assert.True(t, result.AllDelivered())
	assert.ElementsMatch(t, []string{"a", "b", "c"}, result.Delivered)
	assert.Equal(t, domain.OrderStatusDelivered, order.Status)
	assert.NotContains(t, order.Metadata, "delivery_failed")

	assert.Equal(t, int32(1), a.Load())
	assert.Equal(t, int32(1), b.Load())
	assert.Equal(t, int32(2), cRuns.Load())
}

func TestDeliver_RejectsNonDeliverableStates(t *testing.T) {
	order, err := domain.NewOrder("ord-1", "cs_1", domain.TierLite)
	require.NoError(t, err)
	store := &fakeOrderStore{order: order}

	o := NewOrchestrator(nil, store, nil, zap.NewNop())

	_, err = o.Deliver(context.Background(), order)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestDeliver_LosesOptimisticGuardExitsCleanly(t *testing.T) {
	order := paidOrder(t)
	// Store already shows the order mid-delivery elsewhere.
	concurrent := *order
	require.NoError(t, concurrent.BeginDelivery())
	store := &fakeOrderStore{order: &concurrent}

	var runs atomic.Int32
	o := NewOrchestrator(nil, store, []Task{countingTask("a", &runs, nil)}, zap.NewNop())

	_, err := o.Deliver(context.Background(), order)
	assert.ErrorIs(t, err, ErrDeliveryInProgress)
	assert.Equal(t, int32(0), runs.Load())
}

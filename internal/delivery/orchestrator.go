package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/metrics"
)

// ErrDeliveryInProgress means another invocation won the optimistic guard on
// the order row; the loser exits without running any task.
var ErrDeliveryInProgress = errors.New("delivery already in progress for order")

// OrderStore is the slice of the order repository the orchestrator needs.
// Metadata (completion flags, failure detail) rides on the guarded Update so
// it lands atomically with the status change.
type OrderStore interface {
	Update(ctx context.Context, q domain.Querier, order *domain.Order, expected domain.OrderStatus) (bool, error)
}

// Task is one independent deliverable. Run must be safe to re-invoke; the
// orchestrator additionally skips tasks whose completion flag is already set
// on the order metadata, so a retried delivery only fires what failed.
type Task struct {
	Name string
	Run  func(ctx context.Context, order *domain.Order) error
}

// Orchestrator fires all deliverable tasks for a paid order concurrently and
// tracks per-task success (bulkhead: one failure does not abort the others).
type Orchestrator struct {
	db     domain.Querier
	store  OrderStore
	tasks  []Task
	logger *zap.Logger
}

func NewOrchestrator(db domain.Querier, store OrderStore, tasks []Task, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		db:     db,
		store:  store,
		tasks:  tasks,
		logger: logger,
	}
}

func completionKey(task string) string {
	return "delivered_" + task
}

// Deliver moves the order into PROCESSING, runs pending tasks, and lands the
// order on DELIVERED (all tasks done) or FAILED (failed subset recorded in
// metadata under delivery_failed for operator visibility and retry).
func (o *Orchestrator) Deliver(ctx context.Context, order *domain.Order) (domain.DeliveryResult, error) {
	result := domain.DeliveryResult{Failed: map[string]string{}}

	expected := order.Status
	if err := order.BeginDelivery(); err != nil {
		return result, fmt.Errorf("order %s cannot enter delivery from %s: %w", order.ID, expected, err)
	}
	ok, err := o.store.Update(ctx, o.db, order, expected)
	if err != nil {
		return result, fmt.Errorf("failed to move order %s to PROCESSING: %w", order.ID, err)
	}
	if !ok {
		return result, ErrDeliveryInProgress
	}

	var pending []Task
	for _, task := range o.tasks {
		if order.Metadata[completionKey(task.Name)] == "true" {
			// Already sent on a previous attempt; counts as delivered
			// without re-firing the side effect.
			result.Delivered = append(result.Delivered, task.Name)
			continue
		}
		pending = append(pending, task)
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, task := range pending {
		wg.Add(1)
		go func(task Task) {
			defer wg.Done()
			if err := task.Run(ctx, order); err != nil {
				metrics.DeliveryTasksFailedTotal.Inc()
				o.logger.Error("Deliverable task failed",
					zap.String("order_id", order.ID),
					zap.String("task", task.Name),
					zap.Error(err),
				)
				mu.Lock()
				result.Failed[task.Name] = err.Error()
				mu.Unlock()
				return
			}
			o.logger.Info("Deliverable task completed",
				zap.String("order_id", order.ID),
				zap.String("task", task.Name),
			)
			mu.Lock()
			result.Delivered = append(result.Delivered, task.Name)
			mu.Unlock()
		}(task)
	}
	wg.Wait()
	sort.Strings(result.Delivered)

	for _, name := range result.Delivered {
		order.Metadata[completionKey(name)] = "true"
	}

	if result.AllDelivered() {
		delete(order.Metadata, "delivery_failed")
		delete(order.Metadata, "failure_reason")
		if err := order.MarkDelivered(); err != nil {
			return result, err
		}
	} else {
		failedJSON, _ := json.Marshal(result.Failed)
		order.Metadata["delivery_failed"] = string(failedJSON)
		names := make([]string, 0, len(result.Failed))
		for name := range result.Failed {
			names = append(names, name)
		}
		sort.Strings(names)
		if err := order.MarkFailed("deliverables failed: " + strings.Join(names, ", ")); err != nil {
			return result, err
		}
	}

	ok, err = o.store.Update(ctx, o.db, order, domain.OrderStatusProcessing)
	if err != nil {
		return result, fmt.Errorf("failed to persist delivery outcome for order %s: %w", order.ID, err)
	}
	if !ok {
		return result, fmt.Errorf("order %s changed status during delivery", order.ID)
	}

	o.logger.Info("Delivery finished",
		zap.String("order_id", order.ID),
		zap.String("status", string(order.Status)),
		zap.Strings("delivered", result.Delivered),
		zap.Int("failed", len(result.Failed)),
	)
	return result, nil
}

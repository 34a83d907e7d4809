package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/metrics"
	"storefront/internal/payment"
	"storefront/internal/repository/event_repo"
	"storefront/internal/repository/merchant_repo"
	"storefront/internal/repository/order_repo"
)

type Outcome string

const (
	OutcomeProcessed        Outcome = "PROCESSED"
	OutcomeAlreadyProcessed Outcome = "ALREADY_PROCESSED"
	OutcomeSkipped          Outcome = "SKIPPED"
)

// Deliverer runs downstream side effects for a freshly paid order.
type Deliverer interface {
	Deliver(ctx context.Context, order *domain.Order) (domain.DeliveryResult, error)
}

// Dispatcher routes a queued event by type to its handler. The idempotency
// claim and the order mutation commit in one transaction: either both land
// or the event stays unclaimed and the queue redelivers it.
type Dispatcher struct {
	db        *sql.DB
	orders    order_repo.OrderRepository
	events    event_repo.ProcessedEventRepository
	merchants merchant_repo.MerchantRepository
	sessions  payment.SessionClient // nil when Stripe is unconfigured
	deliverer Deliverer             // nil disables post-payment delivery
	logger    *zap.Logger
}

func NewDispatcher(
	db *sql.DB,
	orders order_repo.OrderRepository,
	events event_repo.ProcessedEventRepository,
	merchants merchant_repo.MerchantRepository,
	sessions payment.SessionClient,
	deliverer Deliverer,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		db:        db,
		orders:    orders,
		events:    events,
		merchants: merchants,
		sessions:  sessions,
		deliverer: deliverer,
		logger:    logger,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, event *domain.Event) (Outcome, error) {
	timer := prometheus.NewTimer(metrics.DispatchDuration)
	defer timer.ObserveDuration()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction for event %s: %w", event.ID, err)
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Recovered panic during event dispatch, rolling back",
				zap.String("event_id", event.ID), zap.Any("panic", r))
			tx.Rollback()
			panic(r)
		}
	}()

	claimed, err := d.events.Claim(ctx, tx, &domain.ProcessedEventRecord{
		EventID:     event.ID,
		Outcome:     domain.OutcomeProcessed,
		ProcessedAt: time.Now().UTC(),
	})
	if err != nil {
		tx.Rollback()
		return "", fmt.Errorf("failed to claim event %s: %w", event.ID, err)
	}
	if !claimed {
		tx.Rollback()
		metrics.EventsDuplicateTotal.Inc()
		d.logger.Info("Event already processed, skipping (idempotent no-op)",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
		)
		return OutcomeAlreadyProcessed, nil
	}

	var paidOrder *domain.Order
	outcome := OutcomeProcessed

	switch event.Type {
	case domain.EventCheckoutSessionCompleted:
		paidOrder, outcome, err = d.handleCheckoutCompleted(ctx, tx, event)
	case domain.EventPaymentIntentSucceeded:
		paidOrder, outcome, err = d.handlePaymentSucceeded(ctx, tx, event)
	case domain.EventAccountUpdated:
		outcome, err = d.handleAccountUpdated(ctx, tx, event)
	default:
		// Unknown event types must not fail the pipeline.
		d.logger.Info("Unrecognized event type, acknowledging without effects",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
		)
		outcome = OutcomeSkipped
	}
	if err != nil {
		d.logger.Error("Event handler failed, rolling back for queue retry",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
		tx.Rollback()
		return "", fmt.Errorf("failed to handle event %s: %w", event.ID, err)
	}

	if outcome == OutcomeSkipped {
		if err := d.events.UpdateOutcome(ctx, tx, event.ID, domain.OutcomeSkipped); err != nil {
			tx.Rollback()
			return "", fmt.Errorf("failed to record skipped outcome for event %s: %w", event.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction for event %s: %w", event.ID, err)
	}
	metrics.EventsProcessedTotal.Inc()

	// Delivery runs after the event commit: its side effects are not
	// transactional and each task guards itself with a completion flag.
	// A failed delivery leaves the order in FAILED for manual redelivery.
	if paidOrder != nil && d.deliverer != nil {
		if _, deliverErr := d.deliverer.Deliver(ctx, paidOrder); deliverErr != nil {
			d.logger.Error("Delivery failed after payment",
				zap.String("event_id", event.ID),
				zap.String("order_id", paidOrder.ID),
				zap.Error(deliverErr),
			)
		}
	}

	return outcome, nil
}

func (d *Dispatcher) handleCheckoutCompleted(ctx context.Context, tx *sql.Tx, event *domain.Event) (*domain.Order, Outcome, error) {
	payload, err := event.DecodeCheckoutSession()
	if err != nil {
		d.logger.Error("Malformed checkout session payload, acknowledging without effects",
			zap.String("event_id", event.ID), zap.Error(err))
		return nil, OutcomeSkipped, nil
	}
	if payload.SessionID == "" {
		d.logger.Warn("Checkout session event without session ID, skipping",
			zap.String("event_id", event.ID))
		return nil, OutcomeSkipped, nil
	}

	email, name, tier, amount := extractCustomer(payload)
	if (email == "" || tier == "") && d.sessions != nil {
		// Thin payloads happen; ask the provider for the full session.
		session, retrieveErr := d.sessions.RetrieveSession(ctx, payload.SessionID)
		if retrieveErr != nil {
			return nil, "", fmt.Errorf("failed to enrich session %s: %w", payload.SessionID, retrieveErr)
		}
		if email == "" {
			email = session.CustomerEmail
		}
		if name == "" {
			name = session.CustomerName
		}
		if tier == "" {
			tier = session.Tier
		}
		if amount == 0 {
			amount = session.AmountTotal
		}
	}

	order, err := d.markSessionPaid(ctx, tx, payload.SessionID, email, name, tier, amount)
	if err != nil {
		return nil, "", err
	}
	return order, OutcomeProcessed, nil
}

func (d *Dispatcher) handlePaymentSucceeded(ctx context.Context, tx *sql.Tx, event *domain.Event) (*domain.Order, Outcome, error) {
	payload, err := event.DecodePaymentIntent()
	if err != nil {
		d.logger.Error("Malformed payment intent payload, acknowledging without effects",
			zap.String("event_id", event.ID), zap.Error(err))
		return nil, OutcomeSkipped, nil
	}
	sessionID := payload.SessionID()
	if sessionID == "" {
		d.logger.Warn("Payment intent without checkout session reference, skipping",
			zap.String("event_id", event.ID),
			zap.String("intent_id", payload.IntentID),
		)
		return nil, OutcomeSkipped, nil
	}

	order, err := d.markSessionPaid(ctx, tx, sessionID, "", "", "", payload.Amount)
	if err != nil {
		return nil, "", err
	}
	return order, OutcomeProcessed, nil
}

// markSessionPaid upserts the order for the session and applies the guarded
// CREATED -> PAID transition. Returns the order only when this call made it
// paid; an order already PAID or later is left untouched (out-of-order and
// duplicate events must not regress state).
func (d *Dispatcher) markSessionPaid(ctx context.Context, tx *sql.Tx, sessionID, email, name string, tier domain.PackageTier, amount int64) (*domain.Order, error) {
	placeholder, err := domain.NewOrder(uuid.NewString(), sessionID, tier)
	if err != nil {
		return nil, err
	}
	if _, err := d.orders.InsertIfAbsent(ctx, tx, placeholder); err != nil {
		return nil, err
	}

	order, err := d.orders.GetBySession(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusCreated {
		d.logger.Info("Order already paid or later, ignoring payment event",
			zap.String("session_id", sessionID),
			zap.String("status", string(order.Status)),
		)
		return nil, nil
	}

	if email != "" {
		order.CustomerEmail = email
	}
	if name != "" {
		order.CustomerName = name
	}
	if tier != "" {
		order.Tier = tier
	}
	if amount != 0 {
		order.AmountTotal = amount
	}
	if err := order.MarkPaid(); err != nil {
		return nil, err
	}

	ok, err := d.orders.Update(ctx, tx, order, domain.OrderStatusCreated)
	if err != nil {
		return nil, err
	}
	if !ok {
		// A concurrent handler moved the order first; nothing left to do.
		d.logger.Info("Order status changed concurrently, ignoring payment event",
			zap.String("session_id", sessionID))
		return nil, nil
	}

	d.logger.Info("Order marked paid",
		zap.String("order_id", order.ID),
		zap.String("session_id", sessionID),
		zap.String("tier", string(order.Tier)),
	)
	return order, nil
}

func (d *Dispatcher) handleAccountUpdated(ctx context.Context, tx *sql.Tx, event *domain.Event) (Outcome, error) {
	payload, err := event.DecodeAccount()
	if err != nil {
		d.logger.Error("Malformed account payload, acknowledging without effects",
			zap.String("event_id", event.ID), zap.Error(err))
		return OutcomeSkipped, nil
	}
	if payload.AccountID == "" {
		return OutcomeSkipped, nil
	}

	merchant := &domain.Merchant{
		AccountID:        payload.AccountID,
		ChargesEnabled:   payload.ChargesEnabled,
		PayoutsEnabled:   payload.PayoutsEnabled,
		DetailsSubmitted: payload.DetailsSubmitted,
		UpdatedAt:        time.Now().UTC(),
	}
	if err := d.merchants.Upsert(ctx, tx, merchant); err != nil {
		return "", err
	}

	d.logger.Info("Merchant KYC status updated",
		zap.String("account_id", payload.AccountID),
		zap.Bool("charges_enabled", payload.ChargesEnabled),
		zap.Bool("details_submitted", payload.DetailsSubmitted),
	)
	return OutcomeProcessed, nil
}

func extractCustomer(p *domain.CheckoutSessionPayload) (email, name string, tier domain.PackageTier, amount int64) {
	if p.CustomerInfo != nil {
		email = p.CustomerInfo.Email
		name = p.CustomerInfo.Name
	}
	return email, name, p.Tier(), p.AmountTotal
}

// Redeliver re-runs delivery for a failed order; only tasks without a
// completion flag fire again.
func (d *Dispatcher) Redeliver(ctx context.Context, orderID string) (domain.DeliveryResult, error) {
	if d.deliverer == nil {
		return domain.DeliveryResult{}, errors.New("delivery is not configured")
	}
	order, err := d.orders.GetByID(ctx, d.db, orderID)
	if err != nil {
		return domain.DeliveryResult{}, err
	}
	if order.Status != domain.OrderStatusFailed && order.Status != domain.OrderStatusPaid {
		return domain.DeliveryResult{}, fmt.Errorf("order %s is %s: %w", orderID, order.Status, domain.ErrInvalidTransition)
	}
	return d.deliverer.Deliver(ctx, order)
}

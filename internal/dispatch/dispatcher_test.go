package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/payment"
)

type fakeEventRepo struct {
	claimed  map[string]bool
	outcomes map[string]domain.EventOutcome
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{claimed: map[string]bool{}, outcomes: map[string]domain.EventOutcome{}}
}

func (f *fakeEventRepo) Claim(ctx context.Context, q domain.Querier, record *domain.ProcessedEventRecord) (bool, error) {
	if f.claimed[record.EventID] {
		return false, nil
	}
	f.claimed[record.EventID] = true
	f.outcomes[record.EventID] = record.Outcome
	return true, nil
}

func (f *fakeEventRepo) UpdateOutcome(ctx context.Context, q domain.Querier, eventID string, outcome domain.EventOutcome) error {
	f.outcomes[eventID] = outcome
	return nil
}

func (f *fakeEventRepo) Get(ctx context.Context, q domain.Querier, eventID string) (*domain.ProcessedEventRecord, error) {
	return &domain.ProcessedEventRecord{EventID: eventID, Outcome: f.outcomes[eventID], ProcessedAt: time.Now()}, nil
}

type fakeOrderRepo struct {
	bySession map[string]*domain.Order
	updates   int
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{bySession: map[string]*domain.Order{}}
}

func (f *fakeOrderRepo) InsertIfAbsent(ctx context.Context, q domain.Querier, order *domain.Order) (bool, error) {
	if _, ok := f.bySession[order.SessionID]; ok {
		return false, nil
	}
	clone := *order
	f.bySession[order.SessionID] = &clone
	return true, nil
}

func (f *fakeOrderRepo) GetByID(ctx context.Context, q domain.Querier, id string) (*domain.Order, error) {
	for _, order := range f.bySession {
		if order.ID == id {
			clone := *order
			return &clone, nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

func (f *fakeOrderRepo) GetBySession(ctx context.Context, q domain.Querier, sessionID string) (*domain.Order, error) {
	order, ok := f.bySession[sessionID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	clone := *order
	return &clone, nil
}

func (f *fakeOrderRepo) Update(ctx context.Context, q domain.Querier, order *domain.Order, expected domain.OrderStatus) (bool, error) {
	stored, ok := f.bySession[order.SessionID]
	if !ok || stored.Status != expected {
		return false, nil
	}
	clone := *order
	f.bySession[order.SessionID] = &clone
	f.updates++
	return true, nil
}

type fakeMerchantRepo struct {
	upserts []*domain.Merchant
}

func (f *fakeMerchantRepo) Upsert(ctx context.Context, q domain.Querier, merchant *domain.Merchant) error {
	f.upserts = append(f.upserts, merchant)
	return nil
}

func (f *fakeMerchantRepo) Get(ctx context.Context, q domain.Querier, accountID string) (*domain.Merchant, error) {
	for _, m := range f.upserts {
		if m.AccountID == accountID {
			return m, nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

type fakeDeliverer struct {
	calls  []*domain.Order
	result domain.DeliveryResult
}

func (f *fakeDeliverer) Deliver(ctx context.Context, order *domain.Order) (domain.DeliveryResult, error) {
	f.calls = append(f.calls, order)
	return f.result, nil
}

type fixture struct {
	dispatcher *Dispatcher
	events     *fakeEventRepo
	orders     *fakeOrderRepo
	merchants  *fakeMerchantRepo
	deliverer  *fakeDeliverer
	mock       sqlmock.Sqlmock
}

func newFixture(t *testing.T, sessions payment.SessionClient) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		events:    newFakeEventRepo(),
		orders:    newFakeOrderRepo(),
		merchants: &fakeMerchantRepo{},
		deliverer: &fakeDeliverer{},
		mock:      mock,
	}
	f.dispatcher = NewDispatcher(db, f.orders, f.events, f.merchants, sessions, f.deliverer, zap.NewNop())
	return f
}

func checkoutEvent(id, sessionID string) *domain.Event {
	return &domain.Event{
		ID:         id,
		Type:       domain.EventCheckoutSessionCompleted,
		Payload:    []byte(`{"id":"` + sessionID + `","amount_total":99700,"metadata":{"package_tier":"lite"},"customer_details":{"email":"a@b.c","name":"Ada"}}`),
		ReceivedAt: time.Now(),
	}
}

func TestDispatch_CheckoutCompletedCreatesPaidOrder(t *testing.T) {
	f := newFixture(t, nil)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	outcome, err := f.dispatcher.Dispatch(context.Background(), checkoutEvent("evt_1", "cs_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	order := f.orders.bySession["cs_1"]
	require.NotNil(t, order)
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
	assert.Equal(t, "a@b.c", order.CustomerEmail)
	assert.Equal(t, domain.TierLite, order.Tier)
	assert.Equal(t, int64(99700), order.AmountTotal)

	require.Len(t, f.deliverer.calls, 1)
	assert.Equal(t, domain.OutcomeProcessed, f.events.outcomes["evt_1"])
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDispatch_RedeliveredEventIsNoOp(t *testing.T) {
	// The same event ID delivered three times applies effects exactly once.
	f := newFixture(t, nil)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	event := checkoutEvent("evt_1", "cs_1")

	outcome, err := f.dispatcher.Dispatch(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	for i := 0; i < 2; i++ {
		outcome, err = f.dispatcher.Dispatch(context.Background(), event)
		require.NoError(t, err)
		assert.Equal(t, OutcomeAlreadyProcessed, outcome)
	}

	assert.Len(t, f.deliverer.calls, 1)
	assert.Equal(t, 1, f.orders.updates)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDispatch_ReplayCannotRegressDeliveredOrder(t *testing.T) {
	f := newFixture(t, nil)

	delivered, err := domain.NewOrder("ord-1", "cs_1", domain.TierLite)
	require.NoError(t, err)
	require.NoError(t, delivered.MarkPaid())
	require.NoError(t, delivered.BeginDelivery())
	require.NoError(t, delivered.MarkDelivered())
	f.orders.bySession["cs_1"] = delivered

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	// A distinct event ID replaying an earlier checkout for the session.
	outcome, err := f.dispatcher.Dispatch(context.Background(), checkoutEvent("evt_replay", "cs_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	assert.Equal(t, domain.OrderStatusDelivered, f.orders.bySession["cs_1"].Status)
	assert.Empty(t, f.deliverer.calls)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDispatch_PaymentSucceededMarksExistingOrderPaid(t *testing.T) {
	f := newFixture(t, nil)

	created, err := domain.NewOrder("ord-1", "cs_1", domain.TierGrowth)
	require.NoError(t, err)
	f.orders.bySession["cs_1"] = created

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	event := &domain.Event{
		ID:      "evt_pi",
		Type:    domain.EventPaymentIntentSucceeded,
		Payload: []byte(`{"id":"pi_1","amount":299700,"metadata":{"checkout_session_id":"cs_1"}}`),
	}
	outcome, err := f.dispatcher.Dispatch(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
	assert.Equal(t, domain.OrderStatusPaid, f.orders.bySession["cs_1"].Status)
	assert.Len(t, f.deliverer.calls, 1)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDispatch_PaymentWithoutSessionReferenceIsSkipped(t *testing.T) {
	f := newFixture(t, nil)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	event := &domain.Event{
		ID:      "evt_pi",
		Type:    domain.EventPaymentIntentSucceeded,
		Payload: []byte(`{"id":"pi_1","amount":100}`),
	}
	outcome, err := f.dispatcher.Dispatch(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Equal(t, domain.OutcomeSkipped, f.events.outcomes["evt_pi"])
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDispatch_AccountUpdated(t *testing.T) {
	f := newFixture(t, nil)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	event := &domain.Event{
		ID:      "evt_acct",
		Type:    domain.EventAccountUpdated,
		Payload: []byte(`{"id":"acct_1","charges_enabled":true,"payouts_enabled":false,"details_submitted":true}`),
	}
	outcome, err := f.dispatcher.Dispatch(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	require.Len(t, f.merchants.upserts, 1)
	assert.Equal(t, "acct_1", f.merchants.upserts[0].AccountID)
	assert.True(t, f.merchants.upserts[0].ChargesEnabled)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDispatch_UnknownEventTypeAcknowledged(t *testing.T) {
	f := newFixture(t, nil)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	event := &domain.Event{
		ID:      "evt_unknown",
		Type:    domain.EventType("invoice.finalized"),
		Payload: []byte(`{}`),
	}
	outcome, err := f.dispatcher.Dispatch(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Equal(t, domain.OutcomeSkipped, f.events.outcomes["evt_unknown"])
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRedeliver_RequiresFailedOrPaidOrder(t *testing.T) {
	f := newFixture(t, nil)

	order, err := domain.NewOrder("ord-1", "cs_1", domain.TierLite)
	require.NoError(t, err)
	f.orders.bySession["cs_1"] = order

	_, err = f.dispatcher.Redeliver(context.Background(), "ord-1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.dispatcher.Redeliver(context.Background(), "ord-missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	require.NoError(t, order.MarkPaid())
	require.NoError(t, order.BeginDelivery())
	require.NoError(t, order.MarkFailed("kickoff bounce"))

	_, err = f.dispatcher.Redeliver(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Len(t, f.deliverer.calls, 1)
}

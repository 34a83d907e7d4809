package api_http

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"storefront/internal/dispatch"
	"storefront/internal/domain"
	"storefront/internal/metrics"
	"storefront/internal/payment"
	"storefront/internal/repository/order_repo"
	"storefront/internal/webhook"
)

const maxWebhookBodyBytes = 1 << 20 // provider payloads are well under 1MB

// EventPublisher hands a verified event to the asynchronous queue (or the
// inline fallback).
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.Event) error
}

// EventDispatcher is the queue-side entry point, also used for manual
// redelivery.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event *domain.Event) (dispatch.Outcome, error)
	Redeliver(ctx context.Context, orderID string) (domain.DeliveryResult, error)
}

type Handler struct {
	verifier    *webhook.Verifier
	publisher   EventPublisher
	dispatcher  EventDispatcher
	sessions    payment.SessionClient // nil when Stripe is unconfigured
	orders      order_repo.OrderRepository
	db          *sql.DB
	baseURL     string
	hasSecret   bool
	bridgeToken string // shared secret for the queue bridge endpoint
	logger      *zap.Logger
}

func NewHandler(
	verifier *webhook.Verifier,
	publisher EventPublisher,
	dispatcher EventDispatcher,
	sessions payment.SessionClient,
	orders order_repo.OrderRepository,
	db *sql.DB,
	baseURL string,
	hasSecret bool,
	bridgeToken string,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		verifier:    verifier,
		publisher:   publisher,
		dispatcher:  dispatcher,
		sessions:    sessions,
		orders:      orders,
		db:          db,
		baseURL:     baseURL,
		hasSecret:   hasSecret,
		bridgeToken: bridgeToken,
		logger:      logger,
	}
}

// WebhookHandler accepts provider webhooks. The raw body is verified before
// any JSON interpretation. 400 rejects bad signatures, 503 signals missing
// configuration, 500 makes the provider redeliver.
func (h *Handler) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	metrics.WebhookEventsReceivedTotal.Inc()

	if !h.hasSecret {
		h.logger.Error("Webhook received but signing secret is not configured")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "webhook integration is not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		return
	}

	event, err := h.verifier.Verify(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, webhook.ErrMissingSecret) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "webhook integration is not configured"})
			return
		}
		metrics.WebhookEventsRejectedTotal.Inc()
		h.logger.Warn("Webhook rejected", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := h.publisher.Publish(r.Context(), event); err != nil {
		h.logger.Error("Failed to publish verified event",
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue event"})
		return
	}
	metrics.EventsPublishedTotal.Inc()

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// QueueDispatchHandler receives an already-verified event forwarded by the
// internal queue bridge and runs the dispatcher. The bridge authenticates
// with a shared bearer token; events here skip signature verification, so an
// unauthenticated caller must never reach the dispatcher. A 500 keeps the
// message uncommitted upstream so it is retried.
func (h *Handler) QueueDispatchHandler(w http.ResponseWriter, r *http.Request) {
	if h.bridgeToken == "" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "queue bridge is not configured"})
		return
	}
	presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(presented), []byte(h.bridgeToken)) != 1 {
		h.logger.Warn("Queue bridge request rejected: bad or missing token")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var event domain.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid event body"})
		return
	}
	if event.ID == "" || event.Type == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "event id and type are required"})
		return
	}

	outcome, err := h.dispatcher.Dispatch(r.Context(), &event)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "dispatch failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

type createCheckoutRequest struct {
	Tier  string `json:"tier"`
	Email string `json:"email"`
}

type createCheckoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// CreateCheckoutSessionHandler creates a provider checkout session for a
// package tier and pre-creates the order row keyed by the session.
func (h *Handler) CreateCheckoutSessionHandler(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "payments are not configured"})
		return
	}

	var req createCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	tier := domain.PackageTier(req.Tier)
	if !domain.ValidTier(tier) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "unknown package tier"})
		return
	}

	session, err := h.sessions.CreateCheckoutSession(r.Context(), payment.CheckoutParams{
		Tier:          tier,
		CustomerEmail: req.Email,
		SuccessURL:    h.baseURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     h.baseURL + "/checkout/cancelled",
	})
	if err != nil {
		h.logger.Error("Failed to create checkout session", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create checkout session"})
		return
	}

	order, err := domain.NewOrder(newOrderID(), session.ID, tier)
	if err != nil {
		// The webhook handler upserts by session later; losing the
		// pre-create only delays order visibility.
		h.logger.Warn("Failed to build order for session",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
	} else {
		order.CustomerEmail = req.Email
		if amount, ok := payment.TierAmount(tier); ok {
			order.AmountTotal = amount
		}
		if _, insertErr := h.orders.InsertIfAbsent(r.Context(), h.db, order); insertErr != nil {
			h.logger.Warn("Failed to pre-create order for session",
				zap.String("session_id", session.ID),
				zap.Error(insertErr),
			)
		}
	}

	writeJSON(w, http.StatusOK, createCheckoutResponse{SessionID: session.ID, URL: session.URL})
}

type orderResponse struct {
	SessionID     string `json:"session_id"`
	Status        string `json:"status"`
	Tier          string `json:"tier"`
	AmountTotal   int64  `json:"amount_total"`
	FailureDetail string `json:"failure_detail,omitempty"`
}

// GetOrderBySessionHandler looks an order up by its checkout session
// reference. The session ID is the ownership capability; raw order IDs are
// never exposed here.
func (h *Handler) GetOrderBySessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	order, err := h.orders.GetBySession(r.Context(), h.db, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
			return
		}
		h.logger.Error("Failed to get order by session", zap.String("session_id", sessionID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, orderResponse{
		SessionID:     order.SessionID,
		Status:        string(order.Status),
		Tier:          string(order.Tier),
		AmountTotal:   order.AmountTotal,
		FailureDetail: order.Metadata["delivery_failed"],
	})
}

type redeliverResponse struct {
	Delivered []string          `json:"delivered"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// RedeliverHandler re-runs delivery for a failed order. A partial result
// answers 207 so the operator sees exactly which deliverables still fail.
func (h *Handler) RedeliverHandler(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	result, err := h.dispatcher.Redeliver(r.Context(), orderID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		case errors.Is(err, domain.ErrInvalidTransition):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			h.logger.Error("Redelivery failed", zap.String("order_id", orderID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "redelivery failed"})
		}
		return
	}

	status := http.StatusOK
	if !result.AllDelivered() {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, redeliverResponse{Delivered: result.Delivered, Failed: result.Failed})
}

func newOrderID() string {
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

package domain

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventCheckoutSessionCompleted EventType = "checkout.session.completed"
	EventPaymentIntentSucceeded   EventType = "payment_intent.succeeded"
	EventAccountUpdated           EventType = "account.updated"
)

// Event is a verified notification from the payment provider. Payload holds
// the raw `data.object` document; the typed Decode* helpers narrow it per
// event type. Immutable once received.
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// CheckoutSessionPayload is the narrowed shape of a checkout.session.completed
// data object.
type CheckoutSessionPayload struct {
	SessionID     string            `json:"id"`
	AmountTotal   int64             `json:"amount_total"`
	PaymentStatus string            `json:"payment_status"`
	Metadata      map[string]string `json:"metadata"`
	CustomerInfo  *CustomerDetails  `json:"customer_details"`
}

type CustomerDetails struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (p *CheckoutSessionPayload) Tier() PackageTier {
	return PackageTier(p.Metadata["package_tier"])
}

// PaymentIntentPayload carries the subset of a payment_intent.succeeded
// object the pipeline uses. The checkout session reference travels in
// metadata because the intent object itself does not link back to it.
type PaymentIntentPayload struct {
	IntentID string            `json:"id"`
	Amount   int64             `json:"amount"`
	Metadata map[string]string `json:"metadata"`
}

func (p *PaymentIntentPayload) SessionID() string {
	return p.Metadata["checkout_session_id"]
}

// AccountPayload is the merchant onboarding state from account.updated.
type AccountPayload struct {
	AccountID        string `json:"id"`
	ChargesEnabled   bool   `json:"charges_enabled"`
	PayoutsEnabled   bool   `json:"payouts_enabled"`
	DetailsSubmitted bool   `json:"details_submitted"`
}

func (e *Event) DecodeCheckoutSession() (*CheckoutSessionPayload, error) {
	var p CheckoutSessionPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (e *Event) DecodePaymentIntent() (*PaymentIntentPayload, error) {
	var p PaymentIntentPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (e *Event) DecodeAccount() (*AccountPayload, error) {
	var p AccountPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

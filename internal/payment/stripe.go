package payment

import (
	"context"
	"fmt"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"storefront/internal/domain"
)

// CheckoutSession is the provider-neutral view of a checkout session the
// pipeline needs.
type CheckoutSession struct {
	ID            string
	URL           string
	CustomerEmail string
	CustomerName  string
	AmountTotal   int64
	Tier          domain.PackageTier
	Metadata      map[string]string
}

type CheckoutParams struct {
	Tier          domain.PackageTier
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
}

// SessionClient abstracts the payment provider for the checkout endpoint and
// for enriching sparse webhook payloads.
type SessionClient interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	RetrieveSession(ctx context.Context, id string) (*CheckoutSession, error)
}

// Package prices in cents, keyed by tier.
var tierAmounts = map[domain.PackageTier]int64{
	domain.TierLite:    99700,
	domain.TierGrowth:  299700,
	domain.TierPartner: 799700,
}

var tierNames = map[domain.PackageTier]string{
	domain.TierLite:    "Lite Consulting Package",
	domain.TierGrowth:  "Growth Consulting Package",
	domain.TierPartner: "Partner Consulting Package",
}

func TierAmount(tier domain.PackageTier) (int64, bool) {
	amount, ok := tierAmounts[tier]
	return amount, ok
}

type stripeClient struct {
	api *client.API
}

func NewStripeClient(secretKey string) SessionClient {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &stripeClient{api: api}
}

func (c *stripeClient) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	amount, ok := tierAmounts[params.Tier]
	if !ok {
		return nil, fmt.Errorf("unknown package tier %q", params.Tier)
	}

	sessionParams := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(string(stripe.CurrencyUSD)),
					UnitAmount: stripe.Int64(amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(tierNames[params.Tier]),
					},
				},
			},
		},
	}
	if params.CustomerEmail != "" {
		sessionParams.CustomerEmail = stripe.String(params.CustomerEmail)
	}
	sessionParams.Context = ctx
	// The tier rides in session metadata so webhook handlers can recover it
	// without a second lookup.
	sessionParams.AddMetadata("package_tier", string(params.Tier))

	s, err := c.api.CheckoutSessions.New(sessionParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return fromStripeSession(s), nil
}

func (c *stripeClient) RetrieveSession(ctx context.Context, id string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := c.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve checkout session %s: %w", id, err)
	}
	return fromStripeSession(s), nil
}

func fromStripeSession(s *stripe.CheckoutSession) *CheckoutSession {
	session := &CheckoutSession{
		ID:          s.ID,
		URL:         s.URL,
		AmountTotal: s.AmountTotal,
		Metadata:    s.Metadata,
		Tier:        domain.PackageTier(s.Metadata["package_tier"]),
	}
	if s.CustomerDetails != nil {
		session.CustomerEmail = s.CustomerDetails.Email
		session.CustomerName = s.CustomerDetails.Name
	}
	return session
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"storefront/internal/domain"
)

var ErrNotConfigured = errors.New("email delivery is not configured")

const (
	DeliverableKickoff     = "kickoff_email"
	DeliverableAdminNotice = "admin_notice"
)

// Client sends transactional email through an HTTP JSON API.
type Client struct {
	httpClient *http.Client
	apiURL     string
	apiKey     string
	from       string
	adminEmail string
	logger     *zap.Logger
}

func NewClient(apiURL, apiKey, from, adminEmail string, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiURL:     apiURL,
		apiKey:     apiKey,
		from:       from,
		adminEmail: adminEmail,
		logger:     logger,
	}
}

type emailRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// Send dispatches one deliverable for the order. Callers are responsible for
// idempotency; Send itself always fires.
func (c *Client) Send(ctx context.Context, deliverable string, order *domain.Order) error {
	if c.apiKey == "" {
		return ErrNotConfigured
	}

	var req emailRequest
	switch deliverable {
	case DeliverableKickoff:
		if order.CustomerEmail == "" {
			return fmt.Errorf("order %s has no customer email", order.ID)
		}
		req = emailRequest{
			From:    c.from,
			To:      order.CustomerEmail,
			Subject: fmt.Sprintf("Welcome aboard — your %s engagement is confirmed", order.Tier),
			Text:    kickoffBody(order),
		}
	case DeliverableAdminNotice:
		if c.adminEmail == "" {
			return ErrNotConfigured
		}
		req = emailRequest{
			From:    c.from,
			To:      c.adminEmail,
			Subject: fmt.Sprintf("New %s order paid (%s)", order.Tier, order.SessionID),
			Text:    adminBody(order),
		}
	default:
		return fmt.Errorf("unknown deliverable %q", deliverable)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal email request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build email request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("email API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("email API returned %d: %s", resp.StatusCode, string(detail))
	}

	c.logger.Info("Email sent",
		zap.String("deliverable", deliverable),
		zap.String("order_id", order.ID),
	)
	return nil
}

func kickoffBody(order *domain.Order) string {
	name := order.CustomerName
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf(
		"Hi %s,\n\nThanks for your purchase of the %s package. "+
			"Your kickoff materials are on their way and we'll reach out within one business day to schedule your first session.\n\n"+
			"Order reference: %s\n",
		name, order.Tier, order.SessionID,
	)
}

func adminBody(order *domain.Order) string {
	return fmt.Sprintf(
		"A new order was paid.\n\nSession: %s\nCustomer: %s <%s>\nPackage: %s\nAmount: %d\n",
		order.SessionID, order.CustomerName, order.CustomerEmail, order.Tier, order.AmountTotal,
	)
}

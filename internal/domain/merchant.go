package domain

import "time"

// Merchant tracks KYC/onboarding state reported by account.updated events.
type Merchant struct {
	AccountID        string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
	UpdatedAt        time.Time
}
